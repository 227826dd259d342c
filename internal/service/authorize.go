package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Akinlua/autods/internal/config"
	"github.com/Akinlua/autods/internal/model"
)

// ==================== 具体授权实现 ====================

// NewEbayAuthorizeFunc 组装 eBay 的授权实现：
// 配了账号密码就用浏览器自动走完同意页，否则输出链接等人工完成；
// 两条路最终都走回调落库 + 轮询领码换 Token。
func NewEbayAuthorizeFunc(m *TokenManager, browser *BrowserAutomation, cfg config.EbayConfig) AuthorizeFunc {
	return func(ctx context.Context, state string) (*model.Token, error) {
		if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RuName == "" {
			return nil, fmt.Errorf("%w: 缺少 eBay client 配置", ErrAuthConfig)
		}

		consentURL := m.ConsentURL(state)
		if cfg.Username != "" && cfg.Password != "" {
			go func() {
				if err := browser.CompleteConsent(ctx, consentURL, cfg.Username, cfg.Password); err != nil {
					log.Printf("[Auth] eBay 浏览器自动授权失败，可人工打开链接完成: %v", err)
					log.Printf("[Auth] 授权链接: %s", consentURL)
				}
			}()
		} else {
			log.Printf("[Auth] 未配置 eBay 账号，请人工打开链接完成授权: %s", consentURL)
		}

		return m.PollAuthorizationCode(ctx, state)
	}
}

// NewAutoDSAuthorizeFunc 组装 AutoDS 的授权实现：
// 没有标准 OAuth 流程，直接登录网页端截获 Bearer Token。
// 截到的 Token 没有 refresh_token，过期只能重新截获。
func NewAutoDSAuthorizeFunc(browser *BrowserAutomation, cfg config.AutoDSConfig) AuthorizeFunc {
	return func(ctx context.Context, state string) (*model.Token, error) {
		if cfg.Username == "" || cfg.Password == "" {
			return nil, fmt.Errorf("%w: 缺少 AutoDS 账号配置", ErrAuthConfig)
		}

		accessToken, err := browser.HarvestBearer(ctx, cfg.LoginURL, cfg.APIURL, cfg.Username, cfg.Password)
		if err != nil {
			return nil, err
		}

		return &model.Token{
			Service:     model.ServiceAutoDS,
			AccessToken: accessToken,
			ExpiresAt:   time.Now().Add(cfg.TokenTTL),
			Active:      true,
		}, nil
	}
}
