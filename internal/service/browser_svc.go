package service

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// ==================== 浏览器自动化 ====================

// BrowserAutomation 用无头浏览器完成两类凭证获取：
// 1. 驱动 eBay 登录页走完 OAuth 同意流程
// 2. 登录 AutoDS 网页端，从其 API 请求里截获 Bearer Token
type BrowserAutomation struct {
	headless bool
}

func NewBrowserAutomation(headless bool) *BrowserAutomation {
	return &BrowserAutomation{headless: headless}
}

// newBrowserContext 建浏览器上下文，调用方负责 cancel
func (b *BrowserAutomation) newBrowserContext(parent context.Context) (context.Context, context.CancelFunc) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.WindowSize(1280, 900),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent, opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	cancel := func() {
		cancelBrowser()
		cancelAlloc()
	}
	return browserCtx, cancel
}

// CompleteConsent 打开同意页并自动完成 eBay 登录。
// eBay 登录分两步：先输用户名点继续，再输密码提交，
// 部分账号之后还有一个确认授权按钮。
// 授权码由 eBay 回调到本服务的 callback 接口落库，这里只负责点完流程。
func (b *BrowserAutomation) CompleteConsent(ctx context.Context, consentURL, username, password string) error {
	browserCtx, cancel := b.newBrowserContext(ctx)
	defer cancel()

	log.Println("[Browser] 打开 eBay 授权同意页")
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(consentURL),
		chromedp.WaitVisible(`input#userid`, chromedp.ByQuery),
		chromedp.SendKeys(`input#userid`, username, chromedp.ByQuery),
		chromedp.Click(`button#signin-continue-btn`, chromedp.ByQuery),
		chromedp.WaitVisible(`input#pass`, chromedp.ByQuery),
		chromedp.SendKeys(`input#pass`, password, chromedp.ByQuery),
		chromedp.Click(`button#sgnBt`, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("eBay 登录自动化失败: %w", err)
	}

	// 同意授权按钮不一定出现（已授权过的账号直接跳回调），
	// 出现就点，没出现不算失败
	agreeCtx, cancelAgree := context.WithTimeout(browserCtx, 10*time.Second)
	defer cancelAgree()
	if err := chromedp.Run(agreeCtx,
		chromedp.WaitVisible(`#submit`, chromedp.ByQuery),
		chromedp.Click(`#submit`, chromedp.ByQuery),
	); err != nil {
		log.Println("[Browser] 未出现同意授权按钮，视为已授权")
	}

	// 等回调跳转落地
	settleCtx, cancelSettle := context.WithTimeout(browserCtx, 15*time.Second)
	defer cancelSettle()
	_ = chromedp.Run(settleCtx, chromedp.Sleep(5*time.Second))

	log.Println("[Browser] eBay 授权流程已点完，等待回调落库")
	return nil
}

// bearerForHost 从单个请求里提取 Bearer Token，
// 仅接受发往 AutoDS API 主机的请求，页面上第三方脚本
//（统计、客服组件）带的 Bearer 头一律忽略。
// AutoDS 的网关子域会变（v2-api / gw 等），所以按同根域名放行。
func bearerForHost(apiHost, rawURL, authHeader string) (string, bool) {
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	reqHost := u.Hostname()
	if !strings.EqualFold(reqHost, apiHost) &&
		!strings.EqualFold(rootDomain(reqHost), rootDomain(apiHost)) {
		return "", false
	}
	return strings.TrimPrefix(authHeader, "Bearer "), true
}

// rootDomain 取主机名最后两段，如 v2-api.autods.com -> autods.com
func rootDomain(host string) string {
	parts := strings.Split(host, ".")
	if len(parts) <= 2 {
		return host
	}
	return strings.Join(parts[len(parts)-2:], ".")
}

// HarvestBearer 登录 AutoDS 网页端并监听其发出的 API 请求，
// 截获第一个发往 apiURL 主机且带 Bearer 头的请求里的 Token。
// 必须在导航之前开启网络事件监听，否则登录后的首批请求会漏掉。
func (b *BrowserAutomation) HarvestBearer(ctx context.Context, loginURL, apiURL, username, password string) (string, error) {
	browserCtx, cancel := b.newBrowserContext(ctx)
	defer cancel()

	apiHost := apiURL
	if u, err := url.Parse(apiURL); err == nil && u.Hostname() != "" {
		apiHost = u.Hostname()
	}

	tokenCh := make(chan string, 1)
	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		req, ok := ev.(*network.EventRequestWillBeSent)
		if !ok {
			return
		}
		auth, ok := req.Request.Headers["Authorization"].(string)
		if !ok {
			return
		}
		if token, ok := bearerForHost(apiHost, req.Request.URL, auth); ok {
			select {
			case tokenCh <- token:
			default:
			}
		}
	})

	log.Println("[Browser] 打开 AutoDS 登录页")
	err := chromedp.Run(browserCtx,
		network.Enable(),
		chromedp.Navigate(loginURL),
		chromedp.WaitVisible(`input[type="email"]`, chromedp.ByQuery),
		chromedp.SendKeys(`input[type="email"]`, username, chromedp.ByQuery),
		chromedp.SendKeys(`input[type="password"]`, password, chromedp.ByQuery),
		chromedp.Click(`button[type="submit"]`, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("AutoDS 登录自动化失败: %w", err)
	}

	// 登录后客户端会立刻请求后端接口，从中截获 Token
	token, err := awaitHarvest(browserCtx, tokenCh, 45*time.Second)
	if err != nil {
		return "", err
	}
	log.Println("[Browser] 已从请求头截获 AutoDS Bearer Token")
	return token, nil
}

// awaitHarvest 等截获结果落到 tokenCh，限时未截到按授权超时处理
func awaitHarvest(ctx context.Context, tokenCh <-chan string, timeout time.Duration) (string, error) {
	select {
	case token := <-tokenCh:
		return token, nil
	case <-time.After(timeout):
		return "", fmt.Errorf("登录后 %v 内未截获到 Bearer Token: %w", timeout, ErrAuthTimeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
