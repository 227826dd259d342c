package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Akinlua/autods/internal/model"
	"github.com/Akinlua/autods/internal/repository"
	"github.com/Akinlua/autods/pkg/utils"
)

// 判定 Token 可用的剩余有效期下限
const tokenExpiryMargin = 5 * time.Minute

// 整个授权流程（发起到拿回 Token）的等待上限
const defaultFlowTimeout = 5 * time.Minute

// 轮询待处理授权码的间隔
const pendingAuthPollInterval = 15 * time.Second

// AuthorizeFunc 发起一次授权。实现方负责把拿到的授权码
// 写进 pending_auths 表（或直接换好 Token 返回）。
// state 用于回调页关联到本次授权。
type AuthorizeFunc func(ctx context.Context, state string) (*model.Token, error)

// tokenEndpointResponse OAuth Token 端点响应
type tokenEndpointResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Error        string `json:"error"`
	ErrorDesc    string `json:"error_description"`
}

// authAttempt 一次进行中的授权流程。
// 并发调用方共享同一个 attempt，等它的 done 关闭后统一取结果。
type authAttempt struct {
	state string
	done  chan struct{}
	token *model.Token
	err   error
}

// ==================== TokenManager ====================

// TokenManager 管理单个服务的 OAuth Token 生命周期：
// 缓存、刷新、失效后重新授权，并把并发请求合并到一次流程。
type TokenManager struct {
	service     string
	tokenRepo   repository.TokenRepository
	pendingRepo repository.PendingAuthRepository
	client      *resty.Client

	ebayCfg     EbayOAuthConfig
	authorize   AuthorizeFunc
	flowTimeout time.Duration

	mu         sync.Mutex
	cached     *model.Token
	attempt    *authAttempt
	refreshing *authAttempt
}

// EbayOAuthConfig eBay OAuth 所需的端点和凭证
type EbayOAuthConfig struct {
	AuthURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	RuName       string
	Scopes       []string
}

// NewTokenManager 创建 Token 管理器。
// authorize 为空时调用 GetValidToken 在需要重新授权时直接报错。
func NewTokenManager(service string, tokenRepo repository.TokenRepository, pendingRepo repository.PendingAuthRepository, ebayCfg EbayOAuthConfig, authorize AuthorizeFunc) *TokenManager {
	return &TokenManager{
		service:     service,
		tokenRepo:   tokenRepo,
		pendingRepo: pendingRepo,
		client:      resty.New().SetTimeout(30 * time.Second),
		ebayCfg:     ebayCfg,
		authorize:   authorize,
		flowTimeout: defaultFlowTimeout,
	}
}

// SetAuthorizeFunc 注入授权实现（构造后再绑定，打断依赖环）
func (m *TokenManager) SetAuthorizeFunc(fn AuthorizeFunc) {
	m.authorize = fn
}

// SetFlowTimeout 调整授权流程等待上限（测试用）
func (m *TokenManager) SetFlowTimeout(d time.Duration) {
	m.flowTimeout = d
}

// GetValidToken 返回一个剩余有效期超过安全余量的 Token。
// 顺序：内存缓存 -> 数据库 -> 刷新 -> 重新授权。
// 并发调用在需要授权时共享同一次流程。
func (m *TokenManager) GetValidToken(ctx context.Context) (*model.Token, error) {
	m.mu.Lock()

	// 1. 内存缓存
	if m.cached != nil && m.cached.ValidFor(tokenExpiryMargin) {
		t := m.cached
		m.mu.Unlock()
		return t, nil
	}

	// 已有授权流程在跑，直接排队等结果
	if m.attempt != nil {
		a := m.attempt
		m.mu.Unlock()
		return m.await(ctx, a)
	}
	m.mu.Unlock()

	// 2. 数据库里的最新有效 Token
	stored, err := m.tokenRepo.FindLatestActive(ctx, m.service)
	if err != nil {
		return nil, fmt.Errorf("查询 Token 失败: %w", err)
	}
	if stored != nil && stored.ValidFor(tokenExpiryMargin) {
		m.mu.Lock()
		m.cached = stored
		m.mu.Unlock()
		return stored, nil
	}

	// 3. 有刷新令牌先尝试刷新，失败降级到重新授权
	if stored != nil && stored.HasRefreshToken() {
		refreshed, err := m.refreshShared(ctx, stored)
		if err == nil {
			return refreshed, nil
		}
		log.Printf("[Token] 服务 [%s] 刷新失败，转重新授权: %v", m.service, err)
	}

	// 4. 重新授权
	return m.awaitAuthorization(ctx)
}

// Invalidate 丢弃缓存 Token。接口返回 401 后调用，
// 下一次 GetValidToken 会走完整取 Token 流程。
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	m.cached = nil
	m.mu.Unlock()
	log.Printf("[Token] 服务 [%s] 缓存 Token 已作废", m.service)
}

// refreshShared 把并发的刷新请求合并到一次端点调用，
// 后到的调用方排队等第一个的结果，避免同一个 refresh_token 被重复提交
func (m *TokenManager) refreshShared(ctx context.Context, stored *model.Token) (*model.Token, error) {
	m.mu.Lock()
	if m.refreshing != nil {
		a := m.refreshing
		m.mu.Unlock()
		return m.await(ctx, a)
	}
	a := &authAttempt{done: make(chan struct{})}
	m.refreshing = a
	m.mu.Unlock()

	token, err := m.refresh(ctx, stored)

	m.mu.Lock()
	m.refreshing = nil
	m.mu.Unlock()

	a.token = token
	a.err = err
	close(a.done)
	return token, err
}

// refresh 用 refresh_token 换新 Token 并持久化
func (m *TokenManager) refresh(ctx context.Context, stored *model.Token) (*model.Token, error) {
	if m.ebayCfg.ClientID == "" || m.ebayCfg.ClientSecret == "" {
		return nil, ErrAuthConfig
	}

	var body tokenEndpointResponse
	resp, err := m.client.R().
		SetContext(ctx).
		SetBasicAuth(m.ebayCfg.ClientID, m.ebayCfg.ClientSecret).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetFormData(map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": stored.RefreshToken,
			"scope":         strings.Join(m.ebayCfg.Scopes, " "),
		}).
		SetResult(&body).
		SetError(&body).
		Post(m.ebayCfg.TokenURL)
	if err != nil {
		return nil, fmt.Errorf("请求刷新端点失败: %w", err)
	}
	if resp.IsError() || body.AccessToken == "" {
		return nil, fmt.Errorf("刷新被拒绝 (%d): %s %s", resp.StatusCode(), body.Error, body.ErrorDesc)
	}

	token := &model.Token{
		Service:      m.service,
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(body.ExpiresIn) * time.Second),
		Scopes:       stored.Scopes,
		Active:       true,
	}
	// 刷新响应不带 refresh_token 时沿用旧的
	if token.RefreshToken == "" {
		token.RefreshToken = stored.RefreshToken
	}

	if err := m.tokenRepo.Rotate(ctx, token); err != nil {
		log.Printf("[Token] 服务 [%s] 刷新后持久化失败: %v", m.service, err)
	}

	m.mu.Lock()
	m.cached = token
	m.mu.Unlock()
	log.Printf("[Token] 服务 [%s] 刷新成功，有效期至 %s", m.service, token.ExpiresAt.Format(time.RFC3339))
	return token, nil
}

// ==================== 授权流程 ====================

// awaitAuthorization 加入（或发起）授权流程并等待结果
func (m *TokenManager) awaitAuthorization(ctx context.Context) (*model.Token, error) {
	a := m.ensureAttempt()
	return m.await(ctx, a)
}

// StartAuthorization 发起授权流程并返回同意页链接，
// 供管理接口输出给人工完成授权。已有流程在跑时复用其 state。
func (m *TokenManager) StartAuthorization() (string, error) {
	if m.ebayCfg.ClientID == "" || m.ebayCfg.RuName == "" {
		return "", ErrAuthConfig
	}
	a := m.ensureAttempt()
	return m.ConsentURL(a.state), nil
}

// ConsentURL 拼出带 state 的授权同意页地址
func (m *TokenManager) ConsentURL(state string) string {
	q := url.Values{}
	q.Set("client_id", m.ebayCfg.ClientID)
	q.Set("redirect_uri", m.ebayCfg.RuName)
	q.Set("response_type", "code")
	q.Set("scope", strings.Join(m.ebayCfg.Scopes, " "))
	q.Set("state", state)
	return m.ebayCfg.AuthURL + "?" + q.Encode()
}

// ensureAttempt 返回进行中的授权流程，没有则开一个
func (m *TokenManager) ensureAttempt() *authAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attempt != nil {
		return m.attempt
	}
	a := &authAttempt{
		state: utils.GenerateRandomString(32),
		done:  make(chan struct{}),
	}
	utils.RegisterState(a.state, m.service)
	m.attempt = a
	go m.runFlow(a)
	return a
}

// await 等待授权流程结束或调用方上下文取消
func (m *TokenManager) await(ctx context.Context, a *authAttempt) (*model.Token, error) {
	select {
	case <-a.done:
		return a.token, a.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// runFlow 执行一次完整授权：跑 authorize 实现，限时等结果，
// 成功后持久化，最后唤醒所有等待方。
func (m *TokenManager) runFlow(a *authAttempt) {
	log.Printf("[Token] 服务 [%s] 发起授权流程 state=%s", m.service, a.state)

	ctx, cancel := context.WithTimeout(context.Background(), m.flowTimeout)
	defer cancel()

	var token *model.Token
	var err error
	if m.authorize == nil {
		err = fmt.Errorf("%w: 未配置授权实现", ErrAuthConfig)
	} else {
		token, err = m.authorize(ctx, a.state)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = ErrAuthTimeout
	}

	if err == nil && token != nil {
		if perr := m.tokenRepo.Rotate(context.Background(), token); perr != nil {
			log.Printf("[Token] 服务 [%s] 授权成功但持久化失败: %v", m.service, perr)
		}
		log.Printf("[Token] 服务 [%s] 授权完成，有效期至 %s", m.service, token.ExpiresAt.Format(time.RFC3339))
	} else {
		log.Printf("[Token] 服务 [%s] 授权失败: %v", m.service, err)
	}

	m.mu.Lock()
	if err == nil {
		m.cached = token
	}
	m.attempt = nil
	m.mu.Unlock()
	utils.ReleaseState(a.state)

	a.token = token
	a.err = err
	close(a.done)
}

// ==================== 授权码处理 ====================

// PollAuthorizationCode 按固定间隔轮询待处理授权码，
// 领到后换取 Token。配合回调接口写入的 pending_auths 记录使用。
func (m *TokenManager) PollAuthorizationCode(ctx context.Context, state string) (*model.Token, error) {
	ticker := time.NewTicker(pendingAuthPollInterval)
	defer ticker.Stop()

	for {
		pending, err := m.pendingRepo.ClaimNext(ctx, m.service, state)
		if err != nil {
			log.Printf("[Token] 服务 [%s] 轮询授权码出错: %v", m.service, err)
		} else if pending != nil {
			log.Printf("[Token] 服务 [%s] 领到授权码，开始换取 Token", m.service)
			return m.ExchangeAuthorizationCode(ctx, pending.AuthorizationCode)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// ExchangeAuthorizationCode 用授权码换取 Token。授权码一次性，
// 换取失败不重试同一个码。
func (m *TokenManager) ExchangeAuthorizationCode(ctx context.Context, code string) (*model.Token, error) {
	if m.ebayCfg.ClientID == "" || m.ebayCfg.ClientSecret == "" {
		return nil, ErrAuthConfig
	}

	var body tokenEndpointResponse
	resp, err := m.client.R().
		SetContext(ctx).
		SetBasicAuth(m.ebayCfg.ClientID, m.ebayCfg.ClientSecret).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetFormData(map[string]string{
			"grant_type":   "authorization_code",
			"code":         code,
			"redirect_uri": m.ebayCfg.RuName,
		}).
		SetResult(&body).
		SetError(&body).
		Post(m.ebayCfg.TokenURL)
	if err != nil {
		return nil, fmt.Errorf("请求 Token 端点失败: %w", err)
	}
	if resp.IsError() || body.AccessToken == "" {
		return nil, fmt.Errorf("授权码换取被拒绝 (%d): %s %s", resp.StatusCode(), body.Error, body.ErrorDesc)
	}

	return &model.Token{
		Service:      m.service,
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(body.ExpiresIn) * time.Second),
		Scopes:       m.ebayCfg.Scopes,
		Active:       true,
	}, nil
}
