package service

import (
	"context"
	"errors"
	"testing"
	"time"
)

// ==================== Bearer 截获过滤 ====================

func TestBearerForHost(t *testing.T) {
	const apiHost = "v2-api.autods.com"

	tests := []struct {
		name      string
		rawURL    string
		header    string
		wantToken string
		wantOK    bool
	}{
		{
			name:      "API 主机的 Bearer 请求被截获",
			rawURL:    "https://v2-api.autods.com/products?limit=100",
			header:    "Bearer api-token",
			wantToken: "api-token",
			wantOK:    true,
		},
		{
			name:      "同根域的网关子域也放行",
			rawURL:    "https://gw.autods.com/auth/session",
			header:    "Bearer gateway-token",
			wantToken: "gateway-token",
			wantOK:    true,
		},
		{
			name:   "第三方统计域名的 Bearer 被忽略",
			rawURL: "https://api.analytics-vendor.com/track",
			header: "Bearer analytics-token",
			wantOK: false,
		},
		{
			name:   "非 Bearer 的 Authorization 头被忽略",
			rawURL: "https://v2-api.autods.com/products",
			header: "Basic dXNlcjpwYXNz",
			wantOK: false,
		},
		{
			name:   "解析不了的 URL 被忽略",
			rawURL: "://bad-url",
			header: "Bearer broken",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, ok := bearerForHost(apiHost, tt.rawURL, tt.header)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, 期望 %v", ok, tt.wantOK)
			}
			if token != tt.wantToken {
				t.Errorf("token = %q, 期望 %q", token, tt.wantToken)
			}
		})
	}
}

func TestRootDomain(t *testing.T) {
	if got := rootDomain("v2-api.autods.com"); got != "autods.com" {
		t.Errorf("rootDomain = %q, 期望 autods.com", got)
	}
	if got := rootDomain("autods.com"); got != "autods.com" {
		t.Errorf("rootDomain = %q, 期望原样返回", got)
	}
}

// ==================== 截获超时 ====================

func TestAwaitHarvest_TimeoutIsAuthTimeout(t *testing.T) {
	tokenCh := make(chan string)

	_, err := awaitHarvest(context.Background(), tokenCh, 20*time.Millisecond)
	if !errors.Is(err, ErrAuthTimeout) {
		t.Errorf("err = %v, 期望 ErrAuthTimeout", err)
	}
}

func TestAwaitHarvest_DeliversToken(t *testing.T) {
	tokenCh := make(chan string, 1)
	tokenCh <- "harvested-token"

	token, err := awaitHarvest(context.Background(), tokenCh, time.Second)
	if err != nil {
		t.Fatalf("awaitHarvest() error = %v", err)
	}
	if token != "harvested-token" {
		t.Errorf("token = %q, 期望 harvested-token", token)
	}
}

func TestAwaitHarvest_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := awaitHarvest(ctx, make(chan string), time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, 期望 context.Canceled", err)
	}
}
