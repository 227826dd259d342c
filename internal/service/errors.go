package service

import "errors"

// ==================== 业务错误 ====================

var (
	// ErrAuthTimeout 授权流程超时，等待窗口内没有拿到授权码
	ErrAuthTimeout = errors.New("authorization flow timed out")

	// ErrAuthConfig 缺少授权所需配置（client id、凭证等）
	ErrAuthConfig = errors.New("authorization configuration incomplete")

	// ErrUnauthorized 上游接口返回 401，Token 已失效
	ErrUnauthorized = errors.New("unauthorized")
)
