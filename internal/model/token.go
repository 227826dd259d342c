package model

import (
	"time"

	"github.com/lib/pq"
)

// 外部服务标识
const (
	ServiceEbay   = "ebay"
	ServiceAutoDS = "autods"
)

// Token 一套外部服务凭证
// 同一 service 任意时刻最多一条 active=true 记录；
// 新 Token 入库时先将旧记录全部置为 inactive（两步操作，非事务，
// 读取方必须容忍多条 active 并取最新一条）
type Token struct {
	BaseModel
	Service      string         `gorm:"size:20;index:idx_service_active;not null"` // ebay / autods
	AccessToken  string         `gorm:"type:text;not null"`
	RefreshToken string         `gorm:"type:text"` // 凭证截获类 Token 没有 refresh token
	ExpiresAt    time.Time      `gorm:"not null"`
	Scopes       pq.StringArray `gorm:"type:text[]"`
	Active       bool           `gorm:"index:idx_service_active;default:true"`
}

func (Token) TableName() string {
	return "tokens"
}

// HasRefreshToken 是否可走刷新链路
func (t *Token) HasRefreshToken() bool {
	return t.RefreshToken != ""
}

// ValidFor 检查 Token 在 margin 安全余量内是否仍然有效
func (t *Token) ValidFor(margin time.Duration) bool {
	return t.AccessToken != "" && time.Until(t.ExpiresAt) > margin
}

// PendingAuth 授权回调落库的一次性授权码
// 回调端点与等待授权的进程可能不在同一网络环境，
// 因此回调只负责写入本表，等待方按 state 轮询认领。
// 认领（processed=true）必须先于换取，防止同一个 code 被重复使用。
type PendingAuth struct {
	BaseModel
	Service           string `gorm:"size:20;index;not null"`
	AuthorizationCode string `gorm:"type:text;not null"`
	State             string `gorm:"size:64;index"`
	Processed         bool   `gorm:"default:false"`
}

func (PendingAuth) TableName() string {
	return "pending_auths"
}

// PendingAuthTTL 授权码有效期，授权码本身是一次性短时凭证，过期记录由清理任务删除
const PendingAuthTTL = time.Hour
