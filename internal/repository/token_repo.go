package repository

import (
	"context"
	"errors"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/Akinlua/autods/internal/model"
)

// ==================== 仓储接口 ====================

// TokenRepository Token 仓储接口
type TokenRepository interface {
	// FindLatestActive 取该服务最新的 active 记录
	// 去激活与插入两步之间崩溃可能残留多条 active，这里始终按创建时间取最新
	FindLatestActive(ctx context.Context, service string) (*model.Token, error)

	// Rotate 写入新 Token：先将该服务的所有 active 记录置为 inactive，再插入新记录
	// 两步操作非事务，调用方需容忍短暂的不一致窗口
	Rotate(ctx context.Context, token *model.Token) error
}

// PendingAuthRepository 待处理授权码仓储接口
type PendingAuthRepository interface {
	Create(ctx context.Context, pa *model.PendingAuth) error

	// ClaimNext 认领最早一条匹配 state 的未处理授权码
	// 认领即置 processed=true，保证同一 code 不会被兑换两次；没有匹配记录时返回 (nil, nil)
	ClaimNext(ctx context.Context, service, state string) (*model.PendingAuth, error)

	// DeleteExpired 清理 before 之前创建的记录（授权码短时一次性，过期即废）
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// ==================== Token 仓储实现 ====================

type tokenRepo struct {
	db *gorm.DB
}

func NewTokenRepository(db *gorm.DB) TokenRepository {
	return &tokenRepo{db: db}
}

func (r *tokenRepo) FindLatestActive(ctx context.Context, service string) (*model.Token, error) {
	var token model.Token
	err := r.db.WithContext(ctx).
		Where("service = ? AND active = ?", service, true).
		Order("created_at DESC").
		First(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (r *tokenRepo) Rotate(ctx context.Context, token *model.Token) error {
	// 1. 去激活旧记录
	if err := r.db.WithContext(ctx).
		Model(&model.Token{}).
		Where("service = ? AND active = ?", token.Service, true).
		Update("active", false).Error; err != nil {
		// 去激活失败不阻断插入，读取方按最新时间消歧
		log.Printf("[TokenRepo] 旧 Token 去激活失败: %v", err)
	}

	// 2. 插入新记录
	token.Active = true
	return r.db.WithContext(ctx).Create(token).Error
}

// ==================== PendingAuth 仓储实现 ====================

type pendingAuthRepo struct {
	db *gorm.DB
}

func NewPendingAuthRepository(db *gorm.DB) PendingAuthRepository {
	return &pendingAuthRepo{db: db}
}

func (r *pendingAuthRepo) Create(ctx context.Context, pa *model.PendingAuth) error {
	return r.db.WithContext(ctx).Create(pa).Error
}

func (r *pendingAuthRepo) ClaimNext(ctx context.Context, service, state string) (*model.PendingAuth, error) {
	var pa model.PendingAuth
	cutoff := time.Now().Add(-model.PendingAuthTTL)

	err := r.db.WithContext(ctx).
		Where("service = ? AND state = ? AND processed = ? AND created_at > ?", service, state, false, cutoff).
		Order("created_at ASC").
		First(&pa).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// 先认领再返回，防止并发消费者重复兑换
	res := r.db.WithContext(ctx).
		Model(&model.PendingAuth{}).
		Where("id = ? AND processed = ?", pa.ID, false).
		Update("processed", true)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// 被其他消费者抢先认领
		return nil, nil
	}

	pa.Processed = true
	return &pa, nil
}

func (r *pendingAuthRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Unscoped().
		Where("created_at < ?", before).
		Delete(&model.PendingAuth{})
	return res.RowsAffected, res.Error
}
