package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/Akinlua/autods/internal/model"
)

// MessageRepository 买家消息仓储接口
type MessageRepository interface {
	Create(ctx context.Context, msg *model.Message) error

	// FindByMessageID 按 eBay 消息 ID 查询，未找到返回 (nil, nil)
	FindByMessageID(ctx context.Context, messageID string) (*model.Message, error)

	// MarkResponded 记录自动回复内容
	MarkResponded(ctx context.Context, messageID, response string) error

	// MarkEscalated 标记消息待人工处理
	MarkEscalated(ctx context.Context, messageID, reason string) error
}

type messageRepo struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepo{db: db}
}

func (r *messageRepo) Create(ctx context.Context, msg *model.Message) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

func (r *messageRepo) FindByMessageID(ctx context.Context, messageID string) (*model.Message, error) {
	var msg model.Message
	err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepo) MarkResponded(ctx context.Context, messageID, response string) error {
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&model.Message{}).
		Where("message_id = ?", messageID).
		Updates(map[string]interface{}{
			"responded":    true,
			"responded_at": &now,
			"response":     response,
		}).Error
}

func (r *messageRepo) MarkEscalated(ctx context.Context, messageID, reason string) error {
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&model.Message{}).
		Where("message_id = ?", messageID).
		Updates(map[string]interface{}{
			"escalated":         true,
			"escalated_at":      &now,
			"escalation_reason": reason,
		}).Error
}
