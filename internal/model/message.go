package model

import "time"

// Message 一条买家消息的处理记录
type Message struct {
	BaseModel
	MessageID     string    `gorm:"size:64;uniqueIndex;not null"` // eBay 侧消息 ID
	BuyerUsername string    `gorm:"size:128"`
	Subject       string    `gorm:"size:255"`
	Content       string    `gorm:"type:text"`
	ReceivedAt    time.Time `gorm:"not null"`

	Responded   bool `gorm:"default:false"`
	RespondedAt *time.Time
	Response    string `gorm:"type:text"`

	// 命中升级关键词的消息只做标记，等待人工处理
	Escalated        bool `gorm:"default:false"`
	EscalatedAt      *time.Time
	EscalationReason string `gorm:"size:255"`
}

func (Message) TableName() string {
	return "messages"
}
