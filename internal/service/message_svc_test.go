package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Akinlua/autods/internal/repository"
)

func newTestMessageHandler(t *testing.T, channel ChannelClient) (*MessageHandler, repository.MessageRepository) {
	db := setupServiceTestDB(t)
	messageRepo := repository.NewMessageRepository(db)
	h := NewMessageHandler(channel, messageRepo,
		[]string{"refund", "broken", "damaged", "complaint", "return"})
	h.wait = func(ctx context.Context, d time.Duration) error { return nil }
	return h, messageRepo
}

// ==================== 模板选择 ====================

func TestGenerateResponse_TemplateSelection(t *testing.T) {
	h, _ := newTestMessageHandler(t, &mockChannel{})

	cases := []struct {
		text     string
		wantPart string
	}{
		{"When will you ship my item?", "about shipping"},
		{"Any tracking number yet?", "about shipping"},
		{"What is the status of my order?", "order status"},
		{"Can you share the dimensions?", "product specifications"},
		{"Just saying hi", "customer service team"},
	}

	for _, c := range cases {
		got := h.GenerateResponse(c.text)
		if !strings.Contains(got, c.wantPart) {
			t.Errorf("GenerateResponse(%q) 未包含 %q", c.text, c.wantPart)
		}
	}
}

// ==================== 升级判定 ====================

func TestProcessMessages_EscalationSkipsAutoReply(t *testing.T) {
	replied := []string{}
	channel := &mockChannel{
		getMessagesFn: func(ctx context.Context, since time.Time) ([]BuyerMessage, error) {
			return []BuyerMessage{
				{MessageID: "m-1", Sender: "buyer1", ItemID: "item-1", Text: "I want a refund, item is broken", ReceivedAt: time.Now()},
				{MessageID: "m-2", Sender: "buyer2", ItemID: "item-2", Text: "When will you ship?", ReceivedAt: time.Now()},
			}, nil
		},
		replyToMessageFn: func(ctx context.Context, itemID, content string) error {
			replied = append(replied, itemID)
			return nil
		},
	}
	h, messageRepo := newTestMessageHandler(t, channel)

	if err := h.ProcessMessages(context.Background()); err != nil {
		t.Fatalf("ProcessMessages() error = %v", err)
	}

	// 命中升级关键词的不自动回
	if len(replied) != 1 || replied[0] != "item-2" {
		t.Errorf("replied = %v, 期望只回复 item-2", replied)
	}

	escalated, err := messageRepo.FindByMessageID(context.Background(), "m-1")
	if err != nil || escalated == nil {
		t.Fatalf("查询升级消息失败: %v", err)
	}
	if !escalated.Escalated || escalated.Responded {
		t.Errorf("m-1 escalated=%v responded=%v, 期望转人工且未回复", escalated.Escalated, escalated.Responded)
	}

	answered, err := messageRepo.FindByMessageID(context.Background(), "m-2")
	if err != nil || answered == nil {
		t.Fatalf("查询已回复消息失败: %v", err)
	}
	if !answered.Responded || answered.Response == "" {
		t.Errorf("m-2 responded=%v, 期望已记录自动回复", answered.Responded)
	}
}

// ==================== 幂等 ====================

func TestProcessMessages_SkipsAlreadyResponded(t *testing.T) {
	replies := 0
	channel := &mockChannel{
		getMessagesFn: func(ctx context.Context, since time.Time) ([]BuyerMessage, error) {
			return []BuyerMessage{
				{MessageID: "m-1", Sender: "buyer1", ItemID: "item-1", Text: "where is my purchase", ReceivedAt: time.Now()},
			}, nil
		},
		replyToMessageFn: func(ctx context.Context, itemID, content string) error {
			replies++
			return nil
		},
	}
	h, _ := newTestMessageHandler(t, channel)

	// 同一条消息被拉到两次，只回一次
	if err := h.ProcessMessages(context.Background()); err != nil {
		t.Fatalf("第一轮 ProcessMessages() error = %v", err)
	}
	if err := h.ProcessMessages(context.Background()); err != nil {
		t.Fatalf("第二轮 ProcessMessages() error = %v", err)
	}

	if replies != 1 {
		t.Errorf("回复次数 = %d, 期望 1", replies)
	}
}

// ==================== 回复失败转人工 ====================

func TestProcessMessages_ReplyFailureEscalates(t *testing.T) {
	channel := &mockChannel{
		getMessagesFn: func(ctx context.Context, since time.Time) ([]BuyerMessage, error) {
			return []BuyerMessage{
				{MessageID: "m-1", Sender: "buyer1", ItemID: "item-1", Text: "shipping question", ReceivedAt: time.Now()},
			}, nil
		},
		replyToMessageFn: func(ctx context.Context, itemID, content string) error {
			return errors.New("接口超时")
		},
	}
	h, messageRepo := newTestMessageHandler(t, channel)

	if err := h.ProcessMessages(context.Background()); err != nil {
		t.Fatalf("ProcessMessages() error = %v", err)
	}

	got, err := messageRepo.FindByMessageID(context.Background(), "m-1")
	if err != nil || got == nil {
		t.Fatalf("查询消息失败: %v", err)
	}
	if !got.Escalated {
		t.Error("回复失败的消息应转人工")
	}
	if !strings.Contains(got.EscalationReason, "reply failed") {
		t.Errorf("EscalationReason = %q, 期望包含失败原因", got.EscalationReason)
	}
}
