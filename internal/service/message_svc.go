package service

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/Akinlua/autods/internal/model"
	"github.com/Akinlua/autods/internal/repository"
)

// 逐条回复之间的间隔
const interMessageDelay = 500 * time.Millisecond

// 固定回复模板
var replyTemplates = map[string]string{
	"shipping": "Thank you for your message about shipping. Your order will be shipped within 2-3 business days. " +
		"Once shipped, you will receive a tracking number via eBay. Please allow 7-14 days for delivery depending on your location.",
	"orderStatus": "Thank you for inquiring about your order status. We've received your order and it's currently being processed. " +
		"If you have any specific questions about your order, please provide your order number and we'll be happy to provide more details.",
	"productDetails": "Thank you for your interest in our product. The item description includes all available information about the " +
		"product specifications, dimensions, and features. If you have a specific question that isn't covered in the description, " +
		"please let us know and we'll be happy to help.",
	"returns": "We accept returns within 30 days of receiving your item. To initiate a return, please go to your eBay purchase " +
		"history and select \"Return this item\". If you need any assistance with the return process, please let us know.",
	"general": "Thank you for your message. We appreciate your interest in our products. Our customer service team will review " +
		"your inquiry and get back to you within 24 hours if needed. Please let us know if you have any other questions!",
}

// MessageHandler 买家消息处理器：拉新消息、按关键词选模板自动回复，
// 命中升级关键词的不自动回，留给人工处理
type MessageHandler struct {
	channel            ChannelClient
	messageRepo        repository.MessageRepository
	escalationKeywords []string

	lastCheckTime time.Time

	// 测试注入点
	wait func(ctx context.Context, d time.Duration) error
}

func NewMessageHandler(channel ChannelClient, messageRepo repository.MessageRepository, escalationKeywords []string) *MessageHandler {
	return &MessageHandler{
		channel:            channel,
		messageRepo:        messageRepo,
		escalationKeywords: escalationKeywords,
		lastCheckTime:      time.Now().Add(-24 * time.Hour),
		wait:               sleepContext,
	}
}

// ProcessMessages 处理上次检查以来的新消息
func (h *MessageHandler) ProcessMessages(ctx context.Context) error {
	log.Printf("[Message] 检查 %s 之后的新消息", h.lastCheckTime.Format(time.RFC3339))

	messages, err := h.channel.GetMessages(ctx, h.lastCheckTime)
	if err != nil {
		return err
	}
	log.Printf("[Message] 收到 %d 条新消息", len(messages))
	h.lastCheckTime = time.Now()

	for _, m := range messages {
		if err := h.handleMessage(ctx, m); err != nil {
			log.Printf("[Message] 消息 [%s] 处理失败: %v", m.MessageID, err)
		}
		if err := h.wait(ctx, interMessageDelay); err != nil {
			return err
		}
	}
	return nil
}

// handleMessage 处理单条消息：去重、升级判定、自动回复、落库
func (h *MessageHandler) handleMessage(ctx context.Context, m BuyerMessage) error {
	existing, err := h.messageRepo.FindByMessageID(ctx, m.MessageID)
	if err != nil {
		return err
	}
	if existing != nil && existing.Responded {
		return nil
	}

	if existing == nil {
		record := &model.Message{
			MessageID:     m.MessageID,
			BuyerUsername: m.Sender,
			Subject:       m.Subject,
			Content:       m.Text,
			ReceivedAt:    m.ReceivedAt,
		}
		if err := h.messageRepo.Create(ctx, record); err != nil {
			return err
		}
	}

	if h.requiresEscalation(m.Text) {
		log.Printf("[Message] 消息 [%s] 命中升级关键词，转人工处理", m.MessageID)
		return h.messageRepo.MarkEscalated(ctx, m.MessageID, "escalation keyword matched")
	}

	response := h.GenerateResponse(m.Text)
	if err := h.channel.ReplyToMessage(ctx, m.ItemID, response); err != nil {
		// 回复失败也转人工，避免买家消息漏掉
		if merr := h.messageRepo.MarkEscalated(ctx, m.MessageID, "reply failed: "+err.Error()); merr != nil {
			log.Printf("[Message] 消息 [%s] 标记升级失败: %v", m.MessageID, merr)
		}
		return err
	}

	log.Printf("[Message] 消息 [%s] 已自动回复", m.MessageID)
	return h.messageRepo.MarkResponded(ctx, m.MessageID, response)
}

// requiresEscalation 判断消息是否命中升级关键词
func (h *MessageHandler) requiresEscalation(text string) bool {
	lower := strings.ToLower(text)
	for _, keyword := range h.escalationKeywords {
		if strings.Contains(lower, strings.ToLower(keyword)) {
			return true
		}
	}
	return false
}

// GenerateResponse 按消息内容里的关键词选回复模板
func (h *MessageHandler) GenerateResponse(text string) string {
	lower := strings.ToLower(text)

	switch {
	case containsAny(lower, "ship", "delivery", "tracking"):
		return replyTemplates["shipping"]
	case containsAny(lower, "order", "status", "purchase"):
		return replyTemplates["orderStatus"]
	case containsAny(lower, "spec", "dimension", "feature", "detail", "information"):
		return replyTemplates["productDetails"]
	case strings.Contains(lower, "return") && !h.requiresEscalation(lower):
		return replyTemplates["returns"]
	default:
		return replyTemplates["general"]
	}
}

func containsAny(text string, keywords ...string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
