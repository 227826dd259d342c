package service

import (
	"context"
	"encoding/xml"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// ==================== eBay 数据结构 ====================

// ChannelListing 渠道上的一条在售刊登
type ChannelListing struct {
	ItemID string
	SKU    string
	Title  string
}

// BuyerMessage 买家站内信
type BuyerMessage struct {
	MessageID  string
	Sender     string
	Subject    string
	Text       string
	ItemID     string
	ReceivedAt time.Time
	Read       bool
}

// ChannelClient 销售渠道操作接口
type ChannelClient interface {
	// GetSellerList 拉取全部在售刊登
	GetSellerList(ctx context.Context) ([]ChannelListing, error)
	// EndItem 结束一条刊登
	EndItem(ctx context.Context, itemID string) error
	// GetMessages 拉取某时间之后的买家消息
	GetMessages(ctx context.Context, since time.Time) ([]BuyerMessage, error)
	// ReplyToMessage 回复买家消息
	ReplyToMessage(ctx context.Context, itemID, content string) error
}

// ==================== Trading API XML 报文 ====================

type requesterCredentials struct {
	EBayAuthToken string `xml:"eBayAuthToken"`
}

type getMyMessagesRequest struct {
	XMLName     xml.Name             `xml:"GetMyMessagesRequest"`
	XMLNS       string               `xml:"xmlns,attr"`
	Credentials requesterCredentials `xml:"RequesterCredentials"`
	DetailLevel string               `xml:"DetailLevel"`
	StartTime   string               `xml:"StartTime"`
}

type getMyMessagesResponse struct {
	XMLName  xml.Name `xml:"GetMyMessagesResponse"`
	Ack      string   `xml:"Ack"`
	Messages struct {
		Message []struct {
			MessageID   string `xml:"MessageID"`
			Sender      string `xml:"Sender"`
			Subject     string `xml:"Subject"`
			Text        string `xml:"Text"`
			ItemID      string `xml:"ItemID"`
			ReceiveDate string `xml:"ReceiveDate"`
			Read        bool   `xml:"Read"`
		} `xml:"Message"`
	} `xml:"Messages"`
	Errors []tradingAPIError `xml:"Errors"`
}

type memberMessage struct {
	Subject      string `xml:"Subject"`
	Body         string `xml:"Body"`
	QuestionType string `xml:"QuestionType"`
}

type addMemberMessageRequest struct {
	XMLName     xml.Name             `xml:"AddMemberMessageAAQToPartnerRequest"`
	XMLNS       string               `xml:"xmlns,attr"`
	Credentials requesterCredentials `xml:"RequesterCredentials"`
	ItemID      string               `xml:"ItemID"`
	Message     memberMessage        `xml:"MemberMessage"`
}

type addMemberMessageResponse struct {
	XMLName xml.Name          `xml:"AddMemberMessageAAQToPartnerResponse"`
	Ack     string            `xml:"Ack"`
	Errors  []tradingAPIError `xml:"Errors"`
}

type tradingAPIError struct {
	ShortMessage string `xml:"ShortMessage"`
	LongMessage  string `xml:"LongMessage"`
}

const ebayXMLNamespace = "urn:ebay:apis:eBLBaseComponents"

// ==================== EbayClient ====================

// EbayClient ChannelClient 的 eBay 实现。
// 刊登管理走 REST (sell/inventory)，买家消息走 Trading API (XML)。
type EbayClient struct {
	apiURL        string
	tradingAPIURL string
	tokens        *TokenManager
	client        *resty.Client
}

func NewEbayClient(apiURL, tradingAPIURL string, tokens *TokenManager) *EbayClient {
	return &EbayClient{
		apiURL:        apiURL,
		tradingAPIURL: tradingAPIURL,
		tokens:        tokens,
		client:        resty.New().SetTimeout(60 * time.Second),
	}
}

// send 带 Token 执行一次请求，401 时作废缓存 Token 重试一次
func (c *EbayClient) send(ctx context.Context, fn func(r *resty.Request, token string) (*resty.Response, error)) (*resty.Response, error) {
	for attempt := 0; attempt < 2; attempt++ {
		token, err := c.tokens.GetValidToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("获取 eBay Token 失败: %w", err)
		}

		resp, err := fn(c.client.R().SetContext(ctx), token.AccessToken)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() == http.StatusUnauthorized {
			log.Println("[Ebay] 接口返回 401，作废 Token 后重试一次")
			c.tokens.Invalidate()
			continue
		}
		return resp, nil
	}
	return nil, ErrUnauthorized
}

// GetSellerList 拉取全部在售刊登
func (c *EbayClient) GetSellerList(ctx context.Context) ([]ChannelListing, error) {
	var result struct {
		InventoryItems []struct {
			SKU     string `json:"sku"`
			Product struct {
				Title string `json:"title"`
			} `json:"product"`
		} `json:"inventoryItems"`
	}

	resp, err := c.send(ctx, func(r *resty.Request, token string) (*resty.Response, error) {
		return r.SetAuthToken(token).SetResult(&result).
			Get(c.apiURL + "/sell/inventory/v1/inventory_item")
	})
	if err != nil {
		return nil, fmt.Errorf("拉取在售刊登失败: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("拉取在售刊登失败 (%d): %s", resp.StatusCode(), resp.String())
	}

	listings := make([]ChannelListing, 0, len(result.InventoryItems))
	for _, item := range result.InventoryItems {
		listings = append(listings, ChannelListing{
			ItemID: item.SKU,
			SKU:    item.SKU,
			Title:  item.Product.Title,
		})
	}
	return listings, nil
}

// EndItem 结束一条刊登
func (c *EbayClient) EndItem(ctx context.Context, itemID string) error {
	resp, err := c.send(ctx, func(r *resty.Request, token string) (*resty.Response, error) {
		return r.SetAuthToken(token).
			Delete(fmt.Sprintf("%s/sell/inventory/v1/inventory_item/%s", c.apiURL, itemID))
	})
	if err != nil {
		return fmt.Errorf("结束刊登 %s 失败: %w", itemID, err)
	}
	if resp.IsError() && resp.StatusCode() != http.StatusNotFound {
		return fmt.Errorf("结束刊登 %s 失败 (%d): %s", itemID, resp.StatusCode(), resp.String())
	}
	return nil
}

// GetMessages 拉取某时间之后的买家消息（Trading API）
func (c *EbayClient) GetMessages(ctx context.Context, since time.Time) ([]BuyerMessage, error) {
	var parsed getMyMessagesResponse
	resp, err := c.send(ctx, func(r *resty.Request, token string) (*resty.Response, error) {
		body, merr := xml.Marshal(getMyMessagesRequest{
			XMLNS:       ebayXMLNamespace,
			Credentials: requesterCredentials{EBayAuthToken: token},
			DetailLevel: "ReturnMessages",
			StartTime:   since.UTC().Format(time.RFC3339),
		})
		if merr != nil {
			return nil, merr
		}
		return r.
			SetHeader("Content-Type", "text/xml").
			SetHeader("X-EBAY-API-CALL-NAME", "GetMyMessages").
			SetHeader("X-EBAY-API-SITEID", "0").
			SetHeader("X-EBAY-API-COMPATIBILITY-LEVEL", "1191").
			SetHeader("X-EBAY-API-IAF-TOKEN", token).
			SetBody(append([]byte(xml.Header), body...)).
			Post(c.tradingAPIURL)
	})
	if err != nil {
		return nil, fmt.Errorf("拉取买家消息失败: %w", err)
	}
	if uerr := xml.Unmarshal(resp.Body(), &parsed); uerr != nil {
		return nil, fmt.Errorf("解析买家消息响应失败: %w", uerr)
	}
	if parsed.Ack != "Success" && parsed.Ack != "Warning" {
		return nil, fmt.Errorf("拉取买家消息被拒绝: %s", tradingErrorText(parsed.Errors))
	}

	messages := make([]BuyerMessage, 0, len(parsed.Messages.Message))
	for _, m := range parsed.Messages.Message {
		receivedAt, perr := time.Parse(time.RFC3339, m.ReceiveDate)
		if perr != nil {
			receivedAt = time.Now()
		}
		messages = append(messages, BuyerMessage{
			MessageID:  m.MessageID,
			Sender:     m.Sender,
			Subject:    m.Subject,
			Text:       m.Text,
			ItemID:     m.ItemID,
			ReceivedAt: receivedAt,
			Read:       m.Read,
		})
	}
	return messages, nil
}

// ReplyToMessage 回复买家消息（Trading API）
func (c *EbayClient) ReplyToMessage(ctx context.Context, itemID, content string) error {
	var parsed addMemberMessageResponse
	resp, err := c.send(ctx, func(r *resty.Request, token string) (*resty.Response, error) {
		body, merr := xml.Marshal(addMemberMessageRequest{
			XMLNS:       ebayXMLNamespace,
			Credentials: requesterCredentials{EBayAuthToken: token},
			ItemID:      itemID,
			Message: memberMessage{
				Subject:      "Response to your inquiry",
				Body:         content,
				QuestionType: "General",
			},
		})
		if merr != nil {
			return nil, merr
		}
		return r.
			SetHeader("Content-Type", "text/xml").
			SetHeader("X-EBAY-API-CALL-NAME", "AddMemberMessageAAQToPartner").
			SetHeader("X-EBAY-API-SITEID", "0").
			SetHeader("X-EBAY-API-COMPATIBILITY-LEVEL", "1191").
			SetHeader("X-EBAY-API-IAF-TOKEN", token).
			SetBody(append([]byte(xml.Header), body...)).
			Post(c.tradingAPIURL)
	})
	if err != nil {
		return fmt.Errorf("回复消息失败: %w", err)
	}
	if uerr := xml.Unmarshal(resp.Body(), &parsed); uerr != nil {
		return fmt.Errorf("解析回复响应失败: %w", uerr)
	}
	if parsed.Ack != "Success" && parsed.Ack != "Warning" {
		return fmt.Errorf("回复消息被拒绝: %s", tradingErrorText(parsed.Errors))
	}
	return nil
}

func tradingErrorText(errs []tradingAPIError) string {
	if len(errs) == 0 {
		return "unknown error"
	}
	return errs[0].ShortMessage
}

var _ ChannelClient = (*EbayClient)(nil)
