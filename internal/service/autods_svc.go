package service

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// ==================== AutoDS 数据结构 ====================

// MarketplaceProduct 货源市场里的候选商品
type MarketplaceProduct struct {
	ID                  string               `json:"_id"`
	IDOnSite            string               `json:"id_on_site"`
	SiteName            string               `json:"site_name"`
	SupplierName        string               `json:"supplier_name"`
	Title               string               `json:"title"`
	Region              int                  `json:"region"`
	PrivateSupplier     bool                 `json:"private_supplier"`
	VariationStatistics *VariationStatistics `json:"variation_statistics"`
}

// StockBucket variation_statistics 里按状态聚合的库存桶
type StockBucket struct {
	Total int `json:"total"`
}

// SupplierRegion 变体关联的货源站点信息
type SupplierRegion struct {
	ItemIDOnSite string `json:"item_id_on_site"`
	SiteID       int    `json:"site_id"`
	Region       int    `json:"region"`
	URL          string `json:"url"`
}

// VariationStatistics 商品所有变体的聚合统计
type VariationStatistics struct {
	MinSellPrice   float64          `json:"min_sell_price"`
	MaxSellPrice   float64          `json:"max_sell_price"`
	MinBuyPrice    float64          `json:"min_buy_price"`
	MaxBuyPrice    float64          `json:"max_buy_price"`
	SellCurrency   string           `json:"sell_currency"`
	InStock        *StockBucket     `json:"in_stock"`
	OutOfStock     *StockBucket     `json:"out_of_stock"`
	OnHold         *StockBucket     `json:"on_hold"`
	SupplierRegion []SupplierRegion `json:"supplier_region"`
}

// InStockTotal 聚合后的在售库存数，没有统计信息按 0 算
func (v *VariationStatistics) InStockTotal() int {
	if v == nil || v.InStock == nil {
		return 0
	}
	return v.InStock.Total
}

// StoreProduct 店铺（含草稿箱和在售页）里的商品
type StoreProduct struct {
	ID                  int64                `json:"id"`
	Title               string               `json:"title"`
	SiteID              int                  `json:"site_id"`
	ItemIDOnSite        string               `json:"item_id_on_site"`
	Status              int                  `json:"status"`
	VariationStatistics *VariationStatistics `json:"variation_statistics"`
	ErrorList           []ProductError       `json:"error_list"`
}

// ProductError 商品上的错误条目（上架失败原因等）
type ProductError struct {
	Message string `json:"message"`
}

// productQueryFilter AutoDS 列表接口的过滤条件
type productQueryFilter struct {
	Name      string        `json:"name"`
	ValueList []interface{} `json:"value_list"`
	Op        string        `json:"op"`
	ValueType string        `json:"value_type"`
}

// productOrderBy 列表接口的排序条件
type productOrderBy struct {
	Name      string `json:"name"`
	Direction string `json:"direction"`
}

// marketplaceProjection 市场查询返回字段集，字段值固定为空对象
type marketplaceProjection struct {
	Title                struct{} `json:"title"`
	Images               struct{} `json:"images"`
	SupplierName         struct{} `json:"supplier_name"`
	SiteName             struct{} `json:"site_name"`
	IDOnSite             struct{} `json:"id_on_site"`
	ProductDetails       struct{} `json:"product_details"`
	Region               struct{} `json:"region"`
	PrivateSupplier      struct{} `json:"private_supplier"`
	IsWinningProduct     struct{} `json:"is_winning_product"`
	IsFreeWinningProduct struct{} `json:"is_free_winning_product"`
	Categories           struct{} `json:"categories"`
	VariationStatistics  struct{} `json:"variation_statistics"`
}

// marketplaceQueryRequest 市场商品查询请求体
type marketplaceQueryRequest struct {
	Projection marketplaceProjection `json:"projection"`
	OrderBy    productOrderBy        `json:"order_by"`
	Condition  string                `json:"condition"`
	Limit      int                   `json:"limit"`
	Offset     int                   `json:"offset"`
	Filters    []productQueryFilter  `json:"filters"`
}

// newDraftProduct 导草稿请求里的单个商品引用
type newDraftProduct struct {
	ASIN string `json:"asin"`
}

// stageDraftRequest 导草稿请求体
type stageDraftRequest struct {
	URLs            []string          `json:"urls"`
	Region          int               `json:"region"`
	Status          int               `json:"status"`
	BuySiteID       int               `json:"buy_site_id"`
	UploadAsDraft   bool              `json:"upload_as_draft"`
	IsSampleLoading bool              `json:"is_sample_loading"`
	UploadType      string            `json:"upload_type"`
	ActionSource    int               `json:"action_source"`
	NewProducts     []newDraftProduct `json:"new_products"`
}

// storeProductListRequest 店铺商品列表请求体
type storeProductListRequest struct {
	Limit         int                  `json:"limit"`
	Offset        int                  `json:"offset"`
	Condition     string               `json:"condition"`
	Filters       []productQueryFilter `json:"filters"`
	OrderBy       productOrderBy       `json:"order_by"`
	ProductStatus int                  `json:"product_status"`
	Projection    []string             `json:"projection"`
}

// productSelectionRequest 按过滤条件圈选商品的请求体（推送、批量删除共用）。
// RemoveFromMarketplace 只在删除接口上有意义，其余接口不带
type productSelectionRequest struct {
	Condition             string               `json:"condition"`
	Filters               []productQueryFilter `json:"filters"`
	ProductStatus         int                  `json:"product_status"`
	RemoveFromMarketplace *bool                `json:"remove_from_marketplace,omitempty"`
}

// 商品状态：1 = 草稿，2 = 在售
const (
	productStatusDraft = 1
	productStatusLive  = 2
)

// ==================== SupplierClient ====================

// SupplierClient 货源平台操作接口
type SupplierClient interface {
	// ListMarketplaceProducts 拉取货源市场的候选商品
	ListMarketplaceProducts(ctx context.Context) ([]MarketplaceProduct, error)
	// StageDraft 把市场商品导入店铺草稿箱
	StageDraft(ctx context.Context, storeID string, p MarketplaceProduct) error
	// ListDrafts 列出店铺草稿箱
	ListDrafts(ctx context.Context, storeID string) ([]StoreProduct, error)
	// PromoteDraft 把草稿推送到在售页（即开始向渠道上架）
	PromoteDraft(ctx context.Context, storeID string, draftID int64) error
	// GetStoreProducts 列出店铺在售商品
	GetStoreProducts(ctx context.Context, storeID string) ([]StoreProduct, error)
	// BulkDelete 按 id 批量删除商品，removeFromMarketplace 为真时连渠道刊登一起下掉
	BulkDelete(ctx context.Context, storeID string, ids []int64, removeFromMarketplace bool) error
}

// AutoDSClient SupplierClient 的 AutoDS 实现
type AutoDSClient struct {
	apiURL         string
	marketplaceURL string
	supplierFilter string
	tokens         *TokenManager
	client         *resty.Client
}

func NewAutoDSClient(apiURL, marketplaceURL, supplierFilter string, tokens *TokenManager) *AutoDSClient {
	return &AutoDSClient{
		apiURL:         apiURL,
		marketplaceURL: marketplaceURL,
		supplierFilter: supplierFilter,
		tokens:         tokens,
		client:         resty.New().SetTimeout(60 * time.Second),
	}
}

// send 带 Token 执行一次请求。收到 401 时作废缓存 Token 重试一次，
// 第二次仍 401 则报 ErrUnauthorized。
func (c *AutoDSClient) send(ctx context.Context, fn func(r *resty.Request) (*resty.Response, error)) (*resty.Response, error) {
	for attempt := 0; attempt < 2; attempt++ {
		token, err := c.tokens.GetValidToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("获取 AutoDS Token 失败: %w", err)
		}

		resp, err := fn(c.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetAuthToken(token.AccessToken))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() == http.StatusUnauthorized {
			log.Println("[AutoDS] 接口返回 401，作废 Token 后重试一次")
			c.tokens.Invalidate()
			continue
		}
		return resp, nil
	}
	return nil, ErrUnauthorized
}

// ListMarketplaceProducts 按配置的货源过滤条件查市场商品，
// 按 spv 降序取前 100 条
func (c *AutoDSClient) ListMarketplaceProducts(ctx context.Context) ([]MarketplaceProduct, error) {
	filters := []productQueryFilter{}
	if c.supplierFilter != "" {
		filters = append(filters, productQueryFilter{
			Name:      "site_name",
			ValueList: []interface{}{c.supplierFilter},
			Op:        "in",
			ValueType: "list",
		})
	}

	payload := marketplaceQueryRequest{
		OrderBy:   productOrderBy{Name: "spv_param", Direction: "desc"},
		Condition: "and",
		Limit:     100,
		Offset:    0,
		Filters:   filters,
	}

	var result struct {
		Results []MarketplaceProduct `json:"results"`
	}
	resp, err := c.send(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(payload).SetResult(&result).
			Post(c.marketplaceURL + "/marketplace/api/products/")
	})
	if err != nil {
		return nil, fmt.Errorf("查询货源市场失败: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("查询货源市场失败 (%d): %s", resp.StatusCode(), resp.String())
	}
	return result.Results, nil
}

// StageDraft 把市场商品导入草稿箱。
// private_suppliers 站点用内部 _id 和专属 buy_site_id，其余站点用站内 id。
func (c *AutoDSClient) StageDraft(ctx context.Context, storeID string, p MarketplaceProduct) error {
	isPrivate := p.SiteName == "private_suppliers"
	buySiteID := 1
	asin := p.IDOnSite
	if isPrivate {
		buySiteID = 27
		asin = p.ID
	}

	payload := stageDraftRequest{
		URLs:         []string{},
		Region:       1,
		Status:       1,
		BuySiteID:    buySiteID,
		UploadType:   "marketplace",
		ActionSource: 4,
		NewProducts:  []newDraftProduct{{ASIN: asin}},
	}

	resp, err := c.send(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(payload).
			Post(fmt.Sprintf("%s/products/single_draft_product/%s/", c.apiURL, storeID))
	})
	if err != nil {
		return fmt.Errorf("导入草稿失败: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("导入草稿失败 (%d): %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// ListDrafts 列出草稿箱商品
func (c *AutoDSClient) ListDrafts(ctx context.Context, storeID string) ([]StoreProduct, error) {
	return c.listProducts(ctx, storeID, productStatusDraft)
}

// GetStoreProducts 列出在售商品
func (c *AutoDSClient) GetStoreProducts(ctx context.Context, storeID string) ([]StoreProduct, error) {
	return c.listProducts(ctx, storeID, productStatusLive)
}

func (c *AutoDSClient) listProducts(ctx context.Context, storeID string, status int) ([]StoreProduct, error) {
	payload := storeProductListRequest{
		Limit:         100,
		Offset:        0,
		Condition:     "and",
		Filters:       []productQueryFilter{},
		OrderBy:       productOrderBy{Name: "id", Direction: "desc"},
		ProductStatus: status,
		Projection: []string{
			"id", "main_picture_url", "site_id", "title", "autods_store_id",
			"bulk_action_started", "amount_of_variations", "category", "tags",
			"configuration", "note", "variation_statistics", "manufacturer",
			"status", "scheduled_datetime", "error_list", "catalog_asin",
			"mutation_status", "is_updated",
		},
	}

	var result struct {
		Results []StoreProduct `json:"results"`
	}
	resp, err := c.send(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(payload).SetResult(&result).
			Post(fmt.Sprintf("%s/products/%s/list/", c.apiURL, storeID))
	})
	if err != nil {
		return nil, fmt.Errorf("查询店铺商品失败: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("查询店铺商品失败 (%d): %s", resp.StatusCode(), resp.String())
	}
	return result.Results, nil
}

// PromoteDraft 把草稿推送到在售页
func (c *AutoDSClient) PromoteDraft(ctx context.Context, storeID string, draftID int64) error {
	payload := productSelectionRequest{
		Condition: "and",
		Filters: []productQueryFilter{{
			Name:      "id",
			ValueList: []interface{}{draftID},
			Op:        "in",
			ValueType: "list",
		}},
		ProductStatus: productStatusDraft,
	}

	resp, err := c.send(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(payload).
			Post(fmt.Sprintf("%s/products/%s/import_to_marketplace", c.apiURL, storeID))
	})
	if err != nil {
		return fmt.Errorf("推送草稿 %d 失败: %w", draftID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("推送草稿 %d 失败 (%d): %s", draftID, resp.StatusCode(), resp.String())
	}
	return nil
}

// BulkDelete 按 id 批量删除商品。
// removeFromMarketplace 为真时 AutoDS 会同步下掉渠道刊登。
func (c *AutoDSClient) BulkDelete(ctx context.Context, storeID string, ids []int64, removeFromMarketplace bool) error {
	if len(ids) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		values = append(values, id)
	}

	payload := productSelectionRequest{
		Condition: "and",
		Filters: []productQueryFilter{{
			Name:      "id",
			ValueList: values,
			Op:        "in",
			ValueType: "list",
		}},
		ProductStatus:         productStatusLive,
		RemoveFromMarketplace: &removeFromMarketplace,
	}

	resp, err := c.send(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(payload).
			Delete(fmt.Sprintf("%s/products/%s/bulk", c.apiURL, storeID))
	})
	if err != nil {
		return fmt.Errorf("批量删除失败: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("批量删除失败 (%d): %s", resp.StatusCode(), resp.String())
	}
	log.Printf("[AutoDS] 批量删除请求已受理，共 %d 个商品", len(ids))
	return nil
}

// 编译期确认实现
var _ SupplierClient = (*AutoDSClient)(nil)
