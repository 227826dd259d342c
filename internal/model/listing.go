package model

import "time"

// 下架原因
const (
	EndReasonOutOfStock       = "out_of_stock"
	EndReasonNotFound         = "not_found"
	EndReasonScheduledRemoval = "scheduled_removal"
	EndReasonProductErrors    = "product_errors"
)

// Listing 一个已同步的刊登记录：AutoDS 商品与 eBay 在售商品的一对一镜像
// sku 作为两侧的关联键（取 AutoDS 商品 ID）；
// active=false 为终态，下架后的记录不会被本系统重新激活
type Listing struct {
	BaseModel
	AutodsID      string `gorm:"size:64;index;not null"` // AutoDS 侧商品 ID
	EbayListingID string `gorm:"size:64;uniqueIndex"`    // 上架确认前为 pending_ 占位值
	ItemIDOnSite  string `gorm:"size:64;index"`          // 货源站点侧的商品 ID（辅助匹配键）
	SKU           string `gorm:"size:64;index;not null"`
	Title         string `gorm:"size:255"`

	// 价格/成本/库存 由后续定价任务回填，入库时为占位零值
	Price float64 `gorm:"default:0"`
	Cost  float64 `gorm:"default:0"`
	Stock int     `gorm:"default:0"`

	Active    bool      `gorm:"index;default:true"`
	ListedAt  time.Time `gorm:"not null"`
	EndedAt   *time.Time
	EndReason string `gorm:"size:32"`
}

func (Listing) TableName() string {
	return "listings"
}
