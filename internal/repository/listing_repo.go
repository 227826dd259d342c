package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/Akinlua/autods/internal/model"
)

// ==================== 仓储接口 ====================

// ListingFilter 刊登记录过滤条件
type ListingFilter struct {
	Active   *bool
	Page     int
	PageSize int
}

// ListingRepository 刊登记录仓储接口
type ListingRepository interface {
	Create(ctx context.Context, listing *model.Listing) error
	List(ctx context.Context, filter ListingFilter) ([]model.Listing, int64, error)

	// AllSupplierIDs 返回库中所有记录（含已下架）的 AutoDS ID 与站点 ID，供去重使用
	AllSupplierIDs(ctx context.Context) (map[string]struct{}, error)

	// FindActiveBySKU 按 SKU 查在售记录，未找到返回 (nil, nil)
	FindActiveBySKU(ctx context.Context, sku string) (*model.Listing, error)

	// FindLastActive 按上架时间倒序取最近 count 条在售记录（定时批量下架的目标窗口）
	FindLastActive(ctx context.Context, count int) ([]model.Listing, error)

	// End 将记录置为终态 active=false 并记录下架原因
	End(ctx context.Context, id int64, reason string) error
}

// ==================== 实现 ====================

type listingRepo struct {
	db *gorm.DB
}

func NewListingRepository(db *gorm.DB) ListingRepository {
	return &listingRepo{db: db}
}

func (r *listingRepo) Create(ctx context.Context, listing *model.Listing) error {
	return r.db.WithContext(ctx).Create(listing).Error
}

func (r *listingRepo) List(ctx context.Context, filter ListingFilter) ([]model.Listing, int64, error) {
	var listings []model.Listing
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Listing{})
	if filter.Active != nil {
		query = query.Where("active = ?", *filter.Active)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.PageSize > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		query = query.Offset((page - 1) * filter.PageSize).Limit(filter.PageSize)
	}

	if err := query.Order("listed_at DESC").Find(&listings).Error; err != nil {
		return nil, 0, err
	}
	return listings, total, nil
}

func (r *listingRepo) AllSupplierIDs(ctx context.Context) (map[string]struct{}, error) {
	var rows []struct {
		AutodsID     string
		ItemIDOnSite string
	}
	if err := r.db.WithContext(ctx).
		Model(&model.Listing{}).
		Select("autods_id", "item_id_on_site").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	ids := make(map[string]struct{}, len(rows)*2)
	for _, row := range rows {
		if row.AutodsID != "" {
			ids[row.AutodsID] = struct{}{}
		}
		if row.ItemIDOnSite != "" {
			ids[row.ItemIDOnSite] = struct{}{}
		}
	}
	return ids, nil
}

func (r *listingRepo) FindActiveBySKU(ctx context.Context, sku string) (*model.Listing, error) {
	var listing model.Listing
	err := r.db.WithContext(ctx).
		Where("sku = ? AND active = ?", sku, true).
		First(&listing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &listing, nil
}

func (r *listingRepo) FindLastActive(ctx context.Context, count int) ([]model.Listing, error) {
	var listings []model.Listing
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("listed_at DESC").
		Limit(count).
		Find(&listings).Error
	return listings, err
}

func (r *listingRepo) End(ctx context.Context, id int64, reason string) error {
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&model.Listing{}).
		Where("id = ? AND active = ?", id, true).
		Updates(map[string]interface{}{
			"active":     false,
			"ended_at":   &now,
			"end_reason": reason,
		}).Error
}
