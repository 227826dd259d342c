package service

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Akinlua/autods/internal/model"
	"github.com/Akinlua/autods/internal/repository"
)

// 草稿处理和上架处理的等待窗口
const (
	draftSettleWait   = 30 * time.Second
	promoteSettleWait = 60 * time.Second
	topUpSettleWait   = 30 * time.Second
)

// 逐条调 API 之间的限速间隔
const interItemDelay = time.Second

// 下架批处理的节奏
const (
	removalInterBatchDelay = 2 * time.Second
	removalInterItemDelay  = 500 * time.Millisecond
)

// PipelineConfig 同步管道参数
type PipelineConfig struct {
	StoreID            string
	MaxListingQuantity int
	RemovalCount       int
	MinimumStock       int
	RemoveOrphans      bool
	RemovalBatchSize   int
	MaxAttempts        int
}

// ListingPipeline 上架/下架同步管道。
// 上架走 选品 -> 去重 -> 导草稿 -> 推在售 -> 核验 -> 落库 的多段流程，
// 各段之间靠标题模糊匹配串联（跨系统没有稳定 ID）。
type ListingPipeline struct {
	supplier    SupplierClient
	channel     ChannelClient
	listingRepo repository.ListingRepository
	cfg         PipelineConfig

	// 测试注入点：等待与随机源
	wait func(ctx context.Context, d time.Duration) error
	rng  *rand.Rand
}

func NewListingPipeline(supplier SupplierClient, channel ChannelClient, listingRepo repository.ListingRepository, cfg PipelineConfig) *ListingPipeline {
	if cfg.RemovalBatchSize <= 0 {
		cfg.RemovalBatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &ListingPipeline{
		supplier:    supplier,
		channel:     channel,
		listingRepo: listingRepo,
		cfg:         cfg,
		wait:        sleepContext,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// titlesMatch 双向子串模糊匹配，大小写不敏感。
// 匹配刻意放宽：草稿/在售页的标题可能被平台截断或加后缀，
// 代价是相似标题会有误配，这是已接受的取舍。
func titlesMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	la, lb := strings.ToLower(a), strings.ToLower(b)
	return strings.Contains(la, lb) || strings.Contains(lb, la)
}

// ==================== 上架 ====================

// stagedProduct 已导入草稿箱的商品
type stagedProduct struct {
	marketplaceID string
	idOnSite      string
	title         string
}

// promotedDraft 已推送到在售页的草稿
type promotedDraft struct {
	draftID int64
	title   string
}

// verifiedProduct 核验确认已在店铺在售页的商品
type verifiedProduct struct {
	autodsID     int64
	itemIDOnSite string
	title        string
}

// RunListing 执行一轮上架同步。
// 返回 false 表示中途因没有可处理的商品而提前结束。
func (p *ListingPipeline) RunListing(ctx context.Context) (bool, error) {
	target := p.cfg.MaxListingQuantity
	log.Printf("[Listing] 开始上架同步，目标 %d 个商品", target)
	return p.runListingAttempt(ctx, target, 1, promoteSettleWait)
}

// runListingAttempt 执行一次上架尝试，不足量时递归补齐
func (p *ListingPipeline) runListingAttempt(ctx context.Context, count, attempt int, secondSettle time.Duration) (bool, error) {
	// SELECT：拉取候选
	candidates, err := p.supplier.ListMarketplaceProducts(ctx)
	if err != nil {
		return false, fmt.Errorf("选品失败: %w", err)
	}
	log.Printf("[Listing] 市场返回 %d 个候选商品", len(candidates))
	if len(candidates) == 0 {
		log.Println("[Listing] 市场没有候选商品，结束本轮")
		return false, nil
	}

	// 库存准入：聚合在售库存为 0 的一律不要
	eligible := make([]MarketplaceProduct, 0, len(candidates))
	for _, c := range candidates {
		stock := c.VariationStatistics.InStockTotal()
		if stock <= 0 || stock < p.cfg.MinimumStock {
			continue
		}
		eligible = append(eligible, c)
	}
	log.Printf("[Listing] 库存过滤后剩 %d 个候选", len(eligible))

	// DEDUPE：去掉库里已有记录的，再去掉渠道侧已在售的
	known, err := p.listingRepo.AllSupplierIDs(ctx)
	if err != nil {
		return false, fmt.Errorf("查询已上架记录失败: %w", err)
	}
	channelListings, err := p.channel.GetSellerList(ctx)
	if err != nil {
		return false, fmt.Errorf("查询渠道在售刊登失败: %w", err)
	}
	channelSKUs := make(map[string]struct{}, len(channelListings))
	for _, l := range channelListings {
		if l.SKU != "" {
			channelSKUs[l.SKU] = struct{}{}
		}
	}
	available := make([]MarketplaceProduct, 0, len(eligible))
	for _, c := range eligible {
		if _, ok := known[c.ID]; ok {
			continue
		}
		if _, ok := known[c.IDOnSite]; ok {
			continue
		}
		if _, ok := channelSKUs[c.ID]; ok {
			continue
		}
		if _, ok := channelSKUs[c.IDOnSite]; ok {
			continue
		}
		// 渠道侧没有 SKU 的刊登退化为标题匹配
		dup := false
		for _, l := range channelListings {
			if l.SKU == "" && titlesMatch(l.Title, c.Title) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		available = append(available, c)
	}
	log.Printf("[Listing] 去重后剩 %d 个可上架候选", len(available))
	if len(available) == 0 {
		log.Println("[Listing] 没有新商品可上架，结束本轮")
		return false, nil
	}

	// 洗牌取前 N
	selected := p.shuffleTake(available, count)
	log.Printf("[Listing] 随机选出 %d 个商品", len(selected))

	// STAGE：逐个导入草稿箱
	staged := make([]stagedProduct, 0, len(selected))
	for _, c := range selected {
		if err := p.supplier.StageDraft(ctx, p.cfg.StoreID, c); err != nil {
			log.Printf("[Listing] 商品 [%s] %s 导草稿失败: %v", c.ID, c.Title, err)
			continue
		}
		staged = append(staged, stagedProduct{
			marketplaceID: c.ID,
			idOnSite:      c.IDOnSite,
			title:         c.Title,
		})
		if err := p.wait(ctx, interItemDelay); err != nil {
			return false, err
		}
	}
	if len(staged) == 0 {
		log.Println("[Listing] 没有商品成功导入草稿箱，结束本轮")
		return false, nil
	}

	// 等草稿处理完
	log.Printf("[Listing] 等待 %s 让草稿处理完成", draftSettleWait)
	if err := p.wait(ctx, draftSettleWait); err != nil {
		return false, err
	}

	// PROMOTE：按标题匹配草稿并推到在售页
	drafts, err := p.supplier.ListDrafts(ctx, p.cfg.StoreID)
	if err != nil {
		return false, fmt.Errorf("查询草稿箱失败: %w", err)
	}
	log.Printf("[Listing] 草稿箱共 %d 条", len(drafts))

	matched := matchDrafts(drafts, staged)
	log.Printf("[Listing] 匹配到 %d 条本轮导入的草稿", len(matched))

	promoted := make([]promotedDraft, 0, len(matched))
	for _, d := range matched {
		if err := p.supplier.PromoteDraft(ctx, p.cfg.StoreID, d.draftID); err != nil {
			log.Printf("[Listing] 草稿 [%d] %s 推送失败: %v", d.draftID, d.title, err)
			continue
		}
		promoted = append(promoted, d)
		if err := p.wait(ctx, interItemDelay); err != nil {
			return false, err
		}
	}
	log.Printf("[Listing] 成功推送 %d 条草稿到在售页", len(promoted))

	// 等上架处理完
	log.Printf("[Listing] 等待 %s 让上架处理完成", secondSettle)
	if err := p.wait(ctx, secondSettle); err != nil {
		return false, err
	}

	// VERIFY：对照在售页确认
	storeProducts, err := p.supplier.GetStoreProducts(ctx, p.cfg.StoreID)
	if err != nil {
		return false, fmt.Errorf("查询在售商品失败: %w", err)
	}
	verified := verifyPromoted(storeProducts, promoted)
	log.Printf("[Listing] 核验确认 %d 个商品已在售", len(verified))

	// PERSIST：落库
	p.persistVerified(ctx, verified)

	// 不足量且还有尝试次数就递归补齐。
	// 本轮已经完整跑完，补齐轮找不到候选不算失败
	remaining := count - len(verified)
	if remaining > 0 && attempt < p.cfg.MaxAttempts {
		log.Printf("[Listing] 还差 %d 个，发起补齐（第 %d/%d 次尝试）", remaining, attempt+1, p.cfg.MaxAttempts)
		if _, err := p.runListingAttempt(ctx, remaining, attempt+1, topUpSettleWait); err != nil {
			return false, err
		}
		return true, nil
	}
	if remaining > 0 {
		log.Printf("[Listing] %d 次尝试后仍差 %d 个，结束本轮", p.cfg.MaxAttempts, remaining)
	}
	return true, nil
}

// shuffleTake Fisher-Yates 洗牌后取前 count 个
func (p *ListingPipeline) shuffleTake(products []MarketplaceProduct, count int) []MarketplaceProduct {
	shuffled := make([]MarketplaceProduct, len(products))
	copy(shuffled, products)
	for i := len(shuffled) - 1; i > 0; i-- {
		j := p.rng.Intn(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	if count > len(shuffled) {
		count = len(shuffled)
	}
	return shuffled[:count]
}

// matchDrafts 把草稿箱条目按标题匹配回本轮导入的商品，
// 每条草稿最多配一个商品
func matchDrafts(drafts []StoreProduct, staged []stagedProduct) []promotedDraft {
	matched := make([]promotedDraft, 0, len(staged))
	for _, d := range drafts {
		for _, s := range staged {
			if titlesMatch(d.Title, s.title) {
				matched = append(matched, promotedDraft{draftID: d.ID, title: d.Title})
				break
			}
		}
	}
	return matched
}

// verifyPromoted 对照在售页确认推送结果，取在售页侧的 id 和站内 id
func verifyPromoted(storeProducts []StoreProduct, promoted []promotedDraft) []verifiedProduct {
	verified := make([]verifiedProduct, 0, len(promoted))
	for _, pd := range promoted {
		for _, sp := range storeProducts {
			if titlesMatch(sp.Title, pd.title) {
				verified = append(verified, verifiedProduct{
					autodsID:     sp.ID,
					itemIDOnSite: sp.ItemIDOnSite,
					title:        sp.Title,
				})
				break
			}
		}
	}
	return verified
}

// persistVerified 为核验通过的商品写 Listing 记录。
// 渠道刊登 ID 此时还拿不到，先写带随机后缀的占位值；
// 价格库存留空，由后续的定价流程补齐。
func (p *ListingPipeline) persistVerified(ctx context.Context, verified []verifiedProduct) {
	for _, v := range verified {
		if v.autodsID == 0 {
			log.Printf("[Listing] 核验结果缺少商品 ID，跳过: %q", v.title)
			continue
		}
		title := v.title
		if title == "" {
			title = "Unknown Product"
		}
		sku := fmt.Sprintf("%d", v.autodsID)
		// 去重兜底：核验窗口内重复出现的商品只落一条
		if existing, err := p.listingRepo.FindActiveBySKU(ctx, sku); err != nil {
			log.Printf("[Listing] 查询 SKU %s 失败: %v", sku, err)
			continue
		} else if existing != nil {
			log.Printf("[Listing] SKU %s 已有在售记录，跳过落库", sku)
			continue
		}
		listing := &model.Listing{
			AutodsID:      sku,
			EbayListingID: "pending_" + uuid.NewString(),
			ItemIDOnSite:  v.itemIDOnSite,
			SKU:           sku,
			Title:         title,
			Active:        true,
			ListedAt:      time.Now(),
		}
		if err := p.listingRepo.Create(ctx, listing); err != nil {
			log.Printf("[Listing] 商品 [%d] %s 落库失败: %v", v.autodsID, title, err)
			continue
		}
		log.Printf("[Listing] 商品 [%d] %s 已落库", v.autodsID, title)
	}
}

// ==================== 下架 ====================

// RunRemoval 按库存扫描全部在售刊登，
// 货源库存归零的结束渠道刊登并标记记录。
func (p *ListingPipeline) RunRemoval(ctx context.Context) error {
	log.Println("[Removal] 开始库存下架扫描")

	// 全量拉一次货源目录，建 id -> 在售库存 索引
	storeProducts, err := p.supplier.GetStoreProducts(ctx, p.cfg.StoreID)
	if err != nil {
		return fmt.Errorf("拉取货源目录失败: %w", err)
	}
	stockByID := make(map[string]int, len(storeProducts)*2)
	for _, sp := range storeProducts {
		stock := sp.VariationStatistics.InStockTotal()
		stockByID[fmt.Sprintf("%d", sp.ID)] = stock
		if sp.ItemIDOnSite != "" {
			stockByID[sp.ItemIDOnSite] = stock
		}
	}
	log.Printf("[Removal] 货源目录共 %d 个商品", len(storeProducts))

	active := true
	listings, total, err := p.listingRepo.List(ctx, repository.ListingFilter{Active: &active})
	if err != nil {
		return fmt.Errorf("查询在售记录失败: %w", err)
	}
	log.Printf("[Removal] 在售记录共 %d 条", total)

	for start := 0; start < len(listings); start += p.cfg.RemovalBatchSize {
		end := start + p.cfg.RemovalBatchSize
		if end > len(listings) {
			end = len(listings)
		}
		batch := listings[start:end]
		log.Printf("[Removal] 处理第 %d-%d 条", start+1, end)

		for i := range batch {
			if err := p.removeIfDepleted(ctx, &batch[i], stockByID); err != nil {
				log.Printf("[Removal] 刊登 [%s] %s 处理失败: %v", batch[i].EbayListingID, batch[i].Title, err)
			}
			if err := p.wait(ctx, removalInterItemDelay); err != nil {
				return err
			}
		}

		if end < len(listings) {
			if err := p.wait(ctx, removalInterBatchDelay); err != nil {
				return err
			}
		}
	}

	log.Println("[Removal] 库存下架扫描完成")
	return nil
}

// removeIfDepleted 处理单条刊登：货源消失按孤儿策略走，库存归零则下架
func (p *ListingPipeline) removeIfDepleted(ctx context.Context, listing *model.Listing, stockByID map[string]int) error {
	stock, found := p.resolveStock(listing, stockByID)
	if !found {
		// 货源目录里找不到。标题模糊匹配的误配会让误删代价很高，
		// 所以这条路默认不动，只在显式开启时下架
		if !p.cfg.RemoveOrphans {
			log.Printf("[Removal] 刊登 [%s] %s 在货源目录中不存在，按配置跳过", listing.EbayListingID, listing.Title)
			return nil
		}
		log.Printf("[Removal] 刊登 [%s] %s 在货源目录中不存在，执行下架", listing.EbayListingID, listing.Title)
		return p.endListing(ctx, listing, model.EndReasonNotFound)
	}

	if stock > 0 {
		return nil
	}
	log.Printf("[Removal] 刊登 [%s] %s 货源库存归零，执行下架", listing.EbayListingID, listing.Title)
	return p.endListing(ctx, listing, model.EndReasonOutOfStock)
}

// resolveStock 通过 SKU / 货源 id / 站内 id 解析刊登对应的库存
func (p *ListingPipeline) resolveStock(listing *model.Listing, stockByID map[string]int) (int, bool) {
	for _, key := range []string{listing.AutodsID, listing.SKU, listing.ItemIDOnSite} {
		if key == "" {
			continue
		}
		if stock, ok := stockByID[key]; ok {
			return stock, true
		}
	}
	return 0, false
}

// endListing 结束渠道刊登并更新数据库记录。
// 占位刊登 ID 说明渠道侧还没有真实刊登，只改数据库。
func (p *ListingPipeline) endListing(ctx context.Context, listing *model.Listing, reason string) error {
	if listing.EbayListingID != "" && !strings.HasPrefix(listing.EbayListingID, "pending_") {
		if err := p.channel.EndItem(ctx, listing.EbayListingID); err != nil {
			return err
		}
	}
	return p.listingRepo.End(ctx, listing.ID, reason)
}

// RunScheduledRemoval 批量下架最近上架的 N 条记录。
// 按精确 id 匹配货源目录，一次性发批量删除请求，
// 让货源侧联动下掉渠道刊登
func (p *ListingPipeline) RunScheduledRemoval(ctx context.Context) error {
	count := p.cfg.RemovalCount
	log.Printf("[Removal] 开始定时批量下架，目标最近 %d 条", count)

	recent, err := p.listingRepo.FindLastActive(ctx, count)
	if err != nil {
		return fmt.Errorf("查询最近上架记录失败: %w", err)
	}
	if len(recent) == 0 {
		log.Println("[Removal] 没有可下架的记录，结束本轮")
		return nil
	}

	storeProducts, err := p.supplier.GetStoreProducts(ctx, p.cfg.StoreID)
	if err != nil {
		return fmt.Errorf("拉取货源目录失败: %w", err)
	}

	// 精确匹配：货源 id 或站内 id
	supplierIDs := make([]int64, 0, len(recent))
	matchedListings := make([]*model.Listing, 0, len(recent))
	seen := make(map[int64]struct{})
	for i := range recent {
		listing := &recent[i]
		for _, sp := range storeProducts {
			if fmt.Sprintf("%d", sp.ID) == listing.AutodsID ||
				(listing.ItemIDOnSite != "" && sp.ItemIDOnSite == listing.ItemIDOnSite) {
				if _, dup := seen[sp.ID]; !dup {
					seen[sp.ID] = struct{}{}
					supplierIDs = append(supplierIDs, sp.ID)
				}
				matchedListings = append(matchedListings, listing)
				break
			}
		}
	}
	log.Printf("[Removal] %d 条记录匹配到 %d 个货源商品", len(matchedListings), len(supplierIDs))
	if len(supplierIDs) == 0 {
		log.Println("[Removal] 货源目录中没有匹配商品，结束本轮")
		return nil
	}

	if err := p.supplier.BulkDelete(ctx, p.cfg.StoreID, supplierIDs, true); err != nil {
		return fmt.Errorf("批量删除请求失败: %w", err)
	}

	for _, listing := range matchedListings {
		if err := p.listingRepo.End(ctx, listing.ID, model.EndReasonScheduledRemoval); err != nil {
			log.Printf("[Removal] 记录 [%d] %s 标记下架失败: %v", listing.ID, listing.Title, err)
		}
	}
	log.Printf("[Removal] 定时批量下架完成，共 %d 条", len(matchedListings))
	return nil
}
