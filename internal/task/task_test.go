package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Akinlua/autods/internal/model"
	"github.com/Akinlua/autods/internal/repository"
	"github.com/Akinlua/autods/internal/service"
)

// ==================== Mock 实现 ====================

// blockingSupplier 在选品时阻塞，用于验证任务互斥
type blockingSupplier struct {
	entered chan struct{}
	release chan struct{}
}

func (s *blockingSupplier) ListMarketplaceProducts(ctx context.Context) ([]service.MarketplaceProduct, error) {
	close(s.entered)
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return nil, nil
}

func (s *blockingSupplier) StageDraft(ctx context.Context, storeID string, p service.MarketplaceProduct) error {
	return nil
}

func (s *blockingSupplier) ListDrafts(ctx context.Context, storeID string) ([]service.StoreProduct, error) {
	return nil, nil
}

func (s *blockingSupplier) PromoteDraft(ctx context.Context, storeID string, draftID int64) error {
	return nil
}

func (s *blockingSupplier) GetStoreProducts(ctx context.Context, storeID string) ([]service.StoreProduct, error) {
	return nil, nil
}

func (s *blockingSupplier) BulkDelete(ctx context.Context, storeID string, ids []int64, removeFromMarketplace bool) error {
	return nil
}

type noopChannel struct{}

func (noopChannel) GetSellerList(ctx context.Context) ([]service.ChannelListing, error) {
	return nil, nil
}
func (noopChannel) EndItem(ctx context.Context, itemID string) error { return nil }
func (noopChannel) GetMessages(ctx context.Context, since time.Time) ([]service.BuyerMessage, error) {
	return nil, nil
}
func (noopChannel) ReplyToMessage(ctx context.Context, itemID, content string) error { return nil }

// ==================== 测试辅助函数 ====================

func setupTaskTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("连接测试数据库失败: %v", err)
	}
	if err := db.AutoMigrate(&model.Listing{}, &model.JobRun{}); err != nil {
		t.Fatalf("数据库迁移失败: %v", err)
	}
	return db
}

// ==================== 互斥 ====================

func TestListingTask_RejectsConcurrentRun(t *testing.T) {
	db := setupTaskTestDB(t)
	supplier := &blockingSupplier{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	pipeline := service.NewListingPipeline(supplier, noopChannel{}, repository.NewListingRepository(db), service.PipelineConfig{
		StoreID:            "1173617",
		MaxListingQuantity: 10,
	})
	task := NewListingTask(pipeline, repository.NewJobRunRepository(db), "0 0 9 * * *")

	firstDone := make(chan error, 1)
	go func() { firstDone <- task.Run() }()

	// 等第一轮真正进入执行
	select {
	case <-supplier.entered:
	case <-time.After(time.Second):
		t.Fatal("第一轮任务未开始执行")
	}

	// 执行中重入直接拒绝
	if err := task.Run(); !errors.Is(err, ErrJobRunning) {
		t.Errorf("重入 Run() = %v, 期望 ErrJobRunning", err)
	}

	close(supplier.release)
	select {
	case err := <-firstDone:
		if err != nil {
			t.Errorf("第一轮 Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("第一轮任务未结束")
	}

	// 结束后可以再次执行
	supplier.entered = make(chan struct{})
	supplier.release = make(chan struct{})
	close(supplier.release)
	if err := task.Run(); err != nil {
		t.Errorf("第二轮 Run() error = %v", err)
	}
}

// ==================== 执行记录 ====================

func TestListingTask_RecordsJobRun(t *testing.T) {
	db := setupTaskTestDB(t)
	supplier := &blockingSupplier{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	close(supplier.release) // 不阻塞，直接跑完
	pipeline := service.NewListingPipeline(supplier, noopChannel{}, repository.NewListingRepository(db), service.PipelineConfig{
		StoreID:            "1173617",
		MaxListingQuantity: 10,
	})
	jobRepo := repository.NewJobRunRepository(db)
	task := NewListingTask(pipeline, jobRepo, "0 0 9 * * *")

	if err := task.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	runs, err := jobRepo.All(context.Background())
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(runs) != 1 || runs[0].JobType != model.JobListing {
		t.Fatalf("runs = %+v, 期望一条上架任务记录", runs)
	}
	if !runs[0].Success {
		t.Errorf("记录 success = false, 期望 true")
	}
}
