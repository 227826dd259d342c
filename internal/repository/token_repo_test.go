package repository

import (
	"context"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Akinlua/autods/internal/model"
)

func setupRepoTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("连接测试数据库失败: %v", err)
	}

	if err := db.AutoMigrate(&model.Token{}, &model.PendingAuth{}, &model.Listing{}, &model.JobRun{}); err != nil {
		t.Fatalf("数据库迁移失败: %v", err)
	}
	return db
}

// ==================== Token 轮换 ====================

func TestTokenRepo_RotateKeepsSingleActive(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewTokenRepository(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := repo.Rotate(ctx, &model.Token{
			Service:     model.ServiceEbay,
			AccessToken: "token-" + string(rune('a'+i)),
			ExpiresAt:   time.Now().Add(time.Hour),
		})
		if err != nil {
			t.Fatalf("Rotate() error = %v", err)
		}
	}

	var count int64
	db.Model(&model.Token{}).Where("service = ? AND active = ?", model.ServiceEbay, true).Count(&count)
	if count != 1 {
		t.Errorf("active Token 数量 = %d, 期望 1", count)
	}

	token, err := repo.FindLatestActive(ctx, model.ServiceEbay)
	if err != nil {
		t.Fatalf("FindLatestActive() error = %v", err)
	}
	if token == nil || token.AccessToken != "token-c" {
		t.Errorf("FindLatestActive() = %+v, 期望最新一条", token)
	}
}

func TestTokenRepo_RotateIsolatesServices(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewTokenRepository(db)
	ctx := context.Background()

	if err := repo.Rotate(ctx, &model.Token{Service: model.ServiceEbay, AccessToken: "ebay-token", ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	if err := repo.Rotate(ctx, &model.Token{Service: model.ServiceAutoDS, AccessToken: "autods-token", ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}

	// 一个服务的轮换不影响另一个服务的 active 记录
	ebay, err := repo.FindLatestActive(ctx, model.ServiceEbay)
	if err != nil || ebay == nil || ebay.AccessToken != "ebay-token" {
		t.Errorf("eBay Token = %+v, err = %v", ebay, err)
	}
	autods, err := repo.FindLatestActive(ctx, model.ServiceAutoDS)
	if err != nil || autods == nil || autods.AccessToken != "autods-token" {
		t.Errorf("AutoDS Token = %+v, err = %v", autods, err)
	}
}

func TestTokenRepo_FindLatestActiveNotFound(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewTokenRepository(db)

	token, err := repo.FindLatestActive(context.Background(), model.ServiceEbay)
	if err != nil {
		t.Fatalf("FindLatestActive() error = %v", err)
	}
	if token != nil {
		t.Errorf("空库应返回 nil, 实际 %+v", token)
	}
}

// ==================== 授权码认领 ====================

func TestPendingAuthRepo_ClaimNextIsOneShot(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewPendingAuthRepository(db)
	ctx := context.Background()

	if err := repo.Create(ctx, &model.PendingAuth{
		Service:           model.ServiceEbay,
		AuthorizationCode: "auth-code-1",
		State:             "state-1",
	}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// 第一次认领成功
	pa, err := repo.ClaimNext(ctx, model.ServiceEbay, "state-1")
	if err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
	}
	if pa == nil || pa.AuthorizationCode != "auth-code-1" {
		t.Fatalf("ClaimNext() = %+v, 期望认领到授权码", pa)
	}
	if !pa.Processed {
		t.Error("认领后 processed 应为 true")
	}

	// 授权码一次性，第二次认领为空
	pa, err = repo.ClaimNext(ctx, model.ServiceEbay, "state-1")
	if err != nil {
		t.Fatalf("第二次 ClaimNext() error = %v", err)
	}
	if pa != nil {
		t.Errorf("第二次 ClaimNext() = %+v, 期望 nil", pa)
	}
}

func TestPendingAuthRepo_ClaimNextFiltersByState(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewPendingAuthRepository(db)
	ctx := context.Background()

	if err := repo.Create(ctx, &model.PendingAuth{
		Service:           model.ServiceEbay,
		AuthorizationCode: "other-flow-code",
		State:             "other-state",
	}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	pa, err := repo.ClaimNext(ctx, model.ServiceEbay, "my-state")
	if err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
	}
	if pa != nil {
		t.Errorf("不应认领到其他授权流程的码: %+v", pa)
	}
}

func TestPendingAuthRepo_DeleteExpired(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewPendingAuthRepository(db)
	ctx := context.Background()

	stale := &model.PendingAuth{Service: model.ServiceEbay, AuthorizationCode: "stale", State: "s1"}
	if err := repo.Create(ctx, stale); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	// 伪造过期的创建时间
	db.Model(stale).Update("created_at", time.Now().Add(-2*model.PendingAuthTTL))

	fresh := &model.PendingAuth{Service: model.ServiceEbay, AuthorizationCode: "fresh", State: "s2"}
	if err := repo.Create(ctx, fresh); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	deleted, err := repo.DeleteExpired(ctx, time.Now().Add(-model.PendingAuthTTL))
	if err != nil {
		t.Fatalf("DeleteExpired() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, 期望 1", deleted)
	}

	var count int64
	db.Model(&model.PendingAuth{}).Count(&count)
	if count != 1 {
		t.Errorf("剩余记录 = %d, 期望 1", count)
	}
}

// ==================== 执行记录 ====================

func TestJobRunRepo_RecordRunUpserts(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewJobRunRepository(db)
	ctx := context.Background()

	first := time.Now().Add(-time.Hour)
	if err := repo.RecordRun(ctx, model.JobListing, first, false, "boom"); err != nil {
		t.Fatalf("RecordRun() error = %v", err)
	}
	second := time.Now()
	if err := repo.RecordRun(ctx, model.JobListing, second, true, "ok"); err != nil {
		t.Fatalf("RecordRun() error = %v", err)
	}

	runs, err := repo.All(ctx)
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("同一任务应只保留一条记录, 实际 %d", len(runs))
	}
	if !runs[0].Success || runs[0].Detail != "ok" {
		t.Errorf("记录未被覆盖: %+v", runs[0])
	}
}
