package task

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Akinlua/autods/internal/model"
	"github.com/Akinlua/autods/internal/repository"
)

// PendingAuthTask 授权码清理任务。
// 授权码有效期很短，过期记录留着只会在轮询时白白扫表，每小时清一次。
type PendingAuthTask struct {
	PendingRepo repository.PendingAuthRepository
	Cron        *cron.Cron
}

func NewPendingAuthTask(pendingRepo repository.PendingAuthRepository) *PendingAuthTask {
	return &PendingAuthTask{
		PendingRepo: pendingRepo,
		Cron:        cron.New(cron.WithSeconds()),
	}
}

// Start 启动定时任务
func (t *PendingAuthTask) Start() {
	_, err := t.Cron.AddFunc("0 0 * * * *", func() {
		t.cleanJob()
	})
	if err != nil {
		log.Fatalf("无法启动授权码清理任务: %v", err)
	}

	t.Cron.Start()
	log.Println("授权码清理任务已启动 (每小时一次)")
}

// Stop 停止定时任务
func (t *PendingAuthTask) Stop() {
	t.Cron.Stop()
}

func (t *PendingAuthTask) cleanJob() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	deleted, err := t.PendingRepo.DeleteExpired(ctx, time.Now().Add(-model.PendingAuthTTL))
	if err != nil {
		log.Printf("[Cron] 授权码清理失败: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("[Cron] 已清理 %d 条过期授权码", deleted)
	}
}
