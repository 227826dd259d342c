package task

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Akinlua/autods/internal/model"
	"github.com/Akinlua/autods/internal/repository"
	"github.com/Akinlua/autods/internal/service"
)

const removalJobTimeout = 30 * time.Minute

// RemovalTask 下架定时任务。
// 定时触发的是定时批量下架（最近 N 条），
// 库存扫描下架走手动触发或单独的调度入口。
type RemovalTask struct {
	Pipeline *service.ListingPipeline
	JobRepo  repository.JobRunRepository
	Cron     *cron.Cron

	schedule string
	running  atomic.Bool
}

func NewRemovalTask(pipeline *service.ListingPipeline, jobRepo repository.JobRunRepository, schedule string) *RemovalTask {
	return &RemovalTask{
		Pipeline: pipeline,
		JobRepo:  jobRepo,
		Cron:     cron.New(cron.WithSeconds()),
		schedule: schedule,
	}
}

// Start 启动定时任务
func (t *RemovalTask) Start() {
	_, err := t.Cron.AddFunc(t.schedule, func() {
		if err := t.RunScheduled(); err != nil && !errors.Is(err, ErrJobRunning) {
			log.Printf("[Cron] 定时批量下架执行失败: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("无法启动下架定时任务: %v", err)
	}

	t.Cron.Start()
	log.Printf("下架任务已启动 (cron: %s)", t.schedule)
}

// Stop 停止定时任务
func (t *RemovalTask) Stop() {
	t.Cron.Stop()
}

// RunStockScan 执行一轮库存扫描下架
func (t *RemovalTask) RunStockScan() error {
	return t.run(func(ctx context.Context) error {
		return t.Pipeline.RunRemoval(ctx)
	})
}

// RunScheduled 执行一轮定时批量下架
func (t *RemovalTask) RunScheduled() error {
	return t.run(func(ctx context.Context) error {
		return t.Pipeline.RunScheduledRemoval(ctx)
	})
}

// run 两种下架模式共用的互斥执行与记录逻辑。
// 两种模式都改同一批在售记录，必须串行。
func (t *RemovalTask) run(fn func(ctx context.Context) error) error {
	if !t.running.CompareAndSwap(false, true) {
		log.Println("[Cron] 下架任务仍在执行，跳过本次触发")
		return ErrJobRunning
	}
	defer t.running.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), removalJobTimeout)
	defer cancel()

	started := time.Now()
	err := fn(ctx)
	detail := "ok"
	if err != nil {
		detail = err.Error()
	}
	if rerr := t.JobRepo.RecordRun(ctx, model.JobRemoval, started, err == nil, detail); rerr != nil {
		log.Printf("[Cron] 下架任务执行记录写入失败: %v", rerr)
	}
	return err
}
