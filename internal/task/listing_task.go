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

// ErrJobRunning 同类任务已有一轮在跑
var ErrJobRunning = errors.New("job already running")

// 单轮上架同步的执行上限（含两次等待窗口和补齐重试）
const listingJobTimeout = 30 * time.Minute

// ListingTask 上架同步定时任务
type ListingTask struct {
	Pipeline *service.ListingPipeline
	JobRepo  repository.JobRunRepository
	Cron     *cron.Cron

	schedule string
	running  atomic.Bool
}

func NewListingTask(pipeline *service.ListingPipeline, jobRepo repository.JobRunRepository, schedule string) *ListingTask {
	return &ListingTask{
		Pipeline: pipeline,
		JobRepo:  jobRepo,
		Cron:     cron.New(cron.WithSeconds()),
		schedule: schedule,
	}
}

// Start 启动定时任务
func (t *ListingTask) Start() {
	_, err := t.Cron.AddFunc(t.schedule, func() {
		if err := t.Run(); err != nil && !errors.Is(err, ErrJobRunning) {
			log.Printf("[Cron] 上架同步执行失败: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("无法启动上架同步定时任务: %v", err)
	}

	t.Cron.Start()
	log.Printf("上架同步任务已启动 (cron: %s)", t.schedule)
}

// Stop 停止定时任务
func (t *ListingTask) Stop() {
	t.Cron.Stop()
}

// Run 执行一轮上架同步。同类任务内互斥，重入直接拒绝。
func (t *ListingTask) Run() error {
	if !t.running.CompareAndSwap(false, true) {
		log.Println("[Cron] 上架同步仍在执行，跳过本次触发")
		return ErrJobRunning
	}
	defer t.running.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), listingJobTimeout)
	defer cancel()

	started := time.Now()
	_, err := t.Pipeline.RunListing(ctx)
	detail := "ok"
	if err != nil {
		detail = err.Error()
	}
	if rerr := t.JobRepo.RecordRun(ctx, model.JobListing, started, err == nil, detail); rerr != nil {
		log.Printf("[Cron] 上架同步执行记录写入失败: %v", rerr)
	}
	return err
}
