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

const messageJobTimeout = 10 * time.Minute

// MessageTask 买家消息处理定时任务
type MessageTask struct {
	Handler *service.MessageHandler
	JobRepo repository.JobRunRepository
	Cron    *cron.Cron

	schedule string
	running  atomic.Bool
}

func NewMessageTask(handler *service.MessageHandler, jobRepo repository.JobRunRepository, schedule string) *MessageTask {
	return &MessageTask{
		Handler:  handler,
		JobRepo:  jobRepo,
		Cron:     cron.New(cron.WithSeconds()),
		schedule: schedule,
	}
}

// Start 启动定时任务
func (t *MessageTask) Start() {
	_, err := t.Cron.AddFunc(t.schedule, func() {
		if err := t.Run(); err != nil && !errors.Is(err, ErrJobRunning) {
			log.Printf("[Cron] 消息处理执行失败: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("无法启动消息处理定时任务: %v", err)
	}

	t.Cron.Start()
	log.Printf("消息处理任务已启动 (cron: %s)", t.schedule)
}

// Stop 停止定时任务
func (t *MessageTask) Stop() {
	t.Cron.Stop()
}

// Run 执行一轮消息处理
func (t *MessageTask) Run() error {
	if !t.running.CompareAndSwap(false, true) {
		log.Println("[Cron] 消息处理仍在执行，跳过本次触发")
		return ErrJobRunning
	}
	defer t.running.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), messageJobTimeout)
	defer cancel()

	started := time.Now()
	err := t.Handler.ProcessMessages(ctx)
	detail := "ok"
	if err != nil {
		detail = err.Error()
	}
	if rerr := t.JobRepo.RecordRun(ctx, model.JobMessage, started, err == nil, detail); rerr != nil {
		log.Printf("[Cron] 消息处理执行记录写入失败: %v", rerr)
	}
	return err
}
