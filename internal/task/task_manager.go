package task

import (
	"log"

	"github.com/Akinlua/autods/internal/config"
	"github.com/Akinlua/autods/internal/repository"
	"github.com/Akinlua/autods/internal/service"
)

// ==================== TaskManager 同步任务管理器 ====================

// TaskManager 统一管理定时任务
// 管理范围：上架同步、下架、消息处理、授权码清理
type TaskManager struct {
	listingTask     *ListingTask
	removalTask     *RemovalTask
	messageTask     *MessageTask
	pendingAuthTask *PendingAuthTask
}

// TaskManagerDeps 任务管理器依赖
type TaskManagerDeps struct {
	Pipeline       *service.ListingPipeline
	MessageHandler *service.MessageHandler
	JobRepo        repository.JobRunRepository
	PendingRepo    repository.PendingAuthRepository
}

func NewTaskManager(deps TaskManagerDeps, schedules config.ScheduleConfig) *TaskManager {
	return &TaskManager{
		listingTask:     NewListingTask(deps.Pipeline, deps.JobRepo, schedules.Listing),
		removalTask:     NewRemovalTask(deps.Pipeline, deps.JobRepo, schedules.Removal),
		messageTask:     NewMessageTask(deps.MessageHandler, deps.JobRepo, schedules.Message),
		pendingAuthTask: NewPendingAuthTask(deps.PendingRepo),
	}
}

// Start 启动全部定时任务
func (m *TaskManager) Start() {
	m.listingTask.Start()
	m.removalTask.Start()
	m.messageTask.Start()
	m.pendingAuthTask.Start()
	log.Println("[Task] 全部定时任务已启动")
}

// Stop 停止全部定时任务
func (m *TaskManager) Stop() {
	m.listingTask.Stop()
	m.removalTask.Stop()
	m.messageTask.Stop()
	m.pendingAuthTask.Stop()
	log.Println("[Task] 全部定时任务已停止")
}

// TriggerListing 手动触发一轮上架同步
func (m *TaskManager) TriggerListing() error {
	return m.listingTask.Run()
}

// TriggerStockScan 手动触发一轮库存扫描下架
func (m *TaskManager) TriggerStockScan() error {
	return m.removalTask.RunStockScan()
}

// TriggerScheduledRemoval 手动触发一轮定时批量下架
func (m *TaskManager) TriggerScheduledRemoval() error {
	return m.removalTask.RunScheduled()
}

// TriggerMessages 手动触发一轮消息处理
func (m *TaskManager) TriggerMessages() error {
	return m.messageTask.Run()
}
