package controller

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Akinlua/autods/internal/model"
	"github.com/Akinlua/autods/internal/repository"
	"github.com/Akinlua/autods/internal/task"
)

// SyncController 同步任务的手动触发与状态查询接口
type SyncController struct {
	tasks     *task.TaskManager
	jobRepo   repository.JobRunRepository
	tokenRepo repository.TokenRepository
}

func NewSyncController(tasks *task.TaskManager, jobRepo repository.JobRunRepository, tokenRepo repository.TokenRepository) *SyncController {
	return &SyncController{
		tasks:     tasks,
		jobRepo:   jobRepo,
		tokenRepo: tokenRepo,
	}
}

// trigger 异步触发一个任务，重入冲突返回 409
func (ctrl *SyncController) trigger(c *gin.Context, name string, fn func() error) {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	// 任务耗时很长，只等互斥检查的结果窗口，随后转后台执行
	select {
	case err := <-done:
		if errors.Is(err, task.ErrJobRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": name + " 已有一轮在执行"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": name + " 执行失败", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": name + " 执行完成"})
	case <-time.After(2 * time.Second):
		c.JSON(http.StatusAccepted, gin.H{"message": name + " 已在后台执行"})
	}
}

// RunListing 手动触发上架同步
// POST /api/jobs/listing/run
func (ctrl *SyncController) RunListing(c *gin.Context) {
	ctrl.trigger(c, "上架同步", ctrl.tasks.TriggerListing)
}

// RunStockScan 手动触发库存扫描下架
// POST /api/jobs/removal/run
func (ctrl *SyncController) RunStockScan(c *gin.Context) {
	ctrl.trigger(c, "库存下架", ctrl.tasks.TriggerStockScan)
}

// RunScheduledRemoval 手动触发定时批量下架
// POST /api/jobs/removal/scheduled/run
func (ctrl *SyncController) RunScheduledRemoval(c *gin.Context) {
	ctrl.trigger(c, "定时批量下架", ctrl.tasks.TriggerScheduledRemoval)
}

// RunMessages 手动触发消息处理
// POST /api/jobs/messages/run
func (ctrl *SyncController) RunMessages(c *gin.Context) {
	ctrl.trigger(c, "消息处理", ctrl.tasks.TriggerMessages)
}

// Status 查询任务执行记录和 Token 状态
// GET /api/status
func (ctrl *SyncController) Status(c *gin.Context) {
	ctx := c.Request.Context()

	runs, err := ctrl.jobRepo.All(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询执行记录失败", "detail": err.Error()})
		return
	}

	tokens := gin.H{}
	for _, svc := range []string{model.ServiceEbay, model.ServiceAutoDS} {
		token, terr := ctrl.tokenRepo.FindLatestActive(ctx, svc)
		switch {
		case terr != nil:
			tokens[svc] = gin.H{"status": "error", "detail": terr.Error()}
		case token == nil:
			tokens[svc] = gin.H{"status": "missing"}
		default:
			status := "valid"
			if !token.ValidFor(0) {
				status = "expired"
			}
			tokens[svc] = gin.H{
				"status":     status,
				"expires_at": token.ExpiresAt,
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":   runs,
		"tokens": tokens,
	})
}
