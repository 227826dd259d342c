package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Akinlua/autods/internal/model"
)

// JobRunRepository 任务执行元数据仓储接口
type JobRunRepository interface {
	// RecordRun 记录一类任务的最近一次执行（每类任务仅保留一行）
	RecordRun(ctx context.Context, jobType string, at time.Time, success bool, detail string) error

	// All 返回所有任务的最近执行记录，供状态接口展示
	All(ctx context.Context) ([]model.JobRun, error)
}

type jobRunRepo struct {
	db *gorm.DB
}

func NewJobRunRepository(db *gorm.DB) JobRunRepository {
	return &jobRunRepo{db: db}
}

func (r *jobRunRepo) RecordRun(ctx context.Context, jobType string, at time.Time, success bool, detail string) error {
	run := model.JobRun{
		JobType:   jobType,
		LastRunAt: at,
		Success:   success,
		Detail:    detail,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_type"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_run_at", "success", "detail", "updated_at"}),
		}).
		Create(&run).Error
}

func (r *jobRunRepo) All(ctx context.Context) ([]model.JobRun, error) {
	var runs []model.JobRun
	err := r.db.WithContext(ctx).Order("job_type").Find(&runs).Error
	return runs, err
}
