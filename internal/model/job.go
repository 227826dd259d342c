package model

import "time"

// 定时任务类型
const (
	JobListing = "listing"
	JobRemoval = "removal"
	JobMessage = "message"
)

// JobRun 每类任务最近一次执行的元数据，仅供状态接口展示
type JobRun struct {
	BaseModel
	JobType   string    `gorm:"size:20;uniqueIndex;not null"`
	LastRunAt time.Time `gorm:"not null"`
	Success   bool      `gorm:"default:false"`
	Detail    string    `gorm:"size:255"`
}

func (JobRun) TableName() string {
	return "job_runs"
}
