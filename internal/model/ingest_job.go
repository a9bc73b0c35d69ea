package model

import "time"

// 异步入库任务的状态。
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
)

// IngestJob 对应于数据库中的 ingest_jobs 表，记录通过 Kafka 排队的入库任务。
type IngestJob struct {
	ID          string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	Collection  string     `gorm:"type:varchar(255);not null;index" json:"collection"`
	Source      string     `gorm:"type:varchar(1024);not null" json:"source"`
	Domain      string     `gorm:"type:varchar(64);not null" json:"domain"`
	ObjectName  string     `gorm:"type:varchar(1024)" json:"objectName,omitempty"`
	Status      string     `gorm:"type:varchar(16);not null;index" json:"status"`
	TotalChunks int        `gorm:"not null;default:0" json:"totalChunks"`
	Vectors     int        `gorm:"not null;default:0" json:"vectors"`
	Error       string     `gorm:"type:text" json:"error,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
	FinishedAt  *time.Time `gorm:"default:null" json:"finishedAt,omitempty"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (IngestJob) TableName() string {
	return "ingest_jobs"
}
