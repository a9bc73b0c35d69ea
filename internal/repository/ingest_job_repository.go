package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"vera-go/internal/model"
)

// ErrJobNotFound 表示请求的入库任务不存在。
var ErrJobNotFound = errors.New("ingest job not found")

// IngestJobRepository 定义了异步入库任务的持久化操作。
type IngestJobRepository interface {
	Create(job *model.IngestJob) error
	FindByID(id string) (*model.IngestJob, error)
	MarkRunning(id string) error
	MarkSucceeded(id string, totalChunks, vectors int) error
	MarkFailed(id string, cause error) error
}

type ingestJobRepository struct {
	db *gorm.DB
}

// NewIngestJobRepository 创建一个新的 IngestJobRepository 实例。
func NewIngestJobRepository(db *gorm.DB) IngestJobRepository {
	return &ingestJobRepository{db: db}
}

func (r *ingestJobRepository) Create(job *model.IngestJob) error {
	return r.db.Create(job).Error
}

func (r *ingestJobRepository) FindByID(id string) (*model.IngestJob, error) {
	var job model.IngestJob
	err := r.db.Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *ingestJobRepository) MarkRunning(id string) error {
	return r.db.Model(&model.IngestJob{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": model.JobStatusRunning, "error": ""}).Error
}

func (r *ingestJobRepository) MarkSucceeded(id string, totalChunks, vectors int) error {
	now := time.Now()
	return r.db.Model(&model.IngestJob{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":       model.JobStatusSucceeded,
		"total_chunks": totalChunks,
		"vectors":      vectors,
		"error":        "",
		"finished_at":  &now,
	}).Error
}

func (r *ingestJobRepository) MarkFailed(id string, cause error) error {
	now := time.Now()
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return r.db.Model(&model.IngestJob{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":      model.JobStatusFailed,
		"error":       msg,
		"finished_at": &now,
	}).Error
}
