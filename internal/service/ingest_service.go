package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"vera-go/internal/model"
	"vera-go/internal/pipeline"
	"vera-go/internal/repository"
	"vera-go/pkg/log"
	"vera-go/pkg/tasks"
)

// ErrAsyncDisabled 表示未开启异步入库时请求了 async 模式。
var ErrAsyncDisabled = fmt.Errorf("%w: async ingestion is not enabled", pipeline.ErrValidation)

// Upload 是一个待入库的上传文件。Size 未知时为 -1。
type Upload struct {
	Reader   io.Reader
	FileName string
	Size     int64
}

// Ingester 是入库编排器对 service 层暴露的能力。
type Ingester interface {
	Ingest(ctx context.Context, src pipeline.Source) (*model.IngestSummary, error)
	Collection() string
}

// ObjectUploader 把源文件写入对象存储。
type ObjectUploader interface {
	Put(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) error
}

// TaskProducer 把入库任务投递到消息队列。
type TaskProducer interface {
	ProduceIngestTask(ctx context.Context, task tasks.IngestTask) error
}

// IngestService 定义了文档入库相关的操作。
type IngestService interface {
	IngestFile(ctx context.Context, upload Upload, domain string) (*model.IngestSummary, error)
	IngestURL(ctx context.Context, url, domain string) (*model.IngestSummary, error)
	EnqueueFile(ctx context.Context, upload Upload, domain string) (*model.IngestAccepted, error)
	EnqueueURL(ctx context.Context, url, domain string) (*model.IngestAccepted, error)
	GetJob(ctx context.Context, id string) (*model.IngestJob, error)
}

// AsyncDeps 是异步入库需要的依赖，未开启异步时全部为 nil。
type AsyncDeps struct {
	Objects  ObjectUploader
	Producer TaskProducer
	Jobs     repository.IngestJobRepository
}

type ingestService struct {
	ingester   Ingester
	stagingDir string
	async      AsyncDeps
}

// NewIngestService 创建一个新的 IngestService 实例。
func NewIngestService(ingester Ingester, stagingDir string, async AsyncDeps) IngestService {
	return &ingestService{ingester: ingester, stagingDir: stagingDir, async: async}
}

func (s *ingestService) asyncEnabled() bool {
	return s.async.Objects != nil && s.async.Producer != nil && s.async.Jobs != nil
}

// IngestFile 把上传内容暂存到临时文件后同步入库，临时文件在任何退出路径上都会被删除。
func (s *ingestService) IngestFile(ctx context.Context, upload Upload, domain string) (*model.IngestSummary, error) {
	if upload.Reader == nil || strings.TrimSpace(upload.FileName) == "" {
		return nil, fmt.Errorf("%w: no file provided", pipeline.ErrValidation)
	}

	path, err := s.stage(upload)
	if err != nil {
		return nil, fmt.Errorf("%w: stage upload: %w", pipeline.ErrIngestion, err)
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warnf("[IngestService] 删除临时文件失败: %s, Error: %v", path, err)
		}
	}()

	log.Infof("[IngestService] 上传文件已暂存: %s -> %s", upload.FileName, path)
	return s.ingester.Ingest(ctx, pipeline.Source{FilePath: path, FileName: upload.FileName, Domain: domain})
}

func (s *ingestService) IngestURL(ctx context.Context, url, domain string) (*model.IngestSummary, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("%w: no url provided", pipeline.ErrValidation)
	}
	return s.ingester.Ingest(ctx, pipeline.Source{URL: url, Domain: domain})
}

func (s *ingestService) stage(upload Upload) (string, error) {
	if s.stagingDir != "" {
		if err := os.MkdirAll(s.stagingDir, 0o755); err != nil {
			return "", err
		}
	}
	f, err := os.CreateTemp(s.stagingDir, "upload-*"+filepath.Ext(upload.FileName))
	if err != nil {
		return "", err
	}
	_, copyErr := io.Copy(f, upload.Reader)
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// EnqueueFile 把上传文件归档到对象存储，创建任务记录并投递到 Kafka。
func (s *ingestService) EnqueueFile(ctx context.Context, upload Upload, domain string) (*model.IngestAccepted, error) {
	if !s.asyncEnabled() {
		return nil, ErrAsyncDisabled
	}
	if upload.Reader == nil || strings.TrimSpace(upload.FileName) == "" {
		return nil, fmt.Errorf("%w: no file provided", pipeline.ErrValidation)
	}

	jobID := uuid.NewString()
	objectName := fmt.Sprintf("sources/%s/%s", jobID, filepath.Base(upload.FileName))
	contentType := mime.TypeByExtension(filepath.Ext(upload.FileName))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := s.async.Objects.Put(ctx, objectName, upload.Reader, upload.Size, contentType); err != nil {
		return nil, fmt.Errorf("%w: archive upload: %w", pipeline.ErrIngestion, err)
	}

	return s.enqueue(ctx, tasks.IngestTask{
		JobID:      jobID,
		ObjectName: objectName,
		FileName:   upload.FileName,
		Domain:     domain,
	})
}

func (s *ingestService) EnqueueURL(ctx context.Context, url, domain string) (*model.IngestAccepted, error) {
	if !s.asyncEnabled() {
		return nil, ErrAsyncDisabled
	}
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("%w: no url provided", pipeline.ErrValidation)
	}
	return s.enqueue(ctx, tasks.IngestTask{JobID: uuid.NewString(), URL: url, Domain: domain})
}

func (s *ingestService) enqueue(ctx context.Context, task tasks.IngestTask) (*model.IngestAccepted, error) {
	job := &model.IngestJob{
		ID:         task.JobID,
		Collection: s.ingester.Collection(),
		Source:     task.Source(),
		Domain:     task.Domain,
		ObjectName: task.ObjectName,
		Status:     model.JobStatusQueued,
	}
	if err := s.async.Jobs.Create(job); err != nil {
		return nil, fmt.Errorf("%w: create job record: %w", pipeline.ErrIngestion, err)
	}

	if err := s.async.Producer.ProduceIngestTask(ctx, task); err != nil {
		log.Errorf("[IngestService] 投递入库任务失败, JobID: %s, Error: %v", task.JobID, err)
		_ = s.async.Jobs.MarkFailed(task.JobID, err)
		return nil, fmt.Errorf("%w: produce task: %w", pipeline.ErrIngestion, err)
	}

	log.Infof("[IngestService] 入库任务已排队, JobID: %s, Source: %s", task.JobID, task.Source())
	return &model.IngestAccepted{Status: model.JobStatusQueued, JobID: task.JobID, Source: task.Source(), Domain: task.Domain}, nil
}

func (s *ingestService) GetJob(_ context.Context, id string) (*model.IngestJob, error) {
	if !s.asyncEnabled() {
		return nil, ErrAsyncDisabled
	}
	return s.async.Jobs.FindByID(id)
}
