package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"vera-go/internal/model"
	"vera-go/pkg/log"
	"vera-go/pkg/tasks"
)

// ObjectDownloader 把对象存储中的源文件下载到本地。
type ObjectDownloader interface {
	Download(ctx context.Context, objectName, filePath string) error
}

// JobTracker 记录异步入库任务的状态变化。
type JobTracker interface {
	MarkRunning(id string) error
	MarkSucceeded(id string, totalChunks, vectors int) error
	MarkFailed(id string, cause error) error
}

// TaskProcessor 消费 Kafka 中的入库任务，驱动 Processor 完成入库。
type TaskProcessor struct {
	processor  *Processor
	objects    ObjectDownloader
	jobs       JobTracker
	stagingDir string
}

// NewTaskProcessor 创建一个新的 TaskProcessor 实例。stagingDir 为空时使用系统临时目录。
func NewTaskProcessor(processor *Processor, objects ObjectDownloader, jobs JobTracker, stagingDir string) *TaskProcessor {
	return &TaskProcessor{processor: processor, objects: objects, jobs: jobs, stagingDir: stagingDir}
}

// Process 执行一个入库任务。输入类错误不会因重试而改变，记为失败后返回 nil 以提交 offset。
func (t *TaskProcessor) Process(ctx context.Context, task tasks.IngestTask) error {
	if err := t.jobs.MarkRunning(task.JobID); err != nil {
		log.Warnf("[TaskProcessor] 更新任务状态为 running 失败, JobID: %s, Error: %v", task.JobID, err)
	}

	summary, err := t.run(ctx, task)
	if err != nil {
		if markErr := t.jobs.MarkFailed(task.JobID, err); markErr != nil {
			log.Errorf("[TaskProcessor] 更新任务状态为 failed 失败, JobID: %s, Error: %v", task.JobID, markErr)
		}
		if errors.Is(err, ErrValidation) {
			log.Warnf("[TaskProcessor] 任务输入无效，不再重试, JobID: %s, Error: %v", task.JobID, err)
			return nil
		}
		return err
	}

	if err := t.jobs.MarkSucceeded(task.JobID, summary.TotalChunks, summary.Vectors); err != nil {
		log.Errorf("[TaskProcessor] 更新任务状态为 succeeded 失败, JobID: %s, Error: %v", task.JobID, err)
	}
	return nil
}

func (t *TaskProcessor) run(ctx context.Context, task tasks.IngestTask) (*model.IngestSummary, error) {
	src := Source{URL: task.URL, FileName: task.FileName, Domain: task.Domain}
	if task.ObjectName != "" {
		path, cleanup, err := t.stage(ctx, task)
		if err != nil {
			return nil, fmt.Errorf("%w: stage source object: %w", ErrIngestion, err)
		}
		defer cleanup()
		src.FilePath = path
		src.URL = ""
	}

	return t.processor.Ingest(ctx, src)
}

// stage 把对象下载到临时文件，返回的 cleanup 在任何退出路径上都必须调用。
func (t *TaskProcessor) stage(ctx context.Context, task tasks.IngestTask) (string, func(), error) {
	if t.stagingDir != "" {
		if err := os.MkdirAll(t.stagingDir, 0o755); err != nil {
			return "", nil, err
		}
	}
	f, err := os.CreateTemp(t.stagingDir, "ingest-*"+filepath.Ext(task.FileName))
	if err != nil {
		return "", nil, err
	}
	path := f.Name()
	cleanup := func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warnf("[TaskProcessor] 删除临时文件失败: %s, Error: %v", path, err)
		}
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, err
	}

	log.Infof("[TaskProcessor] 从对象存储下载源文件, Object: %s", task.ObjectName)
	if err := t.objects.Download(ctx, task.ObjectName, path); err != nil {
		cleanup()
		return "", nil, err
	}
	return path, cleanup, nil
}
