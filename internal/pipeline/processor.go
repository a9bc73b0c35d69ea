// Package pipeline 定义了文档入库的核心流程。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"vera-go/internal/config"
	"vera-go/internal/model"
	"vera-go/internal/repository"
	"vera-go/pkg/embedding"
	"vera-go/pkg/log"
	"vera-go/pkg/vectorstore"
)

// TextExtractor 从本地文件或 URL 提取纯文本。
type TextExtractor interface {
	ExtractFile(ctx context.Context, path, fileName string) (string, error)
	ExtractURL(ctx context.Context, url string) (string, error)
}

// Embedder 把一批文本转换为向量。
type Embedder interface {
	Embed(ctx context.Context, texts []string, opts embedding.Options) ([][]float32, error)
	Model() string
}

// Options 是入库流程使用的常量。
type Options struct {
	Collection   string
	Dimension    int
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
	Retries      int
	Backoff      time.Duration
	TaskType     string
}

// OptionsFromConfig 从全局配置构建入库参数。
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Collection:   cfg.VectorStore.Collection,
		Dimension:    cfg.Embedding.Dimensions,
		ChunkSize:    cfg.Chunking.Size,
		ChunkOverlap: cfg.Chunking.Overlap,
		BatchSize:    cfg.Embedding.BatchSize,
		Retries:      cfg.Embedding.Retries,
		Backoff:      time.Duration(cfg.Embedding.BackoffSeconds * float64(time.Second)),
		TaskType:     cfg.Embedding.DocumentTaskType,
	}
}

// Source 描述一次入库的输入：本地文件或 URL，二选一。
type Source struct {
	FilePath string
	FileName string
	URL      string
	Domain   string
}

// Label 返回写入 payload 与台账的来源标签。
func (s Source) Label() string {
	if s.FilePath != "" {
		if s.FileName != "" {
			return s.FileName
		}
		return s.FilePath
	}
	return s.URL
}

// Processor 封装了文档入库的所有依赖和逻辑。
type Processor struct {
	extractor TextExtractor
	embedder  Embedder
	store     vectorstore.Store
	ledger    repository.MetadataRepository
	opts      Options
	newID     func() string
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	extractor TextExtractor,
	embedder Embedder,
	store vectorstore.Store,
	ledger repository.MetadataRepository,
	opts Options,
) *Processor {
	if opts.BatchSize <= 0 {
		opts.BatchSize = embedding.DefaultBatchSize
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	return &Processor{
		extractor: extractor,
		embedder:  embedder,
		store:     store,
		ledger:    ledger,
		opts:      opts,
		newID:     uuid.NewString,
	}
}

// Collection 返回入库写入的集合名。
func (p *Processor) Collection() string {
	return p.opts.Collection
}

// Ingest 是入库的主函数：提取文本 → 切块 → 确保集合 → 分批向量化并写入 → 更新台账。
// 某一批失败时，之前已写入的批次会保留在向量库中。
func (p *Processor) Ingest(ctx context.Context, src Source) (*model.IngestSummary, error) {
	if src.FilePath == "" && strings.TrimSpace(src.URL) == "" {
		return nil, validationError("no file or url provided")
	}
	source := src.Label()
	log.Infof("[Processor] 开始入库, Source: %s, Domain: %s, Collection: %s", source, src.Domain, p.opts.Collection)

	// 1. 提取文本
	text, err := p.extract(ctx, src)
	if err != nil {
		log.Warnf("[Processor] 提取文本失败, Source: %s, Error: %v", source, err)
		return nil, validationError("no textual content found in %s", source)
	}
	if strings.TrimSpace(text) == "" {
		log.Warnf("[Processor] 提取的文本内容为空, 处理中止, Source: %s", source)
		return nil, validationError("no textual content found in %s", source)
	}
	log.Infof("[Processor] 步骤1: 文本提取成功, 内容长度: %d 字符", utf8.RuneCountInString(text))

	// 2. 文本切块
	chunks, err := SplitText(text, p.opts.ChunkSize, p.opts.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	log.Infof("[Processor] 步骤2: 文本分块完成, 共生成 %d 个分块", len(chunks))

	// 3. 确保集合存在且维度一致
	if err := p.store.EnsureCollection(ctx, p.opts.Collection, p.opts.Dimension); err != nil {
		return nil, p.fail("确保集合存在失败", err)
	}

	// 4. 分批向量化并写入
	stored := 0
	for start := 0; start < len(chunks); start += p.opts.BatchSize {
		end := start + p.opts.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		n, err := p.ingestBatch(ctx, chunks[start:end], source, src.Domain)
		if err != nil {
			log.Errorf("[Processor] 批次 %d-%d 入库失败, 已写入 %d 个点: %v", start, end-1, stored, err)
			return nil, err
		}
		stored += n
		log.Infof("[Processor] 步骤4: 批次 %d-%d 写入成功, 累计 %d/%d", start, end-1, stored, len(chunks))
	}

	// 5. 读取集合总数并更新台账
	total, err := p.store.Count(ctx, p.opts.Collection, true)
	if err != nil {
		return nil, p.fail("读取集合点数失败", err)
	}
	if err := p.ledger.Update(p.opts.Collection, total, p.embedder.Model(), src.Domain, source); err != nil {
		return nil, p.fail("更新台账失败", err)
	}

	log.Infof("[Processor] 入库成功完成, Source: %s, 分块: %d, 集合总点数: %d", source, stored, total)
	return &model.IngestSummary{
		Status:      "success",
		Message:     "chunks_stored_successfully",
		Collection:  p.opts.Collection,
		TotalChunks: stored,
		Vectors:     total,
		Source:      source,
		Domain:      src.Domain,
	}, nil
}

func (p *Processor) extract(ctx context.Context, src Source) (string, error) {
	if src.FilePath != "" {
		return p.extractor.ExtractFile(ctx, src.FilePath, src.FileName)
	}
	return p.extractor.ExtractURL(ctx, strings.TrimSpace(src.URL))
}

func (p *Processor) ingestBatch(ctx context.Context, batch []model.Chunk, source, domain string) (int, error) {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}

	vectors, err := p.embedder.Embed(ctx, texts, embedding.Options{
		BatchSize:            len(texts),
		Retries:              p.opts.Retries,
		Backoff:              p.opts.Backoff,
		TaskType:             p.opts.TaskType,
		OutputDimensionality: p.opts.Dimension,
	})
	if err != nil {
		return 0, p.fail("向量化失败", err)
	}
	if len(vectors) != len(batch) {
		return 0, p.fail("向量化失败", fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(batch)))
	}

	points := make([]vectorstore.Point, len(batch))
	for i, vec := range vectors {
		if len(vec) != p.opts.Dimension {
			return 0, fmt.Errorf("%w: embedding dim=%d, expected %d; check embedding model/output_dimensionality",
				ErrDimensionMismatch, len(vec), p.opts.Dimension)
		}
		points[i] = vectorstore.Point{
			ID:      p.newID(),
			Vector:  vec,
			Payload: vectorstore.Payload{Text: batch[i].Text, Source: source, Domain: domain},
		}
	}

	if err := p.store.Upsert(ctx, p.opts.Collection, points); err != nil {
		return 0, p.fail("写入向量库失败", err)
	}
	return len(points), nil
}

// fail 记录错误并包装为入库失败；维度配置错误原样返回。
func (p *Processor) fail(step string, err error) error {
	log.Errorf("[Processor] %s: %v", step, err)
	if errors.Is(err, vectorstore.ErrConfiguration) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrIngestion, step, err)
}
