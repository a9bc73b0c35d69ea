package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vera-go/pkg/log"
)

// ErrEmbedding 表示 embedding 调用在重试耗尽后仍失败，或响应形状不合法。
var ErrEmbedding = errors.New("embedding error")

const (
	DefaultBatchSize = 50
	DefaultBackoff   = 2 * time.Second
)

// Options 控制一次 Embed 调用的批大小、重试与请求提示。
// Retries 是每批的总尝试次数，必须至少为 1；默认值由配置层提供。
type Options struct {
	BatchSize            int
	Retries              int
	Backoff              time.Duration
	TaskType             string
	OutputDimensionality int
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Backoff < 0 {
		o.Backoff = 0
	}
	return o
}

// Gateway 负责分批调用 embedding 服务商，并对每批做重试与形状校验。
// 它本身无状态，可以被多个请求并发使用。
type Gateway struct {
	provider Provider
	model    string
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewGateway 创建一个新的 Gateway 实例。
func NewGateway(provider Provider, model string) *Gateway {
	return &Gateway{provider: provider, model: model, sleep: sleepContext}
}

// Model 返回 gateway 使用的 embedding 模型名。
func (g *Gateway) Model() string {
	return g.model
}

// Embed 为每条输入文本返回一条向量，顺序与输入一致。
// 任意一批在重试耗尽后失败都会让整个调用失败，之前成功的批次结果被丢弃。
func (g *Gateway) Embed(ctx context.Context, texts []string, opts Options) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no chunks provided to embedding", ErrEmbedding)
	}
	if opts.Retries < 1 {
		return nil, fmt.Errorf("%w: retries must be at least 1, got %d", ErrEmbedding, opts.Retries)
	}
	opts = opts.withDefaults()

	all := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += opts.BatchSize {
		end := start + opts.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := g.embedBatch(ctx, texts[start:end], start, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, vectors...)
	}

	dim := len(all[0])
	for i, v := range all {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: inconsistent embedding dimensions across results (vector %d has %d, expected %d)", ErrEmbedding, i, len(v), dim)
		}
	}

	batches := (len(texts) + opts.BatchSize - 1) / opts.BatchSize
	log.Infof("[EmbeddingGateway] 成功生成 %d 条向量, 批次数: %d, 维度: %d", len(all), batches, dim)
	return all, nil
}

func (g *Gateway) embedBatch(ctx context.Context, batch []string, offset int, opts Options) ([][]float32, error) {
	req := Request{
		Model:                g.model,
		Texts:                batch,
		TaskType:             opts.TaskType,
		OutputDimensionality: opts.OutputDimensionality,
	}

	var lastErr error
	for attempt := 1; attempt <= opts.Retries; attempt++ {
		log.Infof("[EmbeddingGateway] 向量化批次 %d-%d (size=%d), 第 %d/%d 次尝试", offset, offset+len(batch)-1, len(batch), attempt, opts.Retries)

		vectors, err := g.callOnce(ctx, req)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		log.Warnf("[EmbeddingGateway] 批次向量化失败 (attempt %d/%d): %v", attempt, opts.Retries, err)

		if attempt < opts.Retries {
			if sleepErr := g.sleep(ctx, opts.Backoff*time.Duration(attempt)); sleepErr != nil {
				return nil, fmt.Errorf("%w: batch %d-%d aborted: %w", ErrEmbedding, offset, offset+len(batch)-1, sleepErr)
			}
		}
	}

	log.Errorf("[EmbeddingGateway] 批次 %d-%d 重试耗尽: %v", offset, offset+len(batch)-1, lastErr)
	return nil, fmt.Errorf("%w: failed to embed batch after %d attempts: %w", ErrEmbedding, opts.Retries, lastErr)
}

func (g *Gateway) callOnce(ctx context.Context, req Request) ([][]float32, error) {
	items, err := g.provider.EmbedContents(ctx, req)
	if err != nil {
		return nil, err
	}
	vectors, err := ParseEmbeddings(items)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(req.Texts) {
		return nil, fmt.Errorf("%w: mismatch, got %d vectors, expected %d inputs", ErrEmbedding, len(vectors), len(req.Texts))
	}
	return vectors, nil
}

// sleepContext 阻塞 d 时长，ctx 取消时提前返回。
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
