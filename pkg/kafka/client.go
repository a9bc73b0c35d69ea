// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"vera-go/internal/config"
	"vera-go/pkg/log"
	"vera-go/pkg/tasks"
)

const (
	// maxAttempts 是一个任务在提交 offset 放弃重试之前允许失败的次数。
	maxAttempts = 3
	// retryBackoff 是两次重试之间的基础等待时间，按失败次数线性增长。
	retryBackoff = 2 * time.Second
)

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.IngestTask) error
}

// AttemptCounter 记录任务失败次数。
type AttemptCounter interface {
	Incr(ctx context.Context, taskID string) (int64, error)
	Reset(ctx context.Context, taskID string) error
}

// Producer 把入库任务写入 Kafka。
type Producer struct {
	writer *kafka.Writer
}

func brokers(cfg config.KafkaConfig) []string {
	var out []string
	for _, b := range strings.Split(cfg.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	p := &Producer{writer: &kafka.Writer{
		Addr:     kafka.TCP(brokers(cfg)...),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}}
	log.Info("[Kafka] 生产者初始化成功")
	return p
}

// ProduceIngestTask 发送一个入库任务到 Kafka，以 JobID 作为消息 key。
func (p *Producer) ProduceIngestTask(ctx context.Context, task tasks.IngestTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.JobID),
		Value: taskBytes,
	})
}

// Close 关闭底层 writer。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// messageReader 是 kafka.Reader 中被消费循环用到的部分。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// StartConsumer 启动一个 Kafka 消费者来处理入库任务，直到 ctx 被取消。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, processor TaskProcessor, attempts AttemptCounter) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	log.Infof("[Kafka] 消费者已启动，正在监听主题 '%s'", cfg.Topic)
	consume(ctx, r, processor, attempts, retryBackoff)
}

func consume(ctx context.Context, r messageReader, processor TaskProcessor, attempts AttemptCounter, backoff time.Duration) {
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("[Kafka] 关闭消费者失败: %v", err)
		}
	}()

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Info("[Kafka] 消费者收到停止信号，退出")
			} else {
				log.Error("[Kafka] 从 Kafka 读取消息失败", err)
			}
			return
		}

		if !handleMessage(ctx, m, processor, attempts, backoff) {
			// 重试被 ctx 取消打断：不提交 offset，重启后由 Kafka 重新投递
			return
		}
		if err := r.CommitMessages(ctx, m); err != nil {
			log.Errorf("[Kafka] 提交 Kafka 消息 offset 失败: %v", err)
		}
	}
}

// handleMessage 处理一条消息，失败时按退避间隔原地重试，直到成功或累计失败 maxAttempts 次。
// 失败次数记录在 attempts 中，消费者重启后继续累计；计数器不可用时退回本地计数。
// 只有在 ctx 被取消、任务尚未完成时返回 false，此时不应提交 offset。
func handleMessage(ctx context.Context, m kafka.Message, processor TaskProcessor, attempts AttemptCounter, backoff time.Duration) bool {
	log.Infof("[Kafka] 收到 Kafka 消息: offset %d", m.Offset)

	var task tasks.IngestTask
	if err := json.Unmarshal(m.Value, &task); err != nil || task.JobID == "" {
		// 消息格式错误，直接提交，避免阻塞队列
		log.Errorf("[Kafka] 无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		return true
	}

	for attempt := int64(1); ; attempt++ {
		log.Infof("[Kafka] 开始处理入库任务: JobID=%s, Source=%s, 第 %d 次", task.JobID, task.Source(), attempt)
		err := processor.Process(ctx, task)
		if err == nil {
			log.Infof("[Kafka] 入库任务处理成功: JobID=%s", task.JobID)
			_ = attempts.Reset(ctx, task.JobID)
			return true
		}
		log.Errorf("[Kafka] 处理入库任务失败: JobID=%s, Error: %v", task.JobID, err)

		n, incErr := attempts.Incr(ctx, task.JobID)
		if incErr != nil {
			log.Errorf("[Kafka] 记录失败次数出错，使用本地计数: %v", incErr)
			n = attempt
		}
		if n >= maxAttempts {
			log.Errorf("[Kafka] 入库任务多次失败(>=%d)，提交 offset 终止重试: JobID=%s", maxAttempts, task.JobID)
			_ = attempts.Reset(ctx, task.JobID)
			return true
		}

		if err := sleepContext(ctx, backoff*time.Duration(n)); err != nil {
			log.Warnf("[Kafka] 重试等待被中断, JobID=%s: %v", task.JobID, err)
			return false
		}
	}
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
