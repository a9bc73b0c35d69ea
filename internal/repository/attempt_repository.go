package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// AttemptRepository 记录每个异步任务的失败次数，用于决定何时放弃重试。
type AttemptRepository interface {
	Incr(ctx context.Context, taskID string) (int64, error)
	Reset(ctx context.Context, taskID string) error
}

type redisAttemptRepository struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewAttemptRepository 创建一个基于 Redis 的 AttemptRepository。
func NewAttemptRepository(rdb *redis.Client) AttemptRepository {
	return &redisAttemptRepository{rdb: rdb, ttl: 24 * time.Hour}
}

func attemptsKey(taskID string) string {
	return fmt.Sprintf("kafka:attempts:%s", taskID)
}

func (r *redisAttemptRepository) Incr(ctx context.Context, taskID string) (int64, error) {
	key := attemptsKey(taskID)
	attempts, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	_ = r.rdb.Expire(ctx, key, r.ttl).Err()
	return attempts, nil
}

func (r *redisAttemptRepository) Reset(ctx context.Context, taskID string) error {
	return r.rdb.Del(ctx, attemptsKey(taskID)).Err()
}
