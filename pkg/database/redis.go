package database

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"vera-go/internal/config"
	"vera-go/pkg/log"
)

var RDB *redis.Client

// InitRedis 初始化 Redis 客户端连接，连接不可用时返回错误。
func InitRedis(cfg config.RedisConfig) error {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	RDB = rdb
	log.Infof("[Database] Redis 连接成功: %s", cfg.Addr)
	return nil
}
