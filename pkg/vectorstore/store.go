// Package vectorstore 定义向量库适配层，并提供 Qdrant、Elasticsearch 与内存三种实现。
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"vera-go/internal/config"
)

var (
	// ErrConfiguration 表示已有集合的向量维度与期望不一致。
	ErrConfiguration = errors.New("vector store configuration error")
	// ErrCollectionNotFound 表示请求的集合不存在。
	ErrCollectionNotFound = errors.New("collection not found")
)

// Payload 是随向量一起存储的元数据。
type Payload struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Domain string `json:"domain"`
}

// Point 是向量库中的最小存储单元。
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// ScoredPoint 是一次相似度检索的命中结果。
type ScoredPoint struct {
	ID      string
	Score   float64
	Payload Payload
}

// CollectionDescription 是列出集合时的单条条目。
type CollectionDescription struct {
	Name string `json:"name"`
}

// CollectionInfo 描述单个集合的统计信息。
type CollectionInfo struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	Dimension   int    `json:"dimension"`
	Distance    string `json:"distance"`
	PointsCount int    `json:"points_count"`
}

// Store 是核心流程依赖的向量库能力。所有实现都必须可被多个请求并发使用。
type Store interface {
	// EnsureCollection 在集合不存在时以 cosine 距离创建；已存在但维度不同则返回 ErrConfiguration。
	EnsureCollection(ctx context.Context, name string, dim int) error
	Upsert(ctx context.Context, name string, points []Point) error
	// Search 按 cosine 相似度返回最多 topK 个点，按相似度降序。
	Search(ctx context.Context, name string, vector []float32, topK int) ([]ScoredPoint, error)
	Count(ctx context.Context, name string, exact bool) (int, error)
	ListCollections(ctx context.Context) ([]CollectionDescription, error)
	GetCollection(ctx context.Context, name string) (CollectionInfo, error)
	DeleteCollection(ctx context.Context, name string) error
}

func dimensionMismatch(name string, existing, expected int) error {
	return fmt.Errorf("%w: collection '%s' has dimension=%d, expected %d; drop/recreate the collection or use a new collection name",
		ErrConfiguration, name, existing, expected)
}

func notFound(name string) error {
	return fmt.Errorf("%w: collection '%s' not found", ErrCollectionNotFound, name)
}

// New 根据配置创建向量库实现。
func New(cfg config.VectorStoreConfig) (Store, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "qdrant":
		return NewQdrant(cfg.Qdrant), nil
	case "elasticsearch", "es":
		return NewElastic(cfg.Elasticsearch)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported vector_store.type: %s", cfg.Type)
	}
}
