package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"vera-go/internal/config"
	"vera-go/pkg/log"
)

// Qdrant 是基于 Qdrant REST 接口的最小客户端，距离固定为 Cosine。
type Qdrant struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewQdrant 创建 Qdrant 客户端。
func NewQdrant(cfg config.QdrantConfig) *Qdrant {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if cfg.APIKey != "" {
		log.Infof("[Qdrant] 使用 API key 连接 Qdrant: %s", cfg.URL)
	} else {
		log.Infof("[Qdrant] 无 API key 连接 Qdrant: %s", cfg.URL)
	}
	return &Qdrant{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type qdrantCollectionResult struct {
	Status      string `json:"status"`
	PointsCount int    `json:"points_count"`
	Config      struct {
		Params struct {
			Vectors struct {
				Size     int    `json:"size"`
				Distance string `json:"distance"`
			} `json:"vectors"`
		} `json:"params"`
	} `json:"config"`
}

type qdrantPoint struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector"`
	Payload Payload   `json:"payload"`
}

func (q *Qdrant) collectionURL(name string, suffix string) string {
	return q.baseURL + "/collections/" + url.PathEscape(name) + suffix
}

// EnsureCollection 在集合缺失时创建，存在时校验维度。
// 并发创建时对方先建好集合会得到 409，此时按已存在处理并重新校验维度。
func (q *Qdrant) EnsureCollection(ctx context.Context, name string, dim int) error {
	err := q.checkDimension(ctx, name, dim)
	if err == nil || !errors.Is(err, ErrCollectionNotFound) {
		return err
	}

	log.Infof("[Qdrant] 创建集合: %s, 维度: %d", name, dim)
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dim,
			"distance": "Cosine",
		},
	}
	err = q.do(ctx, http.MethodPut, q.collectionURL(name, ""), body, nil)
	if isConflict(err) {
		log.Infof("[Qdrant] 集合已被并发创建: %s, 重新校验维度", name)
		return q.checkDimension(ctx, name, dim)
	}
	return err
}

func (q *Qdrant) checkDimension(ctx context.Context, name string, dim int) error {
	info, err := q.GetCollection(ctx, name)
	if err != nil {
		return err
	}
	if info.Dimension != dim {
		return dimensionMismatch(name, info.Dimension, dim)
	}
	return nil
}

func (q *Qdrant) Upsert(ctx context.Context, name string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	wire := make([]qdrantPoint, len(points))
	for i, p := range points {
		wire[i] = qdrantPoint{ID: p.ID, Vector: p.Vector, Payload: p.Payload}
	}
	return q.do(ctx, http.MethodPut, q.collectionURL(name, "/points?wait=true"), map[string]any{"points": wire}, nil)
}

func (q *Qdrant) Search(ctx context.Context, name string, vector []float32, topK int) ([]ScoredPoint, error) {
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			ID      any     `json:"id"`
			Score   float64 `json:"score"`
			Payload Payload `json:"payload"`
		} `json:"result"`
	}
	if err := q.do(ctx, http.MethodPost, q.collectionURL(name, "/points/search"), req, &resp); err != nil {
		return nil, err
	}
	hits := make([]ScoredPoint, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, ScoredPoint{ID: fmt.Sprint(r.ID), Score: r.Score, Payload: r.Payload})
	}
	return hits, nil
}

func (q *Qdrant) Count(ctx context.Context, name string, exact bool) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := q.do(ctx, http.MethodPost, q.collectionURL(name, "/points/count"), map[string]any{"exact": exact}, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

func (q *Qdrant) ListCollections(ctx context.Context) ([]CollectionDescription, error) {
	var resp struct {
		Result struct {
			Collections []CollectionDescription `json:"collections"`
		} `json:"result"`
	}
	if err := q.do(ctx, http.MethodGet, q.baseURL+"/collections", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Result.Collections == nil {
		return []CollectionDescription{}, nil
	}
	return resp.Result.Collections, nil
}

func (q *Qdrant) GetCollection(ctx context.Context, name string) (CollectionInfo, error) {
	var resp struct {
		Result qdrantCollectionResult `json:"result"`
	}
	if err := q.do(ctx, http.MethodGet, q.collectionURL(name, ""), nil, &resp); err != nil {
		if isNotFound(err) {
			return CollectionInfo{}, notFound(name)
		}
		return CollectionInfo{}, err
	}
	r := resp.Result
	return CollectionInfo{
		Name:        name,
		Status:      r.Status,
		Dimension:   r.Config.Params.Vectors.Size,
		Distance:    r.Config.Params.Vectors.Distance,
		PointsCount: r.PointsCount,
	}, nil
}

func (q *Qdrant) DeleteCollection(ctx context.Context, name string) error {
	if _, err := q.GetCollection(ctx, name); err != nil {
		return err
	}
	log.Infof("[Qdrant] 删除集合: %s", name)
	return q.do(ctx, http.MethodDelete, q.collectionURL(name, ""), nil, nil)
}

// statusError 携带 Qdrant 返回的非 2xx 状态码。
type statusError struct {
	method string
	url    string
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant %s %s failed: %d %s", e.method, e.url, e.status, e.body)
}

func isNotFound(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.status == http.StatusNotFound
}

func isConflict(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.status == http.StatusConflict
}

func (q *Qdrant) do(ctx context.Context, method, target string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal qdrant request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to create qdrant request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		log.Errorf("[Qdrant] 请求失败, %s %s, error: %v", method, target, err)
		return fmt.Errorf("qdrant %s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &statusError{method: method, url: target, status: resp.StatusCode, body: string(msg)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode qdrant response: %w", err)
		}
	}
	return nil
}
