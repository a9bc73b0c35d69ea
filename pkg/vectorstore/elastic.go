package vectorstore

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"vera-go/internal/config"
	"vera-go/pkg/log"
)

// Elastic 把每个集合映射为一个 Elasticsearch 索引，向量字段使用 dense_vector + cosine。
type Elastic struct {
	es *elasticsearch.Client
}

// NewElastic 初始化 Elasticsearch 客户端
func NewElastic(esCfg config.ElasticsearchConfig) (*Elastic, error) {
	var addresses []string
	for _, a := range strings.Split(esCfg.Addresses, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addresses = append(addresses, a)
		}
	}
	cfg := elasticsearch.Config{
		Addresses: addresses,
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Elastic{es: client}, nil
}

type esSource struct {
	Vector []float32 `json:"vector,omitempty"`
	Text   string    `json:"text"`
	Source string    `json:"source"`
	Domain string    `json:"domain"`
}

// EnsureCollection 检查索引是否存在，如果不存在则创建它；存在时校验 dense_vector 维度。
func (e *Elastic) EnsureCollection(ctx context.Context, name string, dim int) error {
	res, err := e.es.Indices.Exists([]string{name}, e.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("[Elastic] 检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		existing, err := e.vectorDims(ctx, name)
		if err != nil {
			return err
		}
		if existing != dim {
			return dimensionMismatch(name, existing, dim)
		}
		return nil
	case http.StatusNotFound:
	default:
		log.Errorf("[Elastic] 检查索引 '%s' 是否存在时收到意外的状态码: %d", name, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"text": { "type": "text" },
				"source": { "type": "keyword" },
				"domain": { "type": "keyword" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				}
			}
		}
	}`, dim)

	res, err = e.es.Indices.Create(
		name,
		e.es.Indices.Create.WithBody(strings.NewReader(mapping)),
		e.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		log.Errorf("[Elastic] 创建索引 '%s' 失败: %v", name, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("[Elastic] 创建索引 '%s' 时 Elasticsearch 返回错误: %s", name, res.String())
		return fmt.Errorf("创建索引时 Elasticsearch 返回错误: %s", res.Status())
	}

	log.Infof("[Elastic] 索引 '%s' 创建成功, 维度: %d", name, dim)
	return nil
}

func (e *Elastic) vectorDims(ctx context.Context, name string) (int, error) {
	res, err := e.es.Indices.GetMapping(
		e.es.Indices.GetMapping.WithIndex(name),
		e.es.Indices.GetMapping.WithContext(ctx),
	)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	if err := checkResponse(res, name); err != nil {
		return 0, err
	}

	var body map[string]struct {
		Mappings struct {
			Properties struct {
				Vector struct {
					Dims int `json:"dims"`
				} `json:"vector"`
			} `json:"properties"`
		} `json:"mappings"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("failed to decode index mapping: %w", err)
	}
	idx, ok := body[name]
	if !ok {
		return 0, notFound(name)
	}
	return idx.Mappings.Properties.Vector.Dims, nil
}

// Upsert 使用 bulk API 批量写入，id 相同的文档会被覆盖。
func (e *Elastic) Upsert(ctx context.Context, name string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, p := range points {
		meta := map[string]any{"index": map[string]any{"_index": name, "_id": p.ID}}
		if err := enc.Encode(meta); err != nil {
			return err
		}
		doc := esSource{Vector: p.Vector, Text: p.Payload.Text, Source: p.Payload.Source, Domain: p.Payload.Domain}
		if err := enc.Encode(doc); err != nil {
			return err
		}
	}

	res, err := e.es.Bulk(&buf,
		e.es.Bulk.WithIndex(name),
		e.es.Bulk.WithRefresh("true"),
		e.es.Bulk.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if err := checkResponse(res, name); err != nil {
		return err
	}

	var body struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if body.Errors {
		for _, item := range body.Items {
			for _, r := range item {
				if r.Error != nil {
					log.Errorf("[Elastic] 批量写入文档出错: %s: %s", r.Error.Type, r.Error.Reason)
					return fmt.Errorf("failed to index document: %s: %s", r.Error.Type, r.Error.Reason)
				}
			}
		}
		return fmt.Errorf("failed to index documents into '%s'", name)
	}
	return nil
}

// Search 执行 kNN 检索。
func (e *Elastic) Search(ctx context.Context, name string, vector []float32, topK int) ([]ScoredPoint, error) {
	candidates := topK * 10
	if candidates < 100 {
		candidates = 100
	}
	query := map[string]any{
		"knn": map[string]any{
			"field":          "vector",
			"query_vector":   vector,
			"k":              topK,
			"num_candidates": candidates,
		},
		"_source": []string{"text", "source", "domain"},
		"size":    topK,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, err
	}

	res, err := e.es.Search(
		e.es.Search.WithIndex(name),
		e.es.Search.WithBody(&buf),
		e.es.Search.WithContext(ctx),
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if err := checkResponse(res, name); err != nil {
		return nil, err
	}

	var body struct {
		Hits struct {
			Hits []struct {
				ID     string   `json:"_id"`
				Score  float64  `json:"_score"`
				Source esSource `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	hits := make([]ScoredPoint, 0, len(body.Hits.Hits))
	for _, h := range body.Hits.Hits {
		hits = append(hits, ScoredPoint{
			ID:      h.ID,
			Score:   h.Score,
			Payload: Payload{Text: h.Source.Text, Source: h.Source.Source, Domain: h.Source.Domain},
		})
	}
	return hits, nil
}

// Count 返回索引中的文档数。Bulk 写入时已 refresh，计数总是精确的。
func (e *Elastic) Count(ctx context.Context, name string, _ bool) (int, error) {
	res, err := e.es.Count(e.es.Count.WithIndex(name), e.es.Count.WithContext(ctx))
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	if err := checkResponse(res, name); err != nil {
		return 0, err
	}
	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("failed to decode count response: %w", err)
	}
	return body.Count, nil
}

// ListCollections 列出所有非系统索引。
func (e *Elastic) ListCollections(ctx context.Context) ([]CollectionDescription, error) {
	res, err := e.es.Cat.Indices(e.es.Cat.Indices.WithFormat("json"), e.es.Cat.Indices.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if err := checkResponse(res, ""); err != nil {
		return nil, err
	}
	var rows []struct {
		Index string `json:"index"`
	}
	if err := json.NewDecoder(res.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode cat indices response: %w", err)
	}
	out := make([]CollectionDescription, 0, len(rows))
	for _, r := range rows {
		if strings.HasPrefix(r.Index, ".") {
			continue
		}
		out = append(out, CollectionDescription{Name: r.Index})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (e *Elastic) GetCollection(ctx context.Context, name string) (CollectionInfo, error) {
	res, err := e.es.Cat.Indices(
		e.es.Cat.Indices.WithIndex(name),
		e.es.Cat.Indices.WithFormat("json"),
		e.es.Cat.Indices.WithContext(ctx),
	)
	if err != nil {
		return CollectionInfo{}, err
	}
	defer res.Body.Close()
	if err := checkResponse(res, name); err != nil {
		return CollectionInfo{}, err
	}
	var rows []struct {
		Health string `json:"health"`
	}
	if err := json.NewDecoder(res.Body).Decode(&rows); err != nil {
		return CollectionInfo{}, fmt.Errorf("failed to decode cat indices response: %w", err)
	}
	if len(rows) == 0 {
		return CollectionInfo{}, notFound(name)
	}

	dim, err := e.vectorDims(ctx, name)
	if err != nil {
		return CollectionInfo{}, err
	}
	count, err := e.Count(ctx, name, true)
	if err != nil {
		return CollectionInfo{}, err
	}
	return CollectionInfo{Name: name, Status: rows[0].Health, Dimension: dim, Distance: "Cosine", PointsCount: count}, nil
}

func (e *Elastic) DeleteCollection(ctx context.Context, name string) error {
	res, err := e.es.Indices.Delete([]string{name}, e.es.Indices.Delete.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if err := checkResponse(res, name); err != nil {
		return err
	}
	log.Infof("[Elastic] 删除索引: %s", name)
	return nil
}

// checkResponse 把 404 映射为 ErrCollectionNotFound，其他错误状态码原样返回。
func checkResponse(res *esapi.Response, name string) error {
	if !res.IsError() {
		return nil
	}
	if res.StatusCode == http.StatusNotFound && name != "" {
		return notFound(name)
	}
	msg, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
	return fmt.Errorf("elasticsearch returned %s: %s", res.Status(), string(msg))
}
