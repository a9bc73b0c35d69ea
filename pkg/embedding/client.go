// Package embedding provides the embedding gateway and the HTTP clients for embedding providers.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vera-go/internal/config"
	"vera-go/pkg/log"
)

// Request 是发给 embedding 服务商的一次批量请求。
type Request struct {
	Model                string
	Texts                []string
	TaskType             string
	OutputDimensionality int
}

// Provider 是外部 embedding 服务的抽象。
// 返回值是未经解析的 embedding 列表，由 ParseEmbeddings 负责校验形状。
type Provider interface {
	EmbedContents(ctx context.Context, req Request) ([]any, error)
}

// NewClient creates a new embedding provider based on the provider in the config.
func NewClient(cfg config.EmbeddingConfig) Provider {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	if strings.EqualFold(cfg.Provider, "openai") {
		return &openAICompatibleClient{baseURL: baseURL, apiKey: cfg.APIKey, client: httpClient}
	}
	return &geminiClient{baseURL: baseURL, apiKey: cfg.APIKey, client: httpClient}
}

type openAICompatibleClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

type openAIEmbeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIEmbeddingResponse struct {
	Data []any `json:"data"`
}

// EmbedContents calls the OpenAI-compatible /embeddings API for a batch of texts.
func (c *openAICompatibleClient) EmbedContents(ctx context.Context, req Request) ([]any, error) {
	log.Infof("[EmbeddingClient] 开始调用 Embedding API, model: %s, batch: %d", req.Model, len(req.Texts))
	body := openAIEmbeddingRequest{
		Model:      req.Model,
		Input:      req.Texts,
		Dimensions: req.OutputDimensionality,
	}
	var resp openAIEmbeddingResponse
	if err := postJSON(ctx, c.client, c.baseURL+"/embeddings", body, &resp, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+c.apiKey)
	}); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

type geminiClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiEmbedRequest struct {
	Model                string        `json:"model"`
	Content              geminiContent `json:"content"`
	TaskType             string        `json:"taskType,omitempty"`
	OutputDimensionality int           `json:"outputDimensionality,omitempty"`
}

type geminiBatchRequest struct {
	Requests []geminiEmbedRequest `json:"requests"`
}

type geminiBatchResponse struct {
	Embeddings []any `json:"embeddings"`
}

// EmbedContents calls Gemini batchEmbedContents for a batch of texts.
func (c *geminiClient) EmbedContents(ctx context.Context, req Request) ([]any, error) {
	log.Infof("[EmbeddingClient] 开始调用 Gemini batchEmbedContents, model: %s, batch: %d", req.Model, len(req.Texts))
	model := req.Model
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	body := geminiBatchRequest{Requests: make([]geminiEmbedRequest, 0, len(req.Texts))}
	for _, text := range req.Texts {
		body.Requests = append(body.Requests, geminiEmbedRequest{
			Model:                model,
			Content:              geminiContent{Parts: []geminiPart{{Text: text}}},
			TaskType:             req.TaskType,
			OutputDimensionality: req.OutputDimensionality,
		})
	}
	var resp geminiBatchResponse
	url := fmt.Sprintf("%s/%s:batchEmbedContents", c.baseURL, model)
	if err := postJSON(ctx, c.client, url, body, &resp, func(r *http.Request) {
		r.Header.Set("x-goog-api-key", c.apiKey)
	}); err != nil {
		return nil, err
	}
	return resp.Embeddings, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, body any, out any, decorate func(*http.Request)) error {
	reqBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBytes))
	if err != nil {
		return fmt.Errorf("failed to create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	decorate(req)

	resp, err := client.Do(req)
	if err != nil {
		log.Errorf("[EmbeddingClient] 调用 Embedding API 失败, error: %v", err)
		return fmt.Errorf("failed to call embedding api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Errorf("[EmbeddingClient] Embedding API 返回非 200 状态码: %s", resp.Status)
		return fmt.Errorf("embedding api returned non-200 status: %s, body: %s", resp.Status, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		log.Errorf("[EmbeddingClient] 解析 Embedding API 响应失败, error: %v", err)
		return fmt.Errorf("failed to decode embedding response: %w", err)
	}
	return nil
}
