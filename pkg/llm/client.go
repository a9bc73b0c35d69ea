// Package llm provides a client for interacting with Large Language Models.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vera-go/internal/config"
	"vera-go/pkg/log"
)

// ErrGeneration 表示生成调用失败，或模型返回了空白回答。
var ErrGeneration = errors.New("generation error")

// MessageWriter defines an interface for writing WebSocket messages.
// This allows both a standard websocket.Conn and test recorders to be used.
type MessageWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// Client defines the interface for an LLM client.
type Client interface {
	// Generate 发送单条 user prompt，返回完整的回答文本。
	Generate(ctx context.Context, prompt string) (string, error)
	// StreamChat 以流式方式生成回答，并把每个分块写入 writer。
	StreamChat(ctx context.Context, prompt string, writer MessageWriter) error
}

// GenerationParams 控制生成行为
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// paramsFromConfig 只注入非零值，零值交给服务商默认。
func paramsFromConfig(cfg config.LLMGenerationConfig) GenerationParams {
	var p GenerationParams
	if cfg.Temperature != 0 {
		t := cfg.Temperature
		p.Temperature = &t
	}
	if cfg.TopP != 0 {
		tp := cfg.TopP
		p.TopP = &tp
	}
	if cfg.MaxTokens != 0 {
		m := cfg.MaxTokens
		p.MaxTokens = &m
	}
	return p
}

// NewClient creates a new LLM client based on the provider in the config.
func NewClient(cfg config.LLMConfig) Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	base := httpBase{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		params:  paramsFromConfig(cfg.Generation),
		client:  &http.Client{Timeout: timeout},
	}
	if strings.EqualFold(cfg.Provider, "openai") || strings.EqualFold(cfg.Provider, "deepseek") {
		return &openAICompatibleClient{httpBase: base}
	}
	return &geminiClient{httpBase: base}
}

type httpBase struct {
	baseURL string
	apiKey  string
	model   string
	params  GenerationParams
	client  *http.Client
}

// post 发送 JSON 请求，非 200 时读取响应体并返回错误。调用方负责关闭返回的 body。
func (b *httpBase) post(ctx context.Context, url string, body any, decorate func(*http.Request)) (io.ReadCloser, error) {
	reqBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	decorate(req)

	resp, err := b.client.Do(req)
	if err != nil {
		log.Errorf("[LLMClient] 调用 LLM API 失败, error: %v", err)
		return nil, fmt.Errorf("failed to call chat api: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Errorf("[LLMClient] LLM API 返回非 200 状态码: %s", resp.Status)
		return nil, fmt.Errorf("chat api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}
	return resp.Body, nil
}

// readSSE 逐行读取 text/event-stream，把每条 data 负载交给 handle。
// handle 返回 done=true 时提前结束。
func readSSE(body io.Reader, handle func(data string) (done bool, err error)) error {
	reader := bufio.NewReader(body)
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 && strings.HasPrefix(line, "data:") {
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return nil
			}
			done, herr := handle(data)
			if herr != nil {
				return herr
			}
			if done {
				return nil
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("failed to read from stream: %w", err)
		}
	}
}

// requireText 把空白回答视为生成失败。
func requireText(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: model returned an empty answer", ErrGeneration)
	}
	return text, nil
}
