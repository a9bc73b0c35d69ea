package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"vera-go/pkg/log"
)

// openAICompatibleClient 调用 OpenAI 兼容的 /chat/completions 接口（DeepSeek 等）。
type openAICompatibleClient struct {
	httpBase
}

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (c *openAICompatibleClient) request(prompt string, stream bool) chatRequest {
	return chatRequest{
		Model:       c.model,
		Messages:    []Message{{Role: "user", Content: prompt}},
		Stream:      stream,
		Temperature: c.params.Temperature,
		TopP:        c.params.TopP,
		MaxTokens:   c.params.MaxTokens,
	}
}

func (c *openAICompatibleClient) authorize(stream bool) func(*http.Request) {
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+c.apiKey)
		if stream {
			r.Header.Set("Accept", "text/event-stream")
		}
	}
}

// Generate calls the chat completions API and returns the full answer.
func (c *openAICompatibleClient) Generate(ctx context.Context, prompt string) (string, error) {
	log.Infof("[LLMClient] 开始生成回答, model: %s, prompt 长度: %d", c.model, len(prompt))
	body, err := c.post(ctx, c.baseURL+"/chat/completions", c.request(prompt, false), c.authorize(false))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	defer body.Close()

	var resp chatResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return "", fmt.Errorf("%w: failed to decode chat response: %w", ErrGeneration, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: chat response has no choices", ErrGeneration)
	}
	return requireText(resp.Choices[0].Message.Content)
}

// StreamChat calls the chat completions API and streams the response.
func (c *openAICompatibleClient) StreamChat(ctx context.Context, prompt string, writer MessageWriter) error {
	body, err := c.post(ctx, c.baseURL+"/chat/completions", c.request(prompt, true), c.authorize(true))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	defer body.Close()

	var produced strings.Builder
	err = readSSE(body, func(data string) (bool, error) {
		var chunk chatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return false, nil
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			return false, nil
		}
		content := chunk.Choices[0].Delta.Content
		produced.WriteString(content)
		if err := writer.WriteMessage(websocket.TextMessage, []byte(content)); err != nil {
			return true, fmt.Errorf("failed to write message to websocket: %w", err)
		}
		return false, nil
	})
	if err != nil {
		return err
	}
	_, err = requireText(produced.String())
	return err
}
