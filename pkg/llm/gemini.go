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

// geminiClient 调用 Gemini generateContent / streamGenerateContent 接口。
type geminiClient struct {
	httpBase
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type geminiGenerateRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// text 拼接第一个候选的全部文本分片。
func (r geminiGenerateResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

func (c *geminiClient) request(prompt string) geminiGenerateRequest {
	req := geminiGenerateRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
	}
	if c.params.Temperature != nil || c.params.TopP != nil || c.params.MaxTokens != nil {
		req.GenerationConfig = &geminiGenerationConfig{
			Temperature:     c.params.Temperature,
			TopP:            c.params.TopP,
			MaxOutputTokens: c.params.MaxTokens,
		}
	}
	return req
}

func (c *geminiClient) endpoint(method string) string {
	model := c.model
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	return fmt.Sprintf("%s/%s:%s", c.baseURL, model, method)
}

func (c *geminiClient) authorize(r *http.Request) {
	r.Header.Set("x-goog-api-key", c.apiKey)
}

// Generate calls Gemini generateContent and returns the full answer.
func (c *geminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	log.Infof("[LLMClient] 开始调用 Gemini generateContent, model: %s, prompt 长度: %d", c.model, len(prompt))
	body, err := c.post(ctx, c.endpoint("generateContent"), c.request(prompt), c.authorize)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	defer body.Close()

	var resp geminiGenerateResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return "", fmt.Errorf("%w: failed to decode generate response: %w", ErrGeneration, err)
	}
	return requireText(resp.text())
}

// StreamChat calls Gemini streamGenerateContent with SSE and streams the response.
func (c *geminiClient) StreamChat(ctx context.Context, prompt string, writer MessageWriter) error {
	body, err := c.post(ctx, c.endpoint("streamGenerateContent")+"?alt=sse", c.request(prompt), func(r *http.Request) {
		c.authorize(r)
		r.Header.Set("Accept", "text/event-stream")
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	defer body.Close()

	var produced strings.Builder
	err = readSSE(body, func(data string) (bool, error) {
		var chunk geminiGenerateResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return false, nil
		}
		content := chunk.text()
		if content == "" {
			return false, nil
		}
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
