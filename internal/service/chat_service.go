// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"vera-go/internal/config"
	"vera-go/internal/model"
	"vera-go/internal/pipeline"
	"vera-go/pkg/embedding"
	"vera-go/pkg/llm"
	"vera-go/pkg/log"
	"vera-go/pkg/vectorstore"
)

// ChatService 定义了问答操作的接口。
type ChatService interface {
	// Answer 从不返回错误：所有失败都会转换为降级回答或终止性错误结果。
	Answer(ctx context.Context, question string) model.ChatResponse
	// StreamResponse 走同样的检索与降级决策，把回答以流式分块写入 ws。
	StreamResponse(ctx context.Context, question string, ws llm.MessageWriter) error
}

// ChatOptions 是问答流程使用的常量。
type ChatOptions struct {
	Collection      string
	Dimension       int
	TopK            int
	TaskType        string
	Retries         int
	Backoff         time.Duration
	Persona         string
	FallbackPersona string
	NoAnswerText    string
}

// ChatOptionsFromConfig 从全局配置构建问答参数。
func ChatOptionsFromConfig(cfg config.Config) ChatOptions {
	return ChatOptions{
		Collection:      cfg.VectorStore.Collection,
		Dimension:       cfg.Embedding.Dimensions,
		TopK:            cfg.Retrieval.TopK,
		TaskType:        cfg.Embedding.QuestionTaskType,
		Retries:         cfg.Embedding.Retries,
		Backoff:         time.Duration(cfg.Embedding.BackoffSeconds * float64(time.Second)),
		Persona:         cfg.LLM.Prompt.Persona,
		FallbackPersona: cfg.LLM.Prompt.FallbackPersona,
		NoAnswerText:    cfg.LLM.Prompt.NoAnswerText,
	}
}

type chatService struct {
	embedder  pipeline.Embedder
	store     vectorstore.Store
	llmClient llm.Client
	opts      ChatOptions
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(embedder pipeline.Embedder, store vectorstore.Store, llmClient llm.Client, opts ChatOptions) ChatService {
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	return &chatService{embedder: embedder, store: store, llmClient: llmClient, opts: opts}
}

// retrieval 是检索阶段的结果：reason 为空时 chunks 非空，否则说明降级原因。
type retrieval struct {
	chunks []string
	reason model.FallbackReason
	err    error
}

func (r retrieval) ok() bool {
	return r.reason == ""
}

// retrieve 确保集合存在、向量化问题并检索 topK 个分块。
func (s *chatService) retrieve(ctx context.Context, question string) retrieval {
	if err := s.store.EnsureCollection(ctx, s.opts.Collection, s.opts.Dimension); err != nil {
		return retrieval{reason: model.ReasonException, err: err}
	}

	vectors, err := s.embedder.Embed(ctx, []string{question}, embedding.Options{
		BatchSize:            1,
		Retries:              s.opts.Retries,
		Backoff:              s.opts.Backoff,
		TaskType:             s.opts.TaskType,
		OutputDimensionality: s.opts.Dimension,
	})
	if err != nil {
		return retrieval{reason: model.ReasonException, err: err}
	}
	if len(vectors) == 0 || len(vectors[0]) != s.opts.Dimension {
		log.Errorf("[ChatService] 问题向量维度不一致, 期望 %d", s.opts.Dimension)
		return retrieval{reason: model.ReasonEmbeddingMismatch}
	}

	hits, err := s.store.Search(ctx, s.opts.Collection, vectors[0], s.opts.TopK)
	if err != nil {
		return retrieval{reason: model.ReasonException, err: err}
	}

	chunks := make([]string, 0, len(hits))
	for _, hit := range hits {
		if hit.Payload.Text != "" {
			chunks = append(chunks, hit.Payload.Text)
		}
	}
	if len(chunks) == 0 {
		return retrieval{reason: model.ReasonNoContext}
	}
	log.Infof("[ChatService] 检索到 %d 个上下文分块", len(chunks))
	return retrieval{chunks: chunks}
}

// Answer 协调 RAG 流程并返回完整回答。
func (s *chatService) Answer(ctx context.Context, question string) model.ChatResponse {
	r := s.retrieve(ctx, question)
	if !r.ok() {
		return s.fallback(ctx, question, r.reason, r.err)
	}

	answer, err := s.llmClient.Generate(ctx, s.buildPrompt(question, r.chunks))
	if err != nil {
		log.Errorf("[ChatService] 基于上下文生成回答失败: %v", err)
		return s.fallback(ctx, question, model.ReasonException, err)
	}
	return model.ChatResponse{Answer: answer, Sources: r.chunks}
}

// fallback 不带上下文直接调用模型；模型也失败时返回终止性错误结果。
func (s *chatService) fallback(ctx context.Context, question string, reason model.FallbackReason, cause error) model.ChatResponse {
	if cause != nil {
		log.Warnw("[ChatService] 使用降级回答", "reason", reason, "error", cause)
	} else {
		log.Warnw("[ChatService] 使用降级回答", "reason", reason)
	}

	answer, err := s.llmClient.Generate(ctx, s.buildFallbackPrompt(question))
	if err != nil {
		log.Errorf("[ChatService] 降级生成失败: %v", err)
		message := err.Error()
		if cause != nil {
			message = cause.Error()
		}
		return model.ChatResponse{Status: "error", Message: message}
	}

	resp := model.ChatResponse{Answer: answer, Sources: []string{}, Fallback: true, Reason: reason}
	if cause != nil {
		resp.Error = cause.Error()
	}
	return resp
}

func (s *chatService) buildPrompt(question string, chunks []string) string {
	contextText := strings.TrimSpace(strings.Join(chunks, "\n\n"))
	if contextText == "" {
		contextText = "[no context]"
	}
	var sb strings.Builder
	sb.WriteString(s.opts.Persona)
	sb.WriteString(" You are given a question and a context. Answer strictly based on the context provided. ")
	fmt.Fprintf(&sb, "If the context is not relevant to the question, answer with \"%s\".\n", s.opts.NoAnswerText)
	fmt.Fprintf(&sb, "Question: %s\n", question)
	fmt.Fprintf(&sb, "Context: %s", contextText)
	return sb.String()
}

func (s *chatService) buildFallbackPrompt(question string) string {
	return fmt.Sprintf("%s Provide the best possible answer to:\n%s", s.opts.FallbackPersona, question)
}

// StreamResponse 先发送 meta 帧（sources/fallback/reason），再流式发送回答分块，最后发送完成通知。
// 与 Answer 一致：基于上下文的流在输出任何内容前失败时，改用降级提示词重新生成；
// 降级也失败时发送终止性错误帧。已经开始输出后的失败直接返回错误。
func (s *chatService) StreamResponse(ctx context.Context, question string, ws llm.MessageWriter) error {
	r := s.retrieve(ctx, question)

	if r.ok() {
		meta := map[string]interface{}{"type": "meta", "sources": r.chunks}
		started, err := s.stream(ctx, ws, s.buildPrompt(question, r.chunks), meta)
		if err == nil {
			return sendCompletion(ws)
		}
		if started {
			return err
		}
		log.Errorf("[ChatService] 基于上下文的流式生成失败: %v", err)
		r = retrieval{reason: model.ReasonException, err: err}
	}

	log.Warnw("[ChatService] 使用降级流式回答", "reason", r.reason)
	meta := map[string]interface{}{"type": "meta", "sources": []string{}, "fallback": true, "reason": r.reason}
	if r.err != nil {
		meta["error"] = r.err.Error()
	}
	started, err := s.stream(ctx, ws, s.buildFallbackPrompt(question), meta)
	if err == nil {
		return sendCompletion(ws)
	}
	if started {
		return err
	}

	log.Errorf("[ChatService] 降级流式生成失败: %v", err)
	message := err.Error()
	if r.err != nil {
		message = r.err.Error()
	}
	if err := writeJSON(ws, map[string]interface{}{"status": "error", "message": message}); err != nil {
		return err
	}
	return sendCompletion(ws)
}

// stream 调用模型流式生成，meta 帧在第一个分块之前写出。返回是否已经向客户端写过内容。
func (s *chatService) stream(ctx context.Context, ws llm.MessageWriter, prompt string, meta map[string]interface{}) (bool, error) {
	interceptor := &wsWriterInterceptor{conn: ws, writer: &strings.Builder{}, meta: meta}
	err := s.llmClient.StreamChat(ctx, prompt, interceptor)
	if err == nil && !interceptor.started {
		if err := interceptor.start(); err != nil {
			return true, err
		}
	}
	if err == nil {
		log.Infof("[ChatService] 流式回答完成, 长度: %d", interceptor.writer.Len())
	}
	return interceptor.started, err
}

// wsWriterInterceptor 是对 websocket 写入端的封装，用于捕获写入的消息。
type wsWriterInterceptor struct {
	conn    llm.MessageWriter
	writer  *strings.Builder
	meta    map[string]interface{}
	started bool
}

func (w *wsWriterInterceptor) start() error {
	w.started = true
	return writeJSON(w.conn, w.meta)
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *wsWriterInterceptor) WriteMessage(messageType int, data []byte) error {
	if !w.started {
		if err := w.start(); err != nil {
			return err
		}
	}
	w.writer.Write(data)
	// 将原始分块包装成 {"chunk":"..."}
	payload := map[string]string{"chunk": string(data)}
	b, _ := json.Marshal(payload)
	return w.conn.WriteMessage(messageType, b)
}

func writeJSON(ws llm.MessageWriter, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.WriteMessage(websocket.TextMessage, b)
}

// sendCompletion 发送完成通知 JSON
func sendCompletion(ws llm.MessageWriter) error {
	notif := map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"message":   "响应已完成",
		"timestamp": time.Now().UnixMilli(),
		"date":      time.Now().Format("2006-01-02T15:04:05"),
	}
	return writeJSON(ws, notif)
}
