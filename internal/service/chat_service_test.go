package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vera-go/internal/model"
	"vera-go/pkg/embedding"
	"vera-go/pkg/llm"
	"vera-go/pkg/vectorstore"
)

type fixedEmbedder struct {
	vector []float32
	err    error
	opts   embedding.Options
}

func (f *fixedEmbedder) Embed(_ context.Context, texts []string, opts embedding.Options) ([][]float32, error) {
	f.opts = opts
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vector
	}
	return out, nil
}

func (f *fixedEmbedder) Model() string { return "test-embedding" }

type stubLLM struct {
	prompts    []string
	generate   func(prompt string) (string, error)
	chunks     []string
	streamErrs []error
}

func (s *stubLLM) Generate(_ context.Context, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	return s.generate(prompt)
}

// StreamChat 在第 i 次调用时若 streamErrs[i] 非空，则不输出任何分块直接失败。
func (s *stubLLM) StreamChat(_ context.Context, prompt string, w llm.MessageWriter) error {
	s.prompts = append(s.prompts, prompt)
	if i := len(s.prompts) - 1; i < len(s.streamErrs) && s.streamErrs[i] != nil {
		return s.streamErrs[i]
	}
	for _, c := range s.chunks {
		if err := w.WriteMessage(1, []byte(c)); err != nil {
			return err
		}
	}
	return nil
}

func answerWith(text string) func(string) (string, error) {
	return func(string) (string, error) { return text, nil }
}

func testChatOptions() ChatOptions {
	return ChatOptions{
		Collection:      "vera_docs",
		Dimension:       2,
		TopK:            3,
		TaskType:        "QUESTION_ANSWERING",
		Persona:         "You are VERA AI, a legal research assistant.",
		FallbackPersona: "You are VERA AI, a legal assistant.",
		NoAnswerText:    "I'm sorry, I don't have any information on that topic",
	}
}

func seededStore(t *testing.T, points ...vectorstore.Point) *vectorstore.Memory {
	t.Helper()
	store := vectorstore.NewMemory()
	require.NoError(t, store.EnsureCollection(context.Background(), "vera_docs", 2))
	require.NoError(t, store.Upsert(context.Background(), "vera_docs", points))
	return store
}

func TestAnswerWithContext(t *testing.T) {
	store := seededStore(t,
		vectorstore.Point{ID: "1", Vector: []float32{1, 0}, Payload: vectorstore.Payload{Text: "Rent is due monthly."}},
		vectorstore.Point{ID: "2", Vector: []float32{1, 1}, Payload: vectorstore.Payload{Text: "The lease ends in May."}},
		vectorstore.Point{ID: "3", Vector: []float32{0, 1}},
	)
	emb := &fixedEmbedder{vector: []float32{1, 0.1}}
	gen := &stubLLM{generate: answerWith("Monthly.")}
	svc := NewChatService(emb, store, gen, testChatOptions())

	resp := svc.Answer(context.Background(), "When is rent due?")
	assert.Equal(t, "Monthly.", resp.Answer)
	assert.Equal(t, []string{"Rent is due monthly.", "The lease ends in May."}, resp.Sources)
	assert.False(t, resp.Fallback)

	assert.Equal(t, "QUESTION_ANSWERING", emb.opts.TaskType)
	assert.Equal(t, 2, emb.opts.OutputDimensionality)

	require.Len(t, gen.prompts, 1)
	want := "You are VERA AI, a legal research assistant. You are given a question and a context. " +
		"Answer strictly based on the context provided. If the context is not relevant to the question, " +
		"answer with \"I'm sorry, I don't have any information on that topic\".\n" +
		"Question: When is rent due?\n" +
		"Context: Rent is due monthly.\n\nThe lease ends in May."
	assert.Equal(t, want, gen.prompts[0])
}

func TestAnswerNoContextFallsBack(t *testing.T) {
	store := vectorstore.NewMemory()
	gen := &stubLLM{generate: answerWith("General answer.")}
	svc := NewChatService(&fixedEmbedder{vector: []float32{1, 0}}, store, gen, testChatOptions())

	resp := svc.Answer(context.Background(), "What is a tort?")
	assert.True(t, resp.Fallback)
	assert.Equal(t, model.ReasonNoContext, resp.Reason)
	assert.Equal(t, "General answer.", resp.Answer)
	assert.Empty(t, resp.Error)
	assert.Equal(t, "You are VERA AI, a legal assistant. Provide the best possible answer to:\nWhat is a tort?", gen.prompts[0])

	b, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"answer":"General answer.","sources":[],"fallback":true,"reason":"no_context"}`, string(b))
}

func TestAnswerEmbeddingMismatchFallsBack(t *testing.T) {
	gen := &stubLLM{generate: answerWith("ok")}
	svc := NewChatService(&fixedEmbedder{vector: []float32{1, 0, 0}}, vectorstore.NewMemory(), gen, testChatOptions())

	resp := svc.Answer(context.Background(), "q")
	assert.True(t, resp.Fallback)
	assert.Equal(t, model.ReasonEmbeddingMismatch, resp.Reason)
}

func TestAnswerEmbeddingErrorFallsBackWithError(t *testing.T) {
	gen := &stubLLM{generate: answerWith("ok")}
	emb := &fixedEmbedder{err: errors.New("quota exceeded")}
	svc := NewChatService(emb, vectorstore.NewMemory(), gen, testChatOptions())

	resp := svc.Answer(context.Background(), "q")
	assert.True(t, resp.Fallback)
	assert.Equal(t, model.ReasonException, resp.Reason)
	assert.Equal(t, "quota exceeded", resp.Error)
}

func TestAnswerGenerationFailureFallsBack(t *testing.T) {
	store := seededStore(t, vectorstore.Point{ID: "1", Vector: []float32{1, 0}, Payload: vectorstore.Payload{Text: "ctx"}})
	calls := 0
	gen := &stubLLM{generate: func(string) (string, error) {
		calls++
		if calls == 1 {
			return "", llm.ErrGeneration
		}
		return "fallback answer", nil
	}}
	svc := NewChatService(&fixedEmbedder{vector: []float32{1, 0}}, store, gen, testChatOptions())

	resp := svc.Answer(context.Background(), "q")
	assert.True(t, resp.Fallback)
	assert.Equal(t, model.ReasonException, resp.Reason)
	assert.Equal(t, "fallback answer", resp.Answer)
}

func TestAnswerTerminalErrorWhenFallbackFails(t *testing.T) {
	gen := &stubLLM{generate: func(string) (string, error) { return "", errors.New("llm offline") }}

	svc := NewChatService(&fixedEmbedder{vector: []float32{1, 0}}, vectorstore.NewMemory(), gen, testChatOptions())
	resp := svc.Answer(context.Background(), "q")
	assert.True(t, resp.IsTerminalError())
	assert.Equal(t, "llm offline", resp.Message)

	svc = NewChatService(&fixedEmbedder{err: errors.New("embed down")}, vectorstore.NewMemory(), gen, testChatOptions())
	resp = svc.Answer(context.Background(), "q")
	assert.Equal(t, "embed down", resp.Message)

	b, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"error","message":"embed down"}`, string(b))
}

type frameRecorder struct {
	frames []map[string]interface{}
}

func (f *frameRecorder) WriteMessage(_ int, data []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	f.frames = append(f.frames, m)
	return nil
}

func TestStreamResponseFrames(t *testing.T) {
	store := seededStore(t, vectorstore.Point{ID: "1", Vector: []float32{1, 0}, Payload: vectorstore.Payload{Text: "ctx"}})
	gen := &stubLLM{chunks: []string{"Hel", "lo"}}
	svc := NewChatService(&fixedEmbedder{vector: []float32{1, 0}}, store, gen, testChatOptions())

	rec := &frameRecorder{}
	require.NoError(t, svc.StreamResponse(context.Background(), "q", rec))
	require.Len(t, rec.frames, 4)
	assert.Equal(t, "meta", rec.frames[0]["type"])
	assert.Equal(t, []interface{}{"ctx"}, rec.frames[0]["sources"])
	assert.Equal(t, "Hel", rec.frames[1]["chunk"])
	assert.Equal(t, "lo", rec.frames[2]["chunk"])
	assert.Equal(t, "completion", rec.frames[3]["type"])
	assert.True(t, strings.HasPrefix(gen.prompts[0], "You are VERA AI, a legal research assistant."))
}

func TestStreamResponseFallbackMeta(t *testing.T) {
	gen := &stubLLM{chunks: []string{"x"}}
	svc := NewChatService(&fixedEmbedder{vector: []float32{1, 0}}, vectorstore.NewMemory(), gen, testChatOptions())

	rec := &frameRecorder{}
	require.NoError(t, svc.StreamResponse(context.Background(), "q", rec))
	assert.Equal(t, true, rec.frames[0]["fallback"])
	assert.Equal(t, "no_context", rec.frames[0]["reason"])
}

func TestStreamResponseGenerationFailureFallsBack(t *testing.T) {
	store := seededStore(t, vectorstore.Point{ID: "1", Vector: []float32{1, 0}, Payload: vectorstore.Payload{Text: "ctx"}})
	gen := &stubLLM{chunks: []string{"general"}, streamErrs: []error{llm.ErrGeneration}}
	svc := NewChatService(&fixedEmbedder{vector: []float32{1, 0}}, store, gen, testChatOptions())

	rec := &frameRecorder{}
	require.NoError(t, svc.StreamResponse(context.Background(), "q", rec))
	require.Len(t, rec.frames, 3)
	assert.Equal(t, "meta", rec.frames[0]["type"])
	assert.Equal(t, true, rec.frames[0]["fallback"])
	assert.Equal(t, "exception", rec.frames[0]["reason"])
	assert.Equal(t, llm.ErrGeneration.Error(), rec.frames[0]["error"])
	assert.Equal(t, []interface{}{}, rec.frames[0]["sources"])
	assert.Equal(t, "general", rec.frames[1]["chunk"])
	assert.Equal(t, "completion", rec.frames[2]["type"])

	require.Len(t, gen.prompts, 2)
	assert.Equal(t, "You are VERA AI, a legal assistant. Provide the best possible answer to:\nq", gen.prompts[1])
}

func TestStreamResponseTerminalErrorWhenFallbackFails(t *testing.T) {
	store := seededStore(t, vectorstore.Point{ID: "1", Vector: []float32{1, 0}, Payload: vectorstore.Payload{Text: "ctx"}})
	gen := &stubLLM{streamErrs: []error{errors.New("context stream down"), errors.New("fallback down")}}
	svc := NewChatService(&fixedEmbedder{vector: []float32{1, 0}}, store, gen, testChatOptions())

	rec := &frameRecorder{}
	require.NoError(t, svc.StreamResponse(context.Background(), "q", rec))
	require.Len(t, rec.frames, 2)
	assert.Equal(t, "error", rec.frames[0]["status"])
	assert.Equal(t, "context stream down", rec.frames[0]["message"])
	assert.Equal(t, "completion", rec.frames[1]["type"])
}

type failAfterWriter struct {
	frameRecorder
	limit int
}

func (f *failAfterWriter) WriteMessage(mt int, data []byte) error {
	if len(f.frames) >= f.limit {
		return errors.New("client gone")
	}
	return f.frameRecorder.WriteMessage(mt, data)
}

func TestStreamResponseFailureAfterOutputIsReturned(t *testing.T) {
	store := seededStore(t, vectorstore.Point{ID: "1", Vector: []float32{1, 0}, Payload: vectorstore.Payload{Text: "ctx"}})
	gen := &stubLLM{chunks: []string{"a", "b"}}
	svc := NewChatService(&fixedEmbedder{vector: []float32{1, 0}}, store, gen, testChatOptions())

	w := &failAfterWriter{limit: 2}
	err := svc.StreamResponse(context.Background(), "q", w)
	require.Error(t, err)
	assert.Len(t, gen.prompts, 1)
}
