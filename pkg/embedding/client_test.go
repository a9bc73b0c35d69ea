package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vera-go/internal/config"
)

func TestGeminiClientBatchEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-embedding-001:batchEmbedContents", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-goog-api-key"))

		var body geminiBatchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Requests, 2)
		assert.Equal(t, "models/gemini-embedding-001", body.Requests[0].Model)
		assert.Equal(t, "QUESTION_ANSWERING", body.Requests[0].TaskType)
		assert.Equal(t, 3, body.Requests[0].OutputDimensionality)
		assert.Equal(t, "second", body.Requests[1].Content.Parts[0].Text)

		_, _ = w.Write([]byte(`{"embeddings":[{"values":[0.1,0.2,0.3]},{"values":[0.4,0.5,0.6]}]}`))
	}))
	defer srv.Close()

	p := NewClient(config.EmbeddingConfig{Provider: "gemini", BaseURL: srv.URL, APIKey: "secret"})
	g := NewGateway(p, "gemini-embedding-001")

	vectors, err := g.Embed(context.Background(), []string{"first", "second"}, Options{Retries: 1, TaskType: "QUESTION_ANSWERING", OutputDimensionality: 3})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.1, 0.2, 0.3}, {0.4, 0.5, 0.6}}, vectors)
}

func TestOpenAICompatibleClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))

		var body openAIEmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"hello"}, body.Input)

		_, _ = w.Write([]byte(`{"data":[{"object":"embedding","index":0,"embedding":[1,2]}]}`))
	}))
	defer srv.Close()

	p := NewClient(config.EmbeddingConfig{Provider: "openai", BaseURL: srv.URL + "/", APIKey: "k"})
	items, err := p.EmbedContents(context.Background(), Request{Model: "m", Texts: []string{"hello"}})
	require.NoError(t, err)

	vectors, err := ParseEmbeddings(items)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 2}}, vectors)
}

func TestClientNon200IsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewClient(config.EmbeddingConfig{Provider: "gemini", BaseURL: srv.URL, APIKey: "k"})
	_, err := p.EmbedContents(context.Background(), Request{Model: "m", Texts: []string{"x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
