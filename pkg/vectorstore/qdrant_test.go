package vectorstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vera-go/internal/config"
)

// fakeQdrant 实现 Qdrant REST 接口中被客户端用到的子集，数据委托给 Memory。
type fakeQdrant struct {
	mu     sync.Mutex
	mem    *Memory
	apiKey string
	// racingDim > 0 时，创建请求到达前先以该维度建好集合，模拟另一个实例抢先创建。
	racingDim int
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ctx := r.Context()

	if f.apiKey != "" && r.Header.Get("api-key") != f.apiKey {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	write := func(result any) {
		_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "status": "ok"})
	}

	if len(parts) == 1 && r.Method == http.MethodGet {
		list, _ := f.mem.ListCollections(ctx)
		write(map[string]any{"collections": list})
		return
	}
	name := parts[1]

	switch {
	case len(parts) == 2 && r.Method == http.MethodGet:
		info, err := f.mem.GetCollection(ctx, name)
		if err != nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		write(map[string]any{
			"status":       "green",
			"points_count": info.PointsCount,
			"config":       map[string]any{"params": map[string]any{"vectors": map[string]any{"size": info.Dimension, "distance": "Cosine"}}},
		})
	case len(parts) == 2 && r.Method == http.MethodPut:
		var body struct {
			Vectors struct {
				Size int `json:"size"`
			} `json:"vectors"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if f.racingDim > 0 {
			_ = f.mem.EnsureCollection(ctx, name, f.racingDim)
		}
		if _, err := f.mem.GetCollection(ctx, name); err == nil {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"status":{"error":"collection already exists"}}`))
			return
		}
		_ = f.mem.EnsureCollection(ctx, name, body.Vectors.Size)
		write(true)
	case len(parts) == 2 && r.Method == http.MethodDelete:
		_ = f.mem.DeleteCollection(ctx, name)
		write(true)
	case len(parts) == 3 && parts[2] == "points" && r.Method == http.MethodPut:
		var body struct {
			Points []qdrantPoint `json:"points"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		points := make([]Point, len(body.Points))
		for i, p := range body.Points {
			points[i] = Point{ID: p.ID, Vector: p.Vector, Payload: p.Payload}
		}
		if err := f.mem.Upsert(ctx, name, points); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		write(map[string]any{"status": "completed"})
	case len(parts) == 4 && parts[3] == "search":
		var body struct {
			Vector []float32 `json:"vector"`
			Limit  int       `json:"limit"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		hits, _ := f.mem.Search(ctx, name, body.Vector, body.Limit)
		out := make([]map[string]any, len(hits))
		for i, h := range hits {
			out[i] = map[string]any{"id": h.ID, "score": h.Score, "payload": h.Payload}
		}
		write(out)
	case len(parts) == 4 && parts[3] == "count":
		n, _ := f.mem.Count(ctx, name, true)
		write(map[string]any{"count": n})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newQdrantForTest(t *testing.T) *Qdrant {
	t.Helper()
	srv := httptest.NewServer(&fakeQdrant{mem: NewMemory(), apiKey: "secret"})
	t.Cleanup(srv.Close)
	return NewQdrant(config.QdrantConfig{URL: srv.URL + "/", APIKey: "secret"})
}

func TestQdrantEnsureCollection(t *testing.T) {
	ctx := context.Background()
	q := newQdrantForTest(t)

	require.NoError(t, q.EnsureCollection(ctx, "vera_docs", 4))
	require.NoError(t, q.EnsureCollection(ctx, "vera_docs", 4))

	info, err := q.GetCollection(ctx, "vera_docs")
	require.NoError(t, err)
	assert.Equal(t, 4, info.Dimension)
	assert.Equal(t, "Cosine", info.Distance)

	assert.ErrorIs(t, q.EnsureCollection(ctx, "vera_docs", 8), ErrConfiguration)
}

func TestQdrantEnsureCollectionConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	newQdrant := func(racingDim int) *Qdrant {
		srv := httptest.NewServer(&fakeQdrant{mem: NewMemory(), racingDim: racingDim})
		t.Cleanup(srv.Close)
		return NewQdrant(config.QdrantConfig{URL: srv.URL})
	}

	t.Run("same dimension is treated as existing", func(t *testing.T) {
		q := newQdrant(4)
		require.NoError(t, q.EnsureCollection(ctx, "vera_docs", 4))
		info, err := q.GetCollection(ctx, "vera_docs")
		require.NoError(t, err)
		assert.Equal(t, 4, info.Dimension)
	})

	t.Run("different dimension is a configuration error", func(t *testing.T) {
		q := newQdrant(8)
		err := q.EnsureCollection(ctx, "vera_docs", 4)
		assert.ErrorIs(t, err, ErrConfiguration)
	})
}

func TestQdrantEnsureCollectionParallelCallers(t *testing.T) {
	ctx := context.Background()
	q := newQdrantForTest(t)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = q.EnsureCollection(ctx, "vera_docs", 4)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestQdrantUpsertSearchCount(t *testing.T) {
	ctx := context.Background()
	q := newQdrantForTest(t)
	require.NoError(t, q.EnsureCollection(ctx, "vera_docs", 2))

	require.NoError(t, q.Upsert(ctx, "vera_docs", []Point{
		{ID: "6a1d6f3e-0000-4000-8000-000000000001", Vector: []float32{1, 0}, Payload: Payload{Text: "rent clause", Source: "lease.pdf", Domain: "general"}},
		{ID: "6a1d6f3e-0000-4000-8000-000000000002", Vector: []float32{0, 1}, Payload: Payload{Text: "term clause", Source: "lease.pdf", Domain: "general"}},
	}))

	n, err := q.Count(ctx, "vera_docs", true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	hits, err := q.Search(ctx, "vera_docs", []float32{0.9, 0.1}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "rent clause", hits[0].Payload.Text)
	assert.Equal(t, "lease.pdf", hits[0].Payload.Source)
}

func TestQdrantCollectionManagement(t *testing.T) {
	ctx := context.Background()
	q := newQdrantForTest(t)

	list, err := q.ListCollections(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, q.EnsureCollection(ctx, "a", 2))
	list, err = q.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []CollectionDescription{{Name: "a"}}, list)

	require.NoError(t, q.DeleteCollection(ctx, "a"))
	assert.ErrorIs(t, q.DeleteCollection(ctx, "a"), ErrCollectionNotFound)
	_, err = q.GetCollection(ctx, "missing")
	assert.ErrorIs(t, err, ErrCollectionNotFound)
}
