package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"
)

type memoryCollection struct {
	dim    int
	points map[string]Point
}

// Memory 是进程内的向量库实现，用于本地开发与测试。
type Memory struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

// NewMemory 创建一个空的内存向量库。
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]*memoryCollection)}
}

func (m *Memory) EnsureCollection(_ context.Context, name string, dim int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.collections[name]; ok {
		if c.dim != dim {
			return dimensionMismatch(name, c.dim, dim)
		}
		return nil
	}
	m.collections[name] = &memoryCollection{dim: dim, points: make(map[string]Point)}
	return nil
}

func (m *Memory) Upsert(_ context.Context, name string, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[name]
	if !ok {
		return notFound(name)
	}
	for _, p := range points {
		if len(p.Vector) != c.dim {
			return dimensionMismatch(name, c.dim, len(p.Vector))
		}
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		p.Vector = vec
		c.points[p.ID] = p
	}
	return nil
}

func (m *Memory) Search(_ context.Context, name string, vector []float32, topK int) ([]ScoredPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[name]
	if !ok {
		return nil, notFound(name)
	}
	hits := make([]ScoredPoint, 0, len(c.points))
	for _, p := range c.points {
		hits = append(hits, ScoredPoint{ID: p.ID, Score: cosine(vector, p.Vector), Payload: p.Payload})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score == hits[j].Score {
			return hits[i].ID < hits[j].ID
		}
		return hits[i].Score > hits[j].Score
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (m *Memory) Count(_ context.Context, name string, _ bool) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[name]
	if !ok {
		return 0, notFound(name)
	}
	return len(c.points), nil
}

func (m *Memory) ListCollections(_ context.Context) ([]CollectionDescription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]CollectionDescription, 0, len(m.collections))
	for name := range m.collections {
		out = append(out, CollectionDescription{Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) GetCollection(_ context.Context, name string) (CollectionInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[name]
	if !ok {
		return CollectionInfo{}, notFound(name)
	}
	return CollectionInfo{Name: name, Status: "green", Dimension: c.dim, Distance: "Cosine", PointsCount: len(c.points)}, nil
}

func (m *Memory) DeleteCollection(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; !ok {
		return notFound(name)
	}
	delete(m.collections, name)
	return nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
