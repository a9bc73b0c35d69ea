package embedding

import (
	"encoding/json"
	"fmt"
)

// VectorExtractable 是能从中取出一条数值向量的响应元素。
// 服务商返回的单条 embedding 可能是：
//   - 原始数值序列（RawSequence）
//   - 带 "values" 或 "embedding" 键的映射（KeyedMapping）
//   - 暴露 Values/Embedding 字段的对象（AttributedObject）
type VectorExtractable interface {
	ExtractVector() ([]float32, error)
}

// RawSequence 是直接以数组形式返回的向量。
type RawSequence []any

// KeyedMapping 是 {"values": [...]} 或 {"embedding": [...]} 形式的向量。
type KeyedMapping map[string]any

// AttributedObject 包装一个通过方法暴露向量的对象。
type AttributedObject struct {
	obj any
}

type valuesGetter interface{ GetValues() []float32 }

type embeddingGetter interface{ GetEmbedding() []float32 }

// ContentEmbedding 是 Gemini 风格的单条 embedding 结构。
type ContentEmbedding struct {
	Values []float32 `json:"values"`
}

// GetValues 返回向量数值。
func (c ContentEmbedding) GetValues() []float32 { return c.Values }

// ExtractVector 将序列中的每个元素转换为 float32，遇到非数值元素时失败。
func (s RawSequence) ExtractVector() ([]float32, error) {
	if len(s) == 0 {
		return nil, fmt.Errorf("%w: could not extract vector", ErrEmbedding)
	}
	vec := make([]float32, len(s))
	for i, v := range s {
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("%w: contains non-numeric values (element %d is %T)", ErrEmbedding, i, v)
		}
		vec[i] = f
	}
	return vec, nil
}

// ExtractVector 优先读取 "values"，其次 "embedding"。
func (m KeyedMapping) ExtractVector() ([]float32, error) {
	for _, key := range []string{"values", "embedding"} {
		raw, ok := m[key]
		if !ok || raw == nil {
			continue
		}
		ext, err := classify(raw)
		if err != nil {
			return nil, err
		}
		return ext.ExtractVector()
	}
	return nil, fmt.Errorf("%w: could not extract vector, mapping has no values/embedding key", ErrEmbedding)
}

// ExtractVector 读取对象暴露的向量字段。
func (a AttributedObject) ExtractVector() ([]float32, error) {
	if g, ok := a.obj.(valuesGetter); ok {
		if v := g.GetValues(); len(v) > 0 {
			return v, nil
		}
	}
	if g, ok := a.obj.(embeddingGetter); ok {
		if v := g.GetEmbedding(); len(v) > 0 {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: could not extract vector from %T", ErrEmbedding, a.obj)
}

// classify 把一个未知形状的响应元素归入三种变体之一，无法识别时失败。
func classify(item any) (VectorExtractable, error) {
	switch v := item.(type) {
	case VectorExtractable:
		return v, nil
	case []any:
		return RawSequence(v), nil
	case []float32:
		seq := make(RawSequence, len(v))
		for i := range v {
			seq[i] = v[i]
		}
		return seq, nil
	case []float64:
		seq := make(RawSequence, len(v))
		for i := range v {
			seq[i] = v[i]
		}
		return seq, nil
	case map[string]any:
		return KeyedMapping(v), nil
	case valuesGetter, embeddingGetter:
		return AttributedObject{obj: v}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported embedding shape %T", ErrEmbedding, item)
	}
}

// ParseEmbeddings 把服务商返回的 embedding 列表解析为数值向量列表。
func ParseEmbeddings(items []any) ([][]float32, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: provider returned empty embeddings list", ErrEmbedding)
	}
	vectors := make([][]float32, 0, len(items))
	for i, item := range items {
		ext, err := classify(item)
		if err != nil {
			return nil, fmt.Errorf("invalid vector format at index %d: %w", i, err)
		}
		vec, err := ext.ExtractVector()
		if err != nil {
			return nil, fmt.Errorf("invalid vector format at index %d: %w", i, err)
		}
		vectors = append(vectors, vec)
	}
	return vectors, nil
}

func toFloat(v any) (float32, bool) {
	switch n := v.(type) {
	case float64:
		return float32(n), true
	case float32:
		return n, true
	case int:
		return float32(n), true
	case int64:
		return float32(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return float32(f), true
	default:
		return 0, false
	}
}
