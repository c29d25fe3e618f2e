package vector

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"resume-match-go/internal/types"
)

// Match 一次检索命中
type Match struct {
	ID         int     `json:"id"`
	Key        string  `json:"key"`
	Similarity float32 `json:"similarity"`
}

// Index 进程内向量索引。
// 所有向量在插入时做L2归一化，检索用内积（等价余弦相似度）暴力扫描。
// 维度由第一次插入确定，id 自增且只追加，不支持删除。
type Index struct {
	mu   sync.RWMutex
	dim  int
	vecs [][]float32
	keys []string
}

// NewIndex 创建一个空索引
func NewIndex() *Index {
	return &Index{}
}

// Insert 归一化后追加向量，返回分配的整数id。
// 维度与索引不一致时返回 ErrDimensionMismatch。
func (idx *Index) Insert(key string, vec []float32) (int, error) {
	if len(vec) == 0 {
		return 0, fmt.Errorf("%w: 空向量", types.ErrDimensionMismatch)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.dim == 0 {
		// 第一次插入确定维度
		idx.dim = len(vec)
	} else if len(vec) != idx.dim {
		return 0, fmt.Errorf("%w: 期望 %d 维, 实际 %d 维", types.ErrDimensionMismatch, idx.dim, len(vec))
	}

	idx.vecs = append(idx.vecs, Normalize(vec))
	idx.keys = append(idx.keys, key)
	return len(idx.vecs) - 1, nil
}

// Search 返回与查询向量内积最高的前k条命中，相似度降序。
// 空索引返回空结果；分数相同时按插入顺序靠前者优先。
func (idx *Index) Search(query []float32, k int) ([]Match, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.vecs) == 0 || k <= 0 {
		return []Match{}, nil
	}
	if len(query) != idx.dim {
		return nil, fmt.Errorf("%w: 期望 %d 维, 实际 %d 维", types.ErrDimensionMismatch, idx.dim, len(query))
	}

	q := Normalize(query)
	matches := make([]Match, 0, len(idx.vecs))
	for i, v := range idx.vecs {
		matches = append(matches, Match{
			ID:         i,
			Key:        idx.keys[i],
			Similarity: dot(q, v),
		})
	}

	sort.SliceStable(matches, func(a, b int) bool {
		return matches[a].Similarity > matches[b].Similarity
	})

	if k > len(matches) {
		k = len(matches)
	}
	return matches[:k], nil
}

// Key 按id取回外部键
func (idx *Index) Key(id int) (string, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if id < 0 || id >= len(idx.keys) {
		return "", false
	}
	return idx.keys[id], true
}

// Contains 判断外部键是否已入索引
func (idx *Index) Contains(key string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for _, k := range idx.keys {
		if k == key {
			return true
		}
	}
	return false
}

// Len 当前向量条数
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.vecs)
}

// Dimension 返回索引维度，未插入过返回0
func (idx *Index) Dimension() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.dim
}

// Normalize 返回L2归一化后的新切片，零向量原样拷贝返回
func Normalize(vec []float32) []float32 {
	out := make([]float32, len(vec))
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		copy(out, vec)
		return out
	}
	norm := float32(math.Sqrt(sum))
	for i, v := range vec {
		out[i] = v / norm
	}
	return out
}

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
