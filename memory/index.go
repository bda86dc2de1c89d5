package memory

import (
	"math"
	"sort"
	"sync"

	"github.com/agircc/agir-learning-sub000/core"
)

// indexEntry is one memory's normalized vector inside an Index.
type indexEntry struct {
	memory *core.Memory
	vector []float32
}

// Index is a brute-force nearest-neighbor index over one user's memories for
// one embedding model. Vectors are L2-normalized at insert time so similarity
// reduces to a dot product. An Index is immutable after Build except through
// Add, which the owning service calls under the cache lock.
type Index struct {
	mu      sync.RWMutex
	entries []indexEntry
}

// NewIndex builds an index from the given memories, skipping records with no
// embedding.
func NewIndex(memories []*core.Memory) *Index {
	idx := &Index{}
	for _, m := range memories {
		idx.Add(m)
	}
	return idx
}

// Add inserts one memory. Records without an embedding are ignored.
func (idx *Index) Add(m *core.Memory) {
	if len(m.Embedding) == 0 {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries = append(idx.entries, indexEntry{memory: m, vector: normalize(m.Embedding)})
}

// Len returns the number of indexed memories.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// scored pairs a memory with its similarity to a query.
type scored struct {
	memory *core.Memory
	score  float32
}

// Search returns up to k memories ranked by cosine similarity to query.
func (idx *Index) Search(query []float32, k int) []*core.Memory {
	if k <= 0 || len(query) == 0 {
		return nil
	}
	q := normalize(query)
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	hits := make([]scored, 0, len(idx.entries))
	for _, e := range idx.entries {
		if len(e.vector) != len(q) {
			continue
		}
		hits = append(hits, scored{memory: e.memory, score: dot(e.vector, q)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > k {
		hits = hits[:k]
	}
	out := make([]*core.Memory, len(hits))
	for i, h := range hits {
		out[i] = h.memory
	}
	return out
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(norm))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x * inv
	}
	return out
}
