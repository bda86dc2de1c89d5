package memory

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// DefaultCacheCapacity bounds how many per-(user, embedding-model) indexes
// the process keeps resident at once.
const DefaultCacheCapacity = 50

// IndexCache is the process-wide bounded cache of retrieval indexes, shared
// by all concurrently running episodes. Eviction is FIFO by insertion order,
// a deliberate simplicity tradeoff over LRU. Concurrent builds of the same
// key are deduplicated so a popular user's index is built once, not per
// caller.
type IndexCache struct {
	mu       sync.Mutex
	capacity int
	indexes  map[string]*Index
	order    []string // insertion order, oldest first
	group    singleflight.Group
}

// IndexCacheOptions configures an IndexCache.
type IndexCacheOptions struct {
	// Capacity is the maximum number of resident indexes. Values < 1 fall
	// back to DefaultCacheCapacity.
	Capacity int
}

// NewIndexCache constructs an IndexCache.
func NewIndexCache(optFns ...func(o *IndexCacheOptions)) *IndexCache {
	opts := IndexCacheOptions{Capacity: DefaultCacheCapacity}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Capacity < 1 {
		opts.Capacity = DefaultCacheCapacity
	}
	return &IndexCache{
		capacity: opts.Capacity,
		indexes:  make(map[string]*Index),
	}
}

func cacheKey(userID, embeddingModel string) string {
	return fmt.Sprintf("%s/%s", userID, embeddingModel)
}

// Get returns the cached index for (userID, embeddingModel), or nil.
func (c *IndexCache) Get(userID, embeddingModel string) *Index {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indexes[cacheKey(userID, embeddingModel)]
}

// GetOrBuild returns the cached index, building it via build when absent.
// Concurrent callers for the same key share one build.
func (c *IndexCache) GetOrBuild(ctx context.Context, userID, embeddingModel string, build func(ctx context.Context) (*Index, error)) (*Index, error) {
	key := cacheKey(userID, embeddingModel)
	if idx := c.Get(userID, embeddingModel); idx != nil {
		return idx, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		if idx := c.Get(userID, embeddingModel); idx != nil {
			return idx, nil
		}
		idx, err := build(ctx)
		if err != nil {
			return nil, err
		}
		c.Put(userID, embeddingModel, idx)
		return idx, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Index), nil
}

// Put inserts an index, evicting the oldest entry when the cache is full.
// Re-inserting an existing key replaces the index without changing its
// insertion position.
func (c *IndexCache) Put(userID, embeddingModel string, idx *Index) {
	key := cacheKey(userID, embeddingModel)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.indexes[key]; exists {
		c.indexes[key] = idx
		return
	}
	if len(c.order) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.indexes, oldest)
	}
	c.indexes[key] = idx
	c.order = append(c.order, key)
}

// Invalidate drops the cached index for (userID, embeddingModel) so the next
// access rebuilds it.
func (c *IndexCache) Invalidate(userID, embeddingModel string) {
	key := cacheKey(userID, embeddingModel)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.indexes[key]; !exists {
		return
	}
	delete(c.indexes, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of resident indexes.
func (c *IndexCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.indexes)
}
