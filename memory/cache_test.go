package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexCache_FIFOEviction(t *testing.T) {
	c := NewIndexCache(func(o *IndexCacheOptions) { o.Capacity = 2 })

	c.Put("u1", "model", NewIndex(nil))
	c.Put("u2", "model", NewIndex(nil))
	c.Put("u3", "model", NewIndex(nil))

	// oldest insertion evicted, not least recently used
	assert.Nil(t, c.Get("u1", "model"))
	assert.NotNil(t, c.Get("u2", "model"))
	assert.NotNil(t, c.Get("u3", "model"))
	assert.Equal(t, 2, c.Len())
}

func TestIndexCache_ReplaceKeepsInsertionPosition(t *testing.T) {
	c := NewIndexCache(func(o *IndexCacheOptions) { o.Capacity = 2 })

	c.Put("u1", "model", NewIndex(nil))
	c.Put("u2", "model", NewIndex(nil))
	c.Put("u1", "model", NewIndex(nil)) // replacement, u1 stays oldest
	c.Put("u3", "model", NewIndex(nil))

	assert.Nil(t, c.Get("u1", "model"))
	assert.NotNil(t, c.Get("u2", "model"))
}

func TestIndexCache_GetOrBuildDeduplicates(t *testing.T) {
	c := NewIndexCache()
	var builds int32
	var wg sync.WaitGroup

	build := func(ctx context.Context) (*Index, error) {
		atomic.AddInt32(&builds, 1)
		return NewIndex(nil), nil
	}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetOrBuild(context.Background(), "u1", "model", build)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// concurrent callers share builds; once cached no build runs at all
	first := atomic.LoadInt32(&builds)
	_, err := c.GetOrBuild(context.Background(), "u1", "model", build)
	require.NoError(t, err)
	assert.Equal(t, first, atomic.LoadInt32(&builds))
	assert.NotNil(t, c.Get("u1", "model"))
}

func TestIndexCache_Invalidate(t *testing.T) {
	c := NewIndexCache()
	c.Put("u1", "model", NewIndex(nil))
	c.Invalidate("u1", "model")
	assert.Nil(t, c.Get("u1", "model"))
	assert.Equal(t, 0, c.Len())
}
