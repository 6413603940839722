package runqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDedupCache_GetSet(t *testing.T) {
	cache := newDedupCache(context.Background(), 1*time.Minute)
	defer cache.Stop()

	_, ok := cache.Get("req-1")
	assert.False(t, ok)

	cache.Set("req-1", taskResult{value: "cached"})

	result, ok := cache.Get("req-1")
	assert.True(t, ok)
	assert.Equal(t, "cached", result.value)
	assert.Equal(t, 1, cache.Size())
}

func TestDedupCache_Expiry(t *testing.T) {
	cache := newDedupCache(context.Background(), 1*time.Minute)
	defer cache.Stop()

	cache.Set("req-1", taskResult{value: "cached"})

	// Backdate the entry past the TTL
	cache.mu.Lock()
	cache.entries["req-1"].timestamp = time.Now().Add(-2 * time.Minute)
	cache.mu.Unlock()

	_, ok := cache.Get("req-1")
	assert.False(t, ok)
}

func TestDedupCache_Clear(t *testing.T) {
	cache := newDedupCache(context.Background(), 1*time.Minute)
	defer cache.Stop()

	cache.Set("req-1", taskResult{value: "a"})
	cache.Set("req-2", taskResult{value: "b"})
	assert.Equal(t, 2, cache.Size())

	cache.Clear()
	assert.Equal(t, 0, cache.Size())
}

func TestDedupCache_Shutdown(t *testing.T) {
	cache := newDedupCache(context.Background(), 50*time.Millisecond)
	cache.Stop()

	select {
	case <-cache.done:
		// ok
	case <-time.After(1 * time.Second):
		t.Fatalf("dedup cache cleanup did not stop within timeout")
	}
}
