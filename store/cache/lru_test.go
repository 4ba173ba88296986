package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLRUCache_BasicOperations(t *testing.T) {
	c := NewLRUCache(100, time.Minute)

	t.Run("SetAndGet", func(t *testing.T) {
		c.Set("session:a", []byte("payload"))

		val, ok := c.Get("session:a")
		assert.True(t, ok)
		assert.Equal(t, []byte("payload"), val)
	})

	t.Run("GetMissing", func(t *testing.T) {
		val, ok := c.Get("session:missing")
		assert.False(t, ok)
		assert.Nil(t, val)
	})

	t.Run("UpdateExisting", func(t *testing.T) {
		c.Set("session:b", []byte("v1"))
		c.Set("session:b", []byte("v2"))

		val, ok := c.Get("session:b")
		assert.True(t, ok)
		assert.Equal(t, []byte("v2"), val)
	})

	t.Run("Delete", func(t *testing.T) {
		c.Set("session:c", []byte("v"))
		c.Delete("session:c")
		c.Delete("session:c") // idempotent

		_, ok := c.Get("session:c")
		assert.False(t, ok)
	})
}

func TestLRUCache_Expiration(t *testing.T) {
	c := NewLRUCache(100, time.Minute)

	c.SetWithTTL("expiring", []byte("v"), 50*time.Millisecond)

	_, ok := c.Get("expiring")
	assert.True(t, ok)

	time.Sleep(60 * time.Millisecond)

	_, ok = c.Get("expiring")
	assert.False(t, ok)
}

func TestLRUCache_Eviction(t *testing.T) {
	c := NewLRUCache(3, time.Minute)

	c.Set("k1", []byte("1"))
	c.Set("k2", []byte("2"))
	c.Set("k3", []byte("3"))
	assert.Equal(t, 3, c.Size())

	// Touch k1 so k2 becomes the eviction candidate.
	c.Get("k1")

	c.Set("k4", []byte("4"))
	assert.Equal(t, 3, c.Size())

	_, ok := c.Get("k2")
	assert.False(t, ok)
	_, ok = c.Get("k1")
	assert.True(t, ok)
}

func TestLRUCache_CleanupExpired(t *testing.T) {
	c := NewLRUCache(100, time.Minute)

	c.SetWithTTL("short1", []byte("v"), 10*time.Millisecond)
	c.SetWithTTL("short2", []byte("v"), 10*time.Millisecond)
	c.Set("long", []byte("v"))

	time.Sleep(20 * time.Millisecond)

	removed := c.CleanupExpired()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, c.Size())
}

func TestLRUCache_ConcurrentAccess(t *testing.T) {
	c := NewLRUCache(1000, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("k%d-%d", n, j)
				c.Set(key, []byte("v"))
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1000, c.Size())
}
