package cachelayer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// Verifies spec §8 property 1's building block: an unexpired entry is
// returned without re-computation, and a capacity-bounded cache evicts the
// least-recently-used entry once full.
func TestLRU_GetPutRoundtrip(t *testing.T) {
	c := NewLRU(2, time.Minute)

	c.Put("a", 1)
	c.Put("b", 2)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	// "b" is now LRU (a was just touched); inserting "c" should evict "b".
	c.Put("c", 3)

	_, ok = c.Get("b")
	assert.False(t, ok, "expected b to be evicted as least-recently-used")

	v, ok = c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestLRU_TTLExpiry(t *testing.T) {
	c := NewLRU(10, 20*time.Millisecond)
	c.Put("k", "v")

	_, ok := c.Get("k")
	assert.True(t, ok)

	time.Sleep(40 * time.Millisecond)

	_, ok = c.Get("k")
	assert.False(t, ok, "expected entry to have expired")
}

func TestLRU_Invalidate(t *testing.T) {
	c := NewLRU(10, time.Minute)
	c.Put("k", "v")
	c.Invalidate("k")

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestLRU_Stats(t *testing.T) {
	c := NewLRU(10, time.Minute)
	c.Put("k", "v")

	_, _ = c.Get("k")
	_, _ = c.Get("missing")

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}
