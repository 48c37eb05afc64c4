package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// frequencyOf reads an entry's frequency counter directly. Test-only.
func frequencyOf[K comparable, V any](t *testing.T, c *Cache[K, V], key K) int {
	t.Helper()
	el, ok := c.items[key]
	require.True(t, ok, "key %v should be cached", key)
	return el.Value.(*entry[K, V]).frequency
}

func TestNew_RejectsNonPositiveCapacity(t *testing.T) {
	_, err := New[string, int](0)
	assert.Error(t, err)

	_, err = New[string, int](-3)
	assert.Error(t, err)
}

func TestCache_GetMiss_ReturnsZeroValue(t *testing.T) {
	c, err := New[string, []float32](4)
	require.NoError(t, err)

	vec, ok := c.Get("absent")
	assert.False(t, ok)
	assert.Nil(t, vec)
}

func TestCache_SetGet_RoundTrip(t *testing.T) {
	c, err := New[string, int](4)
	require.NoError(t, err)

	c.Set("a", 1)
	c.Set("b", 2)

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, got)

	got, ok = c.Get("b")
	require.True(t, ok)
	assert.Equal(t, 2, got)
	assert.Equal(t, 2, c.Len())
}

func TestCache_SetExistingKey_UpdatesValueKeepsFrequency(t *testing.T) {
	// Given: an entry that has been read twice
	c, err := New[string, int](4)
	require.NoError(t, err)
	c.Set("a", 1)
	c.Get("a")
	c.Get("a")
	require.Equal(t, 3, frequencyOf(t, c, "a"))

	// When: the same key is written again
	c.Set("a", 99)

	// Then: the value changes but the frequency is not reset
	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 99, got)
	assert.Equal(t, 4, frequencyOf(t, c, "a"), "rewrite must not reset frequency")
}

func TestCache_AccessedEntrySurvivesEviction(t *testing.T) {
	// Given: a full cache where one entry has been read back
	c, err := New[string, int](2)
	require.NoError(t, err)
	c.Set("a", 1)
	c.Set("b", 2)
	_, ok := c.Get("a")
	require.True(t, ok)

	// When: inserting a third entry forces an eviction
	c.Set("c", 3)

	// Then: the unread entry loses, not the least recently used one
	assert.False(t, c.Contains("b"), "b was never read and should be evicted")
	assert.True(t, c.Contains("a"), "a was read and should survive")
	assert.True(t, c.Contains("c"))
	assert.Equal(t, 2, c.Len())
}

func TestCache_NoReads_FallsBackToLRU(t *testing.T) {
	// Given: entries that were only written, with distinct ages
	c, err := New[string, int](3)
	require.NoError(t, err)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.clock = func() time.Time { return now }

	c.Set("a", 1)
	now = now.Add(time.Minute)
	c.Set("b", 2)
	now = now.Add(time.Minute)
	c.Set("c", 3)
	now = now.Add(time.Minute)

	// When: a fourth entry is inserted
	c.Set("d", 4)

	// Then: the oldest write is evicted, as plain LRU would do
	assert.False(t, c.Contains("a"))
	assert.True(t, c.Contains("b"))
	assert.True(t, c.Contains("c"))
	assert.True(t, c.Contains("d"))
}

func TestCache_HotEntryAtTailOutlivesColderNeighbor(t *testing.T) {
	// Given: the least recently used entry is also the most frequently
	// used one
	c, err := New[string, int](3)
	require.NoError(t, err)
	c.Set("hot", 1)
	for i := 0; i < 5; i++ {
		_, ok := c.Get("hot")
		require.True(t, ok)
	}
	c.Set("warm", 2)
	c.Set("cold", 3)
	// Recency order is now cold, warm, hot with hot at the tail.

	// When: an insert forces an eviction
	c.Set("new", 4)

	// Then: the scan picks the low-frequency tail neighbor over the
	// hot entry
	assert.True(t, c.Contains("hot"), "frequently read entry should survive despite tail position")
	assert.False(t, c.Contains("warm"), "older unread entry should be evicted")
	assert.True(t, c.Contains("cold"))
	assert.True(t, c.Contains("new"))
}

func TestCache_FrequencyProtectionDecaysWithAge(t *testing.T) {
	// Given: a frequently-read entry whose last access is an hour old
	c, err := New[string, int](2)
	require.NoError(t, err)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.clock = func() time.Time { return now }

	c.Set("stale", 1)
	for i := 0; i < 5; i++ {
		c.Get("stale")
	}
	now = now.Add(time.Hour)
	c.Set("fresh", 2)

	// When: an insert forces an eviction
	c.Set("new", 3)

	// Then: the hour-old entry scores below the fresh one and is evicted
	assert.False(t, c.Contains("stale"))
	assert.True(t, c.Contains("fresh"))
	assert.True(t, c.Contains("new"))
}

func TestCache_Contains_DoesNotTouchFrequencyOrRecency(t *testing.T) {
	c, err := New[string, int](2)
	require.NoError(t, err)
	c.Set("a", 1)
	before := frequencyOf(t, c, "a")

	require.True(t, c.Contains("a"))

	assert.Equal(t, before, frequencyOf(t, c, "a"))
}

func TestCache_Purge_DropsAllEntries(t *testing.T) {
	c, err := New[string, int](4)
	require.NoError(t, err)
	c.Set("a", 1)
	c.Set("b", 2)

	c.Purge()

	assert.Equal(t, 0, c.Len())
	assert.False(t, c.Contains("a"))

	// Cache remains usable after purge
	c.Set("c", 3)
	got, ok := c.Get("c")
	require.True(t, ok)
	assert.Equal(t, 3, got)
}

func TestCache_Cap(t *testing.T) {
	c, err := New[string, int](7)
	require.NoError(t, err)
	assert.Equal(t, 7, c.Cap())
}

func TestCache_NeverExceedsCapacity(t *testing.T) {
	c, err := New[int, int](8)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		c.Set(i, i)
		assert.LessOrEqual(t, c.Len(), 8)
	}
	assert.Equal(t, 8, c.Len())
}

func TestCache_ConcurrentAccess_NoRace(t *testing.T) {
	c, err := New[string, int](16)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("key-%d", j%20)
				if j%3 == 0 {
					c.Set(key, id)
				} else {
					c.Get(key)
				}
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 16)
}
