package gorole

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCache_GetSet(t *testing.T) {
	c := NewLRUCache(10)

	_, ok := c.GetRole("u1")
	assert.False(t, ok)

	c.SetRole("u1", &RoleAssignment{UserID: "u1", RoleID: 2}, time.Minute)
	a, ok := c.GetRole("u1")
	require.True(t, ok)
	assert.Equal(t, 2, a.RoleID)

	a.RoleID = 9
	b, _ := c.GetRole("u1")
	assert.Equal(t, 2, b.RoleID, "cached value must not be mutated through returned copy")

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)
}

func TestLRUCache_Expiry(t *testing.T) {
	c := NewLRUCache(10)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.SetRole("u1", &RoleAssignment{UserID: "u1", RoleID: 2}, time.Second)
	_, ok := c.GetRole("u1")
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok = c.GetRole("u1")
	assert.False(t, ok)
}

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache(2)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.SetRole("a", &RoleAssignment{UserID: "a"}, time.Hour)
	now = now.Add(time.Second)
	c.SetRole("b", &RoleAssignment{UserID: "b"}, time.Hour)
	now = now.Add(time.Second)
	_, _ = c.GetRole("a")
	now = now.Add(time.Second)
	c.SetRole("c", &RoleAssignment{UserID: "c"}, time.Hour)

	_, ok := c.GetRole("b")
	assert.False(t, ok)
	_, ok = c.GetRole("a")
	assert.True(t, ok)
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestLRUCache_InvalidateAndClear(t *testing.T) {
	c := NewLRUCache(0)
	c.SetRole("a", &RoleAssignment{UserID: "a"}, time.Hour)
	c.SetRole("b", &RoleAssignment{UserID: "b"}, time.Hour)

	c.InvalidateRole("a")
	_, ok := c.GetRole("a")
	assert.False(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Stats().Size)
}

func TestNoopCache(t *testing.T) {
	c := NewNoopCache()
	c.SetRole("a", &RoleAssignment{UserID: "a"}, time.Hour)
	_, ok := c.GetRole("a")
	assert.False(t, ok)
	assert.Equal(t, CacheStats{}, c.Stats())
}
