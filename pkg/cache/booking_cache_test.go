package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	Name string `json:"name"`
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	var got entry
	ok, err := c.GetJSON(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.SetJSON(ctx, "k", entry{Name: "alice"}, time.Minute))
	ok, err = c.GetJSON(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "alice", got.Name)

	require.NoError(t, c.Delete(ctx, "k"))
	ok, _ = c.GetJSON(ctx, "k", &got)
	assert.False(t, ok)
}

func TestMemoryCacheExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	c := NewMemoryCache()
	c.now = func() time.Time { return now }

	require.NoError(t, c.SetJSON(ctx, "short", entry{Name: "a"}, time.Minute))
	require.NoError(t, c.SetJSON(ctx, "forever", entry{Name: "b"}, 0))

	now = now.Add(2 * time.Minute)

	var got entry
	ok, err := c.GetJSON(ctx, "short", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.GetJSON(ctx, "forever", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "b", got.Name)
}
