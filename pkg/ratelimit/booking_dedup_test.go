package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeduperLocalWindow(t *testing.T) {
	d := NewDeduper(nil, time.Minute)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }
	ctx := context.Background()

	assert.True(t, d.Claim(ctx, "inbound/a"))
	assert.False(t, d.Claim(ctx, "inbound/a"))
	assert.True(t, d.Claim(ctx, "inbound/b"))

	now = now.Add(time.Minute)
	assert.True(t, d.Claim(ctx, "inbound/a"))
}

func TestDeduperEvictsExpiredKeys(t *testing.T) {
	d := NewDeduper(nil, time.Second)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	d.Claim(context.Background(), "old")
	now = now.Add(2 * time.Second)
	d.Claim(context.Background(), "new")

	assert.NotContains(t, d.local, "old")
	assert.Contains(t, d.local, "new")
}
