// Package ratelimit holds duplicate-delivery suppression for inbound triggers.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper claims keys for a window so a trigger delivered twice runs once.
// With a Redis client the claim is shared across processes; without one it is per process.
type Deduper struct {
	redis  *redis.Client
	window time.Duration
	prefix string

	mu    sync.Mutex
	local map[string]time.Time
	now   func() time.Time
}

// NewDeduper creates a Deduper. redisClient may be nil.
func NewDeduper(redisClient *redis.Client, window time.Duration) *Deduper {
	return &Deduper{
		redis:  redisClient,
		window: window,
		prefix: "dedup:",
		local:  make(map[string]time.Time),
		now:    time.Now,
	}
}

// Claim reports whether the caller is the first to see key within the window.
// A Redis failure falls back to the local map.
func (d *Deduper) Claim(ctx context.Context, key string) bool {
	if d.redis != nil {
		ok, err := d.redis.SetNX(ctx, d.prefix+key, "1", d.window).Result()
		if err == nil {
			return ok
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if last, exists := d.local[key]; exists && now.Sub(last) < d.window {
		return false
	}
	d.local[key] = now

	for k, v := range d.local {
		if now.Sub(v) >= d.window {
			delete(d.local, k)
		}
	}
	return true
}
