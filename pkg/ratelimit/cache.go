package ratelimit

import (
	"sync"
	"time"

	"github.com/teslashibe/go-companion/pkg/clock"
)

// Cache holds a single value that is served only while fresh.
type Cache[T any] struct {
	freshness time.Duration
	clock     clock.Clock

	mu       sync.Mutex
	value    T
	storedAt time.Time
	ok       bool
}

// NewCache returns an empty cache.
func NewCache[T any](freshness time.Duration, clk clock.Clock) *Cache[T] {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Cache[T]{freshness: freshness, clock: clk}
}

// Get returns the value if it was stored less than the freshness window ago.
func (c *Cache[T]) Get() (T, bool) {
	return c.GetWithin(c.freshness)
}

// GetWithin is Get with a caller-supplied maximum age.
func (c *Cache[T]) GetWithin(maxAge time.Duration) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	if !c.ok {
		return zero, false
	}
	if c.clock.Now().Sub(c.storedAt) >= maxAge {
		return zero, false
	}
	return c.value, true
}

// Set stores v with the current time.
func (c *Cache[T]) Set(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = v
	c.storedAt = c.clock.Now()
	c.ok = true
}

// Invalidate drops the stored value.
func (c *Cache[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	c.value = zero
	c.ok = false
}

// Freshness returns the default freshness window.
func (c *Cache[T]) Freshness() time.Duration { return c.freshness }
