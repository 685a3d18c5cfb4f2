package ratelimit

import (
	"sync"
	"time"

	"github.com/teslashibe/go-companion/pkg/clock"
)

// Cooldown allows one action per interval.
type Cooldown struct {
	interval time.Duration
	clock    clock.Clock

	mu      sync.Mutex
	last    time.Time
	started bool
}

// NewCooldown returns a cooldown that has never acted.
func NewCooldown(interval time.Duration, clk clock.Clock) *Cooldown {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Cooldown{interval: interval, clock: clk}
}

// CanAct reports whether an action is allowed now.
func (c *Cooldown) CanAct() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remainingLocked(c.clock.Now()) == 0
}

// Act records an action if allowed and reports whether it was.
func (c *Cooldown) Act() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	if c.remainingLocked(now) > 0 {
		return false
	}
	c.last = now
	c.started = true
	return true
}

// Remaining returns the time left before the next action, floored at zero.
func (c *Cooldown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remainingLocked(c.clock.Now())
}

// Reset forgets the last action.
func (c *Cooldown) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = false
	c.last = time.Time{}
}

func (c *Cooldown) remainingLocked(now time.Time) time.Duration {
	if !c.started {
		return 0
	}
	left := c.interval - now.Sub(c.last)
	if left < 0 {
		return 0
	}
	return left
}
