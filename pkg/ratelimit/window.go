package ratelimit

import (
	"sync"
	"time"

	"github.com/teslashibe/go-companion/pkg/clock"
)

// SlidingWindow admits at most max actions in any trailing window.
type SlidingWindow struct {
	max    int
	window time.Duration
	clock  clock.Clock

	mu     sync.Mutex
	events []time.Time
}

// NewSlidingWindow admits max actions per window, timed by clk (the real
// clock when nil).
func NewSlidingWindow(max int, window time.Duration, clk clock.Clock) *SlidingWindow {
	if clk == nil {
		clk = clock.Real{}
	}
	return &SlidingWindow{max: max, window: window, clock: clk}
}

// CanAct prunes expired entries and reports whether one more action fits.
func (w *SlidingWindow) CanAct() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(w.clock.Now())
	return len(w.events) < w.max
}

// Act records an action only if it fits.
func (w *SlidingWindow) Act() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.clock.Now()
	w.pruneLocked(now)
	if len(w.events) >= w.max {
		return false
	}
	w.events = append(w.events, now)
	return true
}

// Count returns the actions still inside the window.
func (w *SlidingWindow) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(w.clock.Now())
	return len(w.events)
}

// RetryAfter returns how long until the oldest entry leaves the window, or
// zero when there is room.
func (w *SlidingWindow) RetryAfter() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.clock.Now()
	w.pruneLocked(now)
	if len(w.events) < w.max {
		return 0
	}
	return w.events[0].Add(w.window).Sub(now)
}

// Max returns the configured capacity.
func (w *SlidingWindow) Max() int { return w.max }

// Window returns the configured window length.
func (w *SlidingWindow) Window() time.Duration { return w.window }

func (w *SlidingWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.events) && !w.events[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.events = append(w.events[:0], w.events[i:]...)
	}
}
