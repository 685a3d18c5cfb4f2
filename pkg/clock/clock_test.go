package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func TestFakeAdvance(t *testing.T) {
	t.Run("fires due timers in order", func(t *testing.T) {
		c := NewFake(epoch)
		var order []int

		c.AfterFunc(3*time.Second, func() { order = append(order, 3) })
		c.AfterFunc(time.Second, func() { order = append(order, 1) })
		c.AfterFunc(10*time.Second, func() { order = append(order, 10) })

		c.Advance(5 * time.Second)

		if len(order) != 2 || order[0] != 1 || order[1] != 3 {
			t.Errorf("order = %v, want [1 3]", order)
		}
		if c.Pending() != 1 {
			t.Errorf("Pending() = %d, want 1", c.Pending())
		}
		if got := c.Now(); !got.Equal(epoch.Add(5 * time.Second)) {
			t.Errorf("Now() = %v, want epoch+5s", got)
		}
	})

	t.Run("callback observes its deadline", func(t *testing.T) {
		c := NewFake(epoch)
		var seen time.Time
		c.AfterFunc(2*time.Second, func() { seen = c.Now() })

		c.Advance(time.Minute)

		if !seen.Equal(epoch.Add(2 * time.Second)) {
			t.Errorf("callback saw %v, want epoch+2s", seen)
		}
	})

	t.Run("stopped timer never fires", func(t *testing.T) {
		c := NewFake(epoch)
		fired := false
		tm := c.AfterFunc(time.Second, func() { fired = true })

		if !tm.Stop() {
			t.Error("first Stop() should return true")
		}
		if tm.Stop() {
			t.Error("second Stop() should return false")
		}

		c.Advance(2 * time.Second)
		if fired {
			t.Error("stopped timer fired")
		}
	})

	t.Run("timers scheduled by callbacks", func(t *testing.T) {
		c := NewFake(epoch)
		count := 0
		c.AfterFunc(time.Second, func() {
			count++
			c.AfterFunc(time.Second, func() { count++ })
		})

		c.Advance(3 * time.Second)
		if count != 2 {
			t.Errorf("count = %d, want 2", count)
		}
	})
}
