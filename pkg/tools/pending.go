package tools

import (
	"sync"
	"time"

	"github.com/teslashibe/go-companion/pkg/clock"
)

type pendingEntry struct {
	resolve func(f Frame, timedOut bool)
	timer   clock.Timer
	camera  Camera
	created time.Time
}

// pendingFrames tracks outstanding capture requests. An entry is removed
// before its callback runs, so each request resolves exactly once no matter
// whether fulfillment or timeout gets there first.
type pendingFrames struct {
	clock clock.Clock

	mu sync.Mutex
	m  map[string]*pendingEntry
}

func newPendingFrames(clk clock.Clock) *pendingFrames {
	return &pendingFrames{clock: clk, m: make(map[string]*pendingEntry)}
}

func (p *pendingFrames) add(id string, camera Camera, timeout time.Duration, resolve func(f Frame, timedOut bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := &pendingEntry{resolve: resolve, camera: camera, created: p.clock.Now()}
	p.m[id] = e
	e.timer = p.clock.AfterFunc(timeout, func() {
		p.resolve(Frame{RequestID: id}, true)
	})
}

// resolve completes a request. It reports false if the id is unknown or was
// already resolved.
func (p *pendingFrames) resolve(f Frame, timedOut bool) bool {
	p.mu.Lock()
	e, ok := p.m[f.RequestID]
	if ok {
		delete(p.m, f.RequestID)
		if !timedOut && e.timer != nil {
			e.timer.Stop()
		}
	}
	p.mu.Unlock()

	if !ok {
		return false
	}
	e.resolve(f, timedOut)
	return true
}

func (p *pendingFrames) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}
