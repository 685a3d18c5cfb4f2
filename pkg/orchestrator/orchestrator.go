// Package orchestrator ties the companion together. A single event loop
// owns every state transition: inbound device signals, LLM events, timer
// callbacks and asynchronous completions are all posted to it as closures,
// so the session machine, the device store and the LLM session are only
// ever driven from one goroutine.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-companion/pkg/clock"
	"github.com/teslashibe/go-companion/pkg/conversation"
	"github.com/teslashibe/go-companion/pkg/device"
	"github.com/teslashibe/go-companion/pkg/dvr"
	"github.com/teslashibe/go-companion/pkg/protocol"
	"github.com/teslashibe/go-companion/pkg/session"
	"github.com/teslashibe/go-companion/pkg/tools"
)

var (
	// ErrStopped is returned by calls made after Run has exited.
	ErrStopped = errors.New("orchestrator: stopped")
	// ErrNoSession is returned when input arrives without a connected LLM
	// session.
	ErrNoSession = errors.New("orchestrator: no connected session")
)

// Publisher receives outbound broadcasts.
type Publisher interface {
	Publish(msg *protocol.Message)
}

// Publishers fans a broadcast out to several publishers.
type Publishers []Publisher

// Publish implements Publisher.
func (ps Publishers) Publish(msg *protocol.Message) {
	for _, p := range ps {
		if p != nil {
			p.Publish(msg)
		}
	}
}

// Recorder is the passive recorder.
type Recorder interface {
	SetRecording(on bool) bool
	SaveEventClip(ev dvr.Event) (*dvr.Clip, error)
}

// Config holds the orchestrator's timing and prompts.
type Config struct {
	AwakeWindow    time.Duration
	DialogMax      time.Duration
	WrapUpGrace    time.Duration
	FarewellGrace  time.Duration
	MoodFlash      time.Duration
	GimbalRevert   time.Duration
	ConnectTimeout time.Duration

	Tools   tools.Config
	Session conversation.SessionOptions
	Prompts Prompts

	Clock  clock.Clock
	Logger *slog.Logger
	Rand   *rand.Rand
	// NewID generates session ids. Defaults to uuid.NewString.
	NewID func() string
}

// DefaultConfig returns the canonical timing constants.
func DefaultConfig() Config {
	return Config{
		AwakeWindow:    session.DefaultAwakeWindow,
		DialogMax:      session.DefaultDialogMax,
		WrapUpGrace:    5 * time.Second,
		FarewellGrace:  4 * time.Second,
		MoodFlash:      2 * time.Second,
		GimbalRevert:   1500 * time.Millisecond,
		ConnectTimeout: 15 * time.Second,
		Tools:          tools.DefaultConfig(),
		Session:        conversation.DefaultSessionOptions(),
		Prompts:        DefaultPrompts(),
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.AwakeWindow <= 0 {
		c.AwakeWindow = def.AwakeWindow
	}
	if c.DialogMax <= 0 {
		c.DialogMax = def.DialogMax
	}
	if c.WrapUpGrace <= 0 {
		c.WrapUpGrace = def.WrapUpGrace
	}
	if c.FarewellGrace <= 0 {
		c.FarewellGrace = def.FarewellGrace
	}
	if c.MoodFlash <= 0 {
		c.MoodFlash = def.MoodFlash
	}
	if c.GimbalRevert <= 0 {
		c.GimbalRevert = def.GimbalRevert
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	c.Prompts = c.Prompts.withDefaults()
	if c.Session.TurnDetection == nil {
		c.Session.TurnDetection = def.Session.TurnDetection
	}
	if c.Clock == nil {
		c.Clock = clock.Real{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Rand == nil {
		seed := uint64(time.Now().UnixNano())
		c.Rand = rand.New(rand.NewPCG(seed, seed>>1))
	}
}

// Deps are the collaborators the orchestrator drives.
type Deps struct {
	// Factory creates LLM sessions. Required.
	Factory conversation.Factory
	// Store is the device state. A default store is created when nil.
	Store *device.Store
	// Recorder is the passive recorder. Optional.
	Recorder Recorder
	// Publisher receives broadcasts. Optional.
	Publisher Publisher
}

// Orchestrator coordinates the session machine, the LLM session and the
// tool dispatcher.
type Orchestrator struct {
	cfg      Config
	log      *slog.Logger
	clock    clock.Clock
	loop     *loopClock
	machine  *session.Machine
	store    *device.Store
	tools    *tools.Dispatcher
	factory  conversation.Factory
	recorder Recorder
	pub      Publisher

	inbox   chan func()
	done    chan struct{}
	running atomic.Bool

	// Loop-owned state below. Never touched outside the loop goroutine.
	llm      *llmSession
	status   ConnStatus
	captures int
	wrapUp   gatedTimer
	farewell gatedTimer
	flash    gatedTimer
	nudge    gatedTimer
	ambient  device.Mood
	restPose *device.HeadPose
}

// New builds an orchestrator in Idle with the recorder running.
func New(cfg Config, deps Deps) *Orchestrator {
	cfg.applyDefaults()

	store := deps.Store
	if store == nil {
		store = device.NewStore(device.DefaultState(), cfg.Clock)
	}
	pub := deps.Publisher
	if pub == nil {
		pub = Publishers(nil)
	}

	o := &Orchestrator{
		cfg:      cfg,
		log:      cfg.Logger.With("component", "orchestrator"),
		clock:    cfg.Clock,
		store:    store,
		factory:  deps.Factory,
		recorder: deps.Recorder,
		pub:      pub,
		inbox:    make(chan func(), 256),
		done:     make(chan struct{}),
		status:   StatusDisconnected,
		ambient:  device.MoodPassive,
	}
	o.loop = &loopClock{base: cfg.Clock, post: o.post}

	o.machine = session.NewMachine(session.Config{
		AwakeWindow: cfg.AwakeWindow,
		DialogMax:   cfg.DialogMax,
		Clock:       o.loop,
		Logger:      cfg.Logger,
		NewID:       cfg.NewID,
	}, session.Hooks{
		OpenSession:     o.openSession,
		CloseSession:    o.closeSession,
		SetMood:         o.setLifecycleMood,
		EnsureRecording: o.ensureRecording,
		DialogTimeout:   o.dialogTimeout,
	})
	o.machine.OnTransition(o.onTransition)

	toolCfg := cfg.Tools
	toolCfg.Clock = cfg.Clock
	toolCfg.Logger = cfg.Logger
	toolCfg.Rand = rand.New(rand.NewPCG(cfg.Rand.Uint64(), cfg.Rand.Uint64()))
	o.tools = tools.New(toolCfg, o.machine, store, frameSink{o})

	store.OnChange(func(s device.State) {
		if msg, err := protocol.NewDeviceStateMessage(s); err == nil {
			o.pub.Publish(msg)
		}
	})

	o.ensureRecording()
	return o
}

// Run processes the event loop until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return errors.New("orchestrator: already running")
	}
	o.log.Info("orchestrator started")
	o.publishSessionState("startup")

	for {
		select {
		case fn := <-o.inbox:
			fn()
		case <-ctx.Done():
			o.shutdown()
			close(o.done)
			o.log.Info("orchestrator stopped")
			return ctx.Err()
		}
	}
}

func (o *Orchestrator) shutdown() {
	o.machine.Close()
	o.wrapUp.stop()
	o.farewell.stop()
	o.flash.stop()
	o.nudge.stop()
	if o.llm != nil {
		o.llm.close()
		o.llm = nil
	}
}

// post queues fn on the loop. It never blocks the caller; if the inbox is
// saturated the closure is handed to a goroutine.
func (o *Orchestrator) post(fn func()) {
	select {
	case o.inbox <- fn:
		return
	case <-o.done:
		return
	default:
	}
	go func() {
		select {
		case o.inbox <- fn:
		case <-o.done:
		}
	}()
}

// do runs fn on the loop and waits for it.
func (o *Orchestrator) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	select {
	case o.inbox <- func() { errc <- fn() }:
	case <-ctx.Done():
		return ctx.Err()
	case <-o.done:
		return ErrStopped
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-o.done:
		return ErrStopped
	}
}

// Sync waits until every closure queued before it has run.
func (o *Orchestrator) Sync(ctx context.Context) error {
	return o.do(ctx, func() error { return nil })
}

// Machine exposes the session machine for read-only queries.
func (o *Orchestrator) Machine() *session.Machine { return o.machine }

// Store exposes the device store.
func (o *Orchestrator) Store() *device.Store { return o.store }

// Tools exposes the dispatcher.
func (o *Orchestrator) Tools() *tools.Dispatcher { return o.tools }

// loopClock schedules timer callbacks onto the event loop.
type loopClock struct {
	base clock.Clock
	post func(func())
}

func (c *loopClock) Now() time.Time { return c.base.Now() }

func (c *loopClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	return c.base.AfterFunc(d, func() { c.post(f) })
}

// gatedTimer is a loop-owned one-shot timer. Each start bumps gen so a
// callback that was already queued when the timer was stopped is dropped.
type gatedTimer struct {
	timer clock.Timer
	gen   uint64
}

func (g *gatedTimer) start(c clock.Clock, d time.Duration, fn func()) {
	g.stop()
	gen := g.gen
	g.timer = c.AfterFunc(d, func() {
		if g.gen != gen {
			return
		}
		g.timer = nil
		fn()
	})
}

func (g *gatedTimer) stop() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.gen++
}

func (g *gatedTimer) active() bool { return g.timer != nil }
