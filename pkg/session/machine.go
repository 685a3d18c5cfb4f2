package session

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-companion/pkg/clock"
	"github.com/teslashibe/go-companion/pkg/device"
)

// Default timer lengths.
const (
	DefaultAwakeWindow = 20 * time.Second
	DefaultDialogMax   = 180 * time.Second
)

// Hooks are the side effects the machine requests. Nil hooks are skipped.
type Hooks struct {
	// OpenSession asks for a new LLM session. Called exactly once per
	// Idle→Listening transition and once per re-wake from standby.
	OpenSession func(sessionID string)
	// CloseSession asks for the named session to be torn down.
	CloseSession func(sessionID string)
	// SetMood applies a lifecycle mood.
	SetMood func(device.Mood)
	// EnsureRecording makes sure the passive recorder is running.
	EnsureRecording func()
	// DialogTimeout is the wrap-up signal sent when the dialog cap elapses.
	DialogTimeout func()
}

// Config configures a Machine.
type Config struct {
	AwakeWindow time.Duration
	DialogMax   time.Duration
	Clock       clock.Clock
	Logger      *slog.Logger
	// NewID generates session ids. Defaults to uuid.NewString.
	NewID func() string
}

// Machine is the session state machine. It is safe for concurrent use.
type Machine struct {
	cfg   Config
	hooks Hooks
	log   *slog.Logger

	mu         sync.Mutex
	state      State
	standby    bool
	wrappingUp bool
	ctx        Context

	awakeTimer    clock.Timer
	awakeGen      uint64
	awakeDeadline time.Time

	dialogTimer    clock.Timer
	dialogGen      uint64
	dialogDeadline time.Time

	listeners []func(Transition)
}

// NewMachine returns a machine in Idle.
func NewMachine(cfg Config, hooks Hooks) *Machine {
	if cfg.AwakeWindow <= 0 {
		cfg.AwakeWindow = DefaultAwakeWindow
	}
	if cfg.DialogMax <= 0 {
		cfg.DialogMax = DefaultDialogMax
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Machine{
		cfg:   cfg,
		hooks: hooks,
		log:   cfg.Logger.With("component", "session"),
		state: Idle,
	}
}

// OnTransition registers a listener for state changes. Listeners run after
// the hooks of the same operation, outside the machine lock.
func (m *Machine) OnTransition(fn func(Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// effects collects callbacks to run once the lock is released.
type effects []func()

func (fx *effects) add(fn func()) { *fx = append(*fx, fn) }

func (fx effects) run() {
	for _, fn := range fx {
		fn()
	}
}

// Wake handles a wake trigger. From Idle it moves to Listening and requests
// a session. Otherwise it restarts the awake timer; in standby it also
// requests a fresh session.
func (m *Machine) Wake() {
	m.mu.Lock()
	var fx effects
	now := m.cfg.Clock.Now()

	switch {
	case m.state == Idle:
		id := m.cfg.NewID()
		m.ctx = Context{AwakeStartTime: &now, LastInteractionTime: &now, SessionID: id}
		m.moodLocked(&fx, device.MoodAttentive)
		m.openLocked(&fx, id)
		m.transitionLocked(&fx, Listening, ReasonWake)
	case m.standby:
		id := m.cfg.NewID()
		m.standby = false
		m.ctx.SessionID = id
		m.ctx.LastInteractionTime = &now
		m.openLocked(&fx, id)
		m.transitionLocked(&fx, Listening, ReasonRewake)
	default:
		m.ctx.LastInteractionTime = &now
		m.log.Debug("re-wake resets awake timer", "state", m.state.String())
	}
	m.startAwakeLocked()
	m.mu.Unlock()
	fx.run()
}

// Sleep returns to Idle, closing any open session and clearing both timers.
// It is a no-op when already Idle.
func (m *Machine) Sleep() {
	m.mu.Lock()
	var fx effects
	m.sleepLocked(&fx, ReasonSleep)
	m.mu.Unlock()
	fx.run()
}

// StartDialog moves Listening to Dialog and starts the dialog cap. In Dialog
// or VisionCheck it only records an interaction.
func (m *Machine) StartDialog() error {
	m.mu.Lock()
	var fx effects
	now := m.cfg.Clock.Now()

	switch {
	case m.state == Dialog || m.state == VisionCheck:
		m.ctx.LastInteractionTime = &now
		m.startAwakeLocked()
	case m.state == Listening && !m.standby && m.ctx.SessionID != "":
		if m.ctx.DialogStartTime == nil {
			m.ctx.DialogStartTime = &now
		}
		m.ctx.LastInteractionTime = &now
		m.startDialogTimerLocked()
		m.startAwakeLocked()
		m.moodLocked(&fx, device.MoodEngaged)
		m.transitionLocked(&fx, Dialog, ReasonDialog)
	default:
		err := invalid("start dialog", m.state)
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()
	fx.run()
	return nil
}

// EnterVisionCheck moves Dialog to VisionCheck.
func (m *Machine) EnterVisionCheck() error {
	m.mu.Lock()
	if m.state != Dialog {
		err := invalid("enter vision check", m.state)
		m.mu.Unlock()
		return err
	}
	var fx effects
	m.moodLocked(&fx, device.MoodVision)
	m.transitionLocked(&fx, VisionCheck, ReasonVisionEnter)
	m.mu.Unlock()
	fx.run()
	return nil
}

// ExitVisionCheck returns VisionCheck to Dialog.
func (m *Machine) ExitVisionCheck() error {
	m.mu.Lock()
	if m.state != VisionCheck {
		err := invalid("exit vision check", m.state)
		m.mu.Unlock()
		return err
	}
	var fx effects
	m.moodLocked(&fx, device.MoodEngaged)
	m.transitionLocked(&fx, Dialog, ReasonVisionExit)
	m.mu.Unlock()
	fx.run()
	return nil
}

// RecordInteraction notes user activity and restarts the awake timer. The
// dialog cap is never extended. It reports false in Idle.
func (m *Machine) RecordInteraction() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Idle {
		return false
	}
	now := m.cfg.Clock.Now()
	m.ctx.LastInteractionTime = &now
	m.startAwakeLocked()
	return true
}

// Standby closes the session but stays awake in Listening so a wake word can
// resume without the full Idle cycle. The awake timer keeps running.
func (m *Machine) Standby() error {
	m.mu.Lock()
	if m.state == Idle {
		err := invalid("standby", m.state)
		m.mu.Unlock()
		return err
	}
	var fx effects
	m.leaveVisionLocked(&fx)
	m.closeLocked(&fx)
	m.stopDialogTimerLocked()
	m.standby = true
	m.wrappingUp = false
	m.ctx.DialogStartTime = nil
	m.ctx.SessionID = ""
	m.startAwakeLocked()
	m.moodLocked(&fx, device.MoodAttentive)
	m.transitionLocked(&fx, Listening, ReasonStandby)
	m.mu.Unlock()
	fx.run()
	return nil
}

// Close stops all timers without changing state. Used on shutdown.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopAwakeLocked()
	m.stopDialogTimerLocked()
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// InStandby reports whether the machine is in the standby variant of
// Listening.
func (m *Machine) InStandby() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.standby
}

// CanUploadData reports whether data may leave the device: any state other
// than Idle.
func (m *Machine) CanUploadData() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state != Idle
}

// SessionID returns the current session id, empty when none is open.
func (m *Machine) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx.SessionID
}

// Context returns a copy of the session context.
func (m *Machine) Context() Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx.clone()
}

// AwakeRemaining returns the time left on the awake timer.
func (m *Machine) AwakeRemaining() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remaining(m.awakeTimer, m.awakeDeadline)
}

// DialogRemaining returns the time left before the dialog cap.
func (m *Machine) DialogRemaining() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remaining(m.dialogTimer, m.dialogDeadline)
}

// Snapshot returns a consistent view of the machine.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		State:             m.state.String(),
		Standby:           m.standby,
		WrappingUp:        m.wrappingUp,
		CanUploadData:     m.state != Idle,
		AwakeRemainingMs:  m.remaining(m.awakeTimer, m.awakeDeadline).Milliseconds(),
		DialogRemainingMs: m.remaining(m.dialogTimer, m.dialogDeadline).Milliseconds(),
		Context:           m.ctx.clone(),
	}
}

func (m *Machine) remaining(t clock.Timer, deadline time.Time) time.Duration {
	if t == nil {
		return 0
	}
	left := deadline.Sub(m.cfg.Clock.Now())
	if left < 0 {
		return 0
	}
	return left
}

// Timers. Each start bumps a generation counter so that a callback from a
// stopped or replaced timer is ignored even if it was already in flight.

func (m *Machine) startAwakeLocked() {
	m.stopAwakeLocked()
	m.awakeGen++
	gen := m.awakeGen
	m.awakeDeadline = m.cfg.Clock.Now().Add(m.cfg.AwakeWindow)
	m.awakeTimer = m.cfg.Clock.AfterFunc(m.cfg.AwakeWindow, func() { m.awakeExpired(gen) })
}

func (m *Machine) stopAwakeLocked() {
	if m.awakeTimer != nil {
		m.awakeTimer.Stop()
		m.awakeTimer = nil
	}
	m.awakeGen++
}

func (m *Machine) startDialogTimerLocked() {
	m.stopDialogTimerLocked()
	m.dialogGen++
	gen := m.dialogGen
	m.dialogDeadline = m.cfg.Clock.Now().Add(m.cfg.DialogMax)
	m.dialogTimer = m.cfg.Clock.AfterFunc(m.cfg.DialogMax, func() { m.dialogExpired(gen) })
}

func (m *Machine) stopDialogTimerLocked() {
	if m.dialogTimer != nil {
		m.dialogTimer.Stop()
		m.dialogTimer = nil
	}
	m.dialogGen++
}

func (m *Machine) awakeExpired(gen uint64) {
	m.mu.Lock()
	if gen != m.awakeGen {
		m.mu.Unlock()
		return
	}
	m.awakeTimer = nil
	var fx effects
	if m.state == Listening {
		m.log.Info("awake window elapsed", "standby", m.standby)
		m.sleepLocked(&fx, ReasonAwakeTimeout)
	}
	m.mu.Unlock()
	fx.run()
}

func (m *Machine) dialogExpired(gen uint64) {
	m.mu.Lock()
	if gen != m.dialogGen {
		m.mu.Unlock()
		return
	}
	m.dialogTimer = nil
	var fx effects
	if m.state == Dialog || m.state == VisionCheck {
		m.wrappingUp = true
		m.log.Info("dialog cap reached", "session_id", m.ctx.SessionID)
		if m.hooks.DialogTimeout != nil {
			fx.add(m.hooks.DialogTimeout)
		}
	}
	m.mu.Unlock()
	fx.run()
}

func (m *Machine) sleepLocked(fx *effects, reason string) {
	if m.state == Idle {
		return
	}
	m.leaveVisionLocked(fx)
	m.closeLocked(fx)
	m.stopAwakeLocked()
	m.stopDialogTimerLocked()
	m.ctx = Context{}
	m.standby = false
	m.wrappingUp = false
	m.moodLocked(fx, device.MoodPassive)
	if m.hooks.EnsureRecording != nil {
		fx.add(m.hooks.EnsureRecording)
	}
	m.transitionLocked(fx, Idle, reason)
}

// leaveVisionLocked steps VisionCheck back to Dialog so that a forced exit
// still leaves VisionCheck only through Dialog.
func (m *Machine) leaveVisionLocked(fx *effects) {
	if m.state == VisionCheck {
		m.transitionLocked(fx, Dialog, ReasonVisionExit)
	}
}

func (m *Machine) openLocked(fx *effects, id string) {
	if m.hooks.OpenSession != nil {
		open := m.hooks.OpenSession
		fx.add(func() { open(id) })
	}
}

func (m *Machine) closeLocked(fx *effects) {
	id := m.ctx.SessionID
	if id == "" || m.hooks.CloseSession == nil {
		return
	}
	closeFn := m.hooks.CloseSession
	fx.add(func() { closeFn(id) })
}

func (m *Machine) moodLocked(fx *effects, mood device.Mood) {
	if m.hooks.SetMood != nil {
		set := m.hooks.SetMood
		fx.add(func() { set(mood) })
	}
}

func (m *Machine) transitionLocked(fx *effects, to State, reason string) {
	tr := Transition{
		From:    m.state,
		To:      to,
		Standby: m.standby,
		Reason:  reason,
		At:      m.cfg.Clock.Now(),
	}
	m.state = to
	m.log.Info("state transition", "from", tr.From.String(), "to", tr.To.String(), "reason", reason)
	listeners := slices.Clone(m.listeners)
	fx.add(func() {
		for _, fn := range listeners {
			fn(tr)
		}
	})
}
