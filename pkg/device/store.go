package device

import (
	"sync"
	"time"

	"github.com/teslashibe/go-companion/pkg/clock"
)

// imuRetention bounds how much IMU history the store keeps.
const imuRetention = 10 * time.Minute

// Update is a partial state change. Nil fields are left untouched.
type Update struct {
	Volume            *int
	Brightness        *int
	Mood              *Mood
	ExpressionVariant *int
	HeadPose          *PosePatch
	Recording         *bool
}

// Store owns the device state.
type Store struct {
	clock clock.Clock

	mu       sync.RWMutex
	state    State
	imu      []IMUEvent
	onChange []func(State)
}

// NewStore returns a store seeded with initial, clamped.
func NewStore(initial State, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.Real{}
	}
	initial.Volume = ClampLevel(initial.Volume)
	initial.Brightness = ClampLevel(initial.Brightness)
	initial.HeadPose = initial.HeadPose.Clamp()
	if initial.Mood == "" {
		initial.Mood = MoodPassive
	}
	initial.UpdatedAt = clk.Now()
	return &Store{clock: clk, state: initial}
}

// OnChange registers a listener called after every mutation with the new
// state. Listeners run outside the store lock.
func (s *Store) OnChange(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyLocked()
}

// Apply merges u into the state, clamping every field, and returns the
// resulting snapshot.
func (s *Store) Apply(u Update) State {
	s.mu.Lock()
	if u.Volume != nil {
		s.state.Volume = ClampLevel(*u.Volume)
	}
	if u.Brightness != nil {
		s.state.Brightness = ClampLevel(*u.Brightness)
	}
	if u.Mood != nil {
		s.state.Mood = *u.Mood
	}
	if u.ExpressionVariant != nil {
		s.state.ExpressionVariant = *u.ExpressionVariant
	}
	if u.HeadPose != nil {
		s.state.HeadPose = u.HeadPose.Merge(s.state.HeadPose).Clamp()
	}
	if u.Recording != nil {
		s.state.Recording = *u.Recording
	}
	s.state.UpdatedAt = s.clock.Now()
	snap := s.copyLocked()
	listeners := s.onChange
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
	return snap
}

// SetLocation records a GPS fix. A zero timestamp is filled with now.
func (s *Store) SetLocation(fix GPSFix) {
	if fix.Timestamp.IsZero() {
		fix.Timestamp = s.clock.Now()
	}
	s.mu.Lock()
	s.state.Location = &fix
	s.state.UpdatedAt = s.clock.Now()
	snap := s.copyLocked()
	listeners := s.onChange
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}

// Location returns the last GPS fix, if any.
func (s *Store) Location() (GPSFix, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.Location == nil {
		return GPSFix{}, false
	}
	return *s.state.Location, true
}

// RecordIMU appends a motion event and drops history older than the
// retention window.
func (s *Store) RecordIMU(level IMULevel) IMUEvent {
	now := s.clock.Now()
	ev := IMUEvent{Level: level, At: now}

	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-imuRetention)
	i := 0
	for i < len(s.imu) && s.imu[i].At.Before(cutoff) {
		i++
	}
	s.imu = append(s.imu[i:], ev)
	return ev
}

// IMUSummary reports events inside the trailing window. The latest level is
// reported even when it falls outside the window.
func (s *Store) IMUSummary(window time.Duration) IMUSummary {
	now := s.clock.Now()
	sum := IMUSummary{
		WindowMs: window.Milliseconds(),
		Counts:   map[string]int{IMULow.String(): 0, IMUMedium.String(): 0, IMUHigh.String(): 0},
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if n := len(s.imu); n > 0 {
		last := s.imu[n-1]
		at := last.At
		sum.LastLevel = last.Level.String()
		sum.LastEventAt = &at
	}
	cutoff := now.Add(-window)
	for _, ev := range s.imu {
		if ev.At.Before(cutoff) {
			continue
		}
		sum.Counts[ev.Level.String()]++
		sum.Total++
	}
	return sum
}

func (s *Store) copyLocked() State {
	st := s.state
	if st.Location != nil {
		loc := *st.Location
		st.Location = &loc
	}
	return st
}
