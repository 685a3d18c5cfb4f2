// Package session implements the companion's conversation lifecycle: a four
// state machine (Idle, Listening, Dialog, VisionCheck) with an awake timer, a
// hard dialog cap and a standby sub-mode of Listening.
//
// The machine never performs I/O itself. Side effects (opening or closing the
// LLM session, mood changes, recorder control) are requested through Hooks,
// which run after the machine's lock is released.
package session

import (
	"errors"
	"fmt"
	"time"
)

// State is the lifecycle state.
type State int

const (
	// Idle is DVR mode: passive recording, no LLM session, no uploads.
	Idle State = iota
	// Listening means the device is awake and a session is open or opening.
	Listening
	// Dialog means the user is actively conversing.
	Dialog
	// VisionCheck is a sub-state of Dialog while a frame capture runs.
	VisionCheck
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Dialog:
		return "dialog"
	case VisionCheck:
		return "vision_check"
	default:
		return "unknown"
	}
}

// ErrInvalidTransition is returned when an operation is not allowed from the
// current state.
var ErrInvalidTransition = errors.New("session: invalid transition")

func invalid(op string, from State) error {
	return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, op, from)
}

// Context carries the per-awake-period bookkeeping. Every field is cleared on
// entering Idle.
type Context struct {
	AwakeStartTime      *time.Time `json:"awake_start_time,omitempty"`
	DialogStartTime     *time.Time `json:"dialog_start_time,omitempty"`
	LastInteractionTime *time.Time `json:"last_interaction_time,omitempty"`
	SessionID           string     `json:"session_id,omitempty"`
}

func (c Context) clone() Context {
	out := Context{SessionID: c.SessionID}
	if c.AwakeStartTime != nil {
		t := *c.AwakeStartTime
		out.AwakeStartTime = &t
	}
	if c.DialogStartTime != nil {
		t := *c.DialogStartTime
		out.DialogStartTime = &t
	}
	if c.LastInteractionTime != nil {
		t := *c.LastInteractionTime
		out.LastInteractionTime = &t
	}
	return out
}

// Transition describes a state change.
type Transition struct {
	From    State     `json:"-"`
	To      State     `json:"-"`
	Standby bool      `json:"standby"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"at"`
}

// Transition reasons.
const (
	ReasonWake         = "wake"
	ReasonRewake       = "rewake"
	ReasonSleep        = "sleep"
	ReasonAwakeTimeout = "awake_timeout"
	ReasonDialog       = "dialog"
	ReasonVisionEnter  = "vision_enter"
	ReasonVisionExit   = "vision_exit"
	ReasonStandby      = "standby"

	// ReasonDialogTimeout marks the wrap-up broadcast; the machine itself
	// does not change state when the dialog cap elapses.
	ReasonDialogTimeout = "dialog_timeout"
)

// Snapshot is a point-in-time view for broadcasts and status endpoints.
type Snapshot struct {
	State             string  `json:"state"`
	Standby           bool    `json:"standby"`
	WrappingUp        bool    `json:"wrapping_up"`
	CanUploadData     bool    `json:"can_upload_data"`
	AwakeRemainingMs  int64   `json:"awake_remaining_ms"`
	DialogRemainingMs int64   `json:"dialog_remaining_ms"`
	Context           Context `json:"context"`
}
