// Package device holds the companion's simulated hardware state: output
// levels, mood and expression, head pose, the last GPS fix and recent IMU
// events. All writes go through Store.Apply, which merges partial updates
// and clamps every value to its mechanical or logical range.
package device

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Head pose limits in degrees.
const (
	MaxYaw   = 45.0
	MaxPitch = 30.0
	MaxRoll  = 30.0
)

// Output level bounds shared by volume and brightness.
const (
	MinLevel = 0
	MaxLevel = 100
)

// ErrUnknownMood is returned by ParseMood.
var ErrUnknownMood = errors.New("device: unknown mood")

// Mood is the expressive state shown by the avatar.
type Mood string

const (
	MoodNeutral   Mood = "neutral"
	MoodHappy     Mood = "happy"
	MoodSad       Mood = "sad"
	MoodCurious   Mood = "curious"
	MoodSurprised Mood = "surprised"
	MoodSleepy    Mood = "sleepy"
	MoodConcerned Mood = "concerned"
	MoodPlayful   Mood = "playful"
)

// Mood roles used by the session lifecycle.
const (
	MoodPassive   = MoodSleepy
	MoodAttentive = MoodNeutral
	MoodEngaged   = MoodHappy
	MoodVision    = MoodCurious
)

// Moods lists every valid mood in a stable order.
var Moods = []Mood{
	MoodNeutral, MoodHappy, MoodSad, MoodCurious,
	MoodSurprised, MoodSleepy, MoodConcerned, MoodPlayful,
}

// ParseMood validates a mood name, case-insensitively.
func ParseMood(s string) (Mood, error) {
	m := Mood(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Moods {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMood, s)
}

// HeadPose is the head orientation in degrees.
type HeadPose struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
}

// Clamp returns p restricted to the head's range of motion.
func (p HeadPose) Clamp() HeadPose {
	return HeadPose{
		Yaw:   clamp(p.Yaw, -MaxYaw, MaxYaw),
		Pitch: clamp(p.Pitch, -MaxPitch, MaxPitch),
		Roll:  clamp(p.Roll, -MaxRoll, MaxRoll),
	}
}

// PosePatch is a partial head pose update.
type PosePatch struct {
	Yaw   *float64 `json:"yaw,omitempty"`
	Pitch *float64 `json:"pitch,omitempty"`
	Roll  *float64 `json:"roll,omitempty"`
}

// Merge overlays the set fields of pp onto p.
func (pp PosePatch) Merge(p HeadPose) HeadPose {
	if pp.Yaw != nil {
		p.Yaw = *pp.Yaw
	}
	if pp.Pitch != nil {
		p.Pitch = *pp.Pitch
	}
	if pp.Roll != nil {
		p.Roll = *pp.Roll
	}
	return p
}

// GPSFix is a location report from the device.
type GPSFix struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Accuracy  float64   `json:"accuracy,omitempty"`
	Altitude  *float64  `json:"altitude,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// IMULevel grades a motion event.
type IMULevel int

const (
	IMULow IMULevel = iota
	IMUMedium
	IMUHigh
)

// String returns the wire name (L0, L1, L2).
func (l IMULevel) String() string {
	switch l {
	case IMULow:
		return "L0"
	case IMUMedium:
		return "L1"
	case IMUHigh:
		return "L2"
	default:
		return "unknown"
	}
}

// ParseIMULevel accepts L0/L1/L2 or low/medium/high.
func ParseIMULevel(s string) (IMULevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "l0", "low", "0":
		return IMULow, nil
	case "l1", "medium", "1":
		return IMUMedium, nil
	case "l2", "high", "2":
		return IMUHigh, nil
	}
	return 0, fmt.Errorf("device: unknown imu level %q", s)
}

// IMUEvent is one graded motion report.
type IMUEvent struct {
	Level IMULevel  `json:"-"`
	At    time.Time `json:"at"`
}

// IMUSummary aggregates recent motion events.
type IMUSummary struct {
	WindowMs    int64          `json:"window_ms"`
	LastLevel   string         `json:"last_level,omitempty"`
	LastEventAt *time.Time     `json:"last_event_at,omitempty"`
	Counts      map[string]int `json:"counts"`
	Total       int            `json:"total"`
}

// State is a snapshot of the device.
type State struct {
	Volume            int       `json:"volume"`
	Brightness        int       `json:"brightness"`
	Mood              Mood      `json:"mood"`
	ExpressionVariant int       `json:"expression_variant"`
	HeadPose          HeadPose  `json:"head_pose"`
	Recording         bool      `json:"recording"`
	Location          *GPSFix   `json:"location,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// DefaultState is the power-on state: passive mood, centered head.
func DefaultState() State {
	return State{
		Volume:     50,
		Brightness: 70,
		Mood:       MoodPassive,
	}
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// ClampLevel restricts a volume or brightness value to 0..100.
func ClampLevel(v int) int {
	if v < MinLevel {
		return MinLevel
	}
	if v > MaxLevel {
		return MaxLevel
	}
	return v
}
