// Package dvr is the passive recorder that runs while the companion is idle.
// It tracks the recording flag and persists event-clip manifests when a
// motion event needs footage kept.
package dvr

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-companion/pkg/clock"
	"github.com/teslashibe/go-companion/pkg/device"
)

// ErrClipNotFound is returned by Get for unknown clip ids.
var ErrClipNotFound = errors.New("dvr: clip not found")

// Event describes why a clip should be kept.
type Event struct {
	Reason    string
	Level     device.IMULevel
	SessionID string
	Location  *device.GPSFix
}

// Clip is a saved event-clip manifest. Start and End bound the footage the
// recorder keeps around the event.
type Clip struct {
	ID        string         `json:"id"`
	Reason    string         `json:"reason"`
	Level     string         `json:"level"`
	EventAt   time.Time      `json:"event_at"`
	Start     time.Time      `json:"start"`
	End       time.Time      `json:"end"`
	SessionID string         `json:"session_id,omitempty"`
	Location  *device.GPSFix `json:"location,omitempty"`
}

// Config configures a Recorder.
type Config struct {
	// Dir holds the clip index. Empty keeps clips in memory only.
	Dir      string
	PreRoll  time.Duration
	PostRoll time.Duration
	// MaxClips caps the index; the oldest clips are evicted first.
	MaxClips int
	Clock    clock.Clock
	Logger   *slog.Logger
}

// DefaultConfig returns 10s of pre-roll, 20s of post-roll and a 100 clip cap.
func DefaultConfig() Config {
	return Config{
		PreRoll:  10 * time.Second,
		PostRoll: 20 * time.Second,
		MaxClips: 100,
	}
}

type indexFile struct {
	Version   int     `json:"version"`
	UpdatedAt string  `json:"updated_at"`
	Clips     []*Clip `json:"clips"`
}

const indexVersion = 1

// Recorder tracks the passive recording flag and the clip index.
type Recorder struct {
	cfg  Config
	log  *slog.Logger
	path string

	mu        sync.RWMutex
	recording bool
	clips     map[string]*Clip
}

// NewRecorder creates a recorder, loading an existing index from cfg.Dir.
func NewRecorder(cfg Config) (*Recorder, error) {
	def := DefaultConfig()
	if cfg.PreRoll <= 0 {
		cfg.PreRoll = def.PreRoll
	}
	if cfg.PostRoll <= 0 {
		cfg.PostRoll = def.PostRoll
	}
	if cfg.MaxClips <= 0 {
		cfg.MaxClips = def.MaxClips
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := &Recorder{
		cfg:   cfg,
		log:   cfg.Logger.With("component", "dvr"),
		clips: make(map[string]*Clip),
	}

	if cfg.Dir == "" {
		return r, nil
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create clip directory: %w", err)
	}
	r.path = filepath.Join(cfg.Dir, "clips.json")
	if _, err := os.Stat(r.path); err == nil {
		if err := r.load(); err != nil {
			return nil, fmt.Errorf("failed to load clip index: %w", err)
		}
	}
	return r, nil
}

// SetRecording sets the recording flag and reports whether it changed.
func (r *Recorder) SetRecording(on bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording == on {
		return false
	}
	r.recording = on
	r.log.Info("recording", "on", on)
	return true
}

// Recording reports whether the passive recorder is active.
func (r *Recorder) Recording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// SaveEventClip records a clip manifest around the current time.
func (r *Recorder) SaveEventClip(ev Event) (*Clip, error) {
	now := r.cfg.Clock.Now()
	clip := &Clip{
		ID:        uuid.NewString(),
		Reason:    ev.Reason,
		Level:     ev.Level.String(),
		EventAt:   now,
		Start:     now.Add(-r.cfg.PreRoll),
		End:       now.Add(r.cfg.PostRoll),
		SessionID: ev.SessionID,
		Location:  ev.Location,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.clips[clip.ID] = clip
	r.evictLocked()
	if err := r.saveLocked(); err != nil {
		delete(r.clips, clip.ID)
		return nil, err
	}

	r.log.Info("event clip saved", "clip", clip.ID, "reason", clip.Reason, "level", clip.Level)
	return clip, nil
}

// Get returns a clip by id.
func (r *Recorder) Get(id string) (*Clip, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clip, ok := r.clips[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClipNotFound, id)
	}
	return clip, nil
}

// List returns all clips, newest first.
func (r *Recorder) List() []*Clip {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked()
}

// Count returns the number of saved clips.
func (r *Recorder) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clips)
}

func (r *Recorder) sortedLocked() []*Clip {
	out := make([]*Clip, 0, len(r.clips))
	for _, c := range r.clips {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EventAt.Equal(out[j].EventAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].EventAt.After(out[j].EventAt)
	})
	return out
}

func (r *Recorder) evictLocked() {
	if len(r.clips) <= r.cfg.MaxClips {
		return
	}
	sorted := r.sortedLocked()
	for _, c := range sorted[r.cfg.MaxClips:] {
		delete(r.clips, c.ID)
	}
}

func (r *Recorder) load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var stored indexFile
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}

	for _, c := range stored.Clips {
		r.clips[c.ID] = c
	}
	return nil
}

// saveLocked writes the index atomically via a temp file and rename.
func (r *Recorder) saveLocked() error {
	if r.path == "" {
		return nil
	}

	stored := indexFile{
		Version:   indexVersion,
		UpdatedAt: r.cfg.Clock.Now().Format(time.RFC3339),
		Clips:     r.sortedLocked(),
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	tmpPath := r.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
