package dvr

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/teslashibe/go-companion/internal/log"
	"github.com/teslashibe/go-companion/pkg/clock"
	"github.com/teslashibe/go-companion/pkg/device"
)

var epoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func testRecorder(t *testing.T, dir string, maxClips int) (*Recorder, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(epoch)
	r, err := NewRecorder(Config{Dir: dir, MaxClips: maxClips, Clock: clk, Logger: log.Discard()})
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}
	return r, clk
}

func TestRecordingFlag(t *testing.T) {
	r, _ := testRecorder(t, "", 0)

	if r.Recording() {
		t.Error("recorder should start stopped")
	}
	if !r.SetRecording(true) {
		t.Error("SetRecording(true) should report a change")
	}
	if r.SetRecording(true) {
		t.Error("second SetRecording(true) should be a no-op")
	}
	if !r.Recording() {
		t.Error("Recording() = false after SetRecording(true)")
	}
}

func TestSaveEventClip(t *testing.T) {
	dir := t.TempDir()
	r, _ := testRecorder(t, dir, 0)

	fix := &device.GPSFix{Lat: 1, Lng: 2}
	clip, err := r.SaveEventClip(Event{Reason: "fall detected", Level: device.IMUHigh, SessionID: "s-1", Location: fix})
	if err != nil {
		t.Fatalf("SaveEventClip() error = %v", err)
	}

	if clip.ID == "" {
		t.Error("expected clip ID to be generated")
	}
	if clip.Level != "L2" {
		t.Errorf("Level = %q, want L2", clip.Level)
	}
	if !clip.Start.Equal(epoch.Add(-10*time.Second)) || !clip.End.Equal(epoch.Add(20*time.Second)) {
		t.Errorf("window = %v..%v, want -10s..+20s around the event", clip.Start, clip.End)
	}

	if _, err := os.Stat(filepath.Join(dir, "clips.json")); err != nil {
		t.Fatalf("index not written: %v", err)
	}

	reloaded, _ := testRecorder(t, dir, 0)
	got, err := reloaded.Get(clip.ID)
	if err != nil {
		t.Fatalf("Get() after reload error = %v", err)
	}
	if got.Reason != "fall detected" || got.SessionID != "s-1" || got.Location == nil {
		t.Errorf("reloaded clip = %+v", got)
	}
}

func TestGetNotFound(t *testing.T) {
	r, _ := testRecorder(t, "", 0)
	if _, err := r.Get("missing"); !errors.Is(err, ErrClipNotFound) {
		t.Errorf("Get() error = %v, want ErrClipNotFound", err)
	}
}

func TestEviction(t *testing.T) {
	r, clk := testRecorder(t, t.TempDir(), 2)

	var ids []string
	for i := 0; i < 3; i++ {
		clip, err := r.SaveEventClip(Event{Reason: "bump", Level: device.IMUMedium})
		if err != nil {
			t.Fatalf("SaveEventClip() error = %v", err)
		}
		ids = append(ids, clip.ID)
		clk.Advance(time.Second)
	}

	if r.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", r.Count())
	}
	if _, err := r.Get(ids[0]); err == nil {
		t.Error("oldest clip should be evicted")
	}

	list := r.List()
	if list[0].ID != ids[2] || list[1].ID != ids[1] {
		t.Error("List() should be newest first")
	}
}

func TestCorruptIndex(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "clips.json"), []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewRecorder(Config{Dir: dir, Logger: log.Discard()}); err == nil {
		t.Error("NewRecorder() should fail on a corrupt index")
	}
}
