package device

import (
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/teslashibe/go-companion/pkg/clock"
)

var epoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func TestHeadPoseClamp(t *testing.T) {
	tests := []struct {
		name string
		in   HeadPose
		want HeadPose
	}{
		{"inside range", HeadPose{Yaw: 10, Pitch: -5, Roll: 3}, HeadPose{Yaw: 10, Pitch: -5, Roll: 3}},
		{"yaw over", HeadPose{Yaw: 90}, HeadPose{Yaw: 45}},
		{"yaw under", HeadPose{Yaw: -60}, HeadPose{Yaw: -45}},
		{"pitch and roll", HeadPose{Pitch: 31, Roll: -31}, HeadPose{Pitch: 30, Roll: -30}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.Clamp(); got != tt.want {
				t.Errorf("Clamp() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseMood(t *testing.T) {
	if m, err := ParseMood(" Happy "); err != nil || m != MoodHappy {
		t.Errorf("ParseMood(Happy) = %q, %v", m, err)
	}
	if _, err := ParseMood("furious"); !errors.Is(err, ErrUnknownMood) {
		t.Errorf("ParseMood(furious) error = %v, want ErrUnknownMood", err)
	}
}

func TestParseIMULevel(t *testing.T) {
	tests := map[string]IMULevel{"L0": IMULow, "l1": IMUMedium, "high": IMUHigh, "2": IMUHigh}
	for in, want := range tests {
		got, err := ParseIMULevel(in)
		if err != nil || got != want {
			t.Errorf("ParseIMULevel(%q) = %v, %v, want %v", in, got, err, want)
		}
	}
	if _, err := ParseIMULevel("L9"); err == nil {
		t.Error("ParseIMULevel(L9) should fail")
	}
}

func TestStoreApply(t *testing.T) {
	t.Run("merges partial updates", func(t *testing.T) {
		s := NewStore(DefaultState(), clock.NewFake(epoch))

		st := s.Apply(Update{Volume: ptr(65)})
		if st.Volume != 65 || st.Brightness != 70 {
			t.Errorf("state = %+v, want volume 65 brightness 70", st)
		}

		st = s.Apply(Update{HeadPose: &PosePatch{Pitch: ptr(12.0)}})
		if st.HeadPose.Pitch != 12 || st.Volume != 65 {
			t.Errorf("state = %+v, want pitch 12 and volume kept", st)
		}
	})

	t.Run("clamps on every write", func(t *testing.T) {
		s := NewStore(State{Volume: 300, HeadPose: HeadPose{Yaw: 100}}, clock.NewFake(epoch))
		if got := s.Snapshot(); got.Volume != 100 || got.HeadPose.Yaw != 45 {
			t.Errorf("initial state not clamped: %+v", got)
		}

		st := s.Apply(Update{
			Brightness: ptr(-4),
			HeadPose:   &PosePatch{Yaw: ptr(-90.0), Roll: ptr(50.0)},
		})
		if st.Brightness != 0 {
			t.Errorf("Brightness = %d, want 0", st.Brightness)
		}
		if st.HeadPose.Yaw != -45 || st.HeadPose.Roll != 30 {
			t.Errorf("HeadPose = %+v, want yaw -45 roll 30", st.HeadPose)
		}
	})

	t.Run("notifies listeners", func(t *testing.T) {
		s := NewStore(DefaultState(), clock.NewFake(epoch))
		var got []Mood
		s.OnChange(func(st State) { got = append(got, st.Mood) })

		s.Apply(Update{Mood: ptr(MoodCurious)})
		s.Apply(Update{Mood: ptr(MoodHappy)})

		if len(got) != 2 || got[1] != MoodHappy {
			t.Errorf("listener saw %v, want [curious happy]", got)
		}
	})
}

func TestStoreLocation(t *testing.T) {
	clk := clock.NewFake(epoch)
	s := NewStore(DefaultState(), clk)

	if _, ok := s.Location(); ok {
		t.Error("Location() ok before any fix")
	}

	s.SetLocation(GPSFix{Lat: 48.85, Lng: 2.35, Accuracy: 12})
	fix, ok := s.Location()
	if !ok || fix.Lat != 48.85 {
		t.Fatalf("Location() = %+v, %v", fix, ok)
	}
	if !fix.Timestamp.Equal(epoch) {
		t.Errorf("Timestamp = %v, want filled with now", fix.Timestamp)
	}

	snap := s.Snapshot()
	snap.Location.Lat = 0
	if again, _ := s.Location(); again.Lat != 48.85 {
		t.Error("Snapshot should not alias the stored fix")
	}
}

func TestIMUSummary(t *testing.T) {
	clk := clock.NewFake(epoch)
	s := NewStore(DefaultState(), clk)

	s.RecordIMU(IMUHigh)
	clk.Advance(90 * time.Second)
	s.RecordIMU(IMULow)
	clk.Advance(10 * time.Second)
	s.RecordIMU(IMUMedium)

	sum := s.IMUSummary(time.Minute)
	if sum.Total != 2 {
		t.Errorf("Total = %d, want 2", sum.Total)
	}
	if sum.Counts["L2"] != 0 || sum.Counts["L0"] != 1 || sum.Counts["L1"] != 1 {
		t.Errorf("Counts = %v", sum.Counts)
	}
	if sum.LastLevel != "L1" {
		t.Errorf("LastLevel = %q, want L1", sum.LastLevel)
	}
	if sum.WindowMs != 60000 {
		t.Errorf("WindowMs = %d, want 60000", sum.WindowMs)
	}
}

func TestPickVariant(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	for _, m := range Moods {
		t.Run(string(m), func(t *testing.T) {
			vs := Variants(m)
			if len(vs) == 0 {
				t.Fatalf("no variants for %s", m)
			}
			for i := 0; i < 20; i++ {
				v := PickVariant(m, rng)
				found := false
				for _, candidate := range vs {
					if candidate == v {
						found = true
					}
				}
				if !found {
					t.Errorf("PickVariant(%s) = %+v, not in variant table", m, v)
				}
				if v.Pose != v.Pose.Clamp() {
					t.Errorf("variant pose %+v outside limits", v.Pose)
				}
			}
		})
	}

	if v := PickVariant(Mood("bogus"), rng); v != (Variant{}) {
		t.Errorf("PickVariant(bogus) = %+v, want zero variant", v)
	}
}
