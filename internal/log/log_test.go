package log

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNew(t *testing.T) {
	t.Run("json output", func(t *testing.T) {
		var buf bytes.Buffer
		l := New(&buf, "info", true)
		l.Info("hello", "component", "session")

		out := buf.String()
		if !strings.Contains(out, `"msg":"hello"`) {
			t.Errorf("output = %q, want JSON msg field", out)
		}
		if !strings.Contains(out, `"component":"session"`) {
			t.Errorf("output = %q, want component attribute", out)
		}
	})

	t.Run("level filters debug", func(t *testing.T) {
		var buf bytes.Buffer
		l := New(&buf, "warn", false)
		l.Info("dropped")
		l.Warn("kept")

		out := buf.String()
		if strings.Contains(out, "dropped") {
			t.Error("info record should be filtered at warn level")
		}
		if !strings.Contains(out, "kept") {
			t.Error("warn record should be written")
		}
	})
}

func TestConfigure(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	Configure("debug", true)
	if !L().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should be enabled after Configure(debug)")
	}
	if slog.Default() != L() {
		t.Error("Configure should replace the slog default")
	}

	Configure("error", false)
	if L().Enabled(context.Background(), slog.LevelWarn) {
		t.Error("warn should be filtered after Configure(error)")
	}
}
