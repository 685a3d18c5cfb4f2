package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/teslashibe/go-companion/pkg/conversation"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "companion.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Session.AwakeWindow != 20*time.Second || cfg.Session.DialogMax != 180*time.Second {
		t.Errorf("session = %+v", cfg.Session)
	}
	if cfg.Tools.CaptureTimeout != 8*time.Second || cfg.Tools.CameraWindowMax != 5 || cfg.Tools.MaxLevelDelta != 15 {
		t.Errorf("tools = %+v", cfg.Tools)
	}
	if cfg.Redis.Enabled() {
		t.Error("redis should be off by default")
	}
	if cfg.Prompts.System == "" {
		t.Error("default prompts missing")
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
llm:
  api_key: sk-file
  api_version: beta
session:
  awake_window: 30s
  dialog_max: 2m
tools:
  camera_window_max: 3
redis:
  addr: localhost:6379
prompts:
  wrap_up: "Time's up, say bye."
`)
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Path != path {
		t.Errorf("Path = %q", cfg.Path)
	}
	if cfg.Server.Addr != ":9000" || cfg.LLM.APIKey != "sk-file" || cfg.LLM.APIVersion != "beta" {
		t.Errorf("server/llm = %+v %+v", cfg.Server, cfg.LLM)
	}
	if cfg.Session.AwakeWindow != 30*time.Second || cfg.Session.DialogMax != 2*time.Minute {
		t.Errorf("session = %+v", cfg.Session)
	}
	if cfg.Session.WrapUpGrace != 5*time.Second {
		t.Errorf("unset fields keep defaults, wrap_up_grace = %v", cfg.Session.WrapUpGrace)
	}
	if cfg.Tools.CameraWindowMax != 3 || cfg.Tools.CaptureTimeout != 8*time.Second {
		t.Errorf("tools = %+v", cfg.Tools)
	}
	if !cfg.Redis.Enabled() {
		t.Error("redis should be enabled")
	}

	oc := cfg.Orchestrator()
	if oc.AwakeWindow != 30*time.Second || oc.Tools.CameraWindowMax != 3 {
		t.Errorf("orchestrator config = %+v", oc)
	}
	if oc.Prompts.WrapUp != "Time's up, say bye." || oc.Prompts.System == "" {
		t.Errorf("prompts = %+v", oc.Prompts)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, "llm:\n  api_key: sk-file\n")
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("COMPANION_PORT", "7070")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("GO_ENV", "production")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.APIKey != "sk-env" {
		t.Errorf("APIKey = %q, env should win", cfg.LLM.APIKey)
	}
	if cfg.Server.Addr != ":7070" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Redis.Addr != "redis:6379" || cfg.Redis.DB != 2 {
		t.Errorf("redis = %+v", cfg.Redis)
	}
	if !cfg.Log.JSON {
		t.Error("production should log JSON")
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(writeConfig(t, "session: [not, a, map]")); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing key", func(c *Config) { c.LLM.APIKey = "" }, "llm.api_key"},
		{"bad version", func(c *Config) { c.LLM.APIVersion = "v2" }, "llm.api_version"},
		{"dialog shorter than awake", func(c *Config) { c.Session.DialogMax = 10 * time.Second }, "session.dialog_max"},
		{"zero window", func(c *Config) { c.Tools.CameraWindowMax = 0 }, "tools.camera_window_max"},
		{"huge delta", func(c *Config) { c.Tools.MaxLevelDelta = 500 }, "tools.max_level_delta"},
		{"no burst", func(c *Config) { c.Device.SignalBurst = 0 }, "device.signal_burst"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.LLM.APIKey = "sk-test"
			tt.mutate(cfg)

			err := cfg.Validate()
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("err = %v, want *ConfigError", err)
			}
			if ce.Field != tt.field {
				t.Errorf("field = %q, want %q", ce.Field, tt.field)
			}
		})
	}

	t.Run("valid", func(t *testing.T) {
		cfg := Default()
		cfg.LLM.APIKey = "sk-test"
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate: %v", err)
		}
		if cfg.LLM.APIVersion != conversation.APIVersionGA {
			t.Errorf("default api version = %q", cfg.LLM.APIVersion)
		}
	})
}
