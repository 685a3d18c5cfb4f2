// Package config loads the companion configuration: a YAML file layered
// under environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-companion/pkg/conversation"
	"github.com/teslashibe/go-companion/pkg/devicelink"
	"github.com/teslashibe/go-companion/pkg/dvr"
	"github.com/teslashibe/go-companion/pkg/orchestrator"
	"github.com/teslashibe/go-companion/pkg/tools"
)

// ConfigError reports an invalid setting.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Config is the complete companion configuration.
type Config struct {
	Server  ServerConfig         `yaml:"server"`
	LLM     LLMConfig            `yaml:"llm"`
	Session SessionConfig        `yaml:"session"`
	Tools   ToolsConfig          `yaml:"tools"`
	Device  DeviceConfig         `yaml:"device"`
	DVR     DVRConfig            `yaml:"dvr"`
	Redis   RedisConfig          `yaml:"redis"`
	Prompts orchestrator.Prompts `yaml:"prompts"`
	Log     LogConfig            `yaml:"log"`

	// Path is the file the config was read from, empty for defaults.
	Path string `yaml:"-"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// LLMConfig configures the realtime model session.
type LLMConfig struct {
	APIKey             string        `yaml:"api_key"`
	Model              string        `yaml:"model"`
	Voice              string        `yaml:"voice"`
	BaseURL            string        `yaml:"base_url"`
	APIVersion         string        `yaml:"api_version"`
	TranscriptionModel string        `yaml:"transcription_model"`
	Timeout            time.Duration `yaml:"timeout"`
	Temperature        float64       `yaml:"temperature"`
	MaxResponseTokens  int           `yaml:"max_response_tokens"`
}

// SessionConfig holds the lifecycle timings.
type SessionConfig struct {
	AwakeWindow    time.Duration `yaml:"awake_window"`
	DialogMax      time.Duration `yaml:"dialog_max"`
	WrapUpGrace    time.Duration `yaml:"wrap_up_grace"`
	FarewellGrace  time.Duration `yaml:"farewell_grace"`
	MoodFlash      time.Duration `yaml:"mood_flash"`
	GimbalRevert   time.Duration `yaml:"gimbal_revert"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// ToolsConfig holds tool limits.
type ToolsConfig struct {
	CaptureTimeout    time.Duration `yaml:"capture_timeout"`
	CameraCooldown    time.Duration `yaml:"camera_cooldown"`
	CameraWindowMax   int           `yaml:"camera_window_max"`
	CameraWindow      time.Duration `yaml:"camera_window"`
	LocationFreshness time.Duration `yaml:"location_freshness"`
	LevelCooldown     time.Duration `yaml:"level_cooldown"`
	MaxLevelDelta     int           `yaml:"max_level_delta"`
	IMUWindow         time.Duration `yaml:"imu_window"`
}

// DeviceConfig configures the device link.
type DeviceConfig struct {
	ID            string        `yaml:"id"`
	SignalRate    float64       `yaml:"signal_rate"`
	SignalBurst   int           `yaml:"signal_burst"`
	SignalTimeout time.Duration `yaml:"signal_timeout"`
}

// DVRConfig configures the passive recorder.
type DVRConfig struct {
	Dir      string        `yaml:"dir"`
	PreRoll  time.Duration `yaml:"pre_roll"`
	PostRoll time.Duration `yaml:"post_roll"`
	MaxClips int           `yaml:"max_clips"`
}

// RedisConfig enables the Redis bridge when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Enabled reports whether the bridge should run.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the built-in configuration.
func Default() *Config {
	oc := orchestrator.DefaultConfig()
	tc := tools.DefaultConfig()
	lc := devicelink.DefaultConfig()
	dc := dvr.DefaultConfig()
	cc := conversation.DefaultConfig()
	so := conversation.DefaultSessionOptions()

	return &Config{
		Server: ServerConfig{Addr: ":8080", RequestTimeout: 5 * time.Second},
		LLM: LLMConfig{
			Model:              cc.Model,
			Voice:              cc.Voice,
			APIVersion:         cc.APIVersion,
			TranscriptionModel: cc.TranscriptionModel,
			Timeout:            cc.Timeout,
			Temperature:        so.Temperature,
			MaxResponseTokens:  so.MaxResponseTokens,
		},
		Session: SessionConfig{
			AwakeWindow:    oc.AwakeWindow,
			DialogMax:      oc.DialogMax,
			WrapUpGrace:    oc.WrapUpGrace,
			FarewellGrace:  oc.FarewellGrace,
			MoodFlash:      oc.MoodFlash,
			GimbalRevert:   oc.GimbalRevert,
			ConnectTimeout: oc.ConnectTimeout,
		},
		Tools: ToolsConfig{
			CaptureTimeout:    tc.CaptureTimeout,
			CameraCooldown:    tc.CameraCooldown,
			CameraWindowMax:   tc.CameraWindowMax,
			CameraWindow:      tc.CameraWindow,
			LocationFreshness: tc.LocationFreshness,
			LevelCooldown:     tc.LevelCooldown,
			MaxLevelDelta:     tc.MaxLevelDelta,
			IMUWindow:         tc.IMUWindow,
		},
		Device: DeviceConfig{
			ID:            "companion",
			SignalRate:    float64(lc.SignalRate),
			SignalBurst:   lc.SignalBurst,
			SignalTimeout: lc.SignalTimeout,
		},
		DVR: DVRConfig{
			Dir:      "data/dvr",
			PreRoll:  dc.PreRoll,
			PostRoll: dc.PostRoll,
			MaxClips: dc.MaxClips,
		},
		Prompts: orchestrator.DefaultPrompts(),
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path uses defaults and the environment only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		cfg.Path = path
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.LLM.APIKey = getEnv("OPENAI_API_KEY", c.LLM.APIKey)
	c.LLM.Model = getEnv("OPENAI_MODEL", c.LLM.Model)
	c.LLM.Voice = getEnv("OPENAI_VOICE", c.LLM.Voice)
	c.LLM.BaseURL = getEnv("OPENAI_REALTIME_URL", c.LLM.BaseURL)
	c.LLM.APIVersion = getEnv("OPENAI_API_VERSION", c.LLM.APIVersion)

	if port := os.Getenv("COMPANION_PORT"); port != "" {
		c.Server.Addr = ":" + port
	}
	c.Server.Addr = getEnv("COMPANION_ADDR", c.Server.Addr)
	c.Device.ID = getEnv("COMPANION_ID", c.Device.ID)
	c.DVR.Dir = getEnv("COMPANION_DVR_DIR", c.DVR.Dir)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	if os.Getenv("GO_ENV") == "production" {
		c.Log.JSON = true
	}
}

// Validate checks the settings needed to run.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, field, reason string) {
		if !ok {
			errs = append(errs, &ConfigError{Field: field, Reason: reason})
		}
	}

	check(c.LLM.APIKey != "", "llm.api_key", "required (set OPENAI_API_KEY)")
	check(c.LLM.APIVersion == conversation.APIVersionBeta || c.LLM.APIVersion == conversation.APIVersionGA,
		"llm.api_version", fmt.Sprintf("must be %q or %q", conversation.APIVersionBeta, conversation.APIVersionGA))
	check(c.Server.Addr != "", "server.addr", "required")

	s := c.Session
	check(s.AwakeWindow > 0, "session.awake_window", "must be positive")
	check(s.DialogMax > s.AwakeWindow, "session.dialog_max", "must exceed the awake window")
	check(s.WrapUpGrace > 0, "session.wrap_up_grace", "must be positive")
	check(s.FarewellGrace > 0, "session.farewell_grace", "must be positive")

	t := c.Tools
	check(t.CaptureTimeout > 0, "tools.capture_timeout", "must be positive")
	check(t.CameraWindowMax > 0, "tools.camera_window_max", "must be positive")
	check(t.CameraWindow > 0, "tools.camera_window", "must be positive")
	check(t.MaxLevelDelta > 0 && t.MaxLevelDelta <= 100, "tools.max_level_delta", "must be in 1..100")

	check(c.Device.SignalRate > 0, "device.signal_rate", "must be positive")
	check(c.Device.SignalBurst > 0, "device.signal_burst", "must be positive")
	check(c.DVR.MaxClips > 0, "dvr.max_clips", "must be positive")

	return errors.Join(errs...)
}

// Orchestrator returns the orchestrator settings. Runtime collaborators
// (clock, logger) are left for the caller.
func (c *Config) Orchestrator() orchestrator.Config {
	oc := orchestrator.DefaultConfig()
	oc.AwakeWindow = c.Session.AwakeWindow
	oc.DialogMax = c.Session.DialogMax
	oc.WrapUpGrace = c.Session.WrapUpGrace
	oc.FarewellGrace = c.Session.FarewellGrace
	oc.MoodFlash = c.Session.MoodFlash
	oc.GimbalRevert = c.Session.GimbalRevert
	oc.ConnectTimeout = c.Session.ConnectTimeout
	oc.Prompts = c.Prompts

	tc := &oc.Tools
	tc.CaptureTimeout = c.Tools.CaptureTimeout
	tc.CameraCooldown = c.Tools.CameraCooldown
	tc.CameraWindowMax = c.Tools.CameraWindowMax
	tc.CameraWindow = c.Tools.CameraWindow
	tc.LocationFreshness = c.Tools.LocationFreshness
	tc.LevelCooldown = c.Tools.LevelCooldown
	tc.MaxLevelDelta = c.Tools.MaxLevelDelta
	tc.IMUWindow = c.Tools.IMUWindow

	oc.Session.Voice = c.LLM.Voice
	oc.Session.Temperature = c.LLM.Temperature
	oc.Session.MaxResponseTokens = c.LLM.MaxResponseTokens
	return oc
}

// ConversationOptions returns the realtime client options.
func (c *Config) ConversationOptions() []conversation.Option {
	return []conversation.Option{
		conversation.WithAPIKey(c.LLM.APIKey),
		conversation.WithModel(c.LLM.Model),
		conversation.WithVoice(c.LLM.Voice),
		conversation.WithBaseURL(c.LLM.BaseURL),
		conversation.WithAPIVersion(c.LLM.APIVersion),
		conversation.WithTimeout(c.LLM.Timeout),
		conversation.WithTranscriptionModel(c.LLM.TranscriptionModel),
	}
}

// DeviceLink returns the device link settings.
func (c *Config) DeviceLink() devicelink.Config {
	return devicelink.Config{
		SignalRate:    rate.Limit(c.Device.SignalRate),
		SignalBurst:   c.Device.SignalBurst,
		SignalTimeout: c.Device.SignalTimeout,
	}
}

// Recorder returns the recorder settings.
func (c *Config) Recorder() dvr.Config {
	return dvr.Config{
		Dir:      c.DVR.Dir,
		PreRoll:  c.DVR.PreRoll,
		PostRoll: c.DVR.PostRoll,
		MaxClips: c.DVR.MaxClips,
	}
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
