package conversation

import (
	"log/slog"
	"time"
)

// Realtime protocol versions.
const (
	// APIVersionBeta speaks the legacy realtime protocol (OpenAI-Beta header).
	APIVersionBeta = "beta"
	// APIVersionGA speaks the generally available realtime protocol.
	APIVersionGA = "ga"
)

// Config holds configuration for a realtime session.
type Config struct {
	// APIKey is the authentication key.
	APIKey string

	// Model is the realtime model name.
	Model string

	// Voice is the output voice.
	Voice string

	// BaseURL overrides the realtime websocket endpoint.
	BaseURL string

	// APIVersion selects the wire protocol: APIVersionBeta or APIVersionGA.
	APIVersion string

	// TranscriptionModel transcribes user audio.
	TranscriptionModel string

	// Timeout is the handshake timeout.
	Timeout time.Duration

	// ReadTimeout bounds the wait for the next server message.
	ReadTimeout time.Duration

	// WriteTimeout bounds each client write.
	WriteTimeout time.Duration

	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Model:              openAIModel,
		Voice:              VoiceShimmer,
		APIVersion:         APIVersionGA,
		TranscriptionModel: "whisper-1",
		Timeout:            30 * time.Second,
		ReadTimeout:        5 * time.Minute,
		WriteTimeout:       10 * time.Second,
		Logger:             slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the configuration for required fields.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.APIVersion != APIVersionBeta && c.APIVersion != APIVersionGA {
		return ErrUnsupportedAPIVersion
	}
	return nil
}

// Option is a functional option for configuring sessions.
type Option func(*Config)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithModel sets the realtime model.
func WithModel(model string) Option {
	return func(c *Config) {
		c.Model = model
	}
}

// WithVoice sets the output voice.
func WithVoice(voice string) Option {
	return func(c *Config) {
		c.Voice = voice
	}
}

// WithBaseURL sets the websocket endpoint.
func WithBaseURL(url string) Option {
	return func(c *Config) {
		c.BaseURL = url
	}
}

// WithAPIVersion selects the realtime protocol version.
func WithAPIVersion(v string) Option {
	return func(c *Config) {
		c.APIVersion = v
	}
}

// WithTimeout sets the handshake timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

// WithTranscriptionModel sets the user audio transcription model.
func WithTranscriptionModel(model string) Option {
	return func(c *Config) {
		c.TranscriptionModel = model
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// OpenAI voices.
const (
	VoiceAlloy   = "alloy"
	VoiceAsh     = "ash"
	VoiceCoral   = "coral"
	VoiceEcho    = "echo"
	VoiceSage    = "sage"
	VoiceShimmer = "shimmer"
)
