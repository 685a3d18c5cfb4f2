package conversation

import "time"

// ConnectionState represents the transport state.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Tool defines a function the model may call.
type Tool struct {
	// Name is the function name.
	Name string `json:"name"`

	// Description explains what the tool does.
	Description string `json:"description"`

	// Parameters holds the JSON Schema "properties" object.
	Parameters map[string]any `json:"parameters"`

	// Required lists the required property names.
	Required []string `json:"required,omitempty"`
}

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	// Type is "server_vad", "semantic_vad" or "none".
	Type string

	// Threshold is the VAD threshold (0.0-1.0).
	Threshold float64

	// PrefixPaddingMs is audio kept before detected speech.
	PrefixPaddingMs int

	// SilenceDurationMs is the silence that ends a turn.
	SilenceDurationMs int
}

// SessionOptions configures a session after Connect.
type SessionOptions struct {
	SystemPrompt      string
	Voice             string
	Temperature       float64
	MaxResponseTokens int
	TurnDetection     *TurnDetection
	Tools             []Tool
}

// DefaultSessionOptions returns sensible defaults.
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		Temperature:       0.8,
		MaxResponseTokens: 4096,
		TurnDetection: &TurnDetection{
			Type:              "server_vad",
			Threshold:         0.5,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 500,
		},
	}
}

// Metrics tracks transport statistics.
type Metrics struct {
	ConnectionTime   time.Time
	MessagesSent     int64
	MessagesReceived int64
}
