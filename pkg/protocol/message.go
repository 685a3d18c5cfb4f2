// Package protocol defines the JSON envelope exchanged with the device and
// with status subscribers over websocket and Redis.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/teslashibe/go-companion/pkg/device"
)

// ErrUnknownType is returned for envelopes whose type the companion does
// not handle.
var ErrUnknownType = errors.New("protocol: unknown message type")

// MessageType identifies the type of message
type MessageType string

const (
	// Device → companion signals
	TypeWake          MessageType = "wake"
	TypeSleep         MessageType = "sleep"
	TypeTextInput     MessageType = "text_input"
	TypeAudioChunk    MessageType = "audio_chunk"
	TypeAudioCommit   MessageType = "audio_commit"
	TypeIMUEvent      MessageType = "imu_event"
	TypeGimbalTouched MessageType = "gimbal_touched"
	TypeGPSUpdate     MessageType = "gps_update"
	TypeFrameCaptured MessageType = "frame_captured"

	// Companion → device / subscriber broadcasts
	TypeSessionState   MessageType = "session_state"
	TypeDeviceState    MessageType = "device_state"
	TypeRequestFrame   MessageType = "request_frame"
	TypeAssistantText  MessageType = "assistant_text"
	TypeAssistantAudio MessageType = "assistant_audio"
	TypeUserTranscript MessageType = "user_transcript"
	TypeError          MessageType = "error"

	// Bidirectional
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

var inbound = map[MessageType]bool{
	TypeWake: true, TypeSleep: true, TypeTextInput: true, TypeAudioChunk: true,
	TypeAudioCommit: true, TypeIMUEvent: true, TypeGimbalTouched: true,
	TypeGPSUpdate: true, TypeFrameCaptured: true, TypePing: true,
}

// Inbound reports whether t is a signal the device may send.
func (t MessageType) Inbound() bool { return inbound[t] }

// Message is the envelope for every message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data any) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v any) error {
	if len(m.Data) == 0 {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: missing type")
	}
	return &msg, nil
}

// =============================================================================
// Device → Companion
// =============================================================================

// TextInputData carries typed user input
type TextInputData struct {
	Text string `json:"text"`
}

// AudioChunkData carries microphone audio
type AudioChunkData struct {
	Audio      string `json:"audio"`                 // base64 pcm16
	SampleRate int    `json:"sample_rate,omitempty"` // e.g., 24000
}

// IMUEventData reports a motion event
type IMUEventData struct {
	Level     string  `json:"level"` // "L0", "L1", "L2"
	Magnitude float64 `json:"magnitude,omitempty"`
}

// GPSUpdateData reports a location fix
type GPSUpdateData struct {
	Lat       float64  `json:"lat"`
	Lng       float64  `json:"lng"`
	Accuracy  float64  `json:"accuracy,omitempty"`
	Altitude  *float64 `json:"altitude,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Timestamp int64    `json:"timestamp,omitempty"` // Unix milliseconds, 0 = receipt time
}

// FrameCapturedData answers a request_frame
type FrameCapturedData struct {
	RequestID string `json:"request_id"`
	Image     string `json:"image,omitempty"` // data URL
	Error     string `json:"error,omitempty"`
}

// =============================================================================
// Companion → Device / subscribers
// =============================================================================

// SessionStateData mirrors the session machine and LLM connection
type SessionStateData struct {
	State             string `json:"state"`
	Standby           bool   `json:"standby"`
	WrappingUp        bool   `json:"wrapping_up,omitempty"`
	CanUploadData     bool   `json:"can_upload_data"`
	SessionID         string `json:"session_id,omitempty"`
	Connection        string `json:"connection"`
	AwakeRemainingMs  int64  `json:"awake_remaining_ms"`
	DialogRemainingMs int64  `json:"dialog_remaining_ms"`
	Reason            string `json:"reason,omitempty"`
}

// RequestFrameData asks the device for a camera frame
type RequestFrameData struct {
	RequestID string  `json:"request_id"`
	Camera    string  `json:"camera"`
	MaxWidth  int     `json:"max_width"`
	Quality   float64 `json:"quality"`
}

// AssistantTextData is assistant text or transcript output
type AssistantTextData struct {
	Text       string `json:"text"`
	Final      bool   `json:"final"`
	Transcript bool   `json:"transcript,omitempty"` // spoken-audio transcript
}

// AssistantAudioData is assistant speech
type AssistantAudioData struct {
	Audio string `json:"audio,omitempty"` // base64 pcm16
	Final bool   `json:"final"`
}

// UserTranscriptData is the model's transcript of user speech
type UserTranscriptData struct {
	Text string `json:"text"`
}

// ErrorData reports a failure to subscribers
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DeviceStateData is the device state snapshot
type DeviceStateData = device.State

// =============================================================================
// Bidirectional
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
