package protocol

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/teslashibe/go-companion/pkg/device"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewSignal creates an inbound signal with no payload (wake, sleep,
// audio_commit, gimbal_touched)
func NewSignal(t MessageType) *Message {
	return &Message{Type: t, Timestamp: time.Now().UnixMilli()}
}

// NewTextInputMessage creates a text_input message
func NewTextInputMessage(text string) (*Message, error) {
	return NewMessage(TypeTextInput, TextInputData{Text: text})
}

// NewAudioChunkMessage creates an audio_chunk message from raw pcm16
func NewAudioChunkMessage(pcm []byte, sampleRate int) (*Message, error) {
	return NewMessage(TypeAudioChunk, AudioChunkData{
		Audio:      base64.StdEncoding.EncodeToString(pcm),
		SampleRate: sampleRate,
	})
}

// NewIMUEventMessage creates an imu_event message
func NewIMUEventMessage(level device.IMULevel) (*Message, error) {
	return NewMessage(TypeIMUEvent, IMUEventData{Level: level.String()})
}

// NewGPSUpdateMessage creates a gps_update message
func NewGPSUpdateMessage(fix device.GPSFix) (*Message, error) {
	data := GPSUpdateData{
		Lat:      fix.Lat,
		Lng:      fix.Lng,
		Accuracy: fix.Accuracy,
		Altitude: fix.Altitude,
		Heading:  fix.Heading,
		Speed:    fix.Speed,
	}
	if !fix.Timestamp.IsZero() {
		data.Timestamp = fix.Timestamp.UnixMilli()
	}
	return NewMessage(TypeGPSUpdate, data)
}

// NewFrameCapturedMessage creates a frame_captured message
func NewFrameCapturedMessage(requestID, image, errMsg string) (*Message, error) {
	return NewMessage(TypeFrameCaptured, FrameCapturedData{
		RequestID: requestID,
		Image:     image,
		Error:     errMsg,
	})
}

// NewSessionStateMessage creates a session_state broadcast
func NewSessionStateMessage(data SessionStateData) (*Message, error) {
	return NewMessage(TypeSessionState, data)
}

// NewDeviceStateMessage creates a device_state broadcast
func NewDeviceStateMessage(state device.State) (*Message, error) {
	return NewMessage(TypeDeviceState, state)
}

// NewRequestFrameMessage creates a request_frame message
func NewRequestFrameMessage(requestID, camera string, maxWidth int, quality float64) (*Message, error) {
	return NewMessage(TypeRequestFrame, RequestFrameData{
		RequestID: requestID,
		Camera:    camera,
		MaxWidth:  maxWidth,
		Quality:   quality,
	})
}

// NewAssistantTextMessage creates an assistant_text broadcast
func NewAssistantTextMessage(text string, final, transcript bool) (*Message, error) {
	return NewMessage(TypeAssistantText, AssistantTextData{Text: text, Final: final, Transcript: transcript})
}

// NewAssistantAudioMessage creates an assistant_audio broadcast
func NewAssistantAudioMessage(pcm []byte, final bool) (*Message, error) {
	data := AssistantAudioData{Final: final}
	if len(pcm) > 0 {
		data.Audio = base64.StdEncoding.EncodeToString(pcm)
	}
	return NewMessage(TypeAssistantAudio, data)
}

// NewUserTranscriptMessage creates a user_transcript broadcast
func NewUserTranscriptMessage(text string) (*Message, error) {
	return NewMessage(TypeUserTranscript, UserTranscriptData{Text: text})
}

// NewErrorMessage creates an error broadcast
func NewErrorMessage(code string, err error) (*Message, error) {
	return NewMessage(TypeError, ErrorData{Code: code, Message: err.Error()})
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
	})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// GetTextInput extracts text input from a message
func (m *Message) GetTextInput() (*TextInputData, error) {
	var data TextInputData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetAudioChunk extracts an audio chunk from a message
func (m *Message) GetAudioChunk() (*AudioChunkData, error) {
	var data AudioChunkData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// Decode decodes the base64 audio
func (a *AudioChunkData) Decode() ([]byte, error) {
	return base64.StdEncoding.DecodeString(a.Audio)
}

// GetIMUEvent extracts an IMU event from a message
func (m *Message) GetIMUEvent() (*IMUEventData, error) {
	var data IMUEventData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// IMULevel parses the event level
func (e *IMUEventData) IMULevel() (device.IMULevel, error) {
	return device.ParseIMULevel(e.Level)
}

// GetGPSUpdate extracts a GPS update from a message
func (m *Message) GetGPSUpdate() (*GPSUpdateData, error) {
	var data GPSUpdateData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	if data.Lat < -90 || data.Lat > 90 || data.Lng < -180 || data.Lng > 180 {
		return nil, fmt.Errorf("gps update out of range: lat=%v lng=%v", data.Lat, data.Lng)
	}
	return &data, nil
}

// Fix converts the update to a device fix. A zero timestamp is left zero so
// the store stamps it on receipt.
func (g *GPSUpdateData) Fix() device.GPSFix {
	fix := device.GPSFix{
		Lat:      g.Lat,
		Lng:      g.Lng,
		Accuracy: g.Accuracy,
		Altitude: g.Altitude,
		Heading:  g.Heading,
		Speed:    g.Speed,
	}
	if g.Timestamp > 0 {
		fix.Timestamp = time.UnixMilli(g.Timestamp)
	}
	return fix
}

// GetFrameCaptured extracts a captured frame from a message
func (m *Message) GetFrameCaptured() (*FrameCapturedData, error) {
	var data FrameCapturedData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	if data.RequestID == "" {
		return nil, fmt.Errorf("frame_captured without request_id")
	}
	return &data, nil
}

// GetSessionState extracts session state from a message
func (m *Message) GetSessionState() (*SessionStateData, error) {
	var data SessionStateData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetDeviceState extracts device state from a message
func (m *Message) GetDeviceState() (*DeviceStateData, error) {
	var data DeviceStateData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetRequestFrame extracts a frame request from a message
func (m *Message) GetRequestFrame() (*RequestFrameData, error) {
	var data RequestFrameData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetAssistantText extracts assistant text from a message
func (m *Message) GetAssistantText() (*AssistantTextData, error) {
	var data AssistantTextData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetErrorData extracts an error payload from a message
func (m *Message) GetErrorData() (*ErrorData, error) {
	var data ErrorData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPongData extracts pong data from a message
func (m *Message) GetPongData() (*PongData, error) {
	var data PongData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
