package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/teslashibe/go-companion/pkg/device"
)

func TestNewMessage(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		data    any
		wantErr bool
	}{
		{
			name:    "text input",
			msgType: TypeTextInput,
			data:    TextInputData{Text: "hello"},
		},
		{
			name:    "imu event",
			msgType: TypeIMUEvent,
			data:    IMUEventData{Level: "L2"},
		},
		{
			name:    "nil data",
			msgType: TypeWake,
			data:    nil,
		},
		{
			name:    "unmarshalable data",
			msgType: TypeError,
			data:    make(chan int),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := NewMessage(tt.msgType, tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewMessage() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}
			if msg.Type != tt.msgType {
				t.Errorf("NewMessage() type = %v, want %v", msg.Type, tt.msgType)
			}
			if msg.Timestamp == 0 {
				t.Error("NewMessage() timestamp should be set")
			}
		})
	}
}

func TestInbound(t *testing.T) {
	for _, mt := range []MessageType{TypeWake, TypeSleep, TypeTextInput, TypeAudioChunk, TypeAudioCommit, TypeIMUEvent, TypeGimbalTouched, TypeGPSUpdate, TypeFrameCaptured} {
		if !mt.Inbound() {
			t.Errorf("%s should be inbound", mt)
		}
	}
	for _, mt := range []MessageType{TypeSessionState, TypeDeviceState, TypeRequestFrame, TypeAssistantText, TypeError} {
		if mt.Inbound() {
			t.Errorf("%s should not be inbound", mt)
		}
	}
}

func TestAudioChunkMessage(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}

	msg, err := NewAudioChunkMessage(pcm, 24000)
	if err != nil {
		t.Fatalf("NewAudioChunkMessage() error = %v", err)
	}

	bytes, _ := msg.Bytes()
	parsed, err := ParseMessage(bytes)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}

	chunk, err := parsed.GetAudioChunk()
	if err != nil {
		t.Fatalf("GetAudioChunk() error = %v", err)
	}
	if chunk.SampleRate != 24000 {
		t.Errorf("SampleRate = %d, want 24000", chunk.SampleRate)
	}

	decoded, err := chunk.Decode()
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if string(decoded) != string(pcm) {
		t.Errorf("Decode() = %v, want %v", decoded, pcm)
	}
}

func TestIMUEventMessage(t *testing.T) {
	msg, err := NewIMUEventMessage(device.IMUHigh)
	if err != nil {
		t.Fatalf("NewIMUEventMessage() error = %v", err)
	}

	ev, err := msg.GetIMUEvent()
	if err != nil {
		t.Fatalf("GetIMUEvent() error = %v", err)
	}
	if ev.Level != "L2" {
		t.Errorf("Level = %q, want L2", ev.Level)
	}

	level, err := ev.IMULevel()
	if err != nil || level != device.IMUHigh {
		t.Errorf("IMULevel() = %v, %v; want IMUHigh", level, err)
	}

	bad := &IMUEventData{Level: "L9"}
	if _, err := bad.IMULevel(); err == nil {
		t.Error("IMULevel() should reject L9")
	}
}

func TestGPSUpdateMessage(t *testing.T) {
	alt := 12.5
	at := time.UnixMilli(1_700_000_000_000)

	msg, err := NewGPSUpdateMessage(device.GPSFix{Lat: 37.77, Lng: -122.42, Accuracy: 8, Altitude: &alt, Timestamp: at})
	if err != nil {
		t.Fatalf("NewGPSUpdateMessage() error = %v", err)
	}

	data, err := msg.GetGPSUpdate()
	if err != nil {
		t.Fatalf("GetGPSUpdate() error = %v", err)
	}

	fix := data.Fix()
	if fix.Lat != 37.77 || fix.Lng != -122.42 || fix.Accuracy != 8 {
		t.Errorf("Fix() = %+v", fix)
	}
	if fix.Altitude == nil || *fix.Altitude != alt {
		t.Errorf("Altitude = %v, want %v", fix.Altitude, alt)
	}
	if !fix.Timestamp.Equal(at) {
		t.Errorf("Timestamp = %v, want %v", fix.Timestamp, at)
	}

	t.Run("zero timestamp stays zero", func(t *testing.T) {
		fix := (&GPSUpdateData{Lat: 1, Lng: 2}).Fix()
		if !fix.Timestamp.IsZero() {
			t.Errorf("Timestamp = %v, want zero", fix.Timestamp)
		}
	})

	t.Run("out of range", func(t *testing.T) {
		msg, _ := NewMessage(TypeGPSUpdate, GPSUpdateData{Lat: 95, Lng: 0})
		if _, err := msg.GetGPSUpdate(); err == nil {
			t.Error("GetGPSUpdate() should reject lat 95")
		}
	})
}

func TestFrameCapturedMessage(t *testing.T) {
	msg, err := NewFrameCapturedMessage("req-1", "data:image/jpeg;base64,AAAA", "")
	if err != nil {
		t.Fatalf("NewFrameCapturedMessage() error = %v", err)
	}

	data, err := msg.GetFrameCaptured()
	if err != nil {
		t.Fatalf("GetFrameCaptured() error = %v", err)
	}
	if data.RequestID != "req-1" || data.Image == "" || data.Error != "" {
		t.Errorf("data = %+v", data)
	}

	missing, _ := NewMessage(TypeFrameCaptured, FrameCapturedData{Image: "data:x"})
	if _, err := missing.GetFrameCaptured(); err == nil {
		t.Error("GetFrameCaptured() should require request_id")
	}
}

func TestSessionStateMessage(t *testing.T) {
	msg, err := NewSessionStateMessage(SessionStateData{
		State:            "listening",
		Standby:          true,
		CanUploadData:    true,
		Connection:       "disconnected",
		AwakeRemainingMs: 20000,
	})
	if err != nil {
		t.Fatalf("NewSessionStateMessage() error = %v", err)
	}

	data, err := msg.GetSessionState()
	if err != nil {
		t.Fatalf("GetSessionState() error = %v", err)
	}
	if data.State != "listening" || !data.Standby || data.AwakeRemainingMs != 20000 {
		t.Errorf("data = %+v", data)
	}
}

func TestDeviceStateMessage(t *testing.T) {
	st := device.DefaultState()
	st.Volume = 65

	msg, err := NewDeviceStateMessage(st)
	if err != nil {
		t.Fatalf("NewDeviceStateMessage() error = %v", err)
	}

	data, err := msg.GetDeviceState()
	if err != nil {
		t.Fatalf("GetDeviceState() error = %v", err)
	}
	if data.Volume != 65 || data.Mood != device.MoodSleepy {
		t.Errorf("data = %+v", data)
	}
}

func TestPingPongMessage(t *testing.T) {
	ping, err := NewPingMessage("test-123")
	if err != nil {
		t.Fatalf("NewPingMessage() error = %v", err)
	}

	pingData, err := ping.GetPingData()
	if err != nil {
		t.Fatalf("GetPingData() error = %v", err)
	}
	if pingData.ID != "test-123" {
		t.Errorf("ID = %v, want test-123", pingData.ID)
	}

	pong, err := NewPongMessage("test-123", 1000, 1050)
	if err != nil {
		t.Fatalf("NewPongMessage() error = %v", err)
	}

	pongData, err := pong.GetPongData()
	if err != nil {
		t.Fatalf("GetPongData() error = %v", err)
	}
	if pongData.LatencyMs != 50 {
		t.Errorf("LatencyMs = %v, want 50", pongData.LatencyMs)
	}
}

func TestParseInvalidMessage(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{
			name:    "invalid json",
			input:   "not json",
			wantErr: true,
		},
		{
			name:    "missing type",
			input:   "{}",
			wantErr: true,
		},
		{
			name:    "valid message",
			input:   `{"type":"wake","ts":1234567890}`,
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMessage([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMessageJSON(t *testing.T) {
	msg, _ := NewRequestFrameMessage("req-9", "rear", 640, 0.7)

	bytes, _ := msg.Bytes()

	var parsed map[string]any
	if err := json.Unmarshal(bytes, &parsed); err != nil {
		t.Fatalf("Failed to unmarshal as map: %v", err)
	}

	if parsed["type"] != "request_frame" {
		t.Errorf("type = %v, want request_frame", parsed["type"])
	}
	if _, ok := parsed["ts"]; !ok {
		t.Error("ts field should be present")
	}

	data, _ := parsed["data"].(map[string]any)
	if data["request_id"] != "req-9" || data["camera"] != "rear" || data["max_width"] != 640.0 {
		t.Errorf("data = %v", data)
	}

	sig := NewSignal(TypeWake)
	bytes, _ = sig.Bytes()
	var bare map[string]any
	if err := json.Unmarshal(bytes, &bare); err != nil || bare["data"] != nil {
		t.Errorf("signal without payload should omit data, got %s", bytes)
	}
}

func BenchmarkNewAudioChunkMessage(b *testing.B) {
	pcm := make([]byte, 48*1024)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		NewAudioChunkMessage(pcm, 24000)
	}
}

func BenchmarkParseMessage(b *testing.B) {
	msg, _ := NewAudioChunkMessage(make([]byte, 48*1024), 24000)
	bytes, _ := msg.Bytes()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ParseMessage(bytes)
	}
}
