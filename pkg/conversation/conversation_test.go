package conversation

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestNormalizeEventType(t *testing.T) {
	pairs := []struct {
		legacy string
		ga     string
		want   EventType
	}{
		{"response.text.delta", "response.output_text.delta", EventTextDelta},
		{"response.text.done", "response.output_text.done", EventTextDone},
		{"response.audio.delta", "response.output_audio.delta", EventAudioDelta},
		{"response.audio.done", "response.output_audio.done", EventAudioDone},
		{"response.audio_transcript.delta", "response.output_audio_transcript.delta", EventTranscriptDelta},
		{"response.audio_transcript.done", "response.output_audio_transcript.done", EventTranscriptDone},
	}

	for _, p := range pairs {
		t.Run(string(p.want), func(t *testing.T) {
			legacy, ok := NormalizeEventType(p.legacy)
			if !ok || legacy != p.want {
				t.Errorf("NormalizeEventType(%q) = %q, %v, want %q", p.legacy, legacy, ok, p.want)
			}
			ga, ok := NormalizeEventType(p.ga)
			if !ok || ga != p.want {
				t.Errorf("NormalizeEventType(%q) = %q, %v, want %q", p.ga, ga, ok, p.want)
			}
		})
	}

	if _, ok := NormalizeEventType("rate_limits.updated"); ok {
		t.Error("rate_limits.updated should not be normalized")
	}
}

func TestParseServerEvent(t *testing.T) {
	t.Run("legacy and GA text deltas are identical", func(t *testing.T) {
		a, _ := ParseServerEvent(map[string]any{"type": "response.text.delta", "delta": "hi"})
		b, _ := ParseServerEvent(map[string]any{"type": "response.output_text.delta", "delta": "hi"})
		if a.Type != b.Type || a.Text != b.Text {
			t.Errorf("legacy %+v != GA %+v", a, b)
		}
	})

	t.Run("audio delta decoded", func(t *testing.T) {
		enc := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
		ev, ok := ParseServerEvent(map[string]any{"type": "response.output_audio.delta", "delta": enc})
		if !ok || string(ev.Audio) != string([]byte{1, 2, 3}) {
			t.Errorf("audio = %v, ok = %v", ev.Audio, ok)
		}
	})

	t.Run("bad audio dropped", func(t *testing.T) {
		if _, ok := ParseServerEvent(map[string]any{"type": "response.audio.delta", "delta": "!!"}); ok {
			t.Error("invalid base64 should be dropped")
		}
	})

	t.Run("function call", func(t *testing.T) {
		ev, ok := ParseServerEvent(map[string]any{
			"type":      "response.function_call_arguments.done",
			"call_id":   "call-7",
			"name":      "capture_frame",
			"arguments": `{"camera":"rear"}`,
		})
		if !ok || ev.Type != EventFunctionCall {
			t.Fatalf("ev = %+v, ok = %v", ev, ok)
		}
		if ev.CallID != "call-7" || ev.Name != "capture_frame" || ev.Arguments["camera"] != "rear" {
			t.Errorf("ev = %+v", ev)
		}
	})

	t.Run("malformed arguments carry an error", func(t *testing.T) {
		ev, _ := ParseServerEvent(map[string]any{
			"type":      "response.function_call_arguments.done",
			"arguments": `{"camera": "rear"`,
		})
		if ev.Arguments == nil || len(ev.Arguments) != 0 {
			t.Errorf("Arguments = %v, want empty map", ev.Arguments)
		}
		if ev.ArgumentsErr == nil || !strings.Contains(ev.ArgumentsErr.Error(), "malformed arguments") {
			t.Errorf("ArgumentsErr = %v", ev.ArgumentsErr)
		}
	})

	t.Run("empty arguments are fine", func(t *testing.T) {
		ev, _ := ParseServerEvent(map[string]any{
			"type": "response.function_call_arguments.done",
			"name": "get_location",
		})
		if ev.ArgumentsErr != nil {
			t.Errorf("ArgumentsErr = %v", ev.ArgumentsErr)
		}
	})

	t.Run("user transcript", func(t *testing.T) {
		ev, _ := ParseServerEvent(map[string]any{
			"type":       "conversation.item.input_audio_transcription.completed",
			"transcript": "what's that?",
		})
		if ev.Type != EventUserTranscript || ev.Text != "what's that?" {
			t.Errorf("ev = %+v", ev)
		}
	})

	t.Run("cancelled response", func(t *testing.T) {
		ev, _ := ParseServerEvent(map[string]any{
			"type":     "response.done",
			"response": map[string]any{"id": "resp-1", "status": "cancelled"},
		})
		if ev.Type != EventResponseCancelled || ev.ResponseID != "resp-1" {
			t.Errorf("ev = %+v", ev)
		}
	})

	t.Run("error", func(t *testing.T) {
		ev, _ := ParseServerEvent(map[string]any{
			"type":  "error",
			"error": map[string]any{"code": "rate_limit_exceeded", "message": "slow down"},
		})
		var apiErr *APIError
		if !errors.As(ev.Err, &apiErr) || apiErr.Code != "rate_limit_exceeded" {
			t.Errorf("Err = %v", ev.Err)
		}
	})
}

func TestMockSession(t *testing.T) {
	t.Run("connect and disconnect", func(t *testing.T) {
		m := NewMock()
		if m.IsConnected() {
			t.Error("should not be connected initially")
		}
		if err := m.Connect(context.Background()); err != nil {
			t.Errorf("connect failed: %v", err)
		}
		if !m.IsConnected() {
			t.Error("should be connected after Connect")
		}
		_ = m.Close()
		if m.IsConnected() || m.Closed() != 1 {
			t.Error("should be closed once after Close")
		}
	})

	t.Run("calls require connection", func(t *testing.T) {
		m := NewMock()
		if err := m.SendText("hi"); !errors.Is(err, ErrNotConnected) {
			t.Errorf("SendText() error = %v, want ErrNotConnected", err)
		}
		if err := m.SubmitToolResult("c", "r"); !IsNotConnected(err) {
			t.Errorf("SubmitToolResult() error = %v, want not connected", err)
		}
	})

	t.Run("connect failure", func(t *testing.T) {
		m := NewMock()
		m.ConnectFunc = func(context.Context) error { return NewConnectionError("refused", nil, true) }
		if err := m.Connect(context.Background()); err == nil {
			t.Fatal("expected connect error")
		}
		if m.IsConnected() {
			t.Error("failed connect should leave mock disconnected")
		}
	})

	t.Run("records calls", func(t *testing.T) {
		m := NewMock()
		_ = m.Connect(context.Background())
		_ = m.SendText("hello")
		_ = m.SendSystemMessage("be brief")
		_ = m.SubmitToolResult("call-1", `{"ok":true}`)
		_ = m.CommitAudio()

		if len(m.Texts) != 1 || m.LastSystemMessage() != "be brief" || m.Commits != 1 {
			t.Errorf("captured texts=%v system=%v commits=%d", m.Texts, m.SystemMessages, m.Commits)
		}
		if r, ok := m.ToolResult("call-1"); !ok || r != `{"ok":true}` {
			t.Errorf("ToolResult() = %q, %v", r, ok)
		}
	})

	t.Run("simulate events", func(t *testing.T) {
		m := NewMock()
		var got []Event
		m.OnEvent(func(ev Event) { got = append(got, ev) })

		m.SimulateToolCall("call-1", "get_location", nil)
		m.SimulateUserTranscript("hello")
		if !m.SimulateWire(map[string]any{"type": "response.output_text.delta", "delta": "yo"}) {
			t.Error("SimulateWire() = false for a known event")
		}

		if len(got) != 3 {
			t.Fatalf("got %d events, want 3", len(got))
		}
		if got[0].Name != "get_location" || got[0].Arguments == nil {
			t.Errorf("tool call event = %+v", got[0])
		}
		if got[2].Type != EventTextDelta || got[2].Text != "yo" {
			t.Errorf("wire event = %+v", got[2])
		}
	})
}

func TestConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.APIVersion != APIVersionGA || cfg.Voice != VoiceShimmer {
		t.Errorf("defaults = %+v", cfg)
	}
	if err := cfg.Validate(); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("Validate() = %v, want ErrMissingAPIKey", err)
	}

	cfg.Apply(WithAPIKey("k"), WithAPIVersion("v0"))
	if err := cfg.Validate(); !errors.Is(err, ErrUnsupportedAPIVersion) {
		t.Errorf("Validate() = %v, want ErrUnsupportedAPIVersion", err)
	}

	if _, err := NewOpenAI(); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("NewOpenAI() error = %v, want ErrMissingAPIKey", err)
	}
}

func TestAPIError(t *testing.T) {
	if got := NewAPIError(400, "invalid_request", "bad").Error(); got != "conversation: API error [invalid_request]: bad" {
		t.Errorf("Error() = %q", got)
	}
	if !IsRetryable(NewAPIError(503, "", "down")) {
		t.Error("503 should be retryable")
	}
	if IsRetryable(NewAPIError(400, "", "bad")) {
		t.Error("400 should not be retryable")
	}
	wrapped := NewConnectionError("read failed", ErrConnectionClosed, true)
	if !IsNotConnected(wrapped) {
		t.Error("ConnectionError wrapping ErrConnectionClosed should be not-connected")
	}
}

// realtimeServer is a minimal realtime endpoint that records client messages
// and replays scripted server events after the session update.
type realtimeServer struct {
	t      *testing.T
	script []map[string]any

	mu       sync.Mutex
	received []map[string]any
	header   http.Header
}

func (s *realtimeServer) handler(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		s.t.Errorf("upgrade: %v", err)
		return
	}
	defer conn.Close()

	s.mu.Lock()
	s.header = r.Header.Clone()
	s.mu.Unlock()

	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		s.mu.Lock()
		s.received = append(s.received, msg)
		s.mu.Unlock()

		if msg["type"] == "session.update" {
			for _, ev := range s.script {
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			}
		}
	}
}

func (s *realtimeServer) messages() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.received...)
}

func TestOpenAISession(t *testing.T) {
	srv := &realtimeServer{t: t, script: []map[string]any{
		{"type": "session.created"},
		{"type": "response.text.delta", "delta": "legacy"},
		{"type": "response.output_text.delta", "delta": "ga"},
		{"type": "response.function_call_arguments.done", "call_id": "c1", "name": "get_imu_summary", "arguments": "{}"},
	}}
	hs := httptest.NewServer(http.HandlerFunc(srv.handler))
	defer hs.Close()

	sess, err := NewOpenAI(
		WithAPIKey("test-key"),
		WithBaseURL("ws"+strings.TrimPrefix(hs.URL, "http")),
		WithAPIVersion(APIVersionBeta),
		WithTimeout(2*time.Second),
	)
	if err != nil {
		t.Fatalf("NewOpenAI() error = %v", err)
	}

	events := make(chan Event, 16)
	sess.OnEvent(func(ev Event) { events <- ev })

	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer sess.Close()

	if err := sess.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect() error = %v, want ErrAlreadyConnected", err)
	}

	opts := DefaultSessionOptions()
	opts.SystemPrompt = "You are a companion."
	opts.Tools = []Tool{{Name: "get_imu_summary", Description: "motion", Parameters: map[string]any{}}}
	if err := sess.ConfigureSession(opts); err != nil {
		t.Fatalf("ConfigureSession() error = %v", err)
	}

	var got []Event
	timeout := time.After(2 * time.Second)
	for len(got) < 4 {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("received %d events, want 4", len(got))
		}
	}

	if got[1].Type != EventTextDelta || got[2].Type != EventTextDelta {
		t.Errorf("text deltas normalized to %q and %q", got[1].Type, got[2].Type)
	}
	if got[3].Type != EventFunctionCall || got[3].CallID != "c1" {
		t.Errorf("function call = %+v", got[3])
	}

	if err := sess.SubmitToolResult("c1", `{"ok":true}`); err != nil {
		t.Fatalf("SubmitToolResult() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(srv.messages()) >= 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	msgs := srv.messages()
	if len(msgs) < 3 {
		t.Fatalf("server received %d messages, want 3", len(msgs))
	}
	if msgs[0]["type"] != "session.update" {
		t.Errorf("first message = %v, want session.update", msgs[0]["type"])
	}
	item, _ := msgs[1]["item"].(map[string]any)
	if msgs[1]["type"] != "conversation.item.create" || item["type"] != "function_call_output" {
		t.Errorf("second message = %v", msgs[1])
	}
	if msgs[2]["type"] != "response.create" {
		t.Errorf("third message = %v, want response.create", msgs[2]["type"])
	}

	srv.mu.Lock()
	beta := srv.header.Get("OpenAI-Beta")
	auth := srv.header.Get("Authorization")
	srv.mu.Unlock()
	if beta != "realtime=v1" || auth != "Bearer test-key" {
		t.Errorf("headers: OpenAI-Beta=%q Authorization=%q", beta, auth)
	}
}

func TestOpenAINotConnected(t *testing.T) {
	sess, err := NewOpenAI(WithAPIKey("k"))
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.SendText("hi"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendText() error = %v, want ErrNotConnected", err)
	}
	if err := sess.Close(); err != nil {
		t.Errorf("Close() on idle session error = %v", err)
	}
}
