package conversation

import (
	"context"
	"sync"
)

// Mock is an in-memory Session for tests. It records every call and lets
// tests inject server events with the Simulate helpers.
type Mock struct {
	mu sync.RWMutex

	connected bool
	onEvent   func(Event)

	// Configurable behavior
	ConnectFunc          func(ctx context.Context) error
	SubmitToolResultFunc func(callID, result string) error

	// Captured calls for assertions
	ConnectCount   int
	CloseCount     int
	AudioSent      [][]byte
	Commits        int
	Texts          []string
	SystemMessages []string
	SessionOptions *SessionOptions
	ToolResults    map[string]string
	ToolResultIDs  []string
	CancelCalled   bool
}

// NewMock creates a new Mock session.
func NewMock() *Mock {
	return &Mock{ToolResults: make(map[string]string)}
}

// Connect implements Session.
func (m *Mock) Connect(ctx context.Context) error {
	m.mu.Lock()
	m.ConnectCount++
	fn := m.ConnectFunc
	m.mu.Unlock()
	if fn != nil {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

// Close implements Session.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCount++
	m.connected = false
	return nil
}

// IsConnected implements Session.
func (m *Mock) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// OnEvent implements Session.
func (m *Mock) OnEvent(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvent = fn
}

// ConfigureSession implements Session.
func (m *Mock) ConfigureSession(opts SessionOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	m.SessionOptions = &opts
	return nil
}

// SendAudio implements Session.
func (m *Mock) SendAudio(audio []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	m.AudioSent = append(m.AudioSent, audio)
	return nil
}

// CommitAudio implements Session.
func (m *Mock) CommitAudio() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	m.Commits++
	return nil
}

// SendText implements Session.
func (m *Mock) SendText(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	m.Texts = append(m.Texts, text)
	return nil
}

// SendSystemMessage implements Session.
func (m *Mock) SendSystemMessage(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	m.SystemMessages = append(m.SystemMessages, text)
	return nil
}

// SubmitToolResult implements Session.
func (m *Mock) SubmitToolResult(callID, result string) error {
	m.mu.RLock()
	fn := m.SubmitToolResultFunc
	m.mu.RUnlock()
	if fn != nil {
		return fn(callID, result)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	m.ToolResults[callID] = result
	m.ToolResultIDs = append(m.ToolResultIDs, callID)
	return nil
}

// CancelResponse implements Session.
func (m *Mock) CancelResponse() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	m.CancelCalled = true
	return nil
}

// Test helpers

// Simulate delivers ev to the registered handler.
func (m *Mock) Simulate(ev Event) {
	m.mu.RLock()
	fn := m.onEvent
	m.mu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

// SimulateWire parses a raw server message exactly as the realtime client
// would and delivers the result. It reports whether the message mapped to a
// known event.
func (m *Mock) SimulateWire(msg map[string]any) bool {
	ev, ok := ParseServerEvent(msg)
	if ok {
		m.Simulate(ev)
	}
	return ok
}

// SimulateToolCall delivers a function call event.
func (m *Mock) SimulateToolCall(callID, name string, args map[string]any) {
	if args == nil {
		args = map[string]any{}
	}
	m.Simulate(Event{Type: EventFunctionCall, CallID: callID, Name: name, Arguments: args})
}

// SimulateUserTranscript delivers a completed user transcript.
func (m *Mock) SimulateUserTranscript(text string) {
	m.Simulate(Event{Type: EventUserTranscript, Text: text})
}

// SimulateTextDelta delivers an assistant text delta.
func (m *Mock) SimulateTextDelta(text string) {
	m.Simulate(Event{Type: EventTextDelta, Text: text})
}

// SimulateError delivers an error event.
func (m *Mock) SimulateError(err error) {
	m.Simulate(Event{Type: EventError, Err: err})
}

// SimulateDisconnect marks the mock closed and delivers a disconnect event.
func (m *Mock) SimulateDisconnect() {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	m.Simulate(Event{Type: EventDisconnected, Err: ErrConnectionClosed})
}

// Snapshot helpers guard the captured slices for tests that read while the
// orchestrator goroutine writes.

// ToolResult returns the recorded result for callID.
func (m *Mock) ToolResult(callID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.ToolResults[callID]
	return r, ok
}

// SystemMessageCount returns the number of system messages sent.
func (m *Mock) SystemMessageCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.SystemMessages)
}

// LastSystemMessage returns the most recent system message.
func (m *Mock) LastSystemMessage() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.SystemMessages) == 0 {
		return ""
	}
	return m.SystemMessages[len(m.SystemMessages)-1]
}

// Closed returns how many times Close was called.
func (m *Mock) Closed() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CloseCount
}

// Configured returns the last session options, if any.
func (m *Mock) Configured() *SessionOptions {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.SessionOptions
}

// Ensure Mock implements Session.
var _ Session = (*Mock)(nil)
