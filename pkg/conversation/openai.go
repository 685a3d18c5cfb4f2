package conversation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	openAIRealtimeURL = "wss://api.openai.com/v1/realtime"
	openAIModel       = "gpt-realtime"
	openAISampleRate  = 24000
)

// OpenAI is a Session over the OpenAI realtime websocket API.
type OpenAI struct {
	config *Config
	logger *slog.Logger

	mu        sync.RWMutex
	conn      *websocket.Conn
	state     ConnectionState
	ready     bool
	cancelCtx context.CancelFunc
	onEvent   func(Event)
	connected time.Time

	writeMu sync.Mutex

	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
}

// NewOpenAI creates an unconnected realtime session.
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &OpenAI{
		config: cfg,
		logger: cfg.Logger.With("component", "conversation.openai"),
		state:  StateDisconnected,
	}, nil
}

// Connect dials the realtime endpoint and starts the read loop.
func (o *OpenAI) Connect(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateDisconnected {
		o.mu.Unlock()
		return ErrAlreadyConnected
	}
	o.state = StateConnecting
	o.mu.Unlock()

	base := o.config.BaseURL
	if base == "" {
		base = openAIRealtimeURL
	}
	url := fmt.Sprintf("%s?model=%s", base, o.config.Model)

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+o.config.APIKey)
	if o.config.APIVersion == APIVersionBeta {
		headers.Set("OpenAI-Beta", "realtime=v1")
	}

	dialer := websocket.Dialer{HandshakeTimeout: o.config.Timeout}

	o.logger.Info("connecting to realtime API", "model", o.config.Model, "api_version", o.config.APIVersion)

	conn, resp, err := dialer.DialContext(ctx, url, headers)
	if err != nil {
		o.mu.Lock()
		o.state = StateDisconnected
		o.mu.Unlock()
		if resp != nil {
			return NewConnectionError(
				fmt.Sprintf("dial failed with status %d", resp.StatusCode),
				err,
				resp.StatusCode >= 500,
			)
		}
		return NewConnectionError("dial failed", err, true)
	}

	msgCtx, cancel := context.WithCancel(context.Background())

	o.mu.Lock()
	o.conn = conn
	o.state = StateConnected
	o.cancelCtx = cancel
	o.connected = time.Now()
	o.mu.Unlock()

	go o.readLoop(msgCtx, conn)

	o.logger.Info("connected to realtime API")
	return nil
}

// Close gracefully closes the connection.
func (o *OpenAI) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state == StateDisconnected {
		return nil
	}
	if o.cancelCtx != nil {
		o.cancelCtx()
	}
	if o.conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = o.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			deadline,
		)
		o.conn.Close()
		o.conn = nil
	}
	o.state = StateDisconnected
	o.ready = false
	o.logger.Info("disconnected from realtime API")
	return nil
}

// IsConnected returns true if connected.
func (o *OpenAI) IsConnected() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state == StateConnected
}

// OnEvent sets the event handler.
func (o *OpenAI) OnEvent(fn func(Event)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onEvent = fn
}

// Metrics returns transport counters.
func (o *OpenAI) Metrics() Metrics {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return Metrics{
		ConnectionTime:   o.connected,
		MessagesSent:     o.messagesSent.Load(),
		MessagesReceived: o.messagesReceived.Load(),
	}
}

// ConfigureSession sends a session.update in the configured protocol version.
func (o *OpenAI) ConfigureSession(opts SessionOptions) error {
	voice := opts.Voice
	if voice == "" {
		voice = o.config.Voice
	}

	apiTools := make([]map[string]any, len(opts.Tools))
	for i, tool := range opts.Tools {
		required := tool.Required
		if required == nil {
			required = []string{}
		}
		apiTools[i] = map[string]any{
			"type":        "function",
			"name":        tool.Name,
			"description": tool.Description,
			"parameters": map[string]any{
				"type":       "object",
				"properties": tool.Parameters,
				"required":   required,
			},
		}
	}

	turnDetection := map[string]any{
		"type":                "server_vad",
		"threshold":           0.5,
		"prefix_padding_ms":   300,
		"silence_duration_ms": 500,
	}
	if td := opts.TurnDetection; td != nil {
		turnDetection["type"] = td.Type
		if td.Threshold > 0 {
			turnDetection["threshold"] = td.Threshold
		}
		if td.PrefixPaddingMs > 0 {
			turnDetection["prefix_padding_ms"] = td.PrefixPaddingMs
		}
		if td.SilenceDurationMs > 0 {
			turnDetection["silence_duration_ms"] = td.SilenceDurationMs
		}
	}

	var session map[string]any
	if o.config.APIVersion == APIVersionBeta {
		session = map[string]any{
			"modalities":          []string{"text", "audio"},
			"instructions":        opts.SystemPrompt,
			"voice":               voice,
			"input_audio_format":  "pcm16",
			"output_audio_format": "pcm16",
			"input_audio_transcription": map[string]any{
				"model": o.config.TranscriptionModel,
			},
			"turn_detection": turnDetection,
			"tools":          apiTools,
			"tool_choice":    "auto",
		}
		if opts.Temperature > 0 {
			session["temperature"] = opts.Temperature
		}
	} else {
		format := map[string]any{"type": "audio/pcm", "rate": openAISampleRate}
		session = map[string]any{
			"type":              "realtime",
			"model":             o.config.Model,
			"instructions":      opts.SystemPrompt,
			"output_modalities": []string{"audio"},
			"audio": map[string]any{
				"input": map[string]any{
					"format":         format,
					"transcription":  map[string]any{"model": o.config.TranscriptionModel},
					"turn_detection": turnDetection,
				},
				"output": map[string]any{
					"format": format,
					"voice":  voice,
				},
			},
			"tools":       apiTools,
			"tool_choice": "auto",
		}
	}
	if opts.MaxResponseTokens > 0 {
		key := "max_output_tokens"
		if o.config.APIVersion == APIVersionBeta {
			key = "max_response_output_tokens"
		}
		session[key] = opts.MaxResponseTokens
	}

	return o.send(map[string]any{"type": "session.update", "session": session}, "configure session")
}

// SendAudio appends audio to the input buffer.
func (o *OpenAI) SendAudio(audio []byte) error {
	return o.send(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(audio),
	}, "send audio")
}

// CommitAudio commits the input buffer and requests a response.
func (o *OpenAI) CommitAudio() error {
	if err := o.send(map[string]string{"type": "input_audio_buffer.commit"}, "commit audio"); err != nil {
		return err
	}
	return o.send(map[string]string{"type": "response.create"}, "request response")
}

// SendText adds a user message and requests a response.
func (o *OpenAI) SendText(text string) error {
	return o.sendMessage("user", text)
}

// SendSystemMessage adds a system message and requests a response.
func (o *OpenAI) SendSystemMessage(text string) error {
	return o.sendMessage("system", text)
}

func (o *OpenAI) sendMessage(role, text string) error {
	item := map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type": "message",
			"role": role,
			"content": []map[string]any{
				{"type": "input_text", "text": text},
			},
		},
	}
	if err := o.send(item, "send "+role+" message"); err != nil {
		return err
	}
	return o.send(map[string]string{"type": "response.create"}, "request response")
}

// CancelResponse cancels the current response.
func (o *OpenAI) CancelResponse() error {
	return o.send(map[string]string{"type": "response.cancel"}, "cancel response")
}

// SubmitToolResult submits a function call output and asks the model to
// continue.
func (o *OpenAI) SubmitToolResult(callID, result string) error {
	resultMsg := map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  result,
		},
	}
	if err := o.send(resultMsg, "submit tool result"); err != nil {
		return err
	}
	if err := o.send(map[string]string{"type": "response.create"}, "continue after tool result"); err != nil {
		return err
	}

	o.logger.Debug("submitted tool result", "call_id", callID, "result_len", len(result))
	return nil
}

func (o *OpenAI) send(msg any, what string) error {
	o.mu.RLock()
	conn := o.conn
	state := o.state
	o.mu.RUnlock()

	if state != StateConnected || conn == nil {
		return ErrNotConnected
	}

	o.writeMu.Lock()
	defer o.writeMu.Unlock()
	if o.config.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(o.config.WriteTimeout))
	}
	if err := conn.WriteJSON(msg); err != nil {
		return NewConnectionError(what+" failed", err, true)
	}
	o.messagesSent.Add(1)
	return nil
}

// readLoop processes incoming messages until the context is cancelled or
// the connection fails.
func (o *OpenAI) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer func() {
		o.mu.Lock()
		if o.conn == conn {
			o.state = StateDisconnected
			o.conn = nil
		}
		o.ready = false
		o.mu.Unlock()
	}()

	for {
		if o.config.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(o.config.ReadTimeout))
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				o.logger.Info("connection closed by server")
				o.emit(Event{Type: EventDisconnected, Err: ErrConnectionClosed})
				return
			}
			o.logger.Error("read error", "error", err)
			o.emit(Event{Type: EventDisconnected, Err: NewConnectionError("read failed", err, true)})
			return
		}

		o.messagesReceived.Add(1)

		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			o.logger.Warn("failed to parse message", "error", err)
			continue
		}
		o.handleMessage(msg)
	}
}

func (o *OpenAI) handleMessage(msg map[string]any) {
	ev, ok := ParseServerEvent(msg)
	if !ok {
		return
	}

	switch ev.Type {
	case EventSessionCreated:
		o.mu.Lock()
		o.ready = true
		o.mu.Unlock()
		o.logger.Info("session created")
	case EventFunctionCall:
		o.logger.Info("tool call received", "name", ev.Name, "call_id", ev.CallID)
	case EventError:
		o.logger.Warn("realtime API error", "error", ev.Err)
	}
	o.emit(ev)
}

func (o *OpenAI) emit(ev Event) {
	o.mu.RLock()
	fn := o.onEvent
	o.mu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

// Ensure OpenAI implements Session.
var _ Session = (*OpenAI)(nil)
