// Package conversation is the companion's channel to a realtime LLM session.
//
// A Session streams user audio and text up, and delivers a normalized Event
// stream down: text and audio deltas, transcripts, function calls, turn
// boundaries and errors. Wire event names from both the legacy (beta) and
// the current realtime protocol map onto the same EventType values, so the
// orchestrator never sees vendor naming.
//
// Example usage:
//
//	sess, err := conversation.NewOpenAI(
//	    conversation.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
//	)
//	if err != nil {
//	    return err
//	}
//	sess.OnEvent(func(ev conversation.Event) {
//	    if ev.Type == conversation.EventFunctionCall {
//	        _ = sess.SubmitToolResult(ev.CallID, run(ev.Name, ev.Arguments))
//	    }
//	})
//	if err := sess.Connect(ctx); err != nil {
//	    return err
//	}
//	defer sess.Close()
package conversation

import "context"

// Session is one realtime LLM conversation.
type Session interface {
	// Connect opens the transport. Register the event handler first.
	Connect(ctx context.Context) error

	// Close tears the session down. Safe to call more than once.
	Close() error

	// IsConnected reports whether the transport is open.
	IsConnected() bool

	// ConfigureSession sends instructions, tool schemas and turn detection.
	ConfigureSession(opts SessionOptions) error

	// SendAudio appends PCM16 audio to the input buffer.
	SendAudio(audio []byte) error

	// CommitAudio closes the current input buffer as a user turn.
	CommitAudio() error

	// SendText adds a user text message and asks for a response.
	SendText(text string) error

	// SendSystemMessage injects a system instruction and asks for a
	// response. Used for safety prompts and wrap-up instructions.
	SendSystemMessage(text string) error

	// SubmitToolResult returns a function call output and asks the model
	// to continue.
	SubmitToolResult(callID, result string) error

	// CancelResponse interrupts the response in progress.
	CancelResponse() error

	// OnEvent sets the handler for normalized server events.
	OnEvent(fn func(Event))
}

// Factory creates a fresh, unconnected Session.
type Factory func() (Session, error)
