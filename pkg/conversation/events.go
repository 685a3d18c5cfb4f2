package conversation

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// EventType is a normalized server event.
type EventType string

const (
	EventSessionCreated    EventType = "session_created"
	EventSessionUpdated    EventType = "session_updated"
	EventTextDelta         EventType = "text_delta"
	EventTextDone          EventType = "text_done"
	EventAudioDelta        EventType = "audio_delta"
	EventAudioDone         EventType = "audio_done"
	EventTranscriptDelta   EventType = "transcript_delta"
	EventTranscriptDone    EventType = "transcript_done"
	EventUserTranscript    EventType = "user_transcript"
	EventFunctionCall      EventType = "function_call"
	EventSpeechStarted     EventType = "speech_started"
	EventSpeechStopped     EventType = "speech_stopped"
	EventResponseDone      EventType = "response_done"
	EventResponseCancelled EventType = "response_cancelled"
	EventError             EventType = "error"
	EventDisconnected      EventType = "disconnected"
)

// Event is a normalized server event.
type Event struct {
	Type EventType

	// Raw is the wire event name it was parsed from.
	Raw string

	// Text holds deltas, finished text and transcripts.
	Text string

	// Audio holds decoded PCM16 for audio deltas.
	Audio []byte

	// Function call fields. ArgumentsErr is set when RawArguments is not a
	// JSON object; Arguments is then empty.
	CallID       string
	Name         string
	Arguments    map[string]any
	RawArguments string
	ArgumentsErr error

	ResponseID string

	Err error
}

// wireNames maps both legacy and current realtime event names.
var wireNames = map[string]EventType{
	"session.created": EventSessionCreated,
	"session.updated": EventSessionUpdated,

	"response.text.delta":        EventTextDelta,
	"response.output_text.delta": EventTextDelta,
	"response.text.done":         EventTextDone,
	"response.output_text.done":  EventTextDone,

	"response.audio.delta":        EventAudioDelta,
	"response.output_audio.delta": EventAudioDelta,
	"response.audio.done":         EventAudioDone,
	"response.output_audio.done":  EventAudioDone,

	"response.audio_transcript.delta":        EventTranscriptDelta,
	"response.output_audio_transcript.delta": EventTranscriptDelta,
	"response.audio_transcript.done":         EventTranscriptDone,
	"response.output_audio_transcript.done":  EventTranscriptDone,

	"conversation.item.input_audio_transcription.completed": EventUserTranscript,
	"response.function_call_arguments.done":                 EventFunctionCall,
	"input_audio_buffer.speech_started":                     EventSpeechStarted,
	"input_audio_buffer.speech_stopped":                     EventSpeechStopped,
	"response.done":                                         EventResponseDone,
	"error":                                                 EventError,
}

// NormalizeEventType maps a wire event name to its normalized type.
func NormalizeEventType(raw string) (EventType, bool) {
	t, ok := wireNames[raw]
	return t, ok
}

// ParseServerEvent converts a decoded server message into an Event. It
// returns false for message types the companion does not act on.
func ParseServerEvent(msg map[string]any) (Event, bool) {
	raw, _ := msg["type"].(string)
	typ, ok := NormalizeEventType(raw)
	if !ok {
		return Event{}, false
	}
	ev := Event{Type: typ, Raw: raw}
	ev.ResponseID, _ = msg["response_id"].(string)

	switch typ {
	case EventTextDelta, EventTranscriptDelta:
		ev.Text, _ = msg["delta"].(string)

	case EventTextDone:
		ev.Text, _ = msg["text"].(string)

	case EventTranscriptDone, EventUserTranscript:
		ev.Text, _ = msg["transcript"].(string)

	case EventAudioDelta:
		delta, _ := msg["delta"].(string)
		audio, err := base64.StdEncoding.DecodeString(delta)
		if err != nil {
			return Event{}, false
		}
		ev.Audio = audio

	case EventFunctionCall:
		ev.Name, _ = msg["name"].(string)
		ev.CallID, _ = msg["call_id"].(string)
		ev.RawArguments, _ = msg["arguments"].(string)
		ev.Arguments = map[string]any{}
		if ev.RawArguments != "" {
			if err := json.Unmarshal([]byte(ev.RawArguments), &ev.Arguments); err != nil {
				ev.Arguments = map[string]any{}
				ev.ArgumentsErr = fmt.Errorf("malformed arguments: %w", err)
			}
		}

	case EventResponseDone:
		if resp, ok := msg["response"].(map[string]any); ok {
			ev.ResponseID, _ = resp["id"].(string)
			if status, _ := resp["status"].(string); status == "cancelled" {
				ev.Type = EventResponseCancelled
			}
		}

	case EventError:
		if errData, ok := msg["error"].(map[string]any); ok {
			errMsg, _ := errData["message"].(string)
			errCode, _ := errData["code"].(string)
			errType, _ := errData["type"].(string)
			apiErr := NewAPIError(0, errCode, errMsg)
			apiErr.Type = errType
			ev.Err = apiErr
		} else {
			ev.Err = ErrInvalidMessage
		}
	}
	return ev, true
}
