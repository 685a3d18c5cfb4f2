// Package tools mediates every tool call the LLM makes against the device.
// Calls are checked against the session gate and rate limits before they
// touch device state or ask the device for a camera frame.
package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/teslashibe/go-companion/pkg/conversation"
)

// Tool names.
const (
	ToolCaptureFrame    = "capture_frame"
	ToolGetLocation     = "get_location"
	ToolGetIMUSummary   = "get_imu_summary"
	ToolSetDeviceState  = "set_device_state"
	ToolEndConversation = "end_conversation"
)

var (
	ErrUnknownTool         = errors.New("tools: unknown tool")
	ErrInvalidArgument     = errors.New("tools: invalid argument")
	ErrDVRMode             = errors.New("tools: unavailable in DVR mode, the device is idle")
	ErrCaptureTimeout      = errors.New("tools: capture timed out")
	ErrCaptureFailed       = errors.New("tools: capture failed")
	ErrLocationUnavailable = errors.New("tools: location unavailable")
)

// Camera selects a device camera.
type Camera string

const (
	CameraFront Camera = "front"
	CameraRear  Camera = "rear"
)

// Call is one tool invocation from the model. A call whose arguments
// could not be decoded carries ArgumentsErr and is answered with an error
// result without running.
type Call struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Arguments    map[string]any `json:"arguments"`
	ArgumentsErr error          `json:"-"`
}

// Result is the outcome of a call. Failures are results, not errors.
type Result struct {
	CallID string
	Name   string
	OK     bool
	Error  string
	Data   map[string]any
}

func okResult(call Call, data map[string]any) Result {
	return Result{CallID: call.ID, Name: call.Name, OK: true, Data: data}
}

func errResult(call Call, err error) Result {
	return Result{CallID: call.ID, Name: call.Name, Error: err.Error()}
}

func (r Result) payload() map[string]any {
	out := make(map[string]any, len(r.Data)+2)
	for k, v := range r.Data {
		out[k] = v
	}
	out["ok"] = r.OK
	if r.Error != "" {
		out["error"] = r.Error
	}
	return out
}

// Output is the JSON string submitted back to the model.
func (r Result) Output() string {
	b, err := json.Marshal(r.payload())
	if err != nil {
		return fmt.Sprintf(`{"ok":false,"error":%q}`, err.Error())
	}
	return string(b)
}

// MarshalJSON renders the same payload the model sees.
func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.payload())
}

// FrameRequest asks the device for one camera frame.
type FrameRequest struct {
	RequestID string  `json:"request_id"`
	Camera    Camera  `json:"camera"`
	MaxWidth  int     `json:"max_width"`
	Quality   float64 `json:"quality"`
}

// Frame is the device's answer to a FrameRequest.
type Frame struct {
	RequestID  string    `json:"request_id"`
	DataURL    string    `json:"image,omitempty"`
	Error      string    `json:"error,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// Definitions returns the tool schemas advertised to the model.
func Definitions() []conversation.Tool {
	return []conversation.Tool{
		{
			Name:        ToolCaptureFrame,
			Description: "Take a photo with one of the device cameras to see what the user is showing or what is around. Only use it when looking would actually help.",
			Parameters: map[string]any{
				"camera": map[string]any{
					"type":        "string",
					"enum":        []string{string(CameraFront), string(CameraRear)},
					"description": "front faces the user, rear faces away",
				},
				"max_width": map[string]any{
					"type":        "integer",
					"description": "Maximum image width in pixels",
				},
				"quality": map[string]any{
					"type":        "number",
					"description": "JPEG quality between 0.1 and 1.0",
				},
			},
			Required: []string{"camera"},
		},
		{
			Name:        ToolGetLocation,
			Description: "Get the device's current GPS location.",
			Parameters: map[string]any{
				"freshness_ms": map[string]any{
					"type":        "integer",
					"description": "Accept a cached fix up to this age in milliseconds",
				},
			},
		},
		{
			Name:        ToolGetIMUSummary,
			Description: "Summarize recent motion events (bumps, shakes, falls) detected by the device.",
			Parameters: map[string]any{
				"window_ms": map[string]any{
					"type":        "integer",
					"description": "How far back to look in milliseconds",
				},
			},
		},
		{
			Name:        ToolSetDeviceState,
			Description: "Change the device's volume, screen brightness, mood or head pose. Volume and brightness move at most 15 points per change.",
			Parameters: map[string]any{
				"volume":     map[string]any{"type": "integer", "minimum": 0, "maximum": 100},
				"brightness": map[string]any{"type": "integer", "minimum": 0, "maximum": 100},
				"mood": map[string]any{
					"type": "string",
					"enum": []string{"neutral", "happy", "sad", "curious", "surprised", "sleepy", "concerned", "playful"},
				},
				"head_pose": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"yaw":   map[string]any{"type": "number", "description": "degrees, -45 to 45"},
						"pitch": map[string]any{"type": "number", "description": "degrees, -30 to 30"},
						"roll":  map[string]any{"type": "number", "description": "degrees, -30 to 30"},
					},
				},
			},
		},
		{
			Name:        ToolEndConversation,
			Description: "End the conversation when the user says goodbye or is clearly done. Say a short farewell first.",
			Parameters:  map[string]any{},
		},
	}
}
