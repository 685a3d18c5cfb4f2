package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/teslashibe/go-companion/pkg/device"
	"github.com/teslashibe/go-companion/pkg/protocol"
	"github.com/teslashibe/go-companion/pkg/session"
	"github.com/teslashibe/go-companion/pkg/tools"
)

// Wake handles a wake word or button press.
func (o *Orchestrator) Wake(ctx context.Context) error {
	return o.do(ctx, func() error {
		o.machine.Wake()
		return nil
	})
}

// Sleep returns the companion to Idle.
func (o *Orchestrator) Sleep(ctx context.Context) error {
	return o.do(ctx, func() error {
		o.machine.Sleep()
		return nil
	})
}

// TextInput forwards typed input to the LLM session.
func (o *Orchestrator) TextInput(ctx context.Context, text string) error {
	return o.do(ctx, func() error {
		l := o.connected()
		if l == nil {
			return ErrNoSession
		}
		o.engage()
		return l.sess.SendText(text)
	})
}

// AudioChunk forwards microphone audio. Audio is dropped silently in Idle
// and while no session is connected.
func (o *Orchestrator) AudioChunk(ctx context.Context, pcm []byte) error {
	return o.do(ctx, func() error {
		l := o.connected()
		if l == nil || o.machine.State() == session.Idle {
			return nil
		}
		return l.sess.SendAudio(pcm)
	})
}

// AudioCommit ends a push-to-talk utterance.
func (o *Orchestrator) AudioCommit(ctx context.Context) error {
	return o.do(ctx, func() error {
		l := o.connected()
		if l == nil {
			return ErrNoSession
		}
		o.engage()
		return l.sess.CommitAudio()
	})
}

// IMUEvent reports a graded motion event.
func (o *Orchestrator) IMUEvent(ctx context.Context, level device.IMULevel) error {
	return o.do(ctx, func() error {
		o.imuEvent(level)
		return nil
	})
}

// GimbalTouched reports that the user moved the head by hand.
func (o *Orchestrator) GimbalTouched(ctx context.Context) error {
	return o.do(ctx, func() error {
		o.gimbalTouched()
		return nil
	})
}

// GPSUpdate stores a location fix and drops the cached location.
func (o *Orchestrator) GPSUpdate(ctx context.Context, fix device.GPSFix) error {
	return o.do(ctx, func() error {
		o.store.SetLocation(fix)
		o.tools.InvalidateLocation()
		return nil
	})
}

// FrameCaptured delivers a frame from the device. Unknown or late frames
// are logged and ignored.
func (o *Orchestrator) FrameCaptured(ctx context.Context, f tools.Frame) error {
	if f.CapturedAt.IsZero() {
		f.CapturedAt = o.clock.Now()
	}
	o.tools.FulfillFrame(f)
	return nil
}

// EndConversation puts the companion into standby immediately.
func (o *Orchestrator) EndConversation(ctx context.Context) error {
	return o.do(ctx, func() error {
		o.farewell.stop()
		return o.machine.Standby()
	})
}

// ExecuteTool runs a tool outside any LLM session, for diagnostics.
// end_conversation is answered but has no lifecycle effect. The call is
// dispatched on the loop; only a pending capture is waited for here.
func (o *Orchestrator) ExecuteTool(ctx context.Context, name string, args map[string]any) tools.Result {
	call := tools.Call{ID: "manual-" + uuid.NewString(), Name: name, Arguments: args}
	fail := func(err error) tools.Result {
		return tools.Result{CallID: call.ID, Name: name, Error: err.Error()}
	}

	var (
		results <-chan tools.Result
		done    *tools.Result
	)
	err := o.do(ctx, func() error {
		results = o.tools.Execute(call)
		if name != tools.ToolCaptureFrame {
			r := <-results
			o.adoptToolMood(r)
			done = &r
		}
		return nil
	})
	if err != nil {
		return fail(err)
	}
	if done != nil {
		return *done
	}
	select {
	case r := <-results:
		return r
	case <-ctx.Done():
		return fail(ctx.Err())
	}
}

// HandleSignal dispatches an inbound protocol message.
func (o *Orchestrator) HandleSignal(ctx context.Context, msg *protocol.Message) error {
	switch msg.Type {
	case protocol.TypeWake:
		return o.Wake(ctx)
	case protocol.TypeSleep:
		return o.Sleep(ctx)

	case protocol.TypeTextInput:
		data, err := msg.GetTextInput()
		if err != nil {
			return err
		}
		return o.TextInput(ctx, data.Text)

	case protocol.TypeAudioChunk:
		data, err := msg.GetAudioChunk()
		if err != nil {
			return err
		}
		pcm, err := data.Decode()
		if err != nil {
			return fmt.Errorf("decode audio: %w", err)
		}
		return o.AudioChunk(ctx, pcm)
	case protocol.TypeAudioCommit:
		return o.AudioCommit(ctx)

	case protocol.TypeIMUEvent:
		data, err := msg.GetIMUEvent()
		if err != nil {
			return err
		}
		level, err := data.IMULevel()
		if err != nil {
			return err
		}
		return o.IMUEvent(ctx, level)
	case protocol.TypeGimbalTouched:
		return o.GimbalTouched(ctx)

	case protocol.TypeGPSUpdate:
		data, err := msg.GetGPSUpdate()
		if err != nil {
			return err
		}
		return o.GPSUpdate(ctx, data.Fix())

	case protocol.TypeFrameCaptured:
		data, err := msg.GetFrameCaptured()
		if err != nil {
			return err
		}
		return o.FrameCaptured(ctx, tools.Frame{
			RequestID: data.RequestID,
			DataURL:   data.Image,
			Error:     data.Error,
		})

	default:
		return fmt.Errorf("%w: %s", protocol.ErrUnknownType, msg.Type)
	}
}
