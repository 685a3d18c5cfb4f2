package orchestrator

import (
	"context"

	"github.com/teslashibe/go-companion/pkg/device"
	"github.com/teslashibe/go-companion/pkg/protocol"
	"github.com/teslashibe/go-companion/pkg/session"
	"github.com/teslashibe/go-companion/pkg/tools"
)

func (o *Orchestrator) publish(msg *protocol.Message, err error) {
	if err != nil {
		o.log.Warn("build broadcast failed", "error", err)
		return
	}
	o.pub.Publish(msg)
}

func (o *Orchestrator) publishError(code string, err error) {
	o.publish(protocol.NewErrorMessage(code, err))
}

func (o *Orchestrator) sessionState(reason string) protocol.SessionStateData {
	snap := o.machine.Snapshot()
	return protocol.SessionStateData{
		State:             snap.State,
		Standby:           snap.Standby,
		WrappingUp:        snap.WrappingUp,
		CanUploadData:     snap.CanUploadData,
		SessionID:         snap.Context.SessionID,
		Connection:        string(o.status),
		AwakeRemainingMs:  snap.AwakeRemainingMs,
		DialogRemainingMs: snap.DialogRemainingMs,
		Reason:            reason,
	}
}

func (o *Orchestrator) publishSessionState(reason string) {
	o.publish(protocol.NewSessionStateMessage(o.sessionState(reason)))
}

func (o *Orchestrator) setStatus(s ConnStatus) {
	if o.status == s {
		return
	}
	o.status = s
	o.publishSessionState("connection_" + string(s))
}

func (o *Orchestrator) onTransition(tr session.Transition) {
	if tr.To == session.Idle || tr.To == session.Listening {
		o.captures = 0
	}
	o.publishSessionState(tr.Reason)
}

// frameSink turns dispatcher frame requests into request_frame broadcasts.
type frameSink struct{ o *Orchestrator }

func (f frameSink) RequestFrame(req tools.FrameRequest) error {
	msg, err := protocol.NewRequestFrameMessage(req.RequestID, string(req.Camera), req.MaxWidth, req.Quality)
	if err != nil {
		return err
	}
	f.o.pub.Publish(msg)
	return nil
}

// Status is a combined view for status endpoints.
type Status struct {
	Session          protocol.SessionStateData `json:"session"`
	Device           device.State              `json:"device"`
	PendingCaptures  int                       `json:"pending_captures"`
	OpenVisionChecks int                       `json:"open_vision_checks"`
}

// Status returns a consistent snapshot taken on the loop.
func (o *Orchestrator) Status(ctx context.Context) (Status, error) {
	var st Status
	err := o.do(ctx, func() error {
		st = Status{
			Session:          o.sessionState(""),
			Device:           o.store.Snapshot(),
			PendingCaptures:  o.tools.PendingCaptures(),
			OpenVisionChecks: o.captures,
		}
		return nil
	})
	return st, err
}

// SessionState returns the current session_state payload.
func (o *Orchestrator) SessionState(ctx context.Context) (protocol.SessionStateData, error) {
	var st protocol.SessionStateData
	err := o.do(ctx, func() error {
		st = o.sessionState("")
		return nil
	})
	return st, err
}
