package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/teslashibe/go-companion/pkg/conversation"
	"github.com/teslashibe/go-companion/pkg/protocol"
	"github.com/teslashibe/go-companion/pkg/session"
	"github.com/teslashibe/go-companion/pkg/tools"
)

// ConnStatus is the LLM connection status shown to subscribers.
type ConnStatus string

const (
	StatusDisconnected ConnStatus = "disconnected"
	StatusConnecting   ConnStatus = "connecting"
	StatusConnected    ConnStatus = "connected"
	StatusError        ConnStatus = "error"
)

// llmSession is one LLM session bound to a machine session id. Events and
// completions carry the pointer so anything from a replaced session can be
// recognized and dropped.
type llmSession struct {
	id        string
	sess      conversation.Session
	connected bool
}

func (l *llmSession) close() {
	_ = l.sess.Close()
}

// connected returns the live session, or nil when none is ready.
func (o *Orchestrator) connected() *llmSession {
	if o.llm == nil || !o.llm.connected {
		return nil
	}
	return o.llm
}

func (o *Orchestrator) openSession(id string) {
	if o.llm != nil {
		o.llm.close()
		o.llm = nil
	}
	if o.factory == nil {
		o.sessionFailed(fmt.Errorf("no session factory configured"))
		return
	}

	sess, err := o.factory()
	if err != nil {
		o.sessionFailed(fmt.Errorf("create session: %w", err))
		return
	}

	l := &llmSession{id: id, sess: sess}
	o.llm = l
	sess.OnEvent(func(ev conversation.Event) {
		o.post(func() { o.handleEvent(l, ev) })
	})
	o.setStatus(StatusConnecting)

	opts := o.cfg.Session
	opts.SystemPrompt = o.cfg.Prompts.System
	opts.Tools = tools.Definitions()
	timeout := o.cfg.ConnectTimeout

	o.log.Info("opening LLM session", "session_id", id)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		err := sess.Connect(ctx)
		if err == nil {
			err = sess.ConfigureSession(opts)
		}
		o.post(func() { o.sessionReady(l, err) })
	}()
}

func (o *Orchestrator) sessionReady(l *llmSession, err error) {
	if o.llm != l {
		o.log.Info("discarding stale LLM session", "session_id", l.id)
		l.close()
		return
	}
	if err != nil {
		o.llm = nil
		l.close()
		o.sessionFailed(err)
		return
	}
	l.connected = true
	o.log.Info("LLM session connected", "session_id", l.id)
	o.setStatus(StatusConnected)
}

// sessionFailed surfaces an open failure. The machine stays in Listening so
// the awake timer can still return it to Idle.
func (o *Orchestrator) sessionFailed(err error) {
	o.log.Error("LLM session failed", "error", err)
	o.setStatus(StatusError)
	o.publishError("session_failed", err)
}

func (o *Orchestrator) closeSession(id string) {
	o.wrapUp.stop()
	o.farewell.stop()
	if o.llm == nil || o.llm.id != id {
		return
	}
	o.log.Info("closing LLM session", "session_id", id)
	o.llm.close()
	o.llm = nil
	o.setStatus(StatusDisconnected)
}

func (o *Orchestrator) dialogTimeout() {
	if l := o.connected(); l != nil {
		if err := l.sess.SendSystemMessage(o.cfg.Prompts.WrapUp); err != nil {
			o.log.Warn("wrap-up prompt failed", "error", err)
		}
	}
	o.publishSessionState(session.ReasonDialogTimeout)
	o.wrapUp.start(o.loop, o.cfg.WrapUpGrace, func() {
		o.log.Info("wrap-up grace elapsed")
		o.machine.Sleep()
	})
}

func (o *Orchestrator) handleEvent(l *llmSession, ev conversation.Event) {
	if o.llm != l {
		o.log.Debug("event from stale session", "type", ev.Type, "session_id", l.id)
		return
	}

	switch ev.Type {
	case conversation.EventSessionCreated, conversation.EventSessionUpdated:
		o.log.Debug("LLM session event", "type", ev.Type)

	case conversation.EventTextDelta:
		o.publish(protocol.NewAssistantTextMessage(ev.Text, false, false))
	case conversation.EventTextDone:
		o.publish(protocol.NewAssistantTextMessage(ev.Text, true, false))
	case conversation.EventTranscriptDelta:
		o.publish(protocol.NewAssistantTextMessage(ev.Text, false, true))
	case conversation.EventTranscriptDone:
		o.publish(protocol.NewAssistantTextMessage(ev.Text, true, true))
	case conversation.EventAudioDelta:
		o.publish(protocol.NewAssistantAudioMessage(ev.Audio, false))
	case conversation.EventAudioDone:
		o.publish(protocol.NewAssistantAudioMessage(nil, true))

	case conversation.EventUserTranscript:
		o.publish(protocol.NewUserTranscriptMessage(ev.Text))
		o.engage()

	case conversation.EventSpeechStarted:
		o.machine.RecordInteraction()

	case conversation.EventFunctionCall:
		o.engage()
		o.handleToolCall(l, ev)

	case conversation.EventError:
		o.log.Warn("LLM error", "error", ev.Err)
		o.setStatus(StatusError)
		o.publishError("llm_error", ev.Err)

	case conversation.EventDisconnected:
		o.log.Warn("LLM session disconnected", "session_id", l.id, "error", ev.Err)
		o.llm = nil
		o.setStatus(StatusDisconnected)

	default:
		o.log.Debug("LLM event", "type", ev.Type)
	}
}

// engage records an interaction and moves Listening into Dialog.
func (o *Orchestrator) engage() {
	if !o.machine.RecordInteraction() {
		return
	}
	if o.machine.State() == session.Listening && !o.machine.InStandby() {
		if err := o.machine.StartDialog(); err != nil {
			o.log.Debug("start dialog", "error", err)
		}
	}
}

func (o *Orchestrator) handleToolCall(l *llmSession, ev conversation.Event) {
	call := tools.Call{ID: ev.CallID, Name: ev.Name, Arguments: ev.Arguments, ArgumentsErr: ev.ArgumentsErr}
	if call.Arguments == nil {
		call.Arguments = map[string]any{}
	}

	if call.ArgumentsErr != nil {
		o.tools.Dispatch(call, func(r tools.Result) { o.submit(l, r) })
		return
	}

	if call.Name == tools.ToolEndConversation {
		o.tools.Dispatch(call, func(r tools.Result) { o.submit(l, r) })
		o.log.Info("conversation ending", "grace", o.cfg.FarewellGrace)
		o.farewell.start(o.loop, o.cfg.FarewellGrace, func() {
			if err := o.machine.Standby(); err != nil {
				o.log.Debug("standby", "error", err)
			}
		})
		return
	}

	vision := call.Name == tools.ToolCaptureFrame && o.enterVision()
	finish := func(r tools.Result) {
		if vision {
			o.exitVision()
		}
		o.adoptToolMood(r)
		o.submit(l, r)
	}

	// Synchronous results are finished inline; late ones are posted back.
	var (
		mu          sync.Mutex
		dispatching = true
		early       *tools.Result
	)
	o.tools.Dispatch(call, func(r tools.Result) {
		mu.Lock()
		if dispatching {
			early = &r
			mu.Unlock()
			return
		}
		mu.Unlock()
		o.post(func() { finish(r) })
	})
	mu.Lock()
	dispatching = false
	r := early
	mu.Unlock()
	if r != nil {
		finish(*r)
	}
}

func (o *Orchestrator) submit(l *llmSession, r tools.Result) {
	if o.llm != l || !l.connected {
		o.log.Info("dropping tool result for closed session", "name", r.Name, "call_id", r.CallID)
		return
	}
	if err := l.sess.SubmitToolResult(r.CallID, r.Output()); err != nil {
		o.log.Warn("submit tool result failed", "name", r.Name, "error", err)
	}
}

// enterVision counts an outstanding capture and enters VisionCheck from
// Dialog. It reports whether the capture was counted.
func (o *Orchestrator) enterVision() bool {
	switch o.machine.State() {
	case session.Dialog:
		if err := o.machine.EnterVisionCheck(); err != nil {
			return false
		}
	case session.VisionCheck:
	default:
		return false
	}
	o.captures++
	return true
}

func (o *Orchestrator) exitVision() {
	if o.captures > 0 {
		o.captures--
	}
	if o.captures == 0 && o.machine.State() == session.VisionCheck {
		if err := o.machine.ExitVisionCheck(); err != nil {
			o.log.Debug("exit vision check", "error", err)
		}
	}
}
