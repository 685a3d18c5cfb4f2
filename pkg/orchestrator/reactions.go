package orchestrator

import (
	"slices"

	"github.com/teslashibe/go-companion/pkg/device"
	"github.com/teslashibe/go-companion/pkg/dvr"
	"github.com/teslashibe/go-companion/pkg/session"
	"github.com/teslashibe/go-companion/pkg/tools"
)

const (
	nudgeMinYaw = 10.0
	nudgeMaxYaw = 25.0
)

// setLifecycleMood applies a mood requested by the session machine. It
// becomes the ambient mood that flashes revert to.
func (o *Orchestrator) setLifecycleMood(m device.Mood) {
	o.ambient = m
	o.flash.stop()
	o.nudge.stop()
	o.restPose = nil
	o.applyMood(m, true)
}

// applyMood sets the mood with a random expression variant. withPose also
// applies the variant's head pose.
func (o *Orchestrator) applyMood(m device.Mood, withPose bool) {
	v := device.PickVariant(m, o.cfg.Rand)
	u := device.Update{Mood: &m, ExpressionVariant: &v.Expression}
	if withPose {
		pose := v.Pose
		u.HeadPose = &device.PosePatch{Yaw: &pose.Yaw, Pitch: &pose.Pitch, Roll: &pose.Roll}
	}
	o.store.Apply(u)
}

// flashMood shows m briefly, then reverts to the ambient mood.
func (o *Orchestrator) flashMood(m device.Mood) {
	o.applyMood(m, false)
	o.flash.start(o.loop, o.cfg.MoodFlash, func() {
		o.applyMood(o.ambient, false)
	})
}

// adoptToolMood makes a mood chosen through set_device_state the ambient
// mood, so later flashes revert to it. Any flash in progress is cancelled.
func (o *Orchestrator) adoptToolMood(r tools.Result) {
	if r.Name != tools.ToolSetDeviceState {
		return
	}
	applied, _ := r.Data["applied"].([]string)
	if !slices.Contains(applied, "mood") {
		return
	}
	o.ambient = o.store.Snapshot().Mood
	o.flash.stop()
}

func (o *Orchestrator) ensureRecording() {
	if o.recorder != nil {
		o.recorder.SetRecording(true)
	}
	if !o.store.Snapshot().Recording {
		on := true
		o.store.Apply(device.Update{Recording: &on})
	}
}

func (o *Orchestrator) inDialog() bool {
	s := o.machine.State()
	return s == session.Dialog || s == session.VisionCheck
}

func (o *Orchestrator) prompt(text string) {
	l := o.connected()
	if l == nil {
		return
	}
	if err := l.sess.SendSystemMessage(text); err != nil {
		o.log.Warn("system prompt failed", "error", err)
	}
}

// imuEvent reacts to a graded motion event. L0 only flashes surprise. L1
// turns concerned and checks in when a dialog is running. L2 also keeps an
// event clip and prompts whenever a session is connected.
func (o *Orchestrator) imuEvent(level device.IMULevel) {
	o.store.RecordIMU(level)
	o.log.Info("imu event", "level", level.String(), "state", o.machine.State().String())

	switch level {
	case device.IMULow:
		o.flashMood(device.MoodSurprised)

	case device.IMUMedium:
		o.concerned()
		if o.inDialog() {
			o.prompt(o.cfg.Prompts.Safety)
		}

	case device.IMUHigh:
		o.concerned()
		o.saveClip(level)
		o.prompt(o.cfg.Prompts.Urgent)
	}
}

func (o *Orchestrator) concerned() {
	o.ambient = device.MoodConcerned
	o.flash.stop()
	o.applyMood(device.MoodConcerned, false)
}

func (o *Orchestrator) saveClip(level device.IMULevel) {
	if o.recorder == nil {
		return
	}
	ev := dvr.Event{
		Reason:    "impact",
		Level:     level,
		SessionID: o.machine.SessionID(),
	}
	if fix, ok := o.store.Location(); ok {
		ev.Location = &fix
	}
	clip, err := o.recorder.SaveEventClip(ev)
	if err != nil {
		o.log.Error("save event clip failed", "error", err)
		o.publishError("clip_failed", err)
		return
	}
	o.log.Info("event clip saved", "clip", clip.ID)
}

// gimbalTouched flashes playful and nudges the head, reverting both after
// GimbalRevert.
func (o *Orchestrator) gimbalTouched() {
	o.machine.RecordInteraction()

	if o.restPose == nil {
		pose := o.store.Snapshot().HeadPose
		o.restPose = &pose
	}
	yaw := nudgeMinYaw + o.cfg.Rand.Float64()*(nudgeMaxYaw-nudgeMinYaw)
	if o.cfg.Rand.IntN(2) == 0 {
		yaw = -yaw
	}
	target := o.restPose.Yaw + yaw
	mood := device.MoodPlayful
	v := device.PickVariant(mood, o.cfg.Rand)
	o.store.Apply(device.Update{
		Mood:              &mood,
		ExpressionVariant: &v.Expression,
		HeadPose:          &device.PosePatch{Yaw: &target},
	})

	o.flash.start(o.loop, o.cfg.GimbalRevert, func() {
		o.applyMood(o.ambient, false)
	})
	o.nudge.start(o.loop, o.cfg.GimbalRevert, func() {
		if o.restPose == nil {
			return
		}
		rest := *o.restPose
		o.restPose = nil
		o.store.Apply(device.Update{HeadPose: &device.PosePatch{Yaw: &rest.Yaw, Pitch: &rest.Pitch, Roll: &rest.Roll}})
	})

	if o.inDialog() {
		o.prompt(o.cfg.Prompts.Playful)
	}
}
