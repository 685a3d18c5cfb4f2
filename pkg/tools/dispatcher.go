package tools

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-companion/pkg/clock"
	"github.com/teslashibe/go-companion/pkg/device"
	"github.com/teslashibe/go-companion/pkg/ratelimit"
)

// Gate reports whether data may leave the device.
type Gate interface {
	CanUploadData() bool
}

// FrameRequester delivers request_frame signals to the device.
type FrameRequester interface {
	RequestFrame(req FrameRequest) error
}

// Config holds the dispatcher's limits and timeouts.
type Config struct {
	CaptureTimeout    time.Duration
	CameraCooldown    time.Duration
	CameraWindowMax   int
	CameraWindow      time.Duration
	DefaultMaxWidth   int
	DefaultQuality    float64
	LocationFreshness time.Duration
	LevelCooldown     time.Duration
	MaxLevelDelta     int
	IMUWindow         time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
	// Rand drives expression variant selection. Defaults to a time-seeded
	// source.
	Rand *rand.Rand
	// NewID generates frame request ids. Defaults to uuid.NewString.
	NewID func() string
}

// DefaultConfig returns the standard limits.
func DefaultConfig() Config {
	return Config{
		CaptureTimeout:    8 * time.Second,
		CameraCooldown:    time.Second,
		CameraWindowMax:   5,
		CameraWindow:      time.Minute,
		DefaultMaxWidth:   640,
		DefaultQuality:    0.7,
		LocationFreshness: 10 * time.Second,
		LevelCooldown:     2 * time.Second,
		MaxLevelDelta:     15,
		IMUWindow:         time.Minute,
	}
}

type cameraLimits struct {
	cooldown *ratelimit.Cooldown
	window   *ratelimit.SlidingWindow
}

// Dispatcher executes tool calls.
type Dispatcher struct {
	cfg    Config
	log    *slog.Logger
	gate   Gate
	store  *device.Store
	frames FrameRequester

	captureMu sync.Mutex
	cameras   map[Camera]*cameraLimits
	location  *ratelimit.Cache[device.GPSFix]
	levels    *ratelimit.Cooldown
	pending   *pendingFrames

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates a dispatcher. Zero-valued limits in cfg fall back to
// DefaultConfig.
func New(cfg Config, gate Gate, store *device.Store, frames FrameRequester) *Dispatcher {
	def := DefaultConfig()
	if cfg.CaptureTimeout <= 0 {
		cfg.CaptureTimeout = def.CaptureTimeout
	}
	if cfg.CameraCooldown <= 0 {
		cfg.CameraCooldown = def.CameraCooldown
	}
	if cfg.CameraWindowMax <= 0 {
		cfg.CameraWindowMax = def.CameraWindowMax
	}
	if cfg.CameraWindow <= 0 {
		cfg.CameraWindow = def.CameraWindow
	}
	if cfg.DefaultMaxWidth <= 0 {
		cfg.DefaultMaxWidth = def.DefaultMaxWidth
	}
	if cfg.DefaultQuality <= 0 {
		cfg.DefaultQuality = def.DefaultQuality
	}
	if cfg.LocationFreshness <= 0 {
		cfg.LocationFreshness = def.LocationFreshness
	}
	if cfg.LevelCooldown <= 0 {
		cfg.LevelCooldown = def.LevelCooldown
	}
	if cfg.MaxLevelDelta <= 0 {
		cfg.MaxLevelDelta = def.MaxLevelDelta
	}
	if cfg.IMUWindow <= 0 {
		cfg.IMUWindow = def.IMUWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	rng := cfg.Rand
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1))
	}

	d := &Dispatcher{
		cfg:      cfg,
		log:      cfg.Logger.With("component", "tools"),
		gate:     gate,
		store:    store,
		frames:   frames,
		cameras:  make(map[Camera]*cameraLimits),
		location: ratelimit.NewCache[device.GPSFix](cfg.LocationFreshness, cfg.Clock),
		levels:   ratelimit.NewCooldown(cfg.LevelCooldown, cfg.Clock),
		pending:  newPendingFrames(cfg.Clock),
		rng:      rng,
	}
	for _, cam := range []Camera{CameraFront, CameraRear} {
		d.cameras[cam] = &cameraLimits{
			cooldown: ratelimit.NewCooldown(cfg.CameraCooldown, cfg.Clock),
			window:   ratelimit.NewSlidingWindow(cfg.CameraWindowMax, cfg.CameraWindow, cfg.Clock),
		}
	}
	return d
}

// Execute runs a tool call. The returned channel yields exactly one Result.
func (d *Dispatcher) Execute(call Call) <-chan Result {
	out := make(chan Result, 1)
	d.Dispatch(call, func(r Result) { out <- r })
	return out
}

// Dispatch runs a tool call and invokes done exactly once with its result.
// Synchronous tools call done before Dispatch returns; capture_frame calls
// it from whichever goroutine fulfills the frame or fires the timeout.
func (d *Dispatcher) Dispatch(call Call, done func(Result)) {
	if call.Arguments == nil {
		call.Arguments = map[string]any{}
	}

	d.log.Debug("tool call", "name", call.Name, "call_id", call.ID)

	if call.ArgumentsErr != nil {
		d.log.Warn("rejecting tool call", "name", call.Name, "call_id", call.ID, "error", call.ArgumentsErr)
		done(errResult(call, fmt.Errorf("%w: %v", ErrInvalidArgument, call.ArgumentsErr)))
		return
	}

	switch call.Name {
	case ToolCaptureFrame:
		d.captureFrame(call, done)
	case ToolGetLocation:
		done(d.getLocation(call))
	case ToolGetIMUSummary:
		done(d.getIMUSummary(call))
	case ToolSetDeviceState:
		done(d.setDeviceState(call))
	case ToolEndConversation:
		done(okResult(call, map[string]any{"ending": true}))
	default:
		done(errResult(call, fmt.Errorf("%w %q", ErrUnknownTool, call.Name)))
	}
}

// FulfillFrame completes a pending capture. It reports false for unknown or
// already resolved request ids.
func (d *Dispatcher) FulfillFrame(f Frame) bool {
	ok := d.pending.resolve(f, false)
	if !ok {
		d.log.Warn("frame for unknown request", "request_id", f.RequestID)
	}
	return ok
}

// InvalidateLocation drops the cached GPS fix. Called on every GPS update.
func (d *Dispatcher) InvalidateLocation() {
	d.location.Invalidate()
}

// PendingCaptures returns the number of unresolved frame requests.
func (d *Dispatcher) PendingCaptures() int {
	return d.pending.len()
}

func (d *Dispatcher) captureFrame(call Call, done func(Result)) {
	camera := CameraFront
	if raw, ok := call.Arguments["camera"]; ok {
		s, _ := raw.(string)
		switch Camera(strings.ToLower(s)) {
		case CameraFront:
		case CameraRear:
			camera = CameraRear
		default:
			done(errResult(call, fmt.Errorf("%w: camera must be front or rear", ErrInvalidArgument)))
			return
		}
	}

	maxWidth := d.cfg.DefaultMaxWidth
	if v, ok := number(call.Arguments["max_width"]); ok && v > 0 {
		maxWidth = int(v)
	}
	quality := d.cfg.DefaultQuality
	if v, ok := number(call.Arguments["quality"]); ok && v > 0 {
		quality = math.Min(math.Max(v, 0.1), 1)
	}

	if !d.gate.CanUploadData() {
		done(errResult(call, ErrDVRMode))
		return
	}

	lim := d.cameras[camera]
	d.captureMu.Lock()
	if !lim.cooldown.CanAct() {
		remaining := lim.cooldown.Remaining()
		d.captureMu.Unlock()
		done(errResult(call, &ratelimit.LimitError{
			Resource:   string(camera) + " camera",
			Reason:     "cooling down",
			RetryAfter: remaining,
		}))
		return
	}
	if !lim.window.CanAct() {
		retry := lim.window.RetryAfter()
		d.captureMu.Unlock()
		done(errResult(call, &ratelimit.LimitError{
			Resource:   string(camera) + " camera",
			Reason:     fmt.Sprintf("limit of %d captures per %s reached", lim.window.Max(), lim.window.Window()),
			RetryAfter: retry,
		}))
		return
	}
	lim.cooldown.Act()
	lim.window.Act()
	d.captureMu.Unlock()

	req := FrameRequest{
		RequestID: d.cfg.NewID(),
		Camera:    camera,
		MaxWidth:  maxWidth,
		Quality:   quality,
	}

	timeout := d.cfg.CaptureTimeout
	d.pending.add(req.RequestID, camera, timeout, func(f Frame, timedOut bool) {
		switch {
		case timedOut:
			d.log.Warn("capture timed out", "request_id", req.RequestID, "camera", camera)
			done(errResult(call, fmt.Errorf("%w after %s", ErrCaptureTimeout, timeout)))
		case f.Error != "":
			done(errResult(call, fmt.Errorf("%w: %s", ErrCaptureFailed, f.Error)))
		case f.DataURL == "":
			done(errResult(call, fmt.Errorf("%w: empty frame", ErrCaptureFailed)))
		default:
			at := f.CapturedAt
			if at.IsZero() {
				at = d.cfg.Clock.Now()
			}
			done(okResult(call, map[string]any{
				"camera":     string(camera),
				"request_id": req.RequestID,
				"timestamp":  at.UTC().Format(time.RFC3339Nano),
				"image":      f.DataURL,
			}))
		}
	})

	if err := d.frames.RequestFrame(req); err != nil {
		d.log.Error("request frame failed", "error", err, "request_id", req.RequestID)
		d.pending.resolve(Frame{RequestID: req.RequestID, Error: err.Error()}, false)
	}
}

func (d *Dispatcher) getLocation(call Call) Result {
	if !d.gate.CanUploadData() {
		return errResult(call, ErrDVRMode)
	}

	freshness := d.cfg.LocationFreshness
	if v, ok := number(call.Arguments["freshness_ms"]); ok && v > 0 {
		freshness = time.Duration(v) * time.Millisecond
	}

	source := "cache"
	fix, ok := d.location.GetWithin(freshness)
	if !ok {
		fix, ok = d.store.Location()
		if !ok {
			return errResult(call, ErrLocationUnavailable)
		}
		d.location.Set(fix)
		source = "device"
	}

	data := map[string]any{
		"lat":       fix.Lat,
		"lng":       fix.Lng,
		"accuracy":  fix.Accuracy,
		"timestamp": fix.Timestamp.UTC().Format(time.RFC3339Nano),
		"age_ms":    d.cfg.Clock.Now().Sub(fix.Timestamp).Milliseconds(),
		"source":    source,
	}
	if fix.Altitude != nil {
		data["altitude"] = *fix.Altitude
	}
	if fix.Heading != nil {
		data["heading"] = *fix.Heading
	}
	if fix.Speed != nil {
		data["speed"] = *fix.Speed
	}
	return okResult(call, data)
}

func (d *Dispatcher) getIMUSummary(call Call) Result {
	window := d.cfg.IMUWindow
	if v, ok := number(call.Arguments["window_ms"]); ok && v > 0 {
		window = time.Duration(v) * time.Millisecond
	}
	sum := d.store.IMUSummary(window)
	data := map[string]any{
		"window_ms": sum.WindowMs,
		"counts":    sum.Counts,
		"total":     sum.Total,
	}
	if sum.LastLevel != "" {
		data["last_level"] = sum.LastLevel
		data["last_event_at"] = sum.LastEventAt.UTC().Format(time.RFC3339Nano)
	}
	return okResult(call, data)
}

func (d *Dispatcher) setDeviceState(call Call) Result {
	args := call.Arguments
	current := d.store.Snapshot()

	var (
		u       device.Update
		errs    []string
		applied []string
		touched bool
	)

	type levelChange struct {
		field   string
		target  int
		limited int
	}
	var changes []levelChange
	for _, field := range []string{"volume", "brightness"} {
		raw, ok := args[field]
		if !ok {
			continue
		}
		touched = true
		v, ok := number(raw)
		if !ok {
			errs = append(errs, fmt.Sprintf("%s must be a number", field))
			continue
		}
		cur := current.Volume
		if field == "brightness" {
			cur = current.Brightness
		}
		target := device.ClampLevel(int(math.Round(v)))
		limited := limitDelta(cur, target, d.cfg.MaxLevelDelta)
		if limited == cur {
			applied = append(applied, field)
			continue
		}
		changes = append(changes, levelChange{field: field, target: target, limited: limited})
	}

	if len(changes) > 0 {
		if d.levels.Act() {
			for _, c := range changes {
				val := c.limited
				if c.field == "volume" {
					u.Volume = &val
				} else {
					u.Brightness = &val
				}
				applied = append(applied, c.field)
			}
		} else {
			remaining := d.levels.Remaining()
			for _, c := range changes {
				errs = append(errs, (&ratelimit.LimitError{
					Resource:   c.field + " change",
					Reason:     "rate-limited",
					RetryAfter: remaining,
				}).Error())
			}
		}
	}

	moodRaw, hasMood := args["mood"]
	if !hasMood {
		moodRaw, hasMood = args["expression"]
	}
	poseRaw, hasPose := args["head_pose"]

	if hasMood {
		touched = true
		s, _ := moodRaw.(string)
		mood, err := device.ParseMood(s)
		if err != nil {
			errs = append(errs, err.Error())
		} else {
			v := d.pickVariant(mood)
			u.Mood = &mood
			u.ExpressionVariant = &v.Expression
			if !hasPose {
				u.HeadPose = &device.PosePatch{Yaw: &v.Pose.Yaw, Pitch: &v.Pose.Pitch, Roll: &v.Pose.Roll}
			}
			applied = append(applied, "mood")
		}
	}

	if hasPose {
		touched = true
		patch, err := parsePose(poseRaw)
		if err != nil {
			errs = append(errs, err.Error())
		} else {
			u.HeadPose = patch
			applied = append(applied, "head_pose")
		}
	}

	if !touched {
		return Result{
			CallID: call.ID,
			Name:   call.Name,
			Error:  fmt.Errorf("%w: no device fields provided", ErrInvalidArgument).Error(),
			Data:   map[string]any{"state": current},
		}
	}

	state := current
	if u != (device.Update{}) {
		state = d.store.Apply(u)
	}

	res := Result{
		CallID: call.ID,
		Name:   call.Name,
		OK:     len(errs) == 0,
		Data:   map[string]any{"state": state, "applied": applied},
	}
	if len(errs) > 0 {
		res.Error = strings.Join(errs, "; ")
	}
	for _, c := range changes {
		if c.limited != c.target {
			res.Data[c.field+"_requested"] = c.target
		}
	}
	return res
}

func (d *Dispatcher) pickVariant(m device.Mood) device.Variant {
	d.rngMu.Lock()
	defer d.rngMu.Unlock()
	return device.PickVariant(m, d.rng)
}

// limitDelta moves cur toward target by at most maxDelta.
func limitDelta(cur, target, maxDelta int) int {
	if target > cur+maxDelta {
		return cur + maxDelta
	}
	if target < cur-maxDelta {
		return cur - maxDelta
	}
	return target
}

func parsePose(raw any) (*device.PosePatch, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: head_pose must be an object", ErrInvalidArgument)
	}
	patch := &device.PosePatch{}
	fields := map[string]**float64{"yaw": &patch.Yaw, "pitch": &patch.Pitch, "roll": &patch.Roll}
	for name, dst := range fields {
		v, present := m[name]
		if !present {
			continue
		}
		f, ok := number(v)
		if !ok {
			return nil, fmt.Errorf("%w: head_pose.%s must be a number", ErrInvalidArgument, name)
		}
		*dst = &f
	}
	return patch, nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
