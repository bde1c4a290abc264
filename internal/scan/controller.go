package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/vitalscan/internal/observe"
	"github.com/MrWong99/vitalscan/internal/rppg"
	"github.com/MrWong99/vitalscan/pkg/provider/capture"
	"github.com/MrWong99/vitalscan/pkg/provider/landmark"
	"github.com/MrWong99/vitalscan/pkg/vision"
)

// Controller defaults.
const (
	defaultProgressBuffer = 64
	defaultHRVEveryTicks  = 20
	defaultMaxFrameErrors = 20
)

// Options configures a [Controller]. Device and Detector are required; every
// other zero field takes its default.
type Options struct {
	Device   capture.Device
	Detector landmark.Detector

	// Locks is the device registry shared by all controllers of a process.
	// Nil uses a package-level registry.
	Locks *DeviceLock

	Profiles       Profiles
	Debounce       time.Duration
	TargetDuration time.Duration
	Cadence        time.Duration
	Watchdog       WatchdogConfig
	Eyes           EyeLayout

	// PulseWindow bounds the rPPG buffer (30–60 s is sensible).
	PulseWindow time.Duration
	HRV         rppg.Config

	// HRVEveryTicks sets how often the pulse buffer is evaluated.
	HRVEveryTicks int

	// MaxFrameErrors is the number of consecutive non-terminal frame errors
	// tolerated before the device is considered lost.
	MaxFrameErrors int

	// ProgressBuffer sizes the progress channel. When it is full, further
	// progress values are dropped until the consumer catches up.
	ProgressBuffer int

	// NewTicker builds the cadence source. Nil uses [NewTicker].
	NewTicker func(time.Duration) Ticker

	Metrics *observe.Metrics
}

func (o Options) withDefaults() Options {
	if o.Locks == nil {
		o.Locks = defaultLocks
	}
	if o.Profiles == nil {
		o.Profiles = DefaultProfiles()
	}
	if o.TargetDuration <= 0 {
		o.TargetDuration = DefaultTargetDuration
	}
	if o.Cadence <= 0 {
		o.Cadence = DefaultCadence
	}
	if o.Watchdog.FaceLostTicks <= 0 {
		o.Watchdog.FaceLostTicks = DefaultFaceLostTicks
	}
	if o.Watchdog.LowLightTicks <= 0 {
		o.Watchdog.LowLightTicks = DefaultLowLightTicks
	}
	if o.Eyes == (EyeLayout{}) {
		o.Eyes = DefaultEyeLayout()
	}
	if o.HRVEveryTicks <= 0 {
		o.HRVEveryTicks = defaultHRVEveryTicks
	}
	if o.MaxFrameErrors <= 0 {
		o.MaxFrameErrors = defaultMaxFrameErrors
	}
	if o.ProgressBuffer <= 0 {
		o.ProgressBuffer = defaultProgressBuffer
	}
	if o.NewTicker == nil {
		o.NewTicker = NewTicker
	}
	if o.Metrics == nil {
		o.Metrics = observe.DefaultMetrics()
	}
	return o
}

// StartOptions are the per-session parameters of [Controller.Start].
type StartOptions struct {
	// SessionID is used verbatim when set; otherwise a UUID is generated.
	SessionID string

	// DeviceClass selects the blink threshold profile. Empty means desktop.
	DeviceClass DeviceClass

	// Backgrounded is the initial visibility flag.
	Backgrounded bool
}

// Controller runs one scan session: Idle → Running → Completed | Aborted.
// A controller is single-use; create a new one per scan.
//
// All exported methods are safe for concurrent use. The tick loop runs on a
// single goroutine, so ticks never overlap and landmark inference is never
// in flight twice.
type Controller struct {
	opts Options

	mu      sync.Mutex
	state   State
	session Session
	result  *Result
	stopReq *stopRequest

	cancelled    atomic.Bool
	backgrounded atomic.Bool

	stopCh   chan struct{}
	done     chan struct{}
	progress chan Progress

	releaseOnce sync.Once
	stream      capture.Stream
	span        trace.Span
	log         *slog.Logger

	// Loop-owned state. Only the tick goroutine touches these after Start.
	blink       BlinkDetector
	blinkState  BlinkState
	blinks      []BlinkEvent
	watch       WatchdogState
	rate        RateEstimator
	pulse       *rppg.Buffer
	hrv         *rppg.Estimator
	latestHRV   *rppg.HRVResult
	started     bool
	frameErrors int
}

type stopRequest struct {
	abort  bool
	reason AbortReason
	cause  error
}

// NewController returns an Idle controller.
func NewController(opts Options) *Controller {
	return &Controller{
		opts:   opts.withDefaults(),
		state:  StateIdle,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start acquires the capture device, resets all session state, and begins
// the tick loop. ctx bounds the whole session: cancelling it aborts the scan
// with [AbortCancelled].
//
// Start fails with [ErrAlreadyRunning] unless the controller is Idle, with
// [ErrModelInit] when no detector was configured, with [ErrDeviceBusy] when
// another session holds the device, and with [ErrDeviceUnavailable] when the
// device cannot be opened. On failure the controller stays Idle.
func (c *Controller) Start(ctx context.Context, so StartOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return ErrAlreadyRunning
	}
	if c.opts.Detector == nil {
		return fmt.Errorf("scan: no landmark detector configured: %w", ErrModelInit)
	}
	if c.opts.Device == nil {
		return fmt.Errorf("scan: no capture device configured: %w", ErrDeviceUnavailable)
	}

	id := so.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	class := so.DeviceClass
	if class == "" {
		class = DeviceDesktop
	}
	if !class.IsValid() {
		return fmt.Errorf("scan: unknown device class %q", class)
	}
	deviceID := c.opts.Device.ID()

	if err := c.opts.Locks.Acquire(deviceID, id); err != nil {
		return err
	}
	stream, err := c.opts.Device.Open(ctx)
	if err != nil {
		c.opts.Locks.Release(deviceID, id)
		return fmt.Errorf("scan: open device %q: %w: %w", deviceID, ErrDeviceUnavailable, err)
	}

	info := observe.ScanInfo{SessionID: id, DeviceID: deviceID, DeviceClass: string(class)}
	ctx, span := observe.StartScanSpan(ctx, info)

	c.stream = stream
	c.span = span
	c.log = observe.ScanLogger(ctx, info)
	c.session = Session{ID: id, DeviceID: deviceID, DeviceClass: class, State: StateRunning, Backgrounded: so.Backgrounded}
	c.backgrounded.Store(so.Backgrounded)
	c.progress = make(chan Progress, c.opts.ProgressBuffer)

	c.blink = NewBlinkDetector(c.opts.Profiles.For(class), c.opts.Debounce)
	c.blinkState = BlinkState{}
	c.blinks = nil
	c.watch = NewWatchdogState()
	c.rate = NewRateEstimator(c.opts.TargetDuration)
	c.pulse = rppg.NewBuffer(c.opts.PulseWindow, 0)
	c.hrv = rppg.NewEstimator(c.opts.HRV)
	c.latestHRV = nil
	c.started = false
	c.frameErrors = 0

	c.state = StateRunning
	c.opts.Metrics.ActiveScans.Add(ctx, 1)
	c.log.Info("scan started", "device_class", class, "target", c.opts.TargetDuration)

	ticker := c.opts.NewTicker(c.opts.Cadence)
	go c.run(ctx, ticker)
	return nil
}

// Stop ends a running session as Completed and waits for the loop to exit.
// Stopping before the first frame was processed completes without a result.
// Stop on an Idle or terminal controller is a no-op.
func (c *Controller) Stop() error {
	return c.requestStop(stopRequest{})
}

// Abort ends the session as Aborted without a result and waits for the loop
// to exit. Aborting an Idle controller moves it straight to Aborted. Abort
// on a terminal controller is a no-op.
func (c *Controller) Abort(reason AbortReason) error {
	if reason == AbortNone {
		reason = AbortRequested
	}
	c.mu.Lock()
	if c.state == StateIdle {
		c.state = StateAborted
		c.session.State = StateAborted
		c.session.AbortReason = reason
		close(c.done)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.requestStop(stopRequest{abort: true, reason: reason})
}

func (c *Controller) requestStop(req stopRequest) error {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return nil
	}
	if c.stopReq == nil {
		c.stopReq = &req
		c.cancelled.Store(true)
		close(c.stopCh)
	}
	c.mu.Unlock()
	<-c.done
	return nil
}

// SetBackgrounded records the host's visibility state. It only changes the
// reported flag; the tick loop keeps running at full cadence.
func (c *Controller) SetBackgrounded(b bool) {
	c.backgrounded.Store(b)
	c.mu.Lock()
	c.session.Backgrounded = b
	c.mu.Unlock()
}

// Progress returns the per-tick progress stream. It is nil before Start and
// is closed when the session ends.
func (c *Controller) Progress() <-chan Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

// Done is closed once the session reaches a terminal state.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Result returns the terminal result. ok is false until the session has
// Completed with something to report.
func (c *Controller) Result() (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		return Result{}, false
	}
	return *c.result, true
}

// Session returns a snapshot of the session.
func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Outcome returns the session snapshot together with the result, if any.
func (c *Controller) Outcome() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := Outcome{Session: c.session}
	if c.result != nil {
		res := *c.result
		out.Result = &res
	}
	return out
}

// run is the tick loop. It owns the stream and all per-session detector
// state until it returns.
func (c *Controller) run(ctx context.Context, ticker Ticker) {
	defer close(c.done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.finishAborted(ctx, AbortCancelled, ctx.Err())
			return
		case <-c.stopCh:
			c.mu.Lock()
			req := *c.stopReq
			c.mu.Unlock()
			if req.abort {
				c.finishAborted(ctx, req.reason, req.cause)
			} else {
				c.finishCompleted(ctx, time.Now())
			}
			return
		case now := <-ticker.C():
			if c.cancelled.Load() {
				continue
			}
			if finished := c.tick(ctx, now); finished {
				return
			}
		}
	}
}

// tick runs one processing step and reports whether the session ended.
func (c *Controller) tick(ctx context.Context, now time.Time) bool {
	tickStart := time.Now()
	defer func() {
		c.opts.Metrics.TickDuration.Record(ctx, time.Since(tickStart).Seconds())
	}()

	frame, err := c.stream.NextFrame(ctx)
	if err != nil {
		return c.frameError(ctx, err)
	}
	c.frameErrors = 0

	if !c.started {
		c.started = true
		c.mu.Lock()
		c.session.StartTime = now
		c.mu.Unlock()
	}
	c.mu.Lock()
	startTime := c.session.StartTime
	c.mu.Unlock()
	elapsed := now.Sub(startTime).Seconds()

	ls, found := c.detect(ctx, frame)
	c.watch = c.opts.Watchdog.Observe(c.watch, found)
	if !found {
		c.opts.Metrics.FaceMissedTicks.Add(ctx, 1)
	}

	if found {
		if sample, ok := EvaluateAperture(ls, c.opts.Eyes, now); ok {
			var ev *BlinkEvent
			c.blinkState, ev = c.blink.Step(c.blinkState, sample)
			if ev != nil {
				c.blinks = append(c.blinks, *ev)
				c.opts.Metrics.RecordBlink(ctx, string(c.session.DeviceClass))
				c.log.Debug("blink", "count", c.blinkState.Count, "elapsed", elapsed)
			}
		}
		c.samplePulse(frame, ls, now)
	}

	ticks := c.sessionTicks() + 1
	if ticks%c.opts.HRVEveryTicks == 0 {
		c.evaluateHRV(ctx)
	}

	c.mu.Lock()
	c.session.Ticks = ticks
	c.session.ElapsedSeconds = elapsed
	c.session.BlinkCount = c.blinkState.Count
	c.mu.Unlock()

	c.emit(Progress{
		SessionID:                  c.session.ID,
		Tick:                       ticks,
		BlinkCount:                 c.blinkState.Count,
		InstantaneousRatePerMinute: c.rate.Instantaneous(c.blinkState.Count, elapsed),
		FaceDetected:               c.watch.FaceDetected,
		LowLightWarning:            c.watch.LowLightWarning,
		Backgrounded:               c.backgrounded.Load(),
		ElapsedSeconds:             elapsed,
		HeartRateBpm:               c.heartRate(),
	})

	if c.rate.Due(elapsed) {
		c.finishCompleted(ctx, now)
		return true
	}
	return false
}

func (c *Controller) sessionTicks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Ticks
}

// frameError classifies a NextFrame failure and reports whether the session
// ended.
func (c *Controller) frameError(ctx context.Context, err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, capture.ErrStreamEnded) || errors.Is(err, capture.ErrUnavailable) {
		c.finishAborted(ctx, AbortDeviceLost, fmt.Errorf("%w: %w", ErrDeviceLost, err))
		return true
	}
	if ctx.Err() != nil {
		// The loop observes ctx.Done on its next iteration.
		return false
	}
	c.frameErrors++
	c.log.Warn("frame read failed", "err", err, "consecutive", c.frameErrors)
	if c.frameErrors >= c.opts.MaxFrameErrors {
		c.finishAborted(ctx, AbortDeviceLost, fmt.Errorf("%w: %d consecutive frame errors: %w", ErrDeviceLost, c.frameErrors, err))
		return true
	}
	return false
}

// detect runs landmark inference. Errors are logged and count as no face.
func (c *Controller) detect(ctx context.Context, frame vision.Frame) (ls vision.LandmarkSet, found bool) {
	start := time.Now()
	ls, found, err := c.opts.Detector.Detect(ctx, frame)
	c.opts.Metrics.LandmarkDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		c.opts.Metrics.RecordProviderRequest(ctx, "landmark", "detect", "error")
		c.opts.Metrics.RecordProviderError(ctx, "landmark", "detect")
		c.log.Debug("landmark inference failed", "err", err, "seq", frame.Seq)
		return vision.LandmarkSet{}, false
	}
	c.opts.Metrics.RecordProviderRequest(ctx, "landmark", "detect", "ok")
	return ls, found
}

// samplePulse pushes the mean skin intensity of frame into the rPPG buffer.
// Frames without pixels or without usable skin are skipped.
func (c *Controller) samplePulse(frame vision.Frame, ls vision.LandmarkSet, now time.Time) {
	if frame.Image == nil {
		return
	}
	rects := rppg.SkinROI(ls, frame.Image.Bounds())
	if len(rects) == 0 {
		return
	}
	mean, ok := rppg.MeanGreen(frame.Image, rects)
	if !ok {
		return
	}
	ts := frame.CapturedAt
	if ts.IsZero() {
		ts = now
	}
	c.pulse.Push(rppg.PulseSample{Timestamp: ts, MeanIntensity: mean})
}

func (c *Controller) evaluateHRV(ctx context.Context) {
	if c.pulse.Span() < c.hrv.Config().MinDuration {
		return
	}
	start := time.Now()
	res, ok := c.hrv.Estimate(c.pulse.Snapshot())
	c.opts.Metrics.HRVDuration.Record(ctx, time.Since(start).Seconds())
	c.opts.Metrics.RecordHRVEvaluation(ctx, ok)
	if ok {
		c.latestHRV = &res
	}
}

func (c *Controller) heartRate() *float64 {
	if c.latestHRV == nil {
		return nil
	}
	hr := c.latestHRV.HeartRateBpm
	return &hr
}

// emit delivers p without blocking the loop.
func (c *Controller) emit(p Progress) {
	select {
	case c.progress <- p:
	default:
		c.log.Debug("progress dropped, consumer too slow", "tick", p.Tick)
	}
}

// release closes the capture stream and frees the device lock exactly once.
func (c *Controller) release() {
	c.releaseOnce.Do(func() {
		if err := c.stream.Close(); err != nil {
			c.log.Warn("close capture stream", "err", err)
		}
		c.opts.Locks.Release(c.session.DeviceID, c.session.ID)
	})
}

func (c *Controller) finishCompleted(ctx context.Context, now time.Time) {
	c.release()

	c.mu.Lock()
	elapsed := c.session.ElapsedSeconds
	startTime := c.session.StartTime
	c.mu.Unlock()

	var res *Result
	if c.started && elapsed > 0 {
		c.evaluateHRV(ctx)
		br := c.rate.Finalize(c.blinkState.Count, elapsed)
		res = &Result{
			SessionID:      c.session.ID,
			DeviceID:       c.session.DeviceID,
			DeviceClass:    c.session.DeviceClass,
			BlinkRate:      br,
			BlinkEvents:    slices.Clone(c.blinks),
			HRV:            c.latestHRV,
			Classification: Classify(br.BlinkRatePerMinute, c.latestHRV),
			StartedAt:      startTime,
			CompletedAt:    now,
			TraceID:        observe.CorrelationID(ctx),
		}
	}

	c.mu.Lock()
	c.state = StateCompleted
	c.session.State = StateCompleted
	c.result = res
	close(c.progress)
	c.mu.Unlock()

	tier := "none"
	if res != nil {
		tier = string(res.Classification.Tier)
		c.span.SetAttributes(
			attribute.Float64("scan.blink_rate", res.BlinkRate.BlinkRatePerMinute),
			attribute.String("scan.tier", tier),
			attribute.Bool("scan.hrv_available", res.HRV != nil),
		)
		c.log.Info("scan completed",
			"blinks", res.BlinkRate.TotalBlinks,
			"rate", res.BlinkRate.BlinkRatePerMinute,
			"tier", tier,
			"hrv", res.HRV != nil,
		)
	} else {
		c.log.Info("scan completed without result")
	}
	c.opts.Metrics.RecordScanCompleted(ctx, tier)
	c.opts.Metrics.ActiveScans.Add(ctx, -1)
	c.span.End()
}

func (c *Controller) finishAborted(ctx context.Context, reason AbortReason, cause error) {
	c.release()

	c.mu.Lock()
	c.state = StateAborted
	c.session.State = StateAborted
	c.session.AbortReason = reason
	close(c.progress)
	c.mu.Unlock()

	if cause != nil {
		c.span.RecordError(cause)
	}
	c.span.SetStatus(codes.Error, "aborted: "+string(reason))
	c.log.Warn("scan aborted", "reason", reason, "err", cause)
	// ctx may already be cancelled; metrics must still land.
	mctx := context.WithoutCancel(ctx)
	c.opts.Metrics.RecordScanAborted(mctx, string(reason))
	c.opts.Metrics.ActiveScans.Add(mctx, -1)
	c.span.End()
}
