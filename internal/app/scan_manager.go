package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/vitalscan/internal/observe"
	"github.com/MrWong99/vitalscan/internal/scan"
	"github.com/MrWong99/vitalscan/internal/web"
	"github.com/MrWong99/vitalscan/pkg/provider/capture"
	"github.com/MrWong99/vitalscan/pkg/provider/landmark"
	"github.com/MrWong99/vitalscan/pkg/sink"
)

// defaultDeliveryTimeout bounds the sink fan-out for one result.
const defaultDeliveryTimeout = 10 * time.Second

// Listener receives the events of every scan the manager runs. Both methods
// are called from the manager's watcher goroutine and must not block.
type Listener interface {
	ScanProgress(p scan.Progress)
	ScanFinished(out scan.Outcome)
}

type nopListener struct{}

func (nopListener) ScanProgress(scan.Progress) {}
func (nopListener) ScanFinished(scan.Outcome)  {}

// ScanManagerConfig holds all dependencies for a [ScanManager].
type ScanManagerConfig struct {
	Device   capture.Device
	Detector landmark.Detector
	Locks    *scan.DeviceLock
	Metrics  *observe.Metrics

	// Tuning is the controller configuration for new scans, see [ScanTuning].
	// Provider, lock and metrics fields are ignored.
	Tuning scan.Options

	// DeviceClass is used when Start is called without one.
	DeviceClass scan.DeviceClass

	// Sink receives the record of every completed scan with a result.
	Sink sink.Sink

	Listener Listener

	// DeliveryTimeout bounds one sink delivery (default 10s).
	DeliveryTimeout time.Duration
}

// ScanManager runs one scan at a time against the configured capture device.
// Each scan gets a fresh [scan.Controller]; the last finished scan stays
// visible through Current until the next one starts.
//
// All exported methods are safe for concurrent use.
type ScanManager struct {
	device   capture.Device
	detector landmark.Detector
	locks    *scan.DeviceLock
	metrics  *observe.Metrics
	sink     sink.Sink
	listener Listener
	timeout  time.Duration

	mu           sync.Mutex
	tuning       scan.Options
	defaultClass scan.DeviceClass
	ctrl         *scan.Controller
	settled      chan struct{}
	closed       bool

	wg sync.WaitGroup
}

var _ web.Scanner = (*ScanManager)(nil)

// NewScanManager creates a ScanManager with the given dependencies.
func NewScanManager(cfg ScanManagerConfig) *ScanManager {
	sm := &ScanManager{
		device:       cfg.Device,
		detector:     cfg.Detector,
		locks:        cfg.Locks,
		metrics:      cfg.Metrics,
		sink:         cfg.Sink,
		listener:     cfg.Listener,
		timeout:      cfg.DeliveryTimeout,
		tuning:       cfg.Tuning,
		defaultClass: cfg.DeviceClass,
	}
	if sm.locks == nil {
		sm.locks = scan.NewDeviceLock()
	}
	if sm.metrics == nil {
		sm.metrics = observe.DefaultMetrics()
	}
	if sm.listener == nil {
		sm.listener = nopListener{}
	}
	if sm.timeout <= 0 {
		sm.timeout = defaultDeliveryTimeout
	}
	if sm.defaultClass == "" {
		sm.defaultClass = scan.DeviceDesktop
	}
	return sm
}

// SetTuning replaces the controller configuration and default device class
// used by scans started afterwards. A running scan keeps its settings.
func (sm *ScanManager) SetTuning(tuning scan.Options, class scan.DeviceClass) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.tuning = tuning
	if class != "" {
		sm.defaultClass = class
	}
}

// Start begins a new scan. An empty class selects the configured default.
//
// The scan outlives ctx: it runs until it completes, is stopped or aborted,
// or the manager is closed. Values carried by ctx (trace, correlation ID)
// are kept.
//
// Returns an error wrapping [scan.ErrAlreadyRunning] if a scan is active.
func (sm *ScanManager) Start(ctx context.Context, class scan.DeviceClass, backgrounded bool) (scan.Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.closed {
		return scan.Session{}, errors.New("app: scan manager closed")
	}
	if sm.activeLocked() {
		return scan.Session{}, fmt.Errorf("app: scan %s is still running: %w", sm.ctrl.Session().ID, scan.ErrAlreadyRunning)
	}
	if class == "" {
		class = sm.defaultClass
	}

	opts := sm.tuning
	opts.Device = sm.device
	opts.Detector = sm.detector
	opts.Locks = sm.locks
	opts.Metrics = sm.metrics

	ctrl := scan.NewController(opts)
	scanCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := ctrl.Start(scanCtx, scan.StartOptions{DeviceClass: class, Backgrounded: backgrounded}); err != nil {
		cancel()
		return scan.Session{}, err
	}

	settled := make(chan struct{})
	sm.ctrl = ctrl
	sm.settled = settled

	sm.wg.Add(1)
	go sm.watch(scanCtx, cancel, ctrl, settled)

	return ctrl.Session(), nil
}

// watch forwards progress until the scan ends, then publishes the outcome
// and delivers the result.
func (sm *ScanManager) watch(ctx context.Context, cancel context.CancelFunc, ctrl *scan.Controller, settled chan struct{}) {
	defer sm.wg.Done()
	defer close(settled)
	defer cancel()

	for p := range ctrl.Progress() {
		sm.listener.ScanProgress(p)
	}
	<-ctrl.Done()

	out := ctrl.Outcome()
	sm.listener.ScanFinished(out)

	if out.Result != nil && sm.sink != nil {
		sm.deliver(context.WithoutCancel(ctx), *out.Result)
	}
}

func (sm *ScanManager) deliver(ctx context.Context, res scan.Result) {
	ctx, cancel := context.WithTimeout(ctx, sm.timeout)
	defer cancel()

	log := observe.ScanLogger(ctx, observe.ScanInfo{SessionID: res.SessionID, DeviceID: res.DeviceID})
	if err := sm.sink.Deliver(ctx, toRecord(res)); err != nil {
		log.Error("deliver scan result", "err", err)
		return
	}
	log.Debug("scan result delivered")
}

// activeLocked reports whether the latest controller is still running.
// sm.mu must be held.
func (sm *ScanManager) activeLocked() bool {
	return sm.ctrl != nil && !sm.ctrl.Session().State.IsTerminal()
}

// running returns the active controller or [web.ErrNoScan].
func (sm *ScanManager) running() (*scan.Controller, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if !sm.activeLocked() {
		return nil, web.ErrNoScan
	}
	return sm.ctrl, nil
}

// Stop completes the active scan and returns its outcome. The result is
// nil when the scan was stopped before its first frame.
func (sm *ScanManager) Stop(ctx context.Context) (scan.Outcome, error) {
	ctrl, err := sm.running()
	if err != nil {
		return scan.Outcome{}, err
	}
	observe.Logger(ctx).Info("scan stop requested", "session_id", ctrl.Session().ID)
	if err := ctrl.Stop(); err != nil {
		return scan.Outcome{}, err
	}
	return ctrl.Outcome(), nil
}

// Abort ends the active scan without a result.
func (sm *ScanManager) Abort(ctx context.Context) (scan.Outcome, error) {
	ctrl, err := sm.running()
	if err != nil {
		return scan.Outcome{}, err
	}
	observe.Logger(ctx).Info("scan abort requested", "session_id", ctrl.Session().ID)
	if err := ctrl.Abort(scan.AbortRequested); err != nil {
		return scan.Outcome{}, err
	}
	return ctrl.Outcome(), nil
}

// SetBackgrounded forwards the host's visibility state to the active scan.
func (sm *ScanManager) SetBackgrounded(backgrounded bool) error {
	ctrl, err := sm.running()
	if err != nil {
		return err
	}
	ctrl.SetBackgrounded(backgrounded)
	return nil
}

// Current returns the active scan or, between scans, the most recent one.
func (sm *ScanManager) Current() (scan.Outcome, bool) {
	sm.mu.Lock()
	ctrl := sm.ctrl
	sm.mu.Unlock()
	if ctrl == nil {
		return scan.Outcome{}, false
	}
	return ctrl.Outcome(), true
}

// IsActive reports whether a scan is running.
func (sm *ScanManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.activeLocked()
}

// Wait blocks until the most recently started scan has finished and its
// result has been handed to the sink, then returns its outcome.
func (sm *ScanManager) Wait(ctx context.Context) (scan.Outcome, error) {
	sm.mu.Lock()
	ctrl, settled := sm.ctrl, sm.settled
	sm.mu.Unlock()
	if ctrl == nil {
		return scan.Outcome{}, web.ErrNoScan
	}
	select {
	case <-settled:
		return ctrl.Outcome(), nil
	case <-ctx.Done():
		return scan.Outcome{}, ctx.Err()
	}
}

// Close aborts the active scan, rejects new ones, and waits for pending
// result deliveries until ctx expires.
func (sm *ScanManager) Close(ctx context.Context) error {
	sm.mu.Lock()
	sm.closed = true
	ctrl, active := sm.ctrl, sm.activeLocked()
	sm.mu.Unlock()

	if active {
		_ = ctrl.Abort(scan.AbortCancelled)
	}

	done := make(chan struct{})
	go func() {
		sm.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("app: close scan manager: %w", ctx.Err())
	}
}
