package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/vitalscan/internal/scan"
	"github.com/MrWong99/vitalscan/internal/web"
	capmock "github.com/MrWong99/vitalscan/pkg/provider/capture/mock"
	lmmock "github.com/MrWong99/vitalscan/pkg/provider/landmark/mock"
	"github.com/MrWong99/vitalscan/pkg/provider/synthetic"
	sinkmock "github.com/MrWong99/vitalscan/pkg/sink/mock"
	"github.com/MrWong99/vitalscan/pkg/vision"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type recordingListener struct {
	mu       sync.Mutex
	progress []scan.Progress
	finished []scan.Outcome
}

func (l *recordingListener) ScanProgress(p scan.Progress) {
	l.mu.Lock()
	l.progress = append(l.progress, p)
	l.mu.Unlock()
}

func (l *recordingListener) ScanFinished(out scan.Outcome) {
	l.mu.Lock()
	l.finished = append(l.finished, out)
	l.mu.Unlock()
}

func (l *recordingListener) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.progress), len(l.finished)
}

type managerHarness struct {
	sm       *ScanManager
	dev      *capmock.Device
	sink     *sinkmock.Sink
	listener *recordingListener
	tickers  chan *scan.ManualTicker
}

func openEyes(vision.Frame) (vision.LandmarkSet, bool, error) {
	return synthetic.Face(0.30), true, nil
}

func newManagerHarness(t *testing.T, configure func(*ScanManagerConfig)) *managerHarness {
	t.Helper()
	h := &managerHarness{
		dev:      &capmock.Device{DeviceID: "cam-" + t.Name()},
		sink:     &sinkmock.Sink{},
		listener: &recordingListener{},
		tickers:  make(chan *scan.ManualTicker, 8),
	}
	cfg := ScanManagerConfig{
		Device:   h.dev,
		Detector: &lmmock.Detector{DetectFunc: openEyes},
		Tuning: scan.Options{
			TargetDuration: time.Second,
			NewTicker: func(time.Duration) scan.Ticker {
				mt := scan.NewManualTicker()
				h.tickers <- mt
				return mt
			},
		},
		Sink:     h.sink,
		Listener: h.listener,
	}
	if configure != nil {
		configure(&cfg)
	}
	h.sm = NewScanManager(cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.sm.Close(ctx)
	})
	return h
}

func (h *managerHarness) ticker(t *testing.T) *scan.ManualTicker {
	t.Helper()
	select {
	case mt := <-h.tickers:
		return mt
	case <-time.After(2 * time.Second):
		t.Fatal("no ticker created")
		return nil
	}
}

// runToEnd ticks at the default cadence until the controller stops the
// ticker.
func runToEnd(t *testing.T, mt *scan.ManualTicker) {
	t.Helper()
	now := t0
	for i := 0; i < 200; i++ {
		if !mt.Tick(now) {
			return
		}
		now = now.Add(scan.DefaultCadence)
	}
	t.Fatal("scan did not end within 200 ticks")
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestScanManager_CompletesAndDelivers(t *testing.T) {
	t.Parallel()

	h := newManagerHarness(t, func(c *ScanManagerConfig) { c.DeviceClass = scan.DeviceMobile })
	sess, err := h.sm.Start(context.Background(), "", false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sess.State != scan.StateRunning || sess.DeviceClass != scan.DeviceMobile {
		t.Fatalf("session = %+v", sess)
	}
	if !h.sm.IsActive() {
		t.Fatal("IsActive = false after Start")
	}

	runToEnd(t, h.ticker(t))
	out, err := h.sm.Wait(waitCtx(t))
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if out.Session.State != scan.StateCompleted || out.Result == nil {
		t.Fatalf("outcome = %+v", out)
	}
	if h.sm.IsActive() {
		t.Error("IsActive = true after completion")
	}

	recs := h.sink.Snapshot()
	if len(recs) != 1 {
		t.Fatalf("delivered %d records, want 1", len(recs))
	}
	if recs[0].SessionID != sess.ID || recs[0].DeviceClass != "mobile" || recs[0].ElapsedSeconds != 1 {
		t.Errorf("record = %+v", recs[0])
	}

	progress, finished := h.listener.counts()
	if progress == 0 {
		t.Error("listener saw no progress")
	}
	if finished != 1 {
		t.Errorf("listener saw %d finished events, want 1", finished)
	}

	cur, ok := h.sm.Current()
	if !ok || cur.Session.ID != sess.ID || cur.Result == nil {
		t.Errorf("Current = %+v, %v", cur, ok)
	}
}

func TestScanManager_OneScanAtATime(t *testing.T) {
	t.Parallel()

	h := newManagerHarness(t, nil)
	first, err := h.sm.Start(context.Background(), scan.DeviceDesktop, false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.ticker(t)

	if _, err := h.sm.Start(context.Background(), scan.DeviceDesktop, false); !errors.Is(err, scan.ErrAlreadyRunning) {
		t.Fatalf("second Start err = %v, want ErrAlreadyRunning", err)
	}

	out, err := h.sm.Abort(context.Background())
	if err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if out.Session.ID != first.ID || out.Session.State != scan.StateAborted || out.Session.AbortReason != scan.AbortRequested {
		t.Errorf("abort outcome = %+v", out.Session)
	}
	if out.Result != nil {
		t.Error("aborted scan carries a result")
	}

	second, err := h.sm.Start(context.Background(), scan.DeviceDesktop, false)
	if err != nil {
		t.Fatalf("Start after abort: %v", err)
	}
	if second.ID == first.ID {
		t.Error("session id reused")
	}
	h.ticker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := h.sm.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait err = %v, want deadline exceeded while the scan runs", err)
	}
}

func TestScanManager_AbortDeliversNothing(t *testing.T) {
	t.Parallel()

	h := newManagerHarness(t, nil)
	if _, err := h.sm.Start(context.Background(), "", false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	mt := h.ticker(t)
	for i := range 5 {
		mt.Tick(t0.Add(time.Duration(i) * scan.DefaultCadence))
	}
	if _, err := h.sm.Abort(context.Background()); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if _, err := h.sm.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if recs := h.sink.Snapshot(); len(recs) != 0 {
		t.Errorf("delivered %d records for an aborted scan", len(recs))
	}
	if _, finished := h.listener.counts(); finished != 1 {
		t.Errorf("finished events = %d, want 1", finished)
	}
}

func TestScanManager_StopReturnsResult(t *testing.T) {
	t.Parallel()

	h := newManagerHarness(t, func(c *ScanManagerConfig) { c.Tuning.TargetDuration = time.Minute })
	if _, err := h.sm.Start(context.Background(), "", false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	mt := h.ticker(t)
	for i := range 21 {
		mt.Tick(t0.Add(time.Duration(i) * scan.DefaultCadence))
	}

	out, err := h.sm.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if out.Session.State != scan.StateCompleted || out.Result == nil {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Result.BlinkRate.ElapsedSeconds != 1 {
		t.Errorf("elapsed = %v, want 1", out.Result.BlinkRate.ElapsedSeconds)
	}
	if _, err := h.sm.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if recs := h.sink.Snapshot(); len(recs) != 1 {
		t.Errorf("delivered %d records, want 1", len(recs))
	}
}

func TestScanManager_NoScan(t *testing.T) {
	t.Parallel()

	h := newManagerHarness(t, nil)
	if _, err := h.sm.Stop(context.Background()); !errors.Is(err, web.ErrNoScan) {
		t.Errorf("Stop err = %v", err)
	}
	if _, err := h.sm.Abort(context.Background()); !errors.Is(err, web.ErrNoScan) {
		t.Errorf("Abort err = %v", err)
	}
	if err := h.sm.SetBackgrounded(true); !errors.Is(err, web.ErrNoScan) {
		t.Errorf("SetBackgrounded err = %v", err)
	}
	if _, err := h.sm.Wait(context.Background()); !errors.Is(err, web.ErrNoScan) {
		t.Errorf("Wait err = %v", err)
	}
	if _, ok := h.sm.Current(); ok {
		t.Error("Current ok before any scan")
	}
}

func TestScanManager_StartFailure(t *testing.T) {
	t.Parallel()

	h := newManagerHarness(t, nil)
	h.dev.OpenErr = errors.New("camera unplugged")

	_, err := h.sm.Start(context.Background(), "", false)
	if !errors.Is(err, scan.ErrDeviceUnavailable) {
		t.Fatalf("Start err = %v, want ErrDeviceUnavailable", err)
	}
	if _, ok := h.sm.Current(); ok {
		t.Error("failed start left a current scan")
	}

	h.dev.OpenErr = nil
	if _, err := h.sm.Start(context.Background(), "", false); err != nil {
		t.Fatalf("Start after recovery: %v", err)
	}
}

func TestScanManager_SetBackgrounded(t *testing.T) {
	t.Parallel()

	h := newManagerHarness(t, nil)
	if _, err := h.sm.Start(context.Background(), "", true); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if cur, _ := h.sm.Current(); !cur.Session.Backgrounded {
		t.Error("initial backgrounded flag lost")
	}
	if err := h.sm.SetBackgrounded(false); err != nil {
		t.Fatalf("SetBackgrounded: %v", err)
	}
	if cur, _ := h.sm.Current(); cur.Session.Backgrounded {
		t.Error("backgrounded flag not cleared")
	}
}

func TestScanManager_SetTuning(t *testing.T) {
	t.Parallel()

	h := newManagerHarness(t, nil)
	tuning := h.sm.tuning
	tuning.TargetDuration = 2 * time.Second
	h.sm.SetTuning(tuning, scan.DeviceMobile)

	sess, err := h.sm.Start(context.Background(), "", false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sess.DeviceClass != scan.DeviceMobile {
		t.Errorf("device class = %q, want mobile", sess.DeviceClass)
	}
	runToEnd(t, h.ticker(t))
	out, err := h.sm.Wait(waitCtx(t))
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if out.Result == nil || out.Result.BlinkRate.ElapsedSeconds != 2 {
		t.Errorf("result = %+v, want 2s scan", out.Result)
	}
}

func TestScanManager_SinkFailureIsContained(t *testing.T) {
	t.Parallel()

	h := newManagerHarness(t, nil)
	h.sink.DeliverErr = errors.New("database down")
	if _, err := h.sm.Start(context.Background(), "", false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	runToEnd(t, h.ticker(t))
	out, err := h.sm.Wait(waitCtx(t))
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if out.Session.State != scan.StateCompleted {
		t.Errorf("state = %v", out.Session.State)
	}
}

func TestScanManager_Close(t *testing.T) {
	t.Parallel()

	h := newManagerHarness(t, nil)
	if _, err := h.sm.Start(context.Background(), "", false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.ticker(t)

	if err := h.sm.Close(waitCtx(t)); err != nil {
		t.Fatalf("Close: %v", err)
	}
	cur, _ := h.sm.Current()
	if cur.Session.State != scan.StateAborted || cur.Session.AbortReason != scan.AbortCancelled {
		t.Errorf("session after Close = %+v", cur.Session)
	}
	if _, err := h.sm.Start(context.Background(), "", false); err == nil {
		t.Error("Start succeeded after Close")
	}
}
