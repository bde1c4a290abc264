// Package app wires all vitalscan subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject test doubles via functional options (WithSinks,
// WithMetrics, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vitalscan/internal/config"
	"github.com/MrWong99/vitalscan/internal/health"
	"github.com/MrWong99/vitalscan/internal/observe"
	"github.com/MrWong99/vitalscan/internal/scan"
	"github.com/MrWong99/vitalscan/internal/web"
	"github.com/MrWong99/vitalscan/pkg/provider/capture"
	"github.com/MrWong99/vitalscan/pkg/provider/landmark"
	"github.com/MrWong99/vitalscan/pkg/sink"
	"github.com/MrWong99/vitalscan/pkg/sink/natspub"
	"github.com/MrWong99/vitalscan/pkg/sink/postgres"
)

const (
	defaultListenAddr = ":8080"
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Providers holds one interface value per provider slot. Populated by
// main.go via the config registry.
type Providers struct {
	Capture  capture.Device
	Landmark landmark.Detector
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics        *observe.Metrics
	metricsHandler http.Handler
	levelVar       *slog.LevelVar
	locks          *scan.DeviceLock
	sinks          []sink.Sink

	// Subsystems, initialised in New and torn down in Shutdown.
	sink     *sink.Multi
	hub      *web.Hub
	manager  *ScanManager
	checkers []health.Checker
	handler  http.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSinks replaces the sinks New would build from config. The sinks are
// closed by Shutdown.
func WithSinks(sinks ...sink.Sink) Option {
	return func(a *App) { a.sinks = sinks }
}

// WithMetrics records metrics on m instead of the global metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLevelVar lets config reloads change the log level through lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = lv }
}

// WithLocks shares device locks with other scan runners in the process.
func WithLocks(l *scan.DeviceLock) Option {
	return func(a *App) { a.locks = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// New connects the configured result sinks synchronously; an unreachable
// database or broker fails startup.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.locks == nil {
		a.locks = scan.NewDeviceLock()
	}

	if providers.Capture == nil {
		slog.Warn("no capture device configured; scans will fail to start")
	}
	if providers.Landmark == nil {
		slog.Warn("no landmark detector configured; scans will fail to start")
	} else {
		a.closers = append(a.closers, providers.Landmark.Close)
	}

	// ── 1. Result sinks ──────────────────────────────────────────────────
	if err := a.initSinks(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init sinks: %w", err)
	}

	// ── 2. Scan manager + progress hub ───────────────────────────────────
	a.hub = web.NewHub(0)
	tuning, class := ScanTuning(cfg)
	a.manager = NewScanManager(ScanManagerConfig{
		Device:      providers.Capture,
		Detector:    providers.Landmark,
		Locks:       a.locks,
		Metrics:     a.metrics,
		Tuning:      tuning,
		DeviceClass: class,
		Sink:        a.sink,
		Listener:    a.hub,
	})

	// ── 3. Health checks ─────────────────────────────────────────────────
	a.initHealth()

	// ── 4. HTTP routes ───────────────────────────────────────────────────
	mux := http.NewServeMux()
	web.NewHandler(a.manager, a.hub,
		web.WithMetrics(a.metrics),
		web.WithOriginPatterns(cfg.Server.AllowedOrigins...),
	).Register(mux)
	health.New(a.checkers...).Register(mux)
	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}
	a.handler = observe.Middleware(a.metrics)(mux)

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initSinks builds the result sinks from config unless they were injected.
// The log sink is always present.
func (a *App) initSinks(ctx context.Context) error {
	sinks := a.sinks
	if sinks == nil {
		sinks = []sink.Sink{sink.NewLog(nil)}

		if dsn := a.cfg.Sinks.PostgresDSN; dsn != "" {
			store, err := postgres.New(ctx, dsn)
			if err != nil {
				return err
			}
			sinks = append(sinks, store)
			slog.Info("postgres sink connected")
		}

		if nc := a.cfg.Sinks.NATS; nc.URL != "" {
			pub, err := natspub.Connect(nc.URL, nc.Subject)
			if err != nil {
				for _, s := range sinks {
					_ = s.Close()
				}
				return err
			}
			sinks = append(sinks, pub)
			slog.Info("nats sink connected", "subject", pub.Subject())
		}
	}

	a.sinks = sinks
	a.sink = sink.NewMulti(a.recordDelivery, sinks...)
	a.closers = append(a.closers, a.sink.Close)
	return nil
}

func (a *App) recordDelivery(ctx context.Context, name string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	a.metrics.RecordSinkDelivery(ctx, name, status)
}

// initHealth registers readiness checks for the landmark breakers and for
// every sink that can verify its connection. Sinks are non-critical: a
// broken sink degrades readiness but scans still run.
func (a *App) initHealth() {
	if hc, ok := a.providers.Landmark.(interface{ Healthy() bool }); ok {
		a.checkers = append(a.checkers, health.BreakerCheck("landmark", hc.Healthy))
	}
	for _, s := range a.sinks {
		switch v := s.(type) {
		case health.Pinger:
			a.checkers = append(a.checkers, health.PingCheck(s.Name(), false, v))
		case interface{ Check(context.Context) error }:
			a.checkers = append(a.checkers, health.FuncCheck(s.Name(), false, v.Check))
		}
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Scans returns the scan manager.
func (a *App) Scans() *ScanManager { return a.manager }

// Checkers returns the registered readiness checks.
func (a *App) Checkers() []health.Checker { return a.checkers }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured listen address and blocks until ctx is
// cancelled or the server fails. When ctx is done, Run stops the server and
// returns context.Canceled (or the underlying cause).
func (a *App) Run(ctx context.Context) error {
	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = defaultListenAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve %s: %w", addr, err)
	})
	g.Go(func() error {
		<-gctx.Done()
		// Progress streams are hijacked connections; Shutdown does not wait
		// for them, so end them explicitly.
		a.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	slog.Info("app running", "addr", addr, "tls", a.cfg.Server.TLS != nil, "checks", len(a.checkers))
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ApplyConfig applies the hot-reloadable parts of a config change. It is
// meant as the [config.Watcher] callback. Scan tuning applies to scans
// started afterwards; sections that need a restart are logged.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ScanChanged {
		tuning, class := ScanTuning(new)
		a.manager.SetTuning(tuning, class)
		slog.Info("scan settings reloaded", "thresholds_changed", d.ThresholdsChanged, "device_class", class)
	}
	for _, section := range d.RestartRequired {
		slog.Warn("config change requires a restart to take effect", "section", section)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown aborts any running scan, waits for pending result deliveries and
// closes all subsystems in order. It respects the context deadline: if ctx
// expires before all closers finish, remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.manager.Close(ctx); err != nil {
			slog.Warn("scan manager close error", "err", err)
		}
		a.hub.Close()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers registered so far after a failed New.
func (a *App) closeAll() {
	for _, closer := range a.closers {
		_ = closer()
	}
}
