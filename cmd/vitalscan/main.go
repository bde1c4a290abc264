// Command vitalscan is the main entry point for the vitalscan stress-scan
// server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/vitalscan/internal/app"
	"github.com/MrWong99/vitalscan/internal/config"
	"github.com/MrWong99/vitalscan/internal/observe"
	"github.com/MrWong99/vitalscan/internal/resilience"
	"github.com/MrWong99/vitalscan/internal/scan"
	"github.com/MrWong99/vitalscan/pkg/provider/capture"
	"github.com/MrWong99/vitalscan/pkg/provider/landmark"
	"github.com/MrWong99/vitalscan/pkg/provider/landmark/remote"
	"github.com/MrWong99/vitalscan/pkg/provider/synthetic"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envFile := flag.String("env", ".env", "optional dotenv file with VITALSCAN_* overrides")
	once := flag.Bool("once", false, "run a single scan, print the outcome as JSON and exit")
	deviceClass := flag.String("device-class", "", "device class for -once (desktop or mobile)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "vitalscan: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "vitalscan: %v\n", err)
		}
		return 1
	}
	lookup, err := config.Environment(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vitalscan: %v\n", err)
		return 1
	}
	applied, err := config.ApplyEnv(cfg, lookup)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vitalscan: environment overrides: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar := new(slog.LevelVar)
	levelVar.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar})))

	slog.Info("vitalscan starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"env_overrides", applied,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		DeviceID:       cfg.Providers.Capture.DeviceID,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(ctx, reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	if !*once {
		printStartupSummary(cfg)
	}

	application, err := app.New(ctx, cfg, providers,
		app.WithLevelVar(levelVar),
		app.WithMetricsHandler(telemetry.Handler()),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	var code int
	if *once {
		code = runOnce(ctx, application, scan.DeviceClass(*deviceClass))
	} else {
		code = serve(ctx, application, *configPath, lookup)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// serve runs the HTTP server with config hot reload until ctx is cancelled.
func serve(ctx context.Context, application *app.App, configPath string, lookup config.LookupFunc) int {
	watcher, err := config.NewWatcher(configPath, application.ApplyConfig, config.WithEnv(lookup))
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		go watcher.Run(ctx)
		go reloadOnHangup(ctx, watcher)
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("shutdown signal received, stopping…")
	return 0
}

// reloadOnHangup re-reads the config file on every SIGHUP.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			changed, err := w.Reload()
			if err != nil {
				slog.Warn("SIGHUP reload rejected", "err", err)
				continue
			}
			slog.Info("SIGHUP reload", "changed", changed)
		}
	}
}

// runOnce performs one scan and writes its outcome to stdout. Ctrl+C aborts
// the scan; the aborted outcome is still printed.
func runOnce(ctx context.Context, application *app.App, class scan.DeviceClass) int {
	scans := application.Scans()
	sess, err := scans.Start(ctx, class, false)
	if err != nil {
		slog.Error("failed to start scan", "err", err)
		return 1
	}
	slog.Info("scan started", "session_id", sess.ID, "device_class", sess.DeviceClass)

	waitCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
			if _, err := scans.Abort(context.WithoutCancel(ctx)); err != nil {
				slog.Debug("abort on interrupt", "err", err)
			}
		case <-waitCtx.Done():
		}
	}()

	out, err := scans.Wait(waitCtx)
	if err != nil {
		slog.Error("scan did not finish", "err", err)
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		slog.Error("failed to write outcome", "err", err)
		return 1
	}
	if out.Result == nil {
		return 2
	}
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Factories that dial out use ctx for the initial connection.
func registerBuiltinProviders(ctx context.Context, reg *config.Registry) {
	// ── Capture ───────────────────────────────────────────────────────────────

	reg.RegisterCapture("synthetic", func(entry config.ProviderEntry) (capture.Device, error) {
		sc, err := synthetic.ScenarioFromOptions(entry.Options)
		if err != nil {
			return nil, err
		}
		id := entry.DeviceID
		if id == "" {
			id = "synthetic-0"
		}
		return synthetic.NewDevice(id, sc), nil
	})

	// ── Landmark ──────────────────────────────────────────────────────────────

	// The synthetic detector follows the same scenario as the synthetic
	// camera, so both entries should carry the same options.
	reg.RegisterLandmark("synthetic", func(entry config.ProviderEntry) (landmark.Detector, error) {
		sc, err := synthetic.ScenarioFromOptions(entry.Options)
		if err != nil {
			return nil, err
		}
		return synthetic.NewDetector(sc), nil
	})

	reg.RegisterLandmark("remote", func(entry config.ProviderEntry) (landmark.Detector, error) {
		opts := []remote.Option{remote.WithTimeout(entry.Timeout)}
		if entry.APIKey != "" {
			opts = append(opts, remote.WithToken(entry.APIKey))
		}
		if q := optInt(entry.Options, "jpeg_quality"); q > 0 {
			opts = append(opts, remote.WithJPEGQuality(q))
		}
		if d := optString(entry.Options, "dial_timeout"); d != "" {
			dt, err := time.ParseDuration(d)
			if err != nil {
				return nil, fmt.Errorf("remote: dial_timeout: %w", err)
			}
			opts = append(opts, remote.WithDialTimeout(dt))
		}
		return remote.New(ctx, entry.BaseURL, opts...)
	})

	for _, kind := range []string{"capture", "landmark"} {
		for _, name := range reg.Names(kind) {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
// The landmark detector is always wrapped in a circuit-breaking fallback
// group, with any configured fallbacks behind the primary.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.Providers.Capture.Name; name != "" {
		d, err := reg.CreateCapture(cfg.Providers.Capture)
		if err != nil {
			return nil, fmt.Errorf("create capture provider %q: %w", name, err)
		}
		ps.Capture = d
		slog.Info("provider created", "kind", "capture", "name", name, "device_id", d.ID())
	}

	if name := cfg.Providers.Landmark.Name; name != "" {
		primary, err := reg.CreateLandmark(cfg.Providers.Landmark)
		if err != nil {
			return nil, fmt.Errorf("create landmark provider %q: %w", name, err)
		}
		cb := cfg.Providers.CircuitBreaker
		fb := resilience.NewLandmarkFallback(primary, name, resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{
				MaxFailures:  cb.MaxFailures,
				ResetTimeout: cb.ResetTimeout,
				HalfOpenMax:  cb.HalfOpenMax,
				OnStateChange: func(name string, from, to resilience.State) {
					slog.Warn("landmark circuit breaker", "detector", name, "from", from, "to", to)
				},
			},
		})
		slog.Info("provider created", "kind", "landmark", "name", name)

		for i, entry := range cfg.Providers.LandmarkFallbacks {
			d, err := reg.CreateLandmark(entry)
			if err != nil {
				_ = fb.Close()
				return nil, fmt.Errorf("create landmark fallback %d %q: %w", i, entry.Name, err)
			}
			fb.AddFallback(fmt.Sprintf("%s#%d", entry.Name, i+1), d)
			slog.Info("provider created", "kind", "landmark-fallback", "name", entry.Name)
		}
		ps.Landmark = fb
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        vitalscan startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Capture", orNone(cfg.Providers.Capture.Name))
	landmarkName := cfg.Providers.Landmark.Name
	if n := len(cfg.Providers.LandmarkFallbacks); n > 0 && landmarkName != "" {
		landmarkName = fmt.Sprintf("%s +%d", landmarkName, n)
	}
	printRow("Landmark", orNone(landmarkName))
	class := cfg.Scan.DeviceClass
	if class == "" {
		class = string(scan.DeviceDesktop)
	}
	printRow("Device class", class)
	target := cfg.Scan.TargetDuration
	if target <= 0 {
		target = scan.DefaultTargetDuration
	}
	printRow("Scan length", target.String())
	printRow("Postgres sink", enabled(cfg.Sinks.PostgresDSN != ""))
	printRow("NATS sink", enabled(cfg.Sinks.NATS.URL != ""))
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-13s   : %-19s ║\n", label, value)
}

func orNone(s string) string {
	if s == "" {
		return "(not configured)"
	}
	return s
}

func enabled(on bool) string {
	if on {
		return "enabled"
	}
	return "(disabled)"
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer value from a provider Options map. YAML numbers
// decode as int; floats are truncated. Returns 0 when absent.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
