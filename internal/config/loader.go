package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"capture":  {"synthetic"},
	"landmark": {"synthetic", "remote"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Unknown keys are rejected. An empty document yields the zero config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	errs = append(errs, validateScan(&cfg.Scan)...)
	errs = append(errs, validateRPPG(&cfg.RPPG)...)

	validateProviderName("capture", cfg.Providers.Capture.Name)
	validateProviderName("landmark", cfg.Providers.Landmark.Name)
	for i, fb := range cfg.Providers.LandmarkFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.landmark_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("landmark", fb.Name)
	}
	if len(cfg.Providers.LandmarkFallbacks) > 0 && cfg.Providers.Landmark.Name == "" {
		errs = append(errs, errors.New("providers.landmark_fallbacks requires providers.landmark"))
	}
	if cb := cfg.Providers.CircuitBreaker; cb.MaxFailures < 0 || cb.HalfOpenMax < 0 || cb.ResetTimeout < 0 {
		errs = append(errs, errors.New("providers.circuit_breaker values must not be negative"))
	}

	if cfg.Sinks.NATS.Subject != "" && cfg.Sinks.NATS.URL == "" {
		slog.Warn("sinks.nats.subject is set but sinks.nats.url is empty; NATS sink disabled")
	}

	return errors.Join(errs...)
}

func validateScan(s *ScanConfig) []error {
	var errs []error
	switch s.DeviceClass {
	case "", "desktop", "mobile":
	default:
		errs = append(errs, fmt.Errorf("scan.device_class %q is invalid; valid values: desktop, mobile", s.DeviceClass))
	}
	for name, d := range map[string]any{
		"scan.cadence":          s.Cadence,
		"scan.target_duration":  s.TargetDuration,
		"scan.debounce":         s.Debounce,
		"scan.max_frame_errors": s.MaxFrameErrors,
	} {
		if isNegative(d) {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	if s.Cadence > 0 && s.TargetDuration > 0 && s.Cadence >= s.TargetDuration {
		errs = append(errs, fmt.Errorf("scan.cadence %v must be shorter than scan.target_duration %v", s.Cadence, s.TargetDuration))
	}
	for class, th := range map[string]*ThresholdConfig{"desktop": s.Thresholds.Desktop, "mobile": s.Thresholds.Mobile} {
		if th == nil {
			continue
		}
		if th.Closed <= 0 || th.Reopen <= th.Closed || th.Reopen >= 1 {
			errs = append(errs, fmt.Errorf("scan.thresholds.%s: need 0 < closed (%.3f) < reopen (%.3f) < 1", class, th.Closed, th.Reopen))
		}
	}
	if s.Watchdog.FaceLostTicks < 0 || s.Watchdog.LowLightTicks < 0 {
		errs = append(errs, errors.New("scan.watchdog tick counts must not be negative"))
	}
	if w := s.Watchdog; w.FaceLostTicks > 0 && w.LowLightTicks > 0 && w.LowLightTicks < w.FaceLostTicks {
		errs = append(errs, fmt.Errorf("scan.watchdog.low_light_ticks %d must not be below face_lost_ticks %d", w.LowLightTicks, w.FaceLostTicks))
	}
	for side, idx := range map[string][]int{"left": s.Eyes.Left, "right": s.Eyes.Right} {
		if idx == nil {
			continue
		}
		if len(idx) != 6 {
			errs = append(errs, fmt.Errorf("scan.eyes.%s needs exactly 6 indices, got %d", side, len(idx)))
			continue
		}
		if slices.ContainsFunc(idx, func(i int) bool { return i < 0 }) {
			errs = append(errs, fmt.Errorf("scan.eyes.%s indices must not be negative", side))
		}
	}
	return errs
}

func validateRPPG(r *RPPGConfig) []error {
	var errs []error
	if r.Window < 0 || r.MinDuration < 0 || r.ResampleHz < 0 || r.EvaluateEveryTicks < 0 {
		errs = append(errs, errors.New("rppg values must not be negative"))
	}
	if r.MinPeakShare < 0 || r.MinPeakShare > 1 {
		errs = append(errs, fmt.Errorf("rppg.min_peak_share %.2f must be within [0, 1]", r.MinPeakShare))
	}
	if r.Window > 0 && r.MinDuration > r.Window {
		errs = append(errs, fmt.Errorf("rppg.min_duration %v exceeds rppg.window %v", r.MinDuration, r.Window))
	}
	if b := r.Band; b.LowHz != 0 || b.HighHz != 0 {
		if b.LowHz <= 0 || b.HighHz <= b.LowHz {
			errs = append(errs, fmt.Errorf("rppg.band: need 0 < low_hz (%.2f) < high_hz (%.2f)", b.LowHz, b.HighHz))
		}
		if r.ResampleHz > 0 && b.HighHz >= r.ResampleHz/2 {
			errs = append(errs, fmt.Errorf("rppg.band.high_hz %.2f must be below the Nyquist rate of resample_hz %.2f", b.HighHz, r.ResampleHz))
		}
	}
	return errs
}

func isNegative(v any) bool {
	switch n := v.(type) {
	case int:
		return n < 0
	case interface{ Nanoseconds() int64 }:
		return n.Nanoseconds() < 0
	}
	return false
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
