package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ScanChanged is true when any scan or rppg tuning changed. Such changes
	// apply to scans started after the reload; a running scan keeps its
	// settings.
	ScanChanged bool

	ThresholdsChanged bool

	// RestartRequired lists top-level sections whose changes only take effect
	// after a restart (listen address, providers, sinks).
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !reflect.DeepEqual(old.Scan.Thresholds, new.Scan.Thresholds) {
		d.ThresholdsChanged = true
	}
	if !reflect.DeepEqual(old.Scan, new.Scan) || !reflect.DeepEqual(old.RPPG, new.RPPG) {
		d.ScanChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		!reflect.DeepEqual(old.Server.TLS, new.Server.TLS) ||
		!slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Sinks != new.Sinks {
		d.RestartRequired = append(d.RestartRequired, "sinks")
	}
	return d
}

// NeedsRestart reports whether section is among the changes that need a
// restart.
func (d ConfigDiff) NeedsRestart(section string) bool {
	return slices.Contains(d.RestartRequired, section)
}

// Empty reports whether the diff carries no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.ScanChanged && !d.ThresholdsChanged && len(d.RestartRequired) == 0
}
