package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Environment variables that override values from the YAML file.
const (
	EnvListenAddr  = "VITALSCAN_LISTEN_ADDR"
	EnvLogLevel    = "VITALSCAN_LOG_LEVEL"
	EnvDeviceClass = "VITALSCAN_DEVICE_CLASS"
	EnvTarget      = "VITALSCAN_TARGET_DURATION"
	EnvLandmarkURL = "VITALSCAN_LANDMARK_URL"
	EnvLandmarkKey = "VITALSCAN_LANDMARK_API_KEY"
	EnvPostgresDSN = "VITALSCAN_POSTGRES_DSN"
	EnvNATSURL     = "VITALSCAN_NATS_URL"
	EnvNATSSubject = "VITALSCAN_NATS_SUBJECT"
)

// LookupFunc resolves an environment variable. It has the signature of
// [os.LookupEnv].
type LookupFunc func(key string) (string, bool)

// Environment returns a lookup over the process environment layered on top
// of the given dotenv files. Process variables win over file values, and
// earlier files win over later ones. Missing files are skipped.
func Environment(files ...string) (LookupFunc, error) {
	fileVals := make(map[string]string)
	for _, name := range files {
		vals, err := godotenv.Read(name)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("config: read env file %q: %w", name, err)
		}
		for k, v := range vals {
			if _, seen := fileVals[k]; !seen {
				fileVals[k] = v
			}
		}
	}
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileVals[key]
		return v, ok
	}, nil
}

// ApplyEnv overlays environment overrides onto cfg and re-validates it. It
// returns the names of the variables that were applied.
func ApplyEnv(cfg *Config, lookup LookupFunc) ([]string, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var (
		applied []string
		errs    []error
	)
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
			applied = append(applied, key)
		}
	}

	str(EnvListenAddr, &cfg.Server.ListenAddr)
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Server.LogLevel = LogLevel(v)
		applied = append(applied, EnvLogLevel)
	}
	str(EnvDeviceClass, &cfg.Scan.DeviceClass)
	if v, ok := lookup(EnvTarget); ok && v != "" {
		d, err := parseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvTarget, err))
		} else {
			cfg.Scan.TargetDuration = d
			applied = append(applied, EnvTarget)
		}
	}
	str(EnvLandmarkURL, &cfg.Providers.Landmark.BaseURL)
	str(EnvLandmarkKey, &cfg.Providers.Landmark.APIKey)
	str(EnvPostgresDSN, &cfg.Sinks.PostgresDSN)
	str(EnvNATSURL, &cfg.Sinks.NATS.URL)
	str(EnvNATSSubject, &cfg.Sinks.NATS.Subject)

	if err := errors.Join(errs...); err != nil {
		return applied, err
	}
	return applied, Validate(cfg)
}

// parseDuration accepts Go duration strings and bare seconds.
func parseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
