package app

import (
	"github.com/MrWong99/vitalscan/internal/config"
	"github.com/MrWong99/vitalscan/internal/rppg"
	"github.com/MrWong99/vitalscan/internal/scan"
)

// ScanTuning converts the scan and rppg sections of cfg into controller
// options and the default device class. Providers, locks and metrics are
// left unset; the [ScanManager] fills them in per scan. Zero config values
// keep the controller defaults.
func ScanTuning(cfg *config.Config) (scan.Options, scan.DeviceClass) {
	sc := cfg.Scan

	profiles := scan.DefaultProfiles()
	if th := sc.Thresholds.Desktop; th != nil {
		profiles[scan.DeviceDesktop] = scan.ThresholdProfile{Closed: th.Closed, Reopen: th.Reopen}
	}
	if th := sc.Thresholds.Mobile; th != nil {
		profiles[scan.DeviceMobile] = scan.ThresholdProfile{Closed: th.Closed, Reopen: th.Reopen}
	}

	eyes := scan.DefaultEyeLayout()
	if idx, ok := eyeIndices(sc.Eyes.Left); ok {
		eyes.Left = idx
	}
	if idx, ok := eyeIndices(sc.Eyes.Right); ok {
		eyes.Right = idx
	}

	opts := scan.Options{
		Profiles:       profiles,
		Debounce:       sc.Debounce,
		TargetDuration: sc.TargetDuration,
		Cadence:        sc.Cadence,
		Watchdog: scan.WatchdogConfig{
			FaceLostTicks: sc.Watchdog.FaceLostTicks,
			LowLightTicks: sc.Watchdog.LowLightTicks,
		},
		Eyes:        eyes,
		PulseWindow: cfg.RPPG.Window,
		HRV: rppg.Config{
			MinDuration: cfg.RPPG.MinDuration,
			ResampleHz:  cfg.RPPG.ResampleHz,
			LowHz:       cfg.RPPG.Band.LowHz,
			HighHz:      cfg.RPPG.Band.HighHz,

			MinPeakShare: cfg.RPPG.MinPeakShare,
		},
		HRVEveryTicks:  cfg.RPPG.EvaluateEveryTicks,
		MaxFrameErrors: sc.MaxFrameErrors,
	}

	class := scan.DeviceClass(sc.DeviceClass)
	if class == "" {
		class = scan.DeviceDesktop
	}
	return opts, class
}

func eyeIndices(idx []int) (scan.EyeIndices, bool) {
	var out scan.EyeIndices
	if len(idx) != len(out) {
		return out, false
	}
	copy(out[:], idx)
	return out, true
}
