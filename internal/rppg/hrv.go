package rppg

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Estimator defaults. The pass band covers 45–180 bpm.
const (
	DefaultMinDuration = 20 * time.Second
	DefaultResampleHz  = 20.0
	DefaultLowHz       = 0.75
	DefaultHighHz      = 3.0

	// DefaultMinPeakShare is the share of in-band power the dominant pulse
	// frequency must carry before beats are counted.
	DefaultMinPeakShare = 0.3

	// peakHalfWidthHz is the neighbourhood credited to the dominant
	// frequency when measuring its power share.
	peakHalfWidthHz = 0.12
)

// HRVResult is one converged heart-rate-variability estimate.
type HRVResult struct {
	RMSSDMs      float64 `json:"rmssd_ms"`
	HeartRateBpm float64 `json:"heart_rate_bpm"`
	SampleCount  int     `json:"sample_count"`
}

// Config tunes the estimator.
type Config struct {
	// MinDuration is the buffer span required before an estimate is tried.
	MinDuration time.Duration

	// ResampleHz is the uniform grid rate used for filtering.
	ResampleHz float64

	// LowHz and HighHz bound the plausible heart-rate band.
	LowHz  float64
	HighHz float64

	// MinPeakShare rejects traces whose in-band spectrum has no dominant
	// pulse, such as sensor noise. See [PeakPowerShare].
	MinPeakShare float64
}

// DefaultConfig returns the built-in estimator settings.
func DefaultConfig() Config {
	return Config{
		MinDuration: DefaultMinDuration,
		ResampleHz:  DefaultResampleHz,
		LowHz:       DefaultLowHz,
		HighHz:      DefaultHighHz,

		MinPeakShare: DefaultMinPeakShare,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinDuration <= 0 {
		c.MinDuration = d.MinDuration
	}
	if c.ResampleHz <= 0 {
		c.ResampleHz = d.ResampleHz
	}
	if c.LowHz <= 0 {
		c.LowHz = d.LowHz
	}
	if c.HighHz <= c.LowHz {
		c.HighHz = d.HighHz
	}
	if c.MinPeakShare <= 0 || c.MinPeakShare > 1 {
		c.MinPeakShare = d.MinPeakShare
	}
	return c
}

// Estimator turns a pulse trace into an [HRVResult]. It holds no state
// between calls.
type Estimator struct {
	cfg Config
}

// NewEstimator returns an estimator; zero fields of cfg take defaults.
func NewEstimator(cfg Config) *Estimator {
	return &Estimator{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (e *Estimator) Config() Config { return e.cfg }

// Estimate evaluates a chronological sample trace. ok is false when the
// trace is too short, has no dominant in-band pulse, or yields fewer than
// three plausible beats, which simply means "not yet available".
func (e *Estimator) Estimate(samples []PulseSample) (HRVResult, bool) {
	if len(samples) < 2 {
		return HRVResult{}, false
	}
	if samples[len(samples)-1].Timestamp.Sub(samples[0].Timestamp) < e.cfg.MinDuration {
		return HRVResult{}, false
	}

	fs := e.cfg.ResampleHz
	x := Detrend(Resample(samples, fs))
	if PeakPowerShare(x, fs, e.cfg.LowHz, e.cfg.HighHz, peakHalfWidthHz) < e.cfg.MinPeakShare {
		return HRVResult{}, false
	}
	y := BandPass(x, fs, e.cfg.LowHz, e.cfg.HighHz)

	minDistance := int(math.Floor(fs / e.cfg.HighHz))
	peaks := FindPeaks(y, max(minDistance, 1), peakFloor(y))
	if len(peaks) < 2 {
		return HRVResult{}, false
	}

	ibis := InterBeatIntervals(peaks, fs, e.cfg.LowHz, e.cfg.HighHz)
	if len(ibis) < 2 {
		return HRVResult{}, false
	}

	return HRVResult{
		RMSSDMs:      RMSSD(ibis) * 1000,
		HeartRateBpm: 60 / stat.Mean(ibis, nil),
		SampleCount:  len(samples),
	}, true
}

// InterBeatIntervals converts peak positions (in samples at fs) into
// intervals in seconds, dropping intervals outside the plausible band.
func InterBeatIntervals(peaks []float64, fs, lowHz, highHz float64) []float64 {
	minIBI, maxIBI := 1/highHz, 1/lowHz
	var ibis []float64
	for i := 1; i < len(peaks); i++ {
		ibi := (peaks[i] - peaks[i-1]) / fs
		if ibi < minIBI || ibi > maxIBI {
			continue
		}
		ibis = append(ibis, ibi)
	}
	return ibis
}

// RMSSD returns the root mean square of successive differences of ibis, in
// the same unit as ibis. It is 0 for fewer than two intervals.
func RMSSD(ibis []float64) float64 {
	if len(ibis) < 2 {
		return 0
	}
	var sum float64
	for i := 1; i < len(ibis); i++ {
		d := ibis[i] - ibis[i-1]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(ibis)-1))
}
