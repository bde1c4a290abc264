package scan

import (
	"math"
	"time"
)

// DefaultTargetDuration is the scan length after which the blink rate is
// finalized.
const DefaultTargetDuration = 60 * time.Second

// BlinkRateResult is the finalized blink metric of a completed scan.
type BlinkRateResult struct {
	BlinkRatePerMinute float64 `json:"blink_rate_per_minute"`
	TotalBlinks        int     `json:"total_blinks"`
	ElapsedSeconds     float64 `json:"elapsed_seconds"`
}

// RateEstimator converts a blink count and elapsed time into per-minute
// rates. The clock starts at the first successful tick, not at Start, so
// camera warm-up is not counted.
type RateEstimator struct {
	Target time.Duration
}

// NewRateEstimator returns an estimator finalizing at target (or
// [DefaultTargetDuration] when target is not positive).
func NewRateEstimator(target time.Duration) RateEstimator {
	if target <= 0 {
		target = DefaultTargetDuration
	}
	return RateEstimator{Target: target}
}

// Instantaneous returns blinks per minute extrapolated from the partial
// window, rounded to three decimals. It is 0 before any time has elapsed.
func (RateEstimator) Instantaneous(blinks int, elapsedSeconds float64) float64 {
	if elapsedSeconds <= 0 {
		return 0
	}
	return round3(float64(blinks) / elapsedSeconds * 60)
}

// Due reports whether the scan has reached its target duration.
func (r RateEstimator) Due(elapsedSeconds float64) bool {
	return elapsedSeconds >= r.Target.Seconds()
}

// Finalize produces the terminal result. It must only be called once Due
// reports true.
func (RateEstimator) Finalize(blinks int, elapsedSeconds float64) BlinkRateResult {
	return BlinkRateResult{
		BlinkRatePerMinute: float64(blinks) / (elapsedSeconds / 60),
		TotalBlinks:        blinks,
		ElapsedSeconds:     elapsedSeconds,
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
