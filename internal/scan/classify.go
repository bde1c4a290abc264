package scan

import "github.com/MrWong99/vitalscan/internal/rppg"

// Classification tiers.
const (
	TierLow      Tier = "low"
	TierModerate Tier = "moderate"
	TierHigh     Tier = "high"
)

// Blink-rate and HRV cut-offs.
const (
	lowRateBelow       = 15.0
	highRateAbove      = 25.0
	lowHRVRMSSDBelowMs = 30.0
)

// Tier is a stress classification bucket.
type Tier string

// Classification is the combined stress verdict of a scan.
type Classification struct {
	Tier Tier `json:"tier"`

	// RateTier is the verdict from blink rate alone.
	RateTier Tier `json:"rate_tier"`

	// Escalated is true when low HRV together with a high blink rate
	// forced the high tier.
	Escalated bool `json:"escalated"`
}

// RateTier buckets a blink rate: below 15 low, 15 to 25 inclusive moderate,
// above 25 high.
func RateTier(ratePerMinute float64) Tier {
	switch {
	case ratePerMinute < lowRateBelow:
		return TierLow
	case ratePerMinute <= highRateAbove:
		return TierModerate
	default:
		return TierHigh
	}
}

// Classify combines the blink rate with the HRV result (nil when HRV did not
// converge). Low RMSSD with a blink rate above 25 escalates to high.
func Classify(ratePerMinute float64, hrv *rppg.HRVResult) Classification {
	c := Classification{RateTier: RateTier(ratePerMinute)}
	c.Tier = c.RateTier
	if hrv != nil && hrv.RMSSDMs < lowHRVRMSSDBelowMs && ratePerMinute > highRateAbove {
		c.Tier = TierHigh
		c.Escalated = true
	}
	return c
}
