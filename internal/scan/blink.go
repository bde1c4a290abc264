package scan

import (
	"fmt"
	"time"
)

// DefaultDebounce is the minimum gap between two accepted blinks.
const DefaultDebounce = 100 * time.Millisecond

// DeviceClass selects the blink threshold profile.
type DeviceClass string

const (
	DeviceDesktop DeviceClass = "desktop"
	DeviceMobile  DeviceClass = "mobile"
)

// IsValid reports whether c is a recognised device class.
func (c DeviceClass) IsValid() bool {
	return c == DeviceDesktop || c == DeviceMobile
}

// ThresholdProfile is the hysteresis band for one device class. A blink
// starts when the ratio falls to Closed or below and the detector re-arms
// once the ratio rises above Reopen.
type ThresholdProfile struct {
	Closed float64
	Reopen float64
}

// Validate checks that the band is well formed.
func (p ThresholdProfile) Validate() error {
	if p.Closed <= 0 || p.Reopen <= 0 {
		return fmt.Errorf("thresholds must be positive (closed=%.3f reopen=%.3f)", p.Closed, p.Reopen)
	}
	if p.Closed >= p.Reopen {
		return fmt.Errorf("closed threshold %.3f must be below reopen threshold %.3f", p.Closed, p.Reopen)
	}
	return nil
}

// Profiles maps each device class to its threshold band.
type Profiles map[DeviceClass]ThresholdProfile

// DefaultProfiles returns the built-in bands. Mobile front cameras are lower
// resolution and sit closer to the face, so the band is looser.
func DefaultProfiles() Profiles {
	return Profiles{
		DeviceDesktop: {Closed: 0.20, Reopen: 0.25},
		DeviceMobile:  {Closed: 0.28, Reopen: 0.32},
	}
}

// For returns the profile for class, falling back to the desktop band.
func (p Profiles) For(class DeviceClass) ThresholdProfile {
	if prof, ok := p[class]; ok {
		return prof
	}
	if prof, ok := p[DeviceDesktop]; ok {
		return prof
	}
	return DefaultProfiles()[DeviceDesktop]
}

// EyeState is the binary detector state.
type EyeState int

const (
	EyeOpen EyeState = iota
	EyeClosed
)

// String returns the human-readable name of the state.
func (s EyeState) String() string {
	if s == EyeClosed {
		return "closed"
	}
	return "open"
}

// BlinkEvent marks one accepted blink.
type BlinkEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// BlinkState is the detector memory carried between samples. The zero value
// is a fresh detector with no previous sample.
type BlinkState struct {
	Eye       EyeState
	PrevRatio float64
	HasPrev   bool
	LastBlink time.Time
	Count     int
}

// BlinkDetector holds the immutable parameters of the blink state machine.
// Step is a pure function of its arguments.
type BlinkDetector struct {
	Profile  ThresholdProfile
	Debounce time.Duration
}

// NewBlinkDetector returns a detector for the given profile. A non-positive
// debounce falls back to [DefaultDebounce].
func NewBlinkDetector(profile ThresholdProfile, debounce time.Duration) BlinkDetector {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return BlinkDetector{Profile: profile, Debounce: debounce}
}

// Step advances the state machine by one aperture sample and returns the new
// state plus the emitted event, if any.
func (d BlinkDetector) Step(st BlinkState, s ApertureSample) (BlinkState, *BlinkEvent) {
	ratio := s.CombinedRatio
	var ev *BlinkEvent

	switch st.Eye {
	case EyeOpen:
		if st.HasPrev && st.PrevRatio > d.Profile.Reopen && ratio <= d.Profile.Closed {
			st.Eye = EyeClosed
			if st.LastBlink.IsZero() || s.Timestamp.Sub(st.LastBlink) >= d.Debounce {
				st.Count++
				st.LastBlink = s.Timestamp
				ev = &BlinkEvent{Timestamp: s.Timestamp}
			}
		}
	case EyeClosed:
		if ratio > d.Profile.Reopen {
			st.Eye = EyeOpen
		}
	}

	st.PrevRatio = ratio
	st.HasPrev = true
	return st, ev
}
