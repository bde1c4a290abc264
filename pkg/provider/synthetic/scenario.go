package synthetic

import (
	"fmt"
	"math"
	"time"
)

// Scenario defaults.
const (
	DefaultFrameInterval  = 50 * time.Millisecond
	DefaultBlinkDuration  = 150 * time.Millisecond
	DefaultOpenAperture   = 0.30
	DefaultClosedAperture = 0.12
	DefaultHeartRateBpm   = 72.0
	DefaultPulseAmplitude = 4.0
	DefaultSkinGreen      = 120.0
	DefaultWidth          = 160
	DefaultHeight         = 120
)

// Interval is a half-open span [From, To) of scenario time.
type Interval struct {
	From time.Duration `yaml:"from"`
	To   time.Duration `yaml:"to"`
}

// Contains reports whether d falls inside the interval.
func (iv Interval) Contains(d time.Duration) bool {
	return d >= iv.From && d < iv.To
}

// Scenario scripts a synthetic subject. Scenario time starts at zero with the
// first frame and advances by FrameInterval per frame.
type Scenario struct {
	// FrameInterval is the time between consecutive frames.
	FrameInterval time.Duration `yaml:"frame_interval"`

	// Length ends the stream once scenario time exceeds it. Zero streams
	// forever.
	Length time.Duration `yaml:"length"`

	// Blinks lists explicit blink onsets.
	Blinks []time.Duration `yaml:"blinks"`

	// BlinkEvery adds a periodic blink when Blinks is empty. The first
	// periodic blink is at BlinkEvery, not at zero.
	BlinkEvery time.Duration `yaml:"blink_every"`

	// BlinkDuration is how long the eyes stay closed per blink.
	BlinkDuration time.Duration `yaml:"blink_duration"`

	OpenAperture   float64 `yaml:"open_aperture"`
	ClosedAperture float64 `yaml:"closed_aperture"`

	// HeartRateBpm drives the skin brightness oscillation. Zero disables it.
	HeartRateBpm float64 `yaml:"heart_rate_bpm"`

	// PulseAmplitude is the green-channel swing of the pulse, in 0–255 units.
	PulseAmplitude float64 `yaml:"pulse_amplitude"`

	// FaceAbsent lists spans during which no face is detected.
	FaceAbsent []Interval `yaml:"face_absent"`

	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// DefaultScenario returns a calm subject blinking every four seconds with a
// 72 bpm pulse.
func DefaultScenario() Scenario {
	return Scenario{
		BlinkEvery:   4 * time.Second,
		HeartRateBpm: DefaultHeartRateBpm,
	}.withDefaults()
}

func (s Scenario) withDefaults() Scenario {
	if s.FrameInterval <= 0 {
		s.FrameInterval = DefaultFrameInterval
	}
	if s.BlinkDuration <= 0 {
		s.BlinkDuration = DefaultBlinkDuration
	}
	if s.OpenAperture <= 0 {
		s.OpenAperture = DefaultOpenAperture
	}
	if s.ClosedAperture <= 0 {
		s.ClosedAperture = DefaultClosedAperture
	}
	if s.PulseAmplitude <= 0 {
		s.PulseAmplitude = DefaultPulseAmplitude
	}
	if s.Width <= 0 {
		s.Width = DefaultWidth
	}
	if s.Height <= 0 {
		s.Height = DefaultHeight
	}
	return s
}

// Validate checks the scenario for contradictions.
func (s Scenario) Validate() error {
	s = s.withDefaults()
	if s.ClosedAperture >= s.OpenAperture {
		return fmt.Errorf("synthetic: closed aperture %.3f must be below open aperture %.3f", s.ClosedAperture, s.OpenAperture)
	}
	if s.HeartRateBpm < 0 {
		return fmt.Errorf("synthetic: heart rate %.1f must not be negative", s.HeartRateBpm)
	}
	for i, iv := range s.FaceAbsent {
		if iv.To <= iv.From {
			return fmt.Errorf("synthetic: face_absent[%d] is empty", i)
		}
	}
	return nil
}

// OffsetOf returns the scenario time of the frame with sequence number seq
// (the first frame has seq 1).
func (s Scenario) OffsetOf(seq uint64) time.Duration {
	if seq == 0 {
		return 0
	}
	return time.Duration(seq-1) * s.withDefaults().FrameInterval
}

// Ended reports whether the stream is over at offset d.
func (s Scenario) Ended(d time.Duration) bool {
	return s.Length > 0 && d > s.Length
}

// FaceAt reports whether the subject's face is visible at offset d.
func (s Scenario) FaceAt(d time.Duration) bool {
	for _, iv := range s.FaceAbsent {
		if iv.Contains(d) {
			return false
		}
	}
	return true
}

// ApertureAt returns the eye aperture ratio at offset d.
func (s Scenario) ApertureAt(d time.Duration) float64 {
	s = s.withDefaults()
	if s.blinking(d) {
		return s.ClosedAperture
	}
	return s.OpenAperture
}

func (s Scenario) blinking(d time.Duration) bool {
	if len(s.Blinks) > 0 {
		for _, b := range s.Blinks {
			if d >= b && d < b+s.BlinkDuration {
				return true
			}
		}
		return false
	}
	if s.BlinkEvery <= 0 || d < s.BlinkEvery {
		return false
	}
	return d%s.BlinkEvery < s.BlinkDuration
}

// GreenAt returns the skin green level at offset d.
func (s Scenario) GreenAt(d time.Duration) float64 {
	s = s.withDefaults()
	if s.HeartRateBpm == 0 {
		return DefaultSkinGreen
	}
	f := s.HeartRateBpm / 60
	return DefaultSkinGreen + s.PulseAmplitude*math.Sin(2*math.Pi*f*d.Seconds())
}
