package scan

// Default watchdog tiers, in ticks. At the 50 ms cadence these are roughly
// one and three seconds without a face.
const (
	DefaultFaceLostTicks = 10
	DefaultLowLightTicks = 30
)

// WatchdogConfig sets the warning tiers. A warning is raised once the
// consecutive miss count strictly exceeds the tier.
type WatchdogConfig struct {
	FaceLostTicks int
	LowLightTicks int
}

// DefaultWatchdogConfig returns the built-in tiers.
func DefaultWatchdogConfig() WatchdogConfig {
	return WatchdogConfig{FaceLostTicks: DefaultFaceLostTicks, LowLightTicks: DefaultLowLightTicks}
}

// WatchdogState is the face-presence counter carried between ticks.
type WatchdogState struct {
	Misses          int
	FaceDetected    bool
	LowLightWarning bool
}

// NewWatchdogState returns the baseline state: face assumed present.
func NewWatchdogState() WatchdogState {
	return WatchdogState{FaceDetected: true}
}

// Observe folds one tick's detection outcome into st.
func (c WatchdogConfig) Observe(st WatchdogState, faceFound bool) WatchdogState {
	if faceFound {
		return NewWatchdogState()
	}
	st.Misses++
	st.FaceDetected = st.Misses <= c.FaceLostTicks
	st.LowLightWarning = st.Misses > c.LowLightTicks
	return st
}
