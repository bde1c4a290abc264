package scan

import (
	"fmt"
	"time"

	"github.com/MrWong99/vitalscan/internal/rppg"
)

// State is the lifecycle state of a scan session.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateAborted
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// MarshalText implements [encoding.TextMarshaler] so states serialise by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements [encoding.TextUnmarshaler], accepting the names
// produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateIdle; st <= StateAborted; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("scan: unknown state %q", text)
}

// IsTerminal reports whether s is Completed or Aborted.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateAborted
}

// AbortReason records why a session was aborted.
type AbortReason string

const (
	AbortNone       AbortReason = ""
	AbortRequested  AbortReason = "requested"
	AbortDeviceLost AbortReason = "device_lost"
	AbortCancelled  AbortReason = "cancelled"
)

// Session is a point-in-time view of a scan session.
type Session struct {
	ID          string      `json:"id"`
	DeviceID    string      `json:"device_id"`
	DeviceClass DeviceClass `json:"device_class"`
	State       State       `json:"state"`

	// StartTime is the timestamp of the first tick that obtained a frame.
	// It is zero until then.
	StartTime      time.Time `json:"start_time,omitzero"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	BlinkCount     int       `json:"blink_count"`
	Ticks          int       `json:"ticks"`
	Backgrounded   bool      `json:"backgrounded"`

	AbortReason AbortReason `json:"abort_reason,omitempty"`
}

// Progress is emitted once per processed tick.
type Progress struct {
	SessionID                  string  `json:"session_id"`
	Tick                       int     `json:"tick"`
	BlinkCount                 int     `json:"blink_count"`
	InstantaneousRatePerMinute float64 `json:"instantaneous_rate_per_minute"`
	FaceDetected               bool    `json:"face_detected"`
	LowLightWarning            bool    `json:"low_light_warning"`
	Backgrounded               bool    `json:"backgrounded"`
	ElapsedSeconds             float64 `json:"elapsed_seconds"`

	// HeartRateBpm is the latest converged pulse estimate, if any.
	HeartRateBpm *float64 `json:"heart_rate_bpm,omitempty"`
}

// Result is the terminal output of a completed scan.
type Result struct {
	SessionID      string          `json:"session_id"`
	DeviceID       string          `json:"device_id"`
	DeviceClass    DeviceClass     `json:"device_class"`
	BlinkRate      BlinkRateResult `json:"blink_rate"`
	// BlinkEvents holds every accepted blink in order. Timestamps strictly
	// increase and are at least the debounce interval apart.
	BlinkEvents    []BlinkEvent    `json:"blink_events"`
	HRV            *rppg.HRVResult `json:"hrv,omitempty"`
	Classification Classification  `json:"classification"`
	StartedAt      time.Time       `json:"started_at"`
	CompletedAt    time.Time       `json:"completed_at"`

	// TraceID links the result to the session span, when tracing is on.
	TraceID string `json:"trace_id,omitempty"`
}

// Outcome pairs a session snapshot with its result, if the session has one.
type Outcome struct {
	Session Session `json:"session"`
	Result  *Result `json:"result,omitempty"`
}
