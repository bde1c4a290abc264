package scan

import (
	"errors"

	"github.com/MrWong99/vitalscan/pkg/provider/landmark"
)

// Sentinel errors returned by [Controller]. Callers match them with
// [errors.Is]; the returned errors carry the underlying cause as well.
var (
	// ErrDeviceUnavailable means the capture device could not be opened.
	// The controller stays Idle.
	ErrDeviceUnavailable = errors.New("scan: capture device unavailable")

	// ErrModelInit means no usable landmark detector was supplied. It is
	// the same value as [landmark.ErrModelInit], so backend construction
	// failures match it too.
	ErrModelInit = landmark.ErrModelInit

	// ErrDeviceLost means the capture stream ended mid-session.
	ErrDeviceLost = errors.New("scan: capture device lost")

	// ErrAlreadyRunning is returned by Start on a controller that has
	// already left the Idle state.
	ErrAlreadyRunning = errors.New("scan: session already started")

	// ErrDeviceBusy means another session holds the capture device.
	ErrDeviceBusy = errors.New("scan: capture device busy")
)
