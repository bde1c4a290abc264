// Package capture defines the Device interface for video capture backends.
//
// A capture device wraps a camera, a network stream, or a scripted source and
// surfaces it as an exclusive, scoped Stream. A scan controller opens the
// stream when a scan starts and closes it on every exit path.
//
// The scan loop samples the stream at its own cadence: NextFrame returns the
// most recent frame the device has, it does not wait for a fresh one unless
// none has been produced yet. The source frame rate therefore never drives
// the processing loop.
package capture

import (
	"context"
	"errors"

	"github.com/MrWong99/vitalscan/pkg/vision"
)

// ErrStreamEnded is returned by NextFrame when the underlying source has
// stopped producing frames (camera unplugged, file exhausted, remote closed).
// Callers should treat it as device loss.
var ErrStreamEnded = errors.New("capture: stream ended")

// ErrUnavailable is returned by Open when the device cannot be acquired,
// for example because access was denied or another process holds it.
var ErrUnavailable = errors.New("capture: device unavailable")

// Stream is an open capture session. It is owned by exactly one scan at a
// time and must not be shared across goroutines.
type Stream interface {
	// NextFrame returns the latest available frame. It returns
	// [ErrStreamEnded] (or an error wrapping it) when the source is gone.
	NextFrame(ctx context.Context) (vision.Frame, error)

	// Close releases the device. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Device is the factory for capture streams.
type Device interface {
	// ID returns a stable identifier for the physical or logical device.
	// Two Devices with the same ID refer to the same hardware.
	ID() string

	// Open acquires the device. Returns an error wrapping [ErrUnavailable]
	// when the device cannot be acquired.
	Open(ctx context.Context) (Stream, error)
}
