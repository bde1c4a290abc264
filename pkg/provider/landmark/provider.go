// Package landmark defines the Detector interface for facial-landmark
// inference backends.
//
// A Detector wraps a face-mesh model (on-device, remote, or scripted) and
// returns the landmark set of the single most prominent face in a frame.
// vitalscan treats the model as an opaque capability: it never inspects
// model internals and only relies on the point index layout.
//
// Detect is called synchronously inside a scan tick and must return within a
// bound much shorter than the tick cadence (50 ms by default). Backends that
// are inherently asynchronous must block until their answer is available so
// that the scan controller never has two inferences in flight.
package landmark

import (
	"context"
	"errors"

	"github.com/MrWong99/vitalscan/pkg/vision"
)

// ErrModelInit is returned (wrapped) by backend constructors when the model
// cannot be loaded or the inference service cannot be reached.
var ErrModelInit = errors.New("landmark: model initialisation failed")

// Detector runs landmark inference on single frames.
//
// Implementations must be safe for sequential use from one goroutine; the
// scan controller never calls Detect concurrently on the same Detector.
type Detector interface {
	// Detect returns the landmarks of the detected face. ok is false when no
	// face was found, which is not an error. A non-nil error indicates an
	// inference failure for this frame.
	Detect(ctx context.Context, frame vision.Frame) (ls vision.LandmarkSet, ok bool, err error)

	// Close releases model resources. Calling Close more than once is safe.
	Close() error
}
