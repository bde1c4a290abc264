// Package mock provides a test double for the landmark.Detector interface.
//
// Detector returns landmark results from DetectFunc when set, otherwise from
// the scripted Results slice (repeating the last entry once exhausted).
//
// Example:
//
//	det := &mock.Detector{
//	    DetectFunc: func(f vision.Frame) (vision.LandmarkSet, bool, error) {
//	        return openEyes, true, nil
//	    },
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/vitalscan/pkg/provider/landmark"
	"github.com/MrWong99/vitalscan/pkg/vision"
)

// Result is one scripted Detect outcome.
type Result struct {
	Landmarks vision.LandmarkSet
	OK        bool
	Err       error
}

// Detector is a mock implementation of landmark.Detector.
type Detector struct {
	mu sync.Mutex

	// DetectFunc, if set, computes the result for each frame.
	DetectFunc func(frame vision.Frame) (vision.LandmarkSet, bool, error)

	// Results is the scripted result sequence used when DetectFunc is nil.
	// An empty slice means "no face" for every frame.
	Results []Result

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// DetectFrames records the sequence number of every frame passed to Detect.
	DetectFrames []uint64

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	pos int
}

// Detect records the call and returns the next scripted result.
func (d *Detector) Detect(_ context.Context, frame vision.Frame) (vision.LandmarkSet, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DetectFrames = append(d.DetectFrames, frame.Seq)
	if d.DetectFunc != nil {
		return d.DetectFunc(frame)
	}
	if len(d.Results) == 0 {
		return vision.LandmarkSet{}, false, nil
	}
	r := d.Results[d.pos]
	if d.pos < len(d.Results)-1 {
		d.pos++
	}
	return r.Landmarks, r.OK, r.Err
}

// Close records the call and returns CloseErr.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CloseCallCount++
	return d.CloseErr
}

// Calls returns the number of Detect calls so far. Thread-safe.
func (d *Detector) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.DetectFrames)
}

var _ landmark.Detector = (*Detector)(nil)
