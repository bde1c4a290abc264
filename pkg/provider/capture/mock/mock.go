// Package mock provides test doubles for the capture package interfaces.
//
// Use Device to control whether Open succeeds and to inspect how often the
// device was acquired. Use Stream to script the frames (and errors) returned
// by NextFrame and to count Close calls.
//
// Example:
//
//	stream := &mock.Stream{Frames: frames}
//	dev := &mock.Device{DeviceID: "cam0", Stream: stream}
//	s, _ := dev.Open(ctx)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/vitalscan/pkg/provider/capture"
	"github.com/MrWong99/vitalscan/pkg/vision"
)

// Device is a mock implementation of capture.Device.
type Device struct {
	mu sync.Mutex

	// DeviceID is returned by ID. Defaults to "mock" when empty.
	DeviceID string

	// Stream is returned by Open. If nil, Open returns a new empty Stream.
	Stream *Stream

	// OpenErr, if non-nil, is returned as the error from Open.
	OpenErr error

	// OpenCallCount is the number of times Open was called.
	OpenCallCount int
}

// ID returns DeviceID or "mock".
func (d *Device) ID() string {
	if d.DeviceID == "" {
		return "mock"
	}
	return d.DeviceID
}

// Open records the call and returns Stream, OpenErr.
func (d *Device) Open(_ context.Context) (capture.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCallCount++
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	if d.Stream == nil {
		d.Stream = &Stream{}
	}
	return d.Stream, nil
}

// Opens returns OpenCallCount. Thread-safe.
func (d *Device) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.OpenCallCount
}

var _ capture.Device = (*Device)(nil)

// Stream is a mock implementation of capture.Stream.
//
// NextFrame returns Frames in order. Once Frames is exhausted it returns
// EndErr if set, otherwise it keeps repeating a blank frame with an
// increasing sequence number so that time-based tests can run indefinitely.
type Stream struct {
	mu sync.Mutex

	// Frames is the scripted frame sequence.
	Frames []vision.Frame

	// EndErr, if non-nil, is returned after Frames has been consumed.
	EndErr error

	// NextFrameCallCount is the number of times NextFrame was called.
	NextFrameCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	pos int
	seq uint64
}

// NextFrame records the call and returns the next scripted frame.
func (s *Stream) NextFrame(_ context.Context) (vision.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NextFrameCallCount++
	if s.pos < len(s.Frames) {
		f := s.Frames[s.pos]
		s.pos++
		s.seq = f.Seq
		return f, nil
	}
	if s.EndErr != nil {
		return vision.Frame{}, s.EndErr
	}
	s.seq++
	return vision.Frame{Seq: s.seq, CapturedAt: time.Now()}, nil
}

// Close records the call and returns CloseErr.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// Closes returns CloseCallCount. Thread-safe.
func (s *Stream) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

var _ capture.Stream = (*Stream)(nil)
