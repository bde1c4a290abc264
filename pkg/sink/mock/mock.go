// Package mock provides a recording test double for sink.Sink.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/vitalscan/pkg/sink"
)

// Sink is a mock implementation of sink.Sink.
type Sink struct {
	mu sync.Mutex

	// SinkName is returned by Name. Defaults to "mock".
	SinkName string

	// DeliverErr, if non-nil, is returned by Deliver after recording.
	DeliverErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// Records holds every delivered record in order.
	Records []sink.Record

	// CloseCallCount is the number of Close calls.
	CloseCallCount int

	// Delivered, if non-nil, receives every record after it is recorded.
	Delivered chan sink.Record
}

var _ sink.Sink = (*Sink)(nil)

// Name implements sink.Sink.
func (s *Sink) Name() string {
	if s.SinkName == "" {
		return "mock"
	}
	return s.SinkName
}

// Deliver records rec and returns DeliverErr.
func (s *Sink) Deliver(_ context.Context, rec sink.Record) error {
	s.mu.Lock()
	s.Records = append(s.Records, rec)
	ch, err := s.Delivered, s.DeliverErr
	s.mu.Unlock()
	if ch != nil {
		ch <- rec
	}
	return err
}

// Close records the call and returns CloseErr.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// Snapshot returns a copy of the recorded records. Thread-safe.
func (s *Sink) Snapshot() []sink.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sink.Record(nil), s.Records...)
}
