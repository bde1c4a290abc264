// Package mock provides a test double for the web.Scanner interface.
//
// Scanner returns the configured sessions and outcomes and records every call
// so tests can assert on what the HTTP layer asked for.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/vitalscan/internal/scan"
	"github.com/MrWong99/vitalscan/internal/web"
)

// StartCall records one Start invocation.
type StartCall struct {
	DeviceClass  scan.DeviceClass
	Backgrounded bool
}

// Scanner is a mock implementation of web.Scanner.
type Scanner struct {
	mu sync.Mutex

	// StartSession is returned by Start when StartErr is nil.
	StartSession scan.Session
	StartErr     error

	// StopOutcome and AbortOutcome are returned by Stop and Abort.
	StopOutcome  scan.Outcome
	StopErr      error
	AbortOutcome scan.Outcome
	AbortErr     error

	VisibilityErr error

	// CurrentOutcome is returned by Current; HasCurrent controls ok.
	CurrentOutcome scan.Outcome
	HasCurrent     bool

	// --- Call records ---

	StartCalls      []StartCall
	StopCallCount   int
	AbortCallCount  int
	VisibilityCalls []bool
}

var _ web.Scanner = (*Scanner)(nil)

// Start records the call and returns StartSession or StartErr.
func (s *Scanner) Start(_ context.Context, class scan.DeviceClass, backgrounded bool) (scan.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartCalls = append(s.StartCalls, StartCall{DeviceClass: class, Backgrounded: backgrounded})
	if s.StartErr != nil {
		return scan.Session{}, s.StartErr
	}
	return s.StartSession, nil
}

// Stop records the call and returns StopOutcome or StopErr.
func (s *Scanner) Stop(context.Context) (scan.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StopCallCount++
	return s.StopOutcome, s.StopErr
}

// Abort records the call and returns AbortOutcome or AbortErr.
func (s *Scanner) Abort(context.Context) (scan.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AbortCallCount++
	return s.AbortOutcome, s.AbortErr
}

// SetBackgrounded records the call and returns VisibilityErr.
func (s *Scanner) SetBackgrounded(b bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.VisibilityCalls = append(s.VisibilityCalls, b)
	return s.VisibilityErr
}

// Current returns CurrentOutcome and HasCurrent.
func (s *Scanner) Current() (scan.Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CurrentOutcome, s.HasCurrent
}
