package config

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MrWong99/vitalscan/pkg/provider/capture"
	"github.com/MrWong99/vitalscan/pkg/provider/landmark"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// CaptureFactory builds a capture device from its config entry.
type CaptureFactory func(ProviderEntry) (capture.Device, error)

// LandmarkFactory builds a landmark detector from its config entry.
type LandmarkFactory func(ProviderEntry) (landmark.Detector, error)

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	capture  map[string]CaptureFactory
	landmark map[string]LandmarkFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		capture:  make(map[string]CaptureFactory),
		landmark: make(map[string]LandmarkFactory),
	}
}

// RegisterCapture registers a capture device factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterCapture(name string, factory CaptureFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capture[name] = factory
}

// RegisterLandmark registers a landmark detector factory under name.
func (r *Registry) RegisterLandmark(name string, factory LandmarkFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.landmark[name] = factory
}

// CreateCapture instantiates a capture device using the factory registered
// under entry.Name. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateCapture(entry ProviderEntry) (capture.Device, error) {
	r.mu.RLock()
	factory, ok := r.capture[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: capture/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateLandmark instantiates a landmark detector using the factory
// registered under entry.Name.
func (r *Registry) CreateLandmark(entry ProviderEntry) (landmark.Detector, error) {
	r.mu.RLock()
	factory, ok := r.landmark[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: landmark/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// Names returns the registered names for kind ("capture" or "landmark"),
// sorted.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	switch kind {
	case "capture":
		for name := range r.capture {
			out = append(out, name)
		}
	case "landmark":
		for name := range r.landmark {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
