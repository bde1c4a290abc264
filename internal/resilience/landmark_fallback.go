package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/vitalscan/pkg/provider/landmark"
	"github.com/MrWong99/vitalscan/pkg/vision"
)

// LandmarkFallback implements [landmark.Detector] with failover across
// several backends. "No face" is a successful answer and never triggers
// failover; only inference errors do.
type LandmarkFallback struct {
	group *FallbackGroup[landmark.Detector]
}

var _ landmark.Detector = (*LandmarkFallback)(nil)

// NewLandmarkFallback returns a detector preferring primary.
func NewLandmarkFallback(primary landmark.Detector, primaryName string, cfg FallbackConfig) *LandmarkFallback {
	return &LandmarkFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another detector, tried after all earlier ones.
func (f *LandmarkFallback) AddFallback(name string, d landmark.Detector) {
	f.group.AddFallback(name, d)
}

type detection struct {
	ls vision.LandmarkSet
	ok bool
}

// Detect implements [landmark.Detector].
func (f *LandmarkFallback) Detect(ctx context.Context, frame vision.Frame) (vision.LandmarkSet, bool, error) {
	d, err := ExecuteWithResult(f.group, func(det landmark.Detector) (detection, error) {
		ls, ok, err := det.Detect(ctx, frame)
		return detection{ls: ls, ok: ok}, err
	})
	if err != nil {
		return vision.LandmarkSet{}, false, err
	}
	return d.ls, d.ok, nil
}

// Close closes every backend and joins their errors.
func (f *LandmarkFallback) Close() error {
	var errs []error
	f.group.Each(func(_ string, d landmark.Detector) {
		errs = append(errs, d.Close())
	})
	return errors.Join(errs...)
}

// Healthy reports whether any backend's breaker admits calls.
func (f *LandmarkFallback) Healthy() bool { return f.group.Healthy() }

// Status reports the breaker state per backend.
func (f *LandmarkFallback) Status() []EntryStatus { return f.group.Status() }
