// Package vision defines the shared frame and landmark types used across all
// vitalscan packages.
//
// These types are the lingua franca between capture devices, landmark
// detectors, the scan controller, and the rPPG extractor. They are kept
// intentionally small so that provider packages do not need to import the
// scan engine.
package vision

import (
	"image"
	"math"
	"time"
)

// Frame is a single captured video sample. Frames are immutable once produced
// by a capture stream and are owned by the scan tick that pulled them.
type Frame struct {
	// Seq is the monotonically increasing sequence number assigned by the
	// capture stream. The first frame of a stream has Seq 1.
	Seq uint64

	// Image holds the pixel data. Capture devices typically produce
	// *image.RGBA or *image.YCbCr at around 640×480.
	Image image.Image

	// CapturedAt is the wall-clock capture timestamp.
	CapturedAt time.Time
}

// Width returns the frame width in pixels, or 0 if the frame carries no image.
func (f Frame) Width() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dx()
}

// Height returns the frame height in pixels, or 0 if the frame carries no image.
func (f Frame) Height() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dy()
}

// Point3 is a normalized landmark coordinate. X and Y are in [0, 1] relative
// to the frame width and height; Z is the model's relative depth.
type Point3 struct {
	X, Y, Z float64
}

// IsFinite reports whether all coordinates are finite numbers.
func (p Point3) IsFinite() bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) &&
		!math.IsNaN(p.Y) && !math.IsInf(p.Y, 0) &&
		!math.IsNaN(p.Z) && !math.IsInf(p.Z, 0)
}

// Dist returns the Euclidean distance between p and q in normalized space.
func (p Point3) Dist(q Point3) float64 {
	dx, dy, dz := p.X-q.X, p.Y-q.Y, p.Z-q.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// LandmarkSet is the ordered point sequence for one detected face. The index
// layout is defined by the detection model (vitalscan defaults to the
// 468-point face mesh topology).
type LandmarkSet struct {
	Points []Point3
}

// Len returns the number of points in the set.
func (ls LandmarkSet) Len() int { return len(ls.Points) }

// At returns the point at index i and whether the index is valid.
func (ls LandmarkSet) At(i int) (Point3, bool) {
	if i < 0 || i >= len(ls.Points) {
		return Point3{}, false
	}
	return ls.Points[i], true
}

// Bounds returns the normalized bounding box of all finite points as
// (minX, minY, maxX, maxY). ok is false when the set has no finite points.
func (ls LandmarkSet) Bounds() (minX, minY, maxX, maxY float64, ok bool) {
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, p := range ls.Points {
		if !p.IsFinite() {
			continue
		}
		ok = true
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return minX, minY, maxX, maxY, ok
}
