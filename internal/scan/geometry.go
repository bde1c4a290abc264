package scan

import (
	"math"
	"time"

	"github.com/MrWong99/vitalscan/pkg/vision"
)

// minHorizontal is the smallest corner-to-corner eye width (in normalized
// units) that still yields a meaningful aperture ratio.
const minHorizontal = 1e-6

// EyeIndices names the six landmark points used for one eye, in order:
// outer corner, upper lid (outer), upper lid (inner), inner corner,
// lower lid (inner), lower lid (outer).
type EyeIndices [6]int

// Face mesh defaults (468-point topology).
var (
	DefaultLeftEye  = EyeIndices{33, 160, 158, 133, 153, 144}
	DefaultRightEye = EyeIndices{362, 385, 387, 263, 373, 380}
)

// EyeLayout selects the landmark indices for both eyes.
type EyeLayout struct {
	Left  EyeIndices
	Right EyeIndices
}

// DefaultEyeLayout returns the face mesh eye layout.
func DefaultEyeLayout() EyeLayout {
	return EyeLayout{Left: DefaultLeftEye, Right: DefaultRightEye}
}

// ApertureSample is the eyelid-aperture measurement for one frame.
type ApertureSample struct {
	Timestamp     time.Time
	LeftRatio     float64
	RightRatio    float64
	CombinedRatio float64
}

// EyeRatio computes the aperture ratio of one eye:
//
//	(|p2-p6| + |p3-p5|) / (2 * |p1-p4|)
//
// ok is false for degenerate geometry (missing index, non-finite coordinate,
// or near-zero eye width).
func EyeRatio(ls vision.LandmarkSet, eye EyeIndices) (float64, bool) {
	var p [6]vision.Point3
	for i, idx := range eye {
		pt, ok := ls.At(idx)
		if !ok || !pt.IsFinite() {
			return 0, false
		}
		p[i] = pt
	}
	horizontal := p[0].Dist(p[3])
	if horizontal < minHorizontal {
		return 0, false
	}
	ratio := (p[1].Dist(p[5]) + p[2].Dist(p[4])) / (2 * horizontal)
	if math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return 0, false
	}
	return ratio, true
}

// EvaluateAperture computes both eye ratios and their average. A degenerate
// eye makes the whole frame "no sample"; the caller drops it silently.
func EvaluateAperture(ls vision.LandmarkSet, layout EyeLayout, ts time.Time) (ApertureSample, bool) {
	left, ok := EyeRatio(ls, layout.Left)
	if !ok {
		return ApertureSample{}, false
	}
	right, ok := EyeRatio(ls, layout.Right)
	if !ok {
		return ApertureSample{}, false
	}
	return ApertureSample{
		Timestamp:     ts,
		LeftRatio:     left,
		RightRatio:    right,
		CombinedRatio: (left + right) / 2,
	}, true
}
