package rppg

import (
	"image"
	"math"

	"github.com/MrWong99/vitalscan/pkg/vision"
)

// Face mesh indices used to place the skin patches.
var (
	foreheadPoints = []int{10, 109, 338, 151}
	cheekPoints    = []int{50, 280}
)

// cheekSize is the side of a cheek patch as a fraction of face width.
const cheekSize = 0.08

// SkinROI returns the pixel rectangles of the forehead and cheek patches for
// a frame of the given bounds. When the mesh indices are missing it falls
// back to a forehead band derived from the landmark bounding box. An empty
// result means no usable skin region.
func SkinROI(ls vision.LandmarkSet, bounds image.Rectangle) []image.Rectangle {
	minX, minY, maxX, maxY, ok := ls.Bounds()
	if !ok || bounds.Empty() {
		return nil
	}
	faceW, faceH := maxX-minX, maxY-minY

	var rects []image.Rectangle
	if fx0, fy0, fx1, fy1, ok := pointBox(ls, foreheadPoints); ok {
		rects = appendRect(rects, bounds, fx0, fy0, fx1, fy1)
	} else {
		rects = appendRect(rects, bounds,
			minX+0.3*faceW, minY+0.05*faceH,
			maxX-0.3*faceW, minY+0.2*faceH)
	}

	half := cheekSize * faceW / 2
	for _, idx := range cheekPoints {
		p, ok := ls.At(idx)
		if !ok || !p.IsFinite() {
			continue
		}
		rects = appendRect(rects, bounds, p.X-half, p.Y-half, p.X+half, p.Y+half)
	}
	return rects
}

// pointBox returns the normalized bounding box of the given indices.
func pointBox(ls vision.LandmarkSet, idx []int) (x0, y0, x1, y1 float64, ok bool) {
	x0, y0 = math.Inf(1), math.Inf(1)
	x1, y1 = math.Inf(-1), math.Inf(-1)
	for _, i := range idx {
		p, found := ls.At(i)
		if !found || !p.IsFinite() {
			return 0, 0, 0, 0, false
		}
		x0, y0 = math.Min(x0, p.X), math.Min(y0, p.Y)
		x1, y1 = math.Max(x1, p.X), math.Max(y1, p.Y)
	}
	return x0, y0, x1, y1, true
}

// appendRect converts a normalized box to pixels, clamps it to bounds and
// appends it when non-empty.
func appendRect(rects []image.Rectangle, bounds image.Rectangle, x0, y0, x1, y1 float64) []image.Rectangle {
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	r := image.Rect(
		bounds.Min.X+int(math.Floor(x0*w)),
		bounds.Min.Y+int(math.Floor(y0*h)),
		bounds.Min.X+int(math.Ceil(x1*w)),
		bounds.Min.Y+int(math.Ceil(y1*h)),
	).Intersect(bounds)
	if r.Empty() {
		return rects
	}
	return append(rects, r)
}

// MeanGreen averages the green channel (0–255) over all rects. ok is false
// when the rects cover no pixels.
func MeanGreen(img image.Image, rects []image.Rectangle) (float64, bool) {
	if img == nil {
		return 0, false
	}
	var sum float64
	var count int
	for _, r := range rects {
		r = r.Intersect(img.Bounds())
		if r.Empty() {
			continue
		}
		if rgba, ok := img.(*image.RGBA); ok {
			for y := r.Min.Y; y < r.Max.Y; y++ {
				off := rgba.PixOffset(r.Min.X, y)
				for x := r.Min.X; x < r.Max.X; x++ {
					sum += float64(rgba.Pix[off+1])
					off += 4
				}
			}
		} else {
			for y := r.Min.Y; y < r.Max.Y; y++ {
				for x := r.Min.X; x < r.Max.X; x++ {
					_, g, _, _ := img.At(x, y).RGBA()
					sum += float64(g >> 8)
				}
			}
		}
		count += r.Dx() * r.Dy()
	}
	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}
