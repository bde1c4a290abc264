package rppg

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/MrWong99/vitalscan/pkg/vision"
)

// meshFace returns a 468-point set spread over [0.3,0.7]² with the forehead
// and cheek anchors at fixed positions.
func meshFace() vision.LandmarkSet {
	pts := make([]vision.Point3, 468)
	for i := range pts {
		pts[i] = vision.Point3{X: 0.3 + 0.4*float64(i%20)/19, Y: 0.3 + 0.4*float64(i/20)/23}
	}
	pts[10] = vision.Point3{X: 0.5, Y: 0.32}
	pts[109] = vision.Point3{X: 0.42, Y: 0.34}
	pts[338] = vision.Point3{X: 0.58, Y: 0.34}
	pts[151] = vision.Point3{X: 0.5, Y: 0.38}
	pts[50] = vision.Point3{X: 0.38, Y: 0.55}
	pts[280] = vision.Point3{X: 0.62, Y: 0.55}
	return vision.LandmarkSet{Points: pts}
}

func TestSkinROI_MeshIndices(t *testing.T) {
	t.Parallel()

	bounds := image.Rect(0, 0, 640, 480)
	rects := SkinROI(meshFace(), bounds)
	if len(rects) != 3 {
		t.Fatalf("len(rects) = %d, want 3 (forehead + 2 cheeks)", len(rects))
	}

	forehead := rects[0]
	want := image.Rect(268, 153, 372, 183)
	if forehead != want {
		t.Errorf("forehead = %v, want %v", forehead, want)
	}
	for _, r := range rects {
		if !r.In(bounds) {
			t.Errorf("rect %v outside frame %v", r, bounds)
		}
	}
}

func TestSkinROI_FallbackToBounds(t *testing.T) {
	t.Parallel()

	// Only a handful of points: no mesh indices available.
	ls := vision.LandmarkSet{Points: []vision.Point3{
		{X: 0.2, Y: 0.2}, {X: 0.8, Y: 0.2}, {X: 0.2, Y: 0.9}, {X: 0.8, Y: 0.9},
	}}
	rects := SkinROI(ls, image.Rect(0, 0, 100, 100))
	if len(rects) != 1 {
		t.Fatalf("len(rects) = %d, want 1 forehead band", len(rects))
	}
	if rects[0].Empty() {
		t.Error("fallback forehead band is empty")
	}
}

func TestSkinROI_Degenerate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		ls     vision.LandmarkSet
		bounds image.Rectangle
	}{
		{name: "no points", ls: vision.LandmarkSet{}, bounds: image.Rect(0, 0, 10, 10)},
		{name: "all NaN", ls: vision.LandmarkSet{Points: []vision.Point3{{X: math.NaN()}}}, bounds: image.Rect(0, 0, 10, 10)},
		{name: "empty frame", ls: meshFace(), bounds: image.Rectangle{}},
		{name: "face off frame", ls: vision.LandmarkSet{Points: []vision.Point3{{X: 2, Y: 2}, {X: 3, Y: 3}}}, bounds: image.Rect(0, 0, 10, 10)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if rects := SkinROI(tc.ls, tc.bounds); len(rects) != 0 {
				t.Errorf("SkinROI = %v, want none", rects)
			}
		})
	}
}

func TestMeanGreen(t *testing.T) {
	t.Parallel()

	rgba := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := range 4 {
		for x := range 4 {
			g := uint8(100)
			if x >= 2 {
				g = 200
			}
			rgba.SetRGBA(x, y, color.RGBA{R: 10, G: g, B: 10, A: 255})
		}
	}
	gray := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range gray.Pix {
		gray.Pix[i] = 50
	}

	tests := []struct {
		name   string
		img    image.Image
		rects  []image.Rectangle
		want   float64
		wantOK bool
	}{
		{name: "left half", img: rgba, rects: []image.Rectangle{image.Rect(0, 0, 2, 4)}, want: 100, wantOK: true},
		{name: "union", img: rgba, rects: []image.Rectangle{image.Rect(0, 0, 2, 4), image.Rect(2, 0, 4, 4)}, want: 150, wantOK: true},
		{name: "clipped", img: rgba, rects: []image.Rectangle{image.Rect(3, 0, 10, 4)}, want: 200, wantOK: true},
		{name: "generic image", img: gray, rects: []image.Rectangle{image.Rect(0, 0, 4, 4)}, want: 50, wantOK: true},
		{name: "outside", img: rgba, rects: []image.Rectangle{image.Rect(10, 10, 20, 20)}, wantOK: false},
		{name: "nil image", img: nil, rects: []image.Rectangle{image.Rect(0, 0, 2, 2)}, wantOK: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := MeanGreen(tc.img, tc.rects)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if ok && math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("MeanGreen = %v, want %v", got, tc.want)
			}
		})
	}
}
