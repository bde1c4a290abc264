// Package synthetic provides a scripted capture device and landmark detector
// that together simulate a person in front of a camera.
//
// A [Scenario] describes the subject: when they blink, how fast their heart
// beats, and when they leave the frame. [Device] renders frames whose skin
// brightness carries the pulse, and [Detector] returns a face-mesh landmark
// set whose eye aperture follows the blink schedule. Both are keyed on the
// frame sequence number, so a scan driven at the scenario's frame interval
// sees a fully deterministic subject.
//
// The package backs the demo mode of cmd/vitalscan and the end-to-end scan
// tests.
package synthetic

import "github.com/MrWong99/vitalscan/pkg/vision"

// MeshSize is the number of points in the face-mesh topology.
const MeshSize = 468

// Face-mesh indices that carry meaning for the scan pipeline.
var (
	leftEye  = [6]int{33, 160, 158, 133, 153, 144}
	rightEye = [6]int{362, 385, 387, 263, 373, 380}
)

// eyeWidth is the corner-to-corner width of each eye in normalized units.
const eyeWidth = 0.08

// Face returns a frontal face-mesh landmark set centred in the frame whose
// eyes have the given aperture ratio.
func Face(aperture float64) vision.LandmarkSet {
	pts := make([]vision.Point3, MeshSize)

	// Fill the oval so the bounding box spans the face.
	for i := range pts {
		col, row := i%18, i/18
		pts[i] = vision.Point3{
			X: 0.30 + 0.40*float64(col)/17,
			Y: 0.20 + 0.60*float64(row)/25,
		}
	}

	// Forehead anchors.
	pts[10] = vision.Point3{X: 0.50, Y: 0.24}
	pts[109] = vision.Point3{X: 0.42, Y: 0.27}
	pts[338] = vision.Point3{X: 0.58, Y: 0.27}
	pts[151] = vision.Point3{X: 0.50, Y: 0.32}

	// Cheek anchors.
	pts[50] = vision.Point3{X: 0.38, Y: 0.58}
	pts[280] = vision.Point3{X: 0.62, Y: 0.58}

	placeEye(pts, leftEye, 0.36, 0.44, aperture)
	placeEye(pts, rightEye, 0.56, 0.44, aperture)
	return vision.LandmarkSet{Points: pts}
}

// placeEye lays out one eye starting at outer corner (x, y). The lid points
// sit at one and two thirds of the width, opened symmetrically so that the
// aperture ratio equals aperture exactly.
func placeEye(pts []vision.Point3, idx [6]int, x, y, aperture float64) {
	half := aperture * eyeWidth / 2
	p1, p2, p3, p4, p5, p6 := idx[0], idx[1], idx[2], idx[3], idx[4], idx[5]
	pts[p1] = vision.Point3{X: x, Y: y}
	pts[p4] = vision.Point3{X: x + eyeWidth, Y: y}
	pts[p2] = vision.Point3{X: x + eyeWidth/3, Y: y - half}
	pts[p6] = vision.Point3{X: x + eyeWidth/3, Y: y + half}
	pts[p3] = vision.Point3{X: x + 2*eyeWidth/3, Y: y - half}
	pts[p5] = vision.Point3{X: x + 2*eyeWidth/3, Y: y + half}
}
