package synthetic

import (
	"context"
	"image"
	"image/color"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/vitalscan/pkg/provider/capture"
	"github.com/MrWong99/vitalscan/pkg/provider/landmark"
	"github.com/MrWong99/vitalscan/pkg/vision"
)

// Device is a [capture.Device] rendering a [Scenario].
type Device struct {
	id string
	sc Scenario

	// Now supplies the wall-clock origin of each opened stream. Nil uses
	// time.Now.
	Now func() time.Time
}

var _ capture.Device = (*Device)(nil)

// NewDevice returns a device with the given ID playing sc.
func NewDevice(id string, sc Scenario) *Device {
	return &Device{id: id, sc: sc.withDefaults()}
}

// ID implements [capture.Device].
func (d *Device) ID() string { return d.id }

// Scenario returns the scenario with defaults applied.
func (d *Device) Scenario() Scenario { return d.sc }

// Open implements [capture.Device]. Every stream restarts the scenario.
func (d *Device) Open(ctx context.Context) (capture.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	return &Stream{sc: d.sc, origin: now()}, nil
}

// Stream is an open synthetic capture stream. Each NextFrame call advances
// scenario time by one frame interval.
type Stream struct {
	sc     Scenario
	origin time.Time

	mu     sync.Mutex
	seq    uint64
	closed bool
}

var _ capture.Stream = (*Stream)(nil)

// NextFrame implements [capture.Stream].
func (s *Stream) NextFrame(ctx context.Context) (vision.Frame, error) {
	if err := ctx.Err(); err != nil {
		return vision.Frame{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vision.Frame{}, capture.ErrStreamEnded
	}
	next := s.seq + 1
	offset := s.sc.OffsetOf(next)
	if s.sc.Ended(offset) {
		return vision.Frame{}, capture.ErrStreamEnded
	}
	s.seq = next
	return vision.Frame{
		Seq:        next,
		Image:      s.render(offset),
		CapturedAt: s.origin.Add(offset),
	}, nil
}

// Close implements [capture.Stream].
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// render paints a uniform skin-tone frame whose green channel carries the
// pulse.
func (s *Stream) render(offset time.Duration) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, s.sc.Width, s.sc.Height))
	g := uint8(math.Round(min(max(s.sc.GreenAt(offset), 0), 255)))
	c := color.RGBA{R: 190, G: g, B: 100, A: 255}
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
	}
	return img
}

// Detector is a [landmark.Detector] answering from a [Scenario].
type Detector struct {
	sc Scenario
}

var _ landmark.Detector = (*Detector)(nil)

// NewDetector returns a detector for frames rendered from sc.
func NewDetector(sc Scenario) *Detector {
	return &Detector{sc: sc.withDefaults()}
}

// Detect implements [landmark.Detector].
func (d *Detector) Detect(ctx context.Context, frame vision.Frame) (vision.LandmarkSet, bool, error) {
	if err := ctx.Err(); err != nil {
		return vision.LandmarkSet{}, false, err
	}
	offset := d.sc.OffsetOf(frame.Seq)
	if !d.sc.FaceAt(offset) {
		return vision.LandmarkSet{}, false, nil
	}
	return Face(d.sc.ApertureAt(offset)), true, nil
}

// Close implements [landmark.Detector].
func (d *Detector) Close() error { return nil }
