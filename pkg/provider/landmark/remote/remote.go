// Package remote provides a landmark.Detector that delegates face-mesh
// inference to a model server over a WebSocket connection.
//
// Each Detect call sends one JSON request carrying the frame as JPEG and
// waits for the matching JSON response:
//
//	→ {"seq": 12, "width": 640, "height": 480, "jpeg": "<base64>"}
//	← {"seq": 12, "face": true, "points": [[0.41, 0.32, -0.01], ...]}
//
// Point coordinates are normalised to the frame. A connection is never reused
// after a send or read fails or times out: it is dropped and redialled on the
// next call, so a late answer to an abandoned request cannot arrive on it. A
// response whose seq differs from the request is a protocol error and drops
// the connection the same way.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/vitalscan/pkg/provider/landmark"
	"github.com/MrWong99/vitalscan/pkg/vision"
)

const (
	defaultTimeout     = 40 * time.Millisecond
	defaultDialTimeout = 5 * time.Second
	defaultJPEGQuality = 80
	readLimit          = 1 << 20
)

// Option is a functional option for configuring the Detector.
type Option func(*Detector)

// WithToken sends token as a bearer Authorization header on dial.
func WithToken(token string) Option {
	return func(d *Detector) { d.token = token }
}

// WithTimeout bounds a single Detect round trip.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Detector) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithDialTimeout bounds connection setup.
func WithDialTimeout(timeout time.Duration) Option {
	return func(d *Detector) {
		if timeout > 0 {
			d.dialTimeout = timeout
		}
	}
}

// WithJPEGQuality sets the encoder quality (1–100) of uploaded frames.
func WithJPEGQuality(q int) Option {
	return func(d *Detector) {
		if q >= 1 && q <= 100 {
			d.quality = q
		}
	}
}

// WithHTTPClient sets the client used for the WebSocket handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Detector) { d.client = c }
}

type request struct {
	Seq    uint64 `json:"seq"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	JPEG   []byte `json:"jpeg"`
}

type response struct {
	Seq    uint64       `json:"seq"`
	Face   bool         `json:"face"`
	Points [][3]float64 `json:"points"`
	Error  string       `json:"error,omitempty"`
}

// Detector implements [landmark.Detector] against a remote model server.
type Detector struct {
	endpoint    string
	token       string
	timeout     time.Duration
	dialTimeout time.Duration
	quality     int
	client      *http.Client

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	buf    bytes.Buffer
}

var _ landmark.Detector = (*Detector)(nil)

// New dials endpoint and returns a ready detector. A failed dial is reported
// as [landmark.ErrModelInit].
func New(ctx context.Context, endpoint string, opts ...Option) (*Detector, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("remote: %w: endpoint must not be empty", landmark.ErrModelInit)
	}
	d := &Detector{
		endpoint:    endpoint,
		timeout:     defaultTimeout,
		dialTimeout: defaultDialTimeout,
		quality:     defaultJPEGQuality,
	}
	for _, o := range opts {
		o(d)
	}
	conn, err := d.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("remote: %w: %w", landmark.ErrModelInit, err)
	}
	d.conn = conn
	return d, nil
}

func (d *Detector) dial(ctx context.Context) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, d.dialTimeout)
	defer cancel()

	headers := http.Header{}
	if d.token != "" {
		headers.Set("Authorization", "Bearer "+d.token)
	}
	conn, _, err := websocket.Dial(ctx, d.endpoint, &websocket.DialOptions{
		HTTPClient: d.client,
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.endpoint, err)
	}
	conn.SetReadLimit(readLimit)
	return conn, nil
}

// Detect implements [landmark.Detector].
func (d *Detector) Detect(ctx context.Context, frame vision.Frame) (vision.LandmarkSet, bool, error) {
	if frame.Image == nil {
		return vision.LandmarkSet{}, false, errors.New("remote: frame has no pixels")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return vision.LandmarkSet{}, false, errors.New("remote: detector is closed")
	}

	b := frame.Image.Bounds()
	d.buf.Reset()
	if err := jpeg.Encode(&d.buf, frame.Image, &jpeg.Options{Quality: d.quality}); err != nil {
		return vision.LandmarkSet{}, false, fmt.Errorf("remote: encode frame %d: %w", frame.Seq, err)
	}

	if d.conn == nil {
		conn, err := d.dial(ctx)
		if err != nil {
			return vision.LandmarkSet{}, false, fmt.Errorf("remote: reconnect: %w", err)
		}
		d.conn = conn
	}

	rctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req := request{Seq: frame.Seq, Width: b.Dx(), Height: b.Dy(), JPEG: d.buf.Bytes()}
	if err := wsjson.Write(rctx, d.conn, req); err != nil {
		d.drop()
		return vision.LandmarkSet{}, false, fmt.Errorf("remote: send frame %d: %w", frame.Seq, err)
	}

	var resp response
	if err := wsjson.Read(rctx, d.conn, &resp); err != nil {
		d.drop()
		return vision.LandmarkSet{}, false, fmt.Errorf("remote: await frame %d: %w", frame.Seq, err)
	}
	if resp.Seq != frame.Seq {
		d.drop()
		return vision.LandmarkSet{}, false, fmt.Errorf("remote: frame %d: server answered seq %d", frame.Seq, resp.Seq)
	}
	if resp.Error != "" {
		return vision.LandmarkSet{}, false, fmt.Errorf("remote: frame %d: %s", frame.Seq, resp.Error)
	}
	if !resp.Face {
		return vision.LandmarkSet{}, false, nil
	}
	return toLandmarks(resp.Points), true, nil
}

func toLandmarks(pts [][3]float64) vision.LandmarkSet {
	out := make([]vision.Point3, len(pts))
	for i, p := range pts {
		out[i] = vision.Point3{X: p[0], Y: p[1], Z: p[2]}
	}
	return vision.LandmarkSet{Points: out}
}

// drop discards a broken connection. Must be called with d.mu held.
func (d *Detector) drop() {
	if d.conn != nil {
		d.conn.CloseNow()
		d.conn = nil
	}
}

// Close implements [landmark.Detector].
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close(websocket.StatusNormalClosure, "detector closed")
	d.conn = nil
	return err
}
