// Package rppg extracts a pulse signal from skin-colour fluctuation and
// derives heart rate and heart-rate variability from it.
//
// The extractor side ([SkinROI], [MeanGreen], [Buffer]) is fed once per scan
// tick. The estimator side ([Estimator]) is a set of pure functions over an
// immutable [Buffer.Snapshot], so it can be exercised with synthetic traces
// without any capture hardware.
package rppg

import "time"

// Buffer defaults.
const (
	DefaultWindow   = 45 * time.Second
	defaultCapacity = 2048
)

// PulseSample is the mean skin intensity of one frame.
type PulseSample struct {
	Timestamp     time.Time `json:"timestamp"`
	MeanIntensity float64   `json:"mean_intensity"`
}

// Buffer is a fixed-capacity ring of pulse samples bounded to a trailing
// time window. Samples older than the window (relative to the newest sample)
// and samples beyond capacity are evicted oldest first.
//
// Buffer is not safe for concurrent use; the scan controller owns it.
type Buffer struct {
	window time.Duration
	ring   []PulseSample
	head   int // index of the oldest sample
	n      int
}

// NewBuffer returns a buffer bounded to window with room for capacity
// samples. Non-positive arguments fall back to defaults.
func NewBuffer(window time.Duration, capacity int) *Buffer {
	if window <= 0 {
		window = DefaultWindow
	}
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Buffer{window: window, ring: make([]PulseSample, capacity)}
}

// Push appends s. Samples whose timestamp is not after the newest sample are
// dropped so the buffer stays strictly chronological.
func (b *Buffer) Push(s PulseSample) {
	if b.n > 0 && !s.Timestamp.After(b.newest().Timestamp) {
		return
	}
	if b.n == len(b.ring) {
		b.head = (b.head + 1) % len(b.ring)
		b.n--
	}
	b.ring[(b.head+b.n)%len(b.ring)] = s
	b.n++

	cutoff := s.Timestamp.Add(-b.window)
	for b.n > 0 && b.ring[b.head].Timestamp.Before(cutoff) {
		b.head = (b.head + 1) % len(b.ring)
		b.n--
	}
}

// Len returns the number of buffered samples.
func (b *Buffer) Len() int { return b.n }

// Span returns the time between the oldest and newest sample.
func (b *Buffer) Span() time.Duration {
	if b.n < 2 {
		return 0
	}
	return b.newest().Timestamp.Sub(b.ring[b.head].Timestamp)
}

// Snapshot returns a chronological copy of the buffered samples.
func (b *Buffer) Snapshot() []PulseSample {
	out := make([]PulseSample, b.n)
	for i := range out {
		out[i] = b.ring[(b.head+i)%len(b.ring)]
	}
	return out
}

// Reset empties the buffer without releasing its storage.
func (b *Buffer) Reset() {
	b.head, b.n = 0, 0
}

func (b *Buffer) newest() PulseSample {
	return b.ring[(b.head+b.n-1)%len(b.ring)]
}
