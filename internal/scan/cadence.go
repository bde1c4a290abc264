package scan

import (
	"sync"
	"time"
)

// DefaultCadence is the processing tick interval. It samples the capture
// stream; it is not tied to the stream's frame rate or to any rendering.
const DefaultCadence = 50 * time.Millisecond

// Ticker is a fixed-interval tick source.
type Ticker interface {
	// C delivers one value per tick. The value is the tick timestamp used
	// for all session time accounting.
	C() <-chan time.Time

	// Stop releases the ticker. No ticks are delivered afterwards.
	Stop()
}

// NewTicker returns a wall-clock [Ticker] firing every d.
func NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

// ManualTicker is a [Ticker] driven explicitly by [ManualTicker.Tick]. It
// makes the tick loop fully deterministic in tests and simulations.
type ManualTicker struct {
	ch      chan time.Time
	stopped chan struct{}
	once    sync.Once
}

// NewManualTicker returns a ticker that only fires when Tick is called.
func NewManualTicker() *ManualTicker {
	return &ManualTicker{
		ch:      make(chan time.Time),
		stopped: make(chan struct{}),
	}
}

// C implements [Ticker].
func (m *ManualTicker) C() <-chan time.Time { return m.ch }

// Stop implements [Ticker]. It is safe to call more than once.
func (m *ManualTicker) Stop() {
	m.once.Do(func() { close(m.stopped) })
}

// Tick delivers ts to the consumer and blocks until it has been received.
// It returns false if the ticker was stopped before delivery.
func (m *ManualTicker) Tick(ts time.Time) bool {
	select {
	case <-m.stopped:
		return false
	default:
	}
	select {
	case m.ch <- ts:
		return true
	case <-m.stopped:
		return false
	}
}
