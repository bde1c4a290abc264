package web

import (
	"sync"

	"github.com/MrWong99/vitalscan/internal/scan"
)

// Event types sent on the progress stream.
const (
	// EventState carries the current outcome when a client connects.
	EventState = "state"

	// EventProgress carries one per-tick progress value.
	EventProgress = "progress"

	// EventFinished carries the terminal outcome of a scan.
	EventFinished = "finished"
)

const defaultSubscriberBuffer = 32

// Event is one message of the progress stream.
type Event struct {
	Type     string         `json:"type"`
	Progress *scan.Progress `json:"progress,omitempty"`
	Outcome  *scan.Outcome  `json:"outcome,omitempty"`
}

type subscriber struct {
	ch      chan Event
	dropped int
}

// Hub fans scan events out to progress stream subscribers. A slow subscriber
// loses progress events; finished events displace the oldest queued event
// instead of being dropped.
type Hub struct {
	buffer int

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

// NewHub returns a hub whose subscribers queue up to buffer events. A
// non-positive buffer takes the default of 32.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Hub{buffer: buffer, subs: make(map[*subscriber]struct{})}
}

// Subscribe registers a subscriber. The returned cancel function removes it
// and closes the channel; it is safe to call more than once. After
// [Hub.Close] the returned channel is already closed.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, h.buffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(s.ch)
		return s.ch, func() {}
	}
	h.subs[s] = struct{}{}

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[s]; ok {
				delete(h.subs, s)
				close(s.ch)
			}
		})
	}
}

// Publish delivers ev to every subscriber without blocking.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.ch <- ev:
			continue
		default:
		}
		if ev.Type != EventFinished {
			s.dropped++
			continue
		}
		select {
		case <-s.ch:
			s.dropped++
		default:
		}
		select {
		case s.ch <- ev:
		default:
		}
	}
}

// ScanProgress publishes a progress event.
func (h *Hub) ScanProgress(p scan.Progress) {
	h.Publish(Event{Type: EventProgress, Progress: &p})
}

// ScanFinished publishes a finished event.
func (h *Hub) ScanFinished(out scan.Outcome) {
	h.Publish(Event{Type: EventFinished, Outcome: &out})
}

// Subscribers returns the number of registered subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close closes every subscriber channel and rejects new subscribers.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		close(s.ch)
		delete(h.subs, s)
	}
}
