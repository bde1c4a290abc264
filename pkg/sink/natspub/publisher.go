// Package natspub publishes completed scan records to a NATS subject as JSON.
//
// Each message carries a Nats-Msg-Id header set to the session ID so that a
// JetStream stream bound to the subject de-duplicates redeliveries.
package natspub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/MrWong99/vitalscan/pkg/sink"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "vitalscan.results"

// Conn is the subset of *nats.Conn the publisher needs.
type Conn interface {
	PublishMsg(m *nats.Msg) error
	FlushWithContext(ctx context.Context) error
	Status() nats.Status
	Drain() error
}

var _ Conn = (*nats.Conn)(nil)

// Publisher is a [sink.Sink] backed by NATS.
type Publisher struct {
	conn    Conn
	subject string
	closed  atomic.Bool
}

var _ sink.Sink = (*Publisher)(nil)

// Connect dials url and returns a publisher on subject. The connection
// reconnects indefinitely in the background.
func Connect(url, subject string) (*Publisher, error) {
	nc, err := nats.Connect(
		url,
		nats.Name("vitalscan"),
		nats.Timeout(3*time.Second),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("natspub: connect %s: %w", url, err)
	}
	return New(nc, subject), nil
}

// New wraps an existing connection.
func New(conn Conn, subject string) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{conn: conn, subject: subject}
}

// Name implements [sink.Sink].
func (p *Publisher) Name() string { return "nats" }

// Subject returns the publish subject.
func (p *Publisher) Subject() string { return p.subject }

// Deliver implements [sink.Sink]. It waits for the server to acknowledge the
// flush so that a returned nil means the record left the process.
func (p *Publisher) Deliver(ctx context.Context, rec sink.Record) error {
	if p.closed.Load() {
		return sink.ErrClosed
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("natspub: encode %s: %w", rec.SessionID, err)
	}
	msg := nats.NewMsg(p.subject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, rec.SessionID)
	msg.Header.Set("Content-Type", "application/json")

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("natspub: publish %s: %w", rec.SessionID, err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("natspub: flush %s: %w", rec.SessionID, err)
	}
	return nil
}

// ErrDisconnected is returned by [Publisher.Check] while the connection is
// not established.
var ErrDisconnected = errors.New("natspub: not connected")

// Check reports connection health for the readiness check.
func (p *Publisher) Check(context.Context) error {
	if st := p.conn.Status(); st != nats.CONNECTED {
		return fmt.Errorf("%w (status %s)", ErrDisconnected, st)
	}
	return nil
}

// Close drains the connection. It is safe to call more than once.
func (p *Publisher) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.conn.Drain()
}
