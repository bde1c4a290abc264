package sink_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/vitalscan/pkg/sink"
	"github.com/MrWong99/vitalscan/pkg/sink/mock"
)

func record() sink.Record {
	rmssd, hr := 42.5, 71.0
	return sink.Record{
		SessionID:          "s-1",
		DeviceID:           "cam0",
		DeviceClass:        "desktop",
		BlinkRatePerMinute: 18,
		TotalBlinks:        18,
		ElapsedSeconds:     60,
		RMSSDMs:            &rmssd,
		HeartRateBpm:       &hr,
		Tier:               "moderate",
		RateTier:           "moderate",
	}
}

func TestMulti_DeliversToAll(t *testing.T) {
	t.Parallel()

	a := &mock.Sink{SinkName: "a"}
	b := &mock.Sink{SinkName: "b"}

	var (
		mu      sync.Mutex
		outcome = map[string]error{}
	)
	m := sink.NewMulti(func(_ context.Context, name string, err error) {
		mu.Lock()
		outcome[name] = err
		mu.Unlock()
	}, a, b)

	if err := m.Deliver(context.Background(), record()); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	for _, s := range []*mock.Sink{a, b} {
		got := s.Snapshot()
		if len(got) != 1 || got[0].SessionID != "s-1" {
			t.Errorf("sink %s records = %+v", s.Name(), got)
		}
	}
	if len(outcome) != 2 || outcome["a"] != nil || outcome["b"] != nil {
		t.Errorf("observer saw %v", outcome)
	}
}

func TestMulti_FailureDoesNotStopOthers(t *testing.T) {
	t.Parallel()

	errDown := errors.New("database down")
	bad := &mock.Sink{SinkName: "postgres", DeliverErr: errDown}
	good := &mock.Sink{SinkName: "nats"}
	m := sink.NewMulti(nil, bad, good)

	err := m.Deliver(context.Background(), record())
	if !errors.Is(err, errDown) {
		t.Fatalf("err = %v, want %v", err, errDown)
	}
	if !strings.Contains(err.Error(), "sink postgres") {
		t.Errorf("err = %q, want sink name", err)
	}
	if len(good.Snapshot()) != 1 {
		t.Error("healthy sink did not receive the record")
	}
}

func TestMulti_Close(t *testing.T) {
	t.Parallel()

	errClose := errors.New("flush failed")
	a := &mock.Sink{CloseErr: errClose}
	b := &mock.Sink{}
	m := sink.NewMulti(nil, a, b)
	if m.Len() != 2 {
		t.Fatalf("Len = %d", m.Len())
	}
	if err := m.Close(); !errors.Is(err, errClose) {
		t.Errorf("Close = %v, want %v", err, errClose)
	}
	if a.CloseCallCount != 1 || b.CloseCallCount != 1 {
		t.Errorf("close calls = %d/%d", a.CloseCallCount, b.CloseCallCount)
	}
}

func TestLog_Deliver(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := sink.NewLog(slog.New(slog.NewTextHandler(&buf, nil)))
	rec := record()
	rec.Escalated = true
	if err := l.Deliver(context.Background(), rec); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"scan result", "session_id=s-1", "tier=moderate", "rmssd_ms=42.5", "escalated=true"} {
		if !strings.Contains(out, want) {
			t.Errorf("log line %q missing %q", out, want)
		}
	}
}
