package web

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// handleProgress upgrades to a WebSocket and streams hub events until the
// client goes away or the hub closes. Clients only receive; anything they
// send is discarded.
func (h *Handler) handleProgress(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, h.accept)
	if err != nil {
		// Accept has already answered the request.
		slog.DebugContext(r.Context(), "progress stream: accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	// Subscribe before reading the current state so no event falls between.
	events, unsubscribe := h.hub.Subscribe()
	defer unsubscribe()

	mctx := context.WithoutCancel(r.Context())
	h.metrics.ProgressSubscribers.Add(mctx, 1)
	defer h.metrics.ProgressSubscribers.Add(mctx, -1)

	ctx := conn.CloseRead(r.Context())

	if out, ok := h.scanner.Current(); ok {
		if err := writeEvent(ctx, conn, Event{Type: EventState, Outcome: &out}); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				slog.DebugContext(r.Context(), "progress stream: write failed", "err", err)
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}
