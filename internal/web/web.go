// Package web exposes the scan control surface over HTTP.
//
// Routes:
//
//	POST /scans             start a scan, body {"device_class", "backgrounded"}
//	POST /scans/stop        stop the running scan and return its outcome
//	POST /scans/abort       abort the running scan
//	PUT  /scans/visibility  body {"backgrounded": bool}
//	GET  /scans/current     outcome of the running or most recent scan
//	GET  /scans/progress    WebSocket stream of [Event] values
//
// Errors are answered as {"error": "..."} with a status derived from the
// scan sentinel errors.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/vitalscan/internal/observe"
	"github.com/MrWong99/vitalscan/internal/scan"
)

// ErrNoScan is returned by a [Scanner] when there is no scan to act on.
var ErrNoScan = errors.New("web: no scan")

const (
	maxBodyBytes = 1 << 16
	writeTimeout = 5 * time.Second
)

// Scanner is the scan lifecycle the handlers drive. It is implemented by the
// application's scan manager.
type Scanner interface {
	Start(ctx context.Context, class scan.DeviceClass, backgrounded bool) (scan.Session, error)
	Stop(ctx context.Context) (scan.Outcome, error)
	Abort(ctx context.Context) (scan.Outcome, error)
	SetBackgrounded(backgrounded bool) error

	// Current returns the running scan, or the most recent one. ok is false
	// before the first scan.
	Current() (scan.Outcome, bool)
}

// Handler serves the scan routes.
type Handler struct {
	scanner Scanner
	hub     *Hub
	accept  *websocket.AcceptOptions
	metrics *observe.Metrics
}

// Option configures a [Handler].
type Option func(*Handler)

// WithOriginPatterns allows cross-origin WebSocket clients whose Origin host
// matches one of patterns (see [websocket.AcceptOptions.OriginPatterns]).
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Handler) {
		h.accept.OriginPatterns = append(h.accept.OriginPatterns, patterns...)
	}
}

// WithMetrics records connected progress clients on m instead of the
// global metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// NewHandler returns a handler driving scanner and streaming from hub.
func NewHandler(scanner Scanner, hub *Hub, opts ...Option) *Handler {
	h := &Handler{
		scanner: scanner,
		hub:     hub,
		accept:  &websocket.AcceptOptions{},
	}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// Register adds the scan routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /scans", h.handleStart)
	mux.HandleFunc("POST /scans/stop", h.handleStop)
	mux.HandleFunc("POST /scans/abort", h.handleAbort)
	mux.HandleFunc("PUT /scans/visibility", h.handleVisibility)
	mux.HandleFunc("GET /scans/current", h.handleCurrent)
	mux.HandleFunc("GET /scans/progress", h.handleProgress)
}

type startRequest struct {
	DeviceClass  scan.DeviceClass `json:"device_class"`
	Backgrounded bool             `json:"backgrounded"`
}

type visibilityRequest struct {
	Backgrounded *bool `json:"backgrounded"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeBody(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DeviceClass != "" && !req.DeviceClass.IsValid() {
		writeError(w, http.StatusBadRequest, "device_class must be desktop or mobile")
		return
	}

	sess, err := h.scanner.Start(r.Context(), req.DeviceClass, req.Backgrounded)
	if err != nil {
		h.fail(w, r, "start scan", err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	out, err := h.scanner.Stop(r.Context())
	if err != nil {
		h.fail(w, r, "stop scan", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleAbort(w http.ResponseWriter, r *http.Request) {
	out, err := h.scanner.Abort(r.Context())
	if err != nil {
		h.fail(w, r, "abort scan", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleVisibility(w http.ResponseWriter, r *http.Request) {
	var req visibilityRequest
	if err := decodeBody(w, r, &req); err != nil || req.Backgrounded == nil {
		writeError(w, http.StatusBadRequest, "body must be {\"backgrounded\": bool}")
		return
	}
	if err := h.scanner.SetBackgrounded(*req.Backgrounded); err != nil {
		h.fail(w, r, "set visibility", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCurrent(w http.ResponseWriter, _ *http.Request) {
	out, ok := h.scanner.Current()
	if !ok {
		writeError(w, http.StatusNotFound, ErrNoScan.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "scan request failed", "op", op, "err", err)
	} else {
		slog.DebugContext(r.Context(), "scan request rejected", "op", op, "err", err)
	}
	writeError(w, status, err.Error())
}

// statusFor maps scan errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNoScan):
		return http.StatusNotFound
	case errors.Is(err, scan.ErrAlreadyRunning), errors.Is(err, scan.ErrDeviceBusy):
		return http.StatusConflict
	case errors.Is(err, scan.ErrDeviceUnavailable), errors.Is(err, scan.ErrModelInit):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("web: encode response", "err", err)
	}
}
