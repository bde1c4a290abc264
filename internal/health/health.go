// Package health serves the liveness and readiness endpoints of vitalscan.
//
//   - GET /healthz answers 200 while the process can serve HTTP.
//   - GET /readyz runs every registered [Checker] and answers 503 when a
//     critical one fails. Failing non-critical checkers mark the response
//     "degraded" but keep it at 200, so losing an optional result sink does
//     not take the scanner out of rotation.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Response statuses.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
)

// Checker is a named readiness check.
type Checker struct {
	// Name labels the check in the JSON response (e.g. "landmark", "postgres").
	Name string

	// Critical checks fail the report. Non-critical ones only degrade it.
	Critical bool

	// Check returns nil when the dependency is usable. It must respect ctx.
	Check func(ctx context.Context) error
}

// CheckResult is the outcome of one checker in a /readyz response.
type CheckResult struct {
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Critical bool   `json:"critical,omitempty"`
	// LatencyMS is how long the check took, in milliseconds.
	LatencyMS int64 `json:"latency_ms"`
}

type result struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz for a fixed set of checkers.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler]. Checkers run concurrently on every /readyz.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: slices.Clone(checkers)}
}

// Healthz answers 200 while the process can serve HTTP.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: StatusOK})
}

// Readyz answers 503 when a critical checker fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := h.evaluate(r.Context())
	code := http.StatusOK
	if res.Status == StatusFail {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, res)
}

// evaluate runs every checker under its own [checkTimeout] and folds the
// outcomes into one status: any critical failure fails, any optional
// failure degrades.
func (h *Handler) evaluate(ctx context.Context) result {
	outcomes := make([]CheckResult, len(h.checkers))

	// A plain Group: one failing check must not cancel the others.
	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			outcomes[i] = runCheck(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: StatusOK}
	if len(outcomes) > 0 {
		res.Checks = make(map[string]CheckResult, len(outcomes))
	}
	for i, out := range outcomes {
		res.Checks[h.checkers[i].Name] = out
		if out.Status == StatusOK {
			continue
		}
		if out.Critical {
			res.Status = StatusFail
		} else if res.Status == StatusOK {
			res.Status = StatusDegraded
		}
	}
	return res
}

func runCheck(ctx context.Context, c Checker) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	err := c.Check(ctx)
	out := CheckResult{
		Status:    StatusOK,
		Critical:  c.Critical,
		LatencyMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		out.Status = StatusFail
		out.Error = err.Error()
	}
	return out
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
