package web_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/vitalscan/internal/scan"
	"github.com/MrWong99/vitalscan/internal/web"
	"github.com/MrWong99/vitalscan/internal/web/mock"
	"github.com/MrWong99/vitalscan/pkg/provider/landmark"
)

func newMux(s *mock.Scanner) (*http.ServeMux, *web.Hub) {
	hub := web.NewHub(0)
	mux := http.NewServeMux()
	web.NewHandler(s, hub).Register(mux)
	return mux, hub
}

func do(t *testing.T, mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error
}

func TestHandler_Start(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		body      string
		startErr  error
		wantCode  int
		wantCalls []mock.StartCall
	}{
		{
			name:      "empty body",
			wantCode:  http.StatusCreated,
			wantCalls: []mock.StartCall{{}},
		},
		{
			name:      "mobile backgrounded",
			body:      `{"device_class":"mobile","backgrounded":true}`,
			wantCode:  http.StatusCreated,
			wantCalls: []mock.StartCall{{DeviceClass: scan.DeviceMobile, Backgrounded: true}},
		},
		{name: "unknown class", body: `{"device_class":"watch"}`, wantCode: http.StatusBadRequest},
		{name: "malformed", body: `{"device_class":`, wantCode: http.StatusBadRequest},
		{name: "unknown field", body: `{"threshold":0.3}`, wantCode: http.StatusBadRequest},
		{
			name:      "already running",
			startErr:  scan.ErrAlreadyRunning,
			wantCode:  http.StatusConflict,
			wantCalls: []mock.StartCall{{}},
		},
		{
			name:      "device busy",
			startErr:  fmt.Errorf("scan: device %q: %w", "cam-0", scan.ErrDeviceBusy),
			wantCode:  http.StatusConflict,
			wantCalls: []mock.StartCall{{}},
		},
		{
			name:      "device unavailable",
			startErr:  fmt.Errorf("scan: open device: %w", scan.ErrDeviceUnavailable),
			wantCode:  http.StatusServiceUnavailable,
			wantCalls: []mock.StartCall{{}},
		},
		{
			name:      "model init",
			startErr:  scan.ErrModelInit,
			wantCode:  http.StatusServiceUnavailable,
			wantCalls: []mock.StartCall{{}},
		},
		{
			name:      "backend model init",
			startErr:  fmt.Errorf("remote: %w: dial ws://model: refused", landmark.ErrModelInit),
			wantCode:  http.StatusServiceUnavailable,
			wantCalls: []mock.StartCall{{}},
		},
		{
			name:      "unexpected",
			startErr:  errors.New("boom"),
			wantCode:  http.StatusInternalServerError,
			wantCalls: []mock.StartCall{{}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := &mock.Scanner{
				StartSession: scan.Session{ID: "s-1", DeviceID: "cam-0", State: scan.StateRunning},
				StartErr:     tt.startErr,
			}
			mux, _ := newMux(s)
			rec := do(t, mux, "POST", "/scans", tt.body)

			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body)
			}
			if len(s.StartCalls) != len(tt.wantCalls) {
				t.Fatalf("Start calls = %+v, want %+v", s.StartCalls, tt.wantCalls)
			}
			for i := range tt.wantCalls {
				if s.StartCalls[i] != tt.wantCalls[i] {
					t.Errorf("call[%d] = %+v, want %+v", i, s.StartCalls[i], tt.wantCalls[i])
				}
			}
			if rec.Code == http.StatusCreated {
				var sess scan.Session
				if err := json.NewDecoder(rec.Body).Decode(&sess); err != nil {
					t.Fatalf("decode session: %v", err)
				}
				if sess.ID != "s-1" {
					t.Errorf("session id = %q", sess.ID)
				}
			} else if msg := errorBody(t, rec); msg == "" {
				t.Error("error body is empty")
			}
		})
	}
}

func TestHandler_StopAndAbort(t *testing.T) {
	t.Parallel()

	rate := 18.0
	done := scan.Outcome{
		Session: scan.Session{ID: "s-1", State: scan.StateCompleted},
		Result: &scan.Result{
			SessionID: "s-1",
			BlinkRate: scan.BlinkRateResult{BlinkRatePerMinute: rate, TotalBlinks: 18, ElapsedSeconds: 60},
		},
	}
	aborted := scan.Outcome{Session: scan.Session{ID: "s-2", State: scan.StateAborted, AbortReason: scan.AbortRequested}}

	t.Run("stop", func(t *testing.T) {
		t.Parallel()
		s := &mock.Scanner{StopOutcome: done}
		mux, _ := newMux(s)
		rec := do(t, mux, "POST", "/scans/stop", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("code = %d", rec.Code)
		}
		var out struct {
			Session struct {
				State string `json:"state"`
			} `json:"session"`
			Result *struct {
				BlinkRate struct {
					Rate float64 `json:"blink_rate_per_minute"`
				} `json:"blink_rate"`
			} `json:"result"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if out.Session.State != "completed" {
			t.Errorf("state = %q, want completed", out.Session.State)
		}
		if out.Result == nil || out.Result.BlinkRate.Rate != rate {
			t.Errorf("result = %+v", out.Result)
		}
		if s.StopCallCount != 1 {
			t.Errorf("Stop calls = %d", s.StopCallCount)
		}
	})

	t.Run("abort", func(t *testing.T) {
		t.Parallel()
		s := &mock.Scanner{AbortOutcome: aborted}
		mux, _ := newMux(s)
		rec := do(t, mux, "POST", "/scans/abort", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("code = %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), `"abort_reason":"requested"`) {
			t.Errorf("body = %s", rec.Body)
		}
		if strings.Contains(rec.Body.String(), `"result"`) {
			t.Errorf("aborted outcome must not carry a result: %s", rec.Body)
		}
	})

	t.Run("nothing to stop", func(t *testing.T) {
		t.Parallel()
		s := &mock.Scanner{StopErr: web.ErrNoScan, AbortErr: web.ErrNoScan}
		mux, _ := newMux(s)
		for _, path := range []string{"/scans/stop", "/scans/abort"} {
			if rec := do(t, mux, "POST", path, ""); rec.Code != http.StatusNotFound {
				t.Errorf("%s: code = %d, want 404", path, rec.Code)
			}
		}
	})
}

func TestHandler_Visibility(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantCall []bool
	}{
		{name: "backgrounded", body: `{"backgrounded":true}`, wantCode: http.StatusNoContent, wantCall: []bool{true}},
		{name: "foregrounded", body: `{"backgrounded":false}`, wantCode: http.StatusNoContent, wantCall: []bool{false}},
		{name: "missing field", body: `{}`, wantCode: http.StatusBadRequest},
		{name: "empty body", wantCode: http.StatusBadRequest},
		{name: "no scan", body: `{"backgrounded":true}`, err: web.ErrNoScan, wantCode: http.StatusNotFound, wantCall: []bool{true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := &mock.Scanner{VisibilityErr: tt.err}
			mux, _ := newMux(s)
			rec := do(t, mux, "PUT", "/scans/visibility", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if fmt.Sprint(s.VisibilityCalls) != fmt.Sprint(tt.wantCall) {
				t.Errorf("calls = %v, want %v", s.VisibilityCalls, tt.wantCall)
			}
		})
	}
}

func TestHandler_Current(t *testing.T) {
	t.Parallel()

	s := &mock.Scanner{}
	mux, _ := newMux(s)
	if rec := do(t, mux, "GET", "/scans/current", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("before any scan: code = %d, want 404", rec.Code)
	}

	s2 := &mock.Scanner{
		HasCurrent:     true,
		CurrentOutcome: scan.Outcome{Session: scan.Session{ID: "s-9", State: scan.StateRunning, BlinkCount: 4}},
	}
	mux, _ = newMux(s2)
	rec := do(t, mux, "GET", "/scans/current", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"state":"running"`) || !strings.Contains(rec.Body.String(), `"blink_count":4`) {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	t.Parallel()
	mux, _ := newMux(&mock.Scanner{})
	if rec := do(t, mux, "GET", "/scans/stop", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("code = %d, want 405", rec.Code)
	}
}
