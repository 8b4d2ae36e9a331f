package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

type fakeSource struct {
	alive      atomic.Bool
	calibrated atomic.Bool
}

func (f *fakeSource) Alive() bool      { return f.alive.Load() }
func (f *fakeSource) Calibrated() bool { return f.calibrated.Load() }

func get(t *testing.T, h http.HandlerFunc, path string) (int, result) {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	rec := httptest.NewRecorder()
	h(rec, req)

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthz_NoCheckers(t *testing.T) {
	h := New()
	code, body := get(t, h.Healthz, "/healthz")
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("got %d %q, want 200 ok", code, body.Status)
	}
}

func TestHealthz_ContentType(t *testing.T) {
	h := New()
	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	ct := rec.Header().Get("Content-Type")
	if ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestProbes(t *testing.T) {
	tests := []struct {
		name        string
		alive       bool
		calibrated  bool
		wantHealthz int
		wantReadyz  int
	}{
		{name: "running and calibrated", alive: true, calibrated: true, wantHealthz: http.StatusOK, wantReadyz: http.StatusOK},
		{name: "calibrating", alive: true, calibrated: false, wantHealthz: http.StatusOK, wantReadyz: http.StatusServiceUnavailable},
		{name: "stream lost", alive: false, calibrated: true, wantHealthz: http.StatusServiceUnavailable, wantReadyz: http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			src := &fakeSource{}
			src.alive.Store(tc.alive)
			src.calibrated.Store(tc.calibrated)
			h := New(WithLiveness(CaptureAlive(src)), WithReadiness(Calibrated(src)))

			code, body := get(t, h.Healthz, "/healthz")
			if code != tc.wantHealthz {
				t.Errorf("healthz status = %d, want %d", code, tc.wantHealthz)
			}
			if _, ok := body.Checks["calibration"]; ok {
				t.Error("healthz should not evaluate readiness checkers")
			}

			code, body = get(t, h.Readyz, "/readyz")
			if code != tc.wantReadyz {
				t.Errorf("readyz status = %d, want %d", code, tc.wantReadyz)
			}
			if len(body.Checks) != 2 {
				t.Errorf("readyz checks = %v, want capture and calibration", body.Checks)
			}
			if !tc.calibrated && body.Checks["calibration"] != "fail: "+errUncalibrated.Error() {
				t.Errorf("calibration check = %q", body.Checks["calibration"])
			}
			if tc.wantReadyz != http.StatusOK && body.Status != "fail" {
				t.Errorf("status = %q, want fail", body.Status)
			}
		})
	}
}

func TestInfo(t *testing.T) {
	h := New(WithInfo(func() map[string]string {
		return map[string]string{"state": "LISTENING", "device": "USB Mic"}
	}))
	_, body := get(t, h.Readyz, "/readyz")
	if body.Info["state"] != "LISTENING" || body.Info["device"] != "USB Mic" {
		t.Errorf("info = %v", body.Info)
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	src := &fakeSource{}
	src.alive.Store(true)
	h := New(WithLiveness(CaptureAlive(src)), WithReadiness(Calibrated(src)))
	mux := http.NewServeMux()
	h.Register(mux)

	tests := []struct {
		path       string
		wantStatus int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			req := httptest.NewRequest("GET", tc.path, nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
		})
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	h := New(WithReadiness(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
