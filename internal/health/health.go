// Package health provides HTTP liveness and readiness handlers for the voice
// loop.
//
// The package exposes two endpoints:
//
//   - /healthz: liveness. Fails when the capture stream is gone, since the
//     loop cannot recover from that without a restart.
//   - /readyz: readiness. Additionally requires the noise calibration to be
//     complete, so probes do not report ready while the loop still ignores
//     speech.
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail"),
// a "checks" map with the result of each named checker, and an optional
// "info" map with runtime details such as the conversation state.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// checkTimeout is the maximum time a single check may take before the
// context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named health check function. The Check function should return
// nil when the dependency is healthy and a non-nil error describing the
// failure otherwise.
type Checker struct {
	// Name is a short label for this check (e.g. "capture", "calibration").
	// It appears as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// StreamSource reports whether audio capture is running. *capture.Pump
// satisfies it.
type StreamSource interface {
	Alive() bool
}

// CalibrationSource reports whether noise calibration has completed.
// *turn.Controller satisfies it.
type CalibrationSource interface {
	Calibrated() bool
}

var (
	errStreamDown   = errors.New("capture stream is not running")
	errUncalibrated = errors.New("noise calibration in progress")
)

// CaptureAlive fails while src has no open capture stream.
func CaptureAlive(src StreamSource) Checker {
	return Checker{Name: "capture", Check: func(context.Context) error {
		if !src.Alive() {
			return errStreamDown
		}
		return nil
	}}
}

// Calibrated fails until src has finished noise calibration.
func Calibrated(src CalibrationSource) Checker {
	return Checker{Name: "calibration", Check: func(context.Context) error {
		if !src.Calibrated() {
			return errUncalibrated
		}
		return nil
	}}
}

// result is the JSON response body for health endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Info   map[string]string `json:"info,omitempty"`
}

// Option configures a [Handler].
type Option func(*Handler)

// WithLiveness adds checkers evaluated by both /healthz and /readyz.
func WithLiveness(checkers ...Checker) Option {
	return func(h *Handler) { h.liveness = append(h.liveness, checkers...) }
}

// WithReadiness adds checkers evaluated by /readyz only.
func WithReadiness(checkers ...Checker) Option {
	return func(h *Handler) { h.readiness = append(h.readiness, checkers...) }
}

// WithInfo attaches runtime details to every response.
func WithInfo(fn func() map[string]string) Option {
	return func(h *Handler) { h.info = fn }
}

// Handler serves /healthz and /readyz endpoints. It is safe for concurrent
// use; the checker lists are fixed at construction time.
type Handler struct {
	liveness  []Checker
	readiness []Checker
	info      func() map[string]string
}

// New creates a [Handler]. Checkers are evaluated sequentially in the order
// they were added.
func New(opts ...Option) *Handler {
	h := &Handler{}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.liveness)
}

// Readyz is the readiness probe. It evaluates the liveness checkers first.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	all := make([]Checker, 0, len(h.liveness)+len(h.readiness))
	all = append(all, h.liveness...)
	all = append(all, h.readiness...)
	h.serve(w, r, all)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, checkers []Checker) {
	res := result{Status: "ok"}
	status := http.StatusOK

	if len(checkers) > 0 {
		res.Checks = make(map[string]string, len(checkers))
	}
	for _, c := range checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			res.Checks[c.Name] = "fail: " + err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
		} else {
			res.Checks[c.Name] = "ok"
		}
	}
	if h.info != nil {
		res.Info = h.info()
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
