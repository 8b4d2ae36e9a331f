package observe

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// unmatchedRoute labels requests that no mux pattern served. Raw paths are
// never used as labels so scanners cannot inflate metric cardinality.
const unmatchedRoute = "unmatched"

// SessionHeader carries the journal session ID on every probe response.
const SessionHeader = "X-Voxturn-Session"

// statusRecorder remembers the status code written by the downstream handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// MiddlewareOption configures [Middleware].
type MiddlewareOption func(*middleware)

// WithSessionHeader sets [SessionHeader] on every response to the value fn
// returns. Empty values are omitted.
func WithSessionHeader(fn func() string) MiddlewareOption {
	return func(mw *middleware) { mw.session = fn }
}

type middleware struct {
	metrics *Metrics
	session func() string
	prop    propagation.TextMapPropagator
}

// Middleware instruments the health and metrics server. Each request gets a
// server span continuing any incoming W3C trace context, an X-Correlation-ID
// response header with the trace ID, and one [Metrics.HTTPRequestDuration]
// sample labelled with the matched route pattern and status class.
//
// Wrap an [http.ServeMux] directly: the route is read from the request's
// Pattern after the mux has dispatched it.
func Middleware(m *Metrics, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	mw := &middleware{metrics: m, prop: propagation.TraceContext{}}
	for _, o := range opts {
		o(mw)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mw.serve(next, w, r)
		})
	}
}

func (mw *middleware) serve(next http.Handler, w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	ctx := mw.prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := StartSpan(ctx, "probe "+r.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(r.Method),
			semconv.URLPath(r.URL.Path),
		),
	)
	defer span.End()

	if cid := CorrelationID(ctx); cid != "" {
		w.Header().Set("X-Correlation-ID", cid)
	}
	if mw.session != nil {
		if id := mw.session(); id != "" {
			w.Header().Set(SessionHeader, id)
		}
	}
	mw.prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

	// The mux records the matched pattern on the request it is given.
	req := r.WithContext(ctx)
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	next.ServeHTTP(rec, req)

	route := req.Pattern
	if route == "" {
		route = unmatchedRoute
	}
	span.SetName("probe " + route)
	span.SetAttributes(
		semconv.HTTPRoute(route),
		semconv.HTTPResponseStatusCode(rec.status),
	)

	elapsed := time.Since(start)
	mw.metrics.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(
			attribute.String("route", route),
			attribute.String("status", statusClass(rec.status)),
		),
	)

	// Probes are scraped every few seconds; only failures are worth info.
	level := slog.LevelDebug
	if rec.status >= http.StatusInternalServerError && rec.status != http.StatusServiceUnavailable {
		level = slog.LevelWarn
	}
	Logger(ctx).LogAttrs(ctx, level, "probe served",
		slog.String("route", route),
		slog.Int("status", rec.status),
		slog.Duration("duration", elapsed),
	)
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}
