// Package observe wires OpenTelemetry metrics and traces, slog context and
// the probe server middleware together.
//
// [InitProvider] installs a Prometheus-backed meter provider whose registry
// is served on /metrics. Tests build their own [Metrics] with [NewMetrics]
// and an SDK meter provider backed by a manual reader.
package observe

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxturn metrics.
const meterName = "github.com/MrWong99/voxturn"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per turn stage ---

	// STTDuration tracks transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks reply text generation latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// ResponseDuration tracks the time from utterance emission to playback
	// start.
	ResponseDuration metric.Float64Histogram

	// UtteranceDuration tracks the speech span of emitted utterances.
	UtteranceDuration metric.Float64Histogram

	// --- Counters ---

	// Utterances counts emitted utterances. Use with attribute:
	//   attribute.String("reason", "silence"|"max_duration")
	Utterances metric.Int64Counter

	// UtterancesDiscarded counts speech attempts shorter than the minimum.
	UtterancesDiscarded metric.Int64Counter

	// Interrupts counts playback interruptions. Use with attribute:
	//   attribute.String("reason", ...)
	Interrupts metric.Int64Counter

	// EchoChunks counts chunks classified as echo during playback. Use with
	// attribute: attribute.String("reason", ...)
	EchoChunks metric.Int64Counter

	// DroppedChunks counts chunks evicted from a full capture queue.
	DroppedChunks metric.Int64Counter

	// StreamReopens counts capture stream reopen attempts. Use with
	// attribute: attribute.String("status", "ok"|"error")
	StreamReopens metric.Int64Counter

	// StaleResults counts transcription or response results discarded
	// because a newer utterance superseded them.
	StaleResults metric.Int64Counter

	// TurnErrors counts recoverable turn failures. Use with attribute:
	//   attribute.String("kind", "transcription"|"response"|"playback")
	TurnErrors metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// DetectionThreshold reports the calibrated VAD threshold.
	DetectionThreshold metric.Float64Gauge

	// NoiseFloor reports the calibrated ambient energy.
	NoiseFloor metric.Float64Gauge

	// --- Probe server ---

	// HTTPRequestDuration tracks health and metrics requests. Use with attributes:
	//   attribute.String("route", ...), attribute.String("status", "2xx")
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// speechBuckets defines histogram bucket boundaries (in seconds) for spoken
// utterance lengths.
var speechBuckets = []float64{
	0.5, 1, 2, 3, 5, 8, 13, 20, 30,
}

// probeBuckets covers health and scrape requests, which answer from memory.
var probeBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.1, 0.5,
}

// instruments creates instruments on one meter and keeps the first error.
type instruments struct {
	meter metric.Meter
	err   error
}

func (in *instruments) seconds(name, desc string, buckets []float64) metric.Float64Histogram {
	h, err := in.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(buckets...),
	)
	in.keep(name, err)
	return h
}

func (in *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := in.meter.Int64Counter(name, metric.WithDescription(desc))
	in.keep(name, err)
	return c
}

func (in *instruments) gauge(name, desc string) metric.Float64Gauge {
	g, err := in.meter.Float64Gauge(name, metric.WithDescription(desc))
	in.keep(name, err)
	return g
}

func (in *instruments) keep(name string, err error) {
	if err != nil && in.err == nil {
		in.err = fmt.Errorf("observe: instrument %s: %w", name, err)
	}
}

// NewMetrics creates every instrument on a meter from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	in := &instruments{meter: mp.Meter(meterName)}

	met := &Metrics{
		STTDuration:       in.seconds("voxturn.stt.duration", "Latency of speech-to-text transcription.", latencyBuckets),
		LLMDuration:       in.seconds("voxturn.llm.duration", "Latency of reply text generation.", latencyBuckets),
		TTSDuration:       in.seconds("voxturn.tts.duration", "Latency of text-to-speech synthesis.", latencyBuckets),
		ResponseDuration:  in.seconds("voxturn.response.duration", "Time from utterance end to reply playback start.", latencyBuckets),
		UtteranceDuration: in.seconds("voxturn.utterance.duration", "Speech span of emitted utterances.", speechBuckets),

		Utterances:          in.counter("voxturn.utterances", "Total emitted utterances by finalize reason."),
		UtterancesDiscarded: in.counter("voxturn.utterances.discarded", "Total speech attempts discarded as too short."),
		Interrupts:          in.counter("voxturn.interrupts", "Total playback interruptions by deciding rule."),
		EchoChunks:          in.counter("voxturn.echo.chunks", "Total chunks classified as echo during playback."),
		DroppedChunks:       in.counter("voxturn.capture.dropped", "Total chunks dropped from a full capture queue."),
		StreamReopens:       in.counter("voxturn.capture.reopens", "Total capture stream reopen attempts by status."),
		StaleResults:        in.counter("voxturn.turn.stale_results", "Total superseded transcription or response results."),
		TurnErrors:          in.counter("voxturn.turn.errors", "Total recoverable turn failures by kind."),
		ProviderRequests:    in.counter("voxturn.provider.requests", "Total provider API requests by provider, kind and status."),
		ProviderErrors:      in.counter("voxturn.provider.errors", "Total provider errors by provider and kind."),

		DetectionThreshold: in.gauge("voxturn.vad.threshold", "Calibrated voice activity detection threshold (RMS)."),
		NoiseFloor:         in.gauge("voxturn.vad.noise_floor", "Calibrated ambient noise floor (RMS)."),

		HTTPRequestDuration: in.seconds("voxturn.http.request.duration", "Probe server latency by route and status class.", probeBuckets),
	}
	if in.err != nil {
		return nil, in.err
	}
	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordUtterance records an emitted utterance and its speech span.
func (m *Metrics) RecordUtterance(ctx context.Context, reason string, seconds float64) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	m.UtteranceDuration.Record(ctx, seconds)
}

// RecordInterrupt records a playback interruption decided by reason.
func (m *Metrics) RecordInterrupt(ctx context.Context, reason string) {
	m.Interrupts.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordEcho records a chunk classified as echo by reason.
func (m *Metrics) RecordEcho(ctx context.Context, reason string) {
	m.EchoChunks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordTurnError records a recoverable turn failure of kind.
func (m *Metrics) RecordTurnError(ctx context.Context, kind string) {
	m.TurnErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordStreamReopen records a capture stream reopen attempt.
func (m *Metrics) RecordStreamReopen(ctx context.Context, status string) {
	m.StreamReopens.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordCalibration records the calibrated detection threshold and noise floor.
func (m *Metrics) RecordCalibration(ctx context.Context, threshold, noiseFloor float64) {
	m.DetectionThreshold.Record(ctx, threshold)
	m.NoiseFloor.Record(ctx, noiseFloor)
}
