// Package observe provides application-wide observability primitives for
// speechkit: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all speechkit metrics.
const meterName = "github.com/gerontovoice/speechkit"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// RecognitionDuration tracks latency from utterance end to final transcript.
	RecognitionDuration metric.Float64Histogram

	// SynthesisDuration tracks text-to-speech synthesis latency.
	SynthesisDuration metric.Float64Histogram

	// ConversationDuration tracks persona reply generation latency.
	ConversationDuration metric.Float64Histogram

	// --- Counters ---

	// EngineRequests counts engine API calls. Use with attributes:
	//   attribute.String("engine", ...), attribute.String("stage", ...), attribute.String("status", ...)
	EngineRequests metric.Int64Counter

	// Utterances counts finalized transcripts. Use with attribute:
	//   attribute.String("persona", ...)
	Utterances metric.Int64Counter

	// LowConfidenceResults counts final results that fell below the
	// configured confidence threshold.
	LowConfidenceResults metric.Int64Counter

	// Retries counts automatic recognition restarts after recoverable errors.
	// Use with attribute: attribute.String("reason", ...)
	Retries metric.Int64Counter

	// --- Error counters ---

	// EngineErrors counts engine errors. Use with attributes:
	//   attribute.String("engine", ...), attribute.String("stage", ...)
	EngineErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live practice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ListeningSessions tracks how many sessions are currently capturing
	// microphone audio.
	ListeningSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.RecognitionDuration, err = m.Float64Histogram("speechkit.recognition.duration",
		metric.WithDescription("Latency from utterance end to final transcript."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("speechkit.synthesis.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ConversationDuration, err = m.Float64Histogram("speechkit.conversation.duration",
		metric.WithDescription("Latency of persona reply generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.EngineRequests, err = m.Int64Counter("speechkit.engine.requests",
		metric.WithDescription("Total engine API requests by engine, stage, and status."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("speechkit.utterances",
		metric.WithDescription("Total finalized transcripts by persona."),
	); err != nil {
		return nil, err
	}
	if met.LowConfidenceResults, err = m.Int64Counter("speechkit.low_confidence_results",
		metric.WithDescription("Final results below the confidence threshold."),
	); err != nil {
		return nil, err
	}
	if met.Retries, err = m.Int64Counter("speechkit.retries",
		metric.WithDescription("Automatic recognition restarts by reason."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.EngineErrors, err = m.Int64Counter("speechkit.engine.errors",
		metric.WithDescription("Total engine errors by engine and stage."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("speechkit.active_sessions",
		metric.WithDescription("Number of live practice sessions."),
	); err != nil {
		return nil, err
	}
	if met.ListeningSessions, err = m.Int64UpDownCounter("speechkit.listening_sessions",
		metric.WithDescription("Number of sessions currently capturing microphone audio."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("speechkit.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordEngineRequest is a convenience method that records an engine request
// counter increment with the standard attribute set.
func (m *Metrics) RecordEngineRequest(ctx context.Context, engine, stage, status string) {
	m.EngineRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("engine", engine),
			attribute.String("stage", stage),
			attribute.String("status", status),
		),
	)
}

// RecordEngineError is a convenience method that records an engine error
// counter increment.
func (m *Metrics) RecordEngineError(ctx context.Context, engine, stage string) {
	m.EngineErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("engine", engine),
			attribute.String("stage", stage),
		),
	)
}

// RecordUtterance is a convenience method that records a finalized transcript
// counter increment.
func (m *Metrics) RecordUtterance(ctx context.Context, persona string) {
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(attribute.String("persona", persona)),
	)
}

// RecordRetry is a convenience method that records an automatic recognition
// restart.
func (m *Metrics) RecordRetry(ctx context.Context, reason string) {
	m.Retries.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
