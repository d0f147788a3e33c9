// Package observe provides application-wide observability primitives for
// essaydeck: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped
// from /metrics through the Prometheus reader that [NewTelemetry] sets up.
// [DefaultMetrics] reads the global provider; tests use [NewMetrics] with
// their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all essaydeck metrics.
const meterName = "github.com/MrWong99/essaydeck"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TranslationDuration tracks one completion call of the translation stage.
	TranslationDuration metric.Float64Histogram

	// SynthesisDuration tracks one speech synthesis call (one phrase or one
	// chat reply).
	SynthesisDuration metric.Float64Histogram

	// AssemblyDuration tracks building a chat reply or a whole deck package,
	// synthesis included.
	AssemblyDuration metric.Float64Histogram

	// --- Counters ---

	// Requests counts handled text messages. Use with attributes:
	//   attribute.String("mode", ...), attribute.String("outcome", ...)
	Requests metric.Int64Counter

	// ProviderErrors counts failed provider attempts. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// Phrases records the number of phrases per generated deck.
	Phrases metric.Int64Histogram

	// --- Gauges ---

	// ActiveRequests tracks messages currently being processed.
	ActiveRequests metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// completion and speech calls, which take from a fraction of a second to
// well over a minute for long decks.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80, 160,
}

// phraseBuckets covers the default phrase limit.
var phraseBuckets = []float64{1, 2, 5, 10, 20, 40}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranslationDuration, err = m.Float64Histogram("essaydeck.translation.duration",
		metric.WithDescription("Latency of translation completions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("essaydeck.synthesis.duration",
		metric.WithDescription("Latency of a single speech synthesis call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AssemblyDuration, err = m.Float64Histogram("essaydeck.assembly.duration",
		metric.WithDescription("Latency of building a chat reply or deck package."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Phrases, err = m.Int64Histogram("essaydeck.phrases",
		metric.WithDescription("Number of phrases per generated deck."),
		metric.WithExplicitBucketBoundaries(phraseBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Requests, err = m.Int64Counter("essaydeck.requests",
		metric.WithDescription("Total handled messages by mode and outcome."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("essaydeck.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveRequests, err = m.Int64UpDownCounter("essaydeck.active_requests",
		metric.WithDescription("Number of messages currently being processed."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("essaydeck.http.request.duration",
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

// RecordRequest records one handled message with its mode and outcome.
func (m *Metrics) RecordRequest(ctx context.Context, mode, outcome string) {
	m.Requests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
