package observe

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// ServiceName is reported as service.name on every metric and span.
const ServiceName = "essaydeck"

// Deployment describes what this bot instance runs with. Each field becomes
// a resource attribute, so dashboards can split by provider or backend
// without extra metric labels. Empty fields are omitted.
type Deployment struct {
	Version         string
	LLMProvider     string
	TTSProvider     string
	SettingsBackend string
	DeckFormat      string
}

func (d Deployment) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(ServiceName),
		semconv.ServiceInstanceID(uuid.NewString()),
	}
	for _, kv := range []struct{ key, value string }{
		{string(semconv.ServiceVersionKey), d.Version},
		{"essaydeck.llm.provider", d.LLMProvider},
		{"essaydeck.tts.provider", d.TTSProvider},
		{"essaydeck.settings.backend", d.SettingsBackend},
		{"essaydeck.deck.format", d.DeckFormat},
	} {
		if kv.value != "" {
			attrs = append(attrs, attribute.String(kv.key, kv.value))
		}
	}
	return attrs
}

// TelemetryOption customises [NewTelemetry].
type TelemetryOption func(*telemetryConfig)

type telemetryConfig struct {
	registerer prometheus.Registerer
	spans      sdktrace.SpanExporter
}

// WithRegisterer registers the Prometheus collector on reg instead of
// [prometheus.DefaultRegisterer], which promhttp.Handler serves.
func WithRegisterer(reg prometheus.Registerer) TelemetryOption {
	return func(c *telemetryConfig) { c.registerer = reg }
}

// WithSpanExporter batches finished spans to exp. Without it spans are
// recorded for correlation ids and logs but never leave the process.
func WithSpanExporter(exp sdktrace.SpanExporter) TelemetryOption {
	return func(c *telemetryConfig) { c.spans = exp }
}

// Telemetry owns the OpenTelemetry SDK providers of one bot process.
type Telemetry struct {
	Meters  *sdkmetric.MeterProvider
	Tracers *sdktrace.TracerProvider
}

// NewTelemetry builds the meter provider (scraped through Prometheus) and
// the tracer provider for d. Nothing global changes until [Telemetry.Install].
func NewTelemetry(ctx context.Context, d Deployment, opts ...TelemetryOption) (*Telemetry, error) {
	cfg := telemetryConfig{registerer: prometheus.DefaultRegisterer}
	for _, o := range opts {
		o(&cfg)
	}

	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(d.attributes()...),
		resource.WithTelemetrySDK(),
		resource.WithProcessRuntimeVersion(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	exporter, err := promexporter.New(promexporter.WithRegisterer(cfg.registerer))
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.spans != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.spans))
	}

	return &Telemetry{
		Meters:  sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(exporter)),
		Tracers: sdktrace.NewTracerProvider(tpOpts...),
	}, nil
}

// Install makes t the global meter and tracer provider, which [Tracer],
// [StartSpan] and [DefaultMetrics] read from.
func (t *Telemetry) Install() {
	otel.SetMeterProvider(t.Meters)
	otel.SetTracerProvider(t.Tracers)
}

// Shutdown flushes pending spans and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.Tracers.Shutdown(ctx),
		t.Meters.Shutdown(ctx),
	)
}
