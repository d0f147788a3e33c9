package observe

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// targetInfo gathers reg and returns the labels of the target_info series.
func targetInfo(t *testing.T, reg *prometheus.Registry) map[string]string {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != "target_info" {
			continue
		}
		labels := map[string]string{}
		for _, lp := range f.GetMetric()[0].GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}
		return labels
	}
	t.Fatal("target_info not exported")
	return nil
}

func TestNewTelemetry_ResourceDescribesDeployment(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		d       Deployment
		want    map[string]string
		missing []string
	}{
		{
			name: "full deployment",
			d: Deployment{
				Version:         "1.4.0",
				LLMProvider:     "openai",
				TTSProvider:     "elevenlabs",
				SettingsBackend: "postgres",
				DeckFormat:      "apkg",
			},
			want: map[string]string{
				"service_name":               "essaydeck",
				"service_version":            "1.4.0",
				"essaydeck_llm_provider":     "openai",
				"essaydeck_tts_provider":     "elevenlabs",
				"essaydeck_settings_backend": "postgres",
				"essaydeck_deck_format":      "apkg",
			},
		},
		{
			name:    "empty fields omitted",
			d:       Deployment{DeckFormat: "csv"},
			want:    map[string]string{"service_name": "essaydeck", "essaydeck_deck_format": "csv"},
			missing: []string{"service_version", "essaydeck_llm_provider", "essaydeck_settings_backend"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			reg := prometheus.NewRegistry()
			tel, err := NewTelemetry(context.Background(), tc.d, WithRegisterer(reg))
			if err != nil {
				t.Fatalf("NewTelemetry: %v", err)
			}
			t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

			labels := targetInfo(t, reg)
			for k, v := range tc.want {
				if labels[k] != v {
					t.Errorf("target_info %s = %q, want %q", k, labels[k], v)
				}
			}
			for _, k := range tc.missing {
				if _, ok := labels[k]; ok {
					t.Errorf("target_info carries %s = %q, want it omitted", k, labels[k])
				}
			}
			if labels["service_instance_id"] == "" {
				t.Error("service_instance_id not set")
			}
		})
	}
}

func TestNewTelemetry_MetricsReachRegistry(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	tel, err := NewTelemetry(context.Background(), Deployment{Version: "dev"}, WithRegisterer(reg))
	if err != nil {
		t.Fatalf("NewTelemetry: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	m, err := NewMetrics(tel.Meters)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordRequest(context.Background(), "deck", "ok")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	names := make([]string, 0, len(families))
	for _, f := range families {
		if f.GetName() == "essaydeck_requests_total" {
			return
		}
		names = append(names, f.GetName())
	}
	t.Errorf("essaydeck_requests_total missing from %v", names)
}

func TestTelemetry_ShutdownFlushesSpans(t *testing.T) {
	t.Parallel()
	exp := tracetest.NewInMemoryExporter()
	tel, err := NewTelemetry(context.Background(), Deployment{},
		WithRegisterer(prometheus.NewRegistry()),
		WithSpanExporter(exp),
	)
	if err != nil {
		t.Fatalf("NewTelemetry: %v", err)
	}

	ctx, span := tel.Tracers.Tracer(tracerName).Start(context.Background(), "pipeline.HandleText")
	if Reference(ctx) == "" {
		t.Error("span context has no reference")
	}
	span.End()

	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "pipeline.HandleText" {
		t.Fatalf("exported spans = %v, want one pipeline.HandleText", spans)
	}
	if got := spans[0].Resource.Set(); !got.HasValue("service.name") {
		t.Error("exported span has no service.name resource attribute")
	}
}
