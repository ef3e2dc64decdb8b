package tracing

import (
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestDefaultConfigSamplesFractionally(t *testing.T) {
	cfg := DefaultConfig("adjudication-api")
	if cfg.ServiceName != "adjudication-api" {
		t.Errorf("ServiceName = %s", cfg.ServiceName)
	}
	if cfg.SampleRate <= 0 || cfg.SampleRate >= 1 {
		t.Errorf("default sample rate %v should be a fraction", cfg.SampleRate)
	}
}

func TestRootSamplerSelection(t *testing.T) {
	if got := rootSampler(1.0).Description(); got != sdktrace.AlwaysSample().Description() {
		t.Errorf("rate 1.0 sampler = %s, want AlwaysSample", got)
	}
	if got := rootSampler(0.25).Description(); got != sdktrace.TraceIDRatioBased(0.25).Description() {
		t.Errorf("rate 0.25 sampler = %s, want ratio sampler", got)
	}
}
