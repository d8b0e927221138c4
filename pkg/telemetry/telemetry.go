// Package telemetry wires OpenTelemetry tracing and metrics into the
// client. The library depends only on the otel API; exporter and SDK setup
// belong to the embedding application.
package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// ScopeName is the instrumentation scope for this library
	ScopeName = "go-gemini"
)

// Settings controls telemetry for a client instance
type Settings struct {
	// IsEnabled turns telemetry on; when false all tracers and meters
	// are no-ops
	IsEnabled bool

	// Tracer overrides the global tracer when set
	Tracer trace.Tracer

	// Meter overrides the global meter when set
	Meter metric.Meter

	// Metadata is attached to every span as attributes by callers that
	// choose to
	Metadata map[string]string
}

// GetTracer returns the tracer to use for the given settings.
// A nil or disabled settings yields a no-op tracer.
func GetTracer(settings *Settings) trace.Tracer {
	if settings == nil || !settings.IsEnabled {
		return tracenoop.NewTracerProvider().Tracer(ScopeName)
	}
	if settings.Tracer != nil {
		return settings.Tracer
	}
	return otel.Tracer(ScopeName)
}

// GetMeter returns the meter to use for the given settings.
// A nil or disabled settings yields a no-op meter.
func GetMeter(settings *Settings) metric.Meter {
	if settings == nil || !settings.IsEnabled {
		return metricnoop.NewMeterProvider().Meter(ScopeName)
	}
	if settings.Meter != nil {
		return settings.Meter
	}
	return otel.Meter(ScopeName)
}
