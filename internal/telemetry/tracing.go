// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerProvider manages the OpenTelemetry tracer provider for the
// server process.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
}

// Config holds OpenTelemetry configuration.
type Config struct {
	ServiceName    string
	ServiceVersion string
	CollectorURL   string
	Environment    string
	SamplingRate   float64
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "hive-server",
		ServiceVersion: "0.1.0",
		CollectorURL:   "localhost:4318",
		Environment:    "development",
		SamplingRate:   1.0,
	}
}

// NewTracerProvider creates and initializes the process's tracer
// provider, exporting via OTLP/HTTP.
func NewTracerProvider(ctx context.Context, config *Config) (*TracerProvider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			attribute.String("environment", config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(config.CollectorURL),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(config.SamplingRate)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{provider: tp}, nil
}

// Shutdown gracefully flushes and stops the tracer provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return tp.provider.Shutdown(shutdownCtx)
}

// GetTracer returns a tracer with the given name.
func GetTracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// StartSpan starts a new span with the given name and options.
func StartSpan(ctx context.Context, tracerName, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	tracer := GetTracer(tracerName)
	return tracer.Start(ctx, spanName, opts...)
}

// AddEvent adds an event to the current span.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

// RecordError records an error on the current span.
func RecordError(ctx context.Context, err error, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err, trace.WithAttributes(attrs...))
	}
}

// SetSpanStatus sets the status of the current span.
func SetSpanStatus(ctx context.Context, code codes.Code, description string) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetStatus(code, description)
	}
}

// Common attribute keys, generalized from the teacher's Temporal/agent
// keys to the cell engine's own cellId/runId/step vocabulary.
const (
	AttrCellID      = attribute.Key("hive.cell_id")
	AttrRunID       = attribute.Key("hive.run_id")
	AttrStep        = attribute.Key("hive.step")
	AttrWorkflow    = attribute.Key("hive.workflow")
	AttrServiceID   = attribute.Key("hive.service_id")
	AttrServiceName = attribute.Key("hive.service_name")

	AttrSessionID = attribute.Key("opencode.session_id")
	AttrModel     = attribute.Key("opencode.model")
	AttrProvider  = attribute.Key("opencode.provider")

	AttrError        = attribute.Key("error")
	AttrErrorMessage = attribute.Key("error.message")
	AttrDuration     = attribute.Key("duration_ms")
	AttrSuccess      = attribute.Key("success")
)

// CellAttrs creates attributes for a provisioning/deletion phase.
func CellAttrs(cellID, runID, step string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrCellID.String(cellID),
		AttrRunID.String(runID),
		AttrStep.String(step),
	}
}

// ServiceAttrs creates attributes for a service operation.
func ServiceAttrs(serviceID, serviceName string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrServiceID.String(serviceID),
		AttrServiceName.String(serviceName),
	}
}

// OpenCodeAttrs creates attributes for an agent-runtime operation.
func OpenCodeAttrs(sessionID, model, provider string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{AttrSessionID.String(sessionID)}
	if model != "" {
		attrs = append(attrs, AttrModel.String(model))
	}
	if provider != "" {
		attrs = append(attrs, AttrProvider.String(provider))
	}
	return attrs
}

// ErrorAttrs creates attributes for a recorded error.
func ErrorAttrs(err error) []attribute.KeyValue {
	if err == nil {
		return []attribute.KeyValue{}
	}
	return []attribute.KeyValue{
		AttrError.Bool(true),
		AttrErrorMessage.String(err.Error()),
	}
}

// DurationAttrs creates a duration attribute in milliseconds.
func DurationAttrs(d time.Duration) []attribute.KeyValue {
	return []attribute.KeyValue{AttrDuration.Int64(d.Milliseconds())}
}
