// Package telemetry wires OpenTelemetry tracing and metrics for LLM calls,
// the way the teacher's internal/hooks_otel.go and internal/compact AI-call
// metrics do. Until Setup is called, Tracer and Meter use the otel global
// providers; Setup, called once at process start, installs stdout-backed
// SDK providers without touching call sites.
package telemetry

import (
	"context"
	"io"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

var (
	setupOnce     sync.Once
	tracerProvider trace.TracerProvider  = otel.GetTracerProvider()
	meterProvider  metric.MeterProvider = otel.GetMeterProvider()
)

// Setup installs stdout-backed trace and metric providers as the process
// defaults. Safe to call multiple times; only the first call takes effect.
// Passing a nil writer leaves both exporters writing to os.Stdout.
func Setup(w io.Writer) error {
	var setupErr error
	setupOnce.Do(func() {
		traceOpts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
		if w != nil {
			traceOpts = append(traceOpts, stdouttrace.WithWriter(w))
		}
		texp, err := stdouttrace.New(traceOpts...)
		if err != nil {
			setupErr = err
			return
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(texp))
		otel.SetTracerProvider(tp)
		tracerProvider = tp

		metricOpts := []stdoutmetric.Option{}
		if w != nil {
			metricOpts = append(metricOpts, stdoutmetric.WithWriter(w))
		}
		mexp, err := stdoutmetric.New(metricOpts...)
		if err != nil {
			setupErr = err
			return
		}
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(mexp)))
		otel.SetMeterProvider(mp)
		meterProvider = mp
	})
	return setupErr
}

// Tracer returns a named tracer from the active provider.
func Tracer(name string) trace.Tracer {
	return tracerProvider.Tracer(name)
}

// Meter returns a named meter from the active provider.
func Meter(name string) metric.Meter {
	return meterProvider.Meter(name)
}

// Shutdown flushes and releases SDK resources set up by Setup. Best-effort:
// callers that never called Setup get a no-op.
func Shutdown(ctx context.Context) error {
	if sp, ok := tracerProvider.(*sdktrace.TracerProvider); ok {
		return sp.Shutdown(ctx)
	}
	return nil
}
