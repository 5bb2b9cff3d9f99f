package sqldest

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Tracer and Meter are obtained once and used package-wide. Both
// resolve against otel's global, delegating provider, which is a no-op
// until Init installs a real SDK provider — so every span/instrument
// created before Init still works, it just forwards nowhere until then.
var (
	tracer = otel.Tracer("github.com/nxsql/sqldest")
	meter  = otel.Meter("github.com/nxsql/sqldest")
)

var initOnce sync.Once

// Init installs stdout-exporting trace and metric providers as the
// process-wide OTel default. It is a one-shot: subsequent calls are a
// no-op, so a host embedding multiple destinations only needs to call
// it once regardless of how many it constructs. Hosts that already run
// their own OTel SDK setup should skip calling Init and let the
// package's instruments forward to whatever global provider is already
// installed.
func Init(ctx context.Context) (shutdown func(context.Context) error, err error) {
	var shutdownFuncs []func(context.Context) error
	var initErr error

	initOnce.Do(func() {
		traceExp, e := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if e != nil {
			initErr = fmt.Errorf("sqldest: creating trace exporter: %w", e)
			return
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp))
		otel.SetTracerProvider(tp)
		shutdownFuncs = append(shutdownFuncs, tp.Shutdown)

		metricExp, e := stdoutmetric.New()
		if e != nil {
			initErr = fmt.Errorf("sqldest: creating metric exporter: %w", e)
			return
		}
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)))
		otel.SetMeterProvider(mp)
		shutdownFuncs = append(shutdownFuncs, mp.Shutdown)
	})

	if initErr != nil {
		return nil, initErr
	}
	return func(ctx context.Context) error {
		var firstErr error
		for _, fn := range shutdownFuncs {
			if err := fn(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}, nil
}
