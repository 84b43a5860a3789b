// Package telemetry installs the OpenTelemetry tracer provider and
// propagators used by the node.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace"

	"github.com/Aidin1998/relayex/pkg/errors"
)

// Config selects the trace exporter. An empty Exporter leaves tracing off.
type Config struct {
	Exporter string `mapstructure:"exporter"`
	// Writer receives stdout spans; defaults to os.Stdout.
	Writer io.Writer `mapstructure:"-"`
}

// Setup installs the propagators and, when configured, a tracer provider.
// The returned function flushes and stops what Setup started.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	var shutdownFuncs []func(context.Context) error
	shutdown := func(ctx context.Context) error {
		var err error
		for _, fn := range shutdownFuncs {
			err = errors.Join(err, fn(ctx))
		}
		shutdownFuncs = nil
		return err
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	switch cfg.Exporter {
	case "":
		return shutdown, nil
	case "stdout":
		tp, err := newStdoutProvider(cfg.Writer)
		if err != nil {
			return shutdown, errors.Join(err, shutdown(ctx))
		}
		shutdownFuncs = append(shutdownFuncs, tp.Shutdown)
		otel.SetTracerProvider(tp)
		return shutdown, nil
	default:
		return shutdown, fmt.Errorf("trace exporter %q not supported", cfg.Exporter)
	}
}

func newStdoutProvider(w io.Writer) (*trace.TracerProvider, error) {
	if w == nil {
		w = os.Stdout
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, err
	}
	return trace.NewTracerProvider(
		trace.WithBatcher(exporter, trace.WithBatchTimeout(0)),
	), nil
}
