package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestStdoutExporterWritesSpans(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	shutdown, err := Setup(ctx, Config{Exporter: "stdout", Writer: &buf})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(ctx, "settle")
	span.End()
	require.NoError(t, shutdown(ctx))

	assert.Contains(t, buf.String(), `"Name":"settle"`)
}

func TestDisabledAndUnknownExporters(t *testing.T) {
	ctx := context.Background()
	shutdown, err := Setup(ctx, Config{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(ctx))

	_, err = Setup(ctx, Config{Exporter: "jaeger"})
	assert.Error(t, err)
}
