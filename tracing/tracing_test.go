package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInit(t *testing.T) {
	t.Run("should export spans to the configured output", func(t *testing.T) {
		out := &bytes.Buffer{}
		shutdown, err := Init(context.Background(), Config{ServiceName: "recstore-test", UseStdout: true, Output: out})
		require.NoError(t, err)
		_, span := otel.Tracer("tracing_test").Start(context.Background(), "test.span")
		span.End()
		require.NoError(t, shutdown(context.Background()))
		require.Contains(t, out.String(), "test.span")
		require.Contains(t, out.String(), "recstore-test")
	})
	t.Run("should set up a provider without exporter", func(t *testing.T) {
		shutdown, err := Init(context.Background(), Config{})
		require.NoError(t, err)
		require.NoError(t, shutdown(context.Background()))
	})
}
