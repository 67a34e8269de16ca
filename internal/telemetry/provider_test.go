package telemetry_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/i2y/nlquery/internal/telemetry"
)

func TestInitProvider_DisabledWithoutEndpoint(t *testing.T) {
	before := otel.GetTracerProvider()

	shutdown, err := telemetry.InitProvider(context.Background(), telemetry.Config{ServiceName: "nlquery"}, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
	assert.Equal(t, before, otel.GetTracerProvider())
}

func TestInitProvider_InstallsSDKProvider(t *testing.T) {
	before := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(before) })

	// The gRPC connection is lazy, so no collector needs to be listening.
	shutdown, err := telemetry.InitProvider(context.Background(), telemetry.Config{
		ServiceName: "nlquery-test",
		Endpoint:    "127.0.0.1:4317",
		Insecure:    true,
	}, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	require.NoError(t, err)

	_, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = shutdown(ctx)
}
