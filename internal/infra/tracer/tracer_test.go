package tracer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace/noop"

	"switchboard/internal/infra/config"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: false})
	require.NoError(t, err)
	defer shutdown(context.Background())

	_, ok := otel.GetTracerProvider().(noop.TracerProvider)
	assert.True(t, ok, "expected noop provider, got %T", otel.GetTracerProvider())
}

func TestSetupNoopAndEmpty(t *testing.T) {
	for _, exp := range []string{"noop", ""} {
		shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: exp})
		require.NoError(t, err)
		_, ok := otel.GetTracerProvider().(noop.TracerProvider)
		assert.True(t, ok, "exporter %q", exp)
		require.NoError(t, shutdown(context.Background()))
	}
}

func TestSetupStdout(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "stdout"})
	require.NoError(t, err)
	defer shutdown(context.Background())
}

func TestSetupOTLPRequiresEndpoint(t *testing.T) {
	_, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "otlp"})
	assert.Error(t, err)
}

func TestSetupOTLP(t *testing.T) {
	// Exporters connect lazily, so an unreachable endpoint still sets up.
	shutdown, err := Setup(context.Background(), config.TracerConfig{
		Enabled:  true,
		Exporter: "otlp",
		Endpoint: "127.0.0.1:4318",
		Insecure: true,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = shutdown(ctx)
	otel.SetTracerProvider(noop.NewTracerProvider())
}

func TestSetupUnsupportedExporter(t *testing.T) {
	_, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "invalid"})
	assert.Error(t, err)
}

func TestStartSpanAndHelpers(t *testing.T) {
	otel.SetTracerProvider(noop.NewTracerProvider())

	ctx, span := StartSpan(context.Background(), "test-span")
	assert.NotNil(t, ctx)

	SetOK(span)
	RecordError(span, errors.New("test error"))
	span.End()
}

func TestMeterCounter(t *testing.T) {
	counter, err := Meter("switchboard/test").Int64Counter("test.counter")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)
}

func TestAttrHelpers(t *testing.T) {
	assert.Equal(t, attribute.Key("key"), StringAttr("key", "value").Key)
	assert.Equal(t, int64(42), IntAttr("count", 42).Value.AsInt64())
	assert.InDelta(t, 0.75, Float64Attr("confidence", 0.75).Value.AsFloat64(), 1e-9)
	assert.True(t, BoolAttr("fallback", true).Value.AsBool())
}
