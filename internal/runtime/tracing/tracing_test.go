package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/cekafka/internal/runtime/metadata"
)

func remoteContext(t *testing.T) (context.Context, trace.SpanContext) {
	t.Helper()
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	return trace.ContextWithSpanContext(context.Background(), sc), sc
}

func TestInjectExtractRoundTrip(t *testing.T) {
	InstallPropagator()
	ctx, sc := remoteContext(t)

	md := metadata.Metadata{}
	Inject(ctx, md)
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", md["traceparent"])

	got := trace.SpanContextFromContext(Extract(context.Background(), md))
	assert.Equal(t, sc.TraceID(), got.TraceID())
	assert.Equal(t, sc.SpanID(), got.SpanID())
	assert.True(t, got.IsRemote())
}

func TestExtractWithoutHeaders(t *testing.T) {
	InstallPropagator()
	got := trace.SpanContextFromContext(Extract(context.Background(), metadata.Metadata{}))
	assert.False(t, got.IsValid())
}

func TestStartProcessContinuesTrace(t *testing.T) {
	InstallPropagator()
	ctx, sc := remoteContext(t)
	md := metadata.New(metadata.KeyPartition, "2", metadata.KeyOffset, "7")
	Inject(ctx, md)

	spanCtx, span := StartProcess(context.Background(), "customers", "group", md)
	defer span.End()

	// Without an SDK the span is non-recording but keeps the parent's trace.
	assert.Equal(t, sc.TraceID(), trace.SpanContextFromContext(spanCtx).TraceID())
}

func TestSpanHelpersOnNoopSpan(t *testing.T) {
	_, span := StartSend(context.Background(), "customers", "heinz57/42", "evt-1")
	Delivered(span, 1, 10)
	Fail(span, errors.New("boom"))
	Fail(span, nil)
	span.End()
	assert.False(t, span.IsRecording())
}
