// Package tracing starts OpenTelemetry spans for produced and consumed records
// and carries trace context through record headers.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/cekafka/internal/runtime/metadata"
)

// TracerName identifies spans created by cekafka.
const TracerName = "github.com/drblury/cekafka"

// Attribute keys follow the OpenTelemetry messaging conventions.
const (
	AttrSystem      = "messaging.system"
	AttrDestination = "messaging.destination.name"
	AttrOperation   = "messaging.operation"
	AttrMessageID   = "messaging.message.id"
	AttrKey         = "messaging.kafka.message.key"
	AttrPartition   = "messaging.kafka.destination.partition"
	AttrOffset      = "messaging.kafka.message.offset"
	AttrGroup       = "messaging.kafka.consumer.group"
)

// InstallPropagator sets the global propagator to W3C trace context and
// baggage.
func InstallPropagator() {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}

func tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartSend starts the producer span of one record.
func StartSend(ctx context.Context, topic, key, eventID string) (context.Context, trace.Span) {
	return tracer().Start(ctx, topic+" publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String(AttrSystem, "kafka"),
			attribute.String(AttrDestination, topic),
			attribute.String(AttrOperation, "publish"),
			attribute.String(AttrKey, key),
			attribute.String(AttrMessageID, eventID),
		),
	)
}

// StartProcess starts the consumer span of one record, continuing the trace
// found in its headers.
func StartProcess(ctx context.Context, topic, group string, md metadata.Metadata) (context.Context, trace.Span) {
	ctx = Extract(ctx, md)
	return tracer().Start(ctx, topic+" process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String(AttrSystem, "kafka"),
			attribute.String(AttrDestination, topic),
			attribute.String(AttrOperation, "process"),
			attribute.String(AttrGroup, group),
			attribute.Int64(AttrPartition, int64(md.Partition())),
			attribute.Int64(AttrOffset, md.Offset()),
		),
	)
}

// Delivered annotates span with the record's final position.
func Delivered(span trace.Span, partition int32, offset int64) {
	span.SetAttributes(
		attribute.Int64(AttrPartition, int64(partition)),
		attribute.Int64(AttrOffset, offset),
	)
}

// Fail marks span as failed.
func Fail(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Inject writes the trace context of ctx into md.
func Inject(ctx context.Context, md metadata.Metadata) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(md))
}

// Extract returns ctx carrying the trace context found in md.
func Extract(ctx context.Context, md metadata.Metadata) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(md))
}
