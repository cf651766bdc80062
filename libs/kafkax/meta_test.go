package kafkax

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestExtractEventMetaFallsBackToKeyAndTopic(t *testing.T) {
	msg := kafka.Message{Topic: "identity.account.deleted.v1", Key: []byte("acct-1")}
	meta := ExtractEventMeta(msg)
	if meta.EventID != "acct-1" || meta.EventType != "identity.account.deleted.v1" {
		t.Fatalf("unexpected meta: %+v", meta)
	}
}

func TestSplitBrokersDropsBlanks(t *testing.T) {
	got := SplitBrokers(" a:9092, ,b:9092,\tc:9092")
	if len(got) != 3 || got[0] != "a:9092" || got[1] != "b:9092" || got[2] != "c:9092" {
		t.Fatalf("unexpected brokers: %v", got)
	}
}

func TestEventMetaHeadersRoundTrip(t *testing.T) {
	in := EventMeta{EventID: "evt-1", EventType: "booking.created.v1"}
	msg := kafka.Message{Topic: "other", Key: []byte("k"), Headers: in.Headers()}
	if got := ExtractEventMeta(msg); got != in {
		t.Fatalf("expected %+v, got %+v", in, got)
	}
	if n := len(EventMeta{EventID: "only"}.Headers()); n != 1 {
		t.Fatalf("expected empty type to be omitted, got %d headers", n)
	}
}

func TestReadyCheckWithoutBrokers(t *testing.T) {
	if err := ReadyCheck(nil, 0)(context.Background()); err == nil {
		t.Fatalf("expected error without brokers")
	}
}

func TestTraceHeadersRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	headers := InjectTraceHeaders(ctx, []kafka.Header{{Key: "event_id", Value: []byte("e1")}})
	if HeaderValue(headers, "traceparent") == "" {
		t.Fatalf("traceparent not injected: %+v", headers)
	}

	out := trace.SpanContextFromContext(ExtractTraceContext(context.Background(), kafka.Message{Headers: headers}))
	if out.TraceID() != traceID {
		t.Fatalf("expected trace %s, got %s", traceID, out.TraceID())
	}
}

func TestStartConsumerSpanContinuesProducerTrace(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled,
	}))
	msg := kafka.Message{Topic: "identity.account.deleted.v1", Headers: InjectTraceHeaders(ctx, nil)}

	spanCtx, span := StartConsumerSpan(context.Background(), msg)
	defer span.End()
	if got := trace.SpanContextFromContext(spanCtx).TraceID(); got != traceID {
		t.Fatalf("expected consumer span in trace %s, got %s", traceID, got)
	}
}
