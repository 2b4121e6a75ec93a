package tracing

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const transportTracerName = "acp-gateway/transport"

func transportTracer() trace.Tracer {
	return Tracer(transportTracerName)
}

// TraceRequest starts a span for an outbound JSON-RPC request sent to the
// agent subprocess over the ACP transport. Caller must call span.End() once
// the response (or timeout) is observed.
func TraceRequest(ctx context.Context, method string, id uint64, sessionID string) (context.Context, trace.Span) {
	ctx, span := transportTracer().Start(ctx, "acp.request."+method,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("acp.method", method),
		attribute.Int64("acp.request_id", int64(id)),
		attribute.String("session_id", sessionID),
	)
	return ctx, span
}

// TraceRequestResult records the outcome of an outbound request on its span.
func TraceRequestResult(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// TraceNotification creates a single span for an inbound or outbound
// JSON-RPC notification exchanged with the agent subprocess (session/update,
// session/cancel, and similar fire-and-forget methods).
func TraceNotification(ctx context.Context, method, sessionID string, params json.RawMessage) {
	_, span := transportTracer().Start(ctx, "acp.notification."+method,
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("acp.method", method),
		attribute.String("session_id", sessionID),
	)

	if len(params) > 0 {
		data := string(params)
		if len(data) > maxEventDataLen {
			data = data[:maxEventDataLen] + "...(truncated)"
		}
		span.AddEvent("params", trace.WithAttributes(attribute.String("data", data)))
	}
}

const maxEventDataLen = 8192

// TraceWSRoundtrip starts a span for a client-facing JSON-RPC request
// received over the gateway WebSocket. Caller must call span.End() after the
// response is written back to the client.
func TraceWSRoundtrip(ctx context.Context, method string, id interface{}, clientID string) (context.Context, trace.Span) {
	ctx, span := transportTracer().Start(ctx, "ws."+method,
		trace.WithSpanKind(trace.SpanKindServer),
	)
	span.SetAttributes(
		attribute.String("ws.method", method),
		attribute.String("ws.id", idToString(id)),
		attribute.String("client_id", clientID),
	)
	return ctx, span
}

// TraceWSResult records the outcome of a WebSocket round-trip on its span.
func TraceWSResult(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func idToString(id interface{}) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
