package shared

import (
	"context"
	"encoding/json"

	"github.com/sudocode/controlplane/internal/agentctl/types/streams"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName      = "controlplane-agentctl"
	maxAttrValueLen = 8192 // 8KB truncation for span event payloads
)

// Tracer returns the package-level tracer for agent protocol tracing. It
// defers to whatever TracerProvider the process registered globally (a
// no-op provider, and so a no-op tracer, when none was); debug mode only
// gates the separate raw/normalized JSONL logging in debug.go.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// ShutdownTracing is a no-op placeholder for callers that flush tracing on
// exit; this package does not own a TracerProvider to shut down.
func ShutdownTracing(ctx context.Context) error {
	return nil
}

// TraceProtocolEvent creates a single span for a received protocol notification.
// Two events are attached: "raw" with the original protocol JSON and "normalized"
// with the serialized AgentEvent, allowing side-by-side comparison in Jaeger/Tempo.
func TraceProtocolEvent(
	ctx context.Context,
	protocol, agentID string,
	eventType string,
	rawData json.RawMessage,
	normalized *streams.AgentEvent,
) {
	tracer := Tracer()
	spanName := protocol + "." + eventType

	_, span := tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	span.SetAttributes(
		attribute.String("protocol", protocol),
		attribute.String("agent_id", agentID),
		attribute.String("event_type", eventType),
	)

	if normalized != nil {
		span.SetAttributes(attribute.String("session_id", normalized.SessionID))
	}

	// Attach raw protocol JSON as an event
	if len(rawData) > 0 {
		span.AddEvent("raw", trace.WithAttributes(
			attribute.String("data", truncate(string(rawData), maxAttrValueLen)),
		))
	}

	// Attach normalized AgentEvent as an event
	if normalized != nil {
		if normJSON, err := json.Marshal(normalized); err == nil {
			span.AddEvent("normalized", trace.WithAttributes(
				attribute.String("data", truncate(string(normJSON), maxAttrValueLen)),
			))
		}
	} else {
		span.AddEvent("normalized", trace.WithAttributes(
			attribute.Bool("conversion_failed", true),
		))
	}
}

// TraceProtocolRequest starts a span for an outgoing protocol request.
// The caller must call span.End() when the request completes, and may add
// attributes to record response data.
func TraceProtocolRequest(
	ctx context.Context,
	protocol, agentID, name string,
) (context.Context, trace.Span) {
	tracer := Tracer()
	spanName := protocol + "." + name

	ctx, span := tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("protocol", protocol),
		attribute.String("agent_id", agentID),
	)

	return ctx, span
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "...(truncated)"
}
