package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Ledger semantic convention attributes.
var (
	AttrTenantID  = attribute.Key("veriledger.tenant.id")
	AttrAssetID   = attribute.Key("veriledger.asset.id")
	AttrEventType = attribute.Key("veriledger.event.type")
	AttrVersion   = attribute.Key("veriledger.event.version")
	AttrReplayed  = attribute.Key("veriledger.append.replayed")

	AttrEmitterClass = attribute.Key("veriledger.emitter.class")
	AttrFaultKind    = attribute.Key("veriledger.fault.kind")

	AttrOutboxStream    = attribute.Key("veriledger.outbox.stream")
	AttrEvidenceBackend = attribute.Key("veriledger.evidence.backend")

	AttrHTTPRoute  = attribute.Key("http.route")
	AttrHTTPMethod = attribute.Key("http.request.method")
	AttrHTTPStatus = attribute.Key("http.response.status_code")
)

// AppendOperation creates attributes for a ledger append.
func AppendOperation(tenantID, assetID, eventType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTenantID.String(tenantID),
		AttrAssetID.String(assetID),
		AttrEventType.String(eventType),
	}
}

// AppendAccepted creates attributes for a committed or replayed append.
func AppendAccepted(eventType string, version int64, replayed bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEventType.String(eventType),
		AttrVersion.Int64(version),
		AttrReplayed.Bool(replayed),
	}
}

// DispatchOperation creates attributes for outbox delivery.
func DispatchOperation(stream string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrOutboxStream.String(stream),
	}
}

// HTTPOperation creates attributes for an HTTP request.
func HTTPOperation(method, route string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrHTTPMethod.String(method),
		AttrHTTPRoute.String(route),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus records an error on the current span when err is non-nil.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
