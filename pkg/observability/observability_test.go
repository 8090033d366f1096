package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "veriledger", config.ServiceName)
	require.Equal(t, "development", config.Environment)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.True(t, config.Enabled)
	require.False(t, config.Insecure)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)

	// Accessors fall back to the global providers when disabled.
	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())
}

func TestRecordMetricsDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx := context.Background()

	// All record methods are no-ops when disabled; none may panic.
	p.RecordRequest(ctx, AttrTenantID.String("t1"))
	p.RecordError(ctx, errors.New("boom"), AttrTenantID.String("t1"))
	p.RecordDuration(ctx, 100*time.Millisecond)
	p.RecordAppend(ctx, AppendAccepted("ASSET_CREATED", 1, false)...)
	p.RecordFault(ctx, "CONCURRENCY_CONFLICT")
	p.RecordDispatched(ctx, 3, DispatchOperation("veriledger.events")...)
}

func TestTrackOperation(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, finish := p.TrackOperation(context.Background(), "ledger.append",
		attribute.String("test.key", "test.value"))
	require.NotNil(t, ctx)

	time.Sleep(time.Millisecond)
	finish(nil)
}

func TestTrackOperationWithError(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	_, finish := p.TrackOperation(context.Background(), "ledger.append")
	finish(errors.New("append rejected"))
}

func TestStartSpan(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, span := p.StartSpan(context.Background(), "verify.chain")
	require.NotNil(t, ctx)
	require.NotNil(t, span)
	span.End()
}

func TestShutdown(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))
}

func TestAppendOperation(t *testing.T) {
	attrs := AppendOperation("tenant-1", "asset-9", "ASSET_CALIBRATED")
	require.Len(t, attrs, 3)
	require.Equal(t, "veriledger.tenant.id", string(attrs[0].Key))
	require.Equal(t, "tenant-1", attrs[0].Value.AsString())
	require.Equal(t, "ASSET_CALIBRATED", attrs[2].Value.AsString())
}

func TestAppendAccepted(t *testing.T) {
	attrs := AppendAccepted("ASSET_CREATED", 4, true)
	require.Len(t, attrs, 3)
	require.Equal(t, int64(4), attrs[1].Value.AsInt64())
	require.True(t, attrs[2].Value.AsBool())
}

func TestHTTPOperation(t *testing.T) {
	attrs := HTTPOperation("POST", "/v1/assets/{asset_id}/events")
	require.Len(t, attrs, 2)
	require.Equal(t, "http.request.method", string(attrs[0].Key))
	require.Equal(t, "/v1/assets/{asset_id}/events", attrs[1].Value.AsString())
}

func TestSpanHelpers(t *testing.T) {
	ctx := context.Background()

	require.NotNil(t, SpanFromContext(ctx))
	AddSpanEvent(ctx, "chain.verified", attribute.Int("events", 12))
	SetSpanStatus(ctx, errors.New("broken linkage"))
	SetSpanStatus(ctx, nil)
}
