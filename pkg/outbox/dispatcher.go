// Package outbox delivers committed ledger events downstream. The append
// transaction leaves one row per event; the dispatcher polls for undelivered
// rows and publishes them in creation order. Delivery is at-least-once;
// consumers dedupe on event_id.
package outbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/veriledger/veriledger/pkg/observability"
	"github.com/veriledger/veriledger/pkg/store"
)

// Publisher delivers one outbox row downstream.
type Publisher interface {
	Publish(ctx context.Context, row store.OutboxRow) error
}

const (
	defaultInterval  = 500 * time.Millisecond
	defaultBatchSize = 100
)

// Dispatcher drains the outbox on a fixed polling interval.
type Dispatcher struct {
	store     store.Store
	publisher Publisher
	logger    *slog.Logger
	telemetry *observability.Provider
	interval  time.Duration
	batchSize int
}

// NewDispatcher wires a dispatcher with default polling settings.
func NewDispatcher(st store.Store, pub Publisher, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:     st,
		publisher: pub,
		logger:    logger,
		interval:  defaultInterval,
		batchSize: defaultBatchSize,
	}
}

// WithInterval overrides the polling interval.
func (d *Dispatcher) WithInterval(interval time.Duration) *Dispatcher {
	d.interval = interval
	return d
}

// WithBatchSize overrides the per-poll row limit.
func (d *Dispatcher) WithBatchSize(n int) *Dispatcher {
	d.batchSize = n
	return d
}

// WithTelemetry records dispatch counts on the given provider.
func (d *Dispatcher) WithTelemetry(p *observability.Provider) *Dispatcher {
	d.telemetry = p
	return d
}

// Run polls until the context is canceled. A drain failure is logged and
// retried on the next tick; cancellation returns nil.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if _, err := d.DispatchPending(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.ErrorContext(ctx, "outbox dispatch failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// DispatchPending publishes one batch of undelivered rows and returns how
// many were delivered. It stops at the first publish failure so the backend
// gets a quiet interval before the retry; already-delivered rows stay
// delivered.
func (d *Dispatcher) DispatchPending(ctx context.Context) (int, error) {
	rows, err := d.store.PendingOutbox(ctx, d.batchSize)
	if err != nil {
		return 0, err
	}

	delivered := 0
	defer func() {
		if d.telemetry != nil {
			d.telemetry.RecordDispatched(ctx, delivered)
		}
	}()

	for _, row := range rows {
		if err := d.publisher.Publish(ctx, row); err != nil {
			return delivered, err
		}
		if err := d.store.MarkDelivered(ctx, row.OutboxID); err != nil {
			// The publish went out; the row will re-publish next poll.
			d.logger.WarnContext(ctx, "outbox row published but not marked",
				"outbox_id", row.OutboxID, "error", err)
			return delivered, err
		}
		delivered++
		d.logger.DebugContext(ctx, "outbox row delivered",
			"outbox_id", row.OutboxID, "topic", row.Topic, "tenant_id", row.TenantID)
	}
	return delivered, nil
}
