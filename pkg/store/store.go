// Package store persists the event chain: the transactional port the append
// coordinator drives, plus Postgres, SQLite, and in-memory adapters.
//
// Port contract: ReadAssetTip acquires the per-asset serialization for the
// life of the transaction, inserts surface constraint conflicts as the typed
// sentinel errors, and nothing becomes visible to other writers until
// Commit.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/veriledger/veriledger/pkg/contracts"
)

// Sentinel errors the coordinator classifies.
var (
	// ErrVersionConflict reports that (tenant_id, asset_id,
	// aggregate_version) or event_id already exists.
	ErrVersionConflict = errors.New("event version already exists")
	// ErrIdempotencyConflict reports that (tenant_id, idempotency_key)
	// already exists.
	ErrIdempotencyConflict = errors.New("idempotency key already exists")
)

// EventRow is the persisted envelope in column form. Timestamp and the two
// JSON documents keep their exact minted bytes so hashes recompute from
// storage.
type EventRow struct {
	EventID          string
	TenantID         string
	AssetID          string
	AggregateVersion int64
	EventType        string
	EmitterClass     string
	EmitterID        string
	Timestamp        string
	EvidencePolicy   string
	EvidenceHash     *string
	WaiverReason     *string
	EvidenceJSON     []byte
	PayloadJSON      []byte
	PrevEventHash    string
	EventHash        string
	Signature        string
}

// ToEnvelope rebuilds the wire envelope from the row. The JSON documents
// decode through json.Number so re-encoding stays byte-stable.
func (r *EventRow) ToEnvelope() (*contracts.Envelope, error) {
	evidence, err := decodeObject(r.EvidenceJSON)
	if err != nil {
		return nil, fmt.Errorf("event %s: corrupt evidence document: %w", r.EventID, err)
	}
	payload, err := decodeObject(r.PayloadJSON)
	if err != nil {
		return nil, fmt.Errorf("event %s: corrupt payload document: %w", r.EventID, err)
	}

	return &contracts.Envelope{
		EventID:          r.EventID,
		EventType:        r.EventType,
		AssetID:          r.AssetID,
		AggregateVersion: r.AggregateVersion,
		EmitterClass:     contracts.EmitterClass(r.EmitterClass),
		EmitterID:        r.EmitterID,
		Timestamp:        r.Timestamp,
		Evidence:         evidence,
		Payload:          payload,
		PrevEventHash:    r.PrevEventHash,
		EventHash:        r.EventHash,
		Signature:        r.Signature,
	}, nil
}

func decodeObject(doc []byte) (map[string]any, error) {
	var m map[string]any
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

// Tip is the chain head of one asset.
type Tip struct {
	Version   int64
	EventHash string
}

// IdempotencyRecord maps (tenant, key) to the fingerprint and stored
// response of the append that created it.
type IdempotencyRecord struct {
	TenantID    string
	Key         string
	Fingerprint string
	Response    []byte
}

// OutboxRow is one pending downstream notification. Topic carries the
// event_type verbatim; Payload is the full signed envelope.
type OutboxRow struct {
	OutboxID    string
	TenantID    string
	Topic       string
	Payload     []byte
	CreatedAt   time.Time
	DeliveredAt *time.Time
}

// Tx is a single append transaction.
type Tx interface {
	// ReadIdempotency returns the record for (tenantID, key), or nil when
	// absent. An existing row is locked against concurrent writers until
	// commit.
	ReadIdempotency(ctx context.Context, tenantID, key string) (*IdempotencyRecord, error)
	// ReadAssetTip returns the highest-version event of the asset, or nil
	// for an unseen asset. It acquires the per-asset serialization that
	// holds until commit or rollback.
	ReadAssetTip(ctx context.Context, tenantID, assetID string) (*Tip, error)
	// InsertEvent persists the envelope row. Duplicate version or event_id
	// surfaces ErrVersionConflict.
	InsertEvent(ctx context.Context, row *EventRow) error
	// InsertIdempotency persists the record. A duplicate key surfaces
	// ErrIdempotencyConflict.
	InsertIdempotency(ctx context.Context, rec *IdempotencyRecord) error
	InsertOutbox(ctx context.Context, row *OutboxRow) error
	Commit() error
	Rollback() error
}

// Store opens append transactions and serves the chain and outbox reads.
type Store interface {
	// Init applies the schema. Idempotent.
	Init(ctx context.Context) error
	// Ping verifies the backing storage is reachable.
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (Tx, error)
	// ListEvents returns the asset's events in version order.
	ListEvents(ctx context.Context, tenantID, assetID string) ([]EventRow, error)
	// ReadTip returns the asset tip outside any transaction, or nil.
	ReadTip(ctx context.Context, tenantID, assetID string) (*Tip, error)
	// PendingOutbox returns up to limit undelivered rows, oldest first.
	PendingOutbox(ctx context.Context, limit int) ([]OutboxRow, error)
	// MarkDelivered stamps an outbox row as published.
	MarkDelivered(ctx context.Context, outboxID string) error
	Close() error
}
