package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/veriledger/veriledger/pkg/canonical"
	"github.com/veriledger/veriledger/pkg/contracts"
	"github.com/veriledger/veriledger/pkg/store"
	"github.com/veriledger/veriledger/pkg/validate"
)

// AppendRequest is one append attempt against an asset chain. TenantID,
// Role, and EmitterID bind from the authenticated principal only; Body is
// the decoded client submission; IfMatchVersion is the already-parsed
// optimistic-concurrency precondition.
type AppendRequest struct {
	TenantID       string
	AssetID        string
	Role           string
	EmitterID      string
	Body           map[string]any
	IfMatchVersion int64
	IdempotencyKey string
}

// AppendResult carries the signed envelope and the exact response bytes the
// API returns. Response is the canonical encoding of the envelope; on an
// idempotent replay it is the stored bytes of the original append, untouched.
type AppendResult struct {
	Envelope *contracts.Envelope
	Response []byte
	// Replayed reports whether the result came from the idempotency store
	// rather than a fresh append.
	Replayed bool
}

// Coordinator drives appends end to end: policy gate, idempotency check,
// per-asset serialization, version precondition, envelope build, and the
// atomic persistence of event, idempotency record, and outbox row.
//
// The coordinator never retries; callers may resubmit with the same
// idempotency key after retryable failures.
type Coordinator struct {
	store   store.Store
	gate    *validate.Gate
	builder *Builder
	logger  *slog.Logger
}

// NewCoordinator wires a coordinator over the storage port, policy gate, and
// envelope builder.
func NewCoordinator(st store.Store, gate *validate.Gate, builder *Builder, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{store: st, gate: gate, builder: builder, logger: logger}
}

// Append runs one append attempt. Validation faults surface before any
// transaction opens; every in-transaction failure rolls back.
func (c *Coordinator) Append(ctx context.Context, req AppendRequest) (*AppendResult, error) {
	if req.IdempotencyKey == "" {
		return nil, contracts.NewFault(contracts.BadRequest, "Idempotency-Key is required")
	}
	if req.IfMatchVersion < 0 {
		return nil, contracts.NewFault(contracts.BadRequest, "If-Match version must not be negative")
	}

	sub, err := validate.Screen(req.Body)
	if err != nil {
		return nil, err
	}
	class, entry, err := c.gate.Check(req.Role, sub)
	if err != nil {
		return nil, err
	}
	fingerprint, err := Fingerprint(req.AssetID, req.Body)
	if err != nil {
		return nil, err
	}

	tx, err := c.store.Begin(ctx)
	if err != nil {
		return nil, classify(err, "open transaction")
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				c.logger.ErrorContext(ctx, "append rollback failed",
					"tenant_id", req.TenantID, "asset_id", req.AssetID, "error", rbErr)
			}
		}
	}()

	existing, err := tx.ReadIdempotency(ctx, req.TenantID, req.IdempotencyKey)
	if err != nil {
		return nil, classify(err, "read idempotency")
	}
	if existing != nil {
		if existing.Fingerprint != fingerprint {
			return nil, contracts.Faultf(contracts.IdempotencyMismatch,
				"idempotency key %q was used with a different request", req.IdempotencyKey)
		}
		if err := tx.Commit(); err != nil {
			return nil, classify(err, "commit replay")
		}
		committed = true
		env, err := decodeEnvelope(existing.Response)
		if err != nil {
			return nil, contracts.WrapFault(contracts.StorageError, "stored response is corrupt", err)
		}
		c.logger.DebugContext(ctx, "idempotent replay",
			"tenant_id", req.TenantID, "asset_id", req.AssetID, "event_id", env.EventID)
		return &AppendResult{Envelope: env, Response: existing.Response, Replayed: true}, nil
	}

	tip, err := tx.ReadAssetTip(ctx, req.TenantID, req.AssetID)
	if err != nil {
		return nil, classify(err, "read asset tip")
	}
	currentVersion := int64(0)
	prevHash := contracts.GenesisHash
	if tip != nil {
		currentVersion = tip.Version
		prevHash = tip.EventHash
	}

	// The precondition check runs only after ReadAssetTip has acquired the
	// per-asset serialization, so the version it sees cannot move before
	// commit.
	if currentVersion != req.IfMatchVersion {
		return nil, contracts.Faultf(contracts.PreconditionFailed,
			"expected version %d, current version is %d", req.IfMatchVersion, currentVersion)
	}

	env, err := c.builder.Build(BuildInput{
		AssetID:          req.AssetID,
		EventType:        sub.EventType,
		EmitterClass:     class,
		EmitterID:        req.EmitterID,
		AggregateVersion: currentVersion + 1,
		PrevEventHash:    prevHash,
		Evidence:         sub.Evidence,
		Payload:          sub.Payload,
	})
	if err != nil {
		return nil, err
	}

	row, err := rowFromEnvelope(env, req.TenantID, entry.EvidencePolicy)
	if err != nil {
		return nil, err
	}
	if err := tx.InsertEvent(ctx, row); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			// A peer committed the same version despite the tip lock; the
			// client-visible outcome matches the precondition check.
			return nil, contracts.WrapFault(contracts.PreconditionFailed,
				"a concurrent append won this version", err)
		}
		return nil, classify(err, "insert event")
	}

	response, err := canonical.Bytes(env)
	if err != nil {
		return nil, err
	}
	if err := tx.InsertIdempotency(ctx, &store.IdempotencyRecord{
		TenantID:    req.TenantID,
		Key:         req.IdempotencyKey,
		Fingerprint: fingerprint,
		Response:    response,
	}); err != nil {
		if errors.Is(err, store.ErrIdempotencyConflict) {
			return nil, contracts.WrapFault(contracts.IdempotencyMismatch,
				"idempotency key was claimed concurrently", err)
		}
		return nil, classify(err, "insert idempotency")
	}

	mintedAt, err := time.Parse(TimestampLayout, env.Timestamp)
	if err != nil {
		return nil, contracts.WrapFault(contracts.EncodingError, "minted timestamp is malformed", err)
	}
	if err := tx.InsertOutbox(ctx, &store.OutboxRow{
		OutboxID:  uuid.NewString(),
		TenantID:  req.TenantID,
		Topic:     env.EventType,
		Payload:   response,
		CreatedAt: mintedAt,
	}); err != nil {
		return nil, classify(err, "insert outbox")
	}

	if err := tx.Commit(); err != nil {
		return nil, classify(err, "commit")
	}
	committed = true

	c.logger.InfoContext(ctx, "event appended",
		"tenant_id", req.TenantID,
		"asset_id", req.AssetID,
		"event_id", env.EventID,
		"event_type", env.EventType,
		"aggregate_version", env.AggregateVersion,
	)
	return &AppendResult{Envelope: env, Response: response}, nil
}

// rowFromEnvelope flattens the envelope into its persisted column form,
// stamping the registry policy and the derived evidence columns.
func rowFromEnvelope(env *contracts.Envelope, tenantID string, policy contracts.EvidencePolicy) (*store.EventRow, error) {
	evidenceJSON, err := canonical.Bytes(env.Evidence)
	if err != nil {
		return nil, err
	}
	payloadJSON, err := canonical.Bytes(env.Payload)
	if err != nil {
		return nil, err
	}

	row := &store.EventRow{
		EventID:          env.EventID,
		TenantID:         tenantID,
		AssetID:          env.AssetID,
		AggregateVersion: env.AggregateVersion,
		EventType:        env.EventType,
		EmitterClass:     string(env.EmitterClass),
		EmitterID:        env.EmitterID,
		Timestamp:        env.Timestamp,
		EvidencePolicy:   string(policy),
		EvidenceJSON:     evidenceJSON,
		PayloadJSON:      payloadJSON,
		PrevEventHash:    env.PrevEventHash,
		EventHash:        env.EventHash,
		Signature:        env.Signature,
	}
	if h, ok := env.EvidenceHash(); ok {
		row.EvidenceHash = &h
	}
	if r, ok := env.WaiverReason(); ok {
		row.WaiverReason = &r
	}
	return row, nil
}

func decodeEnvelope(data []byte) (*contracts.Envelope, error) {
	var env contracts.Envelope
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return nil, err
	}
	return &env, nil
}

// classify maps raw storage failures onto the fault taxonomy: context expiry
// is a retryable Timeout, anything else an unclassified StorageError.
func classify(err error, op string) error {
	if _, ok := contracts.KindOf(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return contracts.WrapFault(contracts.Timeout, op+" timed out", err)
	}
	return contracts.WrapFault(contracts.StorageError, op+" failed", err)
}
