package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// pgSchema keeps the minted timestamp and both JSON documents as TEXT so the
// stored bytes recompute to the stored hashes. The composite uniqueness on
// (tenant_id, asset_id, aggregate_version) is the last line of defense for
// version ordering.
const pgSchema = `
CREATE TABLE IF NOT EXISTS ledger_events (
	event_id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	asset_id TEXT NOT NULL,
	aggregate_version BIGINT NOT NULL,
	event_type TEXT NOT NULL,
	emitter_class TEXT NOT NULL,
	emitter_id TEXT NOT NULL,
	ts TEXT NOT NULL,
	evidence_policy TEXT NOT NULL,
	evidence_hash TEXT,
	waiver_reason TEXT,
	evidence_json TEXT NOT NULL,
	payload_json TEXT NOT NULL,
	prev_event_hash TEXT NOT NULL,
	event_hash TEXT NOT NULL,
	signature TEXT NOT NULL,
	UNIQUE (tenant_id, asset_id, aggregate_version)
);

CREATE TABLE IF NOT EXISTS idempotency_keys (
	tenant_id TEXT NOT NULL,
	idempotency_key TEXT NOT NULL,
	request_fingerprint TEXT NOT NULL,
	stored_response TEXT NOT NULL,
	PRIMARY KEY (tenant_id, idempotency_key)
);

CREATE TABLE IF NOT EXISTS outbox (
	outbox_id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	topic TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	delivered_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS outbox_pending_idx ON outbox (created_at) WHERE delivered_at IS NULL;
`

// PostgresStore implements Store over lib/pq. Per-asset serialization uses
// transaction-scoped advisory locks, released automatically at commit or
// rollback.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an opened database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres opens a lib/pq handle for the DSN. The connection is lazy;
// call Ping or Init to verify it.
func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	return NewPostgresStore(db), nil
}

func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, pgSchema)
	return err
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx}, nil
}

const pgEventColumns = `event_id, tenant_id, asset_id, aggregate_version, event_type, emitter_class,
	emitter_id, ts, evidence_policy, evidence_hash, waiver_reason,
	evidence_json, payload_json, prev_event_hash, event_hash, signature`

func (s *PostgresStore) ListEvents(ctx context.Context, tenantID, assetID string) ([]EventRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pgEventColumns+` FROM ledger_events
		 WHERE tenant_id = $1 AND asset_id = $2
		 ORDER BY aggregate_version ASC`, tenantID, assetID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]EventRow, 0)
	for rows.Next() {
		row, err := scanEventRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresStore) ReadTip(ctx context.Context, tenantID, assetID string) (*Tip, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT aggregate_version, event_hash FROM ledger_events
		 WHERE tenant_id = $1 AND asset_id = $2
		 ORDER BY aggregate_version DESC LIMIT 1`, tenantID, assetID)
	return scanTip(row)
}

func (s *PostgresStore) PendingOutbox(ctx context.Context, limit int) ([]OutboxRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT outbox_id, tenant_id, topic, payload, created_at, delivered_at FROM outbox
		 WHERE delivered_at IS NULL
		 ORDER BY created_at ASC, outbox_id ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]OutboxRow, 0)
	for rows.Next() {
		var (
			row       OutboxRow
			payload   string
			delivered sql.NullTime
		)
		if err := rows.Scan(&row.OutboxID, &row.TenantID, &row.Topic, &payload, &row.CreatedAt, &delivered); err != nil {
			return nil, err
		}
		row.Payload = []byte(payload)
		if delivered.Valid {
			t := delivered.Time
			row.DeliveredAt = &t
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresStore) MarkDelivered(ctx context.Context, outboxID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET delivered_at = NOW() WHERE outbox_id = $1`, outboxID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) ReadIdempotency(ctx context.Context, tenantID, key string) (*IdempotencyRecord, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT request_fingerprint, stored_response FROM idempotency_keys
		 WHERE tenant_id = $1 AND idempotency_key = $2
		 FOR UPDATE`, tenantID, key)

	rec := IdempotencyRecord{TenantID: tenantID, Key: key}
	var response string
	if err := row.Scan(&rec.Fingerprint, &response); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rec.Response = []byte(response)
	return &rec, nil
}

func (t *pgTx) ReadAssetTip(ctx context.Context, tenantID, assetID string) (*Tip, error) {
	// hashtext folds the pair into the advisory key space; the lock holds
	// until this transaction ends.
	if _, err := t.tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1), hashtext($2))`, tenantID, assetID); err != nil {
		return nil, err
	}
	row := t.tx.QueryRowContext(ctx,
		`SELECT aggregate_version, event_hash FROM ledger_events
		 WHERE tenant_id = $1 AND asset_id = $2
		 ORDER BY aggregate_version DESC LIMIT 1`, tenantID, assetID)
	return scanTip(row)
}

func (t *pgTx) InsertEvent(ctx context.Context, row *EventRow) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO ledger_events (`+pgEventColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		row.EventID, row.TenantID, row.AssetID, row.AggregateVersion, row.EventType, row.EmitterClass,
		row.EmitterID, row.Timestamp, row.EvidencePolicy, row.EvidenceHash, row.WaiverReason,
		string(row.EvidenceJSON), string(row.PayloadJSON), row.PrevEventHash, row.EventHash, row.Signature,
	)
	if isPgUniqueViolation(err) {
		return ErrVersionConflict
	}
	return err
}

func (t *pgTx) InsertIdempotency(ctx context.Context, rec *IdempotencyRecord) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO idempotency_keys (tenant_id, idempotency_key, request_fingerprint, stored_response)
		 VALUES ($1, $2, $3, $4)`,
		rec.TenantID, rec.Key, rec.Fingerprint, string(rec.Response),
	)
	if isPgUniqueViolation(err) {
		return ErrIdempotencyConflict
	}
	return err
}

func (t *pgTx) InsertOutbox(ctx context.Context, row *OutboxRow) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO outbox (outbox_id, tenant_id, topic, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		row.OutboxID, row.TenantID, row.Topic, string(row.Payload), row.CreatedAt,
	)
	return err
}

func (t *pgTx) Commit() error   { return t.tx.Commit() }
func (t *pgTx) Rollback() error { return t.tx.Rollback() }

func scanTip(row *sql.Row) (*Tip, error) {
	var tip Tip
	if err := row.Scan(&tip.Version, &tip.EventHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &tip, nil
}

func scanEventRow(rows *sql.Rows) (EventRow, error) {
	var (
		row          EventRow
		evidenceHash sql.NullString
		waiverReason sql.NullString
		evidenceJSON string
		payloadJSON  string
	)
	err := rows.Scan(
		&row.EventID, &row.TenantID, &row.AssetID, &row.AggregateVersion, &row.EventType, &row.EmitterClass,
		&row.EmitterID, &row.Timestamp, &row.EvidencePolicy, &evidenceHash, &waiverReason,
		&evidenceJSON, &payloadJSON, &row.PrevEventHash, &row.EventHash, &row.Signature,
	)
	if err != nil {
		return EventRow{}, err
	}
	if evidenceHash.Valid {
		row.EvidenceHash = &evidenceHash.String
	}
	if waiverReason.Valid {
		row.WaiverReason = &waiverReason.String
	}
	row.EvidenceJSON = []byte(evidenceJSON)
	row.PayloadJSON = []byte(payloadJSON)
	return row, nil
}

// isPgUniqueViolation reports SQLSTATE 23505.
func isPgUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
