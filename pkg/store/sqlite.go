package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS ledger_events (
	event_id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	asset_id TEXT NOT NULL,
	aggregate_version INTEGER NOT NULL,
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
	created_at TEXT NOT NULL,
	delivered_at TEXT
);

CREATE INDEX IF NOT EXISTS outbox_pending_idx ON outbox (created_at) WHERE delivered_at IS NULL;
`

// SQLiteStore implements Store over modernc.org/sqlite. Transactions begin
// IMMEDIATE, so the database write lock stands in for the per-asset
// serialization: coarser than Postgres, same observable ordering.
type SQLiteStore struct {
	db    *sql.DB
	clock func() time.Time
}

// NewSQLiteStore wraps an opened database handle. The handle should carry
// _txlock=immediate; OpenSQLite sets that up.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, clock: time.Now}
}

// OpenSQLite opens the database file with WAL, a busy timeout, and immediate
// transactions. A single connection avoids writer starvation under the
// single-writer model.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return NewSQLiteStore(db), nil
}

// WithClock overrides the delivery timestamp source for testing.
func (s *SQLiteStore) WithClock(clock func() time.Time) *SQLiteStore {
	s.clock = clock
	return s
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteSchema)
	return err
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx}, nil
}

const sqliteEventColumns = `event_id, tenant_id, asset_id, aggregate_version, event_type, emitter_class,
	emitter_id, ts, evidence_policy, evidence_hash, waiver_reason,
	evidence_json, payload_json, prev_event_hash, event_hash, signature`

func (s *SQLiteStore) ListEvents(ctx context.Context, tenantID, assetID string) ([]EventRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteEventColumns+` FROM ledger_events
		 WHERE tenant_id = ? AND asset_id = ?
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

func (s *SQLiteStore) ReadTip(ctx context.Context, tenantID, assetID string) (*Tip, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT aggregate_version, event_hash FROM ledger_events
		 WHERE tenant_id = ? AND asset_id = ?
		 ORDER BY aggregate_version DESC LIMIT 1`, tenantID, assetID)
	return scanTip(row)
}

func (s *SQLiteStore) PendingOutbox(ctx context.Context, limit int) ([]OutboxRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT outbox_id, tenant_id, topic, payload, created_at, delivered_at FROM outbox
		 WHERE delivered_at IS NULL
		 ORDER BY created_at ASC, outbox_id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]OutboxRow, 0)
	for rows.Next() {
		var (
			row       OutboxRow
			payload   string
			created   string
			delivered sql.NullString
		)
		if err := rows.Scan(&row.OutboxID, &row.TenantID, &row.Topic, &payload, &created, &delivered); err != nil {
			return nil, err
		}
		row.Payload = []byte(payload)
		createdAt, err := parseStoredTime(created)
		if err != nil {
			return nil, fmt.Errorf("outbox %s: corrupt created_at: %w", row.OutboxID, err)
		}
		row.CreatedAt = createdAt
		if delivered.Valid && delivered.String != "" {
			t, err := parseStoredTime(delivered.String)
			if err != nil {
				return nil, fmt.Errorf("outbox %s: corrupt delivered_at: %w", row.OutboxID, err)
			}
			row.DeliveredAt = &t
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SQLiteStore) MarkDelivered(ctx context.Context, outboxID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET delivered_at = ? WHERE outbox_id = ?`,
		s.clock().UTC().Format(time.RFC3339Nano), outboxID)
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

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) ReadIdempotency(ctx context.Context, tenantID, key string) (*IdempotencyRecord, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT request_fingerprint, stored_response FROM idempotency_keys
		 WHERE tenant_id = ? AND idempotency_key = ?`, tenantID, key)

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

func (t *sqliteTx) ReadAssetTip(ctx context.Context, tenantID, assetID string) (*Tip, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT aggregate_version, event_hash FROM ledger_events
		 WHERE tenant_id = ? AND asset_id = ?
		 ORDER BY aggregate_version DESC LIMIT 1`, tenantID, assetID)
	return scanTip(row)
}

func (t *sqliteTx) InsertEvent(ctx context.Context, row *EventRow) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO ledger_events (`+sqliteEventColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.EventID, row.TenantID, row.AssetID, row.AggregateVersion, row.EventType, row.EmitterClass,
		row.EmitterID, row.Timestamp, row.EvidencePolicy, row.EvidenceHash, row.WaiverReason,
		string(row.EvidenceJSON), string(row.PayloadJSON), row.PrevEventHash, row.EventHash, row.Signature,
	)
	if isSQLiteConstraintViolation(err) {
		return ErrVersionConflict
	}
	return err
}

func (t *sqliteTx) InsertIdempotency(ctx context.Context, rec *IdempotencyRecord) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO idempotency_keys (tenant_id, idempotency_key, request_fingerprint, stored_response)
		 VALUES (?, ?, ?, ?)`,
		rec.TenantID, rec.Key, rec.Fingerprint, string(rec.Response),
	)
	if isSQLiteConstraintViolation(err) {
		return ErrIdempotencyConflict
	}
	return err
}

func (t *sqliteTx) InsertOutbox(ctx context.Context, row *OutboxRow) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO outbox (outbox_id, tenant_id, topic, payload, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		row.OutboxID, row.TenantID, row.Topic, string(row.Payload),
		row.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (t *sqliteTx) Commit() error   { return t.tx.Commit() }
func (t *sqliteTx) Rollback() error { return t.tx.Rollback() }

func parseStoredTime(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}

func isSQLiteConstraintViolation(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	switch serr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}
