package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound reports a read for a row that does not exist.
var ErrNotFound = errors.New("row not found")

type assetKey struct {
	tenant string
	asset  string
}

type idemKey struct {
	tenant string
	key    string
}

// MemoryStore keeps the full ledger state in process. It serializes
// transactions through a single writer slot, which is stricter than the port
// requires but preserves its observable semantics. Used by tests and the
// dev-mode server.
type MemoryStore struct {
	mu      sync.RWMutex
	events  map[assetKey][]EventRow
	byID    map[string]struct{}
	idem    map[idemKey]IdempotencyRecord
	outbox  []OutboxRow
	writers chan struct{}
	clock   func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:  make(map[assetKey][]EventRow),
		byID:    make(map[string]struct{}),
		idem:    make(map[idemKey]IdempotencyRecord),
		writers: make(chan struct{}, 1),
		clock:   time.Now,
	}
}

// WithClock overrides the delivery timestamp source for testing.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

// Init is a no-op; the zero state is the schema.
func (s *MemoryStore) Init(ctx context.Context) error { return nil }

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Begin acquires the writer slot, blocking until it is free or the context
// expires.
func (s *MemoryStore) Begin(ctx context.Context) (Tx, error) {
	select {
	case s.writers <- struct{}{}:
		return &memoryTx{store: s}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ListEvents returns the asset's events in version order.
func (s *MemoryStore) ListEvents(ctx context.Context, tenantID, assetID string) ([]EventRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.events[assetKey{tenantID, assetID}]
	out := make([]EventRow, len(rows))
	copy(out, rows)
	sort.Slice(out, func(i, j int) bool { return out[i].AggregateVersion < out[j].AggregateVersion })
	return out, nil
}

// ReadTip returns the asset's chain head outside any transaction.
func (s *MemoryStore) ReadTip(ctx context.Context, tenantID, assetID string) (*Tip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tipLocked(tenantID, assetID), nil
}

func (s *MemoryStore) tipLocked(tenantID, assetID string) *Tip {
	rows := s.events[assetKey{tenantID, assetID}]
	if len(rows) == 0 {
		return nil
	}
	last := rows[len(rows)-1]
	return &Tip{Version: last.AggregateVersion, EventHash: last.EventHash}
}

// PendingOutbox returns up to limit undelivered rows, oldest first.
func (s *MemoryStore) PendingOutbox(ctx context.Context, limit int) ([]OutboxRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []OutboxRow
	for _, row := range s.outbox {
		if row.DeliveredAt == nil {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].OutboxID < out[j].OutboxID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkDelivered stamps the row with the delivery time.
func (s *MemoryStore) MarkDelivered(ctx context.Context, outboxID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.outbox {
		if s.outbox[i].OutboxID == outboxID {
			now := s.clock().UTC()
			s.outbox[i].DeliveredAt = &now
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) Close() error { return nil }

// memoryTx buffers writes and applies them on Commit. The writer slot held
// since Begin keeps the buffered view consistent.
type memoryTx struct {
	store   *MemoryStore
	events  []EventRow
	idem    []IdempotencyRecord
	outbox  []OutboxRow
	done    bool
	release sync.Once
}

func (t *memoryTx) ReadIdempotency(ctx context.Context, tenantID, key string) (*IdempotencyRecord, error) {
	if t.done {
		return nil, errors.New("transaction is closed")
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	rec, ok := t.store.idem[idemKey{tenantID, key}]
	if !ok {
		return nil, nil
	}
	out := rec
	return &out, nil
}

func (t *memoryTx) ReadAssetTip(ctx context.Context, tenantID, assetID string) (*Tip, error) {
	if t.done {
		return nil, errors.New("transaction is closed")
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return t.store.tipLocked(tenantID, assetID), nil
}

func (t *memoryTx) InsertEvent(ctx context.Context, row *EventRow) error {
	if t.done {
		return errors.New("transaction is closed")
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if _, exists := t.store.byID[row.EventID]; exists {
		return ErrVersionConflict
	}
	for _, existing := range t.store.events[assetKey{row.TenantID, row.AssetID}] {
		if existing.AggregateVersion == row.AggregateVersion {
			return ErrVersionConflict
		}
	}
	for _, buffered := range t.events {
		if buffered.EventID == row.EventID {
			return ErrVersionConflict
		}
		if buffered.TenantID == row.TenantID && buffered.AssetID == row.AssetID &&
			buffered.AggregateVersion == row.AggregateVersion {
			return ErrVersionConflict
		}
	}
	t.events = append(t.events, *row)
	return nil
}

func (t *memoryTx) InsertIdempotency(ctx context.Context, rec *IdempotencyRecord) error {
	if t.done {
		return errors.New("transaction is closed")
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if _, exists := t.store.idem[idemKey{rec.TenantID, rec.Key}]; exists {
		return ErrIdempotencyConflict
	}
	for _, buffered := range t.idem {
		if buffered.TenantID == rec.TenantID && buffered.Key == rec.Key {
			return ErrIdempotencyConflict
		}
	}
	t.idem = append(t.idem, *rec)
	return nil
}

func (t *memoryTx) InsertOutbox(ctx context.Context, row *OutboxRow) error {
	if t.done {
		return errors.New("transaction is closed")
	}
	t.outbox = append(t.outbox, *row)
	return nil
}

func (t *memoryTx) Commit() error {
	if t.done {
		return errors.New("transaction is closed")
	}
	t.store.mu.Lock()
	for _, row := range t.events {
		key := assetKey{row.TenantID, row.AssetID}
		t.store.events[key] = append(t.store.events[key], row)
		t.store.byID[row.EventID] = struct{}{}
	}
	for _, rec := range t.idem {
		t.store.idem[idemKey{rec.TenantID, rec.Key}] = rec
	}
	t.store.outbox = append(t.store.outbox, t.outbox...)
	t.store.mu.Unlock()
	t.close()
	return nil
}

func (t *memoryTx) Rollback() error {
	if t.done {
		return nil
	}
	t.close()
	return nil
}

func (t *memoryTx) close() {
	t.done = true
	t.release.Do(func() { <-t.store.writers })
}
