// Package evidence stores the blobs that event envelopes reference by hash.
// Blobs are content-addressed: Put returns the sha256: address clients submit
// as evidence_hash, and Get verifies the fetched bytes still match their
// address. The vault has no delete; evidence referenced by an append-only
// chain stays.
package evidence

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"sync"

	"github.com/veriledger/veriledger/pkg/canonical"
	"github.com/veriledger/veriledger/pkg/contracts"
)

// ErrNotFound reports a lookup for an address the vault has no blob for.
var ErrNotFound = errors.New("evidence blob not found")

// Vault is the content-addressed blob store behind the evidence endpoints.
type Vault interface {
	// Put persists data and returns its sha256: address. Re-putting the
	// same bytes is a no-op returning the same address.
	Put(ctx context.Context, data []byte) (string, error)
	// Get returns the blob at the address after verifying its content
	// still hashes to it.
	Get(ctx context.Context, addr string) ([]byte, error)
	// Exists reports whether a blob is stored at the address.
	Exists(ctx context.Context, addr string) (bool, error)
}

// Address computes the vault address of data.
func Address(data []byte) string {
	return canonical.SHA256Prefixed(data)
}

// ParseAddress validates an address and returns its hex digest part.
func ParseAddress(addr string) (string, error) {
	digest, ok := strings.CutPrefix(addr, canonical.HashPrefix)
	if !ok {
		return "", contracts.Faultf(contracts.BadRequest, "evidence address %q must start with %s", addr, canonical.HashPrefix)
	}
	if len(digest) != 64 {
		return "", contracts.Faultf(contracts.BadRequest, "evidence address digest must be 64 hex characters, got %d", len(digest))
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", contracts.NewFault(contracts.BadRequest, "evidence address digest is not hex")
	}
	return digest, nil
}

// verifyContent re-hashes fetched bytes against the address they were
// fetched by.
func verifyContent(addr string, data []byte) error {
	if got := Address(data); got != addr {
		return contracts.Faultf(contracts.StorageError, "evidence blob at %s hashes to %s", addr, got)
	}
	return nil
}

// MemoryVault keeps blobs in process. Used by tests and the dev-mode server.
type MemoryVault struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryVault creates an empty in-memory vault.
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{blobs: make(map[string][]byte)}
}

func (v *MemoryVault) Put(ctx context.Context, data []byte) (string, error) {
	addr := Address(data)
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.blobs[addr]; !ok {
		stored := make([]byte, len(data))
		copy(stored, data)
		v.blobs[addr] = stored
	}
	return addr, nil
}

func (v *MemoryVault) Get(ctx context.Context, addr string) ([]byte, error) {
	if _, err := ParseAddress(addr); err != nil {
		return nil, err
	}
	v.mu.RLock()
	blob, ok := v.blobs[addr]
	v.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if err := verifyContent(addr, blob); err != nil {
		return nil, err
	}
	out := make([]byte, len(blob))
	copy(out, blob)
	return out, nil
}

func (v *MemoryVault) Exists(ctx context.Context, addr string) (bool, error) {
	if _, err := ParseAddress(addr); err != nil {
		return false, err
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.blobs[addr]
	return ok, nil
}
