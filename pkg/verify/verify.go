// Package verify walks a stored asset chain and checks its integrity:
// contiguous versions from 1, prev-hash linkage back to the genesis sentinel,
// recomputed event hashes, and signature validity under the ledger public key.
package verify

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/veriledger/veriledger/pkg/canonical"
	"github.com/veriledger/veriledger/pkg/contracts"
	"github.com/veriledger/veriledger/pkg/crypto"
	"github.com/veriledger/veriledger/pkg/ledger"
	"github.com/veriledger/veriledger/pkg/store"
)

// Violation is the first integrity failure found while walking a chain.
type Violation struct {
	AssetID string
	Version int64
	EventID string
	Reason  string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("asset %s version %d: %s", v.AssetID, v.Version, v.Reason)
}

// Chain checks envelopes in stored order. It returns nil for an intact chain
// (the empty chain is intact) and a *Violation describing the first failure
// otherwise.
func Chain(envs []*contracts.Envelope, pub ed25519.PublicKey) error {
	prevHash := contracts.GenesisHash
	for i, env := range envs {
		if want := int64(i) + 1; env.AggregateVersion != want {
			return violation(env, "expected version %d, found %d", want, env.AggregateVersion)
		}
		if env.PrevEventHash != prevHash {
			return violation(env, "prev_event_hash %s does not match predecessor hash %s",
				env.PrevEventHash, prevHash)
		}

		canonBytes, err := canonical.Bytes(env.HashableFields())
		if err != nil {
			return violation(env, "event does not canonicalize: %v", err)
		}
		evidenceHash, _ := env.EvidenceHash()
		if computed := ledger.EventHash(canonBytes, env.PrevEventHash, evidenceHash); computed != env.EventHash {
			return violation(env, "stored event_hash %s, recomputed %s", env.EventHash, computed)
		}

		if !crypto.Verify(pub, []byte(env.EventHash), env.Signature) {
			return violation(env, "signature does not verify")
		}
		prevHash = env.EventHash
	}
	return nil
}

// Asset loads one asset's events and verifies the chain. It returns the
// number of events checked; a non-nil error is either a *Violation or a
// storage fault.
func Asset(ctx context.Context, st store.Store, pub ed25519.PublicKey, tenantID, assetID string) (int, error) {
	rows, err := st.ListEvents(ctx, tenantID, assetID)
	if err != nil {
		return 0, contracts.WrapFault(contracts.StorageError, "list events for verification", err)
	}
	envs := make([]*contracts.Envelope, 0, len(rows))
	for _, row := range rows {
		env, err := row.ToEnvelope()
		if err != nil {
			return 0, &Violation{
				AssetID: row.AssetID,
				Version: row.AggregateVersion,
				EventID: row.EventID,
				Reason:  fmt.Sprintf("stored row does not decode: %v", err),
			}
		}
		envs = append(envs, env)
	}
	if err := Chain(envs, pub); err != nil {
		return 0, err
	}
	return len(envs), nil
}

func violation(env *contracts.Envelope, format string, args ...any) *Violation {
	return &Violation{
		AssetID: env.AssetID,
		Version: env.AggregateVersion,
		EventID: env.EventID,
		Reason:  fmt.Sprintf(format, args...),
	}
}
