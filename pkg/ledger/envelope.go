// Package ledger implements the append path for asset event chains: minting
// signed envelopes, fingerprinting requests for idempotency, and the
// coordinator that drives one append through the storage port under a single
// transaction.
package ledger

import (
	"time"

	"github.com/google/uuid"

	"github.com/veriledger/veriledger/pkg/canonical"
	"github.com/veriledger/veriledger/pkg/contracts"
	"github.com/veriledger/veriledger/pkg/crypto"
)

// TimestampLayout is the minted timestamp form: UTC, microsecond precision,
// literal Z suffix. The string enters the event hash, so storage keeps it
// verbatim.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Builder mints signed envelopes. Clock and event-id source are overridable
// for tests; production uses time.Now and random UUIDv4.
type Builder struct {
	signer *crypto.Signer
	clock  func() time.Time
	newID  func() string
}

// NewBuilder creates a Builder signing with the given key.
func NewBuilder(signer *crypto.Signer) *Builder {
	return &Builder{
		signer: signer,
		clock:  time.Now,
		newID:  uuid.NewString,
	}
}

// WithClock overrides the timestamp source for testing.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

// WithEventIDs overrides the event-id source for testing.
func (b *Builder) WithEventIDs(newID func() string) *Builder {
	b.newID = newID
	return b
}

// BuildInput carries everything an envelope needs besides the minted
// volatiles. PrevEventHash is the current tip hash, or the genesis sentinel
// for the first event.
type BuildInput struct {
	AssetID          string
	EventType        string
	EmitterClass     contracts.EmitterClass
	EmitterID        string
	AggregateVersion int64
	PrevEventHash    string
	Evidence         map[string]any
	Payload          map[string]any
}

// Build assembles, hashes, and signs one envelope.
//
// The event hash covers the canonical encoding of the volatile-stamped event
// object concatenated with the previous event hash string and the evidence
// hash string (empty when the evidence carries none). The signature covers
// the UTF-8 bytes of the event hash string itself, prefix included.
func (b *Builder) Build(in BuildInput) (*contracts.Envelope, error) {
	if in.AggregateVersion < 1 {
		return nil, contracts.Faultf(contracts.BadRequest,
			"aggregate version must be >= 1, got %d", in.AggregateVersion)
	}
	if in.EventType == "" {
		return nil, contracts.NewFault(contracts.BadRequest, "event type must not be empty")
	}
	if in.PrevEventHash == "" {
		return nil, contracts.NewFault(contracts.BadRequest, "prev event hash must not be empty")
	}
	if raw, present := in.Evidence["evidence_hash"]; present {
		if s, ok := raw.(string); !ok || s == "" {
			return nil, contracts.NewFault(contracts.BadRequest,
				"evidence.evidence_hash must be a non-empty string")
		}
	}

	env := &contracts.Envelope{
		EventID:          b.newID(),
		EventType:        in.EventType,
		AssetID:          in.AssetID,
		AggregateVersion: in.AggregateVersion,
		EmitterClass:     in.EmitterClass,
		EmitterID:        in.EmitterID,
		Timestamp:        b.clock().UTC().Format(TimestampLayout),
		Evidence:         in.Evidence,
		Payload:          in.Payload,
	}

	canonBytes, err := canonical.Bytes(env.HashableFields())
	if err != nil {
		return nil, err
	}
	evidenceHash, _ := env.EvidenceHash()

	env.PrevEventHash = in.PrevEventHash
	env.EventHash = EventHash(canonBytes, in.PrevEventHash, evidenceHash)
	env.Signature = b.signer.Sign([]byte(env.EventHash))

	return env, nil
}

// EventHash computes "sha256:" + hex over the canonical event bytes followed
// by the UTF-8 bytes of the previous event hash and evidence hash strings.
func EventHash(canonicalBytes []byte, prevEventHash, evidenceHash string) string {
	input := make([]byte, 0, len(canonicalBytes)+len(prevEventHash)+len(evidenceHash))
	input = append(input, canonicalBytes...)
	input = append(input, prevEventHash...)
	input = append(input, evidenceHash...)
	return canonical.SHA256Prefixed(input)
}
