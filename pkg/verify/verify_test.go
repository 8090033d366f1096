package verify_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veriledger/veriledger/pkg/contracts"
	"github.com/veriledger/veriledger/pkg/crypto"
	"github.com/veriledger/veriledger/pkg/ledger"
	"github.com/veriledger/veriledger/pkg/registry"
	"github.com/veriledger/veriledger/pkg/store"
	"github.com/veriledger/veriledger/pkg/validate"
	"github.com/veriledger/veriledger/pkg/verify"
)

func newSigner(t *testing.T) *crypto.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return crypto.NewSigner(priv)
}

// buildChain mints n chained envelopes; odd positions carry an evidence hash
// so both hash-input shapes are walked.
func buildChain(t *testing.T, signer *crypto.Signer, n int) []*contracts.Envelope {
	t.Helper()
	builder := ledger.NewBuilder(signer)
	envs := make([]*contracts.Envelope, 0, n)
	prev := contracts.GenesisHash
	for i := 0; i < n; i++ {
		evidence := map[string]any{"policy": "OPTIONAL"}
		if i%2 == 1 {
			evidence = map[string]any{
				"policy":        "REQUIRED",
				"evidence_hash": "sha256:" + strings.Repeat("ab", 32),
			}
		}
		env, err := builder.Build(ledger.BuildInput{
			AssetID:          "crane-3",
			EventType:        "MAINTENANCE_PERFORMED",
			EmitterClass:     contracts.EmitterHuman,
			EmitterID:        "tech-1",
			AggregateVersion: int64(i) + 1,
			PrevEventHash:    prev,
			Evidence:         evidence,
			Payload:          map[string]any{"seq": json.Number(strconv.Itoa(i + 1))},
		})
		require.NoError(t, err)
		envs = append(envs, env)
		prev = env.EventHash
	}
	return envs
}

func TestChain_Intact(t *testing.T) {
	signer := newSigner(t)
	envs := buildChain(t, signer, 4)
	assert.NoError(t, verify.Chain(envs, signer.Public()))
}

func TestChain_Empty(t *testing.T) {
	signer := newSigner(t)
	assert.NoError(t, verify.Chain(nil, signer.Public()))
}

func TestChain_BrokenLinkage(t *testing.T) {
	signer := newSigner(t)
	envs := buildChain(t, signer, 3)
	envs[1].PrevEventHash = envs[2].EventHash

	err := verify.Chain(envs, signer.Public())
	var v *verify.Violation
	require.ErrorAs(t, err, &v)
	assert.Equal(t, int64(2), v.Version)
	assert.Contains(t, v.Reason, "prev_event_hash")
}

func TestChain_WrongGenesis(t *testing.T) {
	signer := newSigner(t)
	envs := buildChain(t, signer, 1)
	envs[0].PrevEventHash = "sha256:" + strings.Repeat("ff", 32)

	err := verify.Chain(envs, signer.Public())
	var v *verify.Violation
	require.ErrorAs(t, err, &v)
	assert.Equal(t, int64(1), v.Version)
	assert.Contains(t, v.Reason, contracts.GenesisHash)
}

func TestChain_TamperedPayload(t *testing.T) {
	signer := newSigner(t)
	envs := buildChain(t, signer, 3)
	envs[1].Payload["seq"] = json.Number("999")

	err := verify.Chain(envs, signer.Public())
	var v *verify.Violation
	require.ErrorAs(t, err, &v)
	assert.Equal(t, int64(2), v.Version)
	assert.Contains(t, v.Reason, "recomputed")
}

func TestChain_VersionGap(t *testing.T) {
	signer := newSigner(t)
	envs := buildChain(t, signer, 3)
	gapped := []*contracts.Envelope{envs[0], envs[2]}

	err := verify.Chain(gapped, signer.Public())
	var v *verify.Violation
	require.ErrorAs(t, err, &v)
	assert.Contains(t, v.Reason, "expected version 2, found 3")
}

func TestChain_WrongPublicKey(t *testing.T) {
	signer := newSigner(t)
	other := newSigner(t)
	envs := buildChain(t, signer, 2)

	err := verify.Chain(envs, other.Public())
	var v *verify.Violation
	require.ErrorAs(t, err, &v)
	assert.Equal(t, int64(1), v.Version)
	assert.Contains(t, v.Reason, "signature")
}

func TestChain_ForgedSignature(t *testing.T) {
	signer := newSigner(t)
	forger := newSigner(t)
	envs := buildChain(t, signer, 2)
	envs[1].Signature = forger.Sign([]byte(envs[1].EventHash))

	err := verify.Chain(envs, signer.Public())
	var v *verify.Violation
	require.ErrorAs(t, err, &v)
	assert.Equal(t, int64(2), v.Version)
	assert.Contains(t, v.Reason, "signature")
}

// TestAsset_VerifiesStoredChain appends through the coordinator and verifies
// the persisted rows end to end, exercising the row decode path.
func TestAsset_VerifiesStoredChain(t *testing.T) {
	signer := newSigner(t)
	reg, err := registry.New([]registry.Entry{{
		EventType:             "ASSET_CREATED",
		AllowedEmitterClasses: []contracts.EmitterClass{contracts.EmitterHuman},
		EvidencePolicy:        contracts.EvidenceOptional,
	}})
	require.NoError(t, err)

	st := store.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	coord := ledger.NewCoordinator(st, validate.NewGate(reg), ledger.NewBuilder(signer), logger)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := coord.Append(ctx, ledger.AppendRequest{
			TenantID:  "t1",
			AssetID:   "pump-7",
			Role:      contracts.RoleAdmin,
			EmitterID: "user-1",
			Body: map[string]any{
				"event_type": "ASSET_CREATED",
				"evidence":   map[string]any{"policy": "OPTIONAL"},
				"payload":    map[string]any{"reading": json.Number("42"), "pass": strconv.Itoa(i)},
			},
			IfMatchVersion: int64(i),
			IdempotencyKey: "k" + strconv.Itoa(i),
		})
		require.NoError(t, err)
	}

	n, err := verify.Asset(ctx, st, signer.Public(), "t1", "pump-7")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// An asset with no events is an intact empty chain.
	n, err = verify.Asset(ctx, st, signer.Public(), "t1", "no-such-asset")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
