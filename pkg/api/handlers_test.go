package api_test

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veriledger/veriledger/pkg/api"
	"github.com/veriledger/veriledger/pkg/auth"
	"github.com/veriledger/veriledger/pkg/contracts"
	"github.com/veriledger/veriledger/pkg/crypto"
	"github.com/veriledger/veriledger/pkg/evidence"
	"github.com/veriledger/veriledger/pkg/ledger"
	"github.com/veriledger/veriledger/pkg/registry"
	"github.com/veriledger/veriledger/pkg/store"
	"github.com/veriledger/veriledger/pkg/validate"
)

const testAssetID = "11111111-1111-4111-8111-111111111111"

type testServer struct {
	handler http.Handler
	jwtKey  ed25519.PrivateKey
	store   *store.MemoryStore
	vault   evidence.Vault
}

func newTestServer(t *testing.T, limiter api.Limiter) *testServer {
	t.Helper()

	reg, err := registry.New([]registry.Entry{
		{
			EventType:             "ASSET_CREATED",
			AllowedEmitterClasses: []contracts.EmitterClass{contracts.EmitterHuman},
			EvidencePolicy:        contracts.EvidenceOptional,
		},
		{
			EventType:             "CALIBRATED",
			AllowedEmitterClasses: []contracts.EmitterClass{contracts.EmitterSystem},
			EvidencePolicy:        contracts.EvidenceRequired,
		},
	})
	require.NoError(t, err)

	_, signPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer := crypto.NewSigner(signPriv)

	jwtPub, jwtPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	st := store.NewMemoryStore()
	coord := ledger.NewCoordinator(st, validate.NewGate(reg), ledger.NewBuilder(signer), discardLogger())
	vault := evidence.NewMemoryVault()

	srv := api.NewServer(api.Config{
		Addr:     ":0",
		Verifier: auth.NewVerifier(jwtPub),
		Limiter:  limiter,
	}, coord, st, vault, discardLogger())

	return &testServer{
		handler: srv.Handler(),
		jwtKey:  jwtPriv,
		store:   st,
		vault:   vault,
	}
}

func (ts *testServer) token(t *testing.T, sub, tenant, role string) string {
	t.Helper()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TenantID: tenant,
		Role:     role,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(ts.jwtKey)
	require.NoError(t, err)
	return token
}

func (ts *testServer) do(t *testing.T, req *http.Request, token string) *httptest.ResponseRecorder {
	t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func appendRequest(body, ifMatch, idemKey string) *http.Request {
	req := httptest.NewRequest("POST", "/v1/assets/"+testAssetID+"/events", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if ifMatch != "" {
		req.Header.Set("If-Match", ifMatch)
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	return req
}

const createdBody = `{
	"event_type": "ASSET_CREATED",
	"evidence": {"policy": "OPTIONAL"},
	"payload": {"name": "Pump 7", "reading": 42}
}`

func TestAppendEndpoint_Genesis(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.token(t, "user-1", "t1", contracts.RoleAdmin)

	w := ts.do(t, appendRequest(createdBody, `"0"`, "k1"), token)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var env contracts.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, int64(1), env.AggregateVersion)
	assert.Equal(t, contracts.GenesisHash, env.PrevEventHash)
	assert.Equal(t, "user-1", env.EmitterID)
	assert.Equal(t, contracts.EmitterHuman, env.EmitterClass)
	assert.NotEmpty(t, env.Signature)
}

func TestAppendEndpoint_Replay(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.token(t, "user-1", "t1", contracts.RoleAdmin)

	first := ts.do(t, appendRequest(createdBody, `"0"`, "k1"), token)
	require.Equal(t, http.StatusCreated, first.Code)

	second := ts.do(t, appendRequest(createdBody, `"0"`, "k1"), token)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.Bytes(), second.Body.Bytes())
}

func TestAppendEndpoint_Conflicts(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.token(t, "user-1", "t1", contracts.RoleAdmin)

	require.Equal(t, http.StatusCreated, ts.do(t, appendRequest(createdBody, `"0"`, "k1"), token).Code)

	// Stale If-Match after the first append.
	w := ts.do(t, appendRequest(createdBody, `"0"`, "k2"), token)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "PreconditionFailed", decodeProblem(t, w).Kind)

	// Same key, different body.
	other := `{"event_type": "ASSET_CREATED", "evidence": {"policy": "OPTIONAL"}, "payload": {"name": "Y"}}`
	w = ts.do(t, appendRequest(other, `"0"`, "k1"), token)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "IdempotencyMismatch", decodeProblem(t, w).Kind)
}

func TestAppendEndpoint_Malformed(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.token(t, "user-1", "t1", contracts.RoleAdmin)

	cases := map[string]*http.Request{
		"missing idempotency key": appendRequest(createdBody, `"0"`, ""),
		"missing if-match":        appendRequest(createdBody, "", "k1"),
		"garbled if-match":        appendRequest(createdBody, "abc", "k1"),
		"body not json":           appendRequest("{not json", `"0"`, "k1"),
		"forbidden field": appendRequest(
			`{"event_type":"ASSET_CREATED","evidence":{"policy":"OPTIONAL"},"payload":{},"event_id":"x"}`,
			`"0"`, "k1"),
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			w := ts.do(t, req, token)
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}

	// Asset id must parse as a UUID.
	req := httptest.NewRequest("POST", "/v1/assets/not-a-uuid/events", bytes.NewBufferString(createdBody))
	req.Header.Set("If-Match", `"0"`)
	req.Header.Set("Idempotency-Key", "k1")
	w := ts.do(t, req, token)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAppendEndpoint_GateStatuses(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.token(t, "user-1", "t1", contracts.RoleUser)

	// CALIBRATED allows SYSTEM only; a USER principal maps to HUMAN.
	calibrated := `{"event_type":"CALIBRATED","evidence":{"policy":"REQUIRED","evidence_hash":"sha256:aa"},"payload":{}}`
	w := ts.do(t, appendRequest(calibrated, `"0"`, "k1"), token)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "PermissionDenied", decodeProblem(t, w).Kind)

	unknown := `{"event_type":"NO_SUCH_TYPE","evidence":{"policy":"OPTIONAL"},"payload":{}}`
	w = ts.do(t, appendRequest(unknown, `"0"`, "k2"), token)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "UnknownEventType", decodeProblem(t, w).Kind)

	// Evidence violations surface once RBAC passes.
	systemToken := ts.token(t, "svc-1", "t1", contracts.RoleSystem)
	missingEvidence := `{"event_type":"CALIBRATED","evidence":{"policy":"OPTIONAL"},"payload":{}}`
	w = ts.do(t, appendRequest(missingEvidence, `"0"`, "k3"), systemToken)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "EvidencePolicyViolation", decodeProblem(t, w).Kind)
}

func TestAppendEndpoint_RequiresAuth(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(t, appendRequest(createdBody, `"0"`, "k1"), "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestListAndTipEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.token(t, "user-1", "t1", contracts.RoleAdmin)

	require.Equal(t, http.StatusCreated, ts.do(t, appendRequest(createdBody, `"0"`, "k1"), token).Code)
	require.Equal(t, http.StatusCreated, ts.do(t, appendRequest(createdBody, `"1"`, "k2"), token).Code)

	w := ts.do(t, httptest.NewRequest("GET", "/v1/assets/"+testAssetID+"/events", nil), token)
	require.Equal(t, http.StatusOK, w.Code)

	var listing struct {
		AssetID string            `json:"asset_id"`
		Events  []json.RawMessage `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	assert.Equal(t, testAssetID, listing.AssetID)
	require.Len(t, listing.Events, 2)

	var first contracts.Envelope
	require.NoError(t, json.Unmarshal(listing.Events[0], &first))
	assert.Equal(t, int64(1), first.AggregateVersion)

	w = ts.do(t, httptest.NewRequest("GET", "/v1/assets/"+testAssetID+"/events/latest", nil), token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `"2"`, w.Header().Get("ETag"))

	var tip struct {
		AssetID          string `json:"asset_id"`
		AggregateVersion int64  `json:"aggregate_version"`
		EventHash        string `json:"event_hash"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tip))
	assert.Equal(t, int64(2), tip.AggregateVersion)
	assert.NotEmpty(t, tip.EventHash)

	// Tip of an asset with no events is 404.
	w = ts.do(t, httptest.NewRequest("GET", "/v1/assets/22222222-2222-4222-8222-222222222222/events/latest", nil), token)
	require.Equal(t, http.StatusNotFound, w.Code)

	// Another tenant sees an empty chain.
	otherToken := ts.token(t, "user-2", "t2", contracts.RoleAdmin)
	w = ts.do(t, httptest.NewRequest("GET", "/v1/assets/"+testAssetID+"/events", nil), otherToken)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	assert.Empty(t, listing.Events)
}

func TestEvidenceEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.token(t, "user-1", "t1", contracts.RoleAdmin)
	blob := []byte("inspection report bytes")

	req := httptest.NewRequest("PUT", "/v1/evidence", bytes.NewReader(blob))
	w := ts.do(t, req, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var put struct {
		EvidenceHash string `json:"evidence_hash"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &put))
	assert.Equal(t, evidence.Address(blob), put.EvidenceHash)

	w = ts.do(t, httptest.NewRequest("GET", "/v1/evidence/"+put.EvidenceHash, nil), token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, blob, w.Body.Bytes())
	assert.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))

	// Unknown blob and malformed address.
	missing := evidence.Address([]byte("never stored"))
	w = ts.do(t, httptest.NewRequest("GET", "/v1/evidence/"+missing, nil), token)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, httptest.NewRequest("GET", "/v1/evidence/md5:nope", nil), token)
	require.Equal(t, http.StatusBadRequest, w.Code)

	// Empty body is rejected.
	w = ts.do(t, httptest.NewRequest("PUT", "/v1/evidence", bytes.NewReader(nil)), token)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthEndpoints_Public(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, httptest.NewRequest("GET", "/healthz", nil), "")
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, httptest.NewRequest("GET", "/readyz", nil), "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit_Enforced(t *testing.T) {
	ts := newTestServer(t, api.NewLocalLimiter(1, 2))
	token := ts.token(t, "user-1", "t1", contracts.RoleAdmin)

	listReq := func() *http.Request {
		return httptest.NewRequest("GET", "/v1/assets/"+testAssetID+"/events", nil)
	}

	require.Equal(t, http.StatusOK, ts.do(t, listReq(), token).Code)
	require.Equal(t, http.StatusOK, ts.do(t, listReq(), token).Code)

	w := ts.do(t, listReq(), token)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// A different tenant has its own bucket.
	otherToken := ts.token(t, "user-9", "t9", contracts.RoleAdmin)
	require.Equal(t, http.StatusOK, ts.do(t, listReq(), otherToken).Code)

	// Health probes are never limited.
	require.Equal(t, http.StatusOK, ts.do(t, httptest.NewRequest("GET", "/healthz", nil), "").Code)
}
