package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/veriledger/veriledger/pkg/auth"
	"github.com/veriledger/veriledger/pkg/canonical"
	"github.com/veriledger/veriledger/pkg/contracts"
	"github.com/veriledger/veriledger/pkg/ledger"
)

const (
	maxEventBytes    = 1 << 20  // submitted event JSON
	maxEvidenceBytes = 32 << 20 // evidence blobs
)

// handleAppend is POST /v1/assets/{asset_id}/events: the single mutation
// endpoint. Tenant and role bind from the principal only; the body is the
// submitted event.
func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.GetPrincipal(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusUnauthorized, "", "authentication required")
		return
	}

	assetID := r.PathValue("asset_id")
	if _, err := uuid.Parse(assetID); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, string(contracts.BadRequest),
			"asset id must be a UUID")
		return
	}

	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey == "" {
		WriteProblem(w, r, http.StatusBadRequest, string(contracts.BadRequest),
			"Idempotency-Key header is required")
		return
	}

	ifMatch, err := ParseIfMatch(r.Header.Get("If-Match"))
	if err != nil {
		WriteFault(w, r, s.logger, err)
		return
	}

	body, err := decodeEventBody(w, r)
	if err != nil {
		WriteFault(w, r, s.logger, err)
		return
	}

	res, err := s.coordinator.Append(r.Context(), ledger.AppendRequest{
		TenantID:       principal.TenantID,
		AssetID:        assetID,
		Role:           principal.Role,
		EmitterID:      principal.Subject,
		Body:           body,
		IfMatchVersion: ifMatch,
		IdempotencyKey: idemKey,
	})
	if err != nil {
		s.recordFault(r, err)
		WriteFault(w, r, s.logger, err)
		return
	}
	s.recordAppend(r, res.Envelope, res.Replayed)

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(res.Response)
}

// decodeEventBody reads the submitted event as a generic object. Numbers
// decode through json.Number so integer literals survive canonicalization
// byte-exactly.
func decodeEventBody(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBytes))
	dec.UseNumber()

	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return nil, contracts.WrapFault(contracts.BadRequest, "request body is not a JSON object", err)
	}
	if dec.More() {
		return nil, contracts.NewFault(contracts.BadRequest, "request body has trailing data")
	}
	return body, nil
}

// handleListEvents is GET /v1/assets/{asset_id}/events: the raw chain in
// version order, each event in its canonical form.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.GetPrincipal(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusUnauthorized, "", "authentication required")
		return
	}
	assetID := r.PathValue("asset_id")

	rows, err := s.store.ListEvents(r.Context(), principal.TenantID, assetID)
	if err != nil {
		WriteFault(w, r, s.logger, contracts.WrapFault(contracts.StorageError, "list events failed", err))
		return
	}

	events := make([]json.RawMessage, 0, len(rows))
	for _, row := range rows {
		env, err := row.ToEnvelope()
		if err != nil {
			WriteFault(w, r, s.logger, err)
			return
		}
		canon, err := canonical.Bytes(env)
		if err != nil {
			WriteFault(w, r, s.logger, err)
			return
		}
		events = append(events, canon)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"asset_id": assetID,
		"events":   events,
	})
}

// handleTip is GET /v1/assets/{asset_id}/events/latest: the version and hash
// clients build their next If-Match on. The version doubles as the ETag.
func (s *Server) handleTip(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.GetPrincipal(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusUnauthorized, "", "authentication required")
		return
	}
	assetID := r.PathValue("asset_id")

	tip, err := s.store.ReadTip(r.Context(), principal.TenantID, assetID)
	if err != nil {
		WriteFault(w, r, s.logger, contracts.WrapFault(contracts.StorageError, "read tip failed", err))
		return
	}
	if tip == nil {
		WriteProblem(w, r, http.StatusNotFound, "", "asset has no events")
		return
	}

	w.Header().Set("ETag", `"`+strconv.FormatInt(tip.Version, 10)+`"`)
	writeJSON(w, http.StatusOK, map[string]any{
		"asset_id":          assetID,
		"aggregate_version": tip.Version,
		"event_hash":        tip.EventHash,
	})
}

// handlePutEvidence is PUT /v1/evidence: store a blob, get back the
// content address submissions reference as evidence_hash.
func (s *Server) handlePutEvidence(w http.ResponseWriter, r *http.Request) {
	if _, err := auth.GetPrincipal(r.Context()); err != nil {
		WriteProblem(w, r, http.StatusUnauthorized, "", "authentication required")
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEvidenceBytes))
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, string(contracts.BadRequest),
			"evidence body could not be read")
		return
	}
	if len(data) == 0 {
		WriteProblem(w, r, http.StatusBadRequest, string(contracts.BadRequest),
			"evidence body must not be empty")
		return
	}

	addr, err := s.vault.Put(r.Context(), data)
	if err != nil {
		WriteFault(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"evidence_hash": addr})
}

// handleGetEvidence is GET /v1/evidence/{hash}.
func (s *Server) handleGetEvidence(w http.ResponseWriter, r *http.Request) {
	if _, err := auth.GetPrincipal(r.Context()); err != nil {
		WriteProblem(w, r, http.StatusUnauthorized, "", "authentication required")
		return
	}

	data, err := s.vault.Get(r.Context(), r.PathValue("hash"))
	if err != nil {
		WriteFault(w, r, s.logger, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleReadyz reports whether the storage backend answers.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.WarnContext(r.Context(), "readiness probe failed", "error", err)
		WriteProblem(w, r, http.StatusServiceUnavailable, "", "storage is not reachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
