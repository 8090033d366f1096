package api_test

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veriledger/veriledger/pkg/api"
	"github.com/veriledger/veriledger/pkg/contracts"
	"github.com/veriledger/veriledger/pkg/evidence"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) api.ProblemDetail {
	t.Helper()
	require.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	var problem api.ProblemDetail
	require.NoError(t, json.NewDecoder(w.Body).Decode(&problem))
	return problem
}

func TestWriteProblem_Shape(t *testing.T) {
	req := httptest.NewRequest("POST", "/v1/assets/a1/events", nil)
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-ID", "req-123")

	api.WriteProblem(w, req, http.StatusBadRequest, "BadRequest", "field is missing")

	require.Equal(t, http.StatusBadRequest, w.Code)
	problem := decodeProblem(t, w)
	assert.Equal(t, 400, problem.Status)
	assert.Equal(t, "Bad Request", problem.Title)
	assert.Equal(t, "BadRequest", problem.Kind)
	assert.Equal(t, "field is missing", problem.Detail)
	assert.Equal(t, "/v1/assets/a1/events", problem.Instance)
	assert.Equal(t, "req-123", problem.TraceID)
}

func TestWriteFault_ClientFaultsKeepDetail(t *testing.T) {
	req := httptest.NewRequest("POST", "/v1/assets/a1/events", nil)
	w := httptest.NewRecorder()

	api.WriteFault(w, req, discardLogger(),
		contracts.NewFault(contracts.PreconditionFailed, "expected version 3, current version is 5"))

	require.Equal(t, http.StatusConflict, w.Code)
	problem := decodeProblem(t, w)
	assert.Equal(t, "PreconditionFailed", problem.Kind)
	assert.Equal(t, "expected version 3, current version is 5", problem.Detail)
}

func TestWriteFault_SanitizesInternal(t *testing.T) {
	req := httptest.NewRequest("POST", "/v1/assets/a1/events", nil)
	w := httptest.NewRecorder()

	cause := errors.New("pq: connection refused to host=10.0.0.1")
	api.WriteFault(w, req, discardLogger(),
		contracts.WrapFault(contracts.StorageError, "insert event failed", cause))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	problem := decodeProblem(t, w)
	assert.Equal(t, "StorageError", problem.Kind)
	assert.NotContains(t, problem.Detail, "10.0.0.1")
	assert.NotContains(t, problem.Detail, "insert event failed")
}

func TestWriteFault_TimeoutHintsRetry(t *testing.T) {
	req := httptest.NewRequest("POST", "/v1/assets/a1/events", nil)
	w := httptest.NewRecorder()

	api.WriteFault(w, req, discardLogger(),
		contracts.NewFault(contracts.Timeout, "open transaction timed out"))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	problem := decodeProblem(t, w)
	assert.Equal(t, "Timeout", problem.Kind)
	assert.Contains(t, problem.Detail, "retry")
	assert.Contains(t, problem.Detail, "idempotency key")
}

func TestWriteFault_UnclassifiedError(t *testing.T) {
	req := httptest.NewRequest("GET", "/v1/assets/a1/events", nil)
	w := httptest.NewRecorder()

	api.WriteFault(w, req, discardLogger(), errors.New("boom"))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	problem := decodeProblem(t, w)
	assert.Empty(t, problem.Kind)
	assert.NotContains(t, problem.Detail, "boom")
}

func TestWriteFault_EvidenceNotFound(t *testing.T) {
	req := httptest.NewRequest("GET", "/v1/evidence/sha256:ab", nil)
	w := httptest.NewRecorder()

	api.WriteFault(w, req, discardLogger(), evidence.ErrNotFound)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestWriteTooManyRequests_RetryAfter(t *testing.T) {
	req := httptest.NewRequest("POST", "/v1/assets/a1/events", nil)
	w := httptest.NewRecorder()

	api.WriteTooManyRequests(w, req, 30)

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
}
