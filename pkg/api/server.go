package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/veriledger/veriledger/pkg/auth"
	"github.com/veriledger/veriledger/pkg/evidence"
	"github.com/veriledger/veriledger/pkg/ledger"
	"github.com/veriledger/veriledger/pkg/observability"
	"github.com/veriledger/veriledger/pkg/store"
)

// Config carries the server's edge settings. Core dependencies come in
// through NewServer directly.
type Config struct {
	Addr        string
	CORSOrigins []string
	Verifier    *auth.Verifier
	Limiter     Limiter
	Telemetry   *observability.Provider
}

// Server owns the HTTP edge: routing, middleware, and the listener.
type Server struct {
	coordinator *ledger.Coordinator
	store       store.Store
	vault       evidence.Vault
	logger      *slog.Logger
	telemetry   *observability.Provider
	http        *http.Server
}

// NewServer wires routes and middleware. The middleware order is request-id,
// CORS, auth, rate limiting, then telemetry. The limiter keys on the
// authenticated tenant, so it must run inside auth; telemetry sits innermost
// so spans carry the matched route pattern.
func NewServer(cfg Config, coord *ledger.Coordinator, st store.Store, vault evidence.Vault, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		coordinator: coord,
		store:       st,
		vault:       vault,
		logger:      logger,
		telemetry:   cfg.Telemetry,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/assets/{asset_id}/events", s.handleAppend)
	mux.HandleFunc("GET /v1/assets/{asset_id}/events", s.handleListEvents)
	mux.HandleFunc("GET /v1/assets/{asset_id}/events/latest", s.handleTip)
	mux.HandleFunc("PUT /v1/evidence", s.handlePutEvidence)
	mux.HandleFunc("GET /v1/evidence/{hash}", s.handleGetEvidence)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)

	handler := TelemetryMiddleware(cfg.Telemetry, mux)
	handler = RateLimitMiddleware(cfg.Limiter, logger)(handler)
	handler = auth.NewMiddleware(cfg.Verifier)(handler)
	handler = auth.CORSMiddleware(cfg.CORSOrigins)(handler)
	handler = auth.RequestIDMiddleware(handler)

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the full middleware stack for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start serves until ctx is canceled, then drains in-flight requests before
// returning.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("api shutting down")
	return s.http.Shutdown(shutdownCtx)
}
