package api

import (
	"fmt"
	"net/http"

	"github.com/veriledger/veriledger/pkg/contracts"
	"github.com/veriledger/veriledger/pkg/observability"
)

// statusRecorder captures the response code for instrumentation.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// TelemetryMiddleware traces each request and records RED metrics under the
// matched route pattern. A nil provider returns the mux untouched.
func TelemetryMiddleware(p *observability.Provider, mux *http.ServeMux) http.Handler {
	if p == nil {
		return mux
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, pattern := mux.Handler(r)
		if pattern == "" {
			pattern = r.URL.Path
		}

		ctx, finish := p.TrackOperation(r.Context(), pattern,
			observability.HTTPOperation(r.Method, pattern)...)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		mux.ServeHTTP(rec, r.WithContext(ctx))

		if rec.status >= http.StatusInternalServerError {
			finish(fmt.Errorf("http %d", rec.status))
		} else {
			finish(nil)
		}
	})
}

// recordAppend counts an accepted append on the telemetry provider.
func (s *Server) recordAppend(r *http.Request, env *contracts.Envelope, replayed bool) {
	if s.telemetry == nil || env == nil {
		return
	}
	s.telemetry.RecordAppend(r.Context(),
		observability.AppendAccepted(env.EventType, env.AggregateVersion, replayed)...)
}

// recordFault counts a rejected append by taxonomy kind.
func (s *Server) recordFault(r *http.Request, err error) {
	if s.telemetry == nil {
		return
	}
	if kind, ok := contracts.KindOf(err); ok {
		s.telemetry.RecordFault(r.Context(), string(kind))
	}
}
