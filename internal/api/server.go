// Package api is the HTTP control plane. It registers one route per
// operation against a plain net/http.ServeMux using Go 1.22's
// method+pattern routing. There is no auth or rate-limiting layer; the
// control plane trusts its callers.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fleetops/missionctl/internal/logging"
	"github.com/fleetops/missionctl/internal/mission"
)

// Server wires the mission registry into an HTTP handler.
type Server struct {
	Missions *mission.Server
}

// NewServer builds the control-plane Server over missions.
func NewServer(missions *mission.Server) *Server {
	return &Server{Missions: missions}
}

// Handler builds the request-logging-wrapped http.Handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return requestLogMiddleware(mux)
}

// StartHTTPServer builds and starts the control-plane HTTP server on addr,
// returning the *http.Server so the caller can Shutdown it.
func (s *Server) StartHTTPServer(addr string) *http.Server {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Op().Error("HTTP server error", "error", err)
		}
	}()
	return srv
}

// requestLogMiddleware times each request and records it via
// logging.Default().
func requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(ctx))

		logging.Default().Log(&logging.RequestLog{
			Timestamp:  start,
			RequestID:  reqID,
			Method:     r.Method,
			Path:       r.URL.Path,
			Status:     sw.status,
			DurationMs: time.Since(start).Milliseconds(),
		})
	})
}

type requestIDKey struct{}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
