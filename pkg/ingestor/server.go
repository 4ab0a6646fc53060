package ingestor

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ethan/trinetra/pkg/logger"
)

// Server exposes the ingestor's health and per-camera state over HTTP,
// adapted from the teacher's mux + logging-middleware shape.
type Server struct {
	ingestor   *Ingestor
	logger     *logger.Logger
	httpServer *http.Server
}

// NewServer builds a Server for ingestor bound to addr.
func NewServer(ingestor *Ingestor, log *logger.Logger, addr string) *Server {
	if log == nil {
		log = logger.Default()
	}
	s := &Server{ingestor: ingestor, logger: log}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/cameras", s.handleCameras)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.withLogging(mux),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// ListenAndServe starts the HTTP server, blocking until it stops.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleCameras(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.ingestor.Snapshot())
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("ingestor: http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
