// Package server exposes the intake pipeline over a JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sitewalk/bill-intake/internal/common"
)

// Server wires the HTTP mux over the application services.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New builds the server; h carries the handler dependencies.
func New(addr string, h *Handlers, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.Health)
	mux.HandleFunc("POST /api/documents", h.UploadDocument)
	mux.HandleFunc("POST /api/projects/{project}/extractions", h.StartExtraction)
	mux.HandleFunc("GET /api/extractions/{job_id}", h.ExtractionStatus)
	mux.HandleFunc("GET /api/projects/{project}/extractions", h.ListExtractions)
	mux.HandleFunc("GET /api/records/{record_id}", h.GetRecord)
	mux.HandleFunc("GET /api/projects/{project}/records", h.ListRecords)
	mux.HandleFunc("POST /api/corrections", h.SubmitCorrections)
	mux.HandleFunc("GET /api/records/{record_id}/corrections", h.ListCorrections)

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           requestLogger(mux, logger),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// ListenAndServe blocks until the listener fails or Shutdown runs.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

func requestLogger(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("request handled",
			"method", r.Method, "path", r.URL.Path, "elapsed_ms", time.Since(start).Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, common.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, common.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: "invalid_input"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: "internal"})
	}
}
