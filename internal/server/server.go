// Package server exposes the worker's observational surface: workflow
// status, health, and metrics. Submission stays on the queue; this listener
// never mutates a workflow.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/journal-graph-kernel/internal/domain"
	"github.com/journal-graph-kernel/internal/jsonx"
	"github.com/journal-graph-kernel/internal/pipeline"
)

// StatusSource answers workflow status queries.
type StatusSource interface {
	Status(ctx context.Context, workflowID string) (*domain.WorkflowStatus, error)
}

// Server is the HTTP status listener.
type Server struct {
	http   *http.Server
	logger *zap.Logger
}

// New builds the listener on addr.
func New(addr string, source StatusSource, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("server")

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}).Methods("GET")

	router.HandleFunc("/v1/journals/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		journalUUID := mux.Vars(r)["id"]
		status, err := source.Status(r.Context(), pipeline.WorkflowID(journalUUID))
		if err != nil {
			logger.Warn("status query failed",
				zap.String("journal", journalUUID), zap.Error(err))
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "workflow not found"})
			return
		}
		writeJSON(w, http.StatusOK, status)
	}).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return &Server{
		http: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// Start listens on its own goroutine until Shutdown.
func (s *Server) Start() {
	go func() {
		s.logger.Info("http listener starting", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("http listener failed", zap.Error(err))
		}
	}()
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := jsonx.Marshal(v)
	if err != nil {
		http.Error(w, "encoding failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}
