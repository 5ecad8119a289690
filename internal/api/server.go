// Package api implements the automation core's HTTP surface: webhook
// ingestion, automation CRUD, worker task lifecycle, confirmation
// replies, and document-ingest notifications. It does not serve a chat
// API or a web UI — those belong to the conversational front-end this
// module treats as an external collaborator.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/werdnum/family-assistant-go/internal/automation"
	"github.com/werdnum/family-assistant-go/internal/buildinfo"
	"github.com/werdnum/family-assistant-go/internal/confirm"
	"github.com/werdnum/family-assistant-go/internal/pipeline"
	"github.com/werdnum/family-assistant-go/internal/worker"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server for the automation core.
type Server struct {
	address string
	port    int
	logger  *slog.Logger
	server  *http.Server

	automationRegistry *automation.Registry
	webhookSource      *pipeline.WebhookSource
	workerOrchestrator *worker.Orchestrator
	workerStore        *worker.Store
	confirmMediator    *confirm.Mediator
	indexingSource     *pipeline.IndexingSource
}

// NewServer creates a new API server.
func NewServer(address string, port int, logger *slog.Logger) *Server {
	return &Server{
		address: address,
		port:    port,
		logger:  logger,
	}
}

// SetWebhookSource configures the pipeline webhook source whose Handler
// is mounted at POST /webhook/event.
func (s *Server) SetWebhookSource(ws *pipeline.WebhookSource) {
	s.webhookSource = ws
}

// SetWorkerOrchestrator configures the worker task orchestrator for the
// completion webhook and conversation-scoped task listing endpoints.
func (s *Server) SetWorkerOrchestrator(o *worker.Orchestrator, store *worker.Store) {
	s.workerOrchestrator = o
	s.workerStore = store
}

// SetConfirmMediator configures the confirmation mediator for the
// confirmation-reply endpoint.
func (s *Server) SetConfirmMediator(m *confirm.Mediator) {
	s.confirmMediator = m
}

// SetIndexingSource configures the document-ingest notification
// endpoint. A POST to /ingest with this unset returns 503.
func (s *Server) SetIndexingSource(is *pipeline.IndexingSource) {
	s.indexingSource = is
}

// Start begins serving HTTP requests.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	// Automation endpoints
	mux.HandleFunc("GET /automations", s.handleAutomationList)
	mux.HandleFunc("POST /automations/event", s.handleAutomationCreateEvent)
	mux.HandleFunc("POST /automations/schedule", s.handleAutomationCreateSchedule)
	mux.HandleFunc("GET /automations/{kind}/{id}", s.handleAutomationGet)
	mux.HandleFunc("PATCH /automations/{kind}/{id}", s.handleAutomationUpdate)
	mux.HandleFunc("DELETE /automations/{kind}/{id}", s.handleAutomationDelete)
	mux.HandleFunc("GET /automations/{kind}/{id}/stats", s.handleAutomationStats)

	// Webhook endpoint
	if s.webhookSource != nil {
		mux.HandleFunc("POST /webhook/event", s.webhookSource.Handler)
	}

	// Worker task endpoints
	if s.workerOrchestrator != nil {
		mux.HandleFunc("POST /workers/{task_id}/complete", worker.CompletionHandler(s.workerOrchestrator, s.logger))
	}
	mux.HandleFunc("GET /conversations/{conversation_id}/workers", s.handleConversationWorkers)

	// Confirmation reply endpoint
	mux.HandleFunc("POST /confirmations/{conversation_id}/{turn_id}/{tool_name}", s.handleConfirmationReply)

	// Document ingest notification, the indexing event source's producer
	if s.indexingSource != nil {
		mux.HandleFunc("POST /ingest", s.handleDocumentIngest)
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.withLogging(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Thane",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.RuntimeInfo(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "invalid_request_error",
			"code":    code,
		},
	}, s.logger)
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
