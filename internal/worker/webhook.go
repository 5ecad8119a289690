package worker

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// completionPayload mirrors the JSON body POSTed to
// /workers/{task_id}/complete.
type completionPayload struct {
	Token           string       `json:"token"`
	ExitCode        int          `json:"exit_code"`
	DurationSeconds int          `json:"duration_seconds"`
	Summary         string       `json:"summary,omitempty"`
	ErrorMessage    string       `json:"error_message,omitempty"`
	OutputFiles     []OutputFile `json:"output_files,omitempty"`
}

// CompletionHandler returns an http.HandlerFunc implementing the worker
// completion webhook (spec.md §6): token mismatch -> 401, unknown task
// -> 404, already-terminal -> 200 no-op. Wire it with
// mux.HandleFunc("POST /workers/{task_id}/complete", ...) on a Go 1.22+
// http.ServeMux, following this codebase's existing routing idiom
// (internal/api/server.go's r.PathValue-based handlers).
func CompletionHandler(o *Orchestrator, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		taskID := r.PathValue("task_id")
		if taskID == "" {
			errorResponse(w, logger, http.StatusBadRequest, "missing task_id")
			return
		}

		var payload completionPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			errorResponse(w, logger, http.StatusBadRequest, "invalid request body")
			return
		}

		err := o.CompleteFromWebhook(taskID, CompletionReport{
			Token:           payload.Token,
			ExitCode:        payload.ExitCode,
			DurationSeconds: payload.DurationSeconds,
			Summary:         payload.Summary,
			ErrorMessage:    payload.ErrorMessage,
			OutputFiles:     payload.OutputFiles,
		})
		switch {
		case err == nil:
			w.WriteHeader(http.StatusOK)
		case errors.Is(err, ErrNotFound):
			errorResponse(w, logger, http.StatusNotFound, "task not found")
		case errors.Is(err, ErrUnauthorized):
			errorResponse(w, logger, http.StatusUnauthorized, "unauthorized")
		default:
			logger.Error("worker completion webhook failed", "task_id", taskID, "error", err)
			errorResponse(w, logger, http.StatusInternalServerError, "internal error")
		}
	}
}

func errorResponse(w http.ResponseWriter, logger *slog.Logger, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": message, "code": code},
	}); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}
