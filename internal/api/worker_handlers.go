package api

import (
	"encoding/json"
	"net/http"

	"github.com/werdnum/family-assistant-go/internal/confirm"
	"github.com/werdnum/family-assistant-go/internal/worker"
)

// handleConversationWorkers lists worker tasks for a conversation,
// optionally filtered by status (spec.md §11's supplemented
// get_tasks_for_conversation endpoint).
func (s *Server) handleConversationWorkers(w http.ResponseWriter, r *http.Request) {
	if s.workerStore == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "worker tasks not configured")
		return
	}

	conversationID := r.PathValue("conversation_id")
	status := worker.Status(r.URL.Query().Get("status"))
	limit := parseIntParam(r, "limit", 10)

	tasks, err := s.workerStore.ListForConversation(conversationID, status, limit)
	if err != nil {
		s.logger.Error("list conversation workers failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "list failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"tasks": tasks,
		"count": len(tasks),
	}, s.logger)
}

type confirmationReplyRequest struct {
	Approved bool `json:"approved"`
}

// handleConfirmationReply is the HTTP adapter for the confirmation
// reply mechanism (spec.md §6): the front-end POSTs back the same
// correlation key (conversation_id, turn_id, tool_name) the Mediator
// handed it at prompt time, plus the user's decision.
func (s *Server) handleConfirmationReply(w http.ResponseWriter, r *http.Request) {
	if s.confirmMediator == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "confirmation mediator not configured")
		return
	}

	key := confirm.Key{
		ConversationID: r.PathValue("conversation_id"),
		TurnID:         r.PathValue("turn_id"),
		ToolName:       r.PathValue("tool_name"),
	}

	var req confirmationReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.confirmMediator.Reply(key, req.Approved); err != nil {
		switch err {
		case confirm.ErrUnknownRequest:
			s.errorResponse(w, http.StatusNotFound, "no outstanding confirmation request")
		case confirm.ErrAlreadyResolved:
			s.errorResponse(w, http.StatusConflict, "confirmation already resolved")
		default:
			s.logger.Error("confirmation reply failed", "error", err)
			s.errorResponse(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"status": "ok"}, s.logger)
}
