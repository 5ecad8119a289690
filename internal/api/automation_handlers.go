package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/werdnum/family-assistant-go/internal/automation"
)

// SetAutomationRegistry configures the automation registry for the
// automation CRUD endpoints.
func (s *Server) SetAutomationRegistry(r *automation.Registry) {
	s.automationRegistry = r
}

func (s *Server) handleAutomationList(w http.ResponseWriter, r *http.Request) {
	if s.automationRegistry == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "automation registry not configured")
		return
	}

	q := r.URL.Query()
	f := automation.ListFilter{
		ConversationID: q.Get("conversation_id"),
		Kind:           automation.Kind(q.Get("automation_type")),
		Page:           parseIntParam(r, "page", 1),
		PageSize:       parseIntParam(r, "page_size", 20),
	}
	if enabledStr := q.Get("enabled"); enabledStr != "" {
		enabled, err := strconv.ParseBool(enabledStr)
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, "invalid enabled parameter")
			return
		}
		f.Enabled = &enabled
	}

	result, err := s.automationRegistry.List(f)
	if err != nil {
		s.logger.Error("automation list failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "list failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"automations": result.Automations,
		"total_count": result.TotalCount,
		"page":        result.Page,
		"page_size":   result.PageSize,
	}, s.logger)
}

type createEventRequest struct {
	Name            string         `json:"name"`
	Description     string         `json:"description,omitempty"`
	ConversationID  string         `json:"conversation_id"`
	InterfaceType   string         `json:"interface_type,omitempty"`
	Enabled         *bool          `json:"enabled,omitempty"`
	ActionType      string         `json:"action_type"`
	ActionConfig    map[string]any `json:"action_config,omitempty"`
	SourceID        string         `json:"source_id"`
	MatchConditions map[string]any `json:"match_conditions"`
	ConditionScript string         `json:"condition_script,omitempty"`
	OneTime         bool           `json:"one_time,omitempty"`
}

func (s *Server) handleAutomationCreateEvent(w http.ResponseWriter, r *http.Request) {
	if s.automationRegistry == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "automation registry not configured")
		return
	}

	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	a, err := s.automationRegistry.CreateEvent(automation.CreateEventParams{
		Name:            req.Name,
		Description:     req.Description,
		ConversationID:  req.ConversationID,
		InterfaceType:   req.InterfaceType,
		Enabled:         enabled,
		ActionType:      automation.ActionType(req.ActionType),
		ActionConfig:    req.ActionConfig,
		SourceID:        automation.SourceID(req.SourceID),
		MatchConditions: req.MatchConditions,
		ConditionScript: req.ConditionScript,
		OneTime:         req.OneTime,
	})
	if err != nil {
		s.writeAutomationError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, a, s.logger)
}

type createScheduleRequest struct {
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	ConversationID string         `json:"conversation_id"`
	InterfaceType  string         `json:"interface_type,omitempty"`
	Enabled        *bool          `json:"enabled,omitempty"`
	ActionType     string         `json:"action_type"`
	ActionConfig   map[string]any `json:"action_config,omitempty"`
	RecurrenceRule string         `json:"recurrence_rule"`
	Timezone       string         `json:"timezone"`
}

func (s *Server) handleAutomationCreateSchedule(w http.ResponseWriter, r *http.Request) {
	if s.automationRegistry == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "automation registry not configured")
		return
	}

	var req createScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	a, err := s.automationRegistry.CreateSchedule(automation.CreateScheduleParams{
		Name:           req.Name,
		Description:    req.Description,
		ConversationID: req.ConversationID,
		InterfaceType:  req.InterfaceType,
		Enabled:        enabled,
		ActionType:     automation.ActionType(req.ActionType),
		ActionConfig:   req.ActionConfig,
		RecurrenceRule: req.RecurrenceRule,
		Timezone:       req.Timezone,
	})
	if err != nil {
		s.writeAutomationError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, a, s.logger)
}

func automationKindAndID(r *http.Request) (automation.Kind, int64, error) {
	kind := automation.Kind(r.PathValue("kind"))
	if kind != automation.KindEvent && kind != automation.KindSchedule {
		return "", 0, errors.New("unknown kind")
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return "", 0, errors.New("invalid id")
	}
	return kind, id, nil
}

func (s *Server) handleAutomationGet(w http.ResponseWriter, r *http.Request) {
	if s.automationRegistry == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "automation registry not configured")
		return
	}
	kind, id, err := automationKindAndID(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	a, err := s.automationRegistry.Get(kind, id)
	if err != nil {
		s.writeAutomationError(w, err)
		return
	}
	if convID := r.URL.Query().Get("conversation_id"); convID != "" && a.ConversationID != convID {
		s.errorResponse(w, http.StatusNotFound, "automation not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, a, s.logger)
}

type updateAutomationRequest struct {
	Name            *string        `json:"name,omitempty"`
	Description     *string        `json:"description,omitempty"`
	MatchConditions map[string]any `json:"match_conditions,omitempty"`
	ActionConfig    map[string]any `json:"action_config,omitempty"`
	ConditionScript *string        `json:"condition_script,omitempty"`
	OneTime         *bool          `json:"one_time,omitempty"`
	Enabled         *bool          `json:"enabled,omitempty"`
	RecurrenceRule  *string        `json:"recurrence_rule,omitempty"`
	Timezone        *string        `json:"timezone,omitempty"`
}

func (s *Server) handleAutomationUpdate(w http.ResponseWriter, r *http.Request) {
	if s.automationRegistry == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "automation registry not configured")
		return
	}
	kind, id, err := automationKindAndID(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	var req updateAutomationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p := automation.UpdateParams{
		Name:            req.Name,
		Description:     req.Description,
		MatchConditions: req.MatchConditions,
		ActionConfig:    req.ActionConfig,
		ConditionScript: req.ConditionScript,
		OneTime:         req.OneTime,
		Enabled:         req.Enabled,
		RecurrenceRule:  req.RecurrenceRule,
		Timezone:        req.Timezone,
	}

	var a *automation.Automation
	switch kind {
	case automation.KindEvent:
		a, err = s.automationRegistry.UpdateEvent(id, p)
	case automation.KindSchedule:
		a, err = s.automationRegistry.UpdateSchedule(id, p)
	}
	if err != nil {
		s.writeAutomationError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, a, s.logger)
}

func (s *Server) handleAutomationDelete(w http.ResponseWriter, r *http.Request) {
	if s.automationRegistry == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "automation registry not configured")
		return
	}
	kind, id, err := automationKindAndID(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.automationRegistry.Delete(kind, id); err != nil {
		s.writeAutomationError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAutomationStats(w http.ResponseWriter, r *http.Request) {
	if s.automationRegistry == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "automation registry not configured")
		return
	}
	kind, id, err := automationKindAndID(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	stats, err := s.automationRegistry.Stats(kind, id)
	if err != nil {
		s.writeAutomationError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, stats, s.logger)
}

// writeAutomationError maps a registry/store error to the status codes
// named in spec.md §6: 400 invalid payload / duplicate name, 404
// not-found.
func (s *Server) writeAutomationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, automation.ErrNotFound):
		s.errorResponse(w, http.StatusNotFound, "automation not found")
	case errors.Is(err, automation.ErrNameConflict):
		s.errorResponse(w, http.StatusBadRequest, "name already in use")
	case errors.Is(err, automation.ErrInvalidArgument):
		s.errorResponse(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, automation.ErrQuotaExceeded):
		s.errorResponse(w, http.StatusTooManyRequests, "daily execution quota exceeded")
	default:
		s.logger.Error("automation request failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "internal error")
	}
}
