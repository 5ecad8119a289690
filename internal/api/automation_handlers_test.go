package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/werdnum/family-assistant-go/internal/automation"
)

func newTestServer(t *testing.T) (*Server, *http.ServeMux) {
	t.Helper()
	store, err := automation.NewStore(filepath.Join(t.TempDir(), "api_test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	reg, err := automation.NewRegistry(store)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	s := NewServer("", 8080, testLogger())
	s.SetAutomationRegistry(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /automations", s.handleAutomationList)
	mux.HandleFunc("POST /automations/event", s.handleAutomationCreateEvent)
	mux.HandleFunc("POST /automations/schedule", s.handleAutomationCreateSchedule)
	mux.HandleFunc("GET /automations/{kind}/{id}", s.handleAutomationGet)
	mux.HandleFunc("PATCH /automations/{kind}/{id}", s.handleAutomationUpdate)
	mux.HandleFunc("DELETE /automations/{kind}/{id}", s.handleAutomationDelete)
	mux.HandleFunc("GET /automations/{kind}/{id}/stats", s.handleAutomationStats)
	return s, mux
}

func TestAutomationCreateEventAndGet(t *testing.T) {
	_, mux := newTestServer(t)

	body, _ := json.Marshal(map[string]any{
		"name":             "lights_on",
		"conversation_id":  "conv1",
		"action_type":      "wake_agent",
		"source_id":        "home",
		"match_conditions": map[string]any{"entity_id": "light.kitchen"},
	})
	req := httptest.NewRequest("POST", "/automations/event", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201, body=%s", rec.Code, rec.Body.String())
	}
	var created automation.Automation
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal created automation: %v", err)
	}

	getReq := httptest.NewRequest("GET", "/automations/event/"+strconv.FormatInt(created.ID, 10), nil)
	getRec := httptest.NewRecorder()
	mux.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200, body=%s", getRec.Code, getRec.Body.String())
	}
}

func TestAutomationCreateEventRejectsDuplicateName(t *testing.T) {
	_, mux := newTestServer(t)
	body, _ := json.Marshal(map[string]any{
		"name":             "dup",
		"conversation_id":  "conv1",
		"action_type":      "wake_agent",
		"source_id":        "home",
		"match_conditions": map[string]any{"entity_id": "light.kitchen"},
	})

	req1 := httptest.NewRequest("POST", "/automations/event", bytes.NewReader(body))
	rec1 := httptest.NewRecorder()
	mux.ServeHTTP(rec1, req1)
	if rec1.Code != http.StatusCreated {
		t.Fatalf("first create status = %d, want 201", rec1.Code)
	}

	req2 := httptest.NewRequest("POST", "/automations/event", bytes.NewReader(body))
	rec2 := httptest.NewRecorder()
	mux.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusBadRequest {
		t.Fatalf("duplicate create status = %d, want 400", rec2.Code)
	}
}

func TestAutomationGetNotFound(t *testing.T) {
	_, mux := newTestServer(t)
	req := httptest.NewRequest("GET", "/automations/event/9999", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestAutomationDeleteThenGetNotFound(t *testing.T) {
	_, mux := newTestServer(t)
	body, _ := json.Marshal(map[string]any{
		"name":             "to_delete",
		"conversation_id":  "conv1",
		"action_type":      "wake_agent",
		"source_id":        "home",
		"match_conditions": map[string]any{"entity_id": "light.kitchen"},
	})
	createReq := httptest.NewRequest("POST", "/automations/event", bytes.NewReader(body))
	createRec := httptest.NewRecorder()
	mux.ServeHTTP(createRec, createReq)
	var created automation.Automation
	json.Unmarshal(createRec.Body.Bytes(), &created)

	delReq := httptest.NewRequest("DELETE", "/automations/event/"+strconv.FormatInt(created.ID, 10), nil)
	delRec := httptest.NewRecorder()
	mux.ServeHTTP(delRec, delReq)
	if delRec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", delRec.Code)
	}

	getReq := httptest.NewRequest("GET", "/automations/event/"+strconv.FormatInt(created.ID, 10), nil)
	getRec := httptest.NewRecorder()
	mux.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusNotFound {
		t.Fatalf("get-after-delete status = %d, want 404", getRec.Code)
	}
}

func TestAutomationListWhenRegistryUnset(t *testing.T) {
	s := NewServer("", 8080, testLogger())
	req := httptest.NewRequest("GET", "/automations", nil)
	rec := httptest.NewRecorder()
	s.handleAutomationList(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
