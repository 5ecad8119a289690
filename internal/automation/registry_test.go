package automation

import (
	"path/filepath"
	"testing"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "registry_test.db")
	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	reg, err := NewRegistry(store)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func TestRegistryCreateEventPublishesListener(t *testing.T) {
	reg := newTestRegistry(t)

	if len(reg.Listeners().BySource[SourceHome]) != 0 {
		t.Fatal("expected empty initial listener snapshot")
	}

	_, err := reg.CreateEvent(CreateEventParams{
		Name: "lights_on", ConversationID: "conv1", Enabled: true,
		ActionType: ActionWakeAgent, SourceID: SourceHome,
		MatchConditions: map[string]any{"entity_id": "light.kitchen"},
	})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}

	snap := reg.Listeners()
	if len(snap.BySource[SourceHome]) != 1 {
		t.Fatalf("expected listener snapshot to include new automation, got %+v", snap.BySource)
	}
}

func TestRegistryCreateEventRejectsDuplicateName(t *testing.T) {
	reg := newTestRegistry(t)
	params := CreateEventParams{
		Name: "dup", ConversationID: "conv1", Enabled: true,
		ActionType: ActionWakeAgent, SourceID: SourceHome,
		MatchConditions: map[string]any{"entity_id": "light.kitchen"},
	}
	if _, err := reg.CreateEvent(params); err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if _, err := reg.CreateEvent(params); err != ErrNameConflict {
		t.Fatalf("expected ErrNameConflict, got %v", err)
	}
}

func TestRegistryCreateScheduleRequiresTimezone(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.CreateSchedule(CreateScheduleParams{
		Name: "daily", ConversationID: "conv1", Enabled: true,
		ActionType: ActionWakeAgent, RecurrenceRule: "FREQ=DAILY;BYHOUR=9",
	})
	if err == nil {
		t.Fatal("expected error for missing timezone")
	}
}

func TestRegistryCreateScheduleComputesNextRun(t *testing.T) {
	reg := newTestRegistry(t)
	a, err := reg.CreateSchedule(CreateScheduleParams{
		Name: "daily", ConversationID: "conv1", Enabled: true,
		ActionType: ActionWakeAgent, RecurrenceRule: "FREQ=DAILY;BYHOUR=9", Timezone: "UTC",
	})
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	if a.NextScheduledAt == nil {
		t.Fatal("expected next_scheduled_at to be computed")
	}
}

func TestRegistryDisableEventRemovesFromListeners(t *testing.T) {
	reg := newTestRegistry(t)
	a, err := reg.CreateEvent(CreateEventParams{
		Name: "lights_on", ConversationID: "conv1", Enabled: true,
		ActionType: ActionWakeAgent, SourceID: SourceHome,
		MatchConditions: map[string]any{"entity_id": "light.kitchen"},
	})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if err := reg.SetEnabled(KindEvent, a.ID, false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if len(reg.Listeners().BySource[SourceHome]) != 0 {
		t.Fatal("expected disabled automation to be removed from listener snapshot")
	}
}

func TestRegistryRecordExecutionOneTimeDisables(t *testing.T) {
	reg := newTestRegistry(t)
	a, err := reg.CreateEvent(CreateEventParams{
		Name: "once", ConversationID: "conv1", Enabled: true,
		ActionType: ActionWakeAgent, SourceID: SourceHome, OneTime: true,
		MatchConditions: map[string]any{"entity_id": "light.kitchen"},
	})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if err := reg.RecordExecution(KindEvent, a.ID, a.CreatedAt); err != nil {
		t.Fatalf("RecordExecution: %v", err)
	}
	got, err := reg.Get(KindEvent, a.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Enabled {
		t.Fatal("expected one-time automation to auto-disable after firing")
	}
	if len(reg.Listeners().BySource[SourceHome]) != 0 {
		t.Fatal("expected listener snapshot to drop the disabled one-time automation")
	}
}
