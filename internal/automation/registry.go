package automation

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/werdnum/family-assistant-go/internal/recurrence"
)

// Registry is the unified CRUD surface over event- and schedule-kind
// automations. It publishes an immutable snapshot of enabled,
// per-source listeners after every mutation so the event processor can
// read the current rule set without taking a lock per event.
type Registry struct {
	store *Store

	// listeners is an atomic.Pointer to a ListenerSnapshot, republished
	// wholesale on every create/update/delete/enable-toggle. The
	// processor loads it once per event rather than querying
	// the store inline, so a slow write never blocks the hot path.
	listeners atomic.Pointer[ListenerSnapshot]
}

// ListenerSnapshot is an immutable, point-in-time view of enabled
// event-kind automations grouped by source, for the processor's match
// phase.
type ListenerSnapshot struct {
	BySource map[SourceID][]Automation
	TakenAt  time.Time
}

// NewRegistry constructs a Registry over an opened Store and primes the
// listener snapshot.
func NewRegistry(store *Store) (*Registry, error) {
	r := &Registry{store: store}
	if err := r.refreshListeners(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) refreshListeners() error {
	snap := &ListenerSnapshot{BySource: map[SourceID][]Automation{}, TakenAt: time.Now()}
	for _, src := range []SourceID{SourceHome, SourceWebhook, SourceIndex} {
		list, err := r.store.ListEnabledForSource(src)
		if err != nil {
			return fmt.Errorf("refresh listeners for %s: %w", src, err)
		}
		snap.BySource[src] = list
	}
	r.listeners.Store(snap)
	return nil
}

// Listeners returns the current published snapshot. Never nil once
// NewRegistry has returned successfully.
func (r *Registry) Listeners() *ListenerSnapshot {
	return r.listeners.Load()
}

func validateCommon(name, conversationID string, actionType ActionType) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidArgument)
	}
	if conversationID == "" {
		return fmt.Errorf("%w: conversation_id is required", ErrInvalidArgument)
	}
	switch actionType {
	case ActionWakeAgent, ActionScript:
	default:
		return fmt.Errorf("%w: unknown action_type %q", ErrInvalidArgument, actionType)
	}
	return nil
}

// CreateEvent validates and persists a new event-kind automation,
// then republishes the listener snapshot.
func (r *Registry) CreateEvent(p CreateEventParams) (*Automation, error) {
	if err := validateCommon(p.Name, p.ConversationID, p.ActionType); err != nil {
		return nil, err
	}
	switch p.SourceID {
	case SourceHome, SourceWebhook, SourceIndex:
	default:
		return nil, fmt.Errorf("%w: unknown source_id %q", ErrInvalidArgument, p.SourceID)
	}
	if len(p.MatchConditions) == 0 {
		return nil, fmt.Errorf("%w: match_conditions must not be empty (an automation may never match everything)", ErrInvalidArgument)
	}
	available, err := r.store.NameAvailable(p.ConversationID, p.Name, "", 0)
	if err != nil {
		return nil, err
	}
	if !available {
		return nil, ErrNameConflict
	}
	a, err := r.store.CreateEvent(p)
	if err != nil {
		return nil, err
	}
	if err := r.refreshListeners(); err != nil {
		return nil, err
	}
	return a, nil
}

// CreateSchedule validates and persists a new schedule-kind automation,
// computing its first fire time via internal/recurrence before the
// insert. This is the open question #1 enforcement point: Timezone is
// required.
func (r *Registry) CreateSchedule(p CreateScheduleParams) (*Automation, error) {
	if err := validateCommon(p.Name, p.ConversationID, p.ActionType); err != nil {
		return nil, err
	}
	if p.Timezone == "" {
		return nil, fmt.Errorf("%w: timezone is required for schedule automations", ErrInvalidArgument)
	}
	rule, err := decodeRule(p.RecurrenceRule, p.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	available, err := r.store.NameAvailable(p.ConversationID, p.Name, "", 0)
	if err != nil {
		return nil, err
	}
	if !available {
		return nil, ErrNameConflict
	}
	next, ok := rule.NextAfter(time.Now().In(rule.loc()), 0)
	var nextPtr *time.Time
	if ok {
		nextPtr = &next
	}
	return r.store.CreateSchedule(p, nextPtr)
}

// UpdateEvent applies a partial update, rejecting a rename that
// collides with another automation's name in the same conversation.
func (r *Registry) UpdateEvent(id int64, p UpdateParams) (*Automation, error) {
	current, err := r.store.GetEvent(id)
	if err != nil {
		return nil, err
	}
	if p.Name != nil && *p.Name != current.Name {
		available, err := r.store.NameAvailable(current.ConversationID, *p.Name, KindEvent, id)
		if err != nil {
			return nil, err
		}
		if !available {
			return nil, ErrNameConflict
		}
	}
	if err := r.store.UpdateEvent(id, p); err != nil {
		return nil, err
	}
	if err := r.refreshListeners(); err != nil {
		return nil, err
	}
	return r.store.GetEvent(id)
}

// UpdateSchedule applies a partial update, recomputing next_scheduled_at
// whenever the recurrence rule or timezone changes.
func (r *Registry) UpdateSchedule(id int64, p UpdateParams) (*Automation, error) {
	current, err := r.store.GetSchedule(id)
	if err != nil {
		return nil, err
	}
	if p.Name != nil && *p.Name != current.Name {
		available, err := r.store.NameAvailable(current.ConversationID, *p.Name, KindSchedule, id)
		if err != nil {
			return nil, err
		}
		if !available {
			return nil, ErrNameConflict
		}
	}

	ruleText, tz := current.RecurrenceRule, current.Timezone
	recompute := false
	if p.RecurrenceRule != nil {
		ruleText = *p.RecurrenceRule
		recompute = true
	}
	if p.Timezone != nil {
		if *p.Timezone == "" {
			return nil, fmt.Errorf("%w: timezone cannot be cleared", ErrInvalidArgument)
		}
		tz = *p.Timezone
		recompute = true
	}

	var nextPtr *time.Time
	if recompute {
		rule, err := decodeRule(ruleText, tz)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		next, ok := rule.NextAfter(time.Now().In(rule.loc()), current.ExecutionCount)
		if ok {
			nextPtr = &next
		}
	} else {
		nextPtr = current.NextScheduledAt
	}

	if err := r.store.UpdateSchedule(id, p, nextPtr); err != nil {
		return nil, err
	}
	return r.store.GetSchedule(id)
}

// SetEnabled toggles an automation's enabled flag and republishes the
// listener snapshot when the kind is event.
func (r *Registry) SetEnabled(kind Kind, id int64, enabled bool) error {
	p := UpdateParams{Enabled: &enabled}
	switch kind {
	case KindEvent:
		_, err := r.UpdateEvent(id, p)
		return err
	case KindSchedule:
		_, err := r.UpdateSchedule(id, p)
		return err
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidArgument, kind)
	}
}

// Delete removes an automation and republishes the listener snapshot
// when the kind is event.
func (r *Registry) Delete(kind Kind, id int64) error {
	if err := r.store.Delete(kind, id); err != nil {
		return err
	}
	if kind == KindEvent {
		return r.refreshListeners()
	}
	return nil
}

// Get returns a single automation by kind and ID.
func (r *Registry) Get(kind Kind, id int64) (*Automation, error) {
	return r.store.Get(kind, id)
}

// List returns a unified, paginated view across both kinds.
func (r *Registry) List(f ListFilter) (*ListResult, error) {
	return r.store.List(f)
}

// DueSchedules returns enabled schedule-kind automations whose
// next_scheduled_at is at or before asOf, for the schedule ticker
// source.
func (r *Registry) DueSchedules(asOf time.Time) ([]Automation, error) {
	return r.store.ListDueSchedules(asOf)
}

// Stats returns the execution accounting for a single automation.
func (r *Registry) Stats(kind Kind, id int64) (*Stats, error) {
	a, err := r.store.Get(kind, id)
	if err != nil {
		return nil, err
	}
	s := &Stats{DailyExecutions: a.DailyExecutions, LastExecutionAt: a.LastExecutionAt}
	if kind == KindSchedule {
		s.NextScheduledAt = a.NextScheduledAt
		count := a.ExecutionCount
		s.ExecutionCount = &count
	}
	return s, nil
}

// RecordExecution accounts for one firing of an automation. For
// schedule-kind automations it also advances next_scheduled_at via the
// recurrence engine, disabling the automation (next_scheduled_at = nil)
// once Count/Until exhausts the rule. For one-time event automations it
// disables the automation so it cannot fire again.
func (r *Registry) RecordExecution(kind Kind, id int64, now time.Time) error {
	if err := r.store.RecordExecution(kind, id, now, time.UTC); err != nil {
		return err
	}
	switch kind {
	case KindEvent:
		if err := r.store.DisableOneTime(id); err != nil {
			return err
		}
		return r.refreshListeners()
	case KindSchedule:
		a, err := r.store.GetSchedule(id)
		if err != nil {
			return err
		}
		rule, err := decodeRule(a.RecurrenceRule, a.Timezone)
		if err != nil {
			return fmt.Errorf("decode recurrence rule for automation %d: %w", id, err)
		}
		next, ok := rule.NextAfter(now.In(rule.loc()), a.ExecutionCount)
		if !ok {
			return r.store.SetNextScheduledAt(id, nil)
		}
		return r.store.SetNextScheduledAt(id, &next)
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidArgument, kind)
	}
}

func decodeRule(serialized, timezone string) (*recurrence.Rule, error) {
	rule, err := recurrence.Parse(serialized)
	if err != nil {
		return nil, err
	}
	rule.Timezone = timezone
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	return rule, nil
}
