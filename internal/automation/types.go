// Package automation implements the unified automation registry: a
// catalog of event-triggered and schedule-triggered rules, each with a
// name unique across both kinds within a conversation, enable/disable
// control, and execution accounting.
package automation

import "time"

// Kind distinguishes the two physical tables unified by the registry.
type Kind string

const (
	KindEvent    Kind = "event"
	KindSchedule Kind = "schedule"
)

// SourceID is the event source an event-kind automation listens on.
type SourceID string

const (
	SourceHome    SourceID = "home"
	SourceWebhook SourceID = "webhook"
	SourceIndex   SourceID = "indexing"
)

// ActionType is the closed set of things a matched automation can do.
type ActionType string

const (
	ActionWakeAgent ActionType = "wake_agent"
	ActionScript    ActionType = "script"
)

// Automation is the unified view over the event_automations and
// schedule_automations tables. Kind-specific fields are zero-valued
// when not applicable to the row's Kind.
type Automation struct {
	ID             int64
	Kind           Kind
	Name           string
	Description    string
	ConversationID string
	InterfaceType  string
	Enabled        bool
	ActionType     ActionType
	ActionConfig   map[string]any
	CreatedAt      time.Time
	LastExecutionAt *time.Time
	DailyExecutions int
	DailyResetAt    *time.Time

	// Event-kind only.
	SourceID         SourceID
	MatchConditions  map[string]any
	ConditionScript  string
	OneTime          bool

	// Schedule-kind only.
	RecurrenceRule  string // serialized recurrence.Rule
	Timezone        string
	NextScheduledAt *time.Time
	ExecutionCount  int
}

// Stats is the response shape for the per-automation stats endpoint.
type Stats struct {
	DailyExecutions int        `json:"daily_executions"`
	LastExecutionAt *time.Time `json:"last_execution_at,omitempty"`
	NextScheduledAt *time.Time `json:"next_scheduled_at,omitempty"`
	ExecutionCount  *int       `json:"execution_count,omitempty"`
}

// CreateEventParams carries the fields needed to create an event-kind
// automation.
type CreateEventParams struct {
	Name            string
	Description     string
	ConversationID  string
	InterfaceType   string
	Enabled         bool
	ActionType      ActionType
	ActionConfig    map[string]any
	SourceID        SourceID
	MatchConditions map[string]any
	ConditionScript string
	OneTime         bool
}

// CreateScheduleParams carries the fields needed to create a
// schedule-kind automation.
type CreateScheduleParams struct {
	Name           string
	Description    string
	ConversationID string
	InterfaceType  string
	Enabled        bool
	ActionType     ActionType
	ActionConfig   map[string]any
	RecurrenceRule string
	Timezone       string
}

// UpdateParams is a partial update; nil fields preserve prior values.
type UpdateParams struct {
	Name            *string
	Description     *string
	MatchConditions map[string]any
	ActionConfig    map[string]any
	ConditionScript *string
	OneTime         *bool
	Enabled         *bool
	RecurrenceRule  *string
	Timezone        *string
}

// ListFilter narrows a List call.
type ListFilter struct {
	ConversationID string
	Kind           Kind // empty = both kinds
	Enabled        *bool
	Page           int
	PageSize       int
}

// ListResult is the paginated response from List.
type ListResult struct {
	Automations []Automation
	TotalCount  int
	Page        int
	PageSize    int
}
