// Package worker implements the Worker Task Lifecycle: spawning
// isolated worker processes against an external backend, reconciling
// their status, marking stale tasks failed, and retaining a bounded
// history of terminal tasks.
package worker

import "time"

// Status is the closed set of states a WorkerTask can occupy.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
)

// Active reports whether a status is non-terminal, i.e. still owned by
// the Orchestrator and ineligible for retention cleanup.
func (s Status) Active() bool {
	switch s {
	case StatusPending, StatusSubmitted, StatusRunning:
		return true
	default:
		return false
	}
}

// Terminal reports whether a status will never transition again.
func (s Status) Terminal() bool {
	return !s.Active()
}

// OutputFile describes one artifact a worker produced.
type OutputFile struct {
	Path     string `json:"path"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Task is the unified row for a spawned worker process.
type Task struct {
	ID              int64
	TaskID          string // caller-facing UUID, distinct from the autoincrement row id
	ConversationID  string
	InterfaceType   string
	Model           string
	TaskDescription string
	ContextFiles    []string
	TimeoutMinutes  int
	Status          Status
	JobName         string // backend handle; empty until spawn succeeds
	CallbackToken   string // HMAC-style shared secret for completion webhook verification
	CreatedAt       time.Time
	UpdatedAt       *time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	DurationSeconds *int
	ExitCode        *int
	OutputFiles     []OutputFile
	Summary         string
	ErrorMessage    string
}

// SpawnParams is the caller-supplied input to Orchestrator.Spawn.
type SpawnParams struct {
	ConversationID  string
	InterfaceType   string
	Model           string
	TaskDescription string
	ContextFiles    []string
	TimeoutMinutes  int
}

// CompletionReport is the payload delivered by the completion webhook.
type CompletionReport struct {
	Token           string
	ExitCode        int
	DurationSeconds int
	Summary         string
	ErrorMessage    string
	OutputFiles     []OutputFile
}
