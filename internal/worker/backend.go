package worker

import "context"

// BackendStatus is the normalized status a Backend reports for a
// running job, distinct from Status: the backend does not know about
// timeout/cancellation bookkeeping, only whether the job is still
// running or how it exited.
type BackendStatus string

const (
	BackendRunning BackendStatus = "running"
	BackendSuccess BackendStatus = "success"
	BackendFailed  BackendStatus = "failed"
	BackendUnknown BackendStatus = "unknown" // backend has no record of the job
)

// BackendStatusResult is what Backend.Status reports.
type BackendStatusResult struct {
	Status   BackendStatus
	ExitCode *int
}

// SpawnRequest carries everything a Backend needs to start a worker
// process for one task.
type SpawnRequest struct {
	TaskID          string
	TaskDescription string
	Model           string
	TimeoutMinutes  int
	ContextFiles    []string
	WebhookURL      string // encodes task_id; backend must deliver CallbackToken back to it
	CallbackToken   string
}

// Backend is the external collaborator that actually runs worker
// processes — Docker containers, Kubernetes Jobs, or any other
// execution substrate. Implementations must be safe for concurrent use.
type Backend interface {
	// Spawn starts a worker process and returns its backend-specific
	// job handle (job_name).
	Spawn(ctx context.Context, req SpawnRequest) (jobName string, err error)
	// Status queries the current state of a previously spawned job.
	// BackendUnknown (not an error) means the backend has no record of
	// the job — the caller maps that to a "ghost job" failure.
	Status(ctx context.Context, jobName string) (BackendStatusResult, error)
	// Cancel stops a running job. Returns false (no error) if the job
	// was already finished or unknown.
	Cancel(ctx context.Context, jobName string) (bool, error)
	// Logs retrieves the job's recent log output, best-effort.
	Logs(ctx context.Context, jobName string, tailLines int) (string, error)
}
