package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Config bundles the Orchestrator's tunables, matching the environment
// knobs SPEC_FULL.md §6 names.
type Config struct {
	MaxConcurrentWorkers  int
	TaskRetentionHours    int
	SubmittedTimeoutHours int
	RunningBufferMinutes  int
	ReconcileInterval     time.Duration
	SpawnGracePeriod      time.Duration // how long job_name may be absent before "no job_name" failure
}

func (c Config) orDefaults() Config {
	if c.MaxConcurrentWorkers <= 0 {
		c.MaxConcurrentWorkers = 4
	}
	if c.TaskRetentionHours <= 0 {
		c.TaskRetentionHours = 48
	}
	if c.SubmittedTimeoutHours <= 0 {
		c.SubmittedTimeoutHours = 1
	}
	if c.RunningBufferMinutes <= 0 {
		c.RunningBufferMinutes = 30
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = 60 * time.Second
	}
	if c.SpawnGracePeriod <= 0 {
		c.SpawnGracePeriod = 30 * time.Second
	}
	return c
}

// Orchestrator owns the WorkerTask lifecycle: spawning, periodic
// reconciliation against the backend, stale-marking, and retention
// cleanup. It runs three independent periodic goroutines plus the
// webhook handler's inline completion path, per spec.md §5.
type Orchestrator struct {
	store      *Store
	backend    Backend
	cfg        Config
	logger     *slog.Logger
	webhookURL func(taskID string) string
}

// New constructs an Orchestrator. webhookURLFn builds the completion
// webhook URL a backend should call for a given task_id (the caller
// knows the server's externally-reachable base URL; this package does
// not).
func New(store *Store, backend Backend, cfg Config, webhookURLFn func(taskID string) string, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:      store,
		backend:    backend,
		cfg:        cfg.orDefaults(),
		logger:     logger,
		webhookURL: webhookURLFn,
	}
}

// Spawn creates a new task row (rejecting if the concurrency cap is
// already met) and asks the backend to start it. Spec.md §4.7 steps
// 1-5.
func (o *Orchestrator) Spawn(ctx context.Context, p SpawnParams) (*Task, error) {
	token, err := NewCallbackToken()
	if err != nil {
		return nil, err
	}
	if p.Model == "" {
		p.Model = "claude"
	}
	if p.TimeoutMinutes <= 0 {
		p.TimeoutMinutes = 30
	}

	t := &Task{
		ConversationID:  p.ConversationID,
		InterfaceType:   p.InterfaceType,
		Model:           p.Model,
		TaskDescription: p.TaskDescription,
		ContextFiles:    p.ContextFiles,
		TimeoutMinutes:  p.TimeoutMinutes,
		CallbackToken:   token,
	}
	if err := o.store.CreateTaskIfUnderLimit(t, o.cfg.MaxConcurrentWorkers); err != nil {
		return nil, err
	}

	jobName, err := o.backend.Spawn(ctx, SpawnRequest{
		TaskID:          t.TaskID,
		TaskDescription: t.TaskDescription,
		Model:           t.Model,
		TimeoutMinutes:  t.TimeoutMinutes,
		ContextFiles:    t.ContextFiles,
		WebhookURL:      o.webhookURL(t.TaskID),
		CallbackToken:   token,
	})
	if err != nil {
		if serr := o.store.SetFailed(t.TaskID, fmt.Sprintf("backend spawn failed: %v", err)); serr != nil {
			o.logger.Error("failed to record spawn failure", "task_id", t.TaskID, "error", serr)
		}
		t.Status = StatusFailed
		return t, fmt.Errorf("backend spawn: %w", err)
	}

	if err := o.store.SetSubmitted(t.TaskID, jobName); err != nil {
		return nil, err
	}
	t.JobName = jobName
	t.Status = StatusSubmitted
	return t, nil
}

// Status returns the stored row for a task. Callers needing liveness
// observe the reconciled DB state rather than polling the backend
// directly, per spec.md §4.7.
func (o *Orchestrator) Status(taskID string) (*Task, error) {
	return o.store.GetByTaskID(taskID)
}

// Cancel stops an active task, delegating to the backend and marking
// the row cancelled on success.
func (o *Orchestrator) Cancel(ctx context.Context, taskID string) error {
	t, err := o.store.GetByTaskID(taskID)
	if err != nil {
		return err
	}
	if t.Status.Terminal() {
		return ErrAlreadyTerminal
	}
	if t.JobName != "" {
		if _, err := o.backend.Cancel(ctx, t.JobName); err != nil {
			return fmt.Errorf("backend cancel: %w", err)
		}
	}
	return o.store.Cancel(taskID)
}

// CompleteFromWebhook applies a completion report delivered by the
// backend or the worker itself, verifying the callback token first.
// Ignores (no-ops) reports for tasks already terminal, per spec.md
// §4.9's "duplicate webhook" rule.
func (o *Orchestrator) CompleteFromWebhook(taskID string, report CompletionReport) error {
	t, err := o.store.GetByTaskID(taskID)
	if err != nil {
		return err
	}
	if !tokensMatch(t.CallbackToken, report.Token) {
		return ErrUnauthorized
	}
	if t.Status.Terminal() {
		return nil
	}

	status := StatusSuccess
	if report.ExitCode != 0 {
		status = StatusFailed
	}
	if report.ErrorMessage != "" && report.ExitCode == 0 {
		// A worker can report a logical failure (error_message set)
		// while still exiting 0; treat error_message as authoritative.
		status = StatusFailed
	}
	return o.store.Complete(taskID, status, report.ExitCode, report.DurationSeconds, report.Summary, report.ErrorMessage, report.OutputFiles)
}

// RunReconciler blocks, polling the backend for every active task on
// cfg.ReconcileInterval, until ctx is cancelled.
func (o *Orchestrator) RunReconciler(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.reconcileOnce(ctx)
		}
	}
}

func (o *Orchestrator) reconcileOnce(ctx context.Context) {
	active, err := o.store.ListActive()
	if err != nil {
		o.logger.Error("reconciler: list active failed", "error", err)
		return
	}
	now := time.Now().UTC()
	for _, t := range active {
		if t.JobName == "" {
			if now.Sub(t.CreatedAt) > o.cfg.SpawnGracePeriod {
				if err := o.store.SetFailed(t.TaskID, "no job_name"); err != nil {
					o.logger.Warn("reconciler: mark failed (no job_name) error", "task_id", t.TaskID, "error", err)
				}
			}
			continue
		}

		result, err := o.backend.Status(ctx, t.JobName)
		if err != nil {
			o.logger.Warn("reconciler: backend status error", "task_id", t.TaskID, "error", err)
			continue
		}
		switch result.Status {
		case BackendUnknown:
			if err := o.store.SetFailed(t.TaskID, "ghost job"); err != nil {
				o.logger.Warn("reconciler: mark failed (ghost job) error", "task_id", t.TaskID, "error", err)
			}
		case BackendSuccess, BackendFailed:
			status := StatusSuccess
			if result.Status == BackendFailed {
				status = StatusFailed
			}
			exitCode := 0
			if result.ExitCode != nil {
				exitCode = *result.ExitCode
			}
			if err := o.store.Complete(t.TaskID, status, exitCode, 0, "", "", nil); err != nil {
				o.logger.Warn("reconciler: complete error", "task_id", t.TaskID, "error", err)
			}
		case BackendRunning:
			if t.Status == StatusSubmitted {
				if err := o.store.SetRunning(t.TaskID); err != nil {
					o.logger.Warn("reconciler: set running error", "task_id", t.TaskID, "error", err)
				}
			}
		}
	}
}

// RunStaleMarker blocks, sweeping for stale submitted/running tasks on
// the same cadence as the reconciler, until ctx is cancelled.
func (o *Orchestrator) RunStaleMarker(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.staleMarkOnce()
		}
	}
}

func (o *Orchestrator) staleMarkOnce() {
	active, err := o.store.ListActive()
	if err != nil {
		o.logger.Error("stale marker: list active failed", "error", err)
		return
	}
	now := time.Now().UTC()
	submittedTimeout := time.Duration(o.cfg.SubmittedTimeoutHours) * time.Hour
	runningBuffer := time.Duration(o.cfg.RunningBufferMinutes) * time.Minute

	for _, t := range active {
		switch t.Status {
		case StatusSubmitted:
			if now.Sub(t.CreatedAt) > submittedTimeout {
				if err := o.store.SetFailed(t.TaskID, "submitted timeout exceeded"); err != nil {
					o.logger.Warn("stale marker: mark failed error", "task_id", t.TaskID, "error", err)
				}
			}
		case StatusRunning:
			deadline := time.Duration(t.TimeoutMinutes)*time.Minute + runningBuffer
			startedAt := t.CreatedAt
			if t.StartedAt != nil {
				startedAt = *t.StartedAt
			}
			if now.Sub(startedAt) > deadline {
				if err := o.store.SetFailed(t.TaskID, "exceeded timeout"); err != nil {
					o.logger.Warn("stale marker: mark failed error", "task_id", t.TaskID, "error", err)
				}
			}
		}
	}
}

// RunCleanup blocks, deleting terminal tasks past the retention
// horizon on the same cadence, until ctx is cancelled.
func (o *Orchestrator) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.cleanupOnce()
		}
	}
}

func (o *Orchestrator) cleanupOnce() {
	cutoff := time.Now().UTC().Add(-time.Duration(o.cfg.TaskRetentionHours) * time.Hour)
	n, err := o.store.CleanupOldTasks(cutoff)
	if err != nil {
		o.logger.Error("cleanup: delete failed", "error", err)
		return
	}
	if n > 0 {
		o.logger.Info("cleaned up old worker tasks", "count", n)
	}
}
