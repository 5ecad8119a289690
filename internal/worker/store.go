package worker

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Store handles WorkerTask persistence.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if absent) a SQLite-backed worker task store.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS worker_tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL UNIQUE,
		conversation_id TEXT NOT NULL,
		interface_type TEXT NOT NULL,
		model TEXT NOT NULL,
		task_description TEXT NOT NULL,
		context_files_json TEXT NOT NULL DEFAULT '[]',
		timeout_minutes INTEGER NOT NULL DEFAULT 30,
		status TEXT NOT NULL DEFAULT 'pending',
		job_name TEXT,
		callback_token TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT,
		started_at TEXT,
		completed_at TEXT,
		duration_seconds INTEGER,
		exit_code INTEGER,
		output_files_json TEXT NOT NULL DEFAULT '[]',
		summary TEXT,
		error_message TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_worker_tasks_conversation ON worker_tasks(conversation_id);
	CREATE INDEX IF NOT EXISTS idx_worker_tasks_status ON worker_tasks(status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// NewTaskID generates a caller-facing task identifier: a UUIDv7, falling
// back to a v4 if the clock-based generator fails.
func NewTaskID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// NewCallbackToken generates a random hex token for webhook auth.
func NewCallbackToken() (string, error) {
	return randomToken(32)
}

const activeTaskCountQuery = `SELECT COUNT(*) FROM worker_tasks WHERE status IN ('pending','submitted','running')`

// CreateTaskIfUnderLimit inserts a new pending task iff the number of
// currently active tasks is below limit, in a single transaction so the
// count-then-insert is atomic (spec.md §5's "concurrency cap enforced
// by atomic count query + insert in one transaction").
func (s *Store) CreateTaskIfUnderLimit(t *Task, limit int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var active int
	if err := tx.QueryRow(activeTaskCountQuery).Scan(&active); err != nil {
		return err
	}
	if limit > 0 && active >= limit {
		return ErrConcurrencyLimit
	}

	if t.TaskID == "" {
		t.TaskID = NewTaskID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	t.Status = StatusPending

	contextFilesJSON, err := json.Marshal(t.ContextFiles)
	if err != nil {
		return fmt.Errorf("marshal context_files: %w", err)
	}

	res, err := tx.Exec(`
		INSERT INTO worker_tasks (
			task_id, conversation_id, interface_type, model, task_description,
			context_files_json, timeout_minutes, status, callback_token, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.TaskID, t.ConversationID, t.InterfaceType, t.Model, t.TaskDescription,
		string(contextFilesJSON), t.TimeoutMinutes, string(t.Status), t.CallbackToken,
		t.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = id

	return tx.Commit()
}

const taskColumns = `id, task_id, conversation_id, interface_type, model, task_description,
	context_files_json, timeout_minutes, status, job_name, callback_token, created_at,
	updated_at, started_at, completed_at, duration_seconds, exit_code, output_files_json,
	summary, error_message`

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*Task, error) {
	var t Task
	var contextFilesJSON, outputFilesJSON, status string
	var jobName, callbackToken, updatedAt, startedAt, completedAt, summary, errMsg sql.NullString
	var durationSeconds, exitCode sql.NullInt64
	var createdAt string

	err := row.Scan(
		&t.ID, &t.TaskID, &t.ConversationID, &t.InterfaceType, &t.Model, &t.TaskDescription,
		&contextFilesJSON, &t.TimeoutMinutes, &status, &jobName, &callbackToken, &createdAt,
		&updatedAt, &startedAt, &completedAt, &durationSeconds, &exitCode, &outputFilesJSON,
		&summary, &errMsg,
	)
	if err != nil {
		return nil, err
	}

	t.Status = Status(status)
	if jobName.Valid {
		t.JobName = jobName.String
	}
	if callbackToken.Valid {
		t.CallbackToken = callbackToken.String
	}
	if summary.Valid {
		t.Summary = summary.String
	}
	if errMsg.Valid {
		t.ErrorMessage = errMsg.String
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	t.UpdatedAt = parseNullTime(updatedAt)
	t.StartedAt = parseNullTime(startedAt)
	t.CompletedAt = parseNullTime(completedAt)
	if durationSeconds.Valid {
		d := int(durationSeconds.Int64)
		t.DurationSeconds = &d
	}
	if exitCode.Valid {
		c := int(exitCode.Int64)
		t.ExitCode = &c
	}
	if err := json.Unmarshal([]byte(contextFilesJSON), &t.ContextFiles); err != nil {
		return nil, fmt.Errorf("unmarshal context_files: %w", err)
	}
	if err := json.Unmarshal([]byte(outputFilesJSON), &t.OutputFiles); err != nil {
		return nil, fmt.Errorf("unmarshal output_files: %w", err)
	}

	return &t, nil
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

// GetByTaskID returns a single task by its caller-facing task_id.
func (s *Store) GetByTaskID(taskID string) (*Task, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM worker_tasks WHERE task_id = ?`, taskID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// ListForConversation returns tasks for a conversation, newest first,
// optionally filtered by status. Grounded on
// get_tasks_for_conversation in the original worker_tasks repository,
// restored here per SPEC_FULL.md's supplemented-features note.
func (s *Store) ListForConversation(conversationID string, status Status, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `SELECT ` + taskColumns + ` FROM worker_tasks WHERE conversation_id = ?`
	args := []any{conversationID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// ListActive returns all tasks in a non-terminal status, for the
// reconciler and stale-marker sweeps.
func (s *Store) ListActive() ([]Task, error) {
	rows, err := s.db.Query(`SELECT ` + taskColumns + ` FROM worker_tasks WHERE status IN ('pending','submitted','running')`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// RunningTasksCount reports the number of currently active tasks, for
// the concurrency-cap check outside the insert transaction (e.g. for
// status reporting).
func (s *Store) RunningTasksCount() (int, error) {
	var count int
	err := s.db.QueryRow(activeTaskCountQuery).Scan(&count)
	return count, err
}

// SetSubmitted records a successful backend spawn.
func (s *Store) SetSubmitted(taskID, jobName string) error {
	return s.updateStatus(taskID, StatusSubmitted, map[string]any{"job_name": jobName})
}

// SetFailed transitions a task to failed with an error message. Only
// takes effect if the row is not already terminal (spec.md §4.8: no
// backward transitions, webhook/reconciler no-ops on non-active rows).
func (s *Store) SetFailed(taskID, reason string) error {
	res, err := s.db.Exec(`
		UPDATE worker_tasks SET status = ?, error_message = ?, updated_at = ?, completed_at = ?
		WHERE task_id = ? AND status IN ('pending','submitted','running')
	`, string(StatusFailed), reason, nowRFC3339(), nowRFC3339(), taskID)
	if err != nil {
		return err
	}
	return checkRows(res)
}

// SetRunning transitions a submitted task to running.
func (s *Store) SetRunning(taskID string) error {
	res, err := s.db.Exec(`
		UPDATE worker_tasks SET status = ?, started_at = ?, updated_at = ?
		WHERE task_id = ? AND status = ?
	`, string(StatusRunning), nowRFC3339(), nowRFC3339(), taskID, string(StatusSubmitted))
	if err != nil {
		return err
	}
	return checkRows(res)
}

// Complete transitions an active task to a terminal status with
// results, guarded so a duplicate webhook for an already-terminal task
// is a silent no-op rather than an error.
func (s *Store) Complete(taskID string, status Status, exitCode, durationSeconds int, summary, errMsg string, outputFiles []OutputFile) error {
	outputJSON, err := json.Marshal(outputFiles)
	if err != nil {
		return fmt.Errorf("marshal output_files: %w", err)
	}
	res, err := s.db.Exec(`
		UPDATE worker_tasks SET
			status = ?, exit_code = ?, duration_seconds = ?, summary = ?, error_message = ?,
			output_files_json = ?, completed_at = ?, updated_at = ?
		WHERE task_id = ? AND status IN ('pending','submitted','running')
	`, string(status), exitCode, durationSeconds, summary, errMsg, string(outputJSON),
		nowRFC3339(), nowRFC3339(), taskID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	// No row updated: either the task doesn't exist, or it's already
	// terminal. Distinguish so unknown tasks still surface ErrNotFound
	// while a duplicate webhook for a terminal task is a silent no-op.
	if _, err := s.GetByTaskID(taskID); err != nil {
		return err
	}
	return nil
}

// Cancel marks a task cancelled, only if it is currently active.
// Returns ErrAlreadyTerminal if the row is already in a terminal state.
func (s *Store) Cancel(taskID string) error {
	res, err := s.db.Exec(`
		UPDATE worker_tasks SET status = ?, completed_at = ?, updated_at = ?
		WHERE task_id = ? AND status IN ('pending','submitted','running')
	`, string(StatusCancelled), nowRFC3339(), nowRFC3339(), taskID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyTerminal
	}
	return nil
}

// CleanupOldTasks deletes terminal-status rows older than cutoff. The
// explicit status filter is the correction of the Python original's
// unguarded DELETE (original_source's cleanup_old_tasks deletes purely
// by age): active rows, however old, are never eligible here — they
// remain the reconciler's and stale-marker's responsibility per
// spec.md §8 invariant #5.
func (s *Store) CleanupOldTasks(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`
		DELETE FROM worker_tasks
		WHERE created_at < ? AND status IN ('success','failed','timeout','cancelled')
	`, cutoff.Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) updateStatus(taskID string, status Status, extra map[string]any) error {
	jobName, _ := extra["job_name"].(string)
	res, err := s.db.Exec(`
		UPDATE worker_tasks SET status = ?, job_name = ?, updated_at = ?
		WHERE task_id = ?
	`, string(status), jobName, nowRFC3339(), taskID)
	if err != nil {
		return err
	}
	return checkRows(res)
}

func checkRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
