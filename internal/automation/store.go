package automation

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store persists automations across two physical tables — one per Kind
// — unified at read time via UNION ALL, mirroring the two-repository
// split this registry's source system uses internally.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if absent) the automation database at path
// and runs its migrations.
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
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS event_automations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		conversation_id TEXT NOT NULL,
		interface_type TEXT NOT NULL DEFAULT '',
		enabled INTEGER NOT NULL DEFAULT 1,
		action_type TEXT NOT NULL,
		action_config_json TEXT NOT NULL DEFAULT '{}',
		source_id TEXT NOT NULL,
		match_conditions_json TEXT NOT NULL DEFAULT '{}',
		condition_script TEXT NOT NULL DEFAULT '',
		one_time INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		last_execution_at TEXT,
		daily_executions INTEGER NOT NULL DEFAULT 0,
		daily_reset_at TEXT
	);

	CREATE TABLE IF NOT EXISTS schedule_automations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		conversation_id TEXT NOT NULL,
		interface_type TEXT NOT NULL DEFAULT '',
		enabled INTEGER NOT NULL DEFAULT 1,
		action_type TEXT NOT NULL,
		action_config_json TEXT NOT NULL DEFAULT '{}',
		recurrence_rule TEXT NOT NULL,
		timezone TEXT NOT NULL,
		created_at TEXT NOT NULL,
		last_execution_at TEXT,
		daily_executions INTEGER NOT NULL DEFAULT 0,
		daily_reset_at TEXT,
		next_scheduled_at TEXT,
		execution_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_event_automations_name
		ON event_automations(conversation_id, name);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_schedule_automations_name
		ON schedule_automations(conversation_id, name);
	CREATE INDEX IF NOT EXISTS idx_event_automations_source
		ON event_automations(source_id, enabled);
	CREATE INDEX IF NOT EXISTS idx_schedule_automations_next
		ON schedule_automations(next_scheduled_at) WHERE enabled = 1;

	CREATE TABLE IF NOT EXISTS recent_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_id TEXT NOT NULL,
		entity_key TEXT NOT NULL,
		window_start TEXT NOT NULL,
		sample_count INTEGER NOT NULL DEFAULT 1
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_recent_events_key
		ON recent_events(source_id, entity_key);
	`
	_, err := s.db.Exec(schema)
	return err
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
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

func marshalJSON(v map[string]any) (string, error) {
	if v == nil {
		v = map[string]any{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalJSON(s string) map[string]any {
	if s == "" {
		return map[string]any{}
	}
	var v map[string]any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return map[string]any{}
	}
	return v
}

// NameAvailable reports whether name is unused by any automation (of
// either kind) in the given conversation, optionally excluding one
// existing row (for update-in-place checks).
func (s *Store) NameAvailable(conversationID, name string, excludeKind Kind, excludeID int64) (bool, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM event_automations
				WHERE conversation_id = ? AND name = ?
				AND NOT (? = 'event' AND id = ?)) +
			(SELECT COUNT(*) FROM schedule_automations
				WHERE conversation_id = ? AND name = ?
				AND NOT (? = 'schedule' AND id = ?))
	`, conversationID, name, string(excludeKind), excludeID,
		conversationID, name, string(excludeKind), excludeID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

// CreateEvent inserts a new event-kind automation.
func (s *Store) CreateEvent(p CreateEventParams) (*Automation, error) {
	actionJSON, err := marshalJSON(p.ActionConfig)
	if err != nil {
		return nil, fmt.Errorf("marshal action_config: %w", err)
	}
	matchJSON, err := marshalJSON(p.MatchConditions)
	if err != nil {
		return nil, fmt.Errorf("marshal match_conditions: %w", err)
	}
	now := time.Now().UTC()
	res, err := s.db.Exec(`
		INSERT INTO event_automations
			(name, description, conversation_id, interface_type, enabled,
			 action_type, action_config_json, source_id,
			 match_conditions_json, condition_script, one_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.Name, p.Description, p.ConversationID, p.InterfaceType, boolInt(p.Enabled),
		string(p.ActionType), actionJSON, string(p.SourceID),
		matchJSON, p.ConditionScript, boolInt(p.OneTime), now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetEvent(id)
}

// CreateSchedule inserts a new schedule-kind automation. nextRun is the
// caller-computed first fire time (via internal/recurrence), since the
// store has no knowledge of recurrence expansion.
func (s *Store) CreateSchedule(p CreateScheduleParams, nextRun *time.Time) (*Automation, error) {
	actionJSON, err := marshalJSON(p.ActionConfig)
	if err != nil {
		return nil, fmt.Errorf("marshal action_config: %w", err)
	}
	now := time.Now().UTC()
	res, err := s.db.Exec(`
		INSERT INTO schedule_automations
			(name, description, conversation_id, interface_type, enabled,
			 action_type, action_config_json, recurrence_rule, timezone,
			 created_at, next_scheduled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.Name, p.Description, p.ConversationID, p.InterfaceType, boolInt(p.Enabled),
		string(p.ActionType), actionJSON, p.RecurrenceRule, p.Timezone,
		now.Format(time.RFC3339Nano), nullTime(nextRun))
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetSchedule(id)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const eventColumns = `id, name, description, conversation_id, interface_type, enabled,
	action_type, action_config_json, source_id, match_conditions_json,
	condition_script, one_time, created_at, last_execution_at,
	daily_executions, daily_reset_at`

const scheduleColumns = `id, name, description, conversation_id, interface_type, enabled,
	action_type, action_config_json, recurrence_rule, timezone, created_at,
	last_execution_at, daily_executions, daily_reset_at, next_scheduled_at,
	execution_count`

func scanEvent(row interface{ Scan(...any) error }) (*Automation, error) {
	var a Automation
	var enabled, oneTime int
	var actionJSON, matchJSON, createdAt string
	var lastExec, dailyReset sql.NullString
	err := row.Scan(&a.ID, &a.Name, &a.Description, &a.ConversationID, &a.InterfaceType,
		&enabled, &a.ActionType, &actionJSON, &a.SourceID, &matchJSON,
		&a.ConditionScript, &oneTime, &createdAt, &lastExec, &a.DailyExecutions, &dailyReset)
	if err != nil {
		return nil, err
	}
	a.Kind = KindEvent
	a.Enabled = enabled == 1
	a.OneTime = oneTime == 1
	a.ActionConfig = unmarshalJSON(actionJSON)
	a.MatchConditions = unmarshalJSON(matchJSON)
	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	a.LastExecutionAt = parseNullTime(lastExec)
	a.DailyResetAt = parseNullTime(dailyReset)
	return &a, nil
}

func scanSchedule(row interface{ Scan(...any) error }) (*Automation, error) {
	var a Automation
	var enabled int
	var actionJSON, createdAt string
	var lastExec, dailyReset, nextRun sql.NullString
	err := row.Scan(&a.ID, &a.Name, &a.Description, &a.ConversationID, &a.InterfaceType,
		&enabled, &a.ActionType, &actionJSON, &a.RecurrenceRule, &a.Timezone, &createdAt,
		&lastExec, &a.DailyExecutions, &dailyReset, &nextRun, &a.ExecutionCount)
	if err != nil {
		return nil, err
	}
	a.Kind = KindSchedule
	a.Enabled = enabled == 1
	a.ActionConfig = unmarshalJSON(actionJSON)
	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	a.LastExecutionAt = parseNullTime(lastExec)
	a.DailyResetAt = parseNullTime(dailyReset)
	a.NextScheduledAt = parseNullTime(nextRun)
	return &a, nil
}

// GetEvent fetches a single event-kind automation by ID.
func (s *Store) GetEvent(id int64) (*Automation, error) {
	row := s.db.QueryRow(`SELECT `+eventColumns+` FROM event_automations WHERE id = ?`, id)
	a, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return a, err
}

// GetSchedule fetches a single schedule-kind automation by ID.
func (s *Store) GetSchedule(id int64) (*Automation, error) {
	row := s.db.QueryRow(`SELECT `+scheduleColumns+` FROM schedule_automations WHERE id = ?`, id)
	a, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return a, err
}

// Get fetches an automation of either kind by ID, reading only the
// table that kind selects.
func (s *Store) Get(kind Kind, id int64) (*Automation, error) {
	switch kind {
	case KindEvent:
		return s.GetEvent(id)
	case KindSchedule:
		return s.GetSchedule(id)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidArgument, kind)
	}
}

// ListEnabledForSource returns enabled event-kind automations listening
// on the given source, for the processor's match phase.
func (s *Store) ListEnabledForSource(source SourceID) ([]Automation, error) {
	rows, err := s.db.Query(`SELECT `+eventColumns+` FROM event_automations
		WHERE source_id = ? AND enabled = 1`, string(source))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Automation
	for rows.Next() {
		a, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// ListDueSchedules returns enabled schedule-kind automations whose
// next_scheduled_at is at or before asOf.
func (s *Store) ListDueSchedules(asOf time.Time) ([]Automation, error) {
	rows, err := s.db.Query(`SELECT `+scheduleColumns+` FROM schedule_automations
		WHERE enabled = 1 AND next_scheduled_at IS NOT NULL AND next_scheduled_at <= ?`,
		asOf.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Automation
	for rows.Next() {
		a, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// List returns a unified, paginated view across both kinds, matching
// the registry's original `UNION ALL` listing with null-padded
// kind-specific columns.
func (s *Store) List(f ListFilter) (*ListResult, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 || f.PageSize > 200 {
		f.PageSize = 50
	}

	var kindFilter string
	switch f.Kind {
	case KindEvent, KindSchedule:
		kindFilter = string(f.Kind)
	case "":
		kindFilter = ""
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidArgument, f.Kind)
	}

	enabledClause := ""
	args := []any{}
	if f.Enabled != nil {
		enabledClause = "AND enabled = ?"
	}

	buildSide := func(kind Kind) (string, []any) {
		clause := "conversation_id = ?"
		sideArgs := []any{f.ConversationID}
		if enabledClause != "" {
			clause += " AND enabled = ?"
			sideArgs = append(sideArgs, boolInt(*f.Enabled))
		}
		if kind == KindEvent {
			return `SELECT id, 'event' as kind, name, description, conversation_id,
				interface_type, enabled, action_type, created_at, last_execution_at,
				daily_executions, next_scheduled_at, NULL as execution_count
				FROM (SELECT *, NULL as next_scheduled_at FROM event_automations)
				WHERE ` + clause, sideArgs
		}
		return `SELECT id, 'schedule' as kind, name, description, conversation_id,
			interface_type, enabled, action_type, created_at, last_execution_at,
			daily_executions, next_scheduled_at, execution_count
			FROM schedule_automations WHERE ` + clause, sideArgs
	}

	var query string
	switch kindFilter {
	case "event":
		q, a := buildSide(KindEvent)
		query = q
		args = a
	case "schedule":
		q, a := buildSide(KindSchedule)
		query = q
		args = a
	default:
		q1, a1 := buildSide(KindEvent)
		q2, a2 := buildSide(KindSchedule)
		query = q1 + " UNION ALL " + q2
		args = append(a1, a2...)
	}

	countQuery := `SELECT COUNT(*) FROM (` + query + `)`
	var total int
	if err := s.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, err
	}

	offset := (f.Page - 1) * f.PageSize
	pagedQuery := query + ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	pagedArgs := append(append([]any{}, args...), f.PageSize, offset)

	rows, err := s.db.Query(pagedQuery, pagedArgs...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Automation
	for rows.Next() {
		var a Automation
		var kind, actionType, createdAt string
		var enabled int
		var lastExec, nextRun sql.NullString
		var execCount sql.NullInt64
		if err := rows.Scan(&a.ID, &kind, &a.Name, &a.Description, &a.ConversationID,
			&a.InterfaceType, &enabled, &actionType, &createdAt, &lastExec,
			&a.DailyExecutions, &nextRun, &execCount); err != nil {
			return nil, err
		}
		a.Kind = Kind(kind)
		a.ActionType = ActionType(actionType)
		a.Enabled = enabled == 1
		a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		a.LastExecutionAt = parseNullTime(lastExec)
		a.NextScheduledAt = parseNullTime(nextRun)
		if execCount.Valid {
			a.ExecutionCount = int(execCount.Int64)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &ListResult{Automations: out, TotalCount: total, Page: f.Page, PageSize: f.PageSize}, nil
}

// UpdateEvent applies a partial update to an event-kind automation.
func (s *Store) UpdateEvent(id int64, p UpdateParams) error {
	current, err := s.GetEvent(id)
	if err != nil {
		return err
	}
	if p.Name != nil {
		current.Name = *p.Name
	}
	if p.Description != nil {
		current.Description = *p.Description
	}
	if p.MatchConditions != nil {
		current.MatchConditions = p.MatchConditions
	}
	if p.ActionConfig != nil {
		current.ActionConfig = p.ActionConfig
	}
	if p.ConditionScript != nil {
		current.ConditionScript = *p.ConditionScript
	}
	if p.OneTime != nil {
		current.OneTime = *p.OneTime
	}
	if p.Enabled != nil {
		current.Enabled = *p.Enabled
	}
	actionJSON, err := marshalJSON(current.ActionConfig)
	if err != nil {
		return err
	}
	matchJSON, err := marshalJSON(current.MatchConditions)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		UPDATE event_automations SET name = ?, description = ?, enabled = ?,
			action_config_json = ?, match_conditions_json = ?, condition_script = ?, one_time = ?
		WHERE id = ?
	`, current.Name, current.Description, boolInt(current.Enabled), actionJSON, matchJSON,
		current.ConditionScript, boolInt(current.OneTime), id)
	return err
}

// UpdateSchedule applies a partial update to a schedule-kind
// automation. When the recurrence rule or timezone changes, the caller
// must recompute nextRun (this store has no recurrence-expansion logic)
// and pass it; otherwise pass the existing value unchanged.
func (s *Store) UpdateSchedule(id int64, p UpdateParams, nextRun *time.Time) error {
	current, err := s.GetSchedule(id)
	if err != nil {
		return err
	}
	if p.Name != nil {
		current.Name = *p.Name
	}
	if p.Description != nil {
		current.Description = *p.Description
	}
	if p.ActionConfig != nil {
		current.ActionConfig = p.ActionConfig
	}
	if p.Enabled != nil {
		current.Enabled = *p.Enabled
	}
	if p.RecurrenceRule != nil {
		current.RecurrenceRule = *p.RecurrenceRule
	}
	if p.Timezone != nil {
		current.Timezone = *p.Timezone
	}
	actionJSON, err := marshalJSON(current.ActionConfig)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		UPDATE schedule_automations SET name = ?, description = ?, enabled = ?,
			action_config_json = ?, recurrence_rule = ?, timezone = ?, next_scheduled_at = ?
		WHERE id = ?
	`, current.Name, current.Description, boolInt(current.Enabled), actionJSON,
		current.RecurrenceRule, current.Timezone, nullTime(nextRun), id)
	return err
}

// Delete removes an automation of the given kind.
func (s *Store) Delete(kind Kind, id int64) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func tableFor(kind Kind) (string, error) {
	switch kind {
	case KindEvent:
		return "event_automations", nil
	case KindSchedule:
		return "schedule_automations", nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidArgument, kind)
	}
}

// RecordExecution increments the daily/total execution counters for an
// automation, resetting the daily counter first if the local day has
// rolled over since daily_reset_at — the same midnight-reset shape used
// elsewhere in this codebase for token accounting, applied per-row
// instead of per-process since quotas are per-automation.
func (s *Store) RecordExecution(kind Kind, id int64, now time.Time, loc *time.Location) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	if loc == nil {
		loc = time.UTC
	}
	row := s.db.QueryRow(`SELECT daily_reset_at FROM `+table+` WHERE id = ?`, id)
	var resetAt sql.NullString
	if err := row.Scan(&resetAt); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return err
	}
	reset := parseNullTime(resetAt)
	needsReset := reset == nil || reset.In(loc).YearDay() != now.In(loc).YearDay() || reset.In(loc).Year() != now.In(loc).Year()

	execCountClause := ""
	if kind == KindSchedule {
		execCountClause = ", execution_count = execution_count + 1"
	}

	if needsReset {
		// Compare-and-set on the daily_reset_at value read above, so two
		// concurrent resets cannot both overwrite the counter with 1.
		res, err := s.db.Exec(`UPDATE `+table+` SET daily_executions = 1, daily_reset_at = ?,
			last_execution_at = ?`+execCountClause+` WHERE id = ? AND daily_reset_at IS ?`,
			now.UTC().Format(time.RFC3339Nano), now.UTC().Format(time.RFC3339Nano), id, resetAt)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil || n > 0 {
			return err
		}
		// Another writer reset the day first: fall through to the increment.
	}
	_, err = s.db.Exec(`UPDATE `+table+` SET daily_executions = daily_executions + 1,
		last_execution_at = ?`+execCountClause+` WHERE id = ?`,
		now.UTC().Format(time.RFC3339Nano), id)
	return err
}

// SetNextScheduledAt updates a schedule automation's next fire time
// (nil disables further firing, e.g. once Count/Until are exhausted).
func (s *Store) SetNextScheduledAt(id int64, next *time.Time) error {
	_, err := s.db.Exec(`UPDATE schedule_automations SET next_scheduled_at = ? WHERE id = ?`,
		nullTime(next), id)
	return err
}

// DisableOneTime disables a one-time event automation after it has
// fired, so it cannot match again.
func (s *Store) DisableOneTime(id int64) error {
	_, err := s.db.Exec(`UPDATE event_automations SET enabled = 0 WHERE id = ? AND one_time = 1`, id)
	return err
}

// Sample records one occurrence of (sourceID, entityKey) for the
// source's dedup window and reports the running count within the
// window. Callers reset the window (ResetSampleWindow) once
// window_start falls outside the source's sample interval.
func (s *Store) Sample(sourceID SourceID, entityKey string, now time.Time) (count int, windowStart time.Time, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, time.Time{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRow(`SELECT window_start, sample_count FROM recent_events
		WHERE source_id = ? AND entity_key = ?`, string(sourceID), entityKey)
	var startStr string
	var sampleCount int
	err = row.Scan(&startStr, &sampleCount)
	switch {
	case err == sql.ErrNoRows:
		_, err = tx.Exec(`INSERT INTO recent_events (source_id, entity_key, window_start, sample_count)
			VALUES (?, ?, ?, 1)`, string(sourceID), entityKey, now.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return 0, time.Time{}, err
		}
		if err := tx.Commit(); err != nil {
			return 0, time.Time{}, err
		}
		return 1, now, nil
	case err != nil:
		return 0, time.Time{}, err
	}

	windowStart, _ = time.Parse(time.RFC3339Nano, startStr)
	sampleCount++
	_, err = tx.Exec(`UPDATE recent_events SET sample_count = ? WHERE source_id = ? AND entity_key = ?`,
		sampleCount, string(sourceID), entityKey)
	if err != nil {
		return 0, time.Time{}, err
	}
	if err := tx.Commit(); err != nil {
		return 0, time.Time{}, err
	}
	return sampleCount, windowStart, nil
}

// ResetSampleWindow starts a fresh dedup window for (sourceID,
// entityKey), used once the prior window has expired.
func (s *Store) ResetSampleWindow(sourceID SourceID, entityKey string, now time.Time) error {
	_, err := s.db.Exec(`UPDATE recent_events SET window_start = ?, sample_count = 1
		WHERE source_id = ? AND entity_key = ?`, now.UTC().Format(time.RFC3339Nano), string(sourceID), entityKey)
	return err
}

// PurgeSampleWindows deletes sampler rows whose window started before
// cutoff. Nothing in this module calls it on a schedule.
func (s *Store) PurgeSampleWindows(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM recent_events WHERE window_start < ?`, cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
