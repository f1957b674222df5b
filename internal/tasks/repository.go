package tasks

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Repository handles scheduled task and trigger persistence in core.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new task repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "tasks").Logger(),
	}
}

// --- Scheduled tasks ---

// CreateTask inserts a new scheduled task.
func (r *Repository) CreateTask(t *ScheduledTask) error {
	now := time.Now().Unix()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Unix(now, 0).UTC()
	}
	t.UpdatedAt = time.Unix(now, 0).UTC()

	cfg := "{}"
	if len(t.Configuration) > 0 {
		cfg = string(t.Configuration)
	}

	_, err := r.db.Exec(`
		INSERT INTO scheduled_tasks
		(id, user_id, kind, deck_id, frequency, next_run, last_run, is_active,
		 retry_count, max_retries, configuration, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, string(t.Kind), nullString(t.DeckID), string(t.Frequency),
		t.NextRun.Unix(), nullTime(t.LastRun), boolToInt(t.IsActive),
		t.RetryCount, t.MaxRetries, cfg, t.CreatedAt.Unix(), now,
	)
	if err != nil {
		return fmt.Errorf("failed to create task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask loads a task by ID. Returns nil when not found.
func (r *Repository) GetTask(id string) (*ScheduledTask, error) {
	row := r.db.QueryRow(taskSelect+" WHERE id = ?", id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task %s: %w", id, err)
	}
	return t, nil
}

// ListTasksForUser returns all tasks owned by a user, newest first.
func (r *Repository) ListTasksForUser(userID string) ([]*ScheduledTask, error) {
	rows, err := r.db.Query(taskSelect+" WHERE user_id = ? ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks for %s: %w", userID, err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// DueTasks returns active tasks whose next_run has passed, ordered by kind
// dispatch rank then next_run, mirroring Kind.DispatchRank. The rank keeps a
// backlog of heavy kinds from starving the lighter ones.
func (r *Repository) DueTasks(now time.Time, limit int) ([]*ScheduledTask, error) {
	rows, err := r.db.Query(
		taskSelect+`
		WHERE is_active = 1 AND next_run <= ?
		ORDER BY CASE kind
			WHEN 'price_updates' THEN 0
			WHEN 'deck_analysis' THEN 1
			WHEN 'set_monitoring' THEN 2
			WHEN 'meta_analysis' THEN 3
			WHEN 'portfolio_optimization' THEN 4
			ELSE 5
		END, next_run
		LIMIT ?`,
		now.Unix(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query due tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// CompleteTask records a successful run: retry count resets, last_run is set,
// and next_run advances to the frequency's next slot. The update is guarded on
// the retry count observed at dispatch so a concurrent retry path loses the
// race cleanly.
func (r *Repository) CompleteTask(id string, observedRetries int, ranAt, nextRun time.Time) (bool, error) {
	res, err := r.db.Exec(`
		UPDATE scheduled_tasks
		SET retry_count = 0, last_run = ?, next_run = ?, updated_at = ?
		WHERE id = ? AND retry_count = ?`,
		ranAt.Unix(), nextRun.Unix(), time.Now().Unix(), id, observedRetries,
	)
	if err != nil {
		return false, fmt.Errorf("failed to complete task %s: %w", id, err)
	}
	return rowsChanged(res), nil
}

// FailTask records a failed run. While the retry budget lasts, the retry
// count increments and next_run moves out by the backoff delay; the count may
// reach max_retries with the task still active. A failure at retry_count ==
// max_retries (the max_retries+1th consecutive failure) deactivates the task
// and resets its retry count.
func (r *Repository) FailTask(t *ScheduledTask, ranAt time.Time) (deactivated bool, err error) {
	now := time.Now().Unix()

	if t.RetryCount+1 > t.MaxRetries {
		res, err := r.db.Exec(`
			UPDATE scheduled_tasks
			SET is_active = 0, retry_count = 0, last_run = ?, updated_at = ?
			WHERE id = ? AND retry_count = ?`,
			ranAt.Unix(), now, t.ID, t.RetryCount,
		)
		if err != nil {
			return false, fmt.Errorf("failed to deactivate task %s: %w", t.ID, err)
		}
		return rowsChanged(res), nil
	}

	nextRun := ranAt.Add(Backoff(t.RetryCount))
	_, err = r.db.Exec(`
		UPDATE scheduled_tasks
		SET retry_count = retry_count + 1, last_run = ?, next_run = ?, updated_at = ?
		WHERE id = ? AND retry_count = ?`,
		ranAt.Unix(), nextRun.Unix(), now, t.ID, t.RetryCount,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record failure for task %s: %w", t.ID, err)
	}
	return false, nil
}

// UpdateTask rewrites a task's definition: kind, deck, frequency, next run,
// retry budget, and configuration. The update is guarded on the retry count
// observed at load so it cannot clobber a concurrent completion or failure;
// retry state and activation stay with their own operations.
func (r *Repository) UpdateTask(t *ScheduledTask, observedRetries int) (bool, error) {
	cfg := "{}"
	if len(t.Configuration) > 0 {
		cfg = string(t.Configuration)
	}

	res, err := r.db.Exec(`
		UPDATE scheduled_tasks
		SET kind = ?, deck_id = ?, frequency = ?, next_run = ?, max_retries = ?,
		    configuration = ?, updated_at = ?
		WHERE id = ? AND retry_count = ?`,
		string(t.Kind), nullString(t.DeckID), string(t.Frequency), t.NextRun.Unix(),
		t.MaxRetries, cfg, time.Now().Unix(), t.ID, observedRetries,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update task %s: %w", t.ID, err)
	}
	return rowsChanged(res), nil
}

// RescheduleTaskNow moves a task's next run to the given time. Used on
// shutdown so interrupted work retries immediately on the next start.
func (r *Repository) RescheduleTaskNow(id string, at time.Time) error {
	_, err := r.db.Exec(
		"UPDATE scheduled_tasks SET next_run = ?, updated_at = ? WHERE id = ?",
		at.Unix(), time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to reschedule task %s: %w", id, err)
	}
	return nil
}

// SetTaskActive toggles a task on or off.
func (r *Repository) SetTaskActive(id string, active bool) error {
	_, err := r.db.Exec(
		"UPDATE scheduled_tasks SET is_active = ?, updated_at = ? WHERE id = ?",
		boolToInt(active), time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set task %s active=%v: %w", id, active, err)
	}
	return nil
}

// DeleteTask removes a task.
func (r *Repository) DeleteTask(id string) error {
	if _, err := r.db.Exec("DELETE FROM scheduled_tasks WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	return nil
}

const taskSelect = `
	SELECT id, user_id, kind, deck_id, frequency, next_run, last_run, is_active,
	       retry_count, max_retries, configuration, created_at, updated_at
	FROM scheduled_tasks`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*ScheduledTask, error) {
	var t ScheduledTask
	var deckID sql.NullString
	var lastRun sql.NullInt64
	var nextRun, createdAt, updatedAt int64
	var isActive int
	var cfg string

	err := row.Scan(&t.ID, &t.UserID, (*string)(&t.Kind), &deckID, (*string)(&t.Frequency),
		&nextRun, &lastRun, &isActive, &t.RetryCount, &t.MaxRetries, &cfg, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	t.DeckID = deckID.String
	t.NextRun = time.Unix(nextRun, 0).UTC()
	if lastRun.Valid {
		lr := time.Unix(lastRun.Int64, 0).UTC()
		t.LastRun = &lr
	}
	t.IsActive = isActive != 0
	if cfg != "" && cfg != "{}" {
		t.Configuration = json.RawMessage(cfg)
	}
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	t.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]*ScheduledTask, error) {
	var out []*ScheduledTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- Analysis triggers ---

// CreateTrigger inserts a new pending trigger.
func (r *Repository) CreateTrigger(t *AnalysisTrigger) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.Status == "" {
		t.Status = StatusPending
	}

	_, err := r.db.Exec(`
		INSERT INTO analysis_triggers
		(id, user_id, deck_id, trigger_type, priority, status, scheduled_for,
		 retry_count, claimed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, ?)`,
		t.ID, t.UserID, nullString(t.DeckID), string(t.TriggerType),
		string(t.Priority), string(t.Status), t.ScheduledFor.Unix(),
		t.RetryCount, t.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create trigger %s: %w", t.ID, err)
	}
	return nil
}

// DueTriggers returns pending triggers whose scheduled_for has passed,
// ordered by priority then scheduled time.
func (r *Repository) DueTriggers(now time.Time, limit int) ([]*AnalysisTrigger, error) {
	rows, err := r.db.Query(triggerSelect+`
		WHERE status = 'pending' AND scheduled_for <= ?
		ORDER BY CASE priority
			WHEN 'immediate' THEN 0
			WHEN 'high' THEN 1
			WHEN 'medium' THEN 2
			ELSE 3
		END, scheduled_for
		LIMIT ?`, now.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due triggers: %w", err)
	}
	defer rows.Close()
	return scanTriggers(rows)
}

// ClaimTrigger atomically moves a pending trigger to processing. Returns
// false when another worker already claimed it.
func (r *Repository) ClaimTrigger(id string) (bool, error) {
	res, err := r.db.Exec(`
		UPDATE analysis_triggers
		SET status = 'processing', claimed_at = ?
		WHERE id = ? AND status = 'pending'`,
		time.Now().Unix(), id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim trigger %s: %w", id, err)
	}
	return rowsChanged(res), nil
}

// CompleteTrigger marks a processing trigger completed.
func (r *Repository) CompleteTrigger(id string) error {
	_, err := r.db.Exec(
		"UPDATE analysis_triggers SET status = 'completed' WHERE id = ? AND status = 'processing'", id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete trigger %s: %w", id, err)
	}
	return nil
}

// FailTrigger records a trigger failure. While the retry budget lasts the
// trigger returns to pending with its scheduled time pushed out by the
// backoff delay; a failure at retry_count == maxRetries marks it failed.
func (r *Repository) FailTrigger(t *AnalysisTrigger, maxRetries int, failedAt time.Time) (terminal bool, err error) {
	if t.RetryCount+1 > maxRetries {
		_, err = r.db.Exec(
			"UPDATE analysis_triggers SET status = 'failed', claimed_at = NULL WHERE id = ?", t.ID,
		)
		if err != nil {
			return false, fmt.Errorf("failed to mark trigger %s failed: %w", t.ID, err)
		}
		return true, nil
	}

	retryAt := failedAt.Add(Backoff(t.RetryCount))
	_, err = r.db.Exec(`
		UPDATE analysis_triggers
		SET status = 'pending', retry_count = retry_count + 1, scheduled_for = ?, claimed_at = NULL
		WHERE id = ?`,
		retryAt.Unix(), t.ID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to reschedule trigger %s: %w", t.ID, err)
	}
	return false, nil
}

// RescheduleTrigger returns a processing trigger to pending at the given time
// without consuming a retry. Used on shutdown so in-flight work is retried on
// the next start.
func (r *Repository) RescheduleTrigger(id string, at time.Time) error {
	_, err := r.db.Exec(`
		UPDATE analysis_triggers
		SET status = 'pending', scheduled_for = ?, claimed_at = NULL
		WHERE id = ? AND status = 'processing'`,
		at.Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to reschedule trigger %s: %w", id, err)
	}
	return nil
}

// RecoverStale returns every processing trigger to pending with an
// incremented retry counter. Called once at startup: any trigger still marked
// processing was orphaned by a crash.
func (r *Repository) RecoverStale() (int, error) {
	res, err := r.db.Exec(`
		UPDATE analysis_triggers
		SET status = 'pending', retry_count = retry_count + 1, claimed_at = NULL
		WHERE status = 'processing'`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale triggers: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		r.log.Warn().Int64("count", n).Msg("Recovered orphaned triggers from previous run")
	}
	return int(n), nil
}

// CountTriggersToday counts a user's triggers created since UTC midnight.
// The daily analysis limit is enforced against this count.
func (r *Repository) CountTriggersToday(userID string, now time.Time) (int, error) {
	midnight := time.Date(now.UTC().Year(), now.UTC().Month(), now.UTC().Day(), 0, 0, 0, 0, time.UTC)
	var n int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM analysis_triggers WHERE user_id = ? AND created_at >= ?",
		userID, midnight.Unix(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count triggers for %s: %w", userID, err)
	}
	return n, nil
}

// GetTrigger loads a trigger by ID. Returns nil when not found.
func (r *Repository) GetTrigger(id string) (*AnalysisTrigger, error) {
	row := r.db.QueryRow(triggerSelect+" WHERE id = ?", id)
	t, err := scanTrigger(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load trigger %s: %w", id, err)
	}
	return t, nil
}

const triggerSelect = `
	SELECT id, user_id, deck_id, trigger_type, priority, status, scheduled_for,
	       retry_count, claimed_at, created_at
	FROM analysis_triggers`

func scanTrigger(row rowScanner) (*AnalysisTrigger, error) {
	var t AnalysisTrigger
	var deckID sql.NullString
	var claimedAt sql.NullInt64
	var scheduledFor, createdAt int64

	err := row.Scan(&t.ID, &t.UserID, &deckID, (*string)(&t.TriggerType),
		(*string)(&t.Priority), (*string)(&t.Status), &scheduledFor,
		&t.RetryCount, &claimedAt, &createdAt)
	if err != nil {
		return nil, err
	}

	t.DeckID = deckID.String
	t.ScheduledFor = time.Unix(scheduledFor, 0).UTC()
	if claimedAt.Valid {
		ca := time.Unix(claimedAt.Int64, 0).UTC()
		t.ClaimedAt = &ca
	}
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &t, nil
}

func scanTriggers(rows *sql.Rows) ([]*AnalysisTrigger, error) {
	var out []*AnalysisTrigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trigger row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- helpers ---

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func rowsChanged(res sql.Result) bool {
	n, err := res.RowsAffected()
	return err == nil && n > 0
}
