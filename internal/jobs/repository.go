package jobs

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Repository persists maintenance jobs in cache.db. Job history is
// operational data: useful for the report, safe to lose.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new job repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "jobs").Logger(),
	}
}

// Create inserts a job row in its initial state.
func (r *Repository) Create(j *Job) error {
	_, err := r.db.Exec(`
		INSERT INTO maintenance_jobs
		(id, task_id, trigger_id, user_id, kind, status, started_at, finished_at,
		 processing_ms, error, result)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL, 0, '', '')`,
		j.ID, nullString(j.TaskID), nullString(j.TriggerID), j.UserID,
		j.Kind, string(j.Status), j.StartedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", j.ID, err)
	}
	return nil
}

// Finish writes the terminal state of a job. Jobs are write-once after this.
func (r *Repository) Finish(j *Job) error {
	if j.FinishedAt == nil {
		now := time.Now().UTC()
		j.FinishedAt = &now
	}
	j.ProcessingMs = j.FinishedAt.Sub(j.StartedAt).Milliseconds()

	_, err := r.db.Exec(`
		UPDATE maintenance_jobs
		SET status = ?, finished_at = ?, processing_ms = ?, error = ?, result = ?
		WHERE id = ?`,
		string(j.Status), j.FinishedAt.Unix(), j.ProcessingMs, j.Error, j.Result, j.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish job %s: %w", j.ID, err)
	}
	return nil
}

// Get loads a job by ID. Returns nil when not found.
func (r *Repository) Get(id string) (*Job, error) {
	row := r.db.QueryRow(jobSelect+" WHERE id = ?", id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	return j, nil
}

// ListRecent returns the most recent jobs, newest first.
func (r *Repository) ListRecent(limit int) ([]*Job, error) {
	rows, err := r.db.Query(jobSelect+" ORDER BY started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// FailOrphaned force-fails every job still marked running. Called at startup
// and at the end of the shutdown grace period.
func (r *Repository) FailOrphaned(reason string) (int, error) {
	now := time.Now().UTC()
	res, err := r.db.Exec(`
		UPDATE maintenance_jobs
		SET status = 'failed', error = ?, finished_at = ?
		WHERE status IN ('pending', 'running')`,
		reason, now.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to fail orphaned jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		r.log.Warn().Int64("count", n).Str("reason", reason).Msg("Force-failed orphaned jobs")
	}
	return int(n), nil
}

// Aggregate computes the report numbers over a window of terminal jobs.
func (r *Repository) Aggregate(since, until time.Time) (total, completed, failed int, meanMs float64, err error) {
	err = r.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(processing_ms), 0)
		FROM maintenance_jobs
		WHERE started_at >= ? AND started_at < ? AND status IN ('completed', 'failed')`,
		since.Unix(), until.Unix(),
	).Scan(&total, &completed, &failed, &meanMs)
	if err != nil {
		err = fmt.Errorf("failed to aggregate jobs: %w", err)
	}
	return
}

// AggregateByKind computes per-kind stats over a window of terminal jobs.
func (r *Repository) AggregateByKind(since, until time.Time) ([]KindStats, error) {
	rows, err := r.db.Query(`
		SELECT kind, COUNT(*),
		       COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(processing_ms), 0)
		FROM maintenance_jobs
		WHERE started_at >= ? AND started_at < ? AND status IN ('completed', 'failed')
		GROUP BY kind ORDER BY kind`,
		since.Unix(), until.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate jobs by kind: %w", err)
	}
	defer rows.Close()

	var out []KindStats
	for rows.Next() {
		var s KindStats
		if err := rows.Scan(&s.Kind, &s.Total, &s.Completed, &s.Failed, &s.MeanProcessingMs); err != nil {
			return nil, fmt.Errorf("failed to scan kind stats: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// RecentErrors returns the most common error messages from failed jobs in a
// window, most frequent first, each with its occurrence count.
func (r *Repository) RecentErrors(since, until time.Time, limit int) ([]ErrorCount, error) {
	rows, err := r.db.Query(`
		SELECT error, COUNT(*) FROM maintenance_jobs
		WHERE started_at >= ? AND started_at < ? AND status = 'failed' AND error != ''
		GROUP BY error ORDER BY COUNT(*) DESC, MAX(started_at) DESC LIMIT ?`,
		since.Unix(), until.Unix(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent errors: %w", err)
	}
	defer rows.Close()

	var out []ErrorCount
	for rows.Next() {
		var e ErrorCount
		if err := rows.Scan(&e.Message, &e.Count); err != nil {
			return nil, fmt.Errorf("failed to scan error row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const jobSelect = `
	SELECT id, task_id, trigger_id, user_id, kind, status, started_at,
	       finished_at, processing_ms, error, result
	FROM maintenance_jobs`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var taskID, triggerID sql.NullString
	var finishedAt sql.NullInt64
	var startedAt int64

	err := row.Scan(&j.ID, &taskID, &triggerID, &j.UserID, &j.Kind,
		(*string)(&j.Status), &startedAt, &finishedAt, &j.ProcessingMs, &j.Error, &j.Result)
	if err != nil {
		return nil, err
	}

	j.TaskID = taskID.String
	j.TriggerID = triggerID.String
	j.StartedAt = time.Unix(startedAt, 0).UTC()
	if finishedAt.Valid {
		fa := time.Unix(finishedAt.Int64, 0).UTC()
		j.FinishedAt = &fa
	}
	return &j, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
