// Package settings provides the runtime-tunable scheduler settings stored in
// core.db. Settings are key-value pairs read each scheduler tick, so changes
// take effect without restarting the daemon.
package settings

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Repository handles settings database operations.
// Settings are stored as strings and converted to typed values on read.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new settings repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "settings").Logger(),
	}
}

// Get retrieves a setting value by key. Returns nil if the setting doesn't
// exist (not an error).
func (r *Repository) Get(key string) (*string, error) {
	var value string
	err := r.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return &value, nil
}

// Set stores a setting value (insert or update).
func (r *Repository) Set(key, value string) error {
	now := time.Now().Unix()
	_, err := r.db.Exec(
		"INSERT OR REPLACE INTO settings (key, value, updated_at) VALUES (?, ?, ?)",
		key, value, now,
	)
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// GetInt retrieves an integer setting, falling back to a default when the
// setting is absent or malformed.
func (r *Repository) GetInt(key string, fallback int) int {
	value, err := r.Get(key)
	if err != nil || value == nil {
		return fallback
	}
	n, err := strconv.Atoi(*value)
	if err != nil {
		r.log.Warn().Str("key", key).Str("value", *value).Msg("Malformed integer setting, using fallback")
		return fallback
	}
	return n
}

// GetBool retrieves a boolean setting with a fallback.
func (r *Repository) GetBool(key string, fallback bool) bool {
	value, err := r.Get(key)
	if err != nil || value == nil {
		return fallback
	}
	b, err := strconv.ParseBool(*value)
	if err != nil {
		return fallback
	}
	return b
}

// GetFloat retrieves a float setting with a fallback.
func (r *Repository) GetFloat(key string, fallback float64) float64 {
	value, err := r.Get(key)
	if err != nil || value == nil {
		return fallback
	}
	f, err := strconv.ParseFloat(*value, 64)
	if err != nil {
		r.log.Warn().Str("key", key).Str("value", *value).Msg("Malformed float setting, using fallback")
		return fallback
	}
	return f
}

// SchedulerSettings is the snapshot of scheduler tunables loaded each tick.
type SchedulerSettings struct {
	PollInterval      time.Duration
	MaxConcurrentJobs int
	JobTimeout        time.Duration
	ShutdownGrace     time.Duration
	// Maintenance window in UTC hours [Start, End); heavy task kinds only run
	// inside it. Start > End means the window wraps past midnight.
	WindowStartHour int
	WindowEndHour   int
	// EnabledKinds is a comma-separated task-kind allowlist; empty means all.
	EnabledKinds []string
	BackupHour   int
}

// LoadSchedulerSettings reads the scheduler tunables with documented defaults:
// 60s poll, 3 concurrent jobs, 300s job timeout, 30s shutdown grace,
// maintenance window 02:00-06:00 UTC.
func (r *Repository) LoadSchedulerSettings() SchedulerSettings {
	s := SchedulerSettings{
		PollInterval:      time.Duration(r.GetInt("scheduler_poll_seconds", 60)) * time.Second,
		MaxConcurrentJobs: r.GetInt("scheduler_max_concurrent_jobs", 3),
		JobTimeout:        time.Duration(r.GetInt("scheduler_job_timeout_seconds", 300)) * time.Second,
		ShutdownGrace:     time.Duration(r.GetInt("scheduler_shutdown_grace_seconds", 30)) * time.Second,
		WindowStartHour:   r.GetInt("maintenance_window_start_hour", 2),
		WindowEndHour:     r.GetInt("maintenance_window_end_hour", 6),
		BackupHour:        r.GetInt("backup_hour", 3),
	}

	if kinds, err := r.Get("scheduler_enabled_kinds"); err == nil && kinds != nil && *kinds != "" {
		for _, k := range strings.Split(*kinds, ",") {
			k = strings.TrimSpace(k)
			if k != "" {
				s.EnabledKinds = append(s.EnabledKinds, k)
			}
		}
	}

	return s
}

// KindEnabled reports whether a task kind passes the allowlist.
func (s SchedulerSettings) KindEnabled(kind string) bool {
	if len(s.EnabledKinds) == 0 {
		return true
	}
	for _, k := range s.EnabledKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// InMaintenanceWindow reports whether t falls inside the maintenance window.
func (s SchedulerSettings) InMaintenanceWindow(t time.Time) bool {
	hour := t.UTC().Hour()
	if s.WindowStartHour == s.WindowEndHour {
		// Degenerate window: always open
		return true
	}
	if s.WindowStartHour < s.WindowEndHour {
		return hour >= s.WindowStartHour && hour < s.WindowEndHour
	}
	// Wraps past midnight
	return hour >= s.WindowStartHour || hour < s.WindowEndHour
}
