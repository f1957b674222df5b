// Package jobs records and executes maintenance jobs: one row per execution
// attempt of a scheduled task or analysis trigger.
package jobs

import "time"

// Status is the lifecycle state of a maintenance job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is one concrete execution attempt. A task or trigger may accumulate
// many jobs over its retries; jobs are write-once after completion.
type Job struct {
	ID           string     `json:"id"`
	TaskID       string     `json:"task_id,omitempty"`
	TriggerID    string     `json:"trigger_id,omitempty"`
	UserID       string     `json:"user_id"`
	Kind         string     `json:"kind"`
	Status       Status     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	ProcessingMs int64      `json:"processing_ms"`
	Error        string     `json:"error,omitempty"`
	Result       string     `json:"result,omitempty"`
}

// KindStats is the per-kind aggregate used by the maintenance report.
type KindStats struct {
	Kind             string  `json:"kind"`
	Total            int     `json:"total"`
	Completed        int     `json:"completed"`
	Failed           int     `json:"failed"`
	MeanProcessingMs float64 `json:"mean_processing_ms"`
}

// ErrorCount is one distinct failure message with how often it occurred.
type ErrorCount struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// Report is the maintenance reporting surface: counts, success rate, mean
// processing time, per-kind breakdown, the most common errors, and derived
// recommendations.
type Report struct {
	Since            time.Time    `json:"since"`
	Until            time.Time    `json:"until"`
	TotalJobs        int          `json:"total_jobs"`
	Completed        int          `json:"completed"`
	Failed           int          `json:"failed"`
	SuccessRate      float64      `json:"success_rate"`
	MeanProcessingMs float64      `json:"mean_processing_ms"`
	ByKind           []KindStats  `json:"by_kind"`
	RecentErrors     []ErrorCount `json:"recent_errors"`
	Recommendations  []string     `json:"recommendations"`
}
