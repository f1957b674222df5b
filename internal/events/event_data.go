package events

import "time"

// JobStatusData is emitted for job lifecycle events (started, progress,
// completed, failed).
type JobStatusData struct {
	JobID       string           `json:"job_id"`
	Kind        string           `json:"kind"`
	Status      string           `json:"status"`
	Description string           `json:"description,omitempty"`
	Error       string           `json:"error,omitempty"`
	Progress    *JobProgressInfo `json:"progress,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}

// JobProgressInfo carries progress counts for a running job.
type JobProgressInfo struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message,omitempty"`
}

// TriggerCreatedData is emitted when the evaluator persists a new trigger.
type TriggerCreatedData struct {
	TriggerID string `json:"trigger_id"`
	UserID    string `json:"user_id"`
	DeckID    string `json:"deck_id,omitempty"`
	Type      string `json:"type"`
	Priority  string `json:"priority"`
}

// ResultReadyData is emitted when suggestions or a portfolio result is stored.
type ResultReadyData struct {
	UserID string `json:"user_id"`
	DeckID string `json:"deck_id,omitempty"`
	Count  int    `json:"count,omitempty"`
}

// NotificationData is the payload for NotificationQueued events.
type NotificationData struct {
	UserID  string      `json:"user_id"`
	Kind    string      `json:"kind"`
	Payload interface{} `json:"payload,omitempty"`
}

// PriceTickData is emitted by the live price feed.
type PriceTickData struct {
	CardID   string  `json:"card_id"`
	Price    float64 `json:"price"`
	OldPrice float64 `json:"old_price,omitempty"`
}

// BackupCompletedData is emitted after a backup upload finishes.
type BackupCompletedData struct {
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
}
