// Package tasks defines the scheduling data model: recurring scheduled tasks
// and one-shot analysis triggers, plus their persistence.
package tasks

import (
	"encoding/json"
	"time"

	"github.com/mleone/deckwarden/internal/domain"
)

// Kind identifies what a scheduled task or trigger does when executed.
// The set is closed; unknown kinds are rejected at the API boundary and
// fail fast in the executor.
type Kind string

const (
	KindDeckAnalysis          Kind = "deck_analysis"
	KindPortfolioOptimization Kind = "portfolio_optimization"
	KindSetMonitoring         Kind = "set_monitoring"
	KindPriceUpdates          Kind = "price_updates"
	KindMetaAnalysis          Kind = "meta_analysis"
)

// AllKinds lists every valid task kind.
var AllKinds = []Kind{
	KindDeckAnalysis,
	KindPortfolioOptimization,
	KindSetMonitoring,
	KindPriceUpdates,
	KindMetaAnalysis,
}

// Valid reports whether k is a known task kind.
func (k Kind) Valid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Heavy reports whether the kind is restricted to the maintenance window.
// Portfolio optimization and meta analysis touch every deck or the whole
// meta dataset, so they only run off-peak.
func (k Kind) Heavy() bool {
	return k == KindPortfolioOptimization || k == KindMetaAnalysis
}

// DispatchRank orders due tasks within a scheduler tick; lower runs first.
// Price updates lead because every other kind reads prices, then per-deck
// analysis, then the heavier portfolio-wide kinds.
func (k Kind) DispatchRank() int {
	switch k {
	case KindPriceUpdates:
		return 0
	case KindDeckAnalysis:
		return 1
	case KindSetMonitoring:
		return 2
	case KindMetaAnalysis:
		return 3
	case KindPortfolioOptimization:
		return 4
	}
	return 5
}

// Frequency is the recurrence of a scheduled task.
type Frequency string

const (
	FrequencyHourly  Frequency = "hourly"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

// ScheduledTask is a recurring unit of work owned by a user.
type ScheduledTask struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Kind          Kind            `json:"kind"`
	DeckID        string          `json:"deck_id,omitempty"`
	Frequency     Frequency       `json:"frequency"`
	NextRun       time.Time       `json:"next_run"`
	LastRun       *time.Time      `json:"last_run,omitempty"`
	IsActive      bool            `json:"is_active"`
	RetryCount    int             `json:"retry_count"`
	MaxRetries    int             `json:"max_retries"`
	Configuration json.RawMessage `json:"configuration,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Due reports whether the task should be dispatched at time now.
func (t *ScheduledTask) Due(now time.Time) bool {
	return t.IsActive && !t.NextRun.After(now)
}

// Priority ranks how soon a trigger should execute.
type Priority string

const (
	PriorityImmediate Priority = "immediate"
	PriorityHigh      Priority = "high"
	PriorityMedium    Priority = "medium"
	PriorityLow       Priority = "low"
)

// Rank returns the sort weight of a priority; lower runs first.
func (p Priority) Rank() int {
	switch p {
	case PriorityImmediate:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	}
	return 4
}

// TriggerStatus is the lifecycle state of an analysis trigger.
type TriggerStatus string

const (
	StatusPending    TriggerStatus = "pending"
	StatusProcessing TriggerStatus = "processing"
	StatusCompleted  TriggerStatus = "completed"
	StatusFailed     TriggerStatus = "failed"
)

// AnalysisTrigger is a one-shot analysis request produced by the evaluator
// in response to a change event.
type AnalysisTrigger struct {
	ID           string                 `json:"id"`
	UserID       string                 `json:"user_id"`
	DeckID       string                 `json:"deck_id,omitempty"`
	TriggerType  domain.ChangeEventType `json:"trigger_type"`
	Priority     Priority               `json:"priority"`
	Status       TriggerStatus          `json:"status"`
	ScheduledFor time.Time              `json:"scheduled_for"`
	RetryCount   int                    `json:"retry_count"`
	ClaimedAt    *time.Time             `json:"claimed_at,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

// Kind maps the trigger's change type to the task kind that serves it.
// Deck-level changes run a deck analysis; market-level changes run the
// matching market task.
func (t *AnalysisTrigger) Kind() Kind {
	switch t.TriggerType {
	case domain.EventPriceChange:
		return KindPriceUpdates
	case domain.EventMetaShift:
		return KindMetaAnalysis
	default:
		return KindDeckAnalysis
	}
}
