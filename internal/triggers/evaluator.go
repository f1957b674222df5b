// Package triggers turns raw change events into analysis triggers. The
// evaluator applies the user's gates; the service persists what survives and
// fast-paths immediate work.
package triggers

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mleone/deckwarden/internal/domain"
	"github.com/mleone/deckwarden/internal/tasks"
)

// Card value thresholds for priority classification.
const (
	immediateValueThreshold = 50.0
	highValueThreshold      = 20.0
)

// Evaluator decides whether a change event warrants an analysis trigger and
// at what priority. All decisions are pure functions of the event and the
// user's configuration; persistence lives in the Service.
type Evaluator struct {
	log zerolog.Logger
}

// NewEvaluator creates a new trigger evaluator.
func NewEvaluator(log zerolog.Logger) *Evaluator {
	return &Evaluator{
		log: log.With().Str("component", "trigger_evaluator").Logger(),
	}
}

// Evaluate returns the trigger warranted by the event, or nil when policy
// suppresses it. Suppression is not an error: the event was seen, considered,
// and deliberately dropped. triggersToday is the user's trigger count since
// UTC midnight, supplied by the caller.
func (e *Evaluator) Evaluate(event domain.ChangeEvent, cfg domain.AnalysisConfiguration, triggersToday int, now time.Time) *tasks.AnalysisTrigger {
	if !cfg.EnableAutoAnalysis {
		e.log.Debug().Str("user_id", event.UserID).Msg("Auto-analysis disabled, suppressing")
		return nil
	}

	if !cfg.TypeEnabled(string(event.Type)) {
		e.log.Debug().Str("user_id", event.UserID).Str("type", string(event.Type)).Msg("Event type disabled, suppressing")
		return nil
	}

	// Daily-count gate: backpressure, not an error
	if triggersToday >= cfg.MaxAnalysesPerDay {
		e.log.Debug().Str("user_id", event.UserID).Int("today", triggersToday).Msg("Daily analysis limit reached, suppressing")
		return nil
	}

	if !e.significant(event, cfg) {
		e.log.Debug().Str("user_id", event.UserID).Str("card_id", event.CardID).Msg("Change below significance thresholds, suppressing")
		return nil
	}

	return &tasks.AnalysisTrigger{
		ID:           uuid.New().String(),
		UserID:       event.UserID,
		DeckID:       event.DeckID,
		TriggerType:  event.Type,
		Priority:     Priority(event),
		Status:       tasks.StatusPending,
		ScheduledFor: ScheduledFor(cfg.AnalysisFrequency, now),
		CreatedAt:    now.UTC(),
	}
}

// significant applies the card-level significance gate. Deck lifecycle events
// are always significant; market-level events are gated on value only.
func (e *Evaluator) significant(event domain.ChangeEvent, cfg domain.AnalysisConfiguration) bool {
	switch event.Type {
	case domain.EventDeckCreated, domain.EventDeckDeleted:
		return true
	case domain.EventPriceChange, domain.EventMetaShift:
		return event.CardValue >= cfg.MinCardValue || event.Type == domain.EventMetaShift
	}

	if event.CardValue < cfg.MinCardValue {
		return false
	}
	if event.QuantityChangePct() < cfg.MinChangePct {
		return false
	}
	return true
}

// Priority classifies an event: immediate for deck lifecycle changes or cards
// worth $50+, high for cards worth $20+, medium otherwise.
func Priority(event domain.ChangeEvent) tasks.Priority {
	if event.Type == domain.EventDeckCreated || event.Type == domain.EventDeckDeleted {
		return tasks.PriorityImmediate
	}
	if event.CardValue >= immediateValueThreshold {
		return tasks.PriorityImmediate
	}
	if event.CardValue >= highValueThreshold {
		return tasks.PriorityHigh
	}
	return tasks.PriorityMedium
}

// ScheduledFor computes the earliest execution time for a trigger:
// immediate runs now, batched at the top of the next hour, scheduled at
// 09:00 UTC the next calendar day.
func ScheduledFor(freq domain.AnalysisFrequency, now time.Time) time.Time {
	now = now.UTC()
	switch freq {
	case domain.FrequencyImmediate:
		return now
	case domain.FrequencyScheduled:
		next := now.AddDate(0, 0, 1)
		return time.Date(next.Year(), next.Month(), next.Day(), 9, 0, 0, 0, time.UTC)
	default: // batched
		return now.Truncate(time.Hour).Add(time.Hour)
	}
}
