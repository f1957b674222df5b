package triggers

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mleone/deckwarden/internal/domain"
	"github.com/mleone/deckwarden/internal/tasks"
)

func defaultConfig() domain.AnalysisConfiguration {
	cfg := domain.DefaultAnalysisConfiguration("user-1")
	cfg.MinCardValue = 10.0
	return cfg
}

func cardAddedEvent(value float64) domain.ChangeEvent {
	return domain.ChangeEvent{
		Type:        domain.EventCardAdded,
		UserID:      "user-1",
		DeckID:      "deck-1",
		CardID:      "card-1",
		CardValue:   value,
		OldQuantity: 0,
		NewQuantity: 2,
		ObservedAt:  time.Now(),
	}
}

func TestEvaluateHighValueCardProducesHighPriorityTrigger(t *testing.T) {
	e := NewEvaluator(zerolog.Nop())

	trigger := e.Evaluate(cardAddedEvent(30.0), defaultConfig(), 0, time.Now())
	require.NotNil(t, trigger)
	assert.Equal(t, tasks.PriorityHigh, trigger.Priority)
	assert.Equal(t, tasks.StatusPending, trigger.Status)
	assert.Equal(t, domain.EventCardAdded, trigger.TriggerType)
}

func TestEvaluateCheapCardSuppressed(t *testing.T) {
	e := NewEvaluator(zerolog.Nop())

	trigger := e.Evaluate(cardAddedEvent(2.0), defaultConfig(), 0, time.Now())
	assert.Nil(t, trigger)
}

func TestEvaluateSmallQuantityChangeSuppressed(t *testing.T) {
	e := NewEvaluator(zerolog.Nop())

	event := cardAddedEvent(30.0)
	event.Type = domain.EventQuantityChanged
	event.OldQuantity = 20
	event.NewQuantity = 21 // 5% < 10% threshold

	trigger := e.Evaluate(event, defaultConfig(), 0, time.Now())
	assert.Nil(t, trigger)
}

func TestEvaluateAutoAnalysisDisabled(t *testing.T) {
	e := NewEvaluator(zerolog.Nop())
	cfg := defaultConfig()
	cfg.EnableAutoAnalysis = false

	trigger := e.Evaluate(cardAddedEvent(100.0), cfg, 0, time.Now())
	assert.Nil(t, trigger)
}

func TestEvaluateDailyLimit(t *testing.T) {
	e := NewEvaluator(zerolog.Nop())
	cfg := defaultConfig()

	trigger := e.Evaluate(cardAddedEvent(30.0), cfg, cfg.MaxAnalysesPerDay, time.Now())
	assert.Nil(t, trigger, "at the limit the event is suppressed")

	trigger = e.Evaluate(cardAddedEvent(30.0), cfg, cfg.MaxAnalysesPerDay-1, time.Now())
	assert.NotNil(t, trigger, "one below the limit still fires")
}

func TestEvaluateDisabledEventType(t *testing.T) {
	e := NewEvaluator(zerolog.Nop())
	cfg := defaultConfig()
	cfg.EnabledTypes = map[string]bool{string(domain.EventCardAdded): false}

	trigger := e.Evaluate(cardAddedEvent(30.0), cfg, 0, time.Now())
	assert.Nil(t, trigger)
}

func TestEvaluateDeckLifecycleAlwaysSignificant(t *testing.T) {
	e := NewEvaluator(zerolog.Nop())

	event := domain.ChangeEvent{
		Type:   domain.EventDeckCreated,
		UserID: "user-1",
		DeckID: "deck-1",
	}
	trigger := e.Evaluate(event, defaultConfig(), 0, time.Now())
	require.NotNil(t, trigger)
	assert.Equal(t, tasks.PriorityImmediate, trigger.Priority)
}

func TestPriorityThresholds(t *testing.T) {
	tests := []struct {
		name     string
		event    domain.ChangeEvent
		expected tasks.Priority
	}{
		{"deck created is immediate", domain.ChangeEvent{Type: domain.EventDeckCreated}, tasks.PriorityImmediate},
		{"deck deleted is immediate", domain.ChangeEvent{Type: domain.EventDeckDeleted}, tasks.PriorityImmediate},
		{"$60 card is immediate", cardAddedEvent(60.0), tasks.PriorityImmediate},
		{"$50 card is immediate", cardAddedEvent(50.0), tasks.PriorityImmediate},
		{"$30 card is high", cardAddedEvent(30.0), tasks.PriorityHigh},
		{"$20 card is high", cardAddedEvent(20.0), tasks.PriorityHigh},
		{"$15 card is medium", cardAddedEvent(15.0), tasks.PriorityMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Priority(tt.event))
		})
	}
}

func TestScheduledFor(t *testing.T) {
	now := time.Date(2025, 3, 12, 10, 30, 45, 0, time.UTC)

	assert.Equal(t, now, ScheduledFor(domain.FrequencyImmediate, now))

	batched := ScheduledFor(domain.FrequencyBatched, now)
	assert.Equal(t, time.Date(2025, 3, 12, 11, 0, 0, 0, time.UTC), batched)

	scheduled := ScheduledFor(domain.FrequencyScheduled, now)
	assert.Equal(t, time.Date(2025, 3, 13, 9, 0, 0, 0, time.UTC), scheduled)
}
