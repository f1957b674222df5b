package triggers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mleone/deckwarden/internal/domain"
	"github.com/mleone/deckwarden/internal/events"
	"github.com/mleone/deckwarden/internal/tasks"
)

// ConfigStore loads per-user analysis configurations.
type ConfigStore interface {
	Get(userID string) (domain.AnalysisConfiguration, error)
}

// TriggerStore is the persistence surface the service needs.
type TriggerStore interface {
	CreateTrigger(t *tasks.AnalysisTrigger) error
	CountTriggersToday(userID string, now time.Time) (int, error)
}

// ImmediateRunner executes a trigger synchronously, bypassing the scheduler
// poll. Implemented by the job executor; wired after construction to avoid a
// dependency cycle.
type ImmediateRunner interface {
	RunTriggerNow(ctx context.Context, trigger *tasks.AnalysisTrigger) error
}

// Service is the change-event intake: it validates events, runs them through
// the evaluator, persists surviving triggers, and fast-paths immediate work.
type Service struct {
	evaluator *Evaluator
	store     TriggerStore
	configs   ConfigStore
	bus       *events.Bus
	runner    ImmediateRunner
	log       zerolog.Logger
}

// NewService creates a new trigger service.
func NewService(evaluator *Evaluator, store TriggerStore, configs ConfigStore, bus *events.Bus, log zerolog.Logger) *Service {
	return &Service{
		evaluator: evaluator,
		store:     store,
		configs:   configs,
		bus:       bus,
		log:       log.With().Str("component", "trigger_service").Logger(),
	}
}

// SetRunner wires the synchronous execution path. Optional: without a runner,
// immediate triggers wait for the next scheduler poll.
func (s *Service) SetRunner(r ImmediateRunner) {
	s.runner = r
}

// SubmitChangeEvent processes one observed change. Returns the created
// trigger, or nil when policy suppressed the event. Malformed events are
// rejected synchronously.
func (s *Service) SubmitChangeEvent(ctx context.Context, event domain.ChangeEvent) (*tasks.AnalysisTrigger, error) {
	if err := validateEvent(event); err != nil {
		return nil, err
	}

	cfg, err := s.configs.Get(event.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration for %s: %w", event.UserID, err)
	}

	now := time.Now()
	today, err := s.store.CountTriggersToday(event.UserID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to count today's triggers for %s: %w", event.UserID, err)
	}

	trigger := s.evaluator.Evaluate(event, cfg, today, now)
	if trigger == nil {
		return nil, nil
	}

	if err := s.store.CreateTrigger(trigger); err != nil {
		return nil, fmt.Errorf("failed to persist trigger: %w", err)
	}

	s.log.Info().
		Str("trigger_id", trigger.ID).
		Str("user_id", trigger.UserID).
		Str("type", string(trigger.TriggerType)).
		Str("priority", string(trigger.Priority)).
		Time("scheduled_for", trigger.ScheduledFor).
		Msg("Analysis trigger created")

	s.bus.Emit(events.TriggerCreated, "trigger_service", events.TriggerCreatedData{
		TriggerID: trigger.ID,
		UserID:    trigger.UserID,
		DeckID:    trigger.DeckID,
		Type:      string(trigger.TriggerType),
		Priority:  string(trigger.Priority),
	})

	// Immediate frequency + immediate priority skips the scheduler poll
	if s.runner != nil &&
		cfg.AnalysisFrequency == domain.FrequencyImmediate &&
		trigger.Priority == tasks.PriorityImmediate {
		if err := s.runner.RunTriggerNow(ctx, trigger); err != nil {
			// Failure here is handled by the retry path; the trigger remains queued
			s.log.Warn().Err(err).Str("trigger_id", trigger.ID).Msg("Synchronous trigger execution failed")
		}
	}

	return trigger, nil
}

// ErrInvalidEvent marks a malformed change event. The API layer maps it to a
// 400 response.
var ErrInvalidEvent = errors.New("invalid change event")

var validEventTypes = map[domain.ChangeEventType]bool{
	domain.EventCardAdded:       true,
	domain.EventCardRemoved:     true,
	domain.EventQuantityChanged: true,
	domain.EventDeckCreated:     true,
	domain.EventDeckDeleted:     true,
	domain.EventPriceChange:     true,
	domain.EventMetaShift:       true,
}

func validateEvent(event domain.ChangeEvent) error {
	if !validEventTypes[event.Type] {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, event.Type)
	}
	if event.UserID == "" {
		return fmt.Errorf("%w: missing user_id", ErrInvalidEvent)
	}
	return nil
}
