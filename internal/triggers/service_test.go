package triggers

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mleone/deckwarden/internal/domain"
	"github.com/mleone/deckwarden/internal/events"
	"github.com/mleone/deckwarden/internal/tasks"
	testhelpers "github.com/mleone/deckwarden/internal/testing"
)

type stubConfigStore struct {
	cfg domain.AnalysisConfiguration
}

func (s *stubConfigStore) Get(userID string) (domain.AnalysisConfiguration, error) {
	return s.cfg, nil
}

type stubRunner struct {
	calls atomic.Int32
}

func (r *stubRunner) RunTriggerNow(ctx context.Context, trigger *tasks.AnalysisTrigger) error {
	r.calls.Add(1)
	return nil
}

func newService(t *testing.T, cfg domain.AnalysisConfiguration) (*Service, *tasks.Repository, func()) {
	t.Helper()
	db, cleanup := testhelpers.NewTestDB(t, "core")
	repo := tasks.NewRepository(db.Conn(), zerolog.Nop())
	bus := events.NewBus(zerolog.Nop())
	svc := NewService(NewEvaluator(zerolog.Nop()), repo, &stubConfigStore{cfg: cfg}, bus, zerolog.Nop())
	return svc, repo, cleanup
}

func TestSubmitChangeEventPersistsTrigger(t *testing.T) {
	cfg := domain.DefaultAnalysisConfiguration("user-1")
	svc, repo, cleanup := newService(t, cfg)
	defer cleanup()

	trigger, err := svc.SubmitChangeEvent(context.Background(), testhelpers.NewChangeEventFixture("user-1", "deck-1"))
	require.NoError(t, err)
	require.NotNil(t, trigger)

	loaded, err := repo.GetTrigger(trigger.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, tasks.StatusPending, loaded.Status)
	assert.Equal(t, tasks.PriorityHigh, loaded.Priority)
}

func TestSubmitChangeEventSuppressedReturnsNil(t *testing.T) {
	cfg := domain.DefaultAnalysisConfiguration("user-1")
	cfg.EnableAutoAnalysis = false
	svc, _, cleanup := newService(t, cfg)
	defer cleanup()

	trigger, err := svc.SubmitChangeEvent(context.Background(), testhelpers.NewChangeEventFixture("user-1", "deck-1"))
	require.NoError(t, err)
	assert.Nil(t, trigger)
}

func TestSubmitChangeEventRejectsUnknownType(t *testing.T) {
	svc, _, cleanup := newService(t, domain.DefaultAnalysisConfiguration("user-1"))
	defer cleanup()

	event := testhelpers.NewChangeEventFixture("user-1", "deck-1")
	event.Type = "card_polished"

	_, err := svc.SubmitChangeEvent(context.Background(), event)
	assert.Error(t, err)
}

func TestSubmitChangeEventRejectsMissingUser(t *testing.T) {
	svc, _, cleanup := newService(t, domain.DefaultAnalysisConfiguration(""))
	defer cleanup()

	event := testhelpers.NewChangeEventFixture("", "deck-1")
	_, err := svc.SubmitChangeEvent(context.Background(), event)
	assert.Error(t, err)
}

func TestSubmitChangeEventImmediateFastPath(t *testing.T) {
	cfg := domain.DefaultAnalysisConfiguration("user-1")
	cfg.AnalysisFrequency = domain.FrequencyImmediate
	svc, _, cleanup := newService(t, cfg)
	defer cleanup()

	runner := &stubRunner{}
	svc.SetRunner(runner)

	// $30 card: high priority, no fast path
	event := testhelpers.NewChangeEventFixture("user-1", "deck-1")
	_, err := svc.SubmitChangeEvent(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, int32(0), runner.calls.Load())

	// $80 card: immediate priority + immediate frequency runs synchronously
	event.CardValue = 80.0
	_, err = svc.SubmitChangeEvent(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, int32(1), runner.calls.Load())
}

func TestSubmitChangeEventEmitsBusEvent(t *testing.T) {
	cfg := domain.DefaultAnalysisConfiguration("user-1")
	db, cleanup := testhelpers.NewTestDB(t, "core")
	defer cleanup()

	repo := tasks.NewRepository(db.Conn(), zerolog.Nop())
	bus := events.NewBus(zerolog.Nop())

	var got *events.Event
	bus.Subscribe(events.TriggerCreated, func(e *events.Event) { got = e })

	svc := NewService(NewEvaluator(zerolog.Nop()), repo, &stubConfigStore{cfg: cfg}, bus, zerolog.Nop())
	trigger, err := svc.SubmitChangeEvent(context.Background(), testhelpers.NewChangeEventFixture("user-1", "deck-1"))
	require.NoError(t, err)
	require.NotNil(t, trigger)

	require.NotNil(t, got)
	data, ok := got.Data.(events.TriggerCreatedData)
	require.True(t, ok)
	assert.Equal(t, trigger.ID, data.TriggerID)
}
