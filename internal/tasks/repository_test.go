package tasks

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mleone/deckwarden/internal/domain"
	testhelpers "github.com/mleone/deckwarden/internal/testing"
)

func newRepo(t *testing.T) (*Repository, func()) {
	t.Helper()
	db, cleanup := testhelpers.NewTestDB(t, "core")
	return NewRepository(db.Conn(), zerolog.Nop()), cleanup
}

func newTask(userID string, kind Kind, nextRun time.Time) *ScheduledTask {
	return &ScheduledTask{
		ID:         uuid.New().String(),
		UserID:     userID,
		Kind:       kind,
		Frequency:  FrequencyDaily,
		NextRun:    nextRun,
		IsActive:   true,
		MaxRetries: 3,
	}
}

func TestTaskRoundTrip(t *testing.T) {
	repo, cleanup := newRepo(t)
	defer cleanup()

	task := newTask("user-1", KindDeckAnalysis, time.Now().Add(time.Hour))
	task.DeckID = "deck-1"
	require.NoError(t, repo.CreateTask(task))

	loaded, err := repo.GetTask(task.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, task.ID, loaded.ID)
	assert.Equal(t, KindDeckAnalysis, loaded.Kind)
	assert.Equal(t, "deck-1", loaded.DeckID)
	assert.Equal(t, FrequencyDaily, loaded.Frequency)
	assert.True(t, loaded.IsActive)
	assert.Equal(t, 3, loaded.MaxRetries)
	assert.Nil(t, loaded.LastRun)
	assert.Equal(t, task.NextRun.Unix(), loaded.NextRun.Unix())
}

func TestGetTaskMissing(t *testing.T) {
	repo, cleanup := newRepo(t)
	defer cleanup()

	loaded, err := repo.GetTask("nope")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestDueTasksOrderingAndFiltering(t *testing.T) {
	repo, cleanup := newRepo(t)
	defer cleanup()

	now := time.Now()
	heavyBacklog := newTask("user-1", KindPortfolioOptimization, now.Add(-3*time.Hour))
	prices := newTask("user-1", KindPriceUpdates, now.Add(-time.Minute))
	analysis := newTask("user-1", KindDeckAnalysis, now.Add(-2*time.Hour))
	future := newTask("user-1", KindMetaAnalysis, now.Add(time.Hour))
	inactive := newTask("user-1", KindSetMonitoring, now.Add(-time.Hour))
	inactive.IsActive = false

	for _, task := range []*ScheduledTask{analysis, heavyBacklog, prices, future, inactive} {
		require.NoError(t, repo.CreateTask(task))
	}

	due, err := repo.DueTasks(now, 10)
	require.NoError(t, err)
	require.Len(t, due, 3)
	assert.Equal(t, prices.ID, due[0].ID, "dispatch rank beats an older next_run")
	assert.Equal(t, analysis.ID, due[1].ID)
	assert.Equal(t, heavyBacklog.ID, due[2].ID)
}

func TestDueTasksRankTiesBreakOnNextRun(t *testing.T) {
	repo, cleanup := newRepo(t)
	defer cleanup()

	now := time.Now()
	older := newTask("user-1", KindDeckAnalysis, now.Add(-2*time.Hour))
	newer := newTask("user-1", KindDeckAnalysis, now.Add(-time.Minute))
	require.NoError(t, repo.CreateTask(newer))
	require.NoError(t, repo.CreateTask(older))

	due, err := repo.DueTasks(now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, older.ID, due[0].ID)
	assert.Equal(t, newer.ID, due[1].ID)
}

func TestCompleteTaskResetsRetriesAndAdvances(t *testing.T) {
	repo, cleanup := newRepo(t)
	defer cleanup()

	task := newTask("user-1", KindDeckAnalysis, time.Now().Add(-time.Minute))
	require.NoError(t, repo.CreateTask(task))

	ranAt := time.Now()
	nextRun, err := NextRun(task.Frequency, ranAt)
	require.NoError(t, err)

	ok, err := repo.CompleteTask(task.ID, 0, ranAt, nextRun)
	require.NoError(t, err)
	assert.True(t, ok)

	loaded, err := repo.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.RetryCount)
	require.NotNil(t, loaded.LastRun)
	assert.Equal(t, ranAt.Unix(), loaded.LastRun.Unix())
	assert.Equal(t, nextRun.Unix(), loaded.NextRun.Unix())
}

func TestCompleteTaskLosesStaleRace(t *testing.T) {
	repo, cleanup := newRepo(t)
	defer cleanup()

	task := newTask("user-1", KindDeckAnalysis, time.Now())
	require.NoError(t, repo.CreateTask(task))

	// Observed retry count no longer matches the row
	ok, err := repo.CompleteTask(task.ID, 2, time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateTaskRewritesDefinition(t *testing.T) {
	repo, cleanup := newRepo(t)
	defer cleanup()

	task := newTask("user-1", KindDeckAnalysis, time.Now().Add(time.Hour))
	require.NoError(t, repo.CreateTask(task))

	task.Kind = KindPriceUpdates
	task.Frequency = FrequencyHourly
	task.MaxRetries = 5
	task.DeckID = "deck-2"

	ok, err := repo.UpdateTask(task, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	loaded, err := repo.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, KindPriceUpdates, loaded.Kind)
	assert.Equal(t, FrequencyHourly, loaded.Frequency)
	assert.Equal(t, 5, loaded.MaxRetries)
	assert.Equal(t, "deck-2", loaded.DeckID)
	assert.Equal(t, 0, loaded.RetryCount, "update leaves retry state alone")
	assert.True(t, loaded.IsActive)
}

func TestUpdateTaskLosesStaleRace(t *testing.T) {
	repo, cleanup := newRepo(t)
	defer cleanup()

	task := newTask("user-1", KindDeckAnalysis, time.Now())
	require.NoError(t, repo.CreateTask(task))

	// A failure lands between load and update
	_, err := repo.FailTask(task, time.Now())
	require.NoError(t, err)

	task.MaxRetries = 5
	ok, err := repo.UpdateTask(task, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	loaded, err := repo.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.MaxRetries, "stale update must not apply")
}

func TestFailTaskBacksOffThenDeactivates(t *testing.T) {
	repo, cleanup := newRepo(t)
	defer cleanup()

	task := newTask("user-1", KindDeckAnalysis, time.Now())
	require.NoError(t, repo.CreateTask(task))

	ranAt := time.Now()

	// First failure: retry in 60s
	deactivated, err := repo.FailTask(task, ranAt)
	require.NoError(t, err)
	assert.False(t, deactivated)

	loaded, err := repo.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.RetryCount)
	assert.True(t, loaded.IsActive)
	assert.Equal(t, ranAt.Add(60*time.Second).Unix(), loaded.NextRun.Unix())

	// Second failure: retry in 120s
	deactivated, err = repo.FailTask(loaded, ranAt)
	require.NoError(t, err)
	assert.False(t, deactivated)

	loaded, err = repo.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.RetryCount)
	assert.Equal(t, ranAt.Add(120*time.Second).Unix(), loaded.NextRun.Unix())

	// Third failure spends the last retry: still active at retry_count ==
	// max_retries, backoff 240s
	deactivated, err = repo.FailTask(loaded, ranAt)
	require.NoError(t, err)
	assert.False(t, deactivated)

	loaded, err = repo.GetTask(task.ID)
	require.NoError(t, err)
	assert.True(t, loaded.IsActive, "the budget is max_retries+1 consecutive failures")
	assert.Equal(t, 3, loaded.RetryCount)
	assert.Equal(t, ranAt.Add(240*time.Second).Unix(), loaded.NextRun.Unix())

	// Fourth consecutive failure exhausts the budget: deactivate, reset retries
	deactivated, err = repo.FailTask(loaded, ranAt)
	require.NoError(t, err)
	assert.True(t, deactivated)

	loaded, err = repo.GetTask(task.ID)
	require.NoError(t, err)
	assert.False(t, loaded.IsActive)
	assert.Equal(t, 0, loaded.RetryCount)
}

func TestFailTaskKeepsActiveThroughFullRetryBudget(t *testing.T) {
	repo, cleanup := newRepo(t)
	defer cleanup()

	task := newTask("user-1", KindDeckAnalysis, time.Now())
	require.NoError(t, repo.CreateTask(task))

	// Exactly max_retries failures never deactivate
	current := task
	for i := 1; i <= task.MaxRetries; i++ {
		deactivated, err := repo.FailTask(current, time.Now())
		require.NoError(t, err)
		assert.False(t, deactivated, "failure %d of %d must not deactivate", i, task.MaxRetries)

		current, err = repo.GetTask(task.ID)
		require.NoError(t, err)
		assert.True(t, current.IsActive)
		assert.Equal(t, i, current.RetryCount)
	}
}

func newTrigger(userID string, priority Priority, scheduledFor time.Time) *AnalysisTrigger {
	return &AnalysisTrigger{
		ID:           uuid.New().String(),
		UserID:       userID,
		DeckID:       "deck-1",
		TriggerType:  domain.EventCardAdded,
		Priority:     priority,
		Status:       StatusPending,
		ScheduledFor: scheduledFor,
	}
}

func TestDueTriggersPriorityOrdering(t *testing.T) {
	repo, cleanup := newRepo(t)
	defer cleanup()

	now := time.Now()
	low := newTrigger("user-1", PriorityLow, now.Add(-3*time.Hour))
	immediate := newTrigger("user-1", PriorityImmediate, now.Add(-time.Minute))
	high := newTrigger("user-1", PriorityHigh, now.Add(-time.Hour))
	future := newTrigger("user-1", PriorityImmediate, now.Add(time.Hour))

	for _, tr := range []*AnalysisTrigger{low, immediate, high, future} {
		require.NoError(t, repo.CreateTrigger(tr))
	}

	due, err := repo.DueTriggers(now, 10)
	require.NoError(t, err)
	require.Len(t, due, 3)
	assert.Equal(t, immediate.ID, due[0].ID, "immediate beats earlier-scheduled low")
	assert.Equal(t, high.ID, due[1].ID)
	assert.Equal(t, low.ID, due[2].ID)
}

func TestClaimTriggerIsExclusive(t *testing.T) {
	repo, cleanup := newRepo(t)
	defer cleanup()

	tr := newTrigger("user-1", PriorityHigh, time.Now())
	require.NoError(t, repo.CreateTrigger(tr))

	ok, err := repo.ClaimTrigger(tr.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second claim loses
	ok, err = repo.ClaimTrigger(tr.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	loaded, err := repo.GetTrigger(tr.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, loaded.Status)
	assert.NotNil(t, loaded.ClaimedAt)
}

func TestFailTriggerRetriesThenFails(t *testing.T) {
	repo, cleanup := newRepo(t)
	defer cleanup()

	tr := newTrigger("user-1", PriorityMedium, time.Now())
	require.NoError(t, repo.CreateTrigger(tr))

	ok, err := repo.ClaimTrigger(tr.ID)
	require.NoError(t, err)
	require.True(t, ok)

	failedAt := time.Now()
	terminal, err := repo.FailTrigger(tr, 3, failedAt)
	require.NoError(t, err)
	assert.False(t, terminal)

	loaded, err := repo.GetTrigger(tr.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, loaded.Status)
	assert.Equal(t, 1, loaded.RetryCount)
	assert.Equal(t, failedAt.Add(60*time.Second).Unix(), loaded.ScheduledFor.Unix())
	assert.Nil(t, loaded.ClaimedAt)

	// A failure at retry_count == maxRetries is the budget-exhausting one;
	// one below it still retries
	loaded.RetryCount = 2
	terminal, err = repo.FailTrigger(loaded, 3, failedAt)
	require.NoError(t, err)
	assert.False(t, terminal)

	loaded.RetryCount = 3
	terminal, err = repo.FailTrigger(loaded, 3, failedAt)
	require.NoError(t, err)
	assert.True(t, terminal)

	loaded, err = repo.GetTrigger(tr.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, loaded.Status)
}

func TestRecoverStaleResetsProcessing(t *testing.T) {
	repo, cleanup := newRepo(t)
	defer cleanup()

	tr1 := newTrigger("user-1", PriorityHigh, time.Now().Add(-time.Minute))
	tr2 := newTrigger("user-1", PriorityHigh, time.Now().Add(-time.Minute))
	require.NoError(t, repo.CreateTrigger(tr1))
	require.NoError(t, repo.CreateTrigger(tr2))

	ok, err := repo.ClaimTrigger(tr1.ID)
	require.NoError(t, err)
	require.True(t, ok)

	n, err := repo.RecoverStale()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	loaded, err := repo.GetTrigger(tr1.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, loaded.Status)
	assert.Equal(t, 1, loaded.RetryCount, "orphaned run consumes a retry")
	assert.Nil(t, loaded.ClaimedAt)
}

func TestRescheduleTriggerDoesNotConsumeRetry(t *testing.T) {
	repo, cleanup := newRepo(t)
	defer cleanup()

	tr := newTrigger("user-1", PriorityImmediate, time.Now())
	require.NoError(t, repo.CreateTrigger(tr))

	ok, err := repo.ClaimTrigger(tr.ID)
	require.NoError(t, err)
	require.True(t, ok)

	at := time.Now().Add(time.Minute)
	require.NoError(t, repo.RescheduleTrigger(tr.ID, at))

	loaded, err := repo.GetTrigger(tr.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, loaded.Status)
	assert.Equal(t, 0, loaded.RetryCount)
	assert.Equal(t, at.Unix(), loaded.ScheduledFor.Unix())
}

func TestCountTriggersToday(t *testing.T) {
	repo, cleanup := newRepo(t)
	defer cleanup()

	now := time.Now().UTC()
	require.NoError(t, repo.CreateTrigger(newTrigger("user-1", PriorityMedium, now)))
	require.NoError(t, repo.CreateTrigger(newTrigger("user-1", PriorityMedium, now)))
	require.NoError(t, repo.CreateTrigger(newTrigger("user-2", PriorityMedium, now)))

	// A trigger from yesterday should not count
	old := newTrigger("user-1", PriorityMedium, now)
	old.CreatedAt = now.AddDate(0, 0, -1)
	require.NoError(t, repo.CreateTrigger(old))

	n, err := repo.CountTriggersToday("user-1", now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
