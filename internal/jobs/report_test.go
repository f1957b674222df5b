package jobs

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testhelpers "github.com/mleone/deckwarden/internal/testing"
)

func seedJob(t *testing.T, repo *Repository, kind string, status Status, processingMs int64, errMsg string) {
	t.Helper()
	started := time.Now().UTC().Add(-time.Hour)
	job := &Job{
		ID:        uuid.New().String(),
		UserID:    "user-1",
		Kind:      kind,
		Status:    StatusRunning,
		StartedAt: started,
	}
	require.NoError(t, repo.Create(job))

	finished := started.Add(time.Duration(processingMs) * time.Millisecond)
	job.Status = status
	job.Error = errMsg
	job.FinishedAt = &finished
	require.NoError(t, repo.Finish(job))
}

func TestReportAggregates(t *testing.T) {
	db, cleanup := testhelpers.NewTestDB(t, "cache")
	defer cleanup()

	repo := NewRepository(db.Conn(), zerolog.Nop())
	reporter := NewReporter(repo, zerolog.Nop())

	seedJob(t, repo, "deck_analysis", StatusCompleted, 1000, "")
	seedJob(t, repo, "deck_analysis", StatusCompleted, 3000, "")
	seedJob(t, repo, "meta_analysis", StatusFailed, 2000, "meta feed unavailable")
	seedJob(t, repo, "meta_analysis", StatusFailed, 2000, "meta feed unavailable")
	seedJob(t, repo, "price_updates", StatusFailed, 2000, "price source 502")

	now := time.Now().UTC()
	report, err := reporter.Build(now.Add(-24*time.Hour), now)
	require.NoError(t, err)

	assert.Equal(t, 5, report.TotalJobs)
	assert.Equal(t, 2, report.Completed)
	assert.Equal(t, 3, report.Failed)
	assert.InDelta(t, 0.4, report.SuccessRate, 0.001)
	assert.InDelta(t, 2000, report.MeanProcessingMs, 0.001)

	require.Len(t, report.ByKind, 3)
	assert.Equal(t, "deck_analysis", report.ByKind[0].Kind)
	assert.Equal(t, 2, report.ByKind[0].Completed)
	assert.Equal(t, "meta_analysis", report.ByKind[1].Kind)
	assert.Equal(t, 2, report.ByKind[1].Failed)

	// Errors are grouped with their frequency, most common first
	require.Len(t, report.RecentErrors, 2)
	assert.Equal(t, "meta feed unavailable", report.RecentErrors[0].Message)
	assert.Equal(t, 2, report.RecentErrors[0].Count)
	assert.Equal(t, "price source 502", report.RecentErrors[1].Message)
	assert.Equal(t, 1, report.RecentErrors[1].Count)
}

func TestReportRecommendations(t *testing.T) {
	db, cleanup := testhelpers.NewTestDB(t, "cache")
	defer cleanup()

	repo := NewRepository(db.Conn(), zerolog.Nop())
	reporter := NewReporter(repo, zerolog.Nop())

	// 1 success, 3 failures: 25% success rate, plus a slow mean
	seedJob(t, repo, "portfolio_optimization", StatusCompleted, 90_000, "")
	seedJob(t, repo, "portfolio_optimization", StatusFailed, 90_000, "timeout")
	seedJob(t, repo, "deck_analysis", StatusFailed, 90_000, "timeout")
	seedJob(t, repo, "deck_analysis", StatusFailed, 90_000, "timeout")

	report, err := reporter.BuildDaily(time.Now().UTC())
	require.NoError(t, err)

	assert.NotEmpty(t, report.Recommendations)
	joined := ""
	for _, rec := range report.Recommendations {
		joined += rec + "\n"
	}
	assert.Contains(t, joined, "Success rate")
	assert.Contains(t, joined, "Mean processing time")
	assert.Contains(t, joined, "deck_analysis")
}

func TestReportWeeklyWindowIncludesOlderJobs(t *testing.T) {
	db, cleanup := testhelpers.NewTestDB(t, "cache")
	defer cleanup()

	repo := NewRepository(db.Conn(), zerolog.Nop())
	reporter := NewReporter(repo, zerolog.Nop())

	seedJob(t, repo, "deck_analysis", StatusCompleted, 1000, "")

	// A job from three days ago falls outside the daily window
	started := time.Now().UTC().AddDate(0, 0, -3)
	old := &Job{
		ID:        uuid.New().String(),
		UserID:    "user-1",
		Kind:      "price_updates",
		Status:    StatusRunning,
		StartedAt: started,
	}
	require.NoError(t, repo.Create(old))
	finished := started.Add(time.Second)
	old.Status = StatusCompleted
	old.FinishedAt = &finished
	require.NoError(t, repo.Finish(old))

	now := time.Now().UTC()

	daily, err := reporter.BuildDaily(now)
	require.NoError(t, err)
	assert.Equal(t, 1, daily.TotalJobs)

	weekly, err := reporter.BuildWeekly(now)
	require.NoError(t, err)
	assert.Equal(t, 2, weekly.TotalJobs)
}

func TestReportEmptyWindow(t *testing.T) {
	db, cleanup := testhelpers.NewTestDB(t, "cache")
	defer cleanup()

	reporter := NewReporter(NewRepository(db.Conn(), zerolog.Nop()), zerolog.Nop())
	report, err := reporter.BuildDaily(time.Now().UTC())
	require.NoError(t, err)

	assert.Equal(t, 0, report.TotalJobs)
	assert.Equal(t, 1.0, report.SuccessRate)
	assert.Empty(t, report.Recommendations)
}

func TestFailOrphaned(t *testing.T) {
	db, cleanup := testhelpers.NewTestDB(t, "cache")
	defer cleanup()

	repo := NewRepository(db.Conn(), zerolog.Nop())

	running := &Job{ID: uuid.New().String(), UserID: "user-1", Kind: "deck_analysis", Status: StatusRunning, StartedAt: time.Now().UTC()}
	require.NoError(t, repo.Create(running))
	seedJob(t, repo, "deck_analysis", StatusCompleted, 100, "")

	n, err := repo.FailOrphaned("scheduler shutdown")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	loaded, err := repo.Get(running.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, loaded.Status)
	assert.Equal(t, "scheduler shutdown", loaded.Error)
}
