package jobs

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Reporting thresholds that produce recommendations.
const (
	minHealthySuccessRate = 0.8
	slowJobMeanMs         = 60_000
	recentErrorLimit      = 10
)

// Reporter builds the maintenance report from job history.
type Reporter struct {
	jobs *Repository
	log  zerolog.Logger
}

// NewReporter creates a new maintenance reporter.
func NewReporter(jobs *Repository, log zerolog.Logger) *Reporter {
	return &Reporter{
		jobs: jobs,
		log:  log.With().Str("component", "reporter").Logger(),
	}
}

// Build assembles the maintenance report for a time window.
func (r *Reporter) Build(since, until time.Time) (*Report, error) {
	total, completed, failed, meanMs, err := r.jobs.Aggregate(since, until)
	if err != nil {
		return nil, err
	}

	byKind, err := r.jobs.AggregateByKind(since, until)
	if err != nil {
		return nil, err
	}

	recentErrors, err := r.jobs.RecentErrors(since, until, recentErrorLimit)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Since:            since.UTC(),
		Until:            until.UTC(),
		TotalJobs:        total,
		Completed:        completed,
		Failed:           failed,
		MeanProcessingMs: meanMs,
		ByKind:           byKind,
		RecentErrors:     recentErrors,
	}
	if total > 0 {
		report.SuccessRate = float64(completed) / float64(total)
	} else {
		report.SuccessRate = 1.0
	}
	report.Recommendations = recommend(report)

	return report, nil
}

// BuildDaily builds the report for the trailing 24 hours.
func (r *Reporter) BuildDaily(now time.Time) (*Report, error) {
	return r.Build(now.Add(-24*time.Hour), now)
}

// BuildWeekly builds the report for the trailing 7 days.
func (r *Reporter) BuildWeekly(now time.Time) (*Report, error) {
	return r.Build(now.AddDate(0, 0, -7), now)
}

// recommend derives operator-facing advice from the aggregates. Purely
// mechanical so the report stays explainable.
func recommend(report *Report) []string {
	var recs []string

	if report.TotalJobs > 0 && report.SuccessRate < minHealthySuccessRate {
		recs = append(recs, fmt.Sprintf(
			"Success rate %.0f%% is below %.0f%%; inspect recent errors and consider raising retry budgets or fixing the failing kind.",
			report.SuccessRate*100, minHealthySuccessRate*100))
	}

	if report.MeanProcessingMs > slowJobMeanMs {
		recs = append(recs, fmt.Sprintf(
			"Mean processing time %.1fs exceeds 60s; consider narrowing analysis scope or moving more kinds into the maintenance window.",
			report.MeanProcessingMs/1000))
	}

	for _, k := range report.ByKind {
		if k.Total > 0 && k.Failed == k.Total {
			recs = append(recs, fmt.Sprintf("All %d %s jobs failed in this window; the kind may be misconfigured.", k.Total, k.Kind))
		}
	}

	return recs
}
