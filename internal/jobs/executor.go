package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mleone/deckwarden/internal/events"
	"github.com/mleone/deckwarden/internal/settings"
	"github.com/mleone/deckwarden/internal/tasks"
)

// Engines is the analysis fan-out surface. Each call returns a short result
// summary for the job record; full results are persisted by the engine
// itself. Engine calls must honor context cancellation promptly so the job
// audit row is still written on timeout.
type Engines interface {
	AnalyzeDeck(ctx context.Context, userID, deckID string) (string, error)
	OptimizePortfolio(ctx context.Context, userID string) (string, error)
	MonitorSets(ctx context.Context, userID string) (string, error)
	UpdatePrices(ctx context.Context, userID string) (string, error)
	AnalyzeMeta(ctx context.Context, userID string) (string, error)
}

// ErrUnknownKind marks a programming-error class failure: the task kind has
// no engine branch. Never retried.
var ErrUnknownKind = errors.New("unknown task kind")

const defaultTriggerMaxRetries = 3

// Executor runs one task or trigger to completion. It always returns a job
// record; no failure escapes past this boundary.
type Executor struct {
	engines  Engines
	jobs     *Repository
	tasks    *tasks.Repository
	settings *settings.Repository
	bus      *events.Bus
	log      zerolog.Logger
}

// NewExecutor creates a new job executor.
func NewExecutor(engines Engines, jobRepo *Repository, taskRepo *tasks.Repository, settingsRepo *settings.Repository, bus *events.Bus, log zerolog.Logger) *Executor {
	return &Executor{
		engines:  engines,
		jobs:     jobRepo,
		tasks:    taskRepo,
		settings: settingsRepo,
		bus:      bus,
		log:      log.With().Str("component", "executor").Logger(),
	}
}

// ExecuteTask runs one scheduled task attempt. On success the task's retry
// count resets and its next run advances per its frequency; on failure the
// standard backoff path applies. Unknown kinds deactivate the task outright.
func (e *Executor) ExecuteTask(ctx context.Context, task *tasks.ScheduledTask, timeout time.Duration) *Job {
	job := e.startJob(task.UserID, string(task.Kind), task.ID, "")
	ranAt := job.StartedAt

	result, err := e.run(ctx, job, task.Kind, task.UserID, task.DeckID, timeout)
	if err != nil && ctx.Err() == context.Canceled {
		// Shutdown: the scheduler force-fails the job row and reschedules the
		// task; writing here would race with that reconciliation.
		job.Status = StatusFailed
		job.Error = "scheduler shutdown"
		return job
	}
	if err == nil {
		e.finishSuccess(job, result)

		nextRun, nerr := tasks.NextRun(task.Frequency, ranAt)
		if nerr != nil {
			e.log.Error().Err(nerr).Str("task_id", task.ID).Msg("Failed to compute next run")
			return job
		}
		if ok, cerr := e.tasks.CompleteTask(task.ID, task.RetryCount, ranAt, nextRun); cerr != nil {
			e.log.Error().Err(cerr).Str("task_id", task.ID).Msg("Failed to record task completion")
		} else if !ok {
			e.log.Warn().Str("task_id", task.ID).Msg("Task completion lost update race, skipping reschedule")
		}
		return job
	}

	e.finishFailure(job, err)

	if errors.Is(err, ErrUnknownKind) {
		// Fatal class: no retry, deactivate so the failure stays inspectable
		if derr := e.tasks.SetTaskActive(task.ID, false); derr != nil {
			e.log.Error().Err(derr).Str("task_id", task.ID).Msg("Failed to deactivate task with unknown kind")
		}
		return job
	}

	deactivated, ferr := e.tasks.FailTask(task, ranAt)
	if ferr != nil {
		e.log.Error().Err(ferr).Str("task_id", task.ID).Msg("Failed to record task failure")
	} else if deactivated {
		e.log.Warn().Str("task_id", task.ID).Str("kind", string(task.Kind)).Msg("Task exhausted retry budget, deactivated")
	}
	return job
}

// ExecuteTrigger claims and runs one analysis trigger. Returns nil when the
// trigger was already claimed by another execution.
func (e *Executor) ExecuteTrigger(ctx context.Context, trigger *tasks.AnalysisTrigger, timeout time.Duration) *Job {
	claimed, err := e.tasks.ClaimTrigger(trigger.ID)
	if err != nil {
		e.log.Error().Err(err).Str("trigger_id", trigger.ID).Msg("Failed to claim trigger")
		return nil
	}
	if !claimed {
		return nil
	}

	job := e.startJob(trigger.UserID, string(trigger.Kind()), "", trigger.ID)

	result, err := e.run(ctx, job, trigger.Kind(), trigger.UserID, trigger.DeckID, timeout)
	if err != nil && ctx.Err() == context.Canceled {
		job.Status = StatusFailed
		job.Error = "scheduler shutdown"
		return job
	}
	if err == nil {
		e.finishSuccess(job, result)
		if cerr := e.tasks.CompleteTrigger(trigger.ID); cerr != nil {
			e.log.Error().Err(cerr).Str("trigger_id", trigger.ID).Msg("Failed to record trigger completion")
		}
		return job
	}

	e.finishFailure(job, err)

	maxRetries := defaultTriggerMaxRetries
	if errors.Is(err, ErrUnknownKind) {
		maxRetries = 0 // fatal, no retry
	}
	terminal, ferr := e.tasks.FailTrigger(trigger, maxRetries, job.StartedAt)
	if ferr != nil {
		e.log.Error().Err(ferr).Str("trigger_id", trigger.ID).Msg("Failed to record trigger failure")
	} else if terminal {
		e.log.Warn().Str("trigger_id", trigger.ID).Msg("Trigger exhausted retry budget, marked failed")
	}
	return job
}

// RunTriggerNow is the synchronous fast path used for immediate-priority
// triggers of immediate-frequency users.
func (e *Executor) RunTriggerNow(ctx context.Context, trigger *tasks.AnalysisTrigger) error {
	timeout := e.settings.LoadSchedulerSettings().JobTimeout
	job := e.ExecuteTrigger(ctx, trigger, timeout)
	if job == nil {
		return nil // already claimed elsewhere
	}
	if job.Status == StatusFailed {
		return fmt.Errorf("trigger execution failed: %s", job.Error)
	}
	return nil
}

// run dispatches to the engine for the kind under a timeout, converting
// panics and deadline hits into ordinary errors.
func (e *Executor) run(ctx context.Context, job *Job, kind tasks.Kind, userID, deckID string, timeout time.Duration) (result string, err error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panicked: %v", r)
			e.log.Error().Interface("panic", r).Str("job_id", job.ID).Str("kind", string(kind)).Msg("Engine panic captured")
		}
	}()

	result, err = e.dispatch(ctx, kind, userID, deckID)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		err = fmt.Errorf("job timeout after %s: %w", timeout, err)
	}
	return result, err
}

func (e *Executor) dispatch(ctx context.Context, kind tasks.Kind, userID, deckID string) (string, error) {
	switch kind {
	case tasks.KindDeckAnalysis:
		return e.engines.AnalyzeDeck(ctx, userID, deckID)
	case tasks.KindPortfolioOptimization:
		return e.engines.OptimizePortfolio(ctx, userID)
	case tasks.KindSetMonitoring:
		return e.engines.MonitorSets(ctx, userID)
	case tasks.KindPriceUpdates:
		return e.engines.UpdatePrices(ctx, userID)
	case tasks.KindMetaAnalysis:
		return e.engines.AnalyzeMeta(ctx, userID)
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

func (e *Executor) startJob(userID, kind, taskID, triggerID string) *Job {
	job := &Job{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		TriggerID: triggerID,
		UserID:    userID,
		Kind:      kind,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := e.jobs.Create(job); err != nil {
		e.log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to persist job start")
	}

	e.bus.Emit(events.JobStarted, "executor", events.JobStatusData{
		JobID:     job.ID,
		Kind:      kind,
		Status:    string(StatusRunning),
		Timestamp: job.StartedAt,
	})
	return job
}

func (e *Executor) finishSuccess(job *Job, result string) {
	job.Status = StatusCompleted
	job.Result = result
	e.finish(job)

	e.bus.Emit(events.JobCompleted, "executor", events.JobStatusData{
		JobID:     job.ID,
		Kind:      job.Kind,
		Status:    string(StatusCompleted),
		Timestamp: time.Now().UTC(),
	})
}

func (e *Executor) finishFailure(job *Job, err error) {
	job.Status = StatusFailed
	job.Error = err.Error()
	e.finish(job)

	e.log.Warn().Err(err).Str("job_id", job.ID).Str("kind", job.Kind).Msg("Job failed")
	e.bus.Emit(events.JobFailed, "executor", events.JobStatusData{
		JobID:     job.ID,
		Kind:      job.Kind,
		Status:    string(StatusFailed),
		Error:     job.Error,
		Timestamp: time.Now().UTC(),
	})
}

func (e *Executor) finish(job *Job) {
	if err := e.jobs.Finish(job); err != nil {
		e.log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to persist job result")
	}
}
