// Package scheduler runs the process-wide control loop: it polls the task
// store, applies concurrency and maintenance-window limits, and hands
// eligible work to the job executor without waiting for completion.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mleone/deckwarden/internal/jobs"
	"github.com/mleone/deckwarden/internal/settings"
	"github.com/mleone/deckwarden/internal/tasks"
)

// BackupRunner is the optional daily-backup hook, executed once per day
// inside the maintenance window.
type BackupRunner interface {
	RunDailyBackup(ctx context.Context) error
	BackedUpToday() bool
}

// runningJob is one registry entry for an in-flight dispatch.
type runningJob struct {
	taskID    string
	triggerID string
	kind      tasks.Kind
}

// Loop is the scheduler. Start and Stop are idempotent; ticks never block on
// job completion.
type Loop struct {
	taskRepo *tasks.Repository
	jobRepo  *jobs.Repository
	executor *jobs.Executor
	settings *settings.Repository
	backup   BackupRunner
	log      zerolog.Logger

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	cancel  context.CancelFunc
	loopWG  sync.WaitGroup

	// In-flight registry, keyed by dispatch ID
	runningMu sync.Mutex
	running   map[string]runningJob
	jobsWG    sync.WaitGroup
}

// New creates a new scheduler loop. backup may be nil.
func New(taskRepo *tasks.Repository, jobRepo *jobs.Repository, executor *jobs.Executor, settingsRepo *settings.Repository, backup BackupRunner, log zerolog.Logger) *Loop {
	return &Loop{
		taskRepo: taskRepo,
		jobRepo:  jobRepo,
		executor: executor,
		settings: settingsRepo,
		backup:   backup,
		log:      log.With().Str("component", "scheduler").Logger(),
		running:  make(map[string]runningJob),
	}
}

// Start recovers orphaned work from a previous run, then begins ticking.
// Calling Start on a started loop is a no-op.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return
	}

	// Crash recovery before the first tick: orphaned processing triggers go
	// back to pending, orphaned job rows are closed out.
	if _, err := l.taskRepo.RecoverStale(); err != nil {
		l.log.Error().Err(err).Msg("Trigger recovery failed")
	}
	if _, err := l.jobRepo.FailOrphaned("recovered after restart"); err != nil {
		l.log.Error().Err(err).Msg("Job recovery failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.stopCh = make(chan struct{})
	l.started = true

	l.loopWG.Add(1)
	go l.run(ctx)

	l.log.Info().Msg("Scheduler started")
}

// Stop halts ticking, then waits a bounded grace period for in-flight jobs.
// Jobs still running after the grace period are force-failed and their owning
// tasks/triggers rescheduled for immediate retry.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return
	}
	l.started = false
	close(l.stopCh)
	l.mu.Unlock()

	l.loopWG.Wait()

	grace := l.settings.LoadSchedulerSettings().ShutdownGrace
	if l.waitJobs(grace) {
		l.cancel()
		l.log.Info().Msg("Scheduler stopped, all jobs completed")
		return
	}

	// Grace period expired: snapshot what's still in flight, cancel engine
	// contexts, then force-fail and reschedule. Cancelled executions skip
	// their own bookkeeping, so this reconciliation is the only writer.
	remaining := l.snapshotRunning()
	l.cancel()
	l.forceFailRemaining(remaining)
	l.log.Warn().Int("count", len(remaining)).Msg("Scheduler stopped, in-flight jobs force-failed")
}

// waitJobs waits for the in-flight WaitGroup up to the timeout. Returns true
// when all jobs finished in time.
func (l *Loop) waitJobs(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		l.jobsWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (l *Loop) snapshotRunning() []runningJob {
	l.runningMu.Lock()
	defer l.runningMu.Unlock()
	remaining := make([]runningJob, 0, len(l.running))
	for _, rj := range l.running {
		remaining = append(remaining, rj)
	}
	return remaining
}

// forceFailRemaining closes out everything still in flight at shutdown.
func (l *Loop) forceFailRemaining(remaining []runningJob) {
	now := time.Now()

	if _, err := l.jobRepo.FailOrphaned("scheduler shutdown"); err != nil {
		l.log.Error().Err(err).Msg("Failed to force-fail jobs on shutdown")
	}

	for _, rj := range remaining {
		if rj.taskID != "" {
			if err := l.taskRepo.RescheduleTaskNow(rj.taskID, now); err != nil {
				l.log.Error().Err(err).Str("task_id", rj.taskID).Msg("Failed to reschedule task on shutdown")
			}
		}
		if rj.triggerID != "" {
			if err := l.taskRepo.RescheduleTrigger(rj.triggerID, now); err != nil {
				l.log.Error().Err(err).Str("trigger_id", rj.triggerID).Msg("Failed to reschedule trigger on shutdown")
			}
		}
	}
}

func (l *Loop) run(ctx context.Context) {
	defer l.loopWG.Done()

	// First tick immediately, then on the poll interval. The interval is a
	// runtime tunable, so the ticker is rebuilt when it changes.
	interval := l.settings.LoadSchedulerSettings().PollInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.Tick(ctx, time.Now())

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.Tick(ctx, time.Now())
			if next := l.settings.LoadSchedulerSettings().PollInterval; next != interval && next > 0 {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// Tick runs one scheduling pass. Exported for tests; production code only
// reaches it through Start.
func (l *Loop) Tick(ctx context.Context, now time.Time) {
	cfg := l.settings.LoadSchedulerSettings()
	inWindow := cfg.InMaintenanceWindow(now)

	capacity := cfg.MaxConcurrentJobs - l.RunningCount()
	if capacity <= 0 {
		return
	}

	// Triggers first: they carry explicit priority ordering
	dispatched := l.dispatchTriggers(ctx, cfg, now, capacity)
	capacity -= dispatched
	if capacity > 0 {
		dispatched += l.dispatchTasks(ctx, cfg, now, inWindow, capacity)
	}

	if dispatched > 0 {
		l.log.Debug().Int("dispatched", dispatched).Bool("in_window", inWindow).Msg("Tick dispatched work")
	}

	l.maybeRunBackup(ctx, cfg, now, inWindow)
}

func (l *Loop) dispatchTriggers(ctx context.Context, cfg settings.SchedulerSettings, now time.Time, capacity int) int {
	due, err := l.taskRepo.DueTriggers(now, capacity*2)
	if err != nil {
		l.log.Error().Err(err).Msg("Failed to query due triggers")
		return 0
	}

	dispatched := 0
	for _, trigger := range due {
		if dispatched >= capacity {
			break
		}
		kind := trigger.Kind()
		if !cfg.KindEnabled(string(kind)) {
			continue
		}
		if kind.Heavy() && !cfg.InMaintenanceWindow(now) {
			continue
		}

		tr := trigger
		l.track("trigger:"+tr.ID, runningJob{triggerID: tr.ID, kind: kind})
		l.jobsWG.Add(1)
		go func() {
			defer l.jobsWG.Done()
			defer l.untrack("trigger:" + tr.ID)
			l.executor.ExecuteTrigger(ctx, tr, cfg.JobTimeout)
		}()
		dispatched++
	}
	return dispatched
}

func (l *Loop) dispatchTasks(ctx context.Context, cfg settings.SchedulerSettings, now time.Time, inWindow bool, capacity int) int {
	due, err := l.taskRepo.DueTasks(now, capacity*2)
	if err != nil {
		l.log.Error().Err(err).Msg("Failed to query due tasks")
		return 0
	}

	dispatched := 0
	for _, task := range due {
		if dispatched >= capacity {
			break
		}
		if !cfg.KindEnabled(string(task.Kind)) {
			continue
		}
		// Heavy kinds are deferred to low-traffic hours
		if task.Kind.Heavy() && !inWindow {
			continue
		}
		if l.isRunning("task:" + task.ID) {
			continue
		}

		tk := task
		l.track("task:"+tk.ID, runningJob{taskID: tk.ID, kind: tk.Kind})
		l.jobsWG.Add(1)
		go func() {
			defer l.jobsWG.Done()
			defer l.untrack("task:" + tk.ID)
			l.executor.ExecuteTask(ctx, tk, cfg.JobTimeout)
		}()
		dispatched++
	}
	return dispatched
}

func (l *Loop) maybeRunBackup(ctx context.Context, cfg settings.SchedulerSettings, now time.Time, inWindow bool) {
	if l.backup == nil || !inWindow {
		return
	}
	if now.UTC().Hour() != cfg.BackupHour || l.backup.BackedUpToday() {
		return
	}

	l.jobsWG.Add(1)
	go func() {
		defer l.jobsWG.Done()
		if err := l.backup.RunDailyBackup(ctx); err != nil {
			l.log.Error().Err(err).Msg("Daily backup failed")
		}
	}()
}

// RunningCount returns the number of in-flight dispatches.
func (l *Loop) RunningCount() int {
	l.runningMu.Lock()
	defer l.runningMu.Unlock()
	return len(l.running)
}

func (l *Loop) track(key string, rj runningJob) {
	l.runningMu.Lock()
	defer l.runningMu.Unlock()
	l.running[key] = rj
}

func (l *Loop) untrack(key string) {
	l.runningMu.Lock()
	defer l.runningMu.Unlock()
	delete(l.running, key)
}

func (l *Loop) isRunning(key string) bool {
	l.runningMu.Lock()
	defer l.runningMu.Unlock()
	_, ok := l.running[key]
	return ok
}
