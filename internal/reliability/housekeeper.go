package reliability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mleone/deckwarden/internal/clientdata"
	"github.com/mleone/deckwarden/internal/database"
	"github.com/mleone/deckwarden/internal/events"
	"github.com/mleone/deckwarden/internal/results"
)

const defaultRetentionDays = 30

// Housekeeper runs the daily maintenance pass the scheduler fires inside the
// maintenance window: WAL checkpoints, expired-cache cleanup, suggestion
// expiry, and the cloud backup. The cache database additionally gets a
// weekly vacuum.
type Housekeeper struct {
	databases map[string]*database.DB
	cache     *clientdata.Repository
	results   *results.Repository
	backup    *BackupService // nil when no blob store is configured
	bus       *events.Bus
	log       zerolog.Logger

	retentionDays int

	mu          sync.Mutex
	lastRunDay  string
	lastVacuumW string
}

// NewHousekeeper creates a new housekeeper.
func NewHousekeeper(
	databases map[string]*database.DB,
	cache *clientdata.Repository,
	resultStore *results.Repository,
	backup *BackupService,
	bus *events.Bus,
	log zerolog.Logger,
) *Housekeeper {
	return &Housekeeper{
		databases:     databases,
		cache:         cache,
		results:       resultStore,
		backup:        backup,
		bus:           bus,
		retentionDays: defaultRetentionDays,
		log:           log.With().Str("service", "housekeeper").Logger(),
	}
}

// SetRetentionDays overrides the backup retention period.
func (h *Housekeeper) SetRetentionDays(days int) {
	h.retentionDays = days
}

// BackedUpToday reports whether the daily pass already ran on the current
// UTC day.
func (h *Housekeeper) BackedUpToday() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastRunDay == time.Now().UTC().Format("2006-01-02")
}

// RunDailyBackup executes the full maintenance pass. Cleanup failures are
// logged and skipped; only a failed backup upload is an error.
func (h *Housekeeper) RunDailyBackup(ctx context.Context) error {
	h.log.Info().Msg("Starting daily maintenance pass")
	startTime := time.Now()

	h.checkpointAll()
	h.cleanupCaches()
	h.cleanupSuggestions()
	h.maybeVacuumCache()

	if h.backup != nil {
		archive, err := h.backup.CreateAndUpload(ctx)
		if err != nil {
			return fmt.Errorf("daily backup failed: %w", err)
		}
		if err := h.backup.RotateOldBackups(ctx, h.retentionDays); err != nil {
			h.log.Warn().Err(err).Msg("Backup rotation failed")
		}
		if h.bus != nil {
			h.bus.Emit(events.BackupCompleted, "housekeeper", events.BackupCompletedData{
				Filename: archive,
			})
		}
	}

	h.mu.Lock()
	h.lastRunDay = time.Now().UTC().Format("2006-01-02")
	h.mu.Unlock()

	h.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Msg("Daily maintenance pass completed")
	return nil
}

// checkpointAll truncates every database's WAL to keep file sizes bounded.
func (h *Housekeeper) checkpointAll() {
	for name, db := range h.databases {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			h.log.Warn().Err(err).Str("database", name).Msg("WAL checkpoint failed")
		}
	}
}

func (h *Housekeeper) cleanupCaches() {
	deleted, err := h.cache.DeleteAllExpired()
	if err != nil {
		h.log.Warn().Err(err).Msg("Cache cleanup failed")
		return
	}
	total := int64(0)
	for _, n := range deleted {
		total += n
	}
	if total > 0 {
		h.log.Info().Int64("deleted", total).Msg("Expired cache entries removed")
	}
}

func (h *Housekeeper) cleanupSuggestions() {
	deleted, err := h.results.DeleteExpiredSuggestions(time.Now())
	if err != nil {
		h.log.Warn().Err(err).Msg("Suggestion cleanup failed")
		return
	}
	if deleted > 0 {
		h.log.Info().Int64("deleted", deleted).Msg("Expired suggestions removed")
	}
}

// maybeVacuumCache vacuums the cache database once per ISO week. The cache
// churns constantly; the other databases grow slowly and are left alone.
func (h *Housekeeper) maybeVacuumCache() {
	db, ok := h.databases["cache"]
	if !ok {
		return
	}

	year, week := time.Now().UTC().ISOWeek()
	thisWeek := fmt.Sprintf("%d-%02d", year, week)

	h.mu.Lock()
	done := h.lastVacuumW == thisWeek
	h.mu.Unlock()
	if done {
		return
	}

	if err := db.Vacuum(); err != nil {
		h.log.Warn().Err(err).Msg("Cache vacuum failed")
		return
	}

	h.mu.Lock()
	h.lastVacuumW = thisWeek
	h.mu.Unlock()
	h.log.Info().Str("week", thisWeek).Msg("Cache database vacuumed")
}
