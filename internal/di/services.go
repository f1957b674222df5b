package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mleone/deckwarden/internal/analysis"
	"github.com/mleone/deckwarden/internal/analysis/portfolio"
	"github.com/mleone/deckwarden/internal/analysis/setimpact"
	"github.com/mleone/deckwarden/internal/analysis/suggestions"
	"github.com/mleone/deckwarden/internal/clients/marketdata"
	"github.com/mleone/deckwarden/internal/clients/pricefeed"
	"github.com/mleone/deckwarden/internal/clients/scryfall"
	"github.com/mleone/deckwarden/internal/config"
	"github.com/mleone/deckwarden/internal/events"
	"github.com/mleone/deckwarden/internal/jobs"
	"github.com/mleone/deckwarden/internal/lookup"
	"github.com/mleone/deckwarden/internal/notify"
	"github.com/mleone/deckwarden/internal/reliability"
	"github.com/mleone/deckwarden/internal/scheduler"
	"github.com/mleone/deckwarden/internal/triggers"
)

// InitializeServices creates clients, lookup services, analysis engines, and
// the scheduling pipeline.
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	container.Bus = events.NewBus(log)

	// External clients. Scryfall serves card facts, sets, and legality; the
	// market data API serves prices and the format metagame.
	container.Scryfall = scryfall.NewClient(log)
	container.MarketData = marketdata.NewClient(cfg.MarketDataAPIKey, log)
	container.MarketData.SetBaseURL(cfg.MarketDataURL)

	// Cached lookup services, each with its own in-memory layer over the
	// shared sqlite client-data store.
	container.Cards = lookup.NewCardService(container.Scryfall, lookup.NewMemoryCache(), container.ClientDataRepo, log)
	container.Prices = lookup.NewPriceService(container.MarketData, lookup.NewMemoryCache(), container.ClientDataRepo, log)
	container.Meta = lookup.NewMetaService(container.MarketData, lookup.NewMemoryCache(), container.ClientDataRepo, log)
	container.Legality = lookup.NewLegalityService(container.Scryfall, lookup.NewMemoryCache(), container.ClientDataRepo, log)
	container.Sets = lookup.NewSetService(container.Scryfall, lookup.NewMemoryCache(), container.ClientDataRepo, log)

	container.Notifier = notify.NewBusNotifier(container.Bus, log)

	// Analysis engines behind the executor facade. The suggestion engine is
	// also exposed directly for the API's on-read refresh path.
	container.SuggestionEngine = suggestions.NewEngine(
		container.DeckRepo, container.Prices, container.Meta, container.Legality,
		container.ResultRepo, log,
	)
	container.Optimizer = portfolio.NewOptimizer(
		container.DeckRepo, container.Prices, container.SettingsRepo,
		container.ResultRepo, log,
	)
	setImpact := setimpact.NewAnalyzer(container.Sets, container.DeckRepo, container.ResultRepo, log)
	container.Engines = analysis.NewEngines(
		container.SuggestionEngine, container.Optimizer, setImpact,
		container.Prices, container.Meta, container.DeckRepo, container.Notifier, log,
	)

	// Scheduling pipeline: triggers feed the executor, the scheduler drives
	// both. The executor doubles as the synchronous fast path for
	// immediate-priority triggers.
	container.Executor = jobs.NewExecutor(
		container.Engines, container.JobRepo, container.TaskRepo,
		container.SettingsRepo, container.Bus, log,
	)
	container.TriggerService = triggers.NewService(
		triggers.NewEvaluator(log), container.TaskRepo, container.ConfigRepo,
		container.Bus, log,
	)
	container.TriggerService.SetRunner(container.Executor)

	container.Reporter = jobs.NewReporter(container.JobRepo, log)

	// Housekeeping and backups. Without blob store credentials the daily
	// pass still checkpoints, vacuums, and expires caches.
	var backupSvc *reliability.BackupService
	if cfg.Backup.Enabled() {
		store, err := reliability.NewObjectStore(
			cfg.Backup.Endpoint, cfg.Backup.Region,
			cfg.Backup.AccessKey, cfg.Backup.SecretKey, cfg.Backup.Bucket, log,
		)
		if err != nil {
			return fmt.Errorf("failed to initialize backup object store: %w", err)
		}
		backupSvc = reliability.NewBackupService(container.Databases(), store, cfg.DataDir, log)
		log.Info().Str("bucket", cfg.Backup.Bucket).Msg("Cloud backups enabled")
	} else {
		log.Info().Msg("Cloud backups disabled, no storage credentials configured")
	}
	container.Housekeeper = reliability.NewHousekeeper(
		container.Databases(), container.ClientDataRepo, container.ResultRepo,
		backupSvc, container.Bus, log,
	)
	if cfg.Backup != nil && cfg.Backup.RetentionDays > 0 {
		container.Housekeeper.SetRetentionDays(cfg.Backup.RetentionDays)
	}

	container.Scheduler = scheduler.New(
		container.TaskRepo, container.JobRepo, container.Executor,
		container.SettingsRepo, container.Housekeeper, log,
	)

	// Live price feed is optional; without it price_change events only
	// arrive via the API.
	if cfg.PriceFeedURL != "" {
		container.PriceFeed = pricefeed.NewClient(
			cfg.PriceFeedURL, cfg.PriceFeedAPIKey,
			container.DeckRepo, container.TriggerService, container.Bus, log,
		)
	}

	log.Info().Msg("Services initialized")
	return nil
}
