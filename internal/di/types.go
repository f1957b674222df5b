// Package di provides dependency injection wiring and initialization.
package di

import (
	"github.com/mleone/deckwarden/internal/analysis"
	"github.com/mleone/deckwarden/internal/analysis/portfolio"
	"github.com/mleone/deckwarden/internal/analysis/suggestions"
	"github.com/mleone/deckwarden/internal/clientdata"
	"github.com/mleone/deckwarden/internal/clients/marketdata"
	"github.com/mleone/deckwarden/internal/clients/pricefeed"
	"github.com/mleone/deckwarden/internal/clients/scryfall"
	"github.com/mleone/deckwarden/internal/database"
	"github.com/mleone/deckwarden/internal/decks"
	"github.com/mleone/deckwarden/internal/events"
	"github.com/mleone/deckwarden/internal/jobs"
	"github.com/mleone/deckwarden/internal/lookup"
	"github.com/mleone/deckwarden/internal/notify"
	"github.com/mleone/deckwarden/internal/reliability"
	"github.com/mleone/deckwarden/internal/results"
	"github.com/mleone/deckwarden/internal/scheduler"
	"github.com/mleone/deckwarden/internal/settings"
	"github.com/mleone/deckwarden/internal/tasks"
	"github.com/mleone/deckwarden/internal/triggers"
)

// Container holds all application dependencies.
//
// Created by Wire() and read by cmd/server to start the HTTP server and
// background components. Three-database architecture:
//   - core.db: durable state (decks, tasks, triggers, configuration)
//   - results.db: analysis outputs (suggestions, feedback, portfolios)
//   - cache.db: ephemeral data (job history, lookup caches)
type Container struct {
	// Databases
	CoreDB    *database.DB
	ResultsDB *database.DB
	CacheDB   *database.DB

	// Event bus
	Bus *events.Bus

	// Repositories
	SettingsRepo   *settings.Repository
	ConfigRepo     *settings.AnalysisConfigRepository
	DeckRepo       *decks.Repository
	TaskRepo       *tasks.Repository
	JobRepo        *jobs.Repository
	ResultRepo     *results.Repository
	ClientDataRepo *clientdata.Repository

	// External clients
	Scryfall   *scryfall.Client
	MarketData *marketdata.Client
	PriceFeed  *pricefeed.Client // nil when no feed URL is configured

	// Cached lookup services
	Cards    *lookup.CardService
	Prices   *lookup.PriceService
	Meta     *lookup.MetaService
	Legality *lookup.LegalityService
	Sets     *lookup.SetService

	// Services
	Notifier         *notify.BusNotifier
	SuggestionEngine *suggestions.Engine
	Optimizer        *portfolio.Optimizer
	Engines          *analysis.Engines
	Executor         *jobs.Executor
	TriggerService   *triggers.Service
	Reporter         *jobs.Reporter
	Housekeeper      *reliability.Housekeeper
	Scheduler        *scheduler.Loop
}

// Databases returns the named database map used by health checks and the
// housekeeper.
func (c *Container) Databases() map[string]*database.DB {
	return map[string]*database.DB{
		"core":    c.CoreDB,
		"results": c.ResultsDB,
		"cache":   c.CacheDB,
	}
}

// Close closes all database connections.
func (c *Container) Close() {
	if c.CacheDB != nil {
		c.CacheDB.Close()
	}
	if c.ResultsDB != nil {
		c.ResultsDB.Close()
	}
	if c.CoreDB != nil {
		c.CoreDB.Close()
	}
}
