// Package main is the entry point for Deckwarden, the deck portfolio
// maintenance service. It watches collections for meaningful changes, runs
// analysis work on a schedule, and serves results over an HTTP API.
//
// The application follows clean architecture principles:
// - Domain layer is pure (no infrastructure dependencies)
// - Dependency injection via DI container
// - Repository pattern for data access
// - Engine layer for analysis logic
// - HTTP handlers for API endpoints
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mleone/deckwarden/internal/config"
	"github.com/mleone/deckwarden/internal/di"
	"github.com/mleone/deckwarden/internal/server"
	"github.com/mleone/deckwarden/pkg/logger"
)

// shutdownTimeout bounds graceful HTTP shutdown; background jobs get their
// own grace period from scheduler settings.
const shutdownTimeout = 10 * time.Second

// main orchestrates the startup sequence:
//  1. Load configuration from environment variables (.env supported)
//  2. Initialize structured logging
//  3. Wire all dependencies (databases, repositories, services)
//  4. Start the scheduler loop and optional live price feed
//  5. Start the HTTP server
//  6. Wait for a shutdown signal and stop everything in reverse order
//
// The application uses a 3-database architecture:
// - core.db: durable state (decks, tasks, triggers, configuration)
// - results.db: analysis outputs (suggestions, feedback, portfolios)
// - cache.db: ephemeral operational data (job history, lookup caches)
func main() {
	// Load configuration first to get the log level
	cfg, err := config.Load()
	if err != nil {
		// Use a fallback logger so the configuration error is still logged
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting Deckwarden")

	// Wire all dependencies: databases, repositories, clients, lookup
	// services, analysis engines, and the scheduling pipeline.
	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	// The scheduler recovers orphaned work from a previous run before its
	// first tick, then dispatches due tasks and triggers.
	container.Scheduler.Start()

	// Live price feed (optional). A failed initial connection retries in
	// the background with backoff.
	if container.PriceFeed != nil {
		if err := container.PriceFeed.Start(); err != nil {
			log.Warn().Err(err).Msg("Price feed failed to connect, retrying in background")
		}
	}

	srv := server.New(server.Deps{
		Log:         log,
		Bus:         container.Bus,
		Databases:   container.Databases(),
		Tasks:       container.TaskRepo,
		Results:     container.ResultRepo,
		Decks:       container.DeckRepo,
		Triggers:    container.TriggerService,
		Suggestions: container.SuggestionEngine,
		Portfolio:   container.Optimizer,
		Reporter:    container.Reporter,
		Maintenance: container.Housekeeper,
		Port:        cfg.Port,
		DevMode:     cfg.DevMode,
	})

	// Start the HTTP server in a goroutine so main can wait on signals
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	// Wait for a shutdown signal or a server failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}

	// Graceful shutdown, reverse of startup order: stop accepting requests,
	// stop the feed, drain scheduled work, then close databases (deferred).
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	if container.PriceFeed != nil {
		if err := container.PriceFeed.Stop(); err != nil {
			log.Warn().Err(err).Msg("Price feed stop failed")
		}
	}

	// Stop waits for running jobs up to the configured grace period, then
	// reschedules whatever is still in flight for the next start.
	container.Scheduler.Stop()

	log.Info().Msg("Deckwarden stopped")
}
