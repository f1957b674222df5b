package di

import (
	"github.com/rs/zerolog"

	"github.com/mleone/deckwarden/internal/clientdata"
	"github.com/mleone/deckwarden/internal/decks"
	"github.com/mleone/deckwarden/internal/jobs"
	"github.com/mleone/deckwarden/internal/results"
	"github.com/mleone/deckwarden/internal/settings"
	"github.com/mleone/deckwarden/internal/tasks"
)

// InitializeRepositories creates the data access layer over the open
// databases.
func InitializeRepositories(container *Container, log zerolog.Logger) {
	container.SettingsRepo = settings.NewRepository(container.CoreDB.Conn(), log)
	container.ConfigRepo = settings.NewAnalysisConfigRepository(container.CoreDB.Conn(), log)
	container.DeckRepo = decks.NewRepository(container.CoreDB.Conn(), log)
	container.TaskRepo = tasks.NewRepository(container.CoreDB.Conn(), log)

	container.ResultRepo = results.NewRepository(container.ResultsDB.Conn(), log)

	container.JobRepo = jobs.NewRepository(container.CacheDB.Conn(), log)
	container.ClientDataRepo = clientdata.NewRepository(container.CacheDB.Conn())

	log.Info().Msg("Repositories initialized")
}
