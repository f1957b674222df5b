package di

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/mleone/deckwarden/internal/config"
	"github.com/mleone/deckwarden/internal/database"
)

// InitializeDatabases opens and migrates the three databases.
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	specs := []struct {
		name    string
		profile database.DatabaseProfile
		target  **database.DB
	}{
		{"core", database.ProfileStandard, &container.CoreDB},
		{"results", database.ProfileStandard, &container.ResultsDB},
		{"cache", database.ProfileCache, &container.CacheDB},
	}

	for _, spec := range specs {
		db, err := database.New(database.Config{
			Path:    filepath.Join(cfg.DataDir, spec.name+".db"),
			Profile: spec.profile,
			Name:    spec.name,
		})
		if err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to open %s database: %w", spec.name, err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			container.Close()
			return nil, fmt.Errorf("failed to migrate %s database: %w", spec.name, err)
		}
		*spec.target = db
		log.Info().Str("database", spec.name).Str("profile", string(spec.profile)).Msg("Database initialized")
	}

	return container, nil
}
