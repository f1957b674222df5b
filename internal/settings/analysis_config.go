package settings

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mleone/deckwarden/internal/domain"
)

// AnalysisConfigRepository handles per-user analysis configuration rows in
// core.db. A missing row yields the documented default configuration.
type AnalysisConfigRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewAnalysisConfigRepository creates a new analysis configuration repository.
func NewAnalysisConfigRepository(db *sql.DB, log zerolog.Logger) *AnalysisConfigRepository {
	return &AnalysisConfigRepository{
		db:  db,
		log: log.With().Str("repository", "analysis_config").Logger(),
	}
}

// Get returns the stored configuration for a user, or the default when none
// exists.
func (r *AnalysisConfigRepository) Get(userID string) (domain.AnalysisConfiguration, error) {
	cfg := domain.DefaultAnalysisConfiguration(userID)

	var (
		enableAuto   int
		frequency    string
		enabledTypes string
	)
	err := r.db.QueryRow(`
		SELECT enable_auto_analysis, analysis_frequency, min_card_value,
		       min_change_pct, max_analyses_per_day, enabled_types
		FROM analysis_configurations WHERE user_id = ?`, userID,
	).Scan(&enableAuto, &frequency, &cfg.MinCardValue, &cfg.MinChangePct,
		&cfg.MaxAnalysesPerDay, &enabledTypes)
	if err == sql.ErrNoRows {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to load analysis configuration for %s: %w", userID, err)
	}

	cfg.EnableAutoAnalysis = enableAuto != 0
	cfg.AnalysisFrequency = domain.AnalysisFrequency(frequency)
	if enabledTypes != "" && enabledTypes != "{}" {
		if err := json.Unmarshal([]byte(enabledTypes), &cfg.EnabledTypes); err != nil {
			r.log.Warn().Err(err).Str("user_id", userID).Msg("Malformed enabled_types, treating all as enabled")
			cfg.EnabledTypes = map[string]bool{}
		}
	}

	return cfg, nil
}

// Save upserts a user's configuration.
func (r *AnalysisConfigRepository) Save(cfg domain.AnalysisConfiguration) error {
	enabledTypes, err := json.Marshal(cfg.EnabledTypes)
	if err != nil {
		return fmt.Errorf("failed to marshal enabled_types: %w", err)
	}

	enableAuto := 0
	if cfg.EnableAutoAnalysis {
		enableAuto = 1
	}

	_, err = r.db.Exec(`
		INSERT OR REPLACE INTO analysis_configurations
		(user_id, enable_auto_analysis, analysis_frequency, min_card_value,
		 min_change_pct, max_analyses_per_day, enabled_types, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.UserID, enableAuto, string(cfg.AnalysisFrequency), cfg.MinCardValue,
		cfg.MinChangePct, cfg.MaxAnalysesPerDay, string(enabledTypes), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save analysis configuration for %s: %w", cfg.UserID, err)
	}
	return nil
}
