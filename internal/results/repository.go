package results

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Repository persists analysis results in results.db. Suggestion payloads
// and portfolios are msgpack blobs; the indexed columns exist only for
// querying and ordering.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new results repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "results").Logger(),
	}
}

// SaveSuggestions inserts a batch of suggestions in one transaction.
// Suggestions are never updated afterwards.
func (r *Repository) SaveSuggestions(suggestions []Suggestion) error {
	if len(suggestions) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin suggestion save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i := range suggestions {
		s := &suggestions[i]
		if s.ID == "" {
			s.ID = uuid.New().String()
		}
		if s.CreatedAt.IsZero() {
			s.CreatedAt = time.Now().UTC()
		}

		payload, err := msgpack.Marshal(s)
		if err != nil {
			return fmt.Errorf("failed to marshal suggestion %s: %w", s.ID, err)
		}

		var expiresAt interface{}
		if s.ExpiresAt != nil {
			expiresAt = s.ExpiresAt.Unix()
		}

		_, err = tx.Exec(`
			INSERT INTO suggestions
			(id, deck_id, user_id, suggestion_type, priority, confidence, impact,
			 payload, expires_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.ID, s.DeckID, s.UserID, string(s.Type), string(s.Priority),
			s.Confidence, s.Impact, payload, expiresAt, s.CreatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert suggestion %s: %w", s.ID, err)
		}
	}

	return tx.Commit()
}

// SuggestionsForDeck returns unexpired suggestions for a deck, best first:
// priority tier, then confidence.
func (r *Repository) SuggestionsForDeck(deckID string, now time.Time, limit int) ([]Suggestion, error) {
	rows, err := r.db.Query(`
		SELECT payload FROM suggestions
		WHERE deck_id = ? AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY CASE priority
			WHEN 'immediate' THEN 0
			WHEN 'high' THEN 1
			WHEN 'medium' THEN 2
			ELSE 3
		END, confidence DESC, created_at DESC
		LIMIT ?`, deckID, now.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query suggestions for deck %s: %w", deckID, err)
	}
	defer rows.Close()
	return decodeSuggestions(rows)
}

// LatestSuggestionTime returns when suggestions for a deck were last
// computed, or zero when none exist. The API layer uses this for its
// staleness check.
func (r *Repository) LatestSuggestionTime(deckID string) (time.Time, error) {
	var createdAt sql.NullInt64
	err := r.db.QueryRow(
		"SELECT MAX(created_at) FROM suggestions WHERE deck_id = ?", deckID,
	).Scan(&createdAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query latest suggestion time for %s: %w", deckID, err)
	}
	if !createdAt.Valid {
		return time.Time{}, nil
	}
	return time.Unix(createdAt.Int64, 0).UTC(), nil
}

// SaveFeedback records a user's response to a suggestion as a separate
// linked record. The suggestion row itself is never touched.
func (r *Repository) SaveFeedback(f *Feedback) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.Exec(`
		INSERT INTO suggestion_feedback (id, suggestion_id, user_id, action, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		f.ID, f.SuggestionID, f.UserID, string(f.Action), f.Note, f.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save feedback for suggestion %s: %w", f.SuggestionID, err)
	}
	return nil
}

// FeedbackForSuggestion returns the feedback records for a suggestion.
func (r *Repository) FeedbackForSuggestion(suggestionID string) ([]Feedback, error) {
	rows, err := r.db.Query(`
		SELECT id, suggestion_id, user_id, action, note, created_at
		FROM suggestion_feedback WHERE suggestion_id = ? ORDER BY created_at`,
		suggestionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback for %s: %w", suggestionID, err)
	}
	defer rows.Close()

	var out []Feedback
	for rows.Next() {
		var f Feedback
		var createdAt int64
		if err := rows.Scan(&f.ID, &f.SuggestionID, &f.UserID, (*string)(&f.Action), &f.Note, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback row: %w", err)
		}
		f.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, f)
	}
	return out, rows.Err()
}

// SavePortfolio upserts the portfolio result for a user. Only the latest
// result is kept.
func (r *Repository) SavePortfolio(p *Portfolio) error {
	if p.ComputedAt.IsZero() {
		p.ComputedAt = time.Now().UTC()
	}

	payload, err := msgpack.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal portfolio for %s: %w", p.UserID, err)
	}

	_, err = r.db.Exec(`
		INSERT OR REPLACE INTO portfolios (user_id, payload, computed_at)
		VALUES (?, ?, ?)`,
		p.UserID, payload, p.ComputedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save portfolio for %s: %w", p.UserID, err)
	}
	return nil
}

// GetPortfolio returns the latest portfolio result for a user, or nil when
// none has been computed.
func (r *Repository) GetPortfolio(userID string) (*Portfolio, error) {
	var payload []byte
	err := r.db.QueryRow("SELECT payload FROM portfolios WHERE user_id = ?", userID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load portfolio for %s: %w", userID, err)
	}

	var p Portfolio
	if err := msgpack.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("failed to decode portfolio for %s: %w", userID, err)
	}
	return &p, nil
}

// DeleteExpiredSuggestions removes suggestions past their expiry.
func (r *Repository) DeleteExpiredSuggestions(now time.Time) (int64, error) {
	res, err := r.db.Exec(
		"DELETE FROM suggestions WHERE expires_at IS NOT NULL AND expires_at < ?", now.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired suggestions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func decodeSuggestions(rows *sql.Rows) ([]Suggestion, error) {
	var out []Suggestion
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan suggestion payload: %w", err)
		}
		var s Suggestion
		if err := msgpack.Unmarshal(payload, &s); err != nil {
			return nil, fmt.Errorf("failed to decode suggestion: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
