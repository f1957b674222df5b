// Package decks provides the deck store: user decks and their card lists.
// Engines read deck snapshots from here; deck edits arrive as change events
// through the trigger evaluator, never by engines writing back.
package decks

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Deck is a user-owned deck.
type Deck struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Format    string    `json:"format"`
	Cards     []Card    `json:"cards,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Card is one entry in a deck list.
type Card struct {
	CardID        string  `json:"card_id"`
	Name          string  `json:"name"`
	Quantity      int     `json:"quantity"`
	ColorIdentity string  `json:"color_identity"` // e.g. "WU"
	TypeLine      string  `json:"type_line"`
	ManaValue     float64 `json:"mana_value"`
}

// IsCreature reports whether the card's type line contains "Creature".
func (c Card) IsCreature() bool {
	return strings.Contains(c.TypeLine, "Creature")
}

// IsLand reports whether the card's type line contains "Land".
func (c Card) IsLand() bool {
	return strings.Contains(c.TypeLine, "Land")
}

// Repository handles deck CRUD against core.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new deck repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "decks").Logger(),
	}
}

// Get loads a deck and its card list.
func (r *Repository) Get(deckID string) (*Deck, error) {
	var d Deck
	var createdAt, updatedAt int64
	err := r.db.QueryRow(
		"SELECT id, user_id, name, format, created_at, updated_at FROM decks WHERE id = ?",
		deckID,
	).Scan(&d.ID, &d.UserID, &d.Name, &d.Format, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load deck %s: %w", deckID, err)
	}
	d.CreatedAt = time.Unix(createdAt, 0).UTC()
	d.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	cards, err := r.loadCards(deckID)
	if err != nil {
		return nil, err
	}
	d.Cards = cards

	return &d, nil
}

// ListForUser loads all decks for a user including card lists, capped at
// limit (0 = no cap). The portfolio optimizer passes its deck cap here so the
// O(D²) synergy pass stays bounded.
func (r *Repository) ListForUser(userID string, limit int) ([]Deck, error) {
	query := "SELECT id, user_id, name, format, created_at, updated_at FROM decks WHERE user_id = ? ORDER BY created_at"
	args := []interface{}{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list decks for %s: %w", userID, err)
	}
	defer rows.Close()

	var decks []Deck
	for rows.Next() {
		var d Deck
		var createdAt, updatedAt int64
		if err := rows.Scan(&d.ID, &d.UserID, &d.Name, &d.Format, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan deck row: %w", err)
		}
		d.CreatedAt = time.Unix(createdAt, 0).UTC()
		d.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		decks = append(decks, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range decks {
		cards, err := r.loadCards(decks[i].ID)
		if err != nil {
			return nil, err
		}
		decks[i].Cards = cards
	}

	return decks, nil
}

// CountForUser returns the number of decks a user owns.
func (r *Repository) CountForUser(userID string) (int, error) {
	var n int
	err := r.db.QueryRow("SELECT COUNT(*) FROM decks WHERE user_id = ?", userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count decks for %s: %w", userID, err)
	}
	return n, nil
}

// Holding identifies one deck containing a given card.
type Holding struct {
	UserID string
	DeckID string
}

// HoldersOf returns every deck containing a card, with its owner.
func (r *Repository) HoldersOf(cardID string) ([]Holding, error) {
	rows, err := r.db.Query(`
		SELECT d.user_id, d.id FROM decks d
		JOIN deck_cards c ON c.deck_id = d.id
		WHERE c.card_id = ?`, cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to find holders of %s: %w", cardID, err)
	}
	defer rows.Close()

	var out []Holding
	for rows.Next() {
		var h Holding
		if err := rows.Scan(&h.UserID, &h.DeckID); err != nil {
			return nil, fmt.Errorf("failed to scan holding row: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// Save upserts a deck and replaces its card list.
func (r *Repository) Save(d *Deck) error {
	now := time.Now().Unix()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Unix(now, 0).UTC()
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin deck save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT INTO decks (id, user_id, name, format, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, format = excluded.format, updated_at = excluded.updated_at`,
		d.ID, d.UserID, d.Name, d.Format, d.CreatedAt.Unix(), now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert deck %s: %w", d.ID, err)
	}

	if _, err := tx.Exec("DELETE FROM deck_cards WHERE deck_id = ?", d.ID); err != nil {
		return fmt.Errorf("failed to clear deck cards for %s: %w", d.ID, err)
	}

	for _, c := range d.Cards {
		_, err := tx.Exec(`
			INSERT INTO deck_cards (deck_id, card_id, name, quantity, color_identity, type_line, mana_value)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			d.ID, c.CardID, c.Name, c.Quantity, c.ColorIdentity, c.TypeLine, c.ManaValue,
		)
		if err != nil {
			return fmt.Errorf("failed to insert card %s into deck %s: %w", c.CardID, d.ID, err)
		}
	}

	return tx.Commit()
}

// Delete removes a deck and its cards.
func (r *Repository) Delete(deckID string) error {
	if _, err := r.db.Exec("DELETE FROM decks WHERE id = ?", deckID); err != nil {
		return fmt.Errorf("failed to delete deck %s: %w", deckID, err)
	}
	return nil
}

func (r *Repository) loadCards(deckID string) ([]Card, error) {
	rows, err := r.db.Query(`
		SELECT card_id, name, quantity, color_identity, type_line, mana_value
		FROM deck_cards WHERE deck_id = ? ORDER BY name`, deckID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cards for deck %s: %w", deckID, err)
	}
	defer rows.Close()

	var cards []Card
	for rows.Next() {
		var c Card
		if err := rows.Scan(&c.CardID, &c.Name, &c.Quantity, &c.ColorIdentity, &c.TypeLine, &c.ManaValue); err != nil {
			return nil, fmt.Errorf("failed to scan deck card row: %w", err)
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}
