// Package setimpact watches upcoming card-set releases and flags new cards
// that fit a user's existing decks.
package setimpact

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mleone/deckwarden/internal/decks"
	"github.com/mleone/deckwarden/internal/domain"
	"github.com/mleone/deckwarden/internal/results"
)

const (
	// New-card suggestions expire with the next monitoring pass.
	suggestionTTL = 48 * time.Hour

	// Per-deck cap so one spoiler season does not flood a deck.
	maxPerDeck = 3
)

// Analyzer matches upcoming set releases against a user's decks.
type Analyzer struct {
	sets  domain.SetSource
	decks *decks.Repository
	store *results.Repository
	log   zerolog.Logger
}

// NewAnalyzer creates a new set-impact analyzer.
func NewAnalyzer(sets domain.SetSource, deckRepo *decks.Repository, store *results.Repository, log zerolog.Logger) *Analyzer {
	return &Analyzer{
		sets:  sets,
		decks: deckRepo,
		store: store,
		log:   log.With().Str("engine", "setimpact").Logger(),
	}
}

// Analyze scans upcoming releases for cards that fit the user's decks and
// persists new_card suggestions. An empty or unavailable release feed is a
// normal outcome, not an error.
func (a *Analyzer) Analyze(ctx context.Context, userID string) (int, error) {
	releases, err := a.sets.GetUpcomingSets(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch upcoming sets: %w", err)
	}
	if len(releases) == 0 {
		a.log.Debug().Str("user_id", userID).Msg("No upcoming releases")
		return 0, nil
	}

	userDecks, err := a.decks.ListForUser(userID, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to load decks for %s: %w", userID, err)
	}

	var suggestions []results.Suggestion
	for i := range userDecks {
		deck := &userDecks[i]
		identity := deckIdentity(deck)
		count := 0
		for _, release := range releases {
			for _, card := range release.Cards {
				if count >= maxPerDeck {
					break
				}
				if !fitsIdentity(card.ColorIdentity, identity) {
					continue
				}
				if inDeck(deck, card.CardID) {
					continue
				}
				suggestions = append(suggestions, a.newCardSuggestion(deck, &release, &card))
				count++
			}
		}
	}

	if err := a.store.SaveSuggestions(suggestions); err != nil {
		return 0, fmt.Errorf("failed to persist set-impact suggestions: %w", err)
	}

	a.log.Info().
		Str("user_id", userID).
		Int("releases", len(releases)).
		Int("suggestions", len(suggestions)).
		Msg("Set monitoring completed")
	return len(suggestions), nil
}

func (a *Analyzer) newCardSuggestion(deck *decks.Deck, release *domain.SetRelease, card *domain.CardFacts) results.Suggestion {
	expires := time.Now().UTC().Add(suggestionTTL)
	return results.Suggestion{
		UserID:     deck.UserID,
		DeckID:     deck.ID,
		Type:       results.SuggestionNewCard,
		Priority:   results.PriorityMedium,
		Confidence: 0.5,
		Impact:     1,
		Title:      fmt.Sprintf("%s from %s fits %s", card.Name, release.Name, deck.Name),
		Reasoning: fmt.Sprintf("%s releases in %s on %s and matches the deck's color identity.",
			card.Name, release.Name, release.ReleasedAt.Format("2006-01-02")),
		Actions: []results.SuggestionAction{
			{Type: results.ActionAddCard, CardID: card.CardID, CardName: card.Name, Reason: "new release matching deck colors"},
		},
		ExpiresAt: &expires,
	}
}

// deckIdentity is the union of the deck's card color identities. Deck cards
// store identity as a compact string like "WU".
func deckIdentity(d *decks.Deck) map[string]bool {
	identity := map[string]bool{}
	for _, c := range d.Cards {
		for _, color := range c.ColorIdentity {
			identity[string(color)] = true
		}
	}
	return identity
}

// fitsIdentity reports whether every color of the card is already in the
// deck's identity. Colorless cards fit everywhere.
func fitsIdentity(colors []string, identity map[string]bool) bool {
	for _, c := range colors {
		if !identity[c] {
			return false
		}
	}
	return true
}

func inDeck(d *decks.Deck, cardID string) bool {
	for _, c := range d.Cards {
		if c.CardID == cardID {
			return true
		}
	}
	return false
}
