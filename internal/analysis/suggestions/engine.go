// Package suggestions implements the proactive suggestion engine: it gathers
// deck, price, meta, and legality data for one deck and scores explainable,
// actionable recommendations.
package suggestions

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/mleone/deckwarden/internal/decks"
	"github.com/mleone/deckwarden/internal/domain"
	"github.com/mleone/deckwarden/internal/results"
)

const (
	// TopN bounds suggestion output per run to keep downstream notification
	// volume bounded.
	TopN = 10

	// Suggestions expire once their underlying data is surely stale.
	suggestionTTL = 7 * 24 * time.Hour

	// Confidence multiplier applied when one or more lookups were degraded.
	degradedConfidenceFactor = 0.8

	priceWatchThreshold = 10.0
	highImpactThreshold = 50.0
	metaShareThreshold  = 0.15
	weakMatchup         = 0.5
)

// gathered is the phase-one snapshot: everything the scorers need, fetched
// up front so scoring stays pure.
type gathered struct {
	deck     *decks.Deck
	prices   map[string]*domain.CardPrice
	meta     *domain.MetaSnapshot
	legality *domain.FormatLegality
	degraded bool
}

// Engine produces proactive suggestions for a single deck.
type Engine struct {
	decks    *decks.Repository
	prices   domain.PriceSource
	meta     domain.MetaSource
	legality domain.LegalitySource
	store    *results.Repository
	log      zerolog.Logger
}

// NewEngine creates a new suggestion engine.
func NewEngine(deckRepo *decks.Repository, prices domain.PriceSource, meta domain.MetaSource, legality domain.LegalitySource, store *results.Repository, log zerolog.Logger) *Engine {
	return &Engine{
		decks:    deckRepo,
		prices:   prices,
		meta:     meta,
		legality: legality,
		store:    store,
		log:      log.With().Str("engine", "suggestions").Logger(),
	}
}

// Analyze runs the full gather-then-score pass for one deck and persists the
// resulting suggestions. Returns the stored suggestions.
func (e *Engine) Analyze(ctx context.Context, userID, deckID string) ([]results.Suggestion, error) {
	g, err := e.gather(ctx, userID, deckID)
	if err != nil {
		return nil, err
	}
	if g.deck == nil {
		return nil, fmt.Errorf("deck %s not found", deckID)
	}

	suggestions := e.score(g)
	if err := e.store.SaveSuggestions(suggestions); err != nil {
		return nil, fmt.Errorf("failed to persist suggestions: %w", err)
	}

	e.log.Info().
		Str("deck_id", deckID).
		Int("count", len(suggestions)).
		Bool("degraded", g.degraded).
		Msg("Deck analysis completed")
	return suggestions, nil
}

// gather fetches all inputs. Individual lookup failures degrade the result
// instead of failing the run; only a missing deck is fatal.
func (e *Engine) gather(ctx context.Context, userID, deckID string) (*gathered, error) {
	deck, err := e.decks.Get(deckID)
	if err != nil {
		return nil, err
	}
	if deck == nil {
		return &gathered{}, nil
	}

	g := &gathered{deck: deck}

	cardIDs := make([]string, 0, len(deck.Cards))
	for _, c := range deck.Cards {
		cardIDs = append(cardIDs, c.CardID)
	}

	g.prices, err = e.prices.GetPrices(ctx, cardIDs)
	if err != nil {
		e.log.Warn().Err(err).Str("deck_id", deckID).Msg("Price lookup degraded")
		g.prices = map[string]*domain.CardPrice{}
		g.degraded = true
	}

	g.meta, err = e.meta.GetMetaSnapshot(ctx, deck.Format)
	if err != nil {
		e.log.Warn().Err(err).Str("format", deck.Format).Msg("Meta lookup degraded")
		g.degraded = true
	}

	g.legality, err = e.legality.GetLegality(ctx, deck.Format)
	if err != nil {
		e.log.Warn().Err(err).Str("format", deck.Format).Msg("Legality lookup degraded")
		g.degraded = true
	}

	return g, nil
}

// score runs the independent per-category scorers, merges, sorts by the
// composite key (priority tier, confidence, impact), and truncates to TopN.
func (e *Engine) score(g *gathered) []results.Suggestion {
	var out []results.Suggestion
	out = append(out, e.scorePrices(g)...)
	out = append(out, e.scoreMeta(g)...)
	out = append(out, e.scoreLegality(g)...)
	out = append(out, e.scoreBudget(g)...)

	if g.degraded {
		for i := range out {
			out[i].Confidence *= degradedConfidenceFactor
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority.Rank() != out[j].Priority.Rank() {
			return out[i].Priority.Rank() < out[j].Priority.Rank()
		}
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Impact > out[j].Impact
	})

	if len(out) > TopN {
		out = out[:TopN]
	}
	return out
}

// scorePrices flags price movement on deck cards: rising cards are worth
// watching before they run away, falling cards are acquisition windows.
func (e *Engine) scorePrices(g *gathered) []results.Suggestion {
	var out []results.Suggestion
	for _, card := range g.deck.Cards {
		price, ok := g.prices[card.CardID]
		if !ok || price.CurrentPrice < priceWatchThreshold {
			continue
		}

		switch price.Trend {
		case domain.TrendRising:
			out = append(out, e.newSuggestion(g.deck, results.SuggestionPriceOpportunity,
				priorityForImpact(price.CurrentPrice),
				clamp(0.55+price.Volatility*2, 0.55, 0.9),
				price.CurrentPrice,
				fmt.Sprintf("%s is rising in price", card.Name),
				fmt.Sprintf("%s trades at %.2f with a rising trend; lock in copies or line up a replacement before it climbs further.", card.Name, price.CurrentPrice),
				[]results.SuggestionAction{
					{Type: results.ActionWatchPrice, CardID: card.CardID, CardName: card.Name, Reason: "rising trend"},
				}))
		case domain.TrendFalling:
			out = append(out, e.newSuggestion(g.deck, results.SuggestionPriceOpportunity,
				results.PriorityMedium,
				0.6,
				price.CurrentPrice,
				fmt.Sprintf("%s is falling in price", card.Name),
				fmt.Sprintf("%s trades at %.2f with a falling trend; a good window to pick up extra copies.", card.Name, price.CurrentPrice),
				[]results.SuggestionAction{
					{Type: results.ActionAdjustQuantity, CardID: card.CardID, CardName: card.Name, Quantity: card.Quantity + 1, Reason: "falling trend"},
				}))
		}
	}
	return out
}

// scoreMeta suggests adaptation against dominant archetypes the deck
// matches up poorly into.
func (e *Engine) scoreMeta(g *gathered) []results.Suggestion {
	if g.meta == nil {
		return nil
	}

	var out []results.Suggestion
	for _, arch := range g.meta.Archetypes {
		if arch.Share < metaShareThreshold {
			continue
		}
		matchup, known := arch.Matchups[g.deck.Name]
		if known && matchup <= weakMatchup {
			continue // the field is weak into us, nothing to adapt
		}

		out = append(out, e.newSuggestion(g.deck, results.SuggestionMetaAdaptation,
			results.PriorityMedium,
			clamp(0.4+arch.Share, 0.4, 0.85),
			arch.Share*100,
			fmt.Sprintf("Adapt for %s", arch.Name),
			fmt.Sprintf("%s holds %.0f%% of the %s field; review sideboard coverage for the matchup.", arch.Name, arch.Share*100, g.meta.Format),
			[]results.SuggestionAction{
				{Type: results.ActionAddCard, Reason: fmt.Sprintf("sideboard coverage against %s", arch.Name)},
			}))
	}
	return out
}

// scoreLegality flags banned cards still in the deck. These outrank
// everything else: the deck cannot be played as-is.
func (e *Engine) scoreLegality(g *gathered) []results.Suggestion {
	if g.legality == nil {
		return nil
	}

	var out []results.Suggestion
	for _, card := range g.deck.Cards {
		if g.legality.Allowed(card.CardID) {
			continue
		}
		out = append(out, e.newSuggestion(g.deck, results.SuggestionMetaAdaptation,
			results.PriorityImmediate,
			0.95,
			float64(card.Quantity),
			fmt.Sprintf("%s is banned in %s", card.Name, g.deck.Format),
			fmt.Sprintf("%s appears on the %s ban list; the deck is illegal until it is replaced.", card.Name, g.deck.Format),
			[]results.SuggestionAction{
				{Type: results.ActionRemoveCard, CardID: card.CardID, CardName: card.Name, Reason: "banned"},
			}))
	}
	return out
}

// scoreBudget flags concentration risk: a single card carrying a large share
// of the deck's total value.
func (e *Engine) scoreBudget(g *gathered) []results.Suggestion {
	if len(g.prices) == 0 {
		return nil
	}

	total := 0.0
	for _, card := range g.deck.Cards {
		if p, ok := g.prices[card.CardID]; ok {
			total += p.CurrentPrice * float64(card.Quantity)
		}
	}
	if total <= 0 {
		return nil
	}

	var out []results.Suggestion
	for _, card := range g.deck.Cards {
		p, ok := g.prices[card.CardID]
		if !ok {
			continue
		}
		share := p.CurrentPrice * float64(card.Quantity) / total
		if share < 0.5 || p.CurrentPrice < highImpactThreshold {
			continue
		}
		out = append(out, e.newSuggestion(g.deck, results.SuggestionBudgetOptimization,
			results.PriorityLow,
			0.5,
			p.CurrentPrice*float64(card.Quantity),
			fmt.Sprintf("%s dominates the deck budget", card.Name),
			fmt.Sprintf("%s accounts for %.0f%% of the deck's market value; a functional stand-in would free most of that budget.", card.Name, share*100),
			[]results.SuggestionAction{
				{Type: results.ActionWatchPrice, CardID: card.CardID, CardName: card.Name, Reason: "budget concentration"},
			}))
	}
	return out
}

func (e *Engine) newSuggestion(deck *decks.Deck, typ results.SuggestionType, priority results.Priority, confidence, impact float64, title, reasoning string, actions []results.SuggestionAction) results.Suggestion {
	expires := time.Now().UTC().Add(suggestionTTL)
	return results.Suggestion{
		UserID:     deck.UserID,
		DeckID:     deck.ID,
		Type:       typ,
		Priority:   priority,
		Confidence: confidence,
		Impact:     impact,
		Title:      title,
		Reasoning:  reasoning,
		Actions:    actions,
		ExpiresAt:  &expires,
	}
}

func priorityForImpact(impact float64) results.Priority {
	if impact >= highImpactThreshold {
		return results.PriorityHigh
	}
	return results.PriorityMedium
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
