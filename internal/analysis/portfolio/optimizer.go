// Package portfolio implements the cross-deck optimizer: all of a user's
// decks analyzed jointly for shared cards, budget allocation, and ranked
// optimization opportunities.
package portfolio

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/mleone/deckwarden/internal/decks"
	"github.com/mleone/deckwarden/internal/domain"
	"github.com/mleone/deckwarden/internal/results"
)

const (
	// MaxDecks caps how many decks one optimization run loads. Keeps the
	// pairwise overlap pass bounded.
	MaxDecks = 50

	// Budget split: per-deck allocations, shared-cards reserve, emergency fund.
	deckBudgetShare     = 0.70
	sharedReserveShare  = 0.20
	emergencyFundShare  = 0.10

	// Overlap above this fraction of the smaller deck flags a consolidation
	// opportunity.
	overlapThreshold = 0.30

	sharedCardMinValue = 5.0
)

// BudgetSource provides the user's total maintenance budget. Zero or
// negative means "use current portfolio value".
type BudgetSource interface {
	GetFloat(key string, fallback float64) float64
}

// Optimizer computes the portfolio-wide optimization result for a user.
type Optimizer struct {
	decks  *decks.Repository
	prices domain.PriceSource
	budget BudgetSource
	store  *results.Repository
	log    zerolog.Logger
}

// NewOptimizer creates a new portfolio optimizer.
func NewOptimizer(deckRepo *decks.Repository, prices domain.PriceSource, budget BudgetSource, store *results.Repository, log zerolog.Logger) *Optimizer {
	return &Optimizer{
		decks:  deckRepo,
		prices: prices,
		budget: budget,
		store:  store,
		log:    log.With().Str("engine", "portfolio").Logger(),
	}
}

// Optimize loads the user's decks (capped at MaxDecks), prices them, computes
// the shared-card cross-references and budget split, ranks opportunities,
// and persists the result.
func (o *Optimizer) Optimize(ctx context.Context, userID string) (*results.Portfolio, error) {
	userDecks, err := o.decks.ListForUser(userID, MaxDecks)
	if err != nil {
		return nil, fmt.Errorf("failed to load decks for %s: %w", userID, err)
	}
	if len(userDecks) == 0 {
		return nil, fmt.Errorf("user %s has no decks to optimize", userID)
	}

	prices, err := o.priceAll(ctx, userDecks)
	if err != nil {
		return nil, err
	}

	values := make(map[string]float64, len(userDecks))
	total := 0.0
	for i := range userDecks {
		v := deckValue(&userDecks[i], prices)
		values[userDecks[i].ID] = v
		total += v
	}

	budget := o.budget.GetFloat("portfolio_budget_"+userID, total)
	if budget <= 0 {
		budget = total
	}

	p := &results.Portfolio{
		UserID:        userID,
		TotalValue:    total,
		TotalBudget:   budget,
		Allocations:   allocate(userDecks, values, total, budget),
		SharedReserve: budget * sharedReserveShare,
		EmergencyFund: budget * emergencyFundShare,
		SharedCards:   sharedCards(userDecks, prices),
	}
	p.Opportunities = o.findOpportunities(userDecks, values, prices, p.SharedCards)

	if err := o.store.SavePortfolio(p); err != nil {
		return nil, fmt.Errorf("failed to persist portfolio for %s: %w", userID, err)
	}

	o.log.Info().
		Str("user_id", userID).
		Int("decks", len(userDecks)).
		Float64("total_value", total).
		Int("opportunities", len(p.Opportunities)).
		Msg("Portfolio optimization completed")
	return p, nil
}

// priceAll fetches prices for the union of all deck cards in one batch call.
func (o *Optimizer) priceAll(ctx context.Context, userDecks []decks.Deck) (map[string]*domain.CardPrice, error) {
	seen := map[string]bool{}
	var ids []string
	for i := range userDecks {
		for _, c := range userDecks[i].Cards {
			if !seen[c.CardID] {
				seen[c.CardID] = true
				ids = append(ids, c.CardID)
			}
		}
	}

	prices, err := o.prices.GetPrices(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to price portfolio cards: %w", err)
	}
	return prices, nil
}

// allocate splits the deck share of the budget (70%) across decks in
// proportion to their current market value. A zero-value portfolio splits
// evenly.
func allocate(userDecks []decks.Deck, values map[string]float64, total, budget float64) []results.DeckAllocation {
	deckBudget := budget * deckBudgetShare
	out := make([]results.DeckAllocation, 0, len(userDecks))
	for i := range userDecks {
		id := userDecks[i].ID
		share := 1.0 / float64(len(userDecks))
		if total > 0 {
			share = values[id] / total
		}
		out = append(out, results.DeckAllocation{
			DeckID: id,
			Value:  values[id],
			Budget: deckBudget * share,
		})
	}
	return out
}

// sharedCards finds cards present in two or more decks, worth tracking for
// the shared reserve.
func sharedCards(userDecks []decks.Deck, prices map[string]*domain.CardPrice) []results.SharedCard {
	type ref struct {
		name    string
		deckIDs []string
	}
	byCard := map[string]*ref{}
	for i := range userDecks {
		for _, c := range userDecks[i].Cards {
			r, ok := byCard[c.CardID]
			if !ok {
				r = &ref{name: c.Name}
				byCard[c.CardID] = r
			}
			r.deckIDs = append(r.deckIDs, userDecks[i].ID)
		}
	}

	var out []results.SharedCard
	for cardID, r := range byCard {
		if len(r.deckIDs) < 2 {
			continue
		}
		value := 0.0
		if p, ok := prices[cardID]; ok {
			value = p.CurrentPrice
		}
		if value < sharedCardMinValue {
			continue
		}
		sort.Strings(r.deckIDs)
		out = append(out, results.SharedCard{
			CardID:   cardID,
			CardName: r.name,
			DeckIDs:  r.deckIDs,
			Value:    value,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if len(out[i].DeckIDs) != len(out[j].DeckIDs) {
			return len(out[i].DeckIDs) > len(out[j].DeckIDs)
		}
		return out[i].Value > out[j].Value
	})
	return out
}

// findOpportunities ranks portfolio-level optimizations: duplicate staples
// that could be consolidated, deck pairs with heavy overlap, and value
// outliers flagged from the deck-value distribution.
func (o *Optimizer) findOpportunities(userDecks []decks.Deck, values map[string]float64, prices map[string]*domain.CardPrice, shared []results.SharedCard) []results.Opportunity {
	var out []results.Opportunity

	// Duplicate staples: owning one shared copy saves (N-1) purchases.
	for _, sc := range shared {
		savings := sc.Value * float64(len(sc.DeckIDs)-1)
		out = append(out, results.Opportunity{
			Type:             "consolidate_duplicates",
			Priority:         priorityForSavings(savings),
			Impact:           savings,
			EstimatedSavings: savings,
			Description: fmt.Sprintf("%s appears in %d decks; one shared copy covers all of them.",
				sc.CardName, len(sc.DeckIDs)),
			Actions: []results.OpportunityAction{
				{Type: results.ActionAdjustQuantity, CardID: sc.CardID, CardName: sc.CardName,
					Detail: "keep one shared copy, sell the rest"},
			},
		})
	}

	// Pairwise deck overlap. Quadratic in deck count, bounded by MaxDecks.
	for i := 0; i < len(userDecks); i++ {
		for j := i + 1; j < len(userDecks); j++ {
			a, b := &userDecks[i], &userDecks[j]
			ov := overlap(a, b)
			smaller := len(a.Cards)
			if len(b.Cards) < smaller {
				smaller = len(b.Cards)
			}
			if smaller == 0 || float64(ov)/float64(smaller) < overlapThreshold {
				continue
			}
			lowID := a.ID
			lowName := a.Name
			savings := values[a.ID]
			if values[b.ID] < savings {
				lowID, lowName, savings = b.ID, b.Name, values[b.ID]
			}
			out = append(out, results.Opportunity{
				Type:             "retire_overlap_deck",
				Priority:         priorityForSavings(savings),
				Impact:           savings,
				EstimatedSavings: savings,
				Description: fmt.Sprintf("%s and %s share %d cards; %s could be folded into the other.",
					a.Name, b.Name, ov, lowName),
				Actions: []results.OpportunityAction{
					{Type: results.ActionRemoveCard, DeckID: lowID, Detail: "retire deck and fold unique cards into the overlap partner"},
				},
			})
		}
	}

	// Value outliers: a deck more than two standard deviations above the
	// mean is a rebalance candidate.
	if len(userDecks) >= 3 {
		vals := make([]float64, 0, len(userDecks))
		for i := range userDecks {
			vals = append(vals, values[userDecks[i].ID])
		}
		mean, std := stat.MeanStdDev(vals, nil)
		for i := range userDecks {
			v := values[userDecks[i].ID]
			if std > 0 && v > mean+2*std {
				out = append(out, results.Opportunity{
					Type:     "rebalance_value",
					Priority: 3,
					Impact:   v - mean,
					Description: fmt.Sprintf("%s holds %.0f in value against a portfolio mean of %.0f; consider spreading the budget.",
						userDecks[i].Name, v, mean),
					Actions: []results.OpportunityAction{
						{Type: results.ActionWatchPrice, DeckID: userDecks[i].ID, Detail: "rebalance toward under-funded decks"},
					},
				})
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].EstimatedSavings > out[j].EstimatedSavings
	})
	return out
}

func deckValue(d *decks.Deck, prices map[string]*domain.CardPrice) float64 {
	total := 0.0
	for _, c := range d.Cards {
		if p, ok := prices[c.CardID]; ok {
			total += p.CurrentPrice * float64(c.Quantity)
		}
	}
	return total
}

// overlap counts distinct cards present in both decks.
func overlap(a, b *decks.Deck) int {
	inA := map[string]bool{}
	for _, c := range a.Cards {
		inA[c.CardID] = true
	}
	n := 0
	for _, c := range b.Cards {
		if inA[c.CardID] {
			n++
		}
	}
	return n
}

func priorityForSavings(savings float64) int {
	switch {
	case savings >= 100:
		return 1
	case savings >= 25:
		return 2
	default:
		return 3
	}
}
