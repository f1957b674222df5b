// Package analysis bundles the three analysis engines behind the single
// fan-out surface the job executor dispatches on.
package analysis

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mleone/deckwarden/internal/analysis/portfolio"
	"github.com/mleone/deckwarden/internal/analysis/setimpact"
	"github.com/mleone/deckwarden/internal/analysis/suggestions"
	"github.com/mleone/deckwarden/internal/decks"
	"github.com/mleone/deckwarden/internal/domain"
	"github.com/mleone/deckwarden/internal/lookup"
)

// Engines routes executor calls to the concrete analysis engines and fires
// user notifications for results worth surfacing.
type Engines struct {
	suggestions *suggestions.Engine
	optimizer   *portfolio.Optimizer
	setImpact   *setimpact.Analyzer
	prices      *lookup.PriceService
	meta        *lookup.MetaService
	decks       *decks.Repository
	notifier    domain.Notifier
	log         zerolog.Logger
}

// NewEngines creates the engine facade.
func NewEngines(
	suggestionEngine *suggestions.Engine,
	optimizer *portfolio.Optimizer,
	setImpact *setimpact.Analyzer,
	prices *lookup.PriceService,
	meta *lookup.MetaService,
	deckRepo *decks.Repository,
	notifier domain.Notifier,
	log zerolog.Logger,
) *Engines {
	return &Engines{
		suggestions: suggestionEngine,
		optimizer:   optimizer,
		setImpact:   setImpact,
		prices:      prices,
		meta:        meta,
		decks:       deckRepo,
		notifier:    notifier,
		log:         log.With().Str("component", "analysis").Logger(),
	}
}

// AnalyzeDeck runs the suggestion engine. An empty deckID means every deck
// the user owns.
func (e *Engines) AnalyzeDeck(ctx context.Context, userID, deckID string) (string, error) {
	targets, err := e.targetDecks(userID, deckID)
	if err != nil {
		return "", err
	}

	total := 0
	for _, id := range targets {
		out, err := e.suggestions.Analyze(ctx, userID, id)
		if err != nil {
			return "", err
		}
		total += len(out)
	}

	if total > 0 {
		e.notifier.Notify(userID, "suggestions_ready", map[string]interface{}{
			"decks":       len(targets),
			"suggestions": total,
		})
	}
	return fmt.Sprintf("%d suggestions across %d decks", total, len(targets)), nil
}

// OptimizePortfolio runs the cross-deck optimizer.
func (e *Engines) OptimizePortfolio(ctx context.Context, userID string) (string, error) {
	p, err := e.optimizer.Optimize(ctx, userID)
	if err != nil {
		return "", err
	}

	if len(p.Opportunities) > 0 {
		e.notifier.Notify(userID, "portfolio_optimized", map[string]interface{}{
			"total_value":   p.TotalValue,
			"opportunities": len(p.Opportunities),
		})
	}
	return fmt.Sprintf("portfolio value %.2f, %d opportunities", p.TotalValue, len(p.Opportunities)), nil
}

// MonitorSets runs the set-impact analyzer. No upcoming releases is a normal
// outcome.
func (e *Engines) MonitorSets(ctx context.Context, userID string) (string, error) {
	n, err := e.setImpact.Analyze(ctx, userID)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "no new relevant cards", nil
	}

	e.notifier.Notify(userID, "new_cards_found", map[string]interface{}{"suggestions": n})
	return fmt.Sprintf("%d new-card suggestions", n), nil
}

// UpdatePrices refreshes the cached prices for every card the user owns.
func (e *Engines) UpdatePrices(ctx context.Context, userID string) (string, error) {
	userDecks, err := e.decks.ListForUser(userID, 0)
	if err != nil {
		return "", fmt.Errorf("failed to load decks for %s: %w", userID, err)
	}

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
	if len(ids) == 0 {
		return "no cards to price", nil
	}

	prices, err := e.prices.GetPrices(ctx, ids)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("refreshed %d of %d card prices", len(prices), len(ids)), nil
}

// AnalyzeMeta refreshes the meta snapshot for each format the user plays and
// reruns the suggestion engine so meta-adaptation suggestions reflect it.
func (e *Engines) AnalyzeMeta(ctx context.Context, userID string) (string, error) {
	userDecks, err := e.decks.ListForUser(userID, 0)
	if err != nil {
		return "", fmt.Errorf("failed to load decks for %s: %w", userID, err)
	}

	formats := map[string]bool{}
	for i := range userDecks {
		formats[userDecks[i].Format] = true
	}
	for format := range formats {
		if _, err := e.meta.GetMetaSnapshot(ctx, format); err != nil {
			e.log.Warn().Err(err).Str("format", format).Msg("Meta refresh failed")
		}
	}

	total := 0
	for i := range userDecks {
		out, err := e.suggestions.Analyze(ctx, userID, userDecks[i].ID)
		if err != nil {
			return "", err
		}
		total += len(out)
	}
	return fmt.Sprintf("refreshed %d formats, %d suggestions", len(formats), total), nil
}

func (e *Engines) targetDecks(userID, deckID string) ([]string, error) {
	if deckID != "" {
		return []string{deckID}, nil
	}
	userDecks, err := e.decks.ListForUser(userID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load decks for %s: %w", userID, err)
	}
	ids := make([]string, 0, len(userDecks))
	for i := range userDecks {
		ids = append(ids, userDecks[i].ID)
	}
	return ids, nil
}
