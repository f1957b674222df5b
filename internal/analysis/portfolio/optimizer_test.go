package portfolio

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mleone/deckwarden/internal/decks"
	"github.com/mleone/deckwarden/internal/results"
	"github.com/mleone/deckwarden/internal/settings"
	testhelpers "github.com/mleone/deckwarden/internal/testing"
)

type optimizerFixture struct {
	optimizer *Optimizer
	decks     *decks.Repository
	prices    *testhelpers.MockPriceSource
	settings  *settings.Repository
	store     *results.Repository
	cleanup   func()
}

func newOptimizerFixture(t *testing.T) *optimizerFixture {
	t.Helper()
	coreDB, coreCleanup := testhelpers.NewTestDB(t, "core")
	resultsDB, resultsCleanup := testhelpers.NewTestDB(t, "results")

	f := &optimizerFixture{
		decks:    decks.NewRepository(coreDB.Conn(), zerolog.Nop()),
		prices:   testhelpers.NewMockPriceSource(),
		settings: settings.NewRepository(coreDB.Conn(), zerolog.Nop()),
		store:    results.NewRepository(resultsDB.Conn(), zerolog.Nop()),
		cleanup: func() {
			resultsCleanup()
			coreCleanup()
		},
	}
	f.optimizer = NewOptimizer(f.decks, f.prices, f.settings, f.store, zerolog.Nop())
	return f
}

// saveSingleCardDeck creates a deck holding one unique card worth the given
// total value.
func (f *optimizerFixture) saveSingleCardDeck(t *testing.T, id, userID string, value float64) {
	t.Helper()
	cardID := "card-" + id
	require.NoError(t, f.decks.Save(&decks.Deck{
		ID:     id,
		UserID: userID,
		Name:   "Deck " + id,
		Format: "modern",
		Cards: []decks.Card{
			{CardID: cardID, Name: "Card " + id, Quantity: 1, ColorIdentity: "U"},
		},
	}))
	f.prices.SetPrice(cardID, testhelpers.NewCardPriceFixture(cardID, value))
}

func TestOptimizeBudgetSplitSums(t *testing.T) {
	f := newOptimizerFixture(t)
	defer f.cleanup()

	f.saveSingleCardDeck(t, "deck-1", "user-1", 100)
	f.saveSingleCardDeck(t, "deck-2", "user-1", 200)
	f.saveSingleCardDeck(t, "deck-3", "user-1", 300)
	require.NoError(t, f.settings.Set("portfolio_budget_user-1", "600"))

	p, err := f.optimizer.Optimize(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Equal(t, 600.0, p.TotalValue)
	assert.Equal(t, 600.0, p.TotalBudget)

	// Deck allocations take 70% of the budget, split by value share
	require.Len(t, p.Allocations, 3)
	sum := 0.0
	byDeck := map[string]float64{}
	for _, a := range p.Allocations {
		sum += a.Budget
		byDeck[a.DeckID] = a.Budget
	}
	assert.InDelta(t, 420.0, sum, 0.001)
	assert.InDelta(t, 70.0, byDeck["deck-1"], 0.001)
	assert.InDelta(t, 140.0, byDeck["deck-2"], 0.001)
	assert.InDelta(t, 210.0, byDeck["deck-3"], 0.001)

	// The two reserves make up the remaining 30%
	assert.InDelta(t, 120.0, p.SharedReserve, 0.001)
	assert.InDelta(t, 60.0, p.EmergencyFund, 0.001)
	assert.InDelta(t, 180.0, p.SharedReserve+p.EmergencyFund, 0.001)
}

func TestOptimizeBudgetDefaultsToPortfolioValue(t *testing.T) {
	f := newOptimizerFixture(t)
	defer f.cleanup()

	f.saveSingleCardDeck(t, "deck-1", "user-1", 100)
	f.saveSingleCardDeck(t, "deck-2", "user-1", 300)

	p, err := f.optimizer.Optimize(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 400.0, p.TotalValue)
	assert.Equal(t, 400.0, p.TotalBudget)
}

func TestOptimizeSharedCardsAndConsolidation(t *testing.T) {
	f := newOptimizerFixture(t)
	defer f.cleanup()

	// Both fixture decks plus the same expensive staple in each
	d1 := testhelpers.NewDeckFixture("deck-1", "user-1")
	d2 := testhelpers.NewAggroDeckFixture("deck-2", "user-1")
	staple := decks.Card{CardID: "card-staple", Name: "Chrome Mox", Quantity: 1, ColorIdentity: ""}
	d1.Cards = append(d1.Cards, staple)
	d2.Cards = append(d2.Cards, staple)
	require.NoError(t, f.decks.Save(d1))
	require.NoError(t, f.decks.Save(d2))
	f.prices.SetPrice("card-staple", testhelpers.NewCardPriceFixture("card-staple", 80.0))

	p, err := f.optimizer.Optimize(context.Background(), "user-1")
	require.NoError(t, err)

	require.Len(t, p.SharedCards, 1)
	assert.Equal(t, "card-staple", p.SharedCards[0].CardID)
	assert.ElementsMatch(t, []string{"deck-1", "deck-2"}, p.SharedCards[0].DeckIDs)

	require.NotEmpty(t, p.Opportunities)
	assert.Equal(t, "consolidate_duplicates", p.Opportunities[0].Type)
	assert.InDelta(t, 80.0, p.Opportunities[0].EstimatedSavings, 0.001)
}

func TestOptimizeFlagsOverlapDecks(t *testing.T) {
	f := newOptimizerFixture(t)
	defer f.cleanup()

	// Two burn variants sharing most of their cards
	d1 := testhelpers.NewAggroDeckFixture("deck-1", "user-1")
	d2 := testhelpers.NewAggroDeckFixture("deck-2", "user-1")
	d2.Name = "Burn"
	d2.Cards = append(d2.Cards, decks.Card{CardID: "card-guide", Name: "Goblin Guide", Quantity: 4, ColorIdentity: "R"})
	require.NoError(t, f.decks.Save(d1))
	require.NoError(t, f.decks.Save(d2))
	f.prices.SetPrice("card-bolt", testhelpers.NewCardPriceFixture("card-bolt", 2.0))

	p, err := f.optimizer.Optimize(context.Background(), "user-1")
	require.NoError(t, err)

	var found bool
	for _, op := range p.Opportunities {
		if op.Type == "retire_overlap_deck" {
			found = true
		}
	}
	assert.True(t, found, "expected an overlap opportunity for near-identical decks")
}

func TestOptimizeFlagsValueOutlier(t *testing.T) {
	f := newOptimizerFixture(t)
	defer f.cleanup()

	for i := 1; i <= 5; i++ {
		f.saveSingleCardDeck(t, fmt.Sprintf("deck-%d", i), "user-1", 10)
	}
	f.saveSingleCardDeck(t, "deck-whale", "user-1", 1000)

	p, err := f.optimizer.Optimize(context.Background(), "user-1")
	require.NoError(t, err)

	var found bool
	for _, op := range p.Opportunities {
		if op.Type == "rebalance_value" {
			found = true
		}
	}
	assert.True(t, found, "expected the expensive deck to be flagged")
}

func TestOptimizePersistsResult(t *testing.T) {
	f := newOptimizerFixture(t)
	defer f.cleanup()

	f.saveSingleCardDeck(t, "deck-1", "user-1", 100)

	_, err := f.optimizer.Optimize(context.Background(), "user-1")
	require.NoError(t, err)

	stored, err := f.store.GetPortfolio("user-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 100.0, stored.TotalValue)
	require.Len(t, stored.Allocations, 1)
}

func TestOptimizeNoDecksFails(t *testing.T) {
	f := newOptimizerFixture(t)
	defer f.cleanup()

	_, err := f.optimizer.Optimize(context.Background(), "user-1")
	assert.Error(t, err)
}

func TestOptimizePriceSourceFailureFails(t *testing.T) {
	f := newOptimizerFixture(t)
	defer f.cleanup()

	f.saveSingleCardDeck(t, "deck-1", "user-1", 100)
	f.prices.SetError(errors.New("down"))

	_, err := f.optimizer.Optimize(context.Background(), "user-1")
	assert.Error(t, err)
}
