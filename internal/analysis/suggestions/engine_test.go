package suggestions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mleone/deckwarden/internal/decks"
	"github.com/mleone/deckwarden/internal/domain"
	"github.com/mleone/deckwarden/internal/results"
	testhelpers "github.com/mleone/deckwarden/internal/testing"
)

type engineFixture struct {
	engine   *Engine
	decks    *decks.Repository
	prices   *testhelpers.MockPriceSource
	meta     *testhelpers.MockMetaSource
	legality *testhelpers.MockLegalitySource
	store    *results.Repository
	cleanup  func()
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	coreDB, coreCleanup := testhelpers.NewTestDB(t, "core")
	resultsDB, resultsCleanup := testhelpers.NewTestDB(t, "results")

	f := &engineFixture{
		decks:    decks.NewRepository(coreDB.Conn(), zerolog.Nop()),
		prices:   testhelpers.NewMockPriceSource(),
		meta:     testhelpers.NewMockMetaSource(),
		legality: testhelpers.NewMockLegalitySource(),
		store:    results.NewRepository(resultsDB.Conn(), zerolog.Nop()),
		cleanup: func() {
			resultsCleanup()
			coreCleanup()
		},
	}
	f.engine = NewEngine(f.decks, f.prices, f.meta, f.legality, f.store, zerolog.Nop())
	return f
}

func risingPrice(cardID string, price float64) *domain.CardPrice {
	return &domain.CardPrice{
		CardID:       cardID,
		CurrentPrice: price,
		Trend:        domain.TrendRising,
		Volatility:   0.05,
		AsOf:         time.Now().UTC(),
	}
}

func TestAnalyzeRisingPriceProducesOpportunity(t *testing.T) {
	f := newEngineFixture(t)
	defer f.cleanup()

	deck := testhelpers.NewDeckFixture("deck-1", "user-1")
	require.NoError(t, f.decks.Save(deck))
	f.prices.SetPrice("card-teferi", risingPrice("card-teferi", 60.0))

	got, err := f.engine.Analyze(context.Background(), "user-1", "deck-1")
	require.NoError(t, err)
	require.NotEmpty(t, got)

	var found *results.Suggestion
	for i := range got {
		if got[i].Type == results.SuggestionPriceOpportunity {
			found = &got[i]
			break
		}
	}
	require.NotNil(t, found, "expected a price opportunity for the rising card")
	assert.Equal(t, results.PriorityHigh, found.Priority)
	require.Len(t, found.Actions, 1)
	assert.Equal(t, results.ActionWatchPrice, found.Actions[0].Type)
	assert.Equal(t, "card-teferi", found.Actions[0].CardID)
	assert.NotEmpty(t, found.Reasoning)
}

func TestAnalyzeFallingPriceSuggestsAcquisition(t *testing.T) {
	f := newEngineFixture(t)
	defer f.cleanup()

	deck := testhelpers.NewDeckFixture("deck-1", "user-1")
	require.NoError(t, f.decks.Save(deck))
	f.prices.SetPrice("card-snapcaster", &domain.CardPrice{
		CardID: "card-snapcaster", CurrentPrice: 40.0, Trend: domain.TrendFalling,
	})

	got, err := f.engine.Analyze(context.Background(), "user-1", "deck-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, results.SuggestionPriceOpportunity, got[0].Type)
	assert.Equal(t, results.PriorityMedium, got[0].Priority)
	require.Len(t, got[0].Actions, 1)
	assert.Equal(t, results.ActionAdjustQuantity, got[0].Actions[0].Type)
	// The deck holds 3 copies; the suggestion proposes one more
	assert.Equal(t, 4, got[0].Actions[0].Quantity)
}

func TestAnalyzeCheapCardsIgnored(t *testing.T) {
	f := newEngineFixture(t)
	defer f.cleanup()

	deck := testhelpers.NewDeckFixture("deck-1", "user-1")
	require.NoError(t, f.decks.Save(deck))
	f.prices.SetPrice("card-island", risingPrice("card-island", 0.25))

	got, err := f.engine.Analyze(context.Background(), "user-1", "deck-1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAnalyzeBannedCardOutranksEverything(t *testing.T) {
	f := newEngineFixture(t)
	defer f.cleanup()

	deck := testhelpers.NewDeckFixture("deck-1", "user-1")
	require.NoError(t, f.decks.Save(deck))
	f.prices.SetPrice("card-teferi", risingPrice("card-teferi", 60.0))
	f.legality.SetLegality(&domain.FormatLegality{
		Format: "modern",
		Banned: []string{"card-counterspell"},
	})

	got, err := f.engine.Analyze(context.Background(), "user-1", "deck-1")
	require.NoError(t, err)
	require.NotEmpty(t, got)

	assert.Equal(t, results.PriorityImmediate, got[0].Priority)
	require.Len(t, got[0].Actions, 1)
	assert.Equal(t, results.ActionRemoveCard, got[0].Actions[0].Type)
	assert.Equal(t, "card-counterspell", got[0].Actions[0].CardID)
}

func TestAnalyzeMetaAdaptation(t *testing.T) {
	f := newEngineFixture(t)
	defer f.cleanup()

	deck := testhelpers.NewDeckFixture("deck-1", "user-1")
	require.NoError(t, f.decks.Save(deck))
	f.meta.SetSnapshot(&domain.MetaSnapshot{
		Format: "modern",
		Archetypes: []domain.ArchetypeShare{
			// Dominant and beating us: adapt
			{Name: "Golgari Midrange", Share: 0.30, Matchups: map[string]float64{"Azorius Control": 0.65}},
			// Dominant but we are favored: nothing to do
			{Name: "Mono Red Aggro", Share: 0.25, Matchups: map[string]float64{"Azorius Control": 0.40}},
			// Fringe: below the share threshold
			{Name: "Burn", Share: 0.05, Matchups: map[string]float64{"Azorius Control": 0.80}},
		},
	})

	got, err := f.engine.Analyze(context.Background(), "user-1", "deck-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, results.SuggestionMetaAdaptation, got[0].Type)
	assert.Contains(t, got[0].Title, "Golgari Midrange")
}

func TestAnalyzeBudgetConcentration(t *testing.T) {
	f := newEngineFixture(t)
	defer f.cleanup()

	deck := testhelpers.NewDeckFixture("deck-1", "user-1")
	require.NoError(t, f.decks.Save(deck))
	// Two Teferi at 120 dwarf the rest of the deck
	f.prices.SetPrice("card-teferi", testhelpers.NewCardPriceFixture("card-teferi", 120.0))
	f.prices.SetPrice("card-counterspell", testhelpers.NewCardPriceFixture("card-counterspell", 2.0))

	got, err := f.engine.Analyze(context.Background(), "user-1", "deck-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, results.SuggestionBudgetOptimization, got[0].Type)
	assert.Equal(t, results.PriorityLow, got[0].Priority)
}

func TestAnalyzeDegradedLookupLowersConfidence(t *testing.T) {
	f := newEngineFixture(t)
	defer f.cleanup()

	deck := testhelpers.NewDeckFixture("deck-1", "user-1")
	require.NoError(t, f.decks.Save(deck))
	f.prices.SetPrice("card-snapcaster", &domain.CardPrice{
		CardID: "card-snapcaster", CurrentPrice: 40.0, Trend: domain.TrendFalling,
	})
	f.meta.SetError(errors.New("meta feed down"))

	got, err := f.engine.Analyze(context.Background(), "user-1", "deck-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	// Base confidence 0.6 scaled by the degraded factor
	assert.InDelta(t, 0.48, got[0].Confidence, 0.001)
}

func TestAnalyzeTruncatesToTopN(t *testing.T) {
	f := newEngineFixture(t)
	defer f.cleanup()

	deck := &decks.Deck{ID: "deck-big", UserID: "user-1", Name: "Cube", Format: "modern"}
	for i := 0; i < 15; i++ {
		id := string(rune('a' + i))
		deck.Cards = append(deck.Cards, decks.Card{
			CardID: "card-" + id, Name: "Card " + id, Quantity: 1, ColorIdentity: "U",
		})
		f.prices.SetPrice("card-"+id, risingPrice("card-"+id, 60.0))
	}
	require.NoError(t, f.decks.Save(deck))

	got, err := f.engine.Analyze(context.Background(), "user-1", "deck-big")
	require.NoError(t, err)
	assert.Len(t, got, TopN)
}

func TestAnalyzeMissingDeckFails(t *testing.T) {
	f := newEngineFixture(t)
	defer f.cleanup()

	_, err := f.engine.Analyze(context.Background(), "user-1", "no-such-deck")
	assert.Error(t, err)
}

func TestAnalyzePersistsSuggestions(t *testing.T) {
	f := newEngineFixture(t)
	defer f.cleanup()

	deck := testhelpers.NewDeckFixture("deck-1", "user-1")
	require.NoError(t, f.decks.Save(deck))
	f.prices.SetPrice("card-teferi", risingPrice("card-teferi", 60.0))

	got, err := f.engine.Analyze(context.Background(), "user-1", "deck-1")
	require.NoError(t, err)
	require.NotEmpty(t, got)

	stored, err := f.store.SuggestionsForDeck("deck-1", time.Now(), 20)
	require.NoError(t, err)
	assert.Len(t, stored, len(got))
	assert.NotEmpty(t, stored[0].ID)
	assert.NotNil(t, stored[0].ExpiresAt)
}
