package testing

import (
	"time"

	"github.com/mleone/deckwarden/internal/decks"
	"github.com/mleone/deckwarden/internal/domain"
)

// NewDeckFixture returns a small but realistic deck for use in tests.
func NewDeckFixture(id, userID string) *decks.Deck {
	now := time.Now().UTC()
	return &decks.Deck{
		ID:     id,
		UserID: userID,
		Name:   "Azorius Control",
		Format: "modern",
		Cards: []decks.Card{
			{CardID: "card-counterspell", Name: "Counterspell", Quantity: 4, ColorIdentity: "U", TypeLine: "Instant", ManaValue: 2},
			{CardID: "card-snapcaster", Name: "Snapcaster Mage", Quantity: 3, ColorIdentity: "U", TypeLine: "Creature — Human Wizard", ManaValue: 2},
			{CardID: "card-teferi", Name: "Teferi, Hero of Dominaria", Quantity: 2, ColorIdentity: "WU", TypeLine: "Legendary Planeswalker — Teferi", ManaValue: 5},
			{CardID: "card-wrath", Name: "Wrath of God", Quantity: 2, ColorIdentity: "W", TypeLine: "Sorcery", ManaValue: 4},
			{CardID: "card-island", Name: "Island", Quantity: 10, ColorIdentity: "U", TypeLine: "Basic Land — Island", ManaValue: 0},
			{CardID: "card-plains", Name: "Plains", Quantity: 6, ColorIdentity: "W", TypeLine: "Basic Land — Plains", ManaValue: 0},
			{CardID: "card-hallowed", Name: "Hallowed Fountain", Quantity: 4, ColorIdentity: "WU", TypeLine: "Land — Plains Island", ManaValue: 0},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewAggroDeckFixture returns a second deck with a different color identity,
// for overlap and portfolio tests.
func NewAggroDeckFixture(id, userID string) *decks.Deck {
	now := time.Now().UTC()
	return &decks.Deck{
		ID:     id,
		UserID: userID,
		Name:   "Mono Red Aggro",
		Format: "modern",
		Cards: []decks.Card{
			{CardID: "card-bolt", Name: "Lightning Bolt", Quantity: 4, ColorIdentity: "R", TypeLine: "Instant", ManaValue: 1},
			{CardID: "card-swiftspear", Name: "Monastery Swiftspear", Quantity: 4, ColorIdentity: "R", TypeLine: "Creature — Human Monk", ManaValue: 1},
			{CardID: "card-eidolon", Name: "Eidolon of the Great Revel", Quantity: 3, ColorIdentity: "R", TypeLine: "Enchantment Creature — Spirit", ManaValue: 2},
			{CardID: "card-mountain", Name: "Mountain", Quantity: 18, ColorIdentity: "R", TypeLine: "Basic Land — Mountain", ManaValue: 0},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewCardPriceFixture returns a price with a stable trend.
func NewCardPriceFixture(cardID string, price float64) *domain.CardPrice {
	return &domain.CardPrice{
		CardID:       cardID,
		CurrentPrice: price,
		Trend:        domain.TrendStable,
		Volatility:   0.5,
		AsOf:         time.Now().UTC(),
	}
}

// NewPriceHistoryFixture generates a linear price series ending at endPrice.
// step may be negative for a falling series.
func NewPriceHistoryFixture(days int, endPrice, step float64) []domain.PricePoint {
	points := make([]domain.PricePoint, days)
	now := time.Now().UTC()
	for i := 0; i < days; i++ {
		offset := float64(days-1-i) * step
		points[i] = domain.PricePoint{
			Date:  now.AddDate(0, 0, -(days - 1 - i)),
			Price: endPrice - offset,
		}
	}
	return points
}

// NewMetaSnapshotFixture returns a meta snapshot with three archetypes.
func NewMetaSnapshotFixture(format string) *domain.MetaSnapshot {
	return &domain.MetaSnapshot{
		Format: format,
		Archetypes: []domain.ArchetypeShare{
			{Name: "Mono Red Aggro", Share: 0.22, Matchups: map[string]float64{"Azorius Control": 0.45}},
			{Name: "Azorius Control", Share: 0.18, Matchups: map[string]float64{"Mono Red Aggro": 0.55}},
			{Name: "Golgari Midrange", Share: 0.12},
		},
		TakenAt: time.Now().UTC(),
	}
}

// NewChangeEventFixture returns a card-added event above the default
// significance thresholds.
func NewChangeEventFixture(userID, deckID string) domain.ChangeEvent {
	return domain.ChangeEvent{
		Type:        domain.EventCardAdded,
		UserID:      userID,
		DeckID:      deckID,
		CardID:      "card-teferi",
		CardName:    "Teferi, Hero of Dominaria",
		CardValue:   30.0,
		OldQuantity: 0,
		NewQuantity: 2,
		ObservedAt:  time.Now().UTC(),
	}
}
