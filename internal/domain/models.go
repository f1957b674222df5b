// Package domain contains the core data types shared across Deckwarden.
// The domain layer is pure: no database, HTTP, or scheduling dependencies.
package domain

import "time"

// CardFacts describes a card as returned by the card data lookup.
type CardFacts struct {
	CardID        string   `json:"card_id"`
	Name          string   `json:"name"`
	ColorIdentity []string `json:"color_identity"`
	TypeLine      string   `json:"type_line"`
	ManaValue     float64  `json:"mana_value"`
	Rarity        string   `json:"rarity"`
	SetCode       string   `json:"set_code"`
}

// PriceTrend classifies recent price movement of a card.
type PriceTrend string

const (
	TrendRising  PriceTrend = "rising"
	TrendFalling PriceTrend = "falling"
	TrendStable  PriceTrend = "stable"
)

// CardPrice is the price lookup result for a single card.
type CardPrice struct {
	CardID       string     `json:"card_id"`
	CurrentPrice float64    `json:"current_price"`
	Trend        PriceTrend `json:"trend"`
	Volatility   float64    `json:"volatility"` // Stddev of recent daily prices
	AsOf         time.Time  `json:"as_of"`
}

// PricePoint is one sample in a card's price history.
type PricePoint struct {
	Date  time.Time `json:"date"`
	Price float64   `json:"price"`
}

// ArchetypeShare describes one archetype's standing in a format meta.
type ArchetypeShare struct {
	Name     string             `json:"name"`
	Share    float64            `json:"share"` // 0..1 of the field
	Matchups map[string]float64 `json:"matchups,omitempty"`
}

// MetaSnapshot is the meta/tournament lookup result for a format.
type MetaSnapshot struct {
	Format     string           `json:"format"`
	Archetypes []ArchetypeShare `json:"archetypes"`
	TakenAt    time.Time        `json:"taken_at"`
}

// SetRelease describes an external card-set release.
type SetRelease struct {
	SetCode    string      `json:"set_code"`
	Name       string      `json:"name"`
	ReleasedAt time.Time   `json:"released_at"`
	Cards      []CardFacts `json:"cards"`
}

// FormatLegality is the legality lookup result for a format: the cards
// currently banned or restricted there.
type FormatLegality struct {
	Format     string    `json:"format"`
	Banned     []string  `json:"banned"` // card IDs
	Restricted []string  `json:"restricted,omitempty"`
	AsOf       time.Time `json:"as_of"`
}

// Allowed reports whether a card may be played in the format.
func (l *FormatLegality) Allowed(cardID string) bool {
	for _, id := range l.Banned {
		if id == cardID {
			return false
		}
	}
	return true
}

// ChangeEventType identifies the kind of observed portfolio change.
type ChangeEventType string

const (
	EventCardAdded       ChangeEventType = "card_added"
	EventCardRemoved     ChangeEventType = "card_removed"
	EventQuantityChanged ChangeEventType = "quantity_changed"
	EventDeckCreated     ChangeEventType = "deck_created"
	EventDeckDeleted     ChangeEventType = "deck_deleted"
	EventPriceChange     ChangeEventType = "price_change"
	EventMetaShift       ChangeEventType = "meta_shift"
)

// ChangeEvent is a raw observed change submitted to the trigger evaluator.
type ChangeEvent struct {
	Type        ChangeEventType `json:"type"`
	UserID      string          `json:"user_id"`
	DeckID      string          `json:"deck_id,omitempty"`
	CardID      string          `json:"card_id,omitempty"`
	CardName    string          `json:"card_name,omitempty"`
	CardValue   float64         `json:"card_value,omitempty"`
	OldQuantity int             `json:"old_quantity,omitempty"`
	NewQuantity int             `json:"new_quantity,omitempty"`
	ObservedAt  time.Time       `json:"observed_at"`
}

// QuantityChangePct returns the relative quantity change of the event in
// percent. Returns 100 for additions/removals from or to zero.
func (e ChangeEvent) QuantityChangePct() float64 {
	if e.OldQuantity == 0 {
		return 100
	}
	diff := e.NewQuantity - e.OldQuantity
	if diff < 0 {
		diff = -diff
	}
	return float64(diff) / float64(e.OldQuantity) * 100
}

// AnalysisFrequency governs when triggered analyses are scheduled.
type AnalysisFrequency string

const (
	FrequencyImmediate AnalysisFrequency = "immediate"
	FrequencyBatched   AnalysisFrequency = "batched"
	FrequencyScheduled AnalysisFrequency = "scheduled"
)

// AnalysisConfiguration is the per-user gate configuration for triggers.
type AnalysisConfiguration struct {
	UserID             string            `json:"user_id"`
	EnableAutoAnalysis bool              `json:"enable_auto_analysis"`
	AnalysisFrequency  AnalysisFrequency `json:"analysis_frequency"`
	MinCardValue       float64           `json:"min_card_value"`
	MinChangePct       float64           `json:"min_change_pct"`
	MaxAnalysesPerDay  int               `json:"max_analyses_per_day"`
	EnabledTypes       map[string]bool   `json:"enabled_types"` // Empty map means all enabled
}

// DefaultAnalysisConfiguration is the documented default applied when no
// stored configuration exists for a user: auto-analysis on, batched
// frequency, generous thresholds.
func DefaultAnalysisConfiguration(userID string) AnalysisConfiguration {
	return AnalysisConfiguration{
		UserID:             userID,
		EnableAutoAnalysis: true,
		AnalysisFrequency:  FrequencyBatched,
		MinCardValue:       5.0,
		MinChangePct:       10.0,
		MaxAnalysesPerDay:  20,
		EnabledTypes:       map[string]bool{},
	}
}

// TypeEnabled reports whether an analysis type is enabled for the user.
func (c AnalysisConfiguration) TypeEnabled(analysisType string) bool {
	if len(c.EnabledTypes) == 0 {
		return true
	}
	enabled, ok := c.EnabledTypes[analysisType]
	return !ok || enabled
}
