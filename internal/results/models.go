// Package results owns the analysis outputs: proactive suggestions and
// portfolio optimization results. Both are written by the analysis engines
// and read by the API layer; suggestions are immutable once created.
package results

import "time"

// SuggestionType classifies a proactive suggestion.
type SuggestionType string

const (
	SuggestionMetaAdaptation     SuggestionType = "meta_adaptation"
	SuggestionPriceOpportunity   SuggestionType = "price_opportunity"
	SuggestionNewCard            SuggestionType = "new_card"
	SuggestionSynergyImprovement SuggestionType = "synergy_improvement"
	SuggestionBudgetOptimization SuggestionType = "budget_optimization"
)

// Priority is the suggestion priority tier.
type Priority string

const (
	PriorityImmediate Priority = "immediate"
	PriorityHigh      Priority = "high"
	PriorityMedium    Priority = "medium"
	PriorityLow       Priority = "low"
)

// Rank returns the sort weight of a priority; lower sorts first.
func (p Priority) Rank() int {
	switch p {
	case PriorityImmediate:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	}
	return 4
}

// ActionType is the kind of concrete edit a suggestion proposes.
type ActionType string

const (
	ActionAddCard        ActionType = "add_card"
	ActionRemoveCard     ActionType = "remove_card"
	ActionReplaceCard    ActionType = "replace_card"
	ActionAdjustQuantity ActionType = "adjust_quantity"
	ActionWatchPrice     ActionType = "watch_price"
)

// SuggestionAction is one typed edit.
type SuggestionAction struct {
	Type          ActionType `json:"type" msgpack:"type"`
	CardID        string     `json:"card_id,omitempty" msgpack:"card_id,omitempty"`
	CardName      string     `json:"card_name,omitempty" msgpack:"card_name,omitempty"`
	ReplaceWithID string     `json:"replace_with_id,omitempty" msgpack:"replace_with_id,omitempty"`
	Quantity      int        `json:"quantity,omitempty" msgpack:"quantity,omitempty"`
	Reason        string     `json:"reason,omitempty" msgpack:"reason,omitempty"`
}

// Suggestion is one actionable, explained recommendation. Immutable once
// created; user feedback lives in a separate linked record.
type Suggestion struct {
	ID         string             `json:"id" msgpack:"id"`
	UserID     string             `json:"user_id" msgpack:"user_id"`
	DeckID     string             `json:"deck_id,omitempty" msgpack:"deck_id,omitempty"`
	Type       SuggestionType     `json:"type" msgpack:"type"`
	Priority   Priority           `json:"priority" msgpack:"priority"`
	Confidence float64            `json:"confidence" msgpack:"confidence"`
	Impact     float64            `json:"impact" msgpack:"impact"`
	Title      string             `json:"title" msgpack:"title"`
	Reasoning  string             `json:"reasoning" msgpack:"reasoning"`
	Actions    []SuggestionAction `json:"actions" msgpack:"actions"`
	CreatedAt  time.Time          `json:"created_at" msgpack:"created_at"`
	ExpiresAt  *time.Time         `json:"expires_at,omitempty" msgpack:"expires_at,omitempty"`
}

// FeedbackAction is what the user did with a suggestion.
type FeedbackAction string

const (
	FeedbackAccepted  FeedbackAction = "accepted"
	FeedbackDismissed FeedbackAction = "dismissed"
	FeedbackSnoozed   FeedbackAction = "snoozed"
)

// Feedback is the linked user-response record for a suggestion.
type Feedback struct {
	ID           string         `json:"id"`
	SuggestionID string         `json:"suggestion_id"`
	UserID       string         `json:"user_id"`
	Action       FeedbackAction `json:"action"`
	Note         string         `json:"note,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// SharedCard is one cross-deck card reference in a portfolio.
type SharedCard struct {
	CardID   string   `json:"card_id" msgpack:"card_id"`
	CardName string   `json:"card_name" msgpack:"card_name"`
	DeckIDs  []string `json:"deck_ids" msgpack:"deck_ids"`
	Value    float64  `json:"value" msgpack:"value"` // per-copy market value
}

// DeckAllocation is the budget assigned to one deck.
type DeckAllocation struct {
	DeckID string  `json:"deck_id" msgpack:"deck_id"`
	Value  float64 `json:"value" msgpack:"value"` // current deck market value
	Budget float64 `json:"budget" msgpack:"budget"`
}

// OpportunityAction is one concrete optimization step.
type OpportunityAction struct {
	Type     ActionType `json:"type" msgpack:"type"`
	CardID   string     `json:"card_id,omitempty" msgpack:"card_id,omitempty"`
	CardName string     `json:"card_name,omitempty" msgpack:"card_name,omitempty"`
	DeckID   string     `json:"deck_id,omitempty" msgpack:"deck_id,omitempty"`
	Detail   string     `json:"detail,omitempty" msgpack:"detail,omitempty"`
}

// Opportunity is one ranked portfolio-level optimization.
type Opportunity struct {
	Type             string              `json:"type" msgpack:"type"`
	Priority         int                 `json:"priority" msgpack:"priority"`
	Impact           float64             `json:"impact" msgpack:"impact"`
	EstimatedSavings float64             `json:"estimated_savings" msgpack:"estimated_savings"`
	Description      string              `json:"description" msgpack:"description"`
	Actions          []OpportunityAction `json:"actions" msgpack:"actions"`
}

// Portfolio is the portfolio optimization result for a user: all decks
// jointly analyzed for shared resources, budget split, and opportunities.
type Portfolio struct {
	UserID      string           `json:"user_id" msgpack:"user_id"`
	TotalValue  float64          `json:"total_value" msgpack:"total_value"`
	TotalBudget float64          `json:"total_budget" msgpack:"total_budget"`
	// Budget split: per-deck allocations, a shared-cards reserve, and an
	// emergency fund.
	Allocations   []DeckAllocation `json:"allocations" msgpack:"allocations"`
	SharedReserve float64          `json:"shared_reserve" msgpack:"shared_reserve"`
	EmergencyFund float64          `json:"emergency_fund" msgpack:"emergency_fund"`
	SharedCards   []SharedCard     `json:"shared_cards" msgpack:"shared_cards"`
	Opportunities []Opportunity    `json:"opportunities" msgpack:"opportunities"`
	ComputedAt    time.Time        `json:"computed_at" msgpack:"computed_at"`
}
