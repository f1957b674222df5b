package domain

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookup sources when no data exists for a key.
var ErrNotFound = errors.New("not found")

// CardSource is the read-only card database lookup.
type CardSource interface {
	GetCard(ctx context.Context, cardID string) (*CardFacts, error)
	GetCardsInSet(ctx context.Context, setCode string) ([]CardFacts, error)
}

// PriceSource is the read-only price lookup. GetPrices is batchable.
type PriceSource interface {
	GetPrice(ctx context.Context, cardID string) (*CardPrice, error)
	GetPrices(ctx context.Context, cardIDs []string) (map[string]*CardPrice, error)
	GetPriceHistory(ctx context.Context, cardID string, days int) ([]PricePoint, error)
}

// MetaSource is the read-only meta/tournament lookup.
type MetaSource interface {
	GetMetaSnapshot(ctx context.Context, format string) (*MetaSnapshot, error)
}

// LegalitySource is the read-only format-legality lookup.
type LegalitySource interface {
	GetLegality(ctx context.Context, format string) (*FormatLegality, error)
}

// SetSource is the read-only card-set release feed.
type SetSource interface {
	GetUpcomingSets(ctx context.Context) ([]SetRelease, error)
	GetSet(ctx context.Context, setCode string) (*SetRelease, error)
}

// Cache is a get/set/delete store with TTL. Absence of a working cache must
// not break correctness, only performance: callers treat it as an
// optimization, never as the source of truth.
type Cache interface {
	Get(key string, out interface{}) bool
	Set(key string, value interface{}, ttl time.Duration)
	Delete(key string)
}

// Notifier is the fire-and-forget notification sink. Delivery (email, push,
// in-app) is an external concern; errors are logged, never propagated.
type Notifier interface {
	Notify(userID, kind string, payload interface{})
}
