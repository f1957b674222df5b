package lookup

import (
	"context"
	"encoding/json"
	"fmt"

	talib "github.com/markcheno/go-talib"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/mleone/deckwarden/internal/clientdata"
	"github.com/mleone/deckwarden/internal/domain"
)

const (
	trendPeriod   = 7  // days of SMA for trend classification
	historyWindow = 30 // days of history fetched for enrichment

	// Relative distance from the moving average before a price counts as
	// moving rather than noise.
	trendBand = 0.03
)

// PriceService is the cached, enriching price lookup: raw source prices are
// annotated with a trend classification and a volatility estimate derived
// from recent history.
type PriceService struct {
	source domain.PriceSource
	mem    domain.Cache
	store  *clientdata.Repository
	log    zerolog.Logger
}

// NewPriceService creates a new cached price lookup.
func NewPriceService(source domain.PriceSource, mem domain.Cache, store *clientdata.Repository, log zerolog.Logger) *PriceService {
	return &PriceService{
		source: source,
		mem:    mem,
		store:  store,
		log:    log.With().Str("lookup", "prices").Logger(),
	}
}

// GetPrice returns the enriched price for one card, cache-first.
func (s *PriceService) GetPrice(ctx context.Context, cardID string) (*domain.CardPrice, error) {
	key := "price:" + cardID

	var cached domain.CardPrice
	if s.mem.Get(key, &cached) {
		return &cached, nil
	}

	if raw, err := s.store.GetIfFresh("card_prices", cardID); err == nil && raw != nil {
		if json.Unmarshal(raw, &cached) == nil {
			s.mem.Set(key, cached, clientdata.TTLCardPrice)
			return &cached, nil
		}
	}

	price, err := s.source.GetPrice(ctx, cardID)
	if err != nil {
		if raw, serr := s.store.Get("card_prices", cardID); serr == nil && raw != nil {
			if json.Unmarshal(raw, &cached) == nil {
				s.log.Warn().Err(err).Str("card_id", cardID).Msg("Price source failed, serving stale cache")
				return &cached, nil
			}
		}
		return nil, fmt.Errorf("price lookup failed for %s: %w", cardID, err)
	}

	s.enrich(ctx, price)
	s.cache(key, cardID, price)
	return price, nil
}

// GetPrices returns prices for a batch of cards. Cache hits are served
// directly; misses go to the source in one batched call, unenriched (batch
// callers want totals, not per-card trend analysis). Missing cards are
// omitted, never an error.
func (s *PriceService) GetPrices(ctx context.Context, cardIDs []string) (map[string]*domain.CardPrice, error) {
	out := make(map[string]*domain.CardPrice, len(cardIDs))
	var misses []string

	for _, id := range cardIDs {
		var cached domain.CardPrice
		if s.mem.Get("price:"+id, &cached) {
			cp := cached
			out[id] = &cp
			continue
		}
		if raw, err := s.store.GetIfFresh("card_prices", id); err == nil && raw != nil {
			if json.Unmarshal(raw, &cached) == nil {
				cp := cached
				out[id] = &cp
				continue
			}
		}
		misses = append(misses, id)
	}

	if len(misses) == 0 {
		return out, nil
	}

	fetched, err := s.source.GetPrices(ctx, misses)
	if err != nil {
		// Partial result: serve the hits we have, flag the degradation
		s.log.Warn().Err(err).Int("misses", len(misses)).Msg("Batch price lookup failed, serving cache hits only")
		return out, nil
	}

	for id, price := range fetched {
		s.cache("price:"+id, id, price)
		out[id] = price
	}
	return out, nil
}

// GetPriceHistory passes through to the source; history is only used for
// enrichment and reporting, not cached.
func (s *PriceService) GetPriceHistory(ctx context.Context, cardID string, days int) ([]domain.PricePoint, error) {
	return s.source.GetPriceHistory(ctx, cardID, days)
}

// enrich annotates a price with trend and volatility from recent history.
// Missing history is a partial-data condition, not a failure: the price is
// served with a stable trend and zero volatility.
func (s *PriceService) enrich(ctx context.Context, price *domain.CardPrice) {
	history, err := s.source.GetPriceHistory(ctx, price.CardID, historyWindow)
	if err != nil || len(history) < trendPeriod {
		price.Trend = domain.TrendStable
		return
	}

	closes := make([]float64, len(history))
	for i, p := range history {
		closes[i] = p.Price
	}

	price.Trend = classifyTrend(closes, price.CurrentPrice)
	price.Volatility = dailyReturnStdDev(closes)
}

// classifyTrend compares the current price against its simple moving average:
// sustained distance above means rising, below means falling.
func classifyTrend(closes []float64, current float64) domain.PriceTrend {
	sma := talib.Sma(closes, trendPeriod)
	ref := sma[len(sma)-1]
	if ref <= 0 {
		return domain.TrendStable
	}

	switch {
	case current > ref*(1+trendBand):
		return domain.TrendRising
	case current < ref*(1-trendBand):
		return domain.TrendFalling
	}
	return domain.TrendStable
}

// dailyReturnStdDev estimates volatility as the standard deviation of simple
// daily returns.
func dailyReturnStdDev(closes []float64) float64 {
	if len(closes) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		returns = append(returns, closes[i]/closes[i-1]-1)
	}
	if len(returns) < 2 {
		return 0
	}
	return stat.StdDev(returns, nil)
}

func (s *PriceService) cache(key, cardID string, price *domain.CardPrice) {
	if err := s.store.Store("card_prices", cardID, price, clientdata.TTLCardPrice); err != nil {
		s.log.Warn().Err(err).Str("card_id", cardID).Msg("Failed to persist price cache entry")
	}
	s.mem.Set(key, *price, clientdata.TTLCardPrice)
}
