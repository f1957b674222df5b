package lookup

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mleone/deckwarden/internal/clientdata"
	"github.com/mleone/deckwarden/internal/domain"
)

// CardService is the cached card-database lookup.
type CardService struct {
	source domain.CardSource
	mem    domain.Cache
	store  *clientdata.Repository
	log    zerolog.Logger
}

// NewCardService creates a new cached card lookup.
func NewCardService(source domain.CardSource, mem domain.Cache, store *clientdata.Repository, log zerolog.Logger) *CardService {
	return &CardService{
		source: source,
		mem:    mem,
		store:  store,
		log:    log.With().Str("lookup", "cards").Logger(),
	}
}

// GetCard returns card facts, cache-first.
func (s *CardService) GetCard(ctx context.Context, cardID string) (*domain.CardFacts, error) {
	key := "card:" + cardID

	var cached domain.CardFacts
	if s.mem.Get(key, &cached) {
		return &cached, nil
	}

	if raw, err := s.store.GetIfFresh("card_facts", cardID); err == nil && raw != nil {
		if json.Unmarshal(raw, &cached) == nil {
			s.mem.Set(key, cached, clientdata.TTLCardFacts)
			return &cached, nil
		}
	}

	facts, err := s.source.GetCard(ctx, cardID)
	if err != nil {
		// Stale data beats no data
		if raw, serr := s.store.Get("card_facts", cardID); serr == nil && raw != nil {
			if json.Unmarshal(raw, &cached) == nil {
				s.log.Warn().Err(err).Str("card_id", cardID).Msg("Card source failed, serving stale cache")
				return &cached, nil
			}
		}
		return nil, fmt.Errorf("card lookup failed for %s: %w", cardID, err)
	}

	if serr := s.store.Store("card_facts", cardID, facts, clientdata.TTLCardFacts); serr != nil {
		s.log.Warn().Err(serr).Str("card_id", cardID).Msg("Failed to persist card cache entry")
	}
	s.mem.Set(key, *facts, clientdata.TTLCardFacts)
	return facts, nil
}

// GetCardsInSet returns the cards of a set straight from the source; set
// contents are cached at the set-release level, not per card.
func (s *CardService) GetCardsInSet(ctx context.Context, setCode string) ([]domain.CardFacts, error) {
	return s.source.GetCardsInSet(ctx, setCode)
}
