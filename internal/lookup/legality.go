package lookup

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/mleone/deckwarden/internal/clientdata"
	"github.com/mleone/deckwarden/internal/domain"
)

// LegalityService is the cached format-legality lookup. A failing source
// with no cached copy yields an empty ban list: suggestions then err on the
// side of proposing cards rather than failing the run.
type LegalityService struct {
	source domain.LegalitySource
	mem    domain.Cache
	store  *clientdata.Repository
	log    zerolog.Logger
}

// NewLegalityService creates a new cached legality lookup.
func NewLegalityService(source domain.LegalitySource, mem domain.Cache, store *clientdata.Repository, log zerolog.Logger) *LegalityService {
	return &LegalityService{
		source: source,
		mem:    mem,
		store:  store,
		log:    log.With().Str("lookup", "legality").Logger(),
	}
}

// GetLegality returns the ban list for a format, cache-first.
func (s *LegalityService) GetLegality(ctx context.Context, format string) (*domain.FormatLegality, error) {
	key := "legality:" + format

	var cached domain.FormatLegality
	if s.mem.Get(key, &cached) {
		return &cached, nil
	}

	if raw, err := s.store.GetIfFresh("legality_data", format); err == nil && raw != nil {
		if json.Unmarshal(raw, &cached) == nil {
			s.mem.Set(key, cached, clientdata.TTLLegality)
			return &cached, nil
		}
	}

	legality, err := s.source.GetLegality(ctx, format)
	if err != nil {
		if raw, serr := s.store.Get("legality_data", format); serr == nil && raw != nil {
			if json.Unmarshal(raw, &cached) == nil {
				s.log.Warn().Err(err).Str("format", format).Msg("Legality source failed, serving stale cache")
				return &cached, nil
			}
		}
		s.log.Warn().Err(err).Str("format", format).Msg("Legality unavailable, assuming no bans")
		return &domain.FormatLegality{Format: format}, nil
	}

	if serr := s.store.Store("legality_data", format, legality, clientdata.TTLLegality); serr != nil {
		s.log.Warn().Err(serr).Str("format", format).Msg("Failed to persist legality cache entry")
	}
	s.mem.Set(key, *legality, clientdata.TTLLegality)
	return legality, nil
}
