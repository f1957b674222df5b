package lookup

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mleone/deckwarden/internal/clientdata"
	"github.com/mleone/deckwarden/internal/domain"
)

// upcomingKey is the pseudo set code under which the release calendar itself
// is cached.
const upcomingKey = "_upcoming"

// SetService is the cached card-set release lookup.
type SetService struct {
	source domain.SetSource
	mem    domain.Cache
	store  *clientdata.Repository
	log    zerolog.Logger
}

// NewSetService creates a new cached set lookup.
func NewSetService(source domain.SetSource, mem domain.Cache, store *clientdata.Repository, log zerolog.Logger) *SetService {
	return &SetService{
		source: source,
		mem:    mem,
		store:  store,
		log:    log.With().Str("lookup", "sets").Logger(),
	}
}

// GetUpcomingSets returns the release calendar, cache-first. A failing feed
// with no cached copy yields an empty list, not an error: set monitoring must
// tolerate feed outages.
func (s *SetService) GetUpcomingSets(ctx context.Context) ([]domain.SetRelease, error) {
	var cached []domain.SetRelease
	if s.mem.Get("sets:upcoming", &cached) {
		return cached, nil
	}

	if raw, err := s.store.GetIfFresh("set_releases", upcomingKey); err == nil && raw != nil {
		if json.Unmarshal(raw, &cached) == nil {
			s.mem.Set("sets:upcoming", cached, clientdata.TTLSetReleases)
			return cached, nil
		}
	}

	sets, err := s.source.GetUpcomingSets(ctx)
	if err != nil {
		if raw, serr := s.store.Get("set_releases", upcomingKey); serr == nil && raw != nil {
			if json.Unmarshal(raw, &cached) == nil {
				s.log.Warn().Err(err).Msg("Set feed failed, serving stale cache")
				return cached, nil
			}
		}
		s.log.Warn().Err(err).Msg("Set feed unavailable and no cache, treating as no releases")
		return nil, nil
	}

	if serr := s.store.Store("set_releases", upcomingKey, sets, clientdata.TTLSetReleases); serr != nil {
		s.log.Warn().Err(serr).Msg("Failed to persist set release cache entry")
	}
	s.mem.Set("sets:upcoming", sets, clientdata.TTLSetReleases)
	return sets, nil
}

// GetSet returns one set with its card list, cache-first.
func (s *SetService) GetSet(ctx context.Context, setCode string) (*domain.SetRelease, error) {
	key := "set:" + setCode

	var cached domain.SetRelease
	if s.mem.Get(key, &cached) {
		return &cached, nil
	}

	if raw, err := s.store.GetIfFresh("set_releases", setCode); err == nil && raw != nil {
		if json.Unmarshal(raw, &cached) == nil {
			s.mem.Set(key, cached, clientdata.TTLSetReleases)
			return &cached, nil
		}
	}

	release, err := s.source.GetSet(ctx, setCode)
	if err != nil {
		if raw, serr := s.store.Get("set_releases", setCode); serr == nil && raw != nil {
			if json.Unmarshal(raw, &cached) == nil {
				s.log.Warn().Err(err).Str("set_code", setCode).Msg("Set source failed, serving stale cache")
				return &cached, nil
			}
		}
		return nil, fmt.Errorf("set lookup failed for %s: %w", setCode, err)
	}

	if serr := s.store.Store("set_releases", setCode, release, clientdata.TTLSetReleases); serr != nil {
		s.log.Warn().Err(serr).Str("set_code", setCode).Msg("Failed to persist set cache entry")
	}
	s.mem.Set(key, *release, clientdata.TTLSetReleases)
	return release, nil
}
