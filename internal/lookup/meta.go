package lookup

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mleone/deckwarden/internal/clientdata"
	"github.com/mleone/deckwarden/internal/domain"
)

// MetaService is the cached meta/tournament lookup.
type MetaService struct {
	source domain.MetaSource
	mem    domain.Cache
	store  *clientdata.Repository
	log    zerolog.Logger
}

// NewMetaService creates a new cached meta lookup.
func NewMetaService(source domain.MetaSource, mem domain.Cache, store *clientdata.Repository, log zerolog.Logger) *MetaService {
	return &MetaService{
		source: source,
		mem:    mem,
		store:  store,
		log:    log.With().Str("lookup", "meta").Logger(),
	}
}

// GetMetaSnapshot returns the format meta, cache-first.
func (s *MetaService) GetMetaSnapshot(ctx context.Context, format string) (*domain.MetaSnapshot, error) {
	key := "meta:" + format

	var cached domain.MetaSnapshot
	if s.mem.Get(key, &cached) {
		return &cached, nil
	}

	if raw, err := s.store.GetIfFresh("meta_snapshots", format); err == nil && raw != nil {
		if json.Unmarshal(raw, &cached) == nil {
			s.mem.Set(key, cached, clientdata.TTLMetaSnapshot)
			return &cached, nil
		}
	}

	snapshot, err := s.source.GetMetaSnapshot(ctx, format)
	if err != nil {
		if raw, serr := s.store.Get("meta_snapshots", format); serr == nil && raw != nil {
			if json.Unmarshal(raw, &cached) == nil {
				s.log.Warn().Err(err).Str("format", format).Msg("Meta source failed, serving stale cache")
				return &cached, nil
			}
		}
		return nil, fmt.Errorf("meta lookup failed for %s: %w", format, err)
	}

	if serr := s.store.Store("meta_snapshots", format, snapshot, clientdata.TTLMetaSnapshot); serr != nil {
		s.log.Warn().Err(serr).Str("format", format).Msg("Failed to persist meta cache entry")
	}
	s.mem.Set(key, *snapshot, clientdata.TTLMetaSnapshot)
	return snapshot, nil
}
