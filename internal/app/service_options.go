package app

import (
	"context"

	"actionitems/api/internal/options"
	"actionitems/api/internal/tablestore"
)

// Options returns the option catalog, served from cache when possible.
func (s *Service) Options(ctx context.Context, useCache bool) (options.Catalog, error) {
	if s.cache != nil && useCache {
		var cached options.Catalog
		if err := s.cache.Get(ctx, cacheKeyOptions, &cached); err == nil {
			return cached, nil
		}
	}

	data, err := s.loadTable(ctx, tablestore.TableOptions)
	if err != nil {
		return options.Catalog{}, err
	}
	catalog := options.Build(data.Headers, data.Rows)

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKeyOptions, catalog); err != nil {
			s.logger.Printf("cache options: %v", err)
		}
	}
	return catalog, nil
}

// ClearOptionsCache forces the next Options call to rebuild.
func (s *Service) ClearOptionsCache(ctx context.Context) {
	s.invalidate(ctx, cacheKeyOptions)
}
