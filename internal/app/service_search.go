package app

import (
	"context"

	"actionitems/api/internal/search"
)

// LoadSearchRecords feeds the search fallback scan and the startup
// reindex from primary storage. Deleted items stay out of the index.
func (s *Service) LoadSearchRecords(ctx context.Context) ([]search.ItemRecord, error) {
	items, err := s.ListItems(ctx, "", false)
	if err != nil {
		return nil, err
	}
	out := make([]search.ItemRecord, 0, len(items))
	for _, item := range items {
		if item.String("status") == StatusDeleted {
			continue
		}
		out = append(out, toSearchRecord(item))
	}
	return out, nil
}

// Search runs a full-text query over action items.
func (s *Service) Search(q search.Query) search.Response {
	if s.searchSvc == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.searchSvc.Search(q)
}
