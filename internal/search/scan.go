package search

import (
	"context"
	"fmt"
	"strings"
)

// Loader fetches the current item records from primary storage.
type Loader func(ctx context.Context) ([]ItemRecord, error)

// Scan is the fallback Searcher used when Meilisearch is down. It matches
// case-insensitive substrings against title, description, and tags.
type Scan struct {
	load Loader
}

func NewScan(load Loader) *Scan {
	return &Scan{load: load}
}

// Healthy always reports true; the fallback is available whenever the
// primary store is.
func (s *Scan) Healthy() bool { return true }

func (s *Scan) Search(q Query) ([]Result, int, error) {
	items, err := s.load(context.Background())
	if err != nil {
		return nil, 0, fmt.Errorf("load items for search: %w", err)
	}

	needle := strings.ToLower(strings.TrimSpace(q.Text))

	var matched []Result
	for _, item := range items {
		if q.FilterStatus != "" && item.Status != q.FilterStatus {
			continue
		}
		if q.FilterAssignedTo != "" && !strings.EqualFold(item.AssignedTo, q.FilterAssignedTo) {
			continue
		}
		if q.FilterAthenaID != "" && item.AthenaID != q.FilterAthenaID {
			continue
		}
		if needle != "" && !matches(item, needle) {
			continue
		}
		matched = append(matched, Result{
			ID:         item.ID,
			Title:      item.Title,
			Snippet:    snippet(item.Description),
			Status:     item.Status,
			AssignedTo: item.AssignedTo,
			AthenaID:   item.AthenaID,
		})
	}

	total := len(matched)
	limit := q.Limit
	if limit == 0 {
		limit = 20
	}
	start := q.Offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func matches(item ItemRecord, needle string) bool {
	if strings.Contains(strings.ToLower(item.Title), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(item.Description), needle) {
		return true
	}
	for _, tag := range item.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

func snippet(description string) string {
	const limit = 160
	if len(description) <= limit {
		return description
	}
	return description[:limit] + "..."
}
