package export

import (
	"context"
	"fmt"
)

// ItemSource supplies the data an export needs.
type ItemSource interface {
	GetItemView(ctx context.Context, itemID string) (ItemView, error)
}

// Service renders action item summaries into portable formats.
type Service struct {
	source ItemSource
}

func NewService(source ItemSource) *Service {
	return &Service{source: source}
}

// Export generates an export in the requested format.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	item, err := s.source.GetItemView(ctx, req.ItemID)
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}

	if !req.IncludeComments {
		item.Comments = nil
	}
	if !req.IncludeHistory {
		item.History = nil
	}

	html, err := renderItemHTML(item)
	if err != nil {
		return nil, err
	}

	switch req.Format {
	case FormatPDF:
		return exportPDF(html, item.Title)
	case FormatDOCX:
		return exportDOCX(html, item.Title)
	default:
		return nil, fmt.Errorf("unsupported export format: %s", req.Format)
	}
}
