package app

import (
	"context"
	"sort"
	"strings"
	"time"

	"actionitems/api/internal/record"
	"actionitems/api/internal/tablestore"
)

// activityLimit caps the feed regardless of filters.
const activityLimit = 100

// ActivityFilter narrows the activity feed.
type ActivityFilter struct {
	Type  string // created, status, assignment, comment, field
	Since time.Time
	Query string
	Limit int
}

// ActivityEvent is one entry in the feed.
type ActivityEvent struct {
	Type         string `json:"type"`
	ActionItemID string `json:"actionItemId"`
	Actor        string `json:"actor"`
	At           string `json:"at"`
	Field        string `json:"field,omitempty"`
	OldValue     string `json:"oldValue,omitempty"`
	NewValue     string `json:"newValue,omitempty"`
	Content      string `json:"content,omitempty"`
}

// Activity merges the audit trail and comments into a newest-first feed.
func (s *Service) Activity(ctx context.Context, filter ActivityFilter) ([]ActivityEvent, error) {
	var events []ActivityEvent

	audit, err := s.loadTable(ctx, tablestore.TableAudit)
	if err != nil {
		return nil, err
	}
	for _, row := range audit.Rows {
		e := record.Plain.Decode(audit.Headers, row)
		events = append(events, ActivityEvent{
			Type:         auditEventType(e.String("fieldChanged")),
			ActionItemID: e.String("actionItemId"),
			Actor:        e.String("changedBy"),
			At:           e.String("changedAt"),
			Field:        e.String("fieldChanged"),
			OldValue:     e.String("oldValue"),
			NewValue:     e.String("newValue"),
		})
	}

	comments, err := s.loadTable(ctx, tablestore.TableComments)
	if err != nil {
		return nil, err
	}
	for _, row := range comments.Rows {
		c := record.CommentSchema.Decode(comments.Headers, row)
		events = append(events, ActivityEvent{
			Type:         "comment",
			ActionItemID: c.String("actionItemId"),
			Actor:        c.String("author"),
			At:           c.String("timestamp"),
			Content:      c.String("content"),
		})
	}

	events = filterActivity(events, filter)

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].At > events[j].At
	})

	limit := filter.Limit
	if limit <= 0 || limit > activityLimit {
		limit = activityLimit
	}
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func auditEventType(field string) string {
	switch field {
	case "created":
		return "created"
	case "status", "deleted":
		return "status"
	case "assignedTo":
		return "assignment"
	default:
		return "field"
	}
}

func filterActivity(events []ActivityEvent, filter ActivityFilter) []ActivityEvent {
	query := strings.ToLower(strings.TrimSpace(filter.Query))
	var since string
	if !filter.Since.IsZero() {
		since = filter.Since.UTC().Format(time.RFC3339)
	}

	out := events[:0]
	for _, e := range events {
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if since != "" && e.At < since {
			continue
		}
		if query != "" && !activityMatches(e, query) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func activityMatches(e ActivityEvent, query string) bool {
	for _, field := range []string{e.ActionItemID, e.Actor, e.Field, e.OldValue, e.NewValue, e.Content} {
		if strings.Contains(strings.ToLower(field), query) {
			return true
		}
	}
	return false
}
