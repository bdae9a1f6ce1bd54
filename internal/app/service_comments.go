package app

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"actionitems/api/internal/mention"
	"actionitems/api/internal/notify"
	"actionitems/api/internal/record"
	"actionitems/api/internal/tablestore"
	"actionitems/api/internal/util"
)

// Comments returns an item's comments, newest first.
func (s *Service) Comments(ctx context.Context, itemID string) ([]record.Record, error) {
	data, err := s.loadTable(ctx, tablestore.TableComments)
	if err != nil {
		return nil, err
	}

	var comments []record.Record
	for _, row := range data.Rows {
		c := record.CommentSchema.Decode(data.Headers, row)
		if c.String("actionItemId") == itemID {
			comments = append(comments, c)
		}
	}
	sort.SliceStable(comments, func(i, j int) bool {
		return comments[i].String("timestamp") > comments[j].String("timestamp")
	})
	return comments, nil
}

// AddComment records a comment on an item and notifies anyone mentioned
// in it.
func (s *Service) AddComment(ctx context.Context, itemID, content string, sess Session) (record.Record, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "comment content is required", nil)
	}

	item, err := s.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	mentions := mention.Extract(content, s.cfg.OrgDomain)

	comment := record.Record{
		"commentId":      util.TimeID("COM", s.now()),
		"actionItemId":   itemID,
		"author":         sess.Email,
		"content":        content,
		"timestamp":      s.now().UTC().Format(time.RFC3339),
		"mentionedUsers": mentions,
	}

	headers := tablestore.DefaultHeaders[tablestore.TableComments]
	if data, err := s.tables.ListRows(ctx, tablestore.TableComments); err == nil {
		headers = data.Headers
	}
	row := record.CommentSchema.Encode(headers, comment)
	if err := s.tables.AppendRow(ctx, tablestore.TableComments, row); err != nil {
		return nil, err
	}

	if len(mentions) > 0 {
		ref := notify.ItemRef{ID: itemID, Title: item.String("title")}
		go func() {
			dctx := context.Background()
			if s.notifier != nil {
				s.notifier.DispatchMentions(dctx, mentions, ref, content, sess.Email)
			}
			s.emailMentions(dctx, mentions, item, content, sess.Email)
		}()
	}
	return comment, nil
}
