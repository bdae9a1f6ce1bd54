package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"actionitems/api/internal/record"
)

func TestAddComment(t *testing.T) {
	svc, _ := newTestService(t)
	notifier := newFakeNotifier()
	svc.WithNotifier(notifier)
	ctx := context.Background()

	item, err := svc.SaveItem(ctx, record.Record{"title": "Discuss plan"}, providerSession())
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	id := item.String("actionItemId")

	comment, err := svc.AddComment(ctx, id, "Looping in @nurse for scheduling", staffSession())
	if err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	if !strings.HasPrefix(comment.String("commentId"), "COM-") {
		t.Errorf("commentId = %q", comment.String("commentId"))
	}
	if comment.String("author") != "staff@rezilienthealth.com" {
		t.Errorf("author = %q", comment.String("author"))
	}
	if got := comment.List("mentionedUsers"); len(got) != 1 || got[0] != "nurse@rezilienthealth.com" {
		t.Errorf("mentionedUsers = %v", got)
	}

	notifier.waitNotified(t)
	calls := notifier.mentionCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 mention dispatch, got %d", len(calls))
	}
	if calls[0].comment != "Looping in @nurse for scheduling" {
		t.Errorf("dispatched comment = %q", calls[0].comment)
	}
	if calls[0].item.ID != id || calls[0].item.Title != "Discuss plan" {
		t.Errorf("dispatched item ref = %+v", calls[0].item)
	}
}

func TestAddCommentValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	item, err := svc.SaveItem(ctx, record.Record{"title": "x"}, providerSession())
	if err != nil {
		t.Fatalf("create item: %v", err)
	}

	var derr *DomainError
	_, err = svc.AddComment(ctx, item.String("actionItemId"), "   ", providerSession())
	if !errors.As(err, &derr) || derr.Code != "VALIDATION_ERROR" {
		t.Errorf("expected VALIDATION_ERROR for blank content, got %v", err)
	}

	_, err = svc.AddComment(ctx, "AI-404", "hello", providerSession())
	if !errors.As(err, &derr) || derr.Code != "NOT_FOUND" {
		t.Errorf("expected NOT_FOUND for missing item, got %v", err)
	}
}

func TestCommentsNewestFirstAndScopedToItem(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.SaveItem(ctx, record.Record{"title": "first"}, providerSession())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := svc.SaveItem(ctx, record.Record{"title": "second"}, providerSession())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	firstID := first.String("actionItemId")
	if _, err := svc.AddComment(ctx, firstID, "older", providerSession()); err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	if _, err := svc.AddComment(ctx, firstID, "newer", providerSession()); err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	if _, err := svc.AddComment(ctx, second.String("actionItemId"), "elsewhere", providerSession()); err != nil {
		t.Fatalf("AddComment: %v", err)
	}

	comments, err := svc.Comments(ctx, firstID)
	if err != nil {
		t.Fatalf("Comments: %v", err)
	}
	if len(comments) != 2 {
		t.Fatalf("expected 2 comments, got %d", len(comments))
	}
	if comments[0].String("content") != "newer" || comments[1].String("content") != "older" {
		t.Errorf("order = %q, %q", comments[0].String("content"), comments[1].String("content"))
	}
}
