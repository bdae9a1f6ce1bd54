package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"actionitems/api/internal/record"
	"actionitems/api/internal/tablestore"
)

func TestSaveItemCreate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	saved, err := svc.SaveItem(ctx, record.Record{
		"title":       "Fax records to cardiology",
		"description": "Send the latest labs",
		"athenaId":    "12345",
		"tags":        []string{"fax", "urgent"},
	}, providerSession())
	if err != nil {
		t.Fatalf("SaveItem: %v", err)
	}

	id := saved.String("actionItemId")
	if !strings.HasPrefix(id, "AI-") {
		t.Errorf("expected AI- prefixed id, got %q", id)
	}
	if saved.String("status") != StatusPending {
		t.Errorf("expected default status pending, got %q", saved.String("status"))
	}
	if saved.String("createdBy") != "doc@rezilienthealth.com" {
		t.Errorf("createdBy = %q", saved.String("createdBy"))
	}
	// Providers approve their own items on create.
	if saved.String("approvedBy") != "doc@rezilienthealth.com" {
		t.Errorf("approvedBy = %q", saved.String("approvedBy"))
	}
	if got := saved.List("tags"); len(got) != 2 || got[0] != "fax" {
		t.Errorf("tags = %v", got)
	}

	history, err := svc.History(ctx, id)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 || history[0].String("fieldChanged") != "created" {
		t.Fatalf("expected a single created audit entry, got %v", history)
	}
	if !strings.Contains(history[0].String("newValue"), "Fax records to cardiology") {
		t.Errorf("created audit snapshot missing title: %q", history[0].String("newValue"))
	}
}

func TestSaveItemStaffNotAutoApproved(t *testing.T) {
	svc, _ := newTestService(t)

	saved, err := svc.SaveItem(context.Background(), record.Record{"title": "Call patient"}, staffSession())
	if err != nil {
		t.Fatalf("SaveItem: %v", err)
	}
	if saved.String("approvedBy") != "" {
		t.Errorf("staff-created item should not be auto-approved, approvedBy = %q", saved.String("approvedBy"))
	}
}

func TestSaveItemValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.SaveItem(ctx, record.Record{"title": "  "}, providerSession()); err == nil {
		t.Error("expected error for blank title")
	}

	// Statuses outside the canonical set pass through normalized.
	saved, err := svc.SaveItem(ctx, record.Record{"title": "x", "status": "Waiting On Records"}, providerSession())
	if err != nil {
		t.Fatalf("free-form status rejected: %v", err)
	}
	if saved.String("status") != "waiting_on_records" {
		t.Errorf("status = %q", saved.String("status"))
	}

	var derr *DomainError
	_, err = svc.SaveItem(ctx, record.Record{}, providerSession())
	if !errors.As(err, &derr) || derr.Code != "VALIDATION_ERROR" {
		t.Errorf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestSaveItemNormalizesClientStatusCasing(t *testing.T) {
	svc, _ := newTestService(t)

	saved, err := svc.SaveItem(context.Background(), record.Record{
		"title":  "Review results",
		"status": "In Progress",
	}, providerSession())
	if err != nil {
		t.Fatalf("SaveItem: %v", err)
	}
	if saved.String("status") != StatusInProgress {
		t.Errorf("status = %q, want %q", saved.String("status"), StatusInProgress)
	}
}

func TestSaveItemUpdatePreservesProvenanceAndAuditsDiff(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.SaveItem(ctx, record.Record{"title": "Original"}, providerSession())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := created.String("actionItemId")

	updated, err := svc.SaveItem(ctx, record.Record{
		"actionItemId": id,
		"title":        "Renamed",
	}, staffSession())
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if updated.String("createdBy") != "doc@rezilienthealth.com" {
		t.Errorf("createdBy not preserved: %q", updated.String("createdBy"))
	}
	if updated.String("lastUpdatedBy") != "staff@rezilienthealth.com" {
		t.Errorf("lastUpdatedBy = %q", updated.String("lastUpdatedBy"))
	}

	history, err := svc.History(ctx, id)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	sawTitle := false
	for _, e := range history {
		field := e.String("fieldChanged")
		if field == "lastUpdated" || field == "lastUpdatedBy" {
			t.Errorf("timestamp column %q should not be audited", field)
		}
		if field == "title" {
			sawTitle = true
			if e.String("oldValue") != "Original" || e.String("newValue") != "Renamed" {
				t.Errorf("title diff = %q -> %q", e.String("oldValue"), e.String("newValue"))
			}
		}
	}
	if !sawTitle {
		t.Error("expected a title diff audit entry")
	}
}

func TestSaveItemUpdateIgnoresNonCanonicalStorage(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()

	// Sheet-era rows carry spaced lists, lowercase bool tokens, and
	// blank boolean cells.
	headers := tablestore.DefaultHeaders[tablestore.TableActionItems]
	row := make([]any, len(headers))
	for i := range row {
		row[i] = ""
	}
	col := make(map[string]int, len(headers))
	for i, h := range headers {
		col[h] = i
	}
	row[col["actionItemId"]] = "AI-42"
	row[col["title"]] = "Imported"
	row[col["status"]] = "pending"
	row[col["tags"]] = "urgent, pharmacy"
	row[col["isRecurring"]] = "true"
	row[col["createdBy"]] = "doc@rezilienthealth.com"
	row[col["createdAt"]] = "2025-01-01T00:00:00Z"
	if err := mem.AppendRow(ctx, tablestore.TableActionItems, row); err != nil {
		t.Fatalf("append: %v", err)
	}

	item, err := svc.GetItem(ctx, "AI-42")
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	item["title"] = "Imported (fixed)"
	if _, err := svc.SaveItem(ctx, item, providerSession()); err != nil {
		t.Fatalf("save: %v", err)
	}

	history, err := svc.History(ctx, "AI-42")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 {
		fields := make([]string, 0, len(history))
		for _, e := range history {
			fields = append(fields, e.String("fieldChanged"))
		}
		t.Fatalf("want a single title diff, got events for %v", fields)
	}
	if history[0].String("fieldChanged") != "title" {
		t.Errorf("fieldChanged = %q", history[0].String("fieldChanged"))
	}
}

func TestSaveItemUpdateUnknownID(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.SaveItem(context.Background(), record.Record{
		"actionItemId": "AI-999",
		"title":        "Ghost",
	}, providerSession())
	var derr *DomainError
	if !errors.As(err, &derr) || derr.Code != "NOT_FOUND" {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestListItemsPatientFilter(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.SaveItem(ctx, record.Record{"title": "A", "athenaId": "111"}, providerSession()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := svc.SaveItem(ctx, record.Record{"title": "B", "athenaId": "222"}, providerSession()); err != nil {
		t.Fatalf("save: %v", err)
	}

	all, err := svc.ListItems(ctx, "", false)
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 items, got %d", len(all))
	}

	filtered, err := svc.ListItems(ctx, "222", false)
	if err != nil {
		t.Fatalf("ListItems filtered: %v", err)
	}
	if len(filtered) != 1 || filtered[0].String("title") != "B" {
		t.Errorf("filtered = %v", filtered)
	}
}

func TestGetItemNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	var derr *DomainError
	_, err := svc.GetItem(context.Background(), "AI-404")
	if !errors.As(err, &derr) || derr.Code != "NOT_FOUND" {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestUpdateStatusStampsCompletionOnce(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.SaveItem(ctx, record.Record{"title": "Close out"}, providerSession())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := created.String("actionItemId")

	done, err := svc.UpdateStatus(ctx, id, "completed", staffSession())
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if done.String("completedBy") != "staff@rezilienthealth.com" {
		t.Errorf("completedBy = %q", done.String("completedBy"))
	}
	firstStamp := done.String("completedAt")
	if firstStamp == "" {
		t.Fatal("completedAt not stamped")
	}

	// A second completion keeps the original stamp.
	again, err := svc.UpdateStatus(ctx, id, "completed", providerSession())
	if err != nil {
		t.Fatalf("second UpdateStatus: %v", err)
	}
	if again.String("completedAt") != firstStamp || again.String("completedBy") != "staff@rezilienthealth.com" {
		t.Errorf("completion stamp rewritten: %q by %q", again.String("completedAt"), again.String("completedBy"))
	}
}

func TestUpdateStatusNotifiesAssigneeNotActor(t *testing.T) {
	svc, _ := newTestService(t)
	notifier := newFakeNotifier()
	svc.WithNotifier(notifier)
	ctx := context.Background()

	created, err := svc.SaveItem(ctx, record.Record{
		"title":      "Check labs",
		"assignedTo": "nurse@rezilienthealth.com",
	}, providerSession())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.UpdateStatus(ctx, created.String("actionItemId"), "in_progress", providerSession()); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	notifier.waitNotified(t)

	calls := notifier.statusCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 status dispatch, got %d", len(calls))
	}
	call := calls[0]
	if call.oldStatus != StatusPending || call.newStatus != StatusInProgress {
		t.Errorf("status transition %q -> %q", call.oldStatus, call.newStatus)
	}
	if len(call.targets) == 0 || call.targets[0] != "nurse@rezilienthealth.com" {
		t.Errorf("targets = %v", call.targets)
	}
	if call.changedBy != "doc@rezilienthealth.com" {
		t.Errorf("changedBy = %q", call.changedBy)
	}
}

func TestUpdateStatusUnchangedDoesNotNotify(t *testing.T) {
	svc, _ := newTestService(t)
	notifier := newFakeNotifier()
	svc.WithNotifier(notifier)
	ctx := context.Background()

	created, err := svc.SaveItem(ctx, record.Record{"title": "Idle"}, providerSession())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, created.String("actionItemId"), "pending", providerSession()); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if got := notifier.statusCalls(); len(got) != 0 {
		t.Errorf("expected no status dispatch for unchanged status, got %v", got)
	}
}

func TestSoftDelete(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.SaveItem(ctx, record.Record{"title": "Obsolete"}, providerSession())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := created.String("actionItemId")

	found, err := svc.SoftDelete(ctx, id, providerSession())
	if err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}
	if !found {
		t.Fatal("expected found=true")
	}

	item, err := svc.GetItem(ctx, id)
	if err != nil {
		t.Fatalf("GetItem after delete: %v", err)
	}
	if item.String("status") != StatusDeleted {
		t.Errorf("status = %q, want deleted", item.String("status"))
	}

	history, err := svc.History(ctx, id)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	sawDeleted := false
	for _, e := range history {
		if e.String("fieldChanged") == "deleted" {
			sawDeleted = true
		}
	}
	if !sawDeleted {
		t.Error("expected an explicit deleted audit entry")
	}
}

func TestSoftDeleteMissingItemReportsFalse(t *testing.T) {
	svc, _ := newTestService(t)
	found, err := svc.SoftDelete(context.Background(), "AI-000", providerSession())
	if err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}
	if found {
		t.Error("expected found=false for missing item")
	}
}

// failingUpdateStore breaks row updates while leaving reads intact.
type failingUpdateStore struct {
	tablestore.TableStore
}

func (failingUpdateStore) UpdateRow(ctx context.Context, table string, rowIndex int, values []any) error {
	return errors.New("backend down")
}

func TestSoftDeleteReportsFalseOnStoreFailure(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.SaveItem(ctx, record.Record{"title": "Doomed"}, providerSession())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	svc.tables = failingUpdateStore{svc.tables}
	found, err := svc.SoftDelete(ctx, created.String("actionItemId"), providerSession())
	if err != nil {
		t.Fatalf("delete should not surface store errors, got %v", err)
	}
	if found {
		t.Error("expected found=false when the status write fails")
	}
}

func TestAssignItem(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.SaveItem(ctx, record.Record{"title": "Reassign me"}, providerSession())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	assigned, err := svc.AssignItem(ctx, created.String("actionItemId"), "  nurse@rezilienthealth.com ", providerSession())
	if err != nil {
		t.Fatalf("AssignItem: %v", err)
	}
	if assigned.String("assignedTo") != "nurse@rezilienthealth.com" {
		t.Errorf("assignedTo = %q", assigned.String("assignedTo"))
	}

	history, err := svc.History(ctx, created.String("actionItemId"))
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	sawAssignment := false
	for _, e := range history {
		if e.String("fieldChanged") == "assignedTo" && e.String("newValue") == "nurse@rezilienthealth.com" {
			sawAssignment = true
		}
	}
	if !sawAssignment {
		t.Error("expected assignedTo diff audit entry")
	}
}

func TestUpdateFieldGuardsServerOwnedColumns(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.SaveItem(ctx, record.Record{"title": "Guarded"}, providerSession())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var derr *DomainError
	_, err = svc.UpdateField(ctx, created.String("actionItemId"), "createdBy", "intruder@x.com", "", providerSession())
	if !errors.As(err, &derr) || derr.Code != "VALIDATION_ERROR" {
		t.Errorf("expected VALIDATION_ERROR for server-owned column, got %v", err)
	}
}

func TestUpdateFieldRecordsOptionalComment(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.SaveItem(ctx, record.Record{"title": "Fax it"}, providerSession())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := created.String("actionItemId")

	updated, err := svc.UpdateField(ctx, id, "faxSent", true, "faxed to front desk", providerSession())
	if err != nil {
		t.Fatalf("UpdateField: %v", err)
	}
	if !updated.Bool("faxSent") {
		t.Error("faxSent not set")
	}

	comments, err := svc.Comments(ctx, id)
	if err != nil {
		t.Fatalf("Comments: %v", err)
	}
	if len(comments) != 1 || comments[0].String("content") != "faxed to front desk" {
		t.Errorf("comments = %v", comments)
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.SaveItem(ctx, record.Record{"title": "v1"}, providerSession())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := created.String("actionItemId")

	if _, err := svc.UpdateField(ctx, id, "title", "v2", "", providerSession()); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := svc.UpdateField(ctx, id, "title", "v3", "", providerSession()); err != nil {
		t.Fatalf("update: %v", err)
	}

	history, err := svc.History(ctx, id)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) < 3 {
		t.Fatalf("expected at least 3 entries, got %d", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i-1].String("changedAt") < history[i].String("changedAt") {
			t.Fatalf("history not newest-first at %d", i)
		}
	}
	if history[0].String("newValue") != "v3" {
		t.Errorf("newest entry = %q", history[0].String("newValue"))
	}
}

func TestCreateFromTemplate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tpl, err := svc.SaveItem(ctx, record.Record{
		"title":       "Weekly fax run",
		"description": "Fax outstanding records",
		"tags":        []string{"recurring"},
		"isTemplate":  true,
	}, providerSession())
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	tplID := tpl.String("actionItemId")

	templates, err := svc.Templates(ctx)
	if err != nil {
		t.Fatalf("Templates: %v", err)
	}
	if len(templates) != 1 || templates[0].String("actionItemId") != tplID {
		t.Fatalf("templates = %v", templates)
	}

	item, err := svc.CreateFromTemplate(ctx, tplID, record.Record{"athenaId": "777"}, staffSession())
	if err != nil {
		t.Fatalf("CreateFromTemplate: %v", err)
	}
	if item.String("actionItemId") == tplID {
		t.Error("instance reused template id")
	}
	if item.Bool("isTemplate") {
		t.Error("instance still flagged as template")
	}
	if item.String("templateId") != tplID {
		t.Errorf("templateId = %q", item.String("templateId"))
	}
	if item.String("title") != "Weekly fax run" || item.String("athenaId") != "777" {
		t.Errorf("instance = %v", item)
	}
	if item.String("status") != StatusPending {
		t.Errorf("instance status = %q", item.String("status"))
	}
	if item.String("createdBy") != "staff@rezilienthealth.com" {
		t.Errorf("createdBy = %q", item.String("createdBy"))
	}
}

func TestCreateFromTemplateRejectsNonTemplate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	plain, err := svc.SaveItem(ctx, record.Record{"title": "Not a template"}, providerSession())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var derr *DomainError
	_, err = svc.CreateFromTemplate(ctx, plain.String("actionItemId"), nil, providerSession())
	if !errors.As(err, &derr) || derr.Code != "VALIDATION_ERROR" {
		t.Errorf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestListItemsSkipsEmptyRows(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()

	if _, err := svc.SaveItem(ctx, record.Record{"title": "real"}, providerSession()); err != nil {
		t.Fatalf("save: %v", err)
	}
	blank := make([]any, len(tablestore.DefaultHeaders[tablestore.TableActionItems]))
	for i := range blank {
		blank[i] = ""
	}
	if err := mem.AppendRow(ctx, tablestore.TableActionItems, blank); err != nil {
		t.Fatalf("append blank: %v", err)
	}

	items, err := svc.ListItems(ctx, "", false)
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("blank row not skipped: %d items", len(items))
	}
}

func TestSaveItemDispatchesInlineCommentMentions(t *testing.T) {
	svc, _ := newTestService(t)
	notifier := newFakeNotifier()
	svc.WithNotifier(notifier)

	saved, err := svc.SaveItem(context.Background(), record.Record{
		"title":    "Imported with history",
		"comments": `[{"text":"per @nurse this is waiting on records"}]`,
	}, providerSession())
	if err != nil {
		t.Fatalf("SaveItem: %v", err)
	}
	notifier.waitNotified(t)

	calls := notifier.mentionCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 mention dispatch, got %d", len(calls))
	}
	if len(calls[0].mentions) != 1 || calls[0].mentions[0] != "nurse@rezilienthealth.com" {
		t.Errorf("mentions = %v", calls[0].mentions)
	}

	// Updates leave the legacy thread alone; only the fresh description
	// mention goes out.
	saved["description"] = "handing to @pt.coord"
	if _, err := svc.SaveItem(context.Background(), saved, providerSession()); err != nil {
		t.Fatalf("update: %v", err)
	}
	notifier.waitNotified(t)

	calls = notifier.mentionCalls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 dispatches, got %d", len(calls))
	}
	if len(calls[1].mentions) != 1 || calls[1].mentions[0] != "pt.coord@rezilienthealth.com" {
		t.Errorf("update mentions = %v, want only the description mention", calls[1].mentions)
	}
}

func TestSaveItemDispatchesDescriptionMentions(t *testing.T) {
	svc, _ := newTestService(t)
	notifier := newFakeNotifier()
	svc.WithNotifier(notifier)

	_, err := svc.SaveItem(context.Background(), record.Record{
		"title":       "Chase referral",
		"description": "Please follow up @nurse and @pt.coord",
	}, providerSession())
	if err != nil {
		t.Fatalf("SaveItem: %v", err)
	}
	notifier.waitNotified(t)

	calls := notifier.mentionCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 mention dispatch, got %d", len(calls))
	}
	want := []string{"nurse@rezilienthealth.com", "pt.coord@rezilienthealth.com"}
	if len(calls[0].mentions) != 2 || calls[0].mentions[0] != want[0] || calls[0].mentions[1] != want[1] {
		t.Errorf("mentions = %v, want %v", calls[0].mentions, want)
	}
	if calls[0].from != "doc@rezilienthealth.com" {
		t.Errorf("from = %q", calls[0].from)
	}
}
