package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"sort"
	"strings"
	"time"

	"actionitems/api/internal/export"
	"actionitems/api/internal/mention"
	"actionitems/api/internal/notify"
	"actionitems/api/internal/rbac"
	"actionitems/api/internal/record"
	"actionitems/api/internal/search"
	"actionitems/api/internal/tablestore"
	"actionitems/api/internal/util"
)

// fields the diff audit skips; they change on every save.
var auditExcluded = map[string]bool{
	"lastUpdated":   true,
	"lastUpdatedBy": true,
}

// auditText renders a decoded field value for the audit log.
func auditText(v any) string {
	if list, ok := v.([]string); ok {
		return strings.Join(list, ",")
	}
	return record.Text(v)
}

// ListItems returns all action items, optionally filtered by patient.
// The unfiltered list is served from cache when available.
func (s *Service) ListItems(ctx context.Context, patientID string, useCache bool) ([]record.Record, error) {
	if s.cache != nil && useCache {
		var cached []record.Record
		if err := s.cache.Get(ctx, cacheKeyItems, &cached); err == nil {
			return filterByPatient(cached, patientID), nil
		}
	}

	data, err := s.loadTable(ctx, tablestore.TableActionItems)
	if err != nil {
		return nil, err
	}

	items := make([]record.Record, 0, len(data.Rows))
	for _, row := range data.Rows {
		if emptyRow(row) {
			continue
		}
		items = append(items, record.ItemSchema.Decode(data.Headers, row))
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKeyItems, items); err != nil {
			s.logger.Printf("cache items: %v", err)
		}
	}
	return filterByPatient(items, patientID), nil
}

// emptyRow reports whether every cell is blank. Sheet-era data has
// stretches of these between real rows.
func emptyRow(row []any) bool {
	for _, cell := range row {
		if record.Text(cell) != "" {
			return false
		}
	}
	return true
}

func filterByPatient(items []record.Record, patientID string) []record.Record {
	if patientID == "" {
		return items
	}
	out := make([]record.Record, 0, len(items))
	for _, item := range items {
		if item.String("athenaId") == patientID {
			out = append(out, item)
		}
	}
	return out
}

// GetItem returns a single action item by ID.
func (s *Service) GetItem(ctx context.Context, itemID string) (record.Record, error) {
	if itemID == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "actionItemId is required", nil)
	}
	items, err := s.ListItems(ctx, "", true)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if item.String("actionItemId") == itemID {
			return item, nil
		}
	}
	return nil, notFound("action item")
}

// SaveItem creates or updates an action item. A missing actionItemId
// means create. The saved record is returned in its decoded form.
func (s *Service) SaveItem(ctx context.Context, input record.Record, sess Session) (record.Record, error) {
	if input == nil {
		input = record.Record{}
	}
	if strings.TrimSpace(input.String("title")) == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "title is required", nil)
	}

	// Free-form statuses are allowed; only the casing is canonicalized.
	status := normalizeStatus(input.String("status"))
	if status == "" {
		status = StatusPending
	}
	input["status"] = status

	data, err := s.tables.ListRows(ctx, tablestore.TableActionItems)
	if err != nil {
		return nil, err
	}

	itemID := input.String("actionItemId")
	isNew := itemID == ""

	var rowIndex int
	var oldRec record.Record
	if !isNew {
		var oldRow []any
		rowIndex, oldRow = findRow(data, "actionItemId", itemID)
		if rowIndex == 0 {
			return nil, notFound("action item")
		}
		oldRec = record.ItemSchema.Decode(data.Headers, oldRow)
	} else {
		itemID = util.TimeID("AI", s.now())
		input["actionItemId"] = itemID
	}

	now := s.now().UTC().Format(time.RFC3339)
	if isNew {
		input["createdBy"] = sess.Email
		input["createdAt"] = now
	} else {
		// Preserve provenance columns the client did not send.
		if input.String("createdBy") == "" {
			input["createdBy"] = oldRec["createdBy"]
		}
		if input.String("createdAt") == "" {
			input["createdAt"] = oldRec["createdAt"]
		}
	}
	input["lastUpdated"] = now
	input["lastUpdatedBy"] = sess.Email

	// Items created by approvers start approved.
	if isNew && rbac.CanApprove(sess.Role) && input.String("approvedBy") == "" {
		input["approvedBy"] = sess.Email
		input["approvedAt"] = now
	}

	newRow := record.ItemSchema.Encode(data.Headers, input)

	if isNew {
		if err := s.tables.AppendRow(ctx, tablestore.TableActionItems, newRow); err != nil {
			return nil, err
		}
		snapshot, _ := json.Marshal(record.ItemSchema.Decode(data.Headers, newRow))
		s.writeAudit(ctx, itemID, "created", "", string(snapshot), sess.Email)
	} else {
		if err := s.tables.UpdateRow(ctx, tablestore.TableActionItems, rowIndex, newRow); err != nil {
			return nil, err
		}
		// Diff the decoded views, not the raw cells, so non-canonical
		// storage ("a, b" lists, lowercase bool tokens) does not show
		// up as a change.
		newRec := record.ItemSchema.Decode(data.Headers, newRow)
		for _, h := range data.Headers {
			if auditExcluded[h] {
				continue
			}
			if !reflect.DeepEqual(oldRec[h], newRec[h]) {
				s.writeAudit(ctx, itemID, h, auditText(oldRec[h]), auditText(newRec[h]), sess.Email)
			}
		}
	}

	saved := record.ItemSchema.Decode(data.Headers, newRow)

	s.invalidate(ctx, cacheKeyItems)
	s.processItemMentions(saved, sess.Email, isNew)
	s.indexItem(saved)

	return saved, nil
}

// processItemMentions extracts mentions from the description and the
// explicit mentionedUsers field and dispatches notifications without
// blocking the save. The legacy comments column is scanned only for
// new items; re-saving an import must not re-notify its old threads.
func (s *Service) processItemMentions(item record.Record, author string, isNew bool) {
	mentions := mention.Extract(item.String("description"), s.cfg.OrgDomain)
	mentions = append(mentions, item.List("mentionedUsers")...)
	if isNew {
		mentions = append(mentions, s.inlineCommentMentions(item.String("comments"))...)
	}
	if len(mentions) == 0 {
		return
	}
	ref := notify.ItemRef{ID: item.String("actionItemId"), Title: item.String("title")}
	go func() {
		ctx := context.Background()
		if s.notifier != nil {
			s.notifier.DispatchMentions(ctx, mentions, ref, "", author)
		}
		s.emailMentions(ctx, mentions, item, "", author)
	}()
}

// inlineCommentMentions pulls mentions out of the legacy comments
// column, a JSON array of {text} objects carried over from imports.
func (s *Service) inlineCommentMentions(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || !strings.HasPrefix(raw, "[") {
		return nil
	}
	var inline []struct {
		Text    string `json:"text"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(raw), &inline); err != nil {
		return nil
	}
	var mentions []string
	for _, c := range inline {
		text := c.Text
		if text == "" {
			text = c.Content
		}
		mentions = append(mentions, mention.Extract(text, s.cfg.OrgDomain)...)
	}
	return mentions
}

func (s *Service) indexItem(item record.Record) {
	if s.searchSvc == nil {
		return
	}
	s.searchSvc.IndexItem(toSearchRecord(item))
}

func toSearchRecord(item record.Record) search.ItemRecord {
	return search.ItemRecord{
		ID:          item.String("actionItemId"),
		Title:       item.String("title"),
		Description: item.String("description"),
		Tags:        item.List("tags"),
		Status:      item.String("status"),
		AssignedTo:  item.String("assignedTo"),
		AthenaID:    item.String("athenaId"),
	}
}

// UpdateStatus moves an item to a new status, stamping completion and
// notifying the people on the item.
func (s *Service) UpdateStatus(ctx context.Context, itemID, newStatus string, sess Session) (record.Record, error) {
	status := normalizeStatus(newStatus)
	if status == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "status is required", nil)
	}

	item, err := s.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	oldStatus := item.String("status")
	item["status"] = status
	if status == StatusCompleted && item.String("completedBy") == "" {
		item["completedBy"] = sess.Email
		item["completedAt"] = s.now().UTC().Format(time.RFC3339)
	}

	saved, err := s.SaveItem(ctx, item, sess)
	if err != nil {
		return nil, err
	}

	if oldStatus != status {
		targets := append([]string{saved.String("assignedTo")}, saved.List("mentionedUsers")...)
		ref := notify.ItemRef{ID: itemID, Title: saved.String("title")}
		go func() {
			ctx := context.Background()
			if s.notifier != nil {
				s.notifier.DispatchStatusChange(ctx, targets, ref, oldStatus, status, sess.Email)
			}
			s.emailStatusChange(ctx, targets, saved, oldStatus, status, sess.Email)
		}()
	}
	return saved, nil
}

// CompleteItem is a convenience wrapper over UpdateStatus.
func (s *Service) CompleteItem(ctx context.Context, itemID string, sess Session) (record.Record, error) {
	return s.UpdateStatus(ctx, itemID, StatusCompleted, sess)
}

// SoftDelete marks an item deleted. It reports false when the item does
// not exist instead of failing.
func (s *Service) SoftDelete(ctx context.Context, itemID string, sess Session) (bool, error) {
	item, err := s.GetItem(ctx, itemID)
	if err != nil {
		// Delete reports false rather than failing; callers treat the
		// result as "is it gone", not as a write receipt.
		var derr *DomainError
		if !errors.As(err, &derr) || derr.Code != "NOT_FOUND" {
			s.logger.Printf("soft delete %s: %v", itemID, err)
		}
		return false, nil
	}

	item["status"] = StatusDeleted
	if _, err := s.SaveItem(ctx, item, sess); err != nil {
		s.logger.Printf("soft delete %s: %v", itemID, err)
		return false, nil
	}

	s.writeAudit(ctx, itemID, "deleted", "", sess.Email, sess.Email)
	if s.searchSvc != nil {
		s.searchSvc.DeleteItem(itemID)
	}
	return true, nil
}

// AssignItem changes an item's assignee. The save's diff audit records
// the change.
func (s *Service) AssignItem(ctx context.Context, itemID, assignee string, sess Session) (record.Record, error) {
	item, err := s.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	item["assignedTo"] = strings.TrimSpace(assignee)
	return s.SaveItem(ctx, item, sess)
}

// Columns clients may write through UpdateField. Identity and provenance
// columns stay server-owned.
var updatableFields = map[string]bool{
	"title": true, "description": true, "status": true, "athenaId": true,
	"assignedTo": true, "tags": true, "mentionedUsers": true,
	"selectedOptions": true, "relatedIds": true, "isRecurring": true,
	"faxSent": true, "visitInfoAttached": true, "facesheetAttached": true,
}

// UpdateField changes a single field. An optional comment is recorded as
// a regular comment on the item.
func (s *Service) UpdateField(ctx context.Context, itemID, field string, value any, comment string, sess Session) (record.Record, error) {
	if !updatableFields[field] {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "field is not updatable", map[string]any{"field": field})
	}

	item, err := s.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	item[field] = value

	saved, err := s.SaveItem(ctx, item, sess)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(comment) != "" {
		if _, err := s.AddComment(ctx, itemID, comment, sess); err != nil {
			s.logger.Printf("update field comment for %s: %v", itemID, err)
		}
	}
	return saved, nil
}

// History returns the audit trail for an item, newest first.
func (s *Service) History(ctx context.Context, itemID string) ([]record.Record, error) {
	data, err := s.loadTable(ctx, tablestore.TableAudit)
	if err != nil {
		return nil, err
	}

	var events []record.Record
	for _, row := range data.Rows {
		event := record.Plain.Decode(data.Headers, row)
		if event.String("actionItemId") == itemID {
			events = append(events, event)
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].String("changedAt") > events[j].String("changedAt")
	})
	return events, nil
}

// Templates returns items flagged as templates.
func (s *Service) Templates(ctx context.Context) ([]record.Record, error) {
	items, err := s.ListItems(ctx, "", true)
	if err != nil {
		return nil, err
	}
	var templates []record.Record
	for _, item := range items {
		if item.Bool("isTemplate") {
			templates = append(templates, item)
		}
	}
	return templates, nil
}

// Columns never copied from a template into the new item.
var templateSkipped = map[string]bool{
	"actionItemId": true, "isTemplate": true, "createdBy": true,
	"createdAt": true, "lastUpdated": true, "lastUpdatedBy": true,
	"approvedBy": true, "approvedAt": true, "completedBy": true,
	"completedAt": true, "status": true,
}

// CreateFromTemplate instantiates a template, applying overrides on top.
func (s *Service) CreateFromTemplate(ctx context.Context, templateID string, overrides record.Record, sess Session) (record.Record, error) {
	tpl, err := s.GetItem(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if !tpl.Bool("isTemplate") {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "item is not a template", nil)
	}

	item := record.Record{}
	for k, v := range tpl {
		if templateSkipped[k] {
			continue
		}
		item[k] = v
	}
	item["templateId"] = templateID
	item["isTemplate"] = false
	for k, v := range overrides {
		item[k] = v
	}
	return s.SaveItem(ctx, item, sess)
}

// GetItemView assembles the export view of an item. Implements
// export.ItemSource.
func (s *Service) GetItemView(ctx context.Context, itemID string) (export.ItemView, error) {
	item, err := s.GetItem(ctx, itemID)
	if err != nil {
		return export.ItemView{}, err
	}

	view := export.ItemView{
		ID:          item.String("actionItemId"),
		Title:       item.String("title"),
		Description: item.String("description"),
		Status:      item.String("status"),
		AthenaID:    item.String("athenaId"),
		AssignedTo:  item.String("assignedTo"),
		Tags:        item.List("tags"),
		CreatedBy:   item.String("createdBy"),
		CreatedAt:   item.String("createdAt"),
	}

	comments, err := s.Comments(ctx, itemID)
	if err != nil {
		return export.ItemView{}, err
	}
	for _, c := range comments {
		view.Comments = append(view.Comments, export.CommentView{
			Author:    c.String("author"),
			Content:   c.String("content"),
			Timestamp: c.String("timestamp"),
		})
	}

	history, err := s.History(ctx, itemID)
	if err != nil {
		return export.ItemView{}, err
	}
	for _, h := range history {
		view.History = append(view.History, export.HistoryView{
			Field:     h.String("fieldChanged"),
			OldValue:  h.String("oldValue"),
			NewValue:  h.String("newValue"),
			ChangedBy: h.String("changedBy"),
			ChangedAt: h.String("changedAt"),
		})
	}
	return view, nil
}

// normalizeStatus maps client casing ("Completed", "In Progress") onto
// the stored vocabulary.
func normalizeStatus(status string) string {
	s := strings.ToLower(strings.TrimSpace(status))
	return strings.ReplaceAll(s, " ", "_")
}
