// Package tablestore provides generic access to named tables whose schema
// is defined by a header row, mirroring the sheet-shaped storage the rest
// of the system is written against.
package tablestore

import (
	"context"
	"errors"
)

// Table names used by the application.
const (
	TableActionItems   = "actionItems"
	TableOptions       = "actionItemOptions"
	TableAudit         = "actionItemsAudit"
	TableComments      = "actionItemComments"
	TableUsers         = "authorizedUsers"
	TableGroups        = "notificationGroups"
	TableMemberships   = "groupMemberships"
)

var (
	ErrTableNotFound = errors.New("table not found")
	ErrRowNotFound   = errors.New("row not found")
)

// TableData is the full content of one table. Rows excludes the header row;
// row indices elsewhere in the API are 1-based positions into Rows.
type TableData struct {
	Headers []string
	Rows    [][]any
}

type TableStore interface {
	ListRows(ctx context.Context, table string) (TableData, error)
	AppendRow(ctx context.Context, table string, values []any) error
	UpdateRow(ctx context.Context, table string, rowIndex int, values []any) error
	// DeleteRow physically removes a row. Used only for user/group
	// management; action items are soft-deleted via status.
	DeleteRow(ctx context.Context, table string, rowIndex int) error
}

// DefaultHeaders seeds the schema of tables that are created empty.
var DefaultHeaders = map[string][]string{
	TableActionItems: {
		"actionItemId", "title", "description", "status", "athenaId",
		"assignedTo", "tags", "mentionedUsers", "selectedOptions", "relatedIds",
		"isRecurring", "isTemplate", "faxSent", "visitInfoAttached", "facesheetAttached",
		"templateId", "createdBy", "createdAt", "lastUpdated", "lastUpdatedBy",
		"approvedBy", "approvedAt", "completedBy", "completedAt", "comments",
	},
	TableOptions: {
		"categoryLevel1", "categoryLevel2", "categoryLevel3", "categoryLevel4", "categoryLevel5",
		"selectionType", "requiresPatient", "requiresProviderApproval", "allowsRecurrence", "active",
	},
	TableAudit: {
		"actionItemId", "fieldChanged", "oldValue", "newValue", "changedBy", "changedAt",
	},
	TableComments: {
		"commentId", "actionItemId", "author", "content", "timestamp", "mentionedUsers",
	},
	TableUsers: {
		"email", "name", "role", "webhookUrl", "passwordHash",
	},
	TableGroups: {
		"groupId", "groupName", "chatSpaceWebhook",
	},
	TableMemberships: {
		"userEmail", "groupName",
	},
}
