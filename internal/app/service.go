// Package app holds the action item service and its HTTP surface.
package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"actionitems/api/internal/auth"
	"actionitems/api/internal/authpw"
	"actionitems/api/internal/cache"
	"actionitems/api/internal/config"
	"actionitems/api/internal/email"
	"actionitems/api/internal/export"
	"actionitems/api/internal/notify"
	"actionitems/api/internal/rbac"
	"actionitems/api/internal/record"
	"actionitems/api/internal/search"
	"actionitems/api/internal/tablestore"
	"actionitems/api/internal/util"
)

// Canonical item statuses. Writers normalize whatever casing clients
// send; free-form statuses beyond these are allowed.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusDeleted    = "deleted"
)

// Cache entry names shared by readers and the writers that invalidate them.
const (
	cacheKeyItems   = "items"
	cacheKeyOptions = "options"
)

type Session struct {
	Token     string
	Email     string
	Name      string
	Role      string
	JTI       string
	ExpiresAt time.Time
}

// notifier is the delivery fan-out; *notify.Dispatcher implements it.
type notifier interface {
	DispatchMentions(ctx context.Context, mentions []string, item notify.ItemRef, commentText, fromEmail string) []notify.Result
	DispatchStatusChange(ctx context.Context, targets []string, item notify.ItemRef, oldStatus, newStatus, changedBy string) []notify.Result
}

// Service wires the table store, cache, and side-effect subsystems behind
// the operations the HTTP layer exposes.
type Service struct {
	tables    tablestore.TableStore
	cache     *cache.Store     // optional
	notifier  notifier         // optional
	searchSvc *search.Service  // optional
	exportSvc *export.Service  // optional
	emailSvc  *email.Service   // optional
	authSvc   *authpw.Service  // optional
	cfg       config.Config
	logger    *log.Logger

	now func() time.Time
}

func NewService(tables tablestore.TableStore, cfg config.Config, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		tables: tables,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

func (s *Service) WithCache(c *cache.Store) *Service          { s.cache = c; return s }
func (s *Service) WithNotifier(n notifier) *Service           { s.notifier = n; return s }
func (s *Service) WithSearch(sv *search.Service) *Service     { s.searchSvc = sv; return s }
func (s *Service) WithExport(ex *export.Service) *Service     { s.exportSvc = ex; return s }
func (s *Service) WithEmail(em *email.Service) *Service       { s.emailSvc = em; return s }
func (s *Service) WithAuthPassword(a *authpw.Service) *Service { s.authSvc = a; return s }

// AuthPasswordService exposes the optional password auth subsystem.
func (s *Service) AuthPasswordService() *authpw.Service { return s.authSvc }

// SMTPConfigured reports whether outbound email is available.
func (s *Service) SMTPConfigured() bool {
	return s.emailSvc != nil && s.emailSvc.IsConfigured()
}

// Ping verifies primary storage is reachable.
func (s *Service) Ping(ctx context.Context) error {
	_, err := s.tables.ListRows(ctx, tablestore.TableUsers)
	if errors.Is(err, tablestore.ErrTableNotFound) {
		return nil
	}
	return err
}

// IssueSession builds a signed access token for an authenticated user.
func (s *Service) IssueSession(user authpw.User) (Session, error) {
	expiresAt := s.now().Add(s.cfg.AccessTTL)
	claims := auth.Claims{
		Sub:  user.Email,
		Name: user.Name,
		Role: rbac.Normalize(user.Role),
		JTI:  util.NewID("jti"),
		Exp:  expiresAt.Unix(),
	}
	token, err := auth.Sign([]byte(s.cfg.JWTSecret), claims)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		Email:     user.Email,
		Name:      user.Name,
		Role:      claims.Role,
		JTI:       claims.JTI,
		ExpiresAt: expiresAt,
	}, nil
}

// SessionFromToken validates an access token and rebuilds the session.
func (s *Service) SessionFromToken(token string) (Session, error) {
	claims, err := auth.Verify([]byte(s.cfg.JWTSecret), token, s.now())
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		Email:     claims.Sub,
		Name:      claims.Name,
		Role:      rbac.Normalize(claims.Role),
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// loadTable fetches a table, treating an absent table as empty. The
// front-end predates the schema bootstrap and expects empty lists, not
// errors, while tables are still being provisioned.
func (s *Service) loadTable(ctx context.Context, table string) (tablestore.TableData, error) {
	data, err := s.tables.ListRows(ctx, table)
	if errors.Is(err, tablestore.ErrTableNotFound) {
		return tablestore.TableData{}, nil
	}
	return data, err
}

// findRow locates a row by the value of keyColumn. The returned index is
// 1-based, matching TableStore row addressing.
func findRow(data tablestore.TableData, keyColumn, value string) (int, []any) {
	col := -1
	for i, h := range data.Headers {
		if h == keyColumn {
			col = i
			break
		}
	}
	if col < 0 {
		return 0, nil
	}
	for i, row := range data.Rows {
		if col < len(row) && record.Text(row[col]) == value {
			return i + 1, row
		}
	}
	return 0, nil
}

// invalidate drops cache entries after a write. Synchronous so readers
// that follow a write never see stale data; failures only log.
func (s *Service) invalidate(ctx context.Context, names ...string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, names...); err != nil {
		s.logger.Printf("cache invalidate %v: %v", names, err)
	}
}

// writeAudit appends one field change to the audit trail. Audit failures
// log but never fail the triggering write.
func (s *Service) writeAudit(ctx context.Context, itemID, field, oldValue, newValue, changedBy string) {
	row := record.Plain.Encode(auditHeaders(), record.Record{
		"actionItemId": itemID,
		"fieldChanged": field,
		"oldValue":     oldValue,
		"newValue":     newValue,
		"changedBy":    changedBy,
		"changedAt":    s.now().UTC().Format(time.RFC3339),
	})
	if err := s.tables.AppendRow(ctx, tablestore.TableAudit, row); err != nil {
		s.logger.Printf("audit append for %s.%s: %v", itemID, field, err)
	}
}

func auditHeaders() []string {
	return tablestore.DefaultHeaders[tablestore.TableAudit]
}

// notFound is the standard missing-item error.
func notFound(what string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", what+" not found", nil)
}
