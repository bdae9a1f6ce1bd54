package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"actionitems/api/internal/auth"
	"actionitems/api/internal/authpw"
	"actionitems/api/internal/export"
	"actionitems/api/internal/files"
	"actionitems/api/internal/rbac"
	"actionitems/api/internal/record"
	"actionitems/api/internal/search"
	"actionitems/api/internal/tablestore"
)

type HTTPServer struct {
	service    *Service
	filesSvc   *files.Service // optional
	corsOrigin string
}

func NewHTTPServer(service *Service, filesSvc *files.Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, filesSvc: filesSvc, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) forbid(w http.ResponseWriter) {
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"storage": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["storage"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleAuthSignUp(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleAuthSignIn(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		session, err := s.service.SessionFromToken(token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"email":         session.Email,
			"name":          session.Name,
			"role":          session.Role,
		})
		return
	}

	// Everything below requires a session.
	session, err := s.service.SessionFromToken(bearerToken(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/change-password" {
		s.handleChangePassword(w, r, session)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "items":
		s.handleItems(w, r, session, parts[2:])
	case "templates":
		s.handleTemplates(w, r, session, parts[2:])
	case "options":
		s.handleOptions(w, r, session, parts[2:])
	case "search":
		s.handleSearch(w, r)
	case "activity":
		s.handleActivity(w, r)
	case "users":
		s.handleUsers(w, r, session, parts[2:])
	case "groups":
		s.handleGroups(w, r, session, parts[2:])
	case "attachments":
		s.handleAttachmentURL(w, r, parts[2:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleItems(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	// /api/items
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			useCache := r.URL.Query().Get("refresh") != "1"
			items, err := s.service.ListItems(r.Context(), r.URL.Query().Get("patientId"), useCache)
			if err != nil {
				s.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"items": items})
		case http.MethodPost:
			if !rbac.CanWrite(session.Role) {
				s.forbid(w)
				return
			}
			var body record.Record
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			isNew := body.String("actionItemId") == ""
			item, err := s.service.SaveItem(r.Context(), body, session)
			if err != nil {
				s.writeServiceError(w, err)
				return
			}
			status := http.StatusOK
			if isNew {
				status = http.StatusCreated
			}
			writeJSON(w, status, map[string]any{"item": item})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	itemID := rest[0]

	// /api/items/{id}
	if len(rest) == 1 {
		switch r.Method {
		case http.MethodGet:
			item, err := s.service.GetItem(r.Context(), itemID)
			if err != nil {
				s.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"item": item})
		case http.MethodDelete:
			if !rbac.CanWrite(session.Role) {
				s.forbid(w)
				return
			}
			found, err := s.service.SoftDelete(r.Context(), itemID, session)
			if err != nil {
				s.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"deleted": found})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	// /api/items/{id}/...
	if len(rest) == 2 {
		switch {
		case r.Method == http.MethodPost && rest[1] == "status":
			if !rbac.CanWrite(session.Role) {
				s.forbid(w)
				return
			}
			var body struct {
				Status string `json:"status"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			item, err := s.service.UpdateStatus(r.Context(), itemID, body.Status, session)
			if err != nil {
				s.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"item": item})
			return

		case r.Method == http.MethodPost && rest[1] == "complete":
			if !rbac.CanWrite(session.Role) {
				s.forbid(w)
				return
			}
			item, err := s.service.CompleteItem(r.Context(), itemID, session)
			if err != nil {
				s.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"item": item})
			return

		case r.Method == http.MethodPost && rest[1] == "assign":
			if !rbac.CanWrite(session.Role) {
				s.forbid(w)
				return
			}
			var body struct {
				AssignedTo string `json:"assignedTo"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			item, err := s.service.AssignItem(r.Context(), itemID, body.AssignedTo, session)
			if err != nil {
				s.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"item": item})
			return

		case r.Method == http.MethodPost && rest[1] == "field":
			if !rbac.CanWrite(session.Role) {
				s.forbid(w)
				return
			}
			var body struct {
				Field   string `json:"field"`
				Value   any    `json:"value"`
				Comment string `json:"comment"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			item, err := s.service.UpdateField(r.Context(), itemID, body.Field, body.Value, body.Comment, session)
			if err != nil {
				s.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"item": item})
			return

		case r.Method == http.MethodGet && rest[1] == "history":
			events, err := s.service.History(r.Context(), itemID)
			if err != nil {
				s.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"history": events})
			return

		case r.Method == http.MethodGet && rest[1] == "comments":
			comments, err := s.service.Comments(r.Context(), itemID)
			if err != nil {
				s.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"comments": comments})
			return

		case r.Method == http.MethodPost && rest[1] == "comments":
			if !rbac.CanWrite(session.Role) {
				s.forbid(w)
				return
			}
			var body struct {
				Content string `json:"content"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			comment, err := s.service.AddComment(r.Context(), itemID, body.Content, session)
			if err != nil {
				s.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"comment": comment})
			return

		case r.Method == http.MethodGet && rest[1] == "export":
			s.handleExport(w, r, itemID)
			return

		case rest[1] == "attachments":
			s.handleAttachments(w, r, session, itemID)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, itemID string) {
	if s.service.exportSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export service not configured", nil)
		return
	}

	format := export.Format(r.URL.Query().Get("format"))
	if format == "" {
		format = export.FormatPDF
	}

	result, err := s.service.exportSvc.Export(r.Context(), export.Request{
		ItemID:          itemID,
		Format:          format,
		IncludeComments: r.URL.Query().Get("comments") != "0",
		IncludeHistory:  r.URL.Query().Get("history") != "0",
	})
	if err != nil {
		if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
			writeError(w, http.StatusNotImplemented, "EXPORT_DEPENDENCY_MISSING", err.Error(), nil)
			return
		}
		s.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

const maxAttachmentSize = 25 << 20 // 25 MiB

func (s *HTTPServer) handleAttachments(w http.ResponseWriter, r *http.Request, session Session, itemID string) {
	if s.filesSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "FILES_UNAVAILABLE", "Attachment storage not configured", nil)
		return
	}

	switch r.Method {
	case http.MethodGet:
		attachments, err := s.filesSvc.List(r.Context(), itemID)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		if attachments == nil {
			attachments = []files.Attachment{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"attachments": attachments})

	case http.MethodPost:
		if !rbac.CanWrite(session.Role) {
			s.forbid(w)
			return
		}
		// The item must exist before anything is stored against it.
		if _, err := s.service.GetItem(r.Context(), itemID); err != nil {
			s.writeServiceError(w, err)
			return
		}
		if err := r.ParseMultipartForm(maxAttachmentSize); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid multipart body", nil)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "file field is required", nil)
			return
		}
		defer file.Close()

		contentType := header.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		attachment, err := s.filesSvc.Upload(r.Context(), itemID, header.Filename, contentType, file, header.Size)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"attachment": attachment})

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleAttachmentURL(w http.ResponseWriter, r *http.Request, rest []string) {
	if s.filesSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "FILES_UNAVAILABLE", "Attachment storage not configured", nil)
		return
	}
	if r.Method != http.MethodGet || len(rest) != 1 || rest[0] != "url" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	key := r.URL.Query().Get("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "key is required", nil)
		return
	}
	url, err := s.filesSvc.PresignedGet(r.Context(), key, 15*time.Minute)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": url})
}

func (s *HTTPServer) handleTemplates(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	if r.Method == http.MethodGet && len(rest) == 0 {
		templates, err := s.service.Templates(r.Context())
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"templates": templates})
		return
	}

	if r.Method == http.MethodPost && len(rest) == 2 && rest[1] == "instantiate" {
		if !rbac.CanWrite(session.Role) {
			s.forbid(w)
			return
		}
		var body record.Record
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.CreateFromTemplate(r.Context(), rest[0], body, session)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"item": item})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleOptions(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	if r.Method == http.MethodGet && len(rest) == 0 {
		useCache := r.URL.Query().Get("refresh") != "1"
		catalog, err := s.service.Options(r.Context(), useCache)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, catalog)
		return
	}

	if r.Method == http.MethodPost && len(rest) == 1 && rest[0] == "clear-cache" {
		if !rbac.CanManageUsers(session.Role) {
			s.forbid(w)
			return
		}
		s.service.ClearOptionsCache(r.Context())
		writeJSON(w, http.StatusOK, map[string]any{"cleared": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	resp := s.service.Search(search.Query{
		Text:             q.Get("q"),
		FilterStatus:     q.Get("status"),
		FilterAssignedTo: q.Get("assignedTo"),
		FilterAthenaID:   q.Get("patientId"),
		Limit:            limit,
		Offset:           offset,
	})
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	filter := ActivityFilter{
		Type:  q.Get("type"),
		Query: q.Get("q"),
		Limit: limit,
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "since must be RFC 3339", nil)
			return
		}
		filter.Since = t
	}

	events, err := s.service.Activity(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if events == nil {
		events = []ActivityEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *HTTPServer) handleUsers(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	if r.Method == http.MethodGet && len(rest) == 0 {
		users, err := s.service.Users(r.Context())
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": users})
		return
	}

	if !rbac.CanManageUsers(session.Role) {
		s.forbid(w)
		return
	}

	if r.Method == http.MethodPost && len(rest) == 0 {
		var body record.Record
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		user, err := s.service.UpsertUser(r.Context(), body)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"user": user})
		return
	}

	if r.Method == http.MethodDelete && len(rest) == 1 {
		found, err := s.service.DeleteUser(r.Context(), rest[0])
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": found})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleGroups(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	if r.Method == http.MethodGet && len(rest) == 0 {
		groups, err := s.service.Groups(r.Context())
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
		return
	}

	if r.Method == http.MethodGet && len(rest) == 2 && rest[1] == "members" {
		members, err := s.service.GroupMembers(r.Context(), rest[0])
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		if members == nil {
			members = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"members": members})
		return
	}

	if !rbac.CanManageUsers(session.Role) {
		s.forbid(w)
		return
	}

	if r.Method == http.MethodPost && len(rest) == 0 {
		var body struct {
			GroupName        string `json:"groupName"`
			ChatSpaceWebhook string `json:"chatSpaceWebhook"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		group, err := s.service.CreateGroup(r.Context(), body.GroupName, body.ChatSpaceWebhook)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"group": group})
		return
	}

	if r.Method == http.MethodDelete && len(rest) == 1 {
		found, err := s.service.DeleteGroup(r.Context(), rest[0])
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": found})
		return
	}

	if r.Method == http.MethodPost && len(rest) == 2 && rest[1] == "members" {
		var body struct {
			UserEmail string `json:"userEmail"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.AddGroupMember(r.Context(), rest[0], body.UserEmail); err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"added": true})
		return
	}

	if r.Method == http.MethodDelete && len(rest) == 3 && rest[1] == "members" {
		found, err := s.service.RemoveGroupMember(r.Context(), rest[0], rest[2])
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"removed": found})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// Auth handlers for email/password authentication

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	user, err := authSvc.SignUp(r.Context(), authpw.SignUpRequest{
		Email:    body.Email,
		Password: body.Password,
		Name:     body.Name,
	})
	if err != nil {
		if err.Error() == "email already registered" {
			writeError(w, http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "SIGNUP_FAILED", err.Error(), nil)
		return
	}

	session, err := s.service.IssueSession(user)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"token": session.Token,
		"email": session.Email,
		"name":  session.Name,
		"role":  session.Role,
	})
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	user, err := authSvc.SignIn(r.Context(), authpw.SignInRequest{
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
		return
	}

	session, err := s.service.IssueSession(user)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": session.Token,
		"email": session.Email,
		"name":  session.Name,
		"role":  session.Role,
	})
}

func (s *HTTPServer) handleChangePassword(w http.ResponseWriter, r *http.Request, session Session) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	if err := authSvc.ChangePassword(r.Context(), session.Email, body.CurrentPassword, body.NewPassword); err != nil {
		writeError(w, http.StatusBadRequest, "CHANGE_PASSWORD_FAILED", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changed": true})
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.Printf("internal error: %v", err)
	}
	writeError(w, status, code, message, details)
}

// Middleware and helpers

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

func setCORSHeaders(h http.Header, origin string) {
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
}

func randomRequestID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, tablestore.ErrTableNotFound) || errors.Is(err, tablestore.ErrRowNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
