package export

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
)

// ItemView is the renderable form of an action item.
type ItemView struct {
	ID          string
	Title       string
	Description string
	Status      string
	AthenaID    string
	AssignedTo  string
	Tags        []string
	CreatedBy   string
	CreatedAt   string
	Comments    []CommentView
	History     []HistoryView
}

// CommentView is one rendered comment.
type CommentView struct {
	Author    string
	Content   string
	Timestamp string
}

// HistoryView is one rendered audit entry.
type HistoryView struct {
	Field     string
	OldValue  string
	NewValue  string
	ChangedBy string
	ChangedAt string
}

func renderItemHTML(item ItemView) (string, error) {
	var buf bytes.Buffer
	if err := itemTemplate.Execute(&buf, item); err != nil {
		return "", fmt.Errorf("render item template: %w", err)
	}
	return buf.String(), nil
}

var itemTemplate = template.Must(template.New("item").Funcs(template.FuncMap{
	"join": func(values []string) string { return strings.Join(values, ", ") },
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<title>{{.Title}}</title>
<style>
  body { font-family: Georgia, 'Times New Roman', serif; color: #1a1a1a; max-width: 7in; margin: 0 auto; }
  h1 { font-size: 20pt; border-bottom: 2px solid #1a1a1a; padding-bottom: 6px; }
  h2 { font-size: 13pt; margin-top: 24px; border-bottom: 1px solid #999; padding-bottom: 4px; }
  .meta { color: #555; font-size: 10pt; margin-bottom: 16px; }
  .meta span { margin-right: 16px; }
  .description { white-space: pre-wrap; }
  table { width: 100%; border-collapse: collapse; font-size: 9.5pt; }
  th, td { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; vertical-align: top; }
  th { border-bottom: 1.5px solid #1a1a1a; }
  .comment { margin-bottom: 12px; }
  .comment .who { font-weight: bold; font-size: 10pt; }
  .comment .when { color: #777; font-size: 9pt; }
</style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">
    <span>ID: {{.ID}}</span>
    <span>Status: {{.Status}}</span>
    {{if .AthenaID}}<span>Patient: {{.AthenaID}}</span>{{end}}
    {{if .AssignedTo}}<span>Assigned: {{.AssignedTo}}</span>{{end}}
  </div>
  <div class="meta">
    <span>Created by {{.CreatedBy}}{{if .CreatedAt}} on {{.CreatedAt}}{{end}}</span>
    {{if .Tags}}<span>Tags: {{join .Tags}}</span>{{end}}
  </div>

  {{if .Description}}
  <h2>Description</h2>
  <div class="description">{{.Description}}</div>
  {{end}}

  {{if .Comments}}
  <h2>Comments</h2>
  {{range .Comments}}
  <div class="comment">
    <div><span class="who">{{.Author}}</span> <span class="when">{{.Timestamp}}</span></div>
    <div>{{.Content}}</div>
  </div>
  {{end}}
  {{end}}

  {{if .History}}
  <h2>Change History</h2>
  <table>
    <tr><th>Field</th><th>From</th><th>To</th><th>By</th><th>At</th></tr>
    {{range .History}}
    <tr><td>{{.Field}}</td><td>{{.OldValue}}</td><td>{{.NewValue}}</td><td>{{.ChangedBy}}</td><td>{{.ChangedAt}}</td></tr>
    {{end}}
  </table>
  {{end}}
</body>
</html>`))
