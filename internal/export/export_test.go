package export

import (
	"strings"
	"testing"
)

func TestRenderItemHTML(t *testing.T) {
	html, err := renderItemHTML(ItemView{
		ID:          "AI-1700000000000",
		Title:       "Fax pharmacy refill",
		Description: "Send refill request\nto CVS on Main St.",
		Status:      "pending",
		AthenaID:    "12345",
		AssignedTo:  "alice@rezilienthealth.com",
		Tags:        []string{"fax", "pharmacy"},
		CreatedBy:   "carol@rezilienthealth.com",
		CreatedAt:   "2026-03-14T09:30:00Z",
		Comments: []CommentView{
			{Author: "bob@rezilienthealth.com", Content: "Sent first page", Timestamp: "2026-03-14T10:00:00Z"},
		},
		History: []HistoryView{
			{Field: "status", OldValue: "pending", NewValue: "in_progress", ChangedBy: "bob@rezilienthealth.com", ChangedAt: "2026-03-14T10:01:00Z"},
		},
	})
	if err != nil {
		t.Fatalf("renderItemHTML failed: %v", err)
	}

	for _, want := range []string{
		"Fax pharmacy refill",
		"AI-1700000000000",
		"Patient: 12345",
		"fax, pharmacy",
		"Sent first page",
		"in_progress",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered HTML missing %q", want)
		}
	}
}

func TestRenderItemHTMLEscapes(t *testing.T) {
	html, err := renderItemHTML(ItemView{
		ID:    "AI-1",
		Title: `<script>alert("x")</script>`,
	})
	if err != nil {
		t.Fatalf("renderItemHTML failed: %v", err)
	}
	if strings.Contains(html, "<script>alert") {
		t.Errorf("title not escaped")
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Fax pharmacy refill", "Fax-pharmacy-refill"},
		{"été & više!", "t--vie"},
		{"", "action-item"},
		{strings.Repeat("a", 80), strings.Repeat("a", 50)},
	}
	for _, c := range cases {
		if got := sanitizeFilename(c.in); got != c.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	got := percentEncodeForDataURL("a b<c>")
	if got != "a%20b%3Cc%3E" {
		t.Errorf("percentEncodeForDataURL = %q", got)
	}
}
