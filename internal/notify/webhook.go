// Package notify delivers chat webhook notifications for mentions and
// status changes. Delivery is best-effort: failures are reported in the
// result, never as errors that block the triggering write.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
)

// Result records the outcome of one delivery attempt.
type Result struct {
	Email  string `json:"email"`
	Status string `json:"status"` // sent, skipped, timeout, error
	Detail string `json:"detail,omitempty"`
}

// WebhookClient posts card messages to chat webhook URLs.
type WebhookClient struct {
	httpClient *http.Client
	appName    string
}

func NewWebhookClient(appName string) *WebhookClient {
	return &WebhookClient{
		httpClient: &http.Client{},
		appName:    appName,
	}
}

// SendCard posts a card payload to url. The caller's context bounds the
// attempt; there are no retries.
func (c *WebhookClient) SendCard(ctx context.Context, url, requestID, userEmail string, card map[string]any) Result {
	res := Result{Email: userEmail}

	url = strings.TrimSpace(url)
	if url == "" {
		res.Status = "skipped"
		res.Detail = "no webhook URL configured"
		return res
	}
	if !strings.HasPrefix(url, "http") {
		res.Status = "error"
		res.Detail = "invalid webhook URL"
		return res
	}

	body, err := json.Marshal(card)
	if err != nil {
		res.Status = "error"
		res.Detail = fmt.Sprintf("marshal card: %v", err)
		return res
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		res.Status = "error"
		res.Detail = fmt.Sprintf("build request: %v", err)
		return res
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("X-App-Name", c.appName)
	req.Header.Set("X-User-Email", userEmail)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			res.Status = "timeout"
			res.Detail = "delivery timed out"
			return res
		}
		res.Status = "error"
		res.Detail = err.Error()
		return res
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		res.Status = "error"
		res.Detail = fmt.Sprintf("webhook returned %d", resp.StatusCode)
		return res
	}
	res.Status = "sent"
	return res
}

const commentPreviewLimit = 200

// MentionCard builds the card shown when a user is @mentioned.
func MentionCard(fromEmail, itemTitle, commentText, viewURL string) map[string]any {
	if itemTitle == "" {
		itemTitle = "Untitled Action Item"
	}

	widgets := []map[string]any{
		{
			"textParagraph": map[string]any{
				"text": fmt.Sprintf("You were mentioned in: <b>%s</b>", html.EscapeString(itemTitle)),
			},
		},
		{
			"keyValue": map[string]any{
				"topLabel":         "Action Item",
				"content":          itemTitle,
				"contentMultiline": true,
				"button": map[string]any{
					"textButton": map[string]any{
						"text": "VIEW IN ACTION ITEMS",
						"onClick": map[string]any{
							"openLink": map[string]any{"url": viewURL},
						},
					},
				},
			},
		},
	}
	if commentText != "" {
		widgets = append(widgets, map[string]any{
			"textParagraph": map[string]any{
				"text": fmt.Sprintf("<i>%s</i>", html.EscapeString(truncate(commentText, commentPreviewLimit))),
			},
		})
	}

	return map[string]any{
		"cards": []map[string]any{{
			"header": map[string]any{
				"title":    "Mention in Action Item",
				"subtitle": "From: " + fromEmail,
			},
			"sections": []map[string]any{{
				"widgets": widgets,
			}},
		}},
	}
}

// StatusCard builds the card sent when an item changes status.
func StatusCard(changedBy, itemTitle, oldStatus, newStatus, viewURL string) map[string]any {
	if itemTitle == "" {
		itemTitle = "Untitled Action Item"
	}
	return map[string]any{
		"cards": []map[string]any{{
			"header": map[string]any{
				"title":    "Action Item Status Changed",
				"subtitle": "By: " + changedBy,
			},
			"sections": []map[string]any{{
				"widgets": []map[string]any{
					{
						"textParagraph": map[string]any{
							"text": fmt.Sprintf("<b>%s</b>: %s &rarr; %s",
								html.EscapeString(itemTitle),
								html.EscapeString(oldStatus),
								html.EscapeString(newStatus)),
						},
					},
					{
						"keyValue": map[string]any{
							"topLabel":         "Action Item",
							"content":          itemTitle,
							"contentMultiline": true,
							"button": map[string]any{
								"textButton": map[string]any{
									"text": "VIEW IN ACTION ITEMS",
									"onClick": map[string]any{
										"openLink": map[string]any{"url": viewURL},
									},
								},
							},
						},
					},
				},
			}},
		}},
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
