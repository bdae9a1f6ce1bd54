package notify

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"actionitems/api/internal/mention"
	"actionitems/api/internal/util"
)

// Recipient is a resolvable notification target.
type Recipient struct {
	Email      string
	Name       string
	WebhookURL string
}

// Directory resolves email addresses to recipients and their group chat
// spaces.
type Directory interface {
	LookupRecipient(ctx context.Context, email string) (Recipient, bool)
	// LookupGroupSpaces returns the chat-space targets of the groups the
	// user belongs to. Email carries the group name for logging.
	LookupGroupSpaces(ctx context.Context, email string) []Recipient
}

// Sender is the delivery transport. *WebhookClient implements it.
type Sender interface {
	SendCard(ctx context.Context, url, requestID, userEmail string, card map[string]any) Result
}

// Dispatcher fans notification deliveries out to recipients. Each
// recipient gets its own goroutine and timeout so one slow webhook never
// delays the rest.
type Dispatcher struct {
	directory Directory
	sender    Sender
	timeout   time.Duration
	baseURL   string
	logger    *log.Logger
}

func NewDispatcher(directory Directory, sender Sender, timeout time.Duration, baseURL string, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		directory: directory,
		sender:    sender,
		timeout:   timeout,
		baseURL:   baseURL,
		logger:    logger,
	}
}

// ItemRef is the slice of an action item the dispatcher needs.
type ItemRef struct {
	ID    string
	Title string
}

// DispatchMentions notifies each mentioned user. Self-mentions are
// delivered too. The returned results are in no particular order.
func (d *Dispatcher) DispatchMentions(ctx context.Context, mentions []string, item ItemRef, commentText, fromEmail string) []Result {
	emails := dedupe(mentions)
	if len(emails) == 0 {
		return nil
	}

	viewURL := d.itemURL(item.ID)
	card := MentionCard(fromEmail, item.Title, commentText, viewURL)

	return d.fanOut(ctx, emails, func(rctx context.Context, r Recipient, requestID string) Result {
		return d.sender.SendCard(rctx, r.WebhookURL, requestID, r.Email, card)
	})
}

// DispatchStatusChange notifies the assignee and mentioned users that an
// item moved. The actor is excluded.
func (d *Dispatcher) DispatchStatusChange(ctx context.Context, targets []string, item ItemRef, oldStatus, newStatus, changedBy string) []Result {
	actor := mention.Normalize(changedBy)
	var filtered []string
	for _, e := range dedupe(targets) {
		if e != actor {
			filtered = append(filtered, e)
		}
	}
	if len(filtered) == 0 {
		return nil
	}

	card := StatusCard(changedBy, item.Title, oldStatus, newStatus, d.itemURL(item.ID))

	results := d.fanOut(ctx, filtered, func(rctx context.Context, r Recipient, requestID string) Result {
		return d.sender.SendCard(rctx, r.WebhookURL, requestID, r.Email, card)
	})
	results = append(results, d.sendToGroupSpaces(ctx, filtered, card)...)
	return results
}

// sendToGroupSpaces delivers one card per distinct chat space across the
// groups of all targets.
func (d *Dispatcher) sendToGroupSpaces(ctx context.Context, targets []string, card map[string]any) []Result {
	seen := make(map[string]bool)
	var spaces []Recipient
	for _, email := range targets {
		for _, space := range d.directory.LookupGroupSpaces(ctx, email) {
			url := strings.TrimSpace(space.WebhookURL)
			if url == "" || seen[url] {
				continue
			}
			seen[url] = true
			spaces = append(spaces, space)
		}
	}
	if len(spaces) == 0 {
		return nil
	}

	results := make([]Result, len(spaces))
	var wg sync.WaitGroup
	for i, space := range spaces {
		wg.Add(1)
		go func(i int, space Recipient) {
			defer wg.Done()
			rctx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()
			results[i] = d.sender.SendCard(rctx, space.WebhookURL, util.NewID("ntf"), space.Email, card)
		}(i, space)
	}
	wg.Wait()

	for _, r := range results {
		if r.Status != "sent" {
			d.logger.Printf("notify: group space %s (%s)", r.Status, r.Detail)
		}
	}
	return results
}

func (d *Dispatcher) fanOut(ctx context.Context, emails []string, send func(context.Context, Recipient, string) Result) []Result {
	results := make([]Result, len(emails))
	var wg sync.WaitGroup
	for i, email := range emails {
		wg.Add(1)
		go func(i int, email string) {
			defer wg.Done()
			requestID := util.NewID("ntf")

			recipient, ok := d.directory.LookupRecipient(ctx, email)
			if !ok {
				results[i] = Result{Email: email, Status: "skipped", Detail: "unknown user"}
				return
			}
			if strings.TrimSpace(recipient.WebhookURL) == "" {
				results[i] = Result{Email: email, Status: "skipped", Detail: "no webhook URL configured"}
				return
			}

			rctx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()
			results[i] = send(rctx, recipient, requestID)
		}(i, email)
	}
	wg.Wait()

	for _, r := range results {
		if r.Status != "sent" {
			d.logger.Printf("notify: %s for %s (%s)", r.Status, r.Email, r.Detail)
		}
	}
	return results
}

func (d *Dispatcher) itemURL(itemID string) string {
	return strings.TrimRight(d.baseURL, "/") + "/items/" + itemID
}

func dedupe(emails []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, e := range emails {
		n := mention.Normalize(e)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
