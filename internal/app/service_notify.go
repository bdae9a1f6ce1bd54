package app

import (
	"context"
	"strings"

	"actionitems/api/internal/email"
	"actionitems/api/internal/mention"
	"actionitems/api/internal/record"
)

const appDisplayName = "Action Items"

// emailMentions mirrors the webhook mention dispatch over SMTP. Failures
// only log; email is best-effort alongside the webhooks.
func (s *Service) emailMentions(ctx context.Context, mentions []string, item record.Record, commentText, author string) {
	if !s.SMTPConfigured() {
		return
	}
	url := s.itemURL(item.String("actionItemId"))
	for _, addr := range dedupeEmails(mentions) {
		user, err := s.GetUserByEmail(ctx, addr)
		if err != nil {
			continue
		}
		data := email.MentionData{
			AppName:     appDisplayName,
			UserName:    displayName(user.Name, addr),
			Author:      author,
			ItemTitle:   item.String("title"),
			ItemStatus:  item.String("status"),
			CommentText: commentText,
			ItemURL:     url,
		}
		if err := s.emailSvc.SendMentionEmail(addr, data); err != nil {
			s.logger.Printf("mention email to %s: %v", addr, err)
		}
	}
}

// emailStatusChange mirrors the webhook status dispatch over SMTP,
// excluding the actor.
func (s *Service) emailStatusChange(ctx context.Context, targets []string, item record.Record, oldStatus, newStatus, changedBy string) {
	if !s.SMTPConfigured() {
		return
	}
	actor := mention.Normalize(changedBy)
	url := s.itemURL(item.String("actionItemId"))
	for _, addr := range dedupeEmails(targets) {
		if addr == actor {
			continue
		}
		user, err := s.GetUserByEmail(ctx, addr)
		if err != nil {
			continue
		}
		data := email.StatusChangeData{
			AppName:   appDisplayName,
			UserName:  displayName(user.Name, addr),
			ItemTitle: item.String("title"),
			OldStatus: oldStatus,
			NewStatus: newStatus,
			ChangedBy: changedBy,
			ItemURL:   url,
		}
		if err := s.emailSvc.SendStatusChangeEmail(addr, data); err != nil {
			s.logger.Printf("status email to %s: %v", addr, err)
		}
	}
}

func (s *Service) itemURL(itemID string) string {
	return strings.TrimRight(s.cfg.AppBaseURL, "/") + "/items/" + itemID
}

func dedupeEmails(addrs []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range addrs {
		n := mention.Normalize(a)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func displayName(name, fallback string) string {
	if strings.TrimSpace(name) != "" {
		return name
	}
	return fallback
}
