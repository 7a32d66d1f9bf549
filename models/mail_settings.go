package models

import (
	"strings"
	"time"
)

// MailSettings holds the mailbox connection and polling parameters. A single
// row, editable through the API and re-read at the top of each poll cycle.
type MailSettings struct {
	ID             string    `json:"id"`
	EmailAddress   string    `json:"email_address"`
	EmailPassword  string    `json:"-"`
	IMAPServer     string    `json:"imap_server"`
	AllowedSenders string    `json:"allowed_senders"`
	MaxAgeDays     int       `json:"max_age_days"`
	PollInterval   int       `json:"poll_interval_seconds"`
	LastUpdated    time.Time `json:"last_updated"`
}

// AllowedSenderList splits the comma-separated allow list into trimmed,
// lowercased addresses. An empty list admits no senders.
func (s *MailSettings) AllowedSenderList() []string {
	if strings.TrimSpace(s.AllowedSenders) == "" {
		return nil
	}
	parts := strings.Split(s.AllowedSenders, ",")
	senders := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.ToLower(strings.TrimSpace(p)); trimmed != "" {
			senders = append(senders, trimmed)
		}
	}
	return senders
}

// SenderAllowed reports whether the given address matches the allow list.
// Matching is a case-insensitive substring check so that both bare addresses
// and "Name <addr>" forms are accepted.
func (s *MailSettings) SenderAllowed(from string) bool {
	lowered := strings.ToLower(from)
	for _, allowed := range s.AllowedSenderList() {
		if strings.Contains(lowered, allowed) {
			return true
		}
	}
	return false
}
