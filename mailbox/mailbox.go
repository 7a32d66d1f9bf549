// Package mailbox provides read access to the order intake mailbox.
package mailbox

import (
	"context"
	"fmt"
	"time"
)

// Message is one candidate email pulled from the mailbox. Raw holds the full
// RFC 822 bytes for MIME parsing downstream.
type Message struct {
	UID        string
	MessageID  string
	From       string
	Subject    string
	ReceivedAt time.Time
	Raw        []byte
}

// Mailbox is the connection the poller holds exclusively for one cycle.
type Mailbox interface {
	// ListUnread returns unread messages received at or after since, in
	// mailbox order. Bodies are fetched without setting the seen flag;
	// marking happens explicitly via MarkSeen.
	ListUnread(ctx context.Context, since time.Time) ([]Message, error)
	// MarkSeen flags a message as read so default mail clients agree with
	// the durable processed-message store.
	MarkSeen(ctx context.Context, uid string) error
	Close() error
}

// AuthError indicates a mailbox login failure. The poller treats it as fatal
// for the current cycle only and retries on the next one.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("mailbox authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}
