package models

import "time"

// ProcessedMessage is the durable seen-message marker: once a row exists for
// a message identifier, re-polling that message never creates another order.
// Written only after the message reached a terminal outcome.
type ProcessedMessage struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	UID       string    `json:"uid"`
	PONumber  string    `json:"po_number,omitempty"`
	Outcome   string    `json:"outcome"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	MessageOutcomeCompleted = "completed"
	MessageOutcomeFailed    = "failed"
	MessageOutcomeSkipped   = "skipped"
)
