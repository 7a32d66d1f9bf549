package models

import "time"

// ProcessingLog is one append-only entry in the processing-log stream.
// OrderID is empty for entries recorded before an order row exists
// (connection failures, parse failures).
type ProcessingLog struct {
	ID           string    `json:"id"`
	OrderID      string    `json:"order_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Action       string    `json:"action"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

const (
	LogStatusSuccess = "success"
	LogStatusFailed  = "failed"
	LogStatusSkipped = "skipped"
)
