package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/printflow/printflow/models"
)

// ProcessedMessageRepository is the durable seen-message store. The poller
// consults it before handling a message and records an entry only after the
// message reached a terminal outcome, so a crash mid-message leaves the
// message eligible for a retry on the next cycle.
type ProcessedMessageRepository struct {
	db *sql.DB
}

// NewProcessedMessageRepository creates a new ProcessedMessageRepository.
func NewProcessedMessageRepository(db *sql.DB) *ProcessedMessageRepository {
	return &ProcessedMessageRepository{db: db}
}

// IsProcessed reports whether a message identifier has already been handled.
func (r *ProcessedMessageRepository) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	if messageID == "" {
		return false, fmt.Errorf("message ID cannot be empty")
	}

	query := `SELECT 1 FROM processed_messages WHERE message_id = $1 LIMIT 1`
	var one int
	err := r.db.QueryRowContext(ctx, query, messageID).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check processed message: %w", err)
	}
	return true, nil
}

// Record marks a message as terminally handled.
func (r *ProcessedMessageRepository) Record(ctx context.Context, msg *models.ProcessedMessage) error {
	if msg.MessageID == "" || msg.Outcome == "" {
		return fmt.Errorf("missing required fields for processed message")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO processed_messages (id, message_id, uid, po_number, outcome, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (message_id) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query,
		msg.ID, msg.MessageID, msg.UID, nullableString(msg.PONumber), msg.Outcome, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record processed message: %w", err)
	}
	return nil
}
