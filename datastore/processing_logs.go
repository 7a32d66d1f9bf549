package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/printflow/printflow/models"
)

// ProcessingLogRepository handles the append-only processing-log stream.
type ProcessingLogRepository struct {
	db *sql.DB
}

// NewProcessingLogRepository creates a new ProcessingLogRepository.
func NewProcessingLogRepository(db *sql.DB) *ProcessingLogRepository {
	return &ProcessingLogRepository{db: db}
}

// Append writes one log entry. orderID may be empty for entries recorded
// before an order row exists.
func (r *ProcessingLogRepository) Append(ctx context.Context, orderID, action, status, errorMessage string) error {
	if action == "" || status == "" {
		return fmt.Errorf("missing required fields for processing log entry")
	}

	query := `
		INSERT INTO processing_logs (id, order_id, timestamp, action, status, error_message)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		uuid.NewString(), nullableString(orderID), time.Now().UTC(),
		action, status, nullableString(errorMessage),
	)
	if err != nil {
		return fmt.Errorf("failed to insert processing log: %w", err)
	}
	return nil
}

// GetLogsByOrderID retrieves the log entries for one order, oldest first.
func (r *ProcessingLogRepository) GetLogsByOrderID(ctx context.Context, orderID string) ([]models.ProcessingLog, error) {
	query := `
		SELECT id, order_id, timestamp, action, status, error_message
		FROM processing_logs
		WHERE order_id = $1
		ORDER BY timestamp ASC
	`
	rows, err := r.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query processing logs: %w", err)
	}
	defer rows.Close()

	return scanLogRows(rows)
}

// GetRecentLogs retrieves the newest entries across all orders.
func (r *ProcessingLogRepository) GetRecentLogs(ctx context.Context, limit int) ([]models.ProcessingLog, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, order_id, timestamp, action, status, error_message
		FROM processing_logs
		ORDER BY timestamp DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent processing logs: %w", err)
	}
	defer rows.Close()

	return scanLogRows(rows)
}

func scanLogRows(rows *sql.Rows) ([]models.ProcessingLog, error) {
	var logs []models.ProcessingLog
	for rows.Next() {
		var entry models.ProcessingLog
		var orderID, errorMessage sql.NullString
		if err := rows.Scan(&entry.ID, &orderID, &entry.Timestamp, &entry.Action, &entry.Status, &errorMessage); err != nil {
			return nil, fmt.Errorf("failed to scan processing log row: %w", err)
		}
		entry.OrderID = orderID.String
		entry.ErrorMessage = errorMessage.String
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating processing log rows: %w", err)
	}
	return logs, nil
}
