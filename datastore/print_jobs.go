package datastore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/printflow/printflow/models"
)

// PrintJobRepository handles database operations for print jobs.
type PrintJobRepository struct {
	db *sql.DB
}

// NewPrintJobRepository creates a new PrintJobRepository.
func NewPrintJobRepository(db *sql.DB) *PrintJobRepository {
	return &PrintJobRepository{db: db}
}

// CreatePrintJob inserts a new print job record.
func (r *PrintJobRepository) CreatePrintJob(ctx context.Context, job *models.PrintJob) error {
	if job.ID == "" || job.OrderID == "" || job.JobType == "" {
		return fmt.Errorf("missing required fields for creating print job")
	}
	if _, err := uuid.Parse(job.ID); err != nil {
		return fmt.Errorf("invalid print job ID format: %w", err)
	}

	query := `
		INSERT INTO print_jobs (id, order_id, job_type, total_print_length, gang_sheets)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query,
		job.ID, job.OrderID, job.JobType, job.TotalPrintLength, job.GangSheets,
	)
	if err != nil {
		return fmt.Errorf("failed to insert print job: %w", err)
	}
	return nil
}

// GetPrintJobsByOrderID retrieves all print jobs for an order.
func (r *PrintJobRepository) GetPrintJobsByOrderID(ctx context.Context, orderID string) ([]models.PrintJob, error) {
	query := `
		SELECT id, order_id, job_type, total_print_length, gang_sheets
		FROM print_jobs
		WHERE order_id = $1
	`
	rows, err := r.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query print jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.PrintJob
	for rows.Next() {
		var job models.PrintJob
		if err := rows.Scan(&job.ID, &job.OrderID, &job.JobType, &job.TotalPrintLength, &job.GangSheets); err != nil {
			return nil, fmt.Errorf("failed to scan print job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating print job rows: %w", err)
	}
	return jobs, nil
}
