package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/printflow/printflow/models"
)

// AttachmentRepository handles database operations for attachments.
type AttachmentRepository struct {
	db *sql.DB
}

// NewAttachmentRepository creates a new AttachmentRepository.
func NewAttachmentRepository(db *sql.DB) *AttachmentRepository {
	return &AttachmentRepository{db: db}
}

const attachmentColumns = `
	id, order_id, file_name, file_path, pdf_path, file_type,
	print_status, sheet_type, sheet_number
`

// CreateAttachment inserts a new attachment record.
func (r *AttachmentRepository) CreateAttachment(ctx context.Context, att *models.Attachment) error {
	if att.ID == "" || att.OrderID == "" || att.FileName == "" || att.FilePath == "" {
		return fmt.Errorf("missing required fields for creating attachment")
	}
	if _, err := uuid.Parse(att.ID); err != nil {
		return fmt.Errorf("invalid attachment ID format: %w", err)
	}

	query := `
		INSERT INTO attachments (` + attachmentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		att.ID, att.OrderID, att.FileName, att.FilePath, nullableString(att.PDFPath),
		att.FileType, string(att.PrintStatus), nullableString(att.SheetType), att.SheetNumber,
	)
	if err != nil {
		return fmt.Errorf("failed to insert attachment: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func scanAttachment(row interface{ Scan(...any) error }) (*models.Attachment, error) {
	var att models.Attachment
	var pdfPath, sheetType sql.NullString
	var sheetNumber sql.NullInt64
	var statusStr string
	err := row.Scan(
		&att.ID, &att.OrderID, &att.FileName, &att.FilePath, &pdfPath,
		&att.FileType, &statusStr, &sheetType, &sheetNumber,
	)
	if err != nil {
		return nil, err
	}
	att.PDFPath = pdfPath.String
	att.SheetType = sheetType.String
	att.SheetNumber = int(sheetNumber.Int64)
	att.PrintStatus = models.PrintStatus(statusStr)
	return &att, nil
}

// GetAttachmentByID retrieves an attachment by its ID.
func (r *AttachmentRepository) GetAttachmentByID(ctx context.Context, attachmentID string) (*models.Attachment, error) {
	if _, err := uuid.Parse(attachmentID); err != nil {
		return nil, fmt.Errorf("invalid attachment ID format: %w", err)
	}

	query := `SELECT ` + attachmentColumns + ` FROM attachments WHERE id = $1`
	att, err := scanAttachment(r.db.QueryRowContext(ctx, query, attachmentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("attachment not found: %w", err)
		}
		return nil, fmt.Errorf("failed to get attachment by ID: %w", err)
	}
	return att, nil
}

// GetAttachmentsByOrderID retrieves all attachments for an order.
func (r *AttachmentRepository) GetAttachmentsByOrderID(ctx context.Context, orderID string) ([]models.Attachment, error) {
	query := `
		SELECT ` + attachmentColumns + `
		FROM attachments
		WHERE order_id = $1
		ORDER BY sheet_type, sheet_number
	`
	rows, err := r.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attachments: %w", err)
	}
	defer rows.Close()

	var attachments []models.Attachment
	for rows.Next() {
		att, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attachment row: %w", err)
		}
		attachments = append(attachments, *att)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attachment rows: %w", err)
	}
	return attachments, nil
}

// UpdatePrintStatus records the outcome of a printer submission.
func (r *AttachmentRepository) UpdatePrintStatus(ctx context.Context, attachmentID string, status models.PrintStatus) error {
	query := `UPDATE attachments SET print_status = $1 WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, string(status), attachmentID)
	if err != nil {
		return fmt.Errorf("failed to update attachment print status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
