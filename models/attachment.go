package models

// PrintStatus defines the set of allowed print statuses for an Attachment.
type PrintStatus string

const (
	PrintStatusPending PrintStatus = "pending"
	PrintStatusPrinted PrintStatus = "printed"
	PrintStatusFailed  PrintStatus = "failed"
)

// Attachment is a file belonging to an Order: a downloaded gang sheet, an
// inline email attachment, or the synthetic email-body document. PDFPath is
// empty when no converted label document exists for the file.
type Attachment struct {
	ID          string      `json:"id"`
	OrderID     string      `json:"order_id"`
	FileName    string      `json:"file_name"`
	FilePath    string      `json:"file_path"`
	PDFPath     string      `json:"pdf_path,omitempty"`
	FileType    string      `json:"file_type"`
	PrintStatus PrintStatus `json:"print_status"`
	SheetType   string      `json:"sheet_type,omitempty"`
	SheetNumber int         `json:"sheet_number,omitempty"`
}
