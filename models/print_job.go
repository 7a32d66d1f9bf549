package models

// PrintJob is one print process line item within an Order, created during
// parsing and never mutated afterward.
type PrintJob struct {
	ID               string  `json:"id"`
	OrderID          string  `json:"order_id"`
	JobType          string  `json:"job_type"`
	TotalPrintLength float64 `json:"total_print_length"`
	GangSheets       int     `json:"gang_sheets"`
}
