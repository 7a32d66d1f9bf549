package models

import "time"

// OrderStatus defines the set of allowed statuses for an Order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusFailed     OrderStatus = "failed"
)

// IsTerminal reports whether the status permits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusFailed
}

// Order is a purchase order extracted from a single inbound email.
// PONumber is the business key: unique among non-deleted orders and the
// idempotency anchor for re-polled messages.
type Order struct {
	ID                    string      `json:"id"`
	PONumber              string      `json:"po_number"`
	OrderType             string      `json:"order_type"`
	RequiresQualityCheck  bool        `json:"requires_quality_check"`
	CustomerName          string      `json:"customer_name"`
	DeliveryAddress       string      `json:"delivery_address"`
	CommittedShippingDate *time.Time  `json:"committed_shipping_date,omitempty"`
	ProcessedTime         time.Time   `json:"processed_time"`
	EmailID               string      `json:"email_id"`
	Status                OrderStatus `json:"status"`
	FolderPath            string      `json:"folder_path"`
}
