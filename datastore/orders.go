package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/printflow/printflow/models"
)

// ErrDuplicatePO is returned when an order insert collides with an existing
// PO number. Callers treat this as "already processed", not as a failure.
var ErrDuplicatePO = errors.New("order with this PO number already exists")

// OrderRepository handles database operations for orders.
type OrderRepository struct {
	db *sql.DB
}

// NewOrderRepository creates a new OrderRepository.
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `
	id, po_number, order_type, requires_quality_check, customer_name,
	delivery_address, committed_shipping_date, processed_time, email_id,
	status, folder_path
`

// CreateOrder inserts a new order record. The unique index on po_number is
// the idempotency guard: a concurrent or repeated insert of the same PO
// yields ErrDuplicatePO.
func (r *OrderRepository) CreateOrder(ctx context.Context, order *models.Order) error {
	if order.ID == "" || order.PONumber == "" {
		return fmt.Errorf("missing required fields for creating order")
	}
	if _, err := uuid.Parse(order.ID); err != nil {
		return fmt.Errorf("invalid order ID format: %w", err)
	}

	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.ExecContext(ctx, query,
		order.ID, order.PONumber, order.OrderType, order.RequiresQualityCheck,
		order.CustomerName, order.DeliveryAddress, order.CommittedShippingDate,
		order.ProcessedTime, order.EmailID, string(order.Status), order.FolderPath,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicatePO
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func scanOrder(row interface{ Scan(...any) error }) (*models.Order, error) {
	var order models.Order
	var statusStr string
	err := row.Scan(
		&order.ID, &order.PONumber, &order.OrderType, &order.RequiresQualityCheck,
		&order.CustomerName, &order.DeliveryAddress, &order.CommittedShippingDate,
		&order.ProcessedTime, &order.EmailID, &statusStr, &order.FolderPath,
	)
	if err != nil {
		return nil, err
	}
	order.Status = models.OrderStatus(statusStr)
	return &order, nil
}

// GetOrderByID retrieves an order by its ID.
func (r *OrderRepository) GetOrderByID(ctx context.Context, orderID string) (*models.Order, error) {
	if _, err := uuid.Parse(orderID); err != nil {
		return nil, fmt.Errorf("invalid order ID format: %w", err)
	}

	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	order, err := scanOrder(r.db.QueryRowContext(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("order not found: %w", err)
		}
		return nil, fmt.Errorf("failed to get order by ID: %w", err)
	}
	return order, nil
}

// GetOrderByPONumber retrieves an order by its PO number.
// Returns nil, nil if no order exists with that PO number.
func (r *OrderRepository) GetOrderByPONumber(ctx context.Context, poNumber string) (*models.Order, error) {
	if poNumber == "" {
		return nil, fmt.Errorf("PO number cannot be empty")
	}

	query := `SELECT ` + orderColumns + ` FROM orders WHERE po_number = $1 LIMIT 1`
	order, err := scanOrder(r.db.QueryRowContext(ctx, query, poNumber))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// A missing PO is the normal "new order" case, not an error.
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get order by PO number: %w", err)
	}
	return order, nil
}

// GetOrders retrieves orders newest-first with simple offset pagination.
func (r *OrderRepository) GetOrders(ctx context.Context, offset, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		ORDER BY processed_time DESC
		OFFSET $1 LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order row: %w", err)
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order rows: %w", err)
	}
	return orders, nil
}

// GetLatestOrder retrieves the most recently processed order.
// Returns nil, nil when no orders exist.
func (r *OrderRepository) GetLatestOrder(ctx context.Context) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders ORDER BY processed_time DESC LIMIT 1`
	order, err := scanOrder(r.db.QueryRowContext(ctx, query))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest order: %w", err)
	}
	return order, nil
}

// UpdateOrderStatus transitions an order to a new status.
func (r *OrderRepository) UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) error {
	query := `UPDATE orders SET status = $1 WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, string(status), orderID)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("order %s not found for status update", orderID)
	}
	return nil
}

// FailStaleProcessing sweeps orders stranded in "processing" by a crash to
// "failed". Returns the PO numbers of the swept orders.
func (r *OrderRepository) FailStaleProcessing(ctx context.Context, olderThan time.Time) ([]string, error) {
	query := `
		UPDATE orders
		SET status = $1
		WHERE status = $2 AND processed_time < $3
		RETURNING po_number
	`
	rows, err := r.db.QueryContext(ctx, query,
		string(models.OrderStatusFailed), string(models.OrderStatusProcessing), olderThan)
	if err != nil {
		return nil, fmt.Errorf("failed to sweep stale processing orders: %w", err)
	}
	defer rows.Close()

	var poNumbers []string
	for rows.Next() {
		var po string
		if err := rows.Scan(&po); err != nil {
			return nil, fmt.Errorf("failed to scan swept PO number: %w", err)
		}
		poNumbers = append(poNumbers, po)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating swept orders: %w", err)
	}
	return poNumbers, nil
}

// DeleteOrder removes an order and its dependent rows (print jobs,
// attachments, processing logs) in one transaction.
func (r *OrderRepository) DeleteOrder(ctx context.Context, orderID string) error {
	if _, err := uuid.Parse(orderID); err != nil {
		return fmt.Errorf("invalid order ID format: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"attachments", "print_jobs", "processing_logs"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE order_id = $1`, orderID); err != nil {
			return fmt.Errorf("failed to delete %s for order %s: %w", table, orderID, err)
		}
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
	if err != nil {
		return fmt.Errorf("failed to delete order %s: %w", orderID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit order delete: %w", err)
	}
	return nil
}
