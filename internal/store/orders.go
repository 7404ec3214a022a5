package store

import (
	"context"
	"database/sql"

	"production-scheduler/internal/models"

	"github.com/jmoiron/sqlx"
)

// The orders table is written by the external intake system; the scheduler
// reads it and writes status transitions back.

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, &models.UnknownOrderError{OrderID: id}
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrdersByIDs retrieves multiple orders by ID.
func (s *Store) GetOrdersByIDs(ctx context.Context, ids []int64) ([]models.Order, error) {
	if len(ids) == 0 {
		return []models.Order{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM orders WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var orders []models.Order
	err = s.db.SelectContext(ctx, &orders, query, args...)
	return orders, err
}

// ListOrdersNeeding retrieves active orders that still need modules of the
// given base type.
func (s *Store) ListOrdersNeeding(ctx context.Context, baseType string) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders, `
		SELECT o.* FROM orders o
		JOIN module_lines ml ON ml.order_id = o.id
		WHERE ml.base_type = $1 AND ml.qty_remaining > 0 AND o.cancelled_at IS NULL
		ORDER BY o.id`,
		baseType)
	return orders, err
}

// CreateOrder inserts an order row. Used by the intake worker and tests; the
// production writer is the external order system.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (customer_ref, status, promised_date, manual_expedite, paid_expedite)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, order, query,
		order.CustomerRef, order.Status, order.PromisedDate, order.ManualExpedite, order.PaidExpedite)
}

// MarkOrderStatus writes a status transition back to the order source.
func (s *Store) MarkOrderStatus(ctx context.Context, orderID int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
		status, orderID)
	return err
}

// GetOrderCompletion aggregates built/total module counts across all of an
// order's module lines.
func (s *Store) GetOrderCompletion(ctx context.Context, orderID int64) (*models.OrderCompletion, error) {
	var row struct {
		Total     int `db:"total"`
		Remaining int `db:"remaining"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT COALESCE(SUM(qty_ordered), 0) AS total,
		       COALESCE(SUM(qty_remaining), 0) AS remaining
		FROM module_lines WHERE order_id = $1`,
		orderID)
	if err != nil {
		return nil, err
	}
	if row.Total == 0 {
		if _, err := s.GetOrderByID(ctx, orderID); err != nil {
			return nil, err
		}
	}
	return &models.OrderCompletion{
		OrderID: orderID,
		Built:   row.Total - row.Remaining,
		Total:   row.Total,
	}, nil
}
