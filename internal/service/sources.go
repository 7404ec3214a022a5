package service

import (
	"context"

	"production-scheduler/internal/models"
)

// OrderSource is the external order system as seen by the scheduler: orders
// and their priority inputs are read-only except for status write-backs.
// *store.Store satisfies it against the shared orders table. Warehouse stock
// has no pull interface here; on-hand changes arrive as InventoryUpdated
// events and land in the ledger's on_hand column.
type OrderSource interface {
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrdersByIDs(ctx context.Context, ids []int64) ([]models.Order, error)
	ListOrdersNeeding(ctx context.Context, baseType string) ([]models.Order, error)
	MarkOrderStatus(ctx context.Context, orderID int64, status string) error
}
