package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"production-scheduler/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetBalance retrieves the ledger balance for one SKU.
func (s *Store) GetBalance(ctx context.Context, sku string) (*models.SKUBalance, error) {
	var bal models.SKUBalance
	err := s.db.GetContext(ctx, &bal, "SELECT * FROM sku_balances WHERE sku = $1", sku)
	if err == sql.ErrNoRows {
		return nil, &models.UnknownSKUError{SKU: sku}
	}
	if err != nil {
		return nil, err
	}
	return &bal, nil
}

// GetBalances retrieves all ledger balances.
func (s *Store) GetBalances(ctx context.Context) ([]models.SKUBalance, error) {
	var balances []models.SKUBalance
	err := s.db.SelectContext(ctx, &balances, "SELECT * FROM sku_balances ORDER BY sku")
	return balances, err
}

// GetBalancesForSKUs retrieves balances for a set of SKUs.
func (s *Store) GetBalancesForSKUs(ctx context.Context, skus []string) ([]models.SKUBalance, error) {
	if len(skus) == 0 {
		return []models.SKUBalance{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM sku_balances WHERE sku IN (?)", skus)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var balances []models.SKUBalance
	err = s.db.SelectContext(ctx, &balances, query, args...)
	return balances, err
}

// UpsertOnHand sets the on-hand quantity for a SKU, creating the ledger row
// if the SKU is new. Reserved quantities are untouched.
func (s *Store) UpsertOnHand(ctx context.Context, sku string, onHand int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sku_balances (sku, on_hand) VALUES ($1, $2)
		ON CONFLICT (sku) DO UPDATE SET on_hand = $2, updated_at = NOW()`,
		sku, onHand)
	return err
}

// GetModuleLinesByBaseType retrieves open module lines for a base type.
func (s *Store) GetModuleLinesByBaseType(ctx context.Context, baseType string) ([]models.ModuleLine, error) {
	var lines []models.ModuleLine
	err := s.db.SelectContext(ctx, &lines, `
		SELECT ml.* FROM module_lines ml
		JOIN orders o ON o.id = ml.order_id
		WHERE ml.base_type = $1 AND ml.qty_remaining > 0 AND o.cancelled_at IS NULL
		ORDER BY ml.order_id`,
		baseType)
	return lines, err
}

// GetModuleLinesByOrder retrieves all module lines of an order.
func (s *Store) GetModuleLinesByOrder(ctx context.Context, orderID int64) ([]models.ModuleLine, error) {
	var lines []models.ModuleLine
	err := s.db.SelectContext(ctx, &lines,
		"SELECT * FROM module_lines WHERE order_id = $1 ORDER BY base_type", orderID)
	return lines, err
}

// CreateModuleLine inserts a module line for a queued order.
func (s *Store) CreateModuleLine(ctx context.Context, line *models.ModuleLine) error {
	query := `
		INSERT INTO module_lines (order_id, base_type, recipe, qty_ordered, qty_remaining)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, line, query,
		line.OrderID, line.BaseType, line.Recipe, line.QtyOrdered, line.QtyRemaining)
}

// GetArrayDef retrieves the panel geometry for a base type. Returns nil when
// no array is defined, which disables array optimization for that base type.
func (s *Store) GetArrayDef(ctx context.Context, baseType string) (*models.ArrayDef, error) {
	var def models.ArrayDef
	err := s.db.GetContext(ctx, &def, "SELECT * FROM array_defs WHERE base_type = $1", baseType)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &def, nil
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
