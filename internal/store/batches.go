package store

import (
	"context"
	"database/sql"
	"fmt"

	"production-scheduler/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreateBatchTx inserts a draft batch with its entries in one transaction.
func (s *Store) CreateBatchTx(ctx context.Context, baseType string, entries []models.BatchEntryData) (*models.Batch, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var batch models.Batch
	err = tx.GetContext(ctx, &batch, `
		INSERT INTO batches (base_type, state)
		VALUES ($1, 'DRAFT')
		RETURNING *`,
		baseType)
	if err != nil {
		return nil, wrapTxErr("create_batch", err)
	}

	for i, e := range entries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO batch_entries (batch_id, order_id, position, qty)
			VALUES ($1, $2, $3, $4)`,
			batch.ID, e.OrderID, i, e.Qty); err != nil {
			return nil, wrapTxErr("create_batch", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapTxErr("create_batch", err)
	}
	return &batch, nil
}

// GetBatch retrieves a batch and its entries in composition order.
func (s *Store) GetBatch(ctx context.Context, batchID int64) (*models.Batch, []models.BatchEntry, error) {
	var batch models.Batch
	err := s.db.GetContext(ctx, &batch, "SELECT * FROM batches WHERE id = $1", batchID)
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("batch not found: %d", batchID)
	}
	if err != nil {
		return nil, nil, err
	}

	var entries []models.BatchEntry
	err = s.db.SelectContext(ctx, &entries,
		"SELECT * FROM batch_entries WHERE batch_id = $1 ORDER BY position", batchID)
	if err != nil {
		return nil, nil, err
	}
	return &batch, entries, nil
}

// GetBatchesByStates lists batches currently in any of the given states.
func (s *Store) GetBatchesByStates(ctx context.Context, states []string) ([]models.Batch, error) {
	query, args, err := sqlx.In("SELECT * FROM batches WHERE state IN (?) ORDER BY id", states)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var batches []models.Batch
	err = s.db.SelectContext(ctx, &batches, query, args...)
	return batches, err
}

// TransitionBatchState moves a batch from one of the expected states to a
// new one, bumping last_activity. A state mismatch means another caller won
// the race.
func (s *Store) TransitionBatchState(ctx context.Context, batchID int64, to string, from ...string) error {
	query, args, err := sqlx.In(
		"UPDATE batches SET state = ?, last_activity = NOW() WHERE id = ? AND state IN (?)",
		to, batchID, from)
	if err != nil {
		return err
	}
	query = s.db.Rebind(query)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return wrapTxErr("batch_transition", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := s.db.GetContext(ctx, &exists,
			"SELECT EXISTS(SELECT 1 FROM batches WHERE id = $1)", batchID); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("batch not found: %d", batchID)
		}
		return &models.ConcurrentModificationError{Op: "batch_transition"}
	}
	return nil
}

// TouchBatch refreshes a batch's last_activity timestamp.
func (s *Store) TouchBatch(ctx context.Context, batchID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE batches SET last_activity = NOW() WHERE id = $1", batchID)
	return err
}

// CompleteBatchTx transitions an active batch to complete, decrements each
// entry's module-line remaining quantity, and consumes the batch's hard locks
// (stock physically left the shelf, so on-hand decrements with the lock), all
// in one transaction. Returns the ids of orders whose aggregate remaining
// quantity reached zero with this batch and the SKUs whose balances moved.
func (s *Store) CompleteBatchTx(ctx context.Context, batchID int64) ([]int64, []string, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	var batch models.Batch
	err = tx.GetContext(ctx, &batch,
		"SELECT * FROM batches WHERE id = $1 FOR UPDATE", batchID)
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("batch not found: %d", batchID)
	}
	if err != nil {
		return nil, nil, wrapTxErr("complete_batch", err)
	}
	if batch.State != models.BatchStateActive {
		return nil, nil, &models.ConcurrentModificationError{Op: "complete_batch"}
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE batches SET state = $1, last_activity = NOW() WHERE id = $2",
		models.BatchStateComplete, batchID); err != nil {
		return nil, nil, wrapTxErr("complete_batch", err)
	}

	var entries []models.BatchEntry
	if err := tx.SelectContext(ctx, &entries,
		"SELECT * FROM batch_entries WHERE batch_id = $1 ORDER BY position", batchID); err != nil {
		return nil, nil, wrapTxErr("complete_batch", err)
	}

	var completed []int64
	for _, e := range entries {
		// Entry quantities were validated against qty_remaining at finalize;
		// the qty_remaining >= 0 check backstops any race since.
		if _, err := tx.ExecContext(ctx, `
			UPDATE module_lines
			SET qty_remaining = qty_remaining - $1, updated_at = NOW()
			WHERE order_id = $2 AND base_type = $3`,
			e.Qty, e.OrderID, batch.BaseType); err != nil {
			return nil, nil, wrapTxErr("complete_batch", err)
		}

		var remaining int
		if err := tx.GetContext(ctx, &remaining, `
			SELECT COALESCE(SUM(qty_remaining), 0) FROM module_lines WHERE order_id = $1`,
			e.OrderID); err != nil {
			return nil, nil, wrapTxErr("complete_batch", err)
		}
		if remaining == 0 {
			completed = append(completed, e.OrderID)
		}
	}

	holds, err := s.lockedReservations(ctx, tx, batchID)
	if err != nil {
		return nil, nil, wrapTxErr("complete_batch", err)
	}

	skuSet := make(map[string]bool, len(holds))
	var skus []string
	for _, h := range holds {
		if _, err := tx.ExecContext(ctx, `
			UPDATE sku_balances
			SET on_hand = on_hand - $1, hard_locked = hard_locked - $1, updated_at = NOW()
			WHERE sku = $2`,
			h.Qty, h.SKU); err != nil {
			return nil, nil, wrapTxErr("complete_batch", err)
		}
		if !skuSet[h.SKU] {
			skuSet[h.SKU] = true
			skus = append(skus, h.SKU)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM reservations WHERE batch_id = $1 AND tier = 'HARD'", batchID); err != nil {
		return nil, nil, wrapTxErr("complete_batch", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, wrapTxErr("complete_batch", err)
	}
	return completed, skus, nil
}
