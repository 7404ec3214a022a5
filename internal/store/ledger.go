package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"production-scheduler/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// LockLine is one (order, sku, qty) requirement of a batch hard lock.
type LockLine struct {
	OrderID int64
	SKU     string
	Qty     int
}

// wrapTxErr converts postgres serialization and deadlock failures into
// ConcurrentModificationError so callers retry with a fresh snapshot.
func wrapTxErr(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code == "40001" || pqErr.Code == "40P01" {
			return &models.ConcurrentModificationError{Op: op}
		}
	}
	return err
}

// lockBalance reads a balance row under FOR UPDATE.
func lockBalance(ctx context.Context, tx *sqlx.Tx, sku string) (*models.SKUBalance, error) {
	var bal models.SKUBalance
	err := tx.GetContext(ctx, &bal,
		"SELECT * FROM sku_balances WHERE sku = $1 FOR UPDATE", sku)
	if err == sql.ErrNoRows {
		return nil, &models.UnknownSKUError{SKU: sku}
	}
	if err != nil {
		return nil, err
	}
	return &bal, nil
}

// addSoftReservation merges qty into the (order, sku) soft reservation row,
// creating it when absent.
func addSoftReservation(ctx context.Context, tx *sqlx.Tx, orderID int64, sku string, qty int) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE reservations SET qty = qty + $1, updated_at = NOW()
		WHERE order_id = $2 AND sku = $3 AND tier = 'SOFT'`,
		qty, orderID, sku)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO reservations (sku, order_id, qty, tier)
			VALUES ($1, $2, $3, 'SOFT')`,
			sku, orderID, qty)
	}
	return err
}

// takeSoftReservation removes up to qty from the (order, sku) soft
// reservation and returns how much was actually taken. Postgres rejects
// locking clauses on aggregates; every caller already holds the SKU's
// sku_balances row lock, which serializes all soft-pool access for that SKU.
func takeSoftReservation(ctx context.Context, tx *sqlx.Tx, orderID int64, sku string, qty int) (int, error) {
	var held int
	err := tx.GetContext(ctx, &held, `
		SELECT COALESCE(SUM(qty), 0) FROM reservations
		WHERE order_id = $1 AND sku = $2 AND tier = 'SOFT'`,
		orderID, sku)
	if err != nil {
		return 0, err
	}
	take := qty
	if take > held {
		take = held
	}
	if take == 0 {
		return 0, nil
	}
	if take == held {
		_, err = tx.ExecContext(ctx,
			"DELETE FROM reservations WHERE order_id = $1 AND sku = $2 AND tier = 'SOFT'",
			orderID, sku)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE reservations SET qty = qty - $1, updated_at = NOW()
			WHERE order_id = $2 AND sku = $3 AND tier = 'SOFT'`,
			take, orderID, sku)
	}
	return take, err
}

// SoftReserveTx claims free stock for an order as a soft reservation.
func (s *Store) SoftReserveTx(ctx context.Context, orderID int64, sku string, qty int) error {
	if qty <= 0 {
		return &models.InvalidCompositionError{Reason: fmt.Sprintf("non-positive quantity %d", qty)}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	bal, err := lockBalance(ctx, tx, sku)
	if err != nil {
		return wrapTxErr("soft_reserve", err)
	}

	if bal.Free() < qty {
		return &models.ShortageError{Lines: []models.ShortageLine{
			{SKU: sku, Required: qty, Free: bal.Free()},
		}}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sku_balances SET soft_reserved = soft_reserved + $1, updated_at = NOW()
		WHERE sku = $2`, qty, sku); err != nil {
		return wrapTxErr("soft_reserve", err)
	}

	if err := addSoftReservation(ctx, tx, orderID, sku, qty); err != nil {
		return wrapTxErr("soft_reserve", err)
	}

	return wrapTxErr("soft_reserve", tx.Commit())
}

// ReleaseSoftTx returns part of an order's soft reservation to the free pool.
func (s *Store) ReleaseSoftTx(ctx context.Context, orderID int64, sku string, qty int) error {
	if qty <= 0 {
		return &models.InvalidCompositionError{Reason: fmt.Sprintf("non-positive quantity %d", qty)}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := lockBalance(ctx, tx, sku); err != nil {
		return wrapTxErr("release_soft", err)
	}

	taken, err := takeSoftReservation(ctx, tx, orderID, sku, qty)
	if err != nil {
		return wrapTxErr("release_soft", err)
	}
	if taken < qty {
		return &models.InvalidCompositionError{
			Reason: fmt.Sprintf("order %d holds only %d soft of %s, cannot release %d", orderID, taken, sku, qty),
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sku_balances SET soft_reserved = soft_reserved - $1, updated_at = NOW()
		WHERE sku = $2`, qty, sku); err != nil {
		return wrapTxErr("release_soft", err)
	}

	return wrapTxErr("release_soft", tx.Commit())
}

// ReallocateTx moves soft-reserved quantity between two orders. Hard locks
// are never touched and the source order is never driven below zero.
func (s *Store) ReallocateTx(ctx context.Context, fromOrder, toOrder int64, sku string, qty int) error {
	if qty <= 0 {
		return &models.InvalidCompositionError{Reason: fmt.Sprintf("non-positive quantity %d", qty)}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := lockBalance(ctx, tx, sku); err != nil {
		return wrapTxErr("reallocate", err)
	}

	var exists bool
	if err := tx.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1 AND cancelled_at IS NULL)", toOrder); err != nil {
		return wrapTxErr("reallocate", err)
	}
	if !exists {
		return &models.UnknownOrderError{OrderID: toOrder}
	}

	taken, err := takeSoftReservation(ctx, tx, fromOrder, sku, qty)
	if err != nil {
		return wrapTxErr("reallocate", err)
	}
	if taken < qty {
		return &models.InvalidCompositionError{
			Reason: fmt.Sprintf("order %d holds only %d soft of %s, cannot move %d", fromOrder, taken, sku, qty),
		}
	}

	if err := addSoftReservation(ctx, tx, toOrder, sku, qty); err != nil {
		return wrapTxErr("reallocate", err)
	}

	return wrapTxErr("reallocate", tx.Commit())
}

// HardLockBatchTx promotes the batch's component requirements to hard locks
// and flips the batch from draft to active, all-or-nothing in one
// transaction. Each line draws from its order's soft pool first and from free
// stock for the remainder. Any deficit rolls the whole lock back, leaves the
// batch in draft, and is reported as a ShortageError naming every deficient
// SKU.
func (s *Store) HardLockBatchTx(ctx context.Context, batchID int64, lines []LockLine) error {
	if len(lines) == 0 {
		return &models.InvalidCompositionError{Reason: "no component lines to lock"}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Claim the batch first: a second finalize of the same batch, or one
	// racing a cancel, loses here instead of double-locking stock.
	res, err := tx.ExecContext(ctx, `
		UPDATE batches SET state = $1, last_activity = NOW()
		WHERE id = $2 AND state = $3`,
		models.BatchStateActive, batchID, models.BatchStateDraft)
	if err != nil {
		return wrapTxErr("hard_lock", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		var exists bool
		if err := tx.GetContext(ctx, &exists,
			"SELECT EXISTS(SELECT 1 FROM batches WHERE id = $1)", batchID); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("batch not found: %d", batchID)
		}
		return &models.ConcurrentModificationError{Op: "hard_lock"}
	}

	// Merge duplicate (order, sku) lines so soft pools are not drawn twice.
	merged := make(map[string]*LockLine, len(lines))
	var order []string
	for _, l := range lines {
		if l.Qty <= 0 {
			return &models.InvalidCompositionError{Reason: fmt.Sprintf("non-positive quantity %d for %s", l.Qty, l.SKU)}
		}
		key := lockKey(l.OrderID, l.SKU)
		if m, ok := merged[key]; ok {
			m.Qty += l.Qty
		} else {
			cp := l
			merged[key] = &cp
			order = append(order, key)
		}
	}
	lines = lines[:0]
	for _, key := range order {
		lines = append(lines, *merged[key])
	}

	// Lock balances in SKU order so concurrent locks on overlapping SKUs
	// serialize instead of deadlocking.
	skuSet := make(map[string]bool)
	for _, l := range lines {
		skuSet[l.SKU] = true
	}
	skus := make([]string, 0, len(skuSet))
	for sku := range skuSet {
		skus = append(skus, sku)
	}
	sort.Strings(skus)

	balances := make(map[string]*models.SKUBalance, len(skus))
	for _, sku := range skus {
		bal, err := lockBalance(ctx, tx, sku)
		if err != nil {
			return wrapTxErr("hard_lock", err)
		}
		balances[sku] = bal
	}

	// Phase 1: validate every SKU before mutating anything.
	softHeld := make(map[string]int, len(lines)) // key: order|sku
	required := make(map[string]int, len(skus))
	usableSoft := make(map[string]int, len(skus))
	for _, l := range lines {
		var held int
		if err := tx.GetContext(ctx, &held, `
			SELECT COALESCE(SUM(qty), 0) FROM reservations
			WHERE order_id = $1 AND sku = $2 AND tier = 'SOFT'`,
			l.OrderID, l.SKU); err != nil {
			return wrapTxErr("hard_lock", err)
		}
		fromSoft := l.Qty
		if fromSoft > held {
			fromSoft = held
		}
		softHeld[lockKey(l.OrderID, l.SKU)] = held
		required[l.SKU] += l.Qty
		usableSoft[l.SKU] += fromSoft
	}

	var shortage []models.ShortageLine
	for _, sku := range skus {
		available := balances[sku].Free() + usableSoft[sku]
		if required[sku] > available {
			shortage = append(shortage, models.ShortageLine{
				SKU:      sku,
				Required: required[sku],
				Free:     available,
			})
		}
	}
	if len(shortage) > 0 {
		return &models.ShortageError{Lines: shortage}
	}

	// Phase 2: apply. Soft rows shrink, hard rows appear, balances move.
	for _, l := range lines {
		fromSoft := l.Qty
		if held := softHeld[lockKey(l.OrderID, l.SKU)]; fromSoft > held {
			fromSoft = held
		}
		if fromSoft > 0 {
			if _, err := takeSoftReservation(ctx, tx, l.OrderID, l.SKU, fromSoft); err != nil {
				return wrapTxErr("hard_lock", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE sku_balances
			SET soft_reserved = soft_reserved - $1,
			    hard_locked = hard_locked + $2,
			    updated_at = NOW()
			WHERE sku = $3`,
			fromSoft, l.Qty, l.SKU); err != nil {
			return wrapTxErr("hard_lock", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO reservations (sku, order_id, batch_id, qty, tier)
			VALUES ($1, $2, $3, $4, 'HARD')`,
			l.SKU, l.OrderID, batchID, l.Qty); err != nil {
			return wrapTxErr("hard_lock", err)
		}
	}

	return wrapTxErr("hard_lock", tx.Commit())
}

// CancelBatchTx cancels a draft, active, or on-hold batch and restores its
// hard locks to the soft pools of the originating orders, all in one
// transaction. Quantity owned by a since-cancelled order returns to free
// stock instead. Returns the SKUs whose balances moved.
func (s *Store) CancelBatchTx(ctx context.Context, batchID int64) ([]string, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE batches SET state = $1, last_activity = NOW()
		WHERE id = $2 AND state IN ($3, $4, $5)`,
		models.BatchStateCancelled, batchID,
		models.BatchStateDraft, models.BatchStateActive, models.BatchStateOnHold)
	if err != nil {
		return nil, wrapTxErr("cancel_batch", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		var exists bool
		if err := tx.GetContext(ctx, &exists,
			"SELECT EXISTS(SELECT 1 FROM batches WHERE id = $1)", batchID); err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("batch not found: %d", batchID)
		}
		return nil, &models.ConcurrentModificationError{Op: "cancel_batch"}
	}

	holds, err := s.lockedReservations(ctx, tx, batchID)
	if err != nil {
		return nil, wrapTxErr("cancel_batch", err)
	}

	skuSet := make(map[string]bool, len(holds))
	var skus []string
	for _, h := range holds {
		var active bool
		if err := tx.GetContext(ctx, &active,
			"SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1 AND cancelled_at IS NULL)", h.OrderID); err != nil {
			return nil, wrapTxErr("cancel_batch", err)
		}

		restore := 0
		if active {
			restore = h.Qty
			if err := addSoftReservation(ctx, tx, h.OrderID, h.SKU, h.Qty); err != nil {
				return nil, wrapTxErr("cancel_batch", err)
			}
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE sku_balances
			SET hard_locked = hard_locked - $1,
			    soft_reserved = soft_reserved + $2,
			    updated_at = NOW()
			WHERE sku = $3`,
			h.Qty, restore, h.SKU); err != nil {
			return nil, wrapTxErr("cancel_batch", err)
		}

		if !skuSet[h.SKU] {
			skuSet[h.SKU] = true
			skus = append(skus, h.SKU)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM reservations WHERE batch_id = $1 AND tier = 'HARD'", batchID); err != nil {
		return nil, wrapTxErr("cancel_batch", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapTxErr("cancel_batch", err)
	}
	return skus, nil
}

// GetHardLocksByBatch lists the hard reservations a batch currently owns.
func (s *Store) GetHardLocksByBatch(ctx context.Context, batchID int64) ([]models.Reservation, error) {
	var holds []models.Reservation
	err := s.db.SelectContext(ctx, &holds,
		"SELECT * FROM reservations WHERE batch_id = $1 AND tier = 'HARD' ORDER BY sku", batchID)
	return holds, err
}

// GetSoftReservationsByOrder lists an order's soft reservations.
func (s *Store) GetSoftReservationsByOrder(ctx context.Context, orderID int64) ([]models.Reservation, error) {
	var res []models.Reservation
	err := s.db.SelectContext(ctx, &res,
		"SELECT * FROM reservations WHERE order_id = $1 AND tier = 'SOFT' ORDER BY sku", orderID)
	return res, err
}

// GetSoftReservationsForOrders lists the soft reservations held by any of the
// given orders. Feeds the composer's availability view.
func (s *Store) GetSoftReservationsForOrders(ctx context.Context, orderIDs []int64) ([]models.Reservation, error) {
	if len(orderIDs) == 0 {
		return []models.Reservation{}, nil
	}

	query, args, err := sqlx.In(
		"SELECT * FROM reservations WHERE order_id IN (?) AND tier = 'SOFT'", orderIDs)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var res []models.Reservation
	err = s.db.SelectContext(ctx, &res, query, args...)
	return res, err
}

func (s *Store) lockedReservations(ctx context.Context, tx *sqlx.Tx, batchID int64) ([]models.Reservation, error) {
	var holds []models.Reservation
	err := tx.SelectContext(ctx, &holds, `
		SELECT * FROM reservations
		WHERE batch_id = $1 AND tier = 'HARD'
		ORDER BY sku FOR UPDATE`,
		batchID)
	return holds, err
}

func lockKey(orderID int64, sku string) string {
	return fmt.Sprintf("%d|%s", orderID, sku)
}
