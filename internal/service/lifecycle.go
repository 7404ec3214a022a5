package service

import (
	"context"
	"fmt"
	"time"

	"production-scheduler/internal/broker"
	"production-scheduler/internal/models"
	"production-scheduler/internal/store"
	"production-scheduler/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LifecycleService owns batch state transitions:
// draft -> active -> complete, with active <-> on-hold and
// active/on-hold -> cancelled as side branches. Complete and cancelled are
// terminal; batches are never deleted.
type LifecycleService struct {
	store          *store.Store
	orders         OrderSource
	ledger         *LedgerService
	eventPublisher *broker.EventPublisher
	logger         *zap.Logger
}

// NewLifecycleService creates a new lifecycle service.
func NewLifecycleService(
	store *store.Store,
	orders OrderSource,
	ledger *LedgerService,
	eventPublisher *broker.EventPublisher,
) *LifecycleService {
	return &LifecycleService{
		store:          store,
		orders:         orders,
		ledger:         ledger,
		eventPublisher: eventPublisher,
		logger:         util.GetLogger(),
	}
}

// CreateDraft persists a proposal as a draft batch. The operator may have
// edited the composition; only the single-base-type invariant and positive
// quantities are enforced here.
func (s *LifecycleService) CreateDraft(ctx context.Context, baseType string, entries []models.BatchEntryData) (*models.Batch, error) {
	ctx, span := util.StartSpan(ctx, "LifecycleService.CreateDraft")
	defer span.End()

	if err := validateComposition(entries); err != nil {
		return nil, err
	}

	for _, e := range entries {
		lines, err := s.store.GetModuleLinesByOrder(ctx, e.OrderID)
		if err != nil {
			return nil, err
		}
		if len(lines) == 0 {
			return nil, &models.UnknownOrderError{OrderID: e.OrderID}
		}
		found := false
		for _, l := range lines {
			if l.BaseType == baseType {
				found = true
				break
			}
		}
		if !found {
			return nil, &models.InvalidCompositionError{
				Reason: fmt.Sprintf("order %d has no %s module line", e.OrderID, baseType),
			}
		}
	}

	batch, err := s.store.CreateBatchTx(ctx, baseType, entries)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Draft batch created",
		zap.Int64("batch_id", batch.ID),
		zap.String("base_type", baseType),
		zap.Int("orders", len(entries)))
	return batch, nil
}

// validateComposition checks the shape of a batch composition: non-empty,
// positive quantities, each order at most once.
func validateComposition(entries []models.BatchEntryData) error {
	if len(entries) == 0 {
		return &models.InvalidCompositionError{Reason: "empty composition"}
	}

	seen := make(map[int64]bool, len(entries))
	for _, e := range entries {
		if e.Qty <= 0 {
			return &models.InvalidCompositionError{Reason: fmt.Sprintf("non-positive quantity %d for order %d", e.Qty, e.OrderID)}
		}
		if seen[e.OrderID] {
			return &models.InvalidCompositionError{Reason: fmt.Sprintf("order %d appears twice", e.OrderID)}
		}
		seen[e.OrderID] = true
	}
	return nil
}

// Finalize hard-locks a draft batch's components and activates it. The
// composition is re-validated against live ledger balances inside the lock
// transaction; on shortage the batch stays in draft and the caller decides
// whether to shrink, wait, or cancel. No implicit retry.
func (s *LifecycleService) Finalize(ctx context.Context, batchID int64) (*models.Batch, error) {
	ctx, span := util.StartSpan(ctx, "LifecycleService.Finalize")
	defer span.End()

	batch, entries, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	lines, err := s.lockLines(ctx, batch.BaseType, entries)
	if err != nil {
		return nil, err
	}

	if err := s.ledger.HardLockBatch(ctx, batchID, lines); err != nil {
		return nil, err
	}

	util.BatchesFinalizedTotal.Inc()

	eventEntries := make([]models.BatchEntryData, len(entries))
	for i, e := range entries {
		eventEntries[i] = models.BatchEntryData{OrderID: e.OrderID, Qty: e.Qty}
		if err := s.orders.MarkOrderStatus(ctx, e.OrderID, models.OrderStatusInProduction); err != nil {
			s.logger.Error("Failed to mark order in production",
				zap.Int64("order_id", e.OrderID),
				zap.Error(err))
		}
	}

	event := &models.BatchFinalizedEvent{
		BaseEvent: newBaseEvent(models.EventTypeBatchFinalized),
		BatchID:   batchID,
		BaseType:  batch.BaseType,
		Entries:   eventEntries,
	}
	if err := s.eventPublisher.PublishBatchFinalized(ctx, event); err != nil {
		s.logger.Error("Failed to publish BatchFinalized event", zap.Error(err))
	}

	s.logger.Info("Batch finalized", zap.Int64("batch_id", batchID))
	return s.reload(ctx, batchID)
}

// Complete marks an active batch built: module-line remainders decrement and
// hard locks release with stock decrement in one transaction, then fully
// built orders emit a completion event and flip to ready.
func (s *LifecycleService) Complete(ctx context.Context, batchID int64) (*models.Batch, error) {
	ctx, span := util.StartSpan(ctx, "LifecycleService.Complete")
	defer span.End()

	batch, entries, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	completedOrders, skus, err := s.store.CompleteBatchTx(ctx, batchID)
	if err != nil {
		return nil, err
	}
	s.ledger.ResyncBalances(ctx, skus)

	util.BatchesCompletedTotal.Inc()

	eventEntries := make([]models.BatchEntryData, len(entries))
	for i, e := range entries {
		eventEntries[i] = models.BatchEntryData{OrderID: e.OrderID, Qty: e.Qty}
	}
	event := &models.BatchCompletedEvent{
		BaseEvent: newBaseEvent(models.EventTypeBatchCompleted),
		BatchID:   batchID,
		BaseType:  batch.BaseType,
		Entries:   eventEntries,
	}
	if err := s.eventPublisher.PublishBatchCompleted(ctx, event); err != nil {
		s.logger.Error("Failed to publish BatchCompleted event", zap.Error(err))
	}

	for _, orderID := range completedOrders {
		s.finishOrder(ctx, orderID)
	}

	s.logger.Info("Batch completed",
		zap.Int64("batch_id", batchID),
		zap.Int("orders_completed", len(completedOrders)))
	return s.reload(ctx, batchID)
}

// Cancel aborts a draft, active, or on-hold batch. The state transition and
// the restore of hard-locked components to the originating orders' soft pools
// commit together; no module-line quantity is decremented.
func (s *LifecycleService) Cancel(ctx context.Context, batchID int64, reason string) (*models.Batch, error) {
	ctx, span := util.StartSpan(ctx, "LifecycleService.Cancel")
	defer span.End()

	skus, err := s.store.CancelBatchTx(ctx, batchID)
	if err != nil {
		return nil, err
	}
	s.ledger.ResyncBalances(ctx, skus)

	util.BatchesCancelledTotal.Inc()

	event := &models.BatchCancelledEvent{
		BaseEvent: newBaseEvent(models.EventTypeBatchCancelled),
		BatchID:   batchID,
		Reason:    reason,
	}
	if err := s.eventPublisher.PublishBatchCancelled(ctx, event); err != nil {
		s.logger.Error("Failed to publish BatchCancelled event", zap.Error(err))
	}

	s.logger.Warn("Batch cancelled",
		zap.Int64("batch_id", batchID),
		zap.String("reason", reason))
	return s.reload(ctx, batchID)
}

// Hold pauses an active batch without touching its locks.
func (s *LifecycleService) Hold(ctx context.Context, batchID int64) (*models.Batch, error) {
	if err := s.store.TransitionBatchState(ctx, batchID, models.BatchStateOnHold, models.BatchStateActive); err != nil {
		return nil, err
	}
	return s.reload(ctx, batchID)
}

// Resume returns an on-hold batch to active.
func (s *LifecycleService) Resume(ctx context.Context, batchID int64) (*models.Batch, error) {
	if err := s.store.TransitionBatchState(ctx, batchID, models.BatchStateActive, models.BatchStateOnHold); err != nil {
		return nil, err
	}
	return s.reload(ctx, batchID)
}

// GetBatch exposes a batch with entries to downstream tooling.
func (s *LifecycleService) GetBatch(ctx context.Context, batchID int64) (*models.Batch, []models.BatchEntry, error) {
	return s.store.GetBatch(ctx, batchID)
}

// GetOrderCompletion exposes built/total progress for an order.
func (s *LifecycleService) GetOrderCompletion(ctx context.Context, orderID int64) (*models.OrderCompletion, error) {
	return s.store.GetOrderCompletion(ctx, orderID)
}

// lockLines expands batch entries into per-component lock requirements using
// each order's recipe for the batch's base type.
func (s *LifecycleService) lockLines(ctx context.Context, baseType string, entries []models.BatchEntry) ([]store.LockLine, error) {
	linesByOrder := make(map[int64][]models.ModuleLine, len(entries))
	for _, e := range entries {
		moduleLines, err := s.store.GetModuleLinesByOrder(ctx, e.OrderID)
		if err != nil {
			return nil, err
		}
		linesByOrder[e.OrderID] = moduleLines
	}
	return buildLockLines(baseType, entries, linesByOrder)
}

// buildLockLines resolves each entry against its order's module line for the
// batch's base type. An entry may not exceed the line's remaining quantity;
// an operator-edited overshoot is rejected here rather than silently absorbed
// at completion.
func buildLockLines(baseType string, entries []models.BatchEntry, linesByOrder map[int64][]models.ModuleLine) ([]store.LockLine, error) {
	var lines []store.LockLine
	for _, e := range entries {
		var recipe []models.ComponentRequirement
		found := false
		for _, ml := range linesByOrder[e.OrderID] {
			if ml.BaseType != baseType {
				continue
			}
			if e.Qty > ml.QtyRemaining {
				return nil, &models.InvalidCompositionError{
					Reason: fmt.Sprintf("order %d entry of %d exceeds %d remaining", e.OrderID, e.Qty, ml.QtyRemaining),
				}
			}
			var err error
			recipe, err = ml.Components()
			if err != nil {
				return nil, err
			}
			found = true
			break
		}
		if !found {
			return nil, &models.InvalidCompositionError{
				Reason: fmt.Sprintf("order %d has no %s module line", e.OrderID, baseType),
			}
		}
		for _, r := range recipe {
			lines = append(lines, store.LockLine{
				OrderID: e.OrderID,
				SKU:     r.SKU,
				Qty:     e.Qty * r.QtyPerUnit,
			})
		}
	}
	return lines, nil
}

// finishOrder emits the completion event and flips the order to ready.
func (s *LifecycleService) finishOrder(ctx context.Context, orderID int64) {
	completion, err := s.store.GetOrderCompletion(ctx, orderID)
	if err != nil {
		s.logger.Error("Failed to read order completion",
			zap.Int64("order_id", orderID),
			zap.Error(err))
		return
	}

	if err := s.orders.MarkOrderStatus(ctx, orderID, models.OrderStatusReady); err != nil {
		s.logger.Error("Failed to mark order ready",
			zap.Int64("order_id", orderID),
			zap.Error(err))
	}

	util.OrdersCompletedTotal.Inc()

	event := &models.OrderCompletedEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderCompleted),
		OrderID:   orderID,
		Built:     completion.Built,
	}
	if err := s.eventPublisher.PublishOrderCompleted(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCompleted event", zap.Error(err))
	}

	s.logger.Info("Order fully built", zap.Int64("order_id", orderID))
}

func (s *LifecycleService) reload(ctx context.Context, batchID int64) (*models.Batch, error) {
	batch, _, err := s.store.GetBatch(ctx, batchID)
	return batch, err
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}
