package worker

import (
	"context"
	"encoding/json"
	"log"

	"production-scheduler/internal/broker"
	"production-scheduler/internal/models"
	"production-scheduler/internal/service"
	"production-scheduler/internal/store"
	"production-scheduler/internal/util"

	"go.uber.org/zap"
)

// IntakeWorker consumes order-queue events from the intake system: each
// queued order gets its module lines and as much of its component needs
// soft-reserved as free stock allows.
type IntakeWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	store        *store.Store
	ledger       *service.LedgerService
	logger       *zap.Logger
}

// NewIntakeWorker creates a new intake worker.
func NewIntakeWorker(
	consumer *broker.Consumer,
	store *store.Store,
	ledger *service.LedgerService,
) *IntakeWorker {
	w := &IntakeWorker{
		consumer: consumer,
		store:    store,
		ledger:   ledger,
		logger:   util.GetLogger(),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnOrderQueued(w.handleOrderQueued)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *IntakeWorker) Start(ctx context.Context) error {
	log.Println("Starting intake worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *IntakeWorker) Stop() error {
	log.Println("Stopping intake worker...")
	return w.consumer.Close()
}

func (w *IntakeWorker) handleOrderQueued(ctx context.Context, event *models.OrderQueuedEvent) error {
	processed, err := w.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return err
	}
	if processed {
		w.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	for _, line := range event.Lines {
		recipe, err := json.Marshal(line.Recipe)
		if err != nil {
			return err
		}
		ml := &models.ModuleLine{
			OrderID:      event.OrderID,
			BaseType:     line.BaseType,
			Recipe:       recipe,
			QtyOrdered:   line.Qty,
			QtyRemaining: line.Qty,
		}
		if err := w.store.CreateModuleLine(ctx, ml); err != nil {
			return err
		}

		for _, r := range line.Recipe {
			want := line.Qty * r.QtyPerUnit
			got, err := w.ledger.SoftReserveAvailable(ctx, event.OrderID, r.SKU, want)
			if err != nil {
				w.logger.Error("Failed to soft-reserve at intake",
					zap.Int64("order_id", event.OrderID),
					zap.String("sku", r.SKU),
					zap.Error(err))
				continue
			}
			if got < want {
				w.logger.Warn("Partial soft reservation at intake",
					zap.Int64("order_id", event.OrderID),
					zap.String("sku", r.SKU),
					zap.Int("wanted", want),
					zap.Int("reserved", got))
			}
		}
	}

	if err := w.store.MarkOrderStatus(ctx, event.OrderID, models.OrderStatusQueued); err != nil {
		w.logger.Error("Failed to mark order queued",
			zap.Int64("order_id", event.OrderID),
			zap.Error(err))
	}

	return w.store.MarkEventProcessed(ctx, event.EventID, event.EventType)
}

// InventoryWorker consumes warehouse stock updates and refreshes the ledger's
// on-hand quantities.
type InventoryWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	store        *store.Store
	ledger       *service.LedgerService
	logger       *zap.Logger
}

// NewInventoryWorker creates a new inventory worker.
func NewInventoryWorker(
	consumer *broker.Consumer,
	store *store.Store,
	ledger *service.LedgerService,
) *InventoryWorker {
	w := &InventoryWorker{
		consumer: consumer,
		store:    store,
		ledger:   ledger,
		logger:   util.GetLogger(),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnInventoryUpdated(w.handleInventoryUpdated)
	w.eventHandler = eventHandler

	return w
}

// Start starts the inventory worker
func (w *InventoryWorker) Start(ctx context.Context) error {
	log.Println("Starting inventory worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the inventory worker
func (w *InventoryWorker) Stop() error {
	log.Println("Stopping inventory worker...")
	return w.consumer.Close()
}

func (w *InventoryWorker) handleInventoryUpdated(ctx context.Context, event *models.InventoryUpdatedEvent) error {
	processed, err := w.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return err
	}
	if processed {
		return nil
	}

	if err := w.ledger.RefreshOnHand(ctx, event.SKU, event.OnHand); err != nil {
		return err
	}

	w.logger.Info("On-hand refreshed",
		zap.String("sku", event.SKU),
		zap.Int("on_hand", event.OnHand))

	return w.store.MarkEventProcessed(ctx, event.EventID, event.EventType)
}
