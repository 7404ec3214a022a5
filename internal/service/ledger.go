package service

import (
	"context"
	"errors"
	"time"

	"production-scheduler/internal/models"
	"production-scheduler/internal/redisclient"
	"production-scheduler/internal/store"
	"production-scheduler/internal/util"

	"go.uber.org/zap"
)

// LedgerService owns every reservation mutation. Postgres is authoritative;
// committed mutations are mirrored into redis best-effort so composition can
// snapshot balances without touching the database.
type LedgerService struct {
	store  *store.Store
	redis  *redisclient.Client
	cfg    LedgerConfig
	logger *zap.Logger
}

// LedgerConfig carries the priority-window setting needed for reallocation
// audit logging.
type LedgerConfig struct {
	AlmostDueWindowDays int
}

// NewLedgerService creates a new ledger service.
func NewLedgerService(store *store.Store, redis *redisclient.Client, cfg LedgerConfig) *LedgerService {
	return &LedgerService{
		store:  store,
		redis:  redis,
		cfg:    cfg,
		logger: util.GetLogger(),
	}
}

// SoftReserve claims free stock for an order.
func (ls *LedgerService) SoftReserve(ctx context.Context, orderID int64, sku string, qty int) error {
	ctx, span := util.StartSpan(ctx, "LedgerService.SoftReserve")
	defer span.End()

	if err := ls.store.SoftReserveTx(ctx, orderID, sku, qty); err != nil {
		return err
	}

	util.SoftReservationsTotal.Inc()
	ls.mirrorDelta(sku, 0, qty, 0)
	return nil
}

// SoftReserveAvailable claims as much of qty as the free pool allows and
// returns the amount actually reserved. Used at order intake, where a partial
// claim now beats none ("build what you can now" starts here).
func (ls *LedgerService) SoftReserveAvailable(ctx context.Context, orderID int64, sku string, qty int) (int, error) {
	err := ls.SoftReserve(ctx, orderID, sku, qty)
	if err == nil {
		return qty, nil
	}

	var shortage *models.ShortageError
	if !errors.As(err, &shortage) {
		return 0, err
	}

	free := shortage.Lines[0].Free
	if free <= 0 {
		return 0, nil
	}
	if err := ls.SoftReserve(ctx, orderID, sku, free); err != nil {
		return 0, err
	}
	return free, nil
}

// ReleaseSoft returns soft-reserved stock to the free pool.
func (ls *LedgerService) ReleaseSoft(ctx context.Context, orderID int64, sku string, qty int) error {
	ctx, span := util.StartSpan(ctx, "LedgerService.ReleaseSoft")
	defer span.End()

	if err := ls.store.ReleaseSoftTx(ctx, orderID, sku, qty); err != nil {
		return err
	}

	ls.mirrorDelta(sku, 0, -qty, 0)
	return nil
}

// Reallocate moves soft-reserved stock between orders. The caller is assumed
// to be authorized (PM-confirmed upstream); the receiving order's priority is
// logged for audit.
func (ls *LedgerService) Reallocate(ctx context.Context, fromOrder, toOrder int64, sku string, qty int) error {
	ctx, span := util.StartSpan(ctx, "LedgerService.Reallocate")
	defer span.End()

	if err := ls.store.ReallocateTx(ctx, fromOrder, toOrder, sku, qty); err != nil {
		return err
	}

	util.ReallocationsTotal.Inc()

	recipient, err := ls.store.GetOrderByID(ctx, toOrder)
	if err == nil {
		score := ScoreOrder(recipient, time.Now(), ls.cfg.AlmostDueWindowDays)
		ls.logger.Info("Soft reservation reallocated",
			zap.Int64("from_order", fromOrder),
			zap.Int64("to_order", toOrder),
			zap.String("sku", sku),
			zap.Int("qty", qty),
			zap.Int("to_manual_expedite", score.ManualExpedite),
			zap.Int("to_paid_expedite", score.PaidExpedite),
			zap.Int("to_days_overdue", score.DaysOverdue))
	}

	// Balances are unchanged by a reallocation; nothing to mirror.
	return nil
}

// HardLockBatch promotes a finalizing batch's requirements to hard locks and
// flips the batch active, all in one transaction.
func (ls *LedgerService) HardLockBatch(ctx context.Context, batchID int64, lines []store.LockLine) error {
	ctx, span := util.StartSpan(ctx, "LedgerService.HardLockBatch")
	defer span.End()

	start := time.Now()
	defer func() {
		util.HardLockLatency.Observe(time.Since(start).Seconds())
	}()

	if err := ls.store.HardLockBatchTx(ctx, batchID, lines); err != nil {
		var shortage *models.ShortageError
		var conflict *models.ConcurrentModificationError
		switch {
		case errors.As(err, &shortage):
			util.HardLockFailuresTotal.WithLabelValues("shortage").Inc()
		case errors.As(err, &conflict):
			util.HardLockFailuresTotal.WithLabelValues("conflict").Inc()
		default:
			util.HardLockFailuresTotal.WithLabelValues("error").Inc()
		}
		return err
	}

	ls.resync(ctx, lockLineSKUs(lines))
	return nil
}

// ResyncBalances refreshes the cached balances for the given SKUs from
// postgres. Called after a lifecycle transaction released hard locks.
func (ls *LedgerService) ResyncBalances(ctx context.Context, skus []string) {
	ls.resync(ctx, skus)
}

// RefreshOnHand applies a warehouse stock update to the ledger.
func (ls *LedgerService) RefreshOnHand(ctx context.Context, sku string, onHand int) error {
	if err := ls.store.UpsertOnHand(ctx, sku, onHand); err != nil {
		return err
	}
	ls.resync(ctx, []string{sku})
	return nil
}

// GetBalance reads one authoritative ledger balance.
func (ls *LedgerService) GetBalance(ctx context.Context, sku string) (*models.SKUBalance, error) {
	return ls.store.GetBalance(ctx, sku)
}

// GetBalances reads all authoritative ledger balances.
func (ls *LedgerService) GetBalances(ctx context.Context) ([]models.SKUBalance, error) {
	return ls.store.GetBalances(ctx)
}

// SnapshotFree returns the free quantity per SKU for composition. Redis fast
// path with database fallback; the snapshot is advisory and re-validated at
// finalization, so mild staleness is fine.
func (ls *LedgerService) SnapshotFree(ctx context.Context, skus []string) (map[string]int, error) {
	free := make(map[string]int, len(skus))
	missing := skus

	if ls.redis != nil {
		cached, err := ls.redis.GetBalances(ctx, skus)
		if err != nil {
			ls.logger.Warn("Redis snapshot failed, falling back to DB", zap.Error(err))
		} else {
			missing = missing[:0:0]
			for _, sku := range skus {
				if bal, ok := cached[sku]; ok {
					free[sku] = bal.Free()
				} else {
					missing = append(missing, sku)
				}
			}
		}
	}

	if len(missing) > 0 {
		balances, err := ls.store.GetBalancesForSKUs(ctx, missing)
		if err != nil {
			return nil, err
		}
		for _, bal := range balances {
			free[bal.SKU] = bal.Free()
		}
	}

	return free, nil
}

// SyncBalancesToRedis seeds the cache from postgres. Run on boot, before the
// first composition.
func (ls *LedgerService) SyncBalancesToRedis(ctx context.Context) error {
	if ls.redis == nil {
		return nil
	}

	balances, err := ls.store.GetBalances(ctx)
	if err != nil {
		return err
	}

	for _, bal := range balances {
		if err := ls.redis.SetBalance(ctx, bal.SKU, bal.OnHand, bal.SoftReserved, bal.HardLocked); err != nil {
			ls.logger.Error("Failed to seed balance cache",
				zap.String("sku", bal.SKU),
				zap.Error(err))
		}
	}

	ls.logger.Info("Balance cache synced", zap.Int("count", len(balances)))
	return nil
}

// mirrorDelta applies a committed mutation to the cache, best-effort.
func (ls *LedgerService) mirrorDelta(sku string, onHand, soft, hard int) {
	if ls.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := ls.redis.ApplyDelta(ctx, sku, onHand, soft, hard); err != nil {
		ls.logger.Warn("Failed to mirror balance delta to cache",
			zap.String("sku", sku),
			zap.Error(err))
	}
}

// resync overwrites cached balances for the given SKUs from postgres.
func (ls *LedgerService) resync(ctx context.Context, skus []string) {
	if ls.redis == nil || len(skus) == 0 {
		return
	}

	balances, err := ls.store.GetBalancesForSKUs(ctx, skus)
	if err != nil {
		ls.logger.Warn("Failed to read balances for cache resync", zap.Error(err))
		return
	}
	for _, bal := range balances {
		if err := ls.redis.SetBalance(ctx, bal.SKU, bal.OnHand, bal.SoftReserved, bal.HardLocked); err != nil {
			ls.logger.Warn("Failed to resync cached balance",
				zap.String("sku", bal.SKU),
				zap.Error(err))
		}
	}
}

func lockLineSKUs(lines []store.LockLine) []string {
	seen := make(map[string]bool)
	var skus []string
	for _, l := range lines {
		if !seen[l.SKU] {
			seen[l.SKU] = true
			skus = append(skus, l.SKU)
		}
	}
	return skus
}
