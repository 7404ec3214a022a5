package service

import (
	"context"
	"sync"
	"time"

	"production-scheduler/internal/broker"
	"production-scheduler/internal/models"
	"production-scheduler/internal/store"
	"production-scheduler/internal/util"

	"go.uber.org/zap"
)

// StallConfig tunes stall detection.
type StallConfig struct {
	ThresholdBusinessDays int
	ScanInterval          time.Duration
	RealertBase           time.Duration
}

// StallMonitor periodically scans active and on-hold batches for inactivity
// and escalates. Purely observational: it never cancels or completes a batch,
// since only the floor knows whether production is actually still running.
type StallMonitor struct {
	store          *store.Store
	eventPublisher *broker.EventPublisher
	cfg            StallConfig
	logger         *zap.Logger

	mu     sync.Mutex
	states map[int64]*stallState
}

// stallState tracks one batch's open stall episode. Any lifecycle activity
// changes the batch's last_activity and resets the episode.
type stallState struct {
	lastActivity time.Time
	occurrences  int
	nextAlertAt  time.Time
}

// NewStallMonitor creates a new stall monitor.
func NewStallMonitor(store *store.Store, eventPublisher *broker.EventPublisher, cfg StallConfig) *StallMonitor {
	return &StallMonitor{
		store:          store,
		eventPublisher: eventPublisher,
		cfg:            cfg,
		logger:         util.GetLogger(),
		states:         make(map[int64]*stallState),
	}
}

// Start runs the scan loop until the context is cancelled.
func (m *StallMonitor) Start(ctx context.Context) {
	m.logger.Info("Stall monitor started",
		zap.Int("threshold_business_days", m.cfg.ThresholdBusinessDays),
		zap.Duration("scan_interval", m.cfg.ScanInterval))

	ticker := time.NewTicker(m.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Stall monitor stopped")
			return
		case <-ticker.C:
			if err := m.Scan(ctx, time.Now()); err != nil {
				m.logger.Error("Stall scan failed", zap.Error(err))
			}
		}
	}
}

// Scan evaluates every active and on-hold batch once.
func (m *StallMonitor) Scan(ctx context.Context, now time.Time) error {
	batches, err := m.store.GetBatchesByStates(ctx, []string{models.BatchStateActive, models.BatchStateOnHold})
	if err != nil {
		return err
	}

	live := make(map[int64]bool, len(batches))
	for i := range batches {
		live[batches[i].ID] = true
		m.evaluate(ctx, &batches[i], now)
	}

	// Drop episodes for batches that reached a terminal state.
	m.mu.Lock()
	for id := range m.states {
		if !live[id] {
			delete(m.states, id)
		}
	}
	m.mu.Unlock()

	return nil
}

func (m *StallMonitor) evaluate(ctx context.Context, batch *models.Batch, now time.Time) {
	idle := BusinessDaysBetween(batch.LastActivity, now)
	occurrence, fire := m.advance(batch.ID, batch.LastActivity, idle, now)
	if !fire {
		return
	}
	m.alert(ctx, batch, idle, occurrence)
}

// advance applies the idle threshold and re-alert backoff to one batch's
// episode and reports whether an alert should fire now. New activity on the
// batch starts a fresh episode.
func (m *StallMonitor) advance(batchID int64, lastActivity time.Time, idle int, now time.Time) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if idle < m.cfg.ThresholdBusinessDays {
		delete(m.states, batchID)
		return 0, false
	}

	state := m.states[batchID]
	if state == nil || !state.lastActivity.Equal(lastActivity) {
		state = &stallState{lastActivity: lastActivity}
		m.states[batchID] = state
	} else if now.Before(state.nextAlertAt) {
		return 0, false
	}

	state.occurrences++
	// Re-alert interval doubles with each occurrence, capped at 32x.
	backoff := state.occurrences - 1
	if backoff > 5 {
		backoff = 5
	}
	state.nextAlertAt = now.Add(m.cfg.RealertBase << backoff)
	return state.occurrences, true
}

func (m *StallMonitor) alert(ctx context.Context, batch *models.Batch, idleDays, occurrence int) {
	locked := make(map[string]int)
	holds, err := m.store.GetHardLocksByBatch(ctx, batch.ID)
	if err != nil {
		m.logger.Error("Failed to read hard locks for stall alert",
			zap.Int64("batch_id", batch.ID),
			zap.Error(err))
	} else {
		for _, h := range holds {
			locked[h.SKU] += h.Qty
		}
	}

	util.StallAlertsTotal.Inc()
	m.logger.Warn("Stalled batch",
		zap.Int64("batch_id", batch.ID),
		zap.String("state", batch.State),
		zap.Int("idle_business_days", idleDays),
		zap.Int("occurrence", occurrence),
		zap.Any("locked_components", locked))

	event := &models.StallAlertEvent{
		BaseEvent:        newBaseEvent(models.EventTypeStallAlert),
		BatchID:          batch.ID,
		BaseType:         batch.BaseType,
		State:            batch.State,
		IdleBusinessDays: idleDays,
		Occurrence:       occurrence,
		LockedComponents: locked,
	}
	if err := m.eventPublisher.PublishStallAlert(ctx, event); err != nil {
		m.logger.Error("Failed to publish StallAlert event", zap.Error(err))
	}
}

// CurrentStalls lists the batches with an open stall episode, for the
// operator-facing read endpoint.
func (m *StallMonitor) CurrentStalls() []StallStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]StallStatus, 0, len(m.states))
	for id, s := range m.states {
		if s.occurrences == 0 {
			continue
		}
		out = append(out, StallStatus{
			BatchID:     id,
			Occurrences: s.occurrences,
			NextAlertAt: s.nextAlertAt,
		})
	}
	return out
}

// StallStatus summarizes one open stall episode.
type StallStatus struct {
	BatchID     int64     `json:"batch_id"`
	Occurrences int       `json:"occurrences"`
	NextAlertAt time.Time `json:"next_alert_at"`
}

// BusinessDaysBetween counts the whole business days (Mon-Fri) elapsed from
// one instant to another.
func BusinessDaysBetween(from, to time.Time) int {
	if !to.After(from) {
		return 0
	}

	days := 0
	for t := from.Add(24 * time.Hour); !t.After(to); t = t.Add(24 * time.Hour) {
		switch t.Weekday() {
		case time.Saturday, time.Sunday:
		default:
			days++
		}
	}
	return days
}
