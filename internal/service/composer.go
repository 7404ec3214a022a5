package service

import (
	"context"
	"sort"
	"time"

	"production-scheduler/internal/models"
	"production-scheduler/internal/store"
	"production-scheduler/internal/util"

	"go.uber.org/zap"
)

// Exclusion reasons surfaced in proposal diagnostics.
const (
	ReasonNoComponents    = "no_buildable_units"
	ReasonPartialShortage = "component_shortage"
	ReasonCapacity        = "capacity_ceiling"
	ReasonArrayTrim       = "array_trim"
)

// ProposalEntry is one order's share of a proposed batch.
type ProposalEntry struct {
	OrderID int64         `json:"order_id"`
	Qty     int           `json:"qty"`
	Score   PriorityScore `json:"score"`
}

// Exclusion explains why units were left out of a proposal.
type Exclusion struct {
	OrderID int64  `json:"order_id"`
	Reason  string `json:"reason"`
	Qty     int    `json:"qty"`
}

// ReallocationHint names a soft-pool transfer the proposal relies on: the
// hard lock at finalization only reaches an order's own pool, so stock
// claimed from a lower-priority order's pool must be reallocated first.
type ReallocationHint struct {
	FromOrder int64  `json:"from_order"`
	ToOrder   int64  `json:"to_order"`
	SKU       string `json:"sku"`
	Qty       int    `json:"qty"`
}

// BatchProposal is the advisory output of composition. Nothing is reserved
// until the lifecycle manager finalizes it.
type BatchProposal struct {
	BaseType      string             `json:"base_type"`
	Entries       []ProposalEntry    `json:"entries"`
	Excluded      []Exclusion        `json:"excluded"`
	Reallocations []ReallocationHint `json:"reallocations,omitempty"`
	TotalUnits    int                `json:"total_units"`
	ArraySize     int                `json:"array_size,omitempty"`
}

// ComposerConfig tunes the selection pass.
type ComposerConfig struct {
	CapacityCeiling     int
	AlmostDueWindowDays int
}

// Composer builds batch proposals for a base type: priority-descending greedy
// claim against a balance snapshot that credits soft-reserved stock to its
// holders, then best-effort array optimization.
type Composer struct {
	store  *store.Store
	orders OrderSource
	ledger *LedgerService
	cfg    ComposerConfig
	logger *zap.Logger
}

// NewComposer creates a new composer.
func NewComposer(store *store.Store, orders OrderSource, ledger *LedgerService, cfg ComposerConfig) *Composer {
	return &Composer{
		store:  store,
		orders: orders,
		ledger: ledger,
		cfg:    cfg,
		logger: util.GetLogger(),
	}
}

// candidate is one order's open module line for the target base type.
type candidate struct {
	orderID int64
	wanted  int
	recipe  []models.ComponentRequirement
	score   PriorityScore
}

// Compose builds a proposal for the given base type. A capacityHint of zero
// falls back to the configured ceiling. Zero buildable modules yields an
// empty proposal, not an error. Deterministic for an unchanged snapshot.
func (c *Composer) Compose(ctx context.Context, baseType string, capacityHint int) (*BatchProposal, error) {
	ctx, span := util.StartSpan(ctx, "Composer.Compose")
	defer span.End()

	start := time.Now()
	defer func() {
		util.ComposeLatency.Observe(time.Since(start).Seconds())
	}()

	capacity := capacityHint
	if capacity <= 0 {
		capacity = c.cfg.CapacityCeiling
	}

	proposal := &BatchProposal{BaseType: baseType, Entries: []ProposalEntry{}, Excluded: []Exclusion{}}

	lines, err := c.store.GetModuleLinesByBaseType(ctx, baseType)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return proposal, nil
	}

	candidates, skus, err := c.loadCandidates(ctx, lines)
	if err != nil {
		return nil, err
	}

	free, err := c.ledger.SnapshotFree(ctx, skus)
	if err != nil {
		return nil, err
	}

	soft, err := c.softPools(ctx, candidates)
	if err != nil {
		return nil, err
	}

	entries, excluded, reallocations := selectUnits(candidates, free, soft, capacity)

	if arrayDef, err := c.store.GetArrayDef(ctx, baseType); err != nil {
		return nil, err
	} else if arrayDef != nil {
		proposal.ArraySize = arrayDef.UnitsPerPanel()
		entries, excluded = optimizeForArray(entries, excluded, proposal.ArraySize)
	}

	proposal.Entries = entries
	proposal.Excluded = excluded
	proposal.Reallocations = reallocations
	for _, e := range entries {
		proposal.TotalUnits += e.Qty
	}

	util.BatchesComposedTotal.WithLabelValues(baseType).Inc()
	c.logger.Info("Batch proposal composed",
		zap.String("base_type", baseType),
		zap.Int("orders", len(entries)),
		zap.Int("units", proposal.TotalUnits),
		zap.Int("excluded", len(excluded)))

	return proposal, nil
}

// loadCandidates joins module lines with their orders and scores them,
// sorted by priority descending with order id as the final deterministic
// tiebreak.
func (c *Composer) loadCandidates(ctx context.Context, lines []models.ModuleLine) ([]candidate, []string, error) {
	orderIDs := make([]int64, len(lines))
	for i, l := range lines {
		orderIDs[i] = l.OrderID
	}

	orders, err := c.orders.GetOrdersByIDs(ctx, orderIDs)
	if err != nil {
		return nil, nil, err
	}
	byID := make(map[int64]*models.Order, len(orders))
	for i := range orders {
		byID[orders[i].ID] = &orders[i]
	}

	now := time.Now()
	skuSet := make(map[string]bool)
	candidates := make([]candidate, 0, len(lines))
	for _, l := range lines {
		order, ok := byID[l.OrderID]
		if !ok {
			return nil, nil, &models.UnknownOrderError{OrderID: l.OrderID}
		}
		recipe, err := l.Components()
		if err != nil {
			return nil, nil, err
		}
		for _, r := range recipe {
			skuSet[r.SKU] = true
		}
		candidates = append(candidates, candidate{
			orderID: l.OrderID,
			wanted:  l.QtyRemaining,
			recipe:  recipe,
			score:   ScoreOrder(order, now, c.cfg.AlmostDueWindowDays),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if c := Compare(candidates[i].score, candidates[j].score); c != 0 {
			return c > 0
		}
		return candidates[i].orderID < candidates[j].orderID
	})

	skus := make([]string, 0, len(skuSet))
	for sku := range skuSet {
		skus = append(skus, sku)
	}
	sort.Strings(skus)
	return candidates, skus, nil
}

// softPools reads the candidate orders' soft reservations, keyed by order
// then SKU.
func (c *Composer) softPools(ctx context.Context, candidates []candidate) (map[int64]map[string]int, error) {
	orderIDs := make([]int64, len(candidates))
	for i, cand := range candidates {
		orderIDs[i] = cand.orderID
	}

	reservations, err := c.store.GetSoftReservationsForOrders(ctx, orderIDs)
	if err != nil {
		return nil, err
	}

	pools := make(map[int64]map[string]int)
	for _, r := range reservations {
		if pools[r.OrderID] == nil {
			pools[r.OrderID] = make(map[string]int)
		}
		pools[r.OrderID][r.SKU] += r.Qty
	}
	return pools, nil
}

// selectUnits runs the greedy claim pass over candidates sorted by priority
// descending. A candidate's availability per SKU is free stock, plus its own
// soft pool, plus soft stock held by strictly lower-priority candidates;
// drawing on a lower-priority pool is surfaced as a reallocation hint.
// Partial shortage defers the remainder, it never skips the order outright.
// The capacity ceiling is soft: it stops admission of non-expedited orders
// but never truncates an admitted order's buildable units.
func selectUnits(candidates []candidate, free map[string]int, soft map[int64]map[string]int, capacity int) ([]ProposalEntry, []Exclusion, []ReallocationHint) {
	remaining := make(map[string]int, len(free))
	for sku, qty := range free {
		remaining[sku] = qty
	}
	softLeft := make(map[int64]map[string]int, len(soft))
	for orderID, pool := range soft {
		cp := make(map[string]int, len(pool))
		for sku, qty := range pool {
			cp[sku] = qty
		}
		softLeft[orderID] = cp
	}

	var entries []ProposalEntry
	var excluded []Exclusion
	var reallocations []ReallocationHint
	total := 0

	for i, cand := range candidates {
		if total >= capacity && !cand.score.Expedited() {
			excluded = append(excluded, Exclusion{OrderID: cand.orderID, Reason: ReasonCapacity, Qty: cand.wanted})
			continue
		}

		buildable := cand.wanted
		for _, r := range cand.recipe {
			if r.QtyPerUnit <= 0 {
				continue
			}
			avail := remaining[r.SKU] + softLeft[cand.orderID][r.SKU]
			for j := i + 1; j < len(candidates); j++ {
				if Compare(candidates[j].score, cand.score) < 0 {
					avail += softLeft[candidates[j].orderID][r.SKU]
				}
			}
			if limit := avail / r.QtyPerUnit; limit < buildable {
				buildable = limit
			}
		}

		if buildable <= 0 {
			excluded = append(excluded, Exclusion{OrderID: cand.orderID, Reason: ReasonNoComponents, Qty: cand.wanted})
			continue
		}

		// Consume the own soft pool first, then free stock, then the
		// lowest-priority holders' pools.
		for _, r := range cand.recipe {
			need := buildable * r.QtyPerUnit
			if take := minInt(softLeft[cand.orderID][r.SKU], need); take > 0 {
				softLeft[cand.orderID][r.SKU] -= take
				need -= take
			}
			if take := minInt(remaining[r.SKU], need); take > 0 {
				remaining[r.SKU] -= take
				need -= take
			}
			for j := len(candidates) - 1; j > i && need > 0; j-- {
				if Compare(candidates[j].score, cand.score) >= 0 {
					continue
				}
				take := minInt(softLeft[candidates[j].orderID][r.SKU], need)
				if take == 0 {
					continue
				}
				softLeft[candidates[j].orderID][r.SKU] -= take
				need -= take
				reallocations = append(reallocations, ReallocationHint{
					FromOrder: candidates[j].orderID,
					ToOrder:   cand.orderID,
					SKU:       r.SKU,
					Qty:       take,
				})
			}
		}
		entries = append(entries, ProposalEntry{OrderID: cand.orderID, Qty: buildable, Score: cand.score})
		total += buildable

		if buildable < cand.wanted {
			excluded = append(excluded, Exclusion{
				OrderID: cand.orderID,
				Reason:  ReasonPartialShortage,
				Qty:     cand.wanted - buildable,
			})
		}
	}

	return entries, excluded, reallocations
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// optimizeForArray trims units from the lowest-priority included order to
// land the batch on a whole number of panels. Best-effort: a time-critical
// or too-small tail order leaves the proposal as is. High-priority orders are
// never reduced for this.
func optimizeForArray(entries []ProposalEntry, excluded []Exclusion, arraySize int) ([]ProposalEntry, []Exclusion) {
	if arraySize <= 1 || len(entries) == 0 {
		return entries, excluded
	}

	total := 0
	for _, e := range entries {
		total += e.Qty
	}
	rem := total % arraySize
	if rem == 0 {
		return entries, excluded
	}

	last := &entries[len(entries)-1]
	if last.Score.TimeCritical() || last.Score.Expedited() || last.Qty < rem {
		return entries, excluded
	}

	last.Qty -= rem
	excluded = append(excluded, Exclusion{OrderID: last.OrderID, Reason: ReasonArrayTrim, Qty: rem})
	if last.Qty == 0 {
		entries = entries[:len(entries)-1]
	}
	return entries, excluded
}
