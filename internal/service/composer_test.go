package service

import (
	"testing"
	"time"

	"production-scheduler/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recipe(pairs ...interface{}) []models.ComponentRequirement {
	var r []models.ComponentRequirement
	for i := 0; i < len(pairs); i += 2 {
		r = append(r, models.ComponentRequirement{
			SKU:        pairs[i].(string),
			QtyPerUnit: pairs[i+1].(int),
		})
	}
	return r
}

func TestSelectUnitsFullBuild(t *testing.T) {
	candidates := []candidate{
		{orderID: 101, wanted: 50, recipe: recipe("CAP-100", 2, "RES-220", 4)},
	}
	free := map[string]int{"CAP-100": 500, "RES-220": 500}

	entries, excluded, _ := selectUnits(candidates, free, nil, 120)

	require.Len(t, entries, 1)
	assert.Equal(t, int64(101), entries[0].OrderID)
	assert.Equal(t, 50, entries[0].Qty)
	assert.Empty(t, excluded)
}

func TestSelectUnitsPartialShortageDefersRemainder(t *testing.T) {
	// Two orders want the same scarce SKU. The higher-priority order claims
	// in full; the lower one builds what the leftover covers and defers the
	// rest rather than dropping out entirely.
	high := Score(plainOrder(30, -2), scoreNow, 3)
	low := Score(plainOrder(10, 30), scoreNow, 3)
	candidates := []candidate{
		{orderID: 200, wanted: 40, recipe: recipe("IC-555", 1), score: high},
		{orderID: 201, wanted: 40, recipe: recipe("IC-555", 1), score: low},
	}
	free := map[string]int{"IC-555": 55}

	entries, excluded, _ := selectUnits(candidates, free, nil, 120)

	require.Len(t, entries, 2)
	assert.Equal(t, int64(200), entries[0].OrderID)
	assert.Equal(t, 40, entries[0].Qty)
	assert.Equal(t, int64(201), entries[1].OrderID)
	assert.Equal(t, 15, entries[1].Qty)

	require.Len(t, excluded, 1)
	assert.Equal(t, int64(201), excluded[0].OrderID)
	assert.Equal(t, ReasonPartialShortage, excluded[0].Reason)
	assert.Equal(t, 25, excluded[0].Qty)
}

func TestSelectUnitsNoBuildableUnits(t *testing.T) {
	candidates := []candidate{
		{orderID: 300, wanted: 10, recipe: recipe("XTAL-16M", 1)},
	}
	free := map[string]int{"XTAL-16M": 0}

	entries, excluded, _ := selectUnits(candidates, free, nil, 120)

	assert.Empty(t, entries)
	require.Len(t, excluded, 1)
	assert.Equal(t, ReasonNoComponents, excluded[0].Reason)
	assert.Equal(t, 10, excluded[0].Qty)
}

func TestSelectUnitsCapacityCeilingIsSoft(t *testing.T) {
	// The ceiling stops admitting further plain orders once reached, but an
	// admitted order's buildable units are never truncated to fit, and an
	// expedited order is admitted past it.
	plain := Score(plainOrder(10, 30), scoreNow, 3)
	expedited := Score(PriorityInputs{
		CreatedAt:    scoreNow.Add(-24 * time.Hour),
		PromisedDate: scoreNow.Add(30 * 24 * time.Hour),
		PaidExpedite: 1,
	}, scoreNow, 3)
	candidates := []candidate{
		{orderID: 400, wanted: 120, recipe: recipe("CAP-100", 1), score: expedited},
		{orderID: 401, wanted: 5, recipe: recipe("CAP-100", 1), score: expedited},
		{orderID: 402, wanted: 70, recipe: recipe("CAP-100", 1), score: plain},
	}
	free := map[string]int{"CAP-100": 1000}

	entries, excluded, _ := selectUnits(candidates, free, nil, 100)

	require.Len(t, entries, 2)
	assert.Equal(t, 120, entries[0].Qty) // admitted in full, never truncated to fit
	assert.Equal(t, int64(401), entries[1].OrderID)
	assert.Equal(t, 5, entries[1].Qty) // expedited ignores the ceiling

	require.Len(t, excluded, 1)
	assert.Equal(t, int64(402), excluded[0].OrderID)
	assert.Equal(t, ReasonCapacity, excluded[0].Reason)
	assert.Equal(t, 70, excluded[0].Qty)
}

func TestSelectUnitsDeterministic(t *testing.T) {
	candidates := []candidate{
		{orderID: 1, wanted: 30, recipe: recipe("A", 2, "B", 1), score: Score(plainOrder(40, -1), scoreNow, 3)},
		{orderID: 2, wanted: 25, recipe: recipe("A", 1), score: Score(plainOrder(20, 2), scoreNow, 3)},
		{orderID: 3, wanted: 50, recipe: recipe("B", 3), score: Score(plainOrder(10, 30), scoreNow, 3)},
	}
	free := map[string]int{"A": 80, "B": 90}
	soft := map[int64]map[string]int{3: {"B": 30}}

	e1, x1, r1 := selectUnits(candidates, free, soft, 120)
	e2, x2, r2 := selectUnits(candidates, free, soft, 120)

	assert.Equal(t, e1, e2)
	assert.Equal(t, x1, x2)
	assert.Equal(t, r1, r2)
}

func TestSelectUnitsClaimsLowerPrioritySoft(t *testing.T) {
	// Every unit of the SKU is soft-reserved by a low-priority order. The
	// high-priority order still gets its buildable units, and the soft-pool
	// transfer the proposal relies on is surfaced.
	high := Score(plainOrder(30, -2), scoreNow, 3)
	low := Score(plainOrder(10, 30), scoreNow, 3)
	candidates := []candidate{
		{orderID: 200, wanted: 30, recipe: recipe("IC-555", 1), score: high},
		{orderID: 201, wanted: 10, recipe: recipe("IC-555", 1), score: low},
	}
	free := map[string]int{"IC-555": 0}
	soft := map[int64]map[string]int{201: {"IC-555": 20}}

	entries, excluded, reallocations := selectUnits(candidates, free, soft, 120)

	require.Len(t, entries, 1)
	assert.Equal(t, int64(200), entries[0].OrderID)
	assert.Equal(t, 20, entries[0].Qty)

	require.Len(t, reallocations, 1)
	assert.Equal(t, ReallocationHint{FromOrder: 201, ToOrder: 200, SKU: "IC-555", Qty: 20}, reallocations[0])

	require.Len(t, excluded, 2)
	assert.Equal(t, int64(200), excluded[0].OrderID)
	assert.Equal(t, ReasonPartialShortage, excluded[0].Reason)
	assert.Equal(t, 10, excluded[0].Qty)
	assert.Equal(t, int64(201), excluded[1].OrderID)
	assert.Equal(t, ReasonNoComponents, excluded[1].Reason)
}

func TestSelectUnitsCreditsOwnSoftPool(t *testing.T) {
	// Stock soft-reserved for an order at intake stays proposable for that
	// order even with the free pool empty.
	candidates := []candidate{
		{orderID: 300, wanted: 10, recipe: recipe("CAP-100", 2)},
	}
	free := map[string]int{"CAP-100": 0}
	soft := map[int64]map[string]int{300: {"CAP-100": 20}}

	entries, excluded, reallocations := selectUnits(candidates, free, soft, 120)

	require.Len(t, entries, 1)
	assert.Equal(t, 10, entries[0].Qty)
	assert.Empty(t, excluded)
	assert.Empty(t, reallocations)
}

func TestSelectUnitsNeverTakesEqualPrioritySoft(t *testing.T) {
	score := Score(plainOrder(10, 30), scoreNow, 3)
	candidates := []candidate{
		{orderID: 400, wanted: 10, recipe: recipe("A", 1), score: score},
		{orderID: 401, wanted: 10, recipe: recipe("A", 1), score: score},
	}
	free := map[string]int{"A": 0}
	soft := map[int64]map[string]int{401: {"A": 10}}

	entries, excluded, reallocations := selectUnits(candidates, free, soft, 120)

	require.Len(t, entries, 1)
	assert.Equal(t, int64(401), entries[0].OrderID)
	assert.Equal(t, 10, entries[0].Qty)
	assert.Empty(t, reallocations)

	require.Len(t, excluded, 1)
	assert.Equal(t, int64(400), excluded[0].OrderID)
	assert.Equal(t, ReasonNoComponents, excluded[0].Reason)
}

func TestOptimizeForArrayTrimsTail(t *testing.T) {
	plain := Score(plainOrder(10, 30), scoreNow, 3)
	entries := []ProposalEntry{
		{OrderID: 500, Qty: 48, Score: Score(plainOrder(30, -2), scoreNow, 3)},
		{OrderID: 501, Qty: 35, Score: plain},
	}

	out, excluded := optimizeForArray(entries, nil, 8)

	require.Len(t, out, 2)
	assert.Equal(t, 48, out[0].Qty)
	assert.Equal(t, 32, out[1].Qty)
	total := out[0].Qty + out[1].Qty
	assert.Zero(t, total%8)

	require.Len(t, excluded, 1)
	assert.Equal(t, int64(501), excluded[0].OrderID)
	assert.Equal(t, ReasonArrayTrim, excluded[0].Reason)
	assert.Equal(t, 3, excluded[0].Qty)
}

func TestOptimizeForArraySkipsTimeCriticalTail(t *testing.T) {
	entries := []ProposalEntry{
		{OrderID: 500, Qty: 48, Score: Score(plainOrder(10, 30), scoreNow, 3)},
		{OrderID: 501, Qty: 35, Score: Score(plainOrder(30, 1), scoreNow, 3)},
	}

	out, excluded := optimizeForArray(entries, nil, 8)

	assert.Equal(t, 35, out[1].Qty)
	assert.Empty(t, excluded)
}

func TestOptimizeForArrayNoTrimNeeded(t *testing.T) {
	entries := []ProposalEntry{
		{OrderID: 500, Qty: 80, Score: Score(plainOrder(10, 30), scoreNow, 3)},
	}

	out, excluded := optimizeForArray(entries, nil, 8)

	assert.Equal(t, 80, out[0].Qty)
	assert.Empty(t, excluded)
}

func TestOptimizeForArrayDropsEmptiedTail(t *testing.T) {
	entries := []ProposalEntry{
		{OrderID: 500, Qty: 16, Score: Score(plainOrder(10, 30), scoreNow, 3)},
		{OrderID: 501, Qty: 3, Score: Score(plainOrder(5, 30), scoreNow, 3)},
	}

	out, excluded := optimizeForArray(entries, nil, 8)

	require.Len(t, out, 1)
	assert.Equal(t, int64(500), out[0].OrderID)
	require.Len(t, excluded, 1)
	assert.Equal(t, 3, excluded[0].Qty)
}
