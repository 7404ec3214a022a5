package service

import (
	"testing"

	"production-scheduler/internal/models"
	"production-scheduler/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateComposition(t *testing.T) {
	var invalid *models.InvalidCompositionError

	err := validateComposition(nil)
	assert.ErrorAs(t, err, &invalid)

	err = validateComposition([]models.BatchEntryData{
		{OrderID: 1, Qty: 10},
		{OrderID: 2, Qty: 0},
	})
	assert.ErrorAs(t, err, &invalid)
	assert.Contains(t, err.Error(), "non-positive")

	err = validateComposition([]models.BatchEntryData{
		{OrderID: 1, Qty: 10},
		{OrderID: 1, Qty: 5},
	})
	assert.ErrorAs(t, err, &invalid)
	assert.Contains(t, err.Error(), "appears twice")

	assert.NoError(t, validateComposition([]models.BatchEntryData{
		{OrderID: 1, Qty: 10},
		{OrderID: 2, Qty: 5},
	}))
}

func TestBuildLockLinesValidatesRemaining(t *testing.T) {
	linesByOrder := map[int64][]models.ModuleLine{
		7: {{
			OrderID:      7,
			BaseType:     "CTRL-A",
			Recipe:       []byte(`[{"sku":"CAP-100","qty_per_unit":2}]`),
			QtyOrdered:   10,
			QtyRemaining: 4,
		}},
	}

	lines, err := buildLockLines("CTRL-A", []models.BatchEntry{{OrderID: 7, Qty: 4}}, linesByOrder)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, store.LockLine{OrderID: 7, SKU: "CAP-100", Qty: 8}, lines[0])

	// An operator-edited entry above the line's remainder is rejected at
	// finalize, not clamped at completion.
	var invalid *models.InvalidCompositionError
	_, err = buildLockLines("CTRL-A", []models.BatchEntry{{OrderID: 7, Qty: 5}}, linesByOrder)
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, err.Error(), "exceeds 4 remaining")

	_, err = buildLockLines("CTRL-B", []models.BatchEntry{{OrderID: 7, Qty: 4}}, linesByOrder)
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, err.Error(), "no CTRL-B module line")
}
