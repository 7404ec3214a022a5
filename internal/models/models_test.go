package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModuleLineComponents(t *testing.T) {
	line := ModuleLine{Recipe: []byte(`[{"sku":"CAP-100","qty_per_unit":2},{"sku":"RES-220","qty_per_unit":1}]`)}

	reqs, err := line.Components()
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, "CAP-100", reqs[0].SKU)
	assert.Equal(t, 2, reqs[0].QtyPerUnit)

	line.Recipe = []byte(`{not json`)
	_, err = line.Components()
	assert.Error(t, err)
}

func TestSKUBalanceFree(t *testing.T) {
	bal := SKUBalance{OnHand: 100, SoftReserved: 30, HardLocked: 20}
	assert.Equal(t, 50, bal.Free())
}

func TestArrayDefUnitsPerPanel(t *testing.T) {
	assert.Equal(t, 8, ArrayDef{Rows: 2, Columns: 4}.UnitsPerPanel())
}

func TestShortageErrorMessage(t *testing.T) {
	err := &ShortageError{Lines: []ShortageLine{
		{SKU: "CAP-100", Required: 40, Free: 25},
		{SKU: "RES-220", Required: 10, Free: 0},
	}}

	assert.Equal(t, 15, err.Lines[0].Deficit())
	assert.Contains(t, err.Error(), "CAP-100 short 15")
	assert.Contains(t, err.Error(), "RES-220 short 10")
}
