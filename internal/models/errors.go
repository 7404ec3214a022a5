package models

import (
	"fmt"
	"strings"
)

// ShortageLine names one SKU that could not be hard-locked in full.
type ShortageLine struct {
	SKU      string `json:"sku"`
	Required int    `json:"required"`
	Free     int    `json:"free"`
}

// Deficit is the missing quantity for this line.
func (l ShortageLine) Deficit() int {
	return l.Required - l.Free
}

// ShortageError is returned when a hard lock cannot satisfy every line of a
// batch. The ledger is left untouched; the batch stays in draft.
type ShortageError struct {
	Lines []ShortageLine
}

func (e *ShortageError) Error() string {
	parts := make([]string, len(e.Lines))
	for i, l := range e.Lines {
		parts[i] = fmt.Sprintf("%s short %d (need %d, free %d)", l.SKU, l.Deficit(), l.Required, l.Free)
	}
	return "insufficient components: " + strings.Join(parts, ", ")
}

// InvalidCompositionError rejects a batch before any ledger mutation:
// mixed base types, empty composition, or non-positive quantities.
type InvalidCompositionError struct {
	Reason string
}

func (e *InvalidCompositionError) Error() string {
	return "invalid batch composition: " + e.Reason
}

// UnknownOrderError reports a reference to an order the scheduler does not know.
type UnknownOrderError struct {
	OrderID int64
}

func (e *UnknownOrderError) Error() string {
	return fmt.Sprintf("unknown order: %d", e.OrderID)
}

// UnknownSKUError reports a reference to a component SKU with no ledger row.
type UnknownSKUError struct {
	SKU string
}

func (e *UnknownSKUError) Error() string {
	return "unknown sku: " + e.SKU
}

// ConcurrentModificationError means a ledger or lifecycle mutation lost a
// race. The caller retries with a fresh snapshot; stale proposals are never
// reapplied silently.
type ConcurrentModificationError struct {
	Op string
}

func (e *ConcurrentModificationError) Error() string {
	return "concurrent modification during " + e.Op
}
