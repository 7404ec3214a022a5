package models

import (
	"encoding/json"
	"time"
)

// Order represents a customer order as written by the intake system.
// The scheduler only ever transitions Status and reads the priority inputs.
type Order struct {
	ID              int64      `db:"id" json:"id"`
	CustomerRef     string     `db:"customer_ref" json:"customer_ref"`
	Status          string     `db:"status" json:"status"`
	PromisedDate    time.Time  `db:"promised_date" json:"promised_date"`
	ManualExpedite  int        `db:"manual_expedite" json:"manual_expedite"`
	PaidExpedite    int        `db:"paid_expedite" json:"paid_expedite"`
	CancelledAt     *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// Order statuses written back to the order source.
const (
	OrderStatusQueued       = "QUEUED"
	OrderStatusInProduction = "IN_PRODUCTION"
	OrderStatusReady        = "READY"
	OrderStatusCancelled    = "CANCELLED"
)

// ComponentRequirement is one line of a module recipe: how many units of a
// component SKU each built module consumes.
type ComponentRequirement struct {
	SKU        string `json:"sku"`
	QtyPerUnit int    `json:"qty_per_unit"`
}

// ModuleLine is the remaining-to-build quantity of one base type within one
// order. QtyRemaining only decreases when units ship in a completed batch.
type ModuleLine struct {
	ID           int64           `db:"id" json:"id"`
	OrderID      int64           `db:"order_id" json:"order_id"`
	BaseType     string          `db:"base_type" json:"base_type"`
	Recipe       json.RawMessage `db:"recipe" json:"recipe"`
	QtyOrdered   int             `db:"qty_ordered" json:"qty_ordered"`
	QtyRemaining int             `db:"qty_remaining" json:"qty_remaining"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// Components decodes the JSON recipe column.
func (ml *ModuleLine) Components() ([]ComponentRequirement, error) {
	var reqs []ComponentRequirement
	if err := json.Unmarshal(ml.Recipe, &reqs); err != nil {
		return nil, err
	}
	return reqs, nil
}

// SKUBalance is the ledger row for one component SKU.
// Invariant: SoftReserved + HardLocked <= OnHand after every mutation.
type SKUBalance struct {
	SKU          string    `db:"sku" json:"sku"`
	OnHand       int       `db:"on_hand" json:"on_hand"`
	SoftReserved int       `db:"soft_reserved" json:"soft_reserved"`
	HardLocked   int       `db:"hard_locked" json:"hard_locked"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Free is the quantity available to new claims.
func (b SKUBalance) Free() int {
	return b.OnHand - b.SoftReserved - b.HardLocked
}

// Reservation tiers.
const (
	TierSoft = "SOFT"
	TierHard = "HARD"
)

// Reservation is a component claim. Soft reservations belong to an order and
// are reassignable; hard reservations also carry the owning batch and are
// immutable until that batch completes or is cancelled.
type Reservation struct {
	ID        int64     `db:"id" json:"id"`
	SKU       string    `db:"sku" json:"sku"`
	OrderID   int64     `db:"order_id" json:"order_id"`
	BatchID   *int64    `db:"batch_id" json:"batch_id,omitempty"`
	Qty       int       `db:"qty" json:"qty"`
	Tier      string    `db:"tier" json:"tier"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Batch states.
const (
	BatchStateDraft     = "DRAFT"
	BatchStateActive    = "ACTIVE"
	BatchStateOnHold    = "ON_HOLD"
	BatchStateComplete  = "COMPLETE"
	BatchStateCancelled = "CANCELLED"
)

// Batch is a single-tooling production run. Rows are never deleted; terminal
// batches are retained for audit.
type Batch struct {
	ID           int64     `db:"id" json:"id"`
	BaseType     string    `db:"base_type" json:"base_type"`
	State        string    `db:"state" json:"state"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	LastActivity time.Time `db:"last_activity" json:"last_activity"`
}

// BatchEntry is one order's contribution to a batch, in composition order.
type BatchEntry struct {
	ID       int64 `db:"id" json:"id"`
	BatchID  int64 `db:"batch_id" json:"batch_id"`
	OrderID  int64 `db:"order_id" json:"order_id"`
	Position int   `db:"position" json:"position"`
	Qty      int   `db:"qty" json:"qty"`
}

// ArrayDef maps a base type to its panel geometry. UnitsPerPanel drives the
// array optimization step of composition.
type ArrayDef struct {
	BaseType string `db:"base_type" json:"base_type"`
	Rows     int    `db:"rows" json:"rows"`
	Columns  int    `db:"columns" json:"columns"`
}

// UnitsPerPanel returns how many modules one physical panel yields.
func (a ArrayDef) UnitsPerPanel() int {
	return a.Rows * a.Columns
}

// OrderCompletion is the built/total progress of an order across batches.
type OrderCompletion struct {
	OrderID int64 `json:"order_id"`
	Built   int   `json:"built"`
	Total   int   `json:"total"`
}

// ProcessedEvent for consumer idempotency.
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
