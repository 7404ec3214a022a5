package models

import "time"

// Event types
const (
	EventTypeOrderQueued      = "ORDER_QUEUED"
	EventTypeOrderCompleted   = "ORDER_COMPLETED"
	EventTypeBatchFinalized   = "BATCH_FINALIZED"
	EventTypeBatchCompleted   = "BATCH_COMPLETED"
	EventTypeBatchCancelled   = "BATCH_CANCELLED"
	EventTypeStallAlert       = "STALL_ALERT"
	EventTypeInventoryUpdated = "INVENTORY_UPDATED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderQueuedEvent is published by the intake system when an order enters the
// production queue. The scheduler consumes it to create module lines and the
// initial soft reservations.
type OrderQueuedEvent struct {
	BaseEvent
	OrderID      int64            `json:"order_id"`
	PromisedDate time.Time        `json:"promised_date"`
	Lines        []QueuedLineData `json:"lines"`
}

// QueuedLineData is one module line in an OrderQueued event.
type QueuedLineData struct {
	BaseType string                 `json:"base_type"`
	Qty      int                    `json:"qty"`
	Recipe   []ComponentRequirement `json:"recipe"`
}

// OrderCompletedEvent fires when an order's aggregate remaining quantity
// across all module lines reaches zero.
type OrderCompletedEvent struct {
	BaseEvent
	OrderID int64 `json:"order_id"`
	Built   int   `json:"built"`
}

// BatchEntryData is one (order, qty) entry in a batch event.
type BatchEntryData struct {
	OrderID int64 `json:"order_id"`
	Qty     int   `json:"qty"`
}

// BatchFinalizedEvent is published when a draft batch hard-locks its
// components and goes active.
type BatchFinalizedEvent struct {
	BaseEvent
	BatchID  int64            `json:"batch_id"`
	BaseType string           `json:"base_type"`
	Entries  []BatchEntryData `json:"entries"`
}

// BatchCompletedEvent is published when production of a batch finishes.
type BatchCompletedEvent struct {
	BaseEvent
	BatchID  int64            `json:"batch_id"`
	BaseType string           `json:"base_type"`
	Entries  []BatchEntryData `json:"entries"`
}

// BatchCancelledEvent is published on the cancel path; locked components have
// been restored to the originating orders' soft pools.
type BatchCancelledEvent struct {
	BaseEvent
	BatchID int64  `json:"batch_id"`
	Reason  string `json:"reason"`
}

// StallAlertEvent names a batch that has held hard locks with no lifecycle
// activity past the configured threshold. Informational only.
type StallAlertEvent struct {
	BaseEvent
	BatchID          int64          `json:"batch_id"`
	BaseType         string         `json:"base_type"`
	State            string         `json:"state"`
	IdleBusinessDays int            `json:"idle_business_days"`
	Occurrence       int            `json:"occurrence"`
	LockedComponents map[string]int `json:"locked_components"`
}

// InventoryUpdatedEvent is published by the warehouse system when on-hand
// stock changes; the scheduler refreshes the ledger from it.
type InventoryUpdatedEvent struct {
	BaseEvent
	SKU    string `json:"sku"`
	OnHand int    `json:"on_hand"`
}
