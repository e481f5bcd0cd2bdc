package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ContractType is the option right.
type ContractType string

const (
	ContractTypeCall ContractType = "call"
	ContractTypePut  ContractType = "put"
)

// OrderStatus represents the current state of a paper order.
type OrderStatus string

const (
	// OrderStatusPendingExecution is the initial state; awaiting a paper fill.
	OrderStatusPendingExecution OrderStatus = "pending_execution"
	// OrderStatusFilled indicates a simulated fill occurred and a Trade exists.
	OrderStatusFilled OrderStatus = "filled"
	// OrderStatusFailed indicates the fill attempt could not be completed.
	OrderStatusFailed OrderStatus = "failed"
	// OrderStatusCancelled indicates the order was cancelled before a fill.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order is a paper order: an entry order produced by the Orchestrator for
// a signal/engine pair, or an exit order produced by the Exit Monitor
// (SignalID nil in that case).
//
// Invariant: unique per (SignalID, Engine, OrderType) for entry orders —
// this is what guarantees at-most-once entry per engine (spec.md §8.5).
type Order struct {
	ID           string          `json:"id" db:"id"`
	SignalID     *string         `json:"signal_id,omitempty" db:"signal_id"`
	Engine       *Variant        `json:"engine,omitempty" db:"engine"`
	ExperimentID *string         `json:"experiment_id,omitempty" db:"experiment_id"`
	Symbol       string          `json:"symbol" db:"symbol"`
	OptionSymbol string          `json:"option_symbol" db:"option_symbol"`
	Strike       decimal.Decimal `json:"strike" db:"strike"`
	Expiration   time.Time       `json:"expiration" db:"expiration"`
	Type         ContractType    `json:"type" db:"type"`
	Quantity     int             `json:"quantity" db:"quantity"`
	OrderType    string          `json:"order_type" db:"order_type"` // always "paper"
	Status       OrderStatus     `json:"status" db:"status"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Trade is created iff an Order transitions to OrderStatusFilled.
type Trade struct {
	ID            string          `json:"id" db:"id"`
	OrderID       string          `json:"order_id" db:"order_id"`
	FillPrice     decimal.Decimal `json:"fill_price" db:"fill_price"`
	FillQuantity  int             `json:"fill_quantity" db:"fill_quantity"`
	FillTimestamp time.Time       `json:"fill_timestamp" db:"fill_timestamp"`
	Engine        *Variant        `json:"engine,omitempty" db:"engine"`
	ExperimentID  *string         `json:"experiment_id,omitempty" db:"experiment_id"`
}
