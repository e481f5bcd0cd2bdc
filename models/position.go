package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus is the lifecycle state of an open options position.
type PositionStatus string

const (
	// PositionStatusOpen is the normal live state; Quantity > 0.
	PositionStatusOpen PositionStatus = "open"
	// PositionStatusClosing is a one-way reservation made by the Exit
	// Monitor while an exit order is in flight. Only the Paper Executor's
	// fill of that exit order can move it to PositionStatusClosed.
	PositionStatusClosing PositionStatus = "closing"
	// PositionStatusClosed is terminal.
	PositionStatusClosed PositionStatus = "closed"
)

// Position represents a held (or formerly held) option contract.
type Position struct {
	ID                string          `json:"id" db:"id"`
	Symbol            string          `json:"symbol" db:"symbol"`
	OptionSymbol      string          `json:"option_symbol" db:"option_symbol"`
	Strike            decimal.Decimal `json:"strike" db:"strike"`
	Expiration        time.Time       `json:"expiration" db:"expiration"`
	Type              ContractType    `json:"type" db:"type"`
	Quantity          int             `json:"quantity" db:"quantity"`
	EntryPrice        decimal.Decimal `json:"entry_price" db:"entry_price"`
	EntryTimestamp    time.Time       `json:"entry_timestamp" db:"entry_timestamp"`
	Status            PositionStatus  `json:"status" db:"status"`
	ExitReason        *string         `json:"exit_reason,omitempty" db:"exit_reason"`
	ExitTimestamp     *time.Time      `json:"exit_timestamp,omitempty" db:"exit_timestamp"`
	RealizedPnL       *decimal.Decimal `json:"realized_pnl,omitempty" db:"realized_pnl"`
	Engine            *Variant        `json:"engine,omitempty" db:"engine"`
	ExperimentID      *string         `json:"experiment_id,omitempty" db:"experiment_id"`
	EntryBiasSnapshot *string         `json:"entry_bias_snapshot,omitempty" db:"entry_bias_snapshot"`
	LastUpdated       time.Time       `json:"last_updated" db:"last_updated"`
}

// CostBasis returns the total premium paid for the position (entry price
// times quantity times the option contract multiplier of 100).
func (p Position) CostBasis() decimal.Decimal {
	return p.EntryPrice.Mul(decimal.NewFromInt(int64(p.Quantity))).Mul(decimal.NewFromInt(100))
}

// ExitRule is the current, enabled exit policy governing the Exit Monitor.
type ExitRule struct {
	ID                 string   `json:"id" db:"id"`
	ProfitTargetPercent *float64 `json:"profit_target_percent,omitempty" db:"profit_target_percent"`
	StopLossPercent     *float64 `json:"stop_loss_percent,omitempty" db:"stop_loss_percent"`
	MaxHoldTimeHours    *float64 `json:"max_hold_time_hours,omitempty" db:"max_hold_time_hours"`
	MinDTEExit          *int     `json:"min_dte_exit,omitempty" db:"min_dte_exit"`
	Enabled             bool     `json:"enabled" db:"enabled"`
}
