// Package risk provides the budget gate consulted by the strike selector
// and the portfolio-level caps enforced ahead of paper order creation.
package risk

import (
	"fmt"

	"github.com/sherwood-labs/signalcore/models"
	"github.com/shopspring/decimal"
)

// Budget is the per-signal risk envelope carried on the strike selector's
// input (spec.md §4.5: riskBudget{maxPremiumLoss, maxCapitalAllocation}).
type Budget struct {
	MaxPremiumLoss      decimal.Decimal
	MaxCapitalAllocation decimal.Decimal
}

// PortfolioConfig holds the account-wide caps enforced by Manager,
// independent of any single signal's Budget.
type PortfolioConfig struct {
	// MaxDailyLoss is the realized-P&L floor; breaching it halts new entries.
	MaxDailyLoss decimal.Decimal
	// MaxOpenPositions caps concurrent open positions across both engines.
	MaxOpenPositions int
	// MaxCapitalAllocation caps aggregate cost basis of open positions.
	MaxCapitalAllocation decimal.Decimal
}

// DefaultPortfolioConfig returns conservative paper-trading defaults.
func DefaultPortfolioConfig() PortfolioConfig {
	return PortfolioConfig{
		MaxDailyLoss:         decimal.NewFromInt(-1000),
		MaxOpenPositions:     20,
		MaxCapitalAllocation: decimal.NewFromInt(50000),
	}
}

// Manager enforces the portfolio-level risk caps. orchestrator.processOne
// consults CheckNewPosition before inserting an entry order, and
// paperexec folds RecordOpen/RecordClose into its fill path, in addition
// to the per-candidate budget check the strike selector performs itself.
type Manager struct {
	config       PortfolioConfig
	dailyPnL     decimal.Decimal
	openPositions int
	allocated    decimal.Decimal
}

// NewManager constructs a Manager with the given config as-is. Zero-valued
// fields are not defaulted: a zero MaxOpenPositions admits no new position.
func NewManager(config PortfolioConfig) *Manager {
	return &Manager{config: config}
}

// CheckBudget evaluates a candidate contract's premium·contracts and
// capital against the per-signal Budget — this is the strike selector's
// step 7 "budget check" (spec.md §4.5).
func CheckBudget(budget Budget, premium decimal.Decimal, contracts int, capital decimal.Decimal) error {
	premiumLoss := premium.Mul(decimal.NewFromInt(int64(contracts))).Mul(decimal.NewFromInt(100))
	if premiumLoss.GreaterThan(budget.MaxPremiumLoss) {
		return fmt.Errorf("premium loss %s exceeds budget %s", premiumLoss, budget.MaxPremiumLoss)
	}
	if capital.GreaterThan(budget.MaxCapitalAllocation) {
		return fmt.Errorf("capital allocation %s exceeds budget %s", capital, budget.MaxCapitalAllocation)
	}
	return nil
}

// CheckNewPosition evaluates whether the portfolio can absorb another open
// position of the given cost basis. Returns a logical (non-retryable)
// error when any cap is breached (spec.md §7 "Logical" error kind).
func (m *Manager) CheckNewPosition(costBasis decimal.Decimal) error {
	if m.dailyPnL.LessThan(m.config.MaxDailyLoss) {
		return fmt.Errorf("daily loss limit breached: %s", m.dailyPnL)
	}
	if m.openPositions >= m.config.MaxOpenPositions {
		return fmt.Errorf("max open positions reached: %d", m.config.MaxOpenPositions)
	}
	if m.allocated.Add(costBasis).GreaterThan(m.config.MaxCapitalAllocation) {
		return fmt.Errorf("capital allocation would exceed portfolio cap: %s", m.config.MaxCapitalAllocation)
	}
	return nil
}

// RecordOpen tracks a newly opened position against the allocation caps.
func (m *Manager) RecordOpen(pos models.Position) {
	m.openPositions++
	m.allocated = m.allocated.Add(pos.CostBasis())
}

// RecordClose releases a closed position's allocation and folds its
// realized P&L into the daily tally.
func (m *Manager) RecordClose(pos models.Position) {
	if m.openPositions > 0 {
		m.openPositions--
	}
	m.allocated = m.allocated.Sub(pos.CostBasis())
	if pos.RealizedPnL != nil {
		m.dailyPnL = m.dailyPnL.Add(*pos.RealizedPnL)
	}
}

// ResetDaily clears the daily P&L tally. Nothing in this module calls it;
// the tally keeps accumulating until a caller does.
func (m *Manager) ResetDaily() {
	m.dailyPnL = decimal.Zero
}

// DailyPnL returns the current daily realized P&L.
func (m *Manager) DailyPnL() decimal.Decimal {
	return m.dailyPnL
}
