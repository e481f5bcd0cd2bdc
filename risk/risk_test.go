package risk

import (
	"testing"

	"github.com/sherwood-labs/signalcore/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestDefaultPortfolioConfig(t *testing.T) {
	cfg := DefaultPortfolioConfig()

	assert.Equal(t, 20, cfg.MaxOpenPositions)
	assert.True(t, cfg.MaxDailyLoss.IsNegative())
}

func TestCheckBudget_Pass(t *testing.T) {
	budget := Budget{
		MaxPremiumLoss:       decimal.NewFromInt(1000),
		MaxCapitalAllocation: decimal.NewFromInt(5000),
	}

	err := CheckBudget(budget, decimal.NewFromFloat(2.5), 2, decimal.NewFromInt(500))
	assert.NoError(t, err)
}

func TestCheckBudget_ExceedsPremiumLoss(t *testing.T) {
	budget := Budget{
		MaxPremiumLoss:       decimal.NewFromInt(100),
		MaxCapitalAllocation: decimal.NewFromInt(5000),
	}

	// premium 5.00 * 2 contracts * 100 multiplier = $1000, exceeds $100 budget
	err := CheckBudget(budget, decimal.NewFromFloat(5.0), 2, decimal.NewFromInt(100))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "premium loss")
}

func TestCheckBudget_ExceedsCapitalAllocation(t *testing.T) {
	budget := Budget{
		MaxPremiumLoss:       decimal.NewFromInt(10000),
		MaxCapitalAllocation: decimal.NewFromInt(100),
	}

	err := CheckBudget(budget, decimal.NewFromFloat(0.5), 1, decimal.NewFromInt(500))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "capital allocation")
}

func TestManager_CheckNewPosition_MaxOpenPositions(t *testing.T) {
	cfg := DefaultPortfolioConfig()
	cfg.MaxOpenPositions = 1
	m := NewManager(cfg)

	m.RecordOpen(models.Position{Quantity: 1, EntryPrice: decimal.NewFromFloat(1.0)})

	err := m.CheckNewPosition(decimal.NewFromInt(100))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "max open positions")
}

func TestManager_CheckNewPosition_CapitalAllocation(t *testing.T) {
	cfg := DefaultPortfolioConfig()
	cfg.MaxCapitalAllocation = decimal.NewFromInt(100)
	m := NewManager(cfg)

	err := m.CheckNewPosition(decimal.NewFromInt(200))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "capital allocation")
}

func TestManager_CheckNewPosition_DailyLoss(t *testing.T) {
	cfg := DefaultPortfolioConfig()
	m := NewManager(cfg)

	loss := decimal.NewFromInt(-5000)
	m.RecordClose(models.Position{RealizedPnL: &loss})

	err := m.CheckNewPosition(decimal.NewFromInt(10))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "daily loss")
}

func TestManager_RecordOpenAndClose(t *testing.T) {
	m := NewManager(DefaultPortfolioConfig())

	pos := models.Position{Quantity: 2, EntryPrice: decimal.NewFromFloat(3.0)}
	m.RecordOpen(pos)
	assert.Equal(t, 1, m.openPositions)
	assert.True(t, m.allocated.Equal(decimal.NewFromInt(600)))

	pnl := decimal.NewFromInt(50)
	pos.RealizedPnL = &pnl
	m.RecordClose(pos)
	assert.Equal(t, 0, m.openPositions)
	assert.True(t, m.DailyPnL().Equal(decimal.NewFromInt(50)))
}

func TestManager_ResetDaily(t *testing.T) {
	m := NewManager(DefaultPortfolioConfig())
	pnl := decimal.NewFromInt(-100)
	m.RecordClose(models.Position{RealizedPnL: &pnl})

	assert.False(t, m.DailyPnL().IsZero())
	m.ResetDaily()
	assert.True(t, m.DailyPnL().IsZero())
}
