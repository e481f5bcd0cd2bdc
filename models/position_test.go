package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestPosition_Fields(t *testing.T) {
	pos := Position{
		Symbol:       "AAPL",
		OptionSymbol: "AAPL240621C00190000",
		Quantity:     2,
		EntryPrice:   decimal.NewFromFloat(5.0),
		Status:       PositionStatusOpen,
	}

	assert.Equal(t, "AAPL", pos.Symbol)
	assert.Equal(t, 2, pos.Quantity)
	assert.Equal(t, PositionStatusOpen, pos.Status)
}

func TestPosition_CostBasis(t *testing.T) {
	pos := Position{
		Quantity:   3,
		EntryPrice: decimal.NewFromFloat(2.5),
	}

	// 3 contracts * $2.50 * 100 multiplier = $750
	assert.True(t, decimal.NewFromInt(750).Equal(pos.CostBasis()))
}

func TestExitRule_Defaults(t *testing.T) {
	pt := 50.0
	sl := 30.0
	rule := ExitRule{
		ProfitTargetPercent: &pt,
		StopLossPercent:     &sl,
		Enabled:             true,
	}

	assert.True(t, rule.Enabled)
	assert.Equal(t, 50.0, *rule.ProfitTargetPercent)
}
