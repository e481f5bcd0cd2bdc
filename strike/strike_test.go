package strike

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sherwood-labs/signalcore/market"
	"github.com/sherwood-labs/signalcore/models"
	"github.com/sherwood-labs/signalcore/risk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseInput(now time.Time) Input {
	return Input{
		Symbol:    "SPY",
		SpotPrice: decimal.NewFromInt(500),
		Direction: models.DirectionLong,
		SetupType: market.SetupSwing,
		Regime:    market.RegimeBull,
		GexState:  market.GexPositiveLow,
		Budget: risk.Budget{
			MaxPremiumLoss:       decimal.NewFromInt(10000),
			MaxCapitalAllocation: decimal.NewFromInt(10000),
		},
		Contracts: 1,
		Now:       now,
	}
}

func goodRow(now time.Time) market.OptionRow {
	return market.OptionRow{
		Symbol:       "SPY",
		Strike:       decimal.NewFromInt(505),
		Expiration:   now.Add(45 * 24 * time.Hour),
		Type:         models.ContractTypeCall,
		Bid:          decimal.NewFromFloat(4.90),
		Ask:          decimal.NewFromFloat(5.10),
		Mid:          decimal.NewFromFloat(5.00),
		OpenInterest: 1000,
		Volume:       500,
		Delta:        0.32,
		IVPercentile: 40,
	}
}

func TestSelect_HappyPath(t *testing.T) {
	now := time.Now()
	in := baseInput(now)
	in.OptionChain = []market.OptionRow{goodRow(now)}

	result := Select(in, DefaultPolicies())
	require.True(t, result.Success)
	require.NotNil(t, result.TradeContract)
	assert.Equal(t, FailureNone, result.FailureReason)
}

func TestSelect_DTEFiltered(t *testing.T) {
	now := time.Now()
	in := baseInput(now)
	row := goodRow(now)
	row.Expiration = now.Add(5 * 24 * time.Hour)
	in.OptionChain = []market.OptionRow{row}

	result := Select(in, DefaultPolicies())
	assert.False(t, result.Success)
	assert.Equal(t, FailureDTEFilter, result.FailureReason)
}

func TestSelect_DeltaFiltered(t *testing.T) {
	now := time.Now()
	in := baseInput(now)
	row := goodRow(now)
	row.Delta = 0.05
	in.OptionChain = []market.OptionRow{row}

	result := Select(in, DefaultPolicies())
	assert.False(t, result.Success)
	assert.Equal(t, FailureDeltaFilter, result.FailureReason)
}

func TestSelect_LiquidityFiltered(t *testing.T) {
	now := time.Now()
	in := baseInput(now)
	row := goodRow(now)
	row.OpenInterest = 1
	row.Volume = 1
	in.OptionChain = []market.OptionRow{row}

	result := Select(in, DefaultPolicies())
	assert.False(t, result.Success)
	assert.Equal(t, FailureLiquidityFilter, result.FailureReason)
}

func TestSelect_RegimeBlock_PositiveHighGammaDelaysCalls(t *testing.T) {
	now := time.Now()
	in := baseInput(now)
	in.GexState = market.GexPositiveHigh
	in.OptionChain = []market.OptionRow{goodRow(now)}

	result := Select(in, DefaultPolicies())
	assert.False(t, result.Success)
	assert.Equal(t, FailureRegimeBlock, result.FailureReason)
}

func TestSelect_BudgetExceeded(t *testing.T) {
	now := time.Now()
	in := baseInput(now)
	in.Budget = risk.Budget{
		MaxPremiumLoss:       decimal.NewFromInt(1),
		MaxCapitalAllocation: decimal.NewFromInt(1),
	}
	in.OptionChain = []market.OptionRow{goodRow(now)}

	result := Select(in, DefaultPolicies())
	assert.False(t, result.Success)
	assert.Equal(t, FailureBudgetExceeded, result.FailureReason)
}

func TestSelect_NoValidStrike_UnknownSetupType(t *testing.T) {
	now := time.Now()
	in := baseInput(now)
	in.SetupType = "BOGUS"
	in.OptionChain = []market.OptionRow{goodRow(now)}

	result := Select(in, DefaultPolicies())
	assert.False(t, result.Success)
	assert.Equal(t, FailureNoValidStrike, result.FailureReason)
}

func TestPickBest_TieBreaksOnDTEThenOpenInterest(t *testing.T) {
	near := candidate{row: market.OptionRow{Strike: decimal.NewFromInt(505), OpenInterest: 100}, scores: Scores{Total: 0.8}, dte: 45}
	far := candidate{row: market.OptionRow{Strike: decimal.NewFromInt(510), OpenInterest: 500}, scores: Scores{Total: 0.8}, dte: 85}

	best := pickBest([]candidate{far, near}, 45)
	assert.True(t, best.row.Strike.Equal(decimal.NewFromInt(505)))

	sameDTE := []candidate{
		{row: market.OptionRow{Strike: decimal.NewFromInt(1), OpenInterest: 100}, scores: Scores{Total: 0.8}, dte: 45},
		{row: market.OptionRow{Strike: decimal.NewFromInt(2), OpenInterest: 900}, scores: Scores{Total: 0.8}, dte: 45},
	}
	best = pickBest(sameDTE, 45)
	assert.Equal(t, 900, best.row.OpenInterest)
}
