// Package strike implements the Strike Selector (C6): given an option
// chain and market context, filters and scores candidate contracts and
// picks one, or reports why none qualified (spec.md §4.5). The selector
// is a pure function of its inputs; all market data and risk parameters
// arrive already fetched.
package strike

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/sherwood-labs/signalcore/market"
	"github.com/sherwood-labs/signalcore/models"
	"github.com/sherwood-labs/signalcore/risk"
)

// FailureReason enumerates why selection produced no contract.
type FailureReason string

const (
	FailureNone             FailureReason = ""
	FailureNoValidStrike    FailureReason = "NO_VALID_STRIKE"
	FailureLiquidityFilter  FailureReason = "LIQUIDITY_FILTERED"
	FailureDTEFilter        FailureReason = "DTE_FILTERED"
	FailureDeltaFilter      FailureReason = "DELTA_FILTERED"
	FailureBudgetExceeded   FailureReason = "BUDGET_EXCEEDED"
	FailureRegimeBlock      FailureReason = "REGIME_BLOCK"
)

// Policy is the per-setupType parameterization of DTE range, delta band,
// liquidity gate, volatility band, and scoring weights (spec.md §4.5).
type Policy struct {
	MinDTE, MaxDTE         int
	PreferredDTE           int
	MinDelta, MaxDelta     float64
	MaxSpreadPct           float64
	MinOpenInterest        int
	MinVolume              int
	MinIVPercentile        float64
	MaxIVPercentile        float64
	WeightLiquidity        float64
	WeightGreeksStability  float64
	WeightThetaSurvival    float64
	WeightVegaAlignment    float64
	WeightCostEfficiency   float64
	WeightGexSuitability   float64
}

// DefaultPolicies returns the built-in per-setupType parameter table.
// Values are illustrative defaults (spec.md §4.5 gives SWING as an
// example: DTE 21-90 preferred 30-60, delta |0.25,0.40|).
func DefaultPolicies() map[market.SetupType]Policy {
	return map[market.SetupType]Policy{
		market.SetupScalpGuarded: {
			MinDTE: 0, MaxDTE: 7, PreferredDTE: 2,
			MinDelta: 0.40, MaxDelta: 0.60,
			MaxSpreadPct: 8, MinOpenInterest: 500, MinVolume: 200,
			MinIVPercentile: 20, MaxIVPercentile: 90,
			WeightLiquidity: 0.30, WeightGreeksStability: 0.10, WeightThetaSurvival: 0.05,
			WeightVegaAlignment: 0.15, WeightCostEfficiency: 0.25, WeightGexSuitability: 0.15,
		},
		market.SetupSwing: {
			MinDTE: 21, MaxDTE: 90, PreferredDTE: 45,
			MinDelta: 0.25, MaxDelta: 0.40,
			MaxSpreadPct: 6, MinOpenInterest: 250, MinVolume: 50,
			MinIVPercentile: 10, MaxIVPercentile: 80,
			WeightLiquidity: 0.20, WeightGreeksStability: 0.20, WeightThetaSurvival: 0.20,
			WeightVegaAlignment: 0.15, WeightCostEfficiency: 0.15, WeightGexSuitability: 0.10,
		},
		market.SetupPosition: {
			MinDTE: 60, MaxDTE: 180, PreferredDTE: 90,
			MinDelta: 0.20, MaxDelta: 0.35,
			MaxSpreadPct: 6, MinOpenInterest: 100, MinVolume: 25,
			MinIVPercentile: 5, MaxIVPercentile: 70,
			WeightLiquidity: 0.15, WeightGreeksStability: 0.25, WeightThetaSurvival: 0.25,
			WeightVegaAlignment: 0.15, WeightCostEfficiency: 0.10, WeightGexSuitability: 0.10,
		},
		market.SetupLEAPS: {
			MinDTE: 180, MaxDTE: 730, PreferredDTE: 365,
			MinDelta: 0.60, MaxDelta: 0.80,
			MaxSpreadPct: 5, MinOpenInterest: 50, MinVolume: 10,
			MinIVPercentile: 0, MaxIVPercentile: 60,
			WeightLiquidity: 0.10, WeightGreeksStability: 0.30, WeightThetaSurvival: 0.30,
			WeightVegaAlignment: 0.10, WeightCostEfficiency: 0.10, WeightGexSuitability: 0.10,
		},
	}
}

// Input collects everything the selector needs (spec.md §4.5 "Input").
type Input struct {
	Symbol          string
	SpotPrice       decimal.Decimal
	Direction       models.Direction
	SetupType       market.SetupType
	SignalConfidence float64
	Regime          market.Regime
	GexState        market.GexState
	Budget          risk.Budget
	Contracts       int
	OptionChain     []market.OptionRow
	Now             time.Time
}

// Scores is the weighted per-dimension breakdown for the chosen contract.
type Scores struct {
	Liquidity       float64
	GreeksStability float64
	ThetaSurvival   float64
	VegaAlignment   float64
	CostEfficiency  float64
	GexSuitability  float64
	Total           float64
}

// Result is the selector's output (spec.md §4.5 "Output").
type Result struct {
	Success       bool
	TradeContract *market.OptionRow
	Scores        *Scores
	Rationale     []string
	FailureReason FailureReason
}

type candidate struct {
	row    market.OptionRow
	scores Scores
	dte    int
}

// Select runs the ordered filter and scoring pipeline over in.OptionChain.
func Select(in Input, policies map[market.SetupType]Policy) Result {
	policy, ok := policies[in.SetupType]
	if !ok {
		return Result{Success: false, FailureReason: FailureNoValidStrike, Rationale: []string{"unknown setup type"}}
	}

	wantType := models.ContractTypeCall
	if in.Direction == models.DirectionShort {
		wantType = models.ContractTypePut
	}

	if blocked, reason := regimeDelayed(in.Regime, in.GexState, wantType); blocked {
		return Result{Success: false, FailureReason: FailureRegimeBlock, Rationale: []string{reason}}
	}

	var dteSurvivors []market.OptionRow
	for _, row := range in.OptionChain {
		if row.Type != wantType {
			continue
		}
		dte := int(row.Expiration.Sub(in.Now).Hours() / 24)
		if dte < policy.MinDTE || dte > policy.MaxDTE {
			continue
		}
		dteSurvivors = append(dteSurvivors, row)
	}
	if len(dteSurvivors) == 0 {
		return Result{Success: false, FailureReason: FailureDTEFilter, Rationale: []string{"no contract within DTE policy"}}
	}

	var deltaSurvivors []market.OptionRow
	for _, row := range dteSurvivors {
		absDelta := row.Delta
		if absDelta < 0 {
			absDelta = -absDelta
		}
		if absDelta < policy.MinDelta || absDelta > policy.MaxDelta {
			continue
		}
		deltaSurvivors = append(deltaSurvivors, row)
	}
	if len(deltaSurvivors) == 0 {
		return Result{Success: false, FailureReason: FailureDeltaFilter, Rationale: []string{"no contract within delta band"}}
	}

	var liquiditySurvivors []market.OptionRow
	for _, row := range deltaSurvivors {
		if !liquidityOK(row, policy) {
			continue
		}
		if row.IVPercentile < policy.MinIVPercentile || row.IVPercentile > policy.MaxIVPercentile {
			continue
		}
		liquiditySurvivors = append(liquiditySurvivors, row)
	}
	if len(liquiditySurvivors) == 0 {
		return Result{Success: false, FailureReason: FailureLiquidityFilter, Rationale: []string{"no contract passed liquidity/volatility gate"}}
	}

	candidates := make([]candidate, 0, len(liquiditySurvivors))
	for _, row := range liquiditySurvivors {
		dte := int(row.Expiration.Sub(in.Now).Hours() / 24)
		scores := score(row, policy, in.GexState, dte)
		candidates = append(candidates, candidate{row: row, scores: scores, dte: dte})
	}

	best := pickBest(candidates, policy.PreferredDTE)

	premium := best.row.Mid
	if err := risk.CheckBudget(in.Budget, premium, in.Contracts, premium.Mul(decimal.NewFromInt(int64(in.Contracts*100)))); err != nil {
		return Result{Success: false, FailureReason: FailureBudgetExceeded, Rationale: []string{err.Error()}}
	}

	row := best.row
	return Result{
		Success:       true,
		TradeContract: &row,
		Scores: &Scores{
			Liquidity:       best.scores.Liquidity,
			GreeksStability: best.scores.GreeksStability,
			ThetaSurvival:   best.scores.ThetaSurvival,
			VegaAlignment:   best.scores.VegaAlignment,
			CostEfficiency:  best.scores.CostEfficiency,
			GexSuitability:  best.scores.GexSuitability,
			Total:           best.scores.Total,
		},
		Rationale: []string{
			"passed DTE, delta, liquidity, volatility filters",
			"selected highest composite score with tie-break on DTE proximity then open interest",
		},
	}
}

// regimeDelayed implements the gamma-regime delay rule: in POSITIVE_HIGH
// gamma, delay calls; in NEGATIVE_HIGH, delay puts. A delayed signal is
// not a failure to surface upstream, but the selector still reports no
// selection this pass.
func regimeDelayed(regime market.Regime, gex market.GexState, wantType models.ContractType) (bool, string) {
	if gex == market.GexPositiveHigh && wantType == models.ContractTypeCall {
		return true, "positive high gamma delays call selection"
	}
	if gex == market.GexNegativeHigh && wantType == models.ContractTypePut {
		return true, "negative high gamma delays put selection"
	}
	return false, ""
}

func liquidityOK(row market.OptionRow, policy Policy) bool {
	if row.Mid.IsZero() {
		return false
	}
	spread := row.Ask.Sub(row.Bid)
	spreadPct := spread.Div(row.Mid).Mul(decimal.NewFromInt(100))
	if spreadPct.GreaterThan(decimal.NewFromFloat(policy.MaxSpreadPct)) {
		return false
	}
	if row.OpenInterest < policy.MinOpenInterest {
		return false
	}
	if row.Volume < policy.MinVolume {
		return false
	}
	return true
}

func score(row market.OptionRow, policy Policy, gex market.GexState, dte int) Scores {
	liquidity := liquidityFitness(row)
	greeks := greeksStability(row)
	theta := thetaSurvivability(dte)
	vega := vegaAlignment(row)
	cost := costEfficiency(row)
	gexScore := gexSuitability(gex, row.Delta)

	total := liquidity*policy.WeightLiquidity +
		greeks*policy.WeightGreeksStability +
		theta*policy.WeightThetaSurvival +
		vega*policy.WeightVegaAlignment +
		cost*policy.WeightCostEfficiency +
		gexScore*policy.WeightGexSuitability

	return Scores{
		Liquidity:       liquidity,
		GreeksStability: greeks,
		ThetaSurvival:   theta,
		VegaAlignment:   vega,
		CostEfficiency:  cost,
		GexSuitability:  gexScore,
		Total:           total,
	}
}

func liquidityFitness(row market.OptionRow) float64 {
	if row.Mid.IsZero() {
		return 0
	}
	spreadPct, _ := row.Ask.Sub(row.Bid).Div(row.Mid).Float64()
	fitness := 1 - spreadPct
	if fitness < 0 {
		return 0
	}
	return fitness
}

func greeksStability(row market.OptionRow) float64 {
	absDelta := row.Delta
	if absDelta < 0 {
		absDelta = -absDelta
	}
	// stability peaks mid-band, falls off toward 0 or 1
	return 1 - absDiff(absDelta, 0.35)*2
}

func thetaSurvivability(dte int) float64 {
	if dte <= 0 {
		return 0
	}
	if dte > 60 {
		return 1
	}
	return float64(dte) / 60
}

func vegaAlignment(row market.OptionRow) float64 {
	return 1 - absDiff(row.IVPercentile/100, 0.5)*2
}

func costEfficiency(row market.OptionRow) float64 {
	mid, _ := row.Mid.Float64()
	if mid <= 0 {
		return 0
	}
	eff := 1 - (mid / 1000)
	if eff < 0 {
		return 0
	}
	return eff
}

func gexSuitability(gex market.GexState, delta float64) float64 {
	switch gex {
	case market.GexPositiveHigh, market.GexPositiveLow:
		if delta < 0 {
			return 0.8
		}
		return 0.5
	case market.GexNegativeHigh, market.GexNegativeLow:
		if delta > 0 {
			return 0.8
		}
		return 0.5
	default:
		return 0.6
	}
}

func absDiff(a, b float64) float64 {
	d := a - b
	if d < 0 {
		return -d
	}
	return d
}

// pickBest applies the ordered tie-break: higher score, then closer to
// preferred DTE, then higher open interest (spec.md §4.5 step 8).
func pickBest(candidates []candidate, preferredDTE int) candidate {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.scores.Total > best.scores.Total {
			best = c
			continue
		}
		if c.scores.Total < best.scores.Total {
			continue
		}
		bestDteDist := absIntDiff(best.dte, preferredDTE)
		cDteDist := absIntDiff(c.dte, preferredDTE)
		if cDteDist < bestDteDist {
			best = c
			continue
		}
		if cDteDist > bestDteDist {
			continue
		}
		if c.row.OpenInterest > best.row.OpenInterest {
			best = c
		}
	}
	return best
}

func absIntDiff(a, b int) int {
	if a < b {
		return b - a
	}
	return a - b
}
