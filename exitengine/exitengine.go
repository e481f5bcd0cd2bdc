// Package exitengine implements the Exit Decision Engine (C10): a pure
// tiered rule evaluator over (position, exit_rule, market_snapshot, now)
// that classifies whether a position should hold, partially exit, fully
// exit, or tighten its stop (spec.md §4.8). Grounded on the teacher's
// execution/risk.go, which evaluates several config-driven thresholds
// and returns the first/worst violation; here the "worst violation"
// concept becomes explicit tier dominance.
package exitengine

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/sherwood-labs/signalcore/market"
	"github.com/sherwood-labs/signalcore/models"
)

// Action is the decision engine's verdict for a position.
type Action string

const (
	ActionHold        Action = "HOLD"
	ActionPartialExit Action = "PARTIAL_EXIT"
	ActionFullExit    Action = "FULL_EXIT"
	ActionTightenStop Action = "TIGHTEN_STOP"
)

// Urgency bands the severity of the triggering rule.
type Urgency string

const (
	UrgencyLow    Urgency = "LOW"
	UrgencyMedium Urgency = "MEDIUM"
	UrgencyHigh   Urgency = "HIGH"
)

// Tier is the priority band; higher tiers dominate lower ones (spec.md §8.7).
type Tier int

const (
	TierNone    Tier = 0
	TierTime    Tier = 1
	TierProfit  Tier = 2
	TierRegime  Tier = 3
	TierHardFail Tier = 4
)

// TriggeredRule names one rule that fired, for audit/rationale.
type TriggeredRule struct {
	Name     string
	Tier     Tier
	Severity Urgency
}

// Metrics are the derived quantities the tiers evaluate against.
type Metrics struct {
	TimeInTradeMin    float64
	OptionPnLPct      float64
	ThetaBurnEstimate float64
	SpreadPct         float64
	DTE               int
}

// MarketSnapshot is the live pricing context for one position at evaluation time.
type MarketSnapshot struct {
	OptionMid  decimal.Decimal
	Bid        decimal.Decimal
	Ask        decimal.Decimal
	Regime     market.Regime
	ThesisValid bool
	HTFInvalidation bool
}

// ProfitMilestone is one configured {atPercent, exitPercent} partial-exit
// rung, tracked per-position so it fires at most once.
type ProfitMilestone struct {
	AtPercent   float64
	ExitPercent float64
	Fired       bool
}

// TimeStop is one configured day threshold and the action it maps to.
type TimeStop struct {
	Days   int
	Action Action
}

// Rules is the evaluator's tunable parameterization, generalizing the
// spec's ExitRule row plus setup-specific guardrails and milestones.
type Rules struct {
	StopLossPct        float64
	ScalpGuardedMaxMin  float64
	ThetaGuardrail     float64
	ProgressCheck      struct {
		AtMinute   float64
		MinProfitPct float64
	}
	LiquiditySpreadPct float64
	ProfitMilestones   []ProfitMilestone
	TimeStops          []TimeStop
	SetupType          market.SetupType
}

// Decision is the evaluator's output (spec.md §4.8 "Output").
type Decision struct {
	Action         Action
	Urgency        Urgency
	SizePercent    *float64
	NewStopLevel   *decimal.Decimal
	TriggeredRules []TriggeredRule
	Rationale      []string
	Metrics        Metrics
	Timestamp      time.Time
}

// Evaluate runs the four-tier pipeline and returns the highest-tier
// action; ties within a tier break by severity then rule order
// (spec.md §8.7 "Exit tier dominance").
func Evaluate(pos models.Position, rules Rules, snapshot MarketSnapshot, now time.Time) Decision {
	metrics := computeMetrics(pos, snapshot, now)

	var triggered []TriggeredRule
	var rationale []string
	best := TierNone
	action := ActionHold
	urgency := UrgencyLow
	var sizePercent *float64
	var newStop *decimal.Decimal

	consider := func(tier Tier, a Action, u Urgency, rule string, size *float64, stop *decimal.Decimal, reason string) {
		triggered = append(triggered, TriggeredRule{Name: rule, Tier: tier, Severity: u})
		rationale = append(rationale, reason)
		if tier > best || (tier == best && severityRank(u) > severityRank(urgency)) {
			best = tier
			action = a
			urgency = u
			sizePercent = size
			newStop = stop
		}
	}

	// Tier 1 — hard fail.
	if !snapshot.ThesisValid || snapshot.HTFInvalidation {
		consider(TierHardFail, ActionFullExit, UrgencyHigh, "thesis_invalidation", nil, nil, "thesis invalidated")
	}
	if rules.SetupType == market.SetupScalpGuarded && metrics.TimeInTradeMin > rules.ScalpGuardedMaxMin {
		consider(TierHardFail, ActionFullExit, UrgencyHigh, "scalp_time_limit", nil, nil, "scalp guarded held beyond max minutes")
	}
	if rules.ThetaGuardrail > 0 && metrics.ThetaBurnEstimate >= rules.ThetaGuardrail {
		consider(TierHardFail, ActionFullExit, UrgencyHigh, "theta_guardrail", nil, nil, "theta burn exceeded guardrail")
	}
	if rules.StopLossPct > 0 && metrics.OptionPnLPct <= -rules.StopLossPct {
		consider(TierHardFail, ActionFullExit, UrgencyHigh, "stop_loss_hit", nil, nil, "option PnL breached stop loss")
	}

	// Tier 2 — regime/liquidity.
	if rules.ProgressCheck.AtMinute > 0 && metrics.TimeInTradeMin >= rules.ProgressCheck.AtMinute && metrics.OptionPnLPct < rules.ProgressCheck.MinProfitPct {
		consider(TierRegime, ActionFullExit, UrgencyMedium, "progress_check_failed", nil, nil, "progress check failed at configured minute")
	}
	if rules.LiquiditySpreadPct > 0 && metrics.SpreadPct >= rules.LiquiditySpreadPct {
		consider(TierRegime, ActionFullExit, UrgencyMedium, "liquidity_deterioration", nil, nil, "spread exceeded liquidity threshold")
	}
	if regimeFlipped(pos, snapshot.Regime) {
		consider(TierRegime, ActionFullExit, UrgencyMedium, "regime_flip", nil, nil, "regime flipped against position direction")
	}

	// Tier 3 — profit management.
	for i := range rules.ProfitMilestones {
		m := &rules.ProfitMilestones[i]
		if m.Fired {
			continue
		}
		if metrics.OptionPnLPct >= m.AtPercent {
			m.Fired = true
			exitPct := m.ExitPercent
			consider(TierProfit, ActionPartialExit, UrgencyLow, "profit_milestone", &exitPct, nil, "profit milestone crossed")
		}
	}

	// Tier 4 — time-based.
	for _, ts := range rules.TimeStops {
		if metrics.DTE <= ts.Days {
			consider(TierTime, ts.Action, UrgencyLow, "time_stop", nil, nil, "time stop threshold reached")
		}
	}

	return Decision{
		Action:         action,
		Urgency:        urgency,
		SizePercent:    sizePercent,
		NewStopLevel:   newStop,
		TriggeredRules: triggered,
		Rationale:      rationale,
		Metrics:        metrics,
		Timestamp:      now,
	}
}

func computeMetrics(pos models.Position, snapshot MarketSnapshot, now time.Time) Metrics {
	timeInTrade := now.Sub(pos.EntryTimestamp).Minutes()

	pnlPct := 0.0
	if !pos.EntryPrice.IsZero() {
		pnlPct, _ = snapshot.OptionMid.Sub(pos.EntryPrice).Div(pos.EntryPrice).Mul(decimal.NewFromInt(100)).Float64()
	}

	spreadPct := 0.0
	if !snapshot.OptionMid.IsZero() {
		spreadPct, _ = snapshot.Ask.Sub(snapshot.Bid).Div(snapshot.OptionMid).Mul(decimal.NewFromInt(100)).Float64()
	}

	dte := int(pos.Expiration.Sub(now).Hours() / 24)

	thetaBurn := thetaBurnEstimate(timeInTrade, dte)

	return Metrics{
		TimeInTradeMin:    timeInTrade,
		OptionPnLPct:      pnlPct,
		ThetaBurnEstimate: thetaBurn,
		SpreadPct:         spreadPct,
		DTE:               dte,
	}
}

// thetaBurnEstimate is a simple proxy: theta burn accelerates as DTE
// shrinks and time in trade grows.
func thetaBurnEstimate(timeInTradeMin float64, dte int) float64 {
	if dte <= 0 {
		return 1.0
	}
	return (timeInTradeMin / 1440) / float64(dte)
}

func regimeFlipped(pos models.Position, regime market.Regime) bool {
	bearish := regime == market.RegimeBear || regime == market.RegimeStrongBear || regime == market.RegimeBreakdown
	bullish := regime == market.RegimeBull || regime == market.RegimeStrongBull || regime == market.RegimeBreakout
	if pos.Type == models.ContractTypeCall && bearish {
		return true
	}
	if pos.Type == models.ContractTypePut && bullish {
		return true
	}
	return false
}

func severityRank(u Urgency) int {
	switch u {
	case UrgencyHigh:
		return 3
	case UrgencyMedium:
		return 2
	default:
		return 1
	}
}
