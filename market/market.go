// Package market models the external collaborators this core consumes but
// does not implement: market data, auth, the bias aggregator, feature
// flags, and the realtime push channel. None of these are respecified
// here (spec.md §1) — only the Go-shaped seam they plug into.
package market

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sherwood-labs/signalcore/models"
)

// Regime is the classified market stance used by the strike selector and
// exit decision engine.
type Regime string

const (
	RegimeStrongBull Regime = "STRONG_BULL"
	RegimeBull       Regime = "BULL"
	RegimeChoppy     Regime = "CHOPPY"
	RegimeBear       Regime = "BEAR"
	RegimeStrongBear Regime = "STRONG_BEAR"
	RegimeBreakout   Regime = "BREAKOUT"
	RegimeBreakdown  Regime = "BREAKDOWN"
)

// GexState is the quantized dealer-gamma regime.
type GexState string

const (
	GexPositiveHigh GexState = "POSITIVE_HIGH"
	GexPositiveLow  GexState = "POSITIVE_LOW"
	GexNegativeLow  GexState = "NEGATIVE_LOW"
	GexNegativeHigh GexState = "NEGATIVE_HIGH"
)

// SetupType is the holding-horizon class that parameterizes strike
// policy, exit rules, and scoring weights.
type SetupType string

const (
	SetupScalpGuarded SetupType = "SCALP_GUARDED"
	SetupSwing        SetupType = "SWING"
	SetupPosition     SetupType = "POSITION"
	SetupLEAPS        SetupType = "LEAPS"
)

// OptionRow is a single contract row from an options chain snapshot.
type OptionRow struct {
	Symbol       string
	Strike       decimal.Decimal
	Expiration   time.Time
	Type         models.ContractType
	Bid          decimal.Decimal
	Ask          decimal.Decimal
	Mid          decimal.Decimal
	OpenInterest int
	Volume       int
	Delta        float64
	IVPercentile float64
}

// GexData is a snapshot of dealer gamma exposure for a symbol.
type GexData struct {
	Symbol string
	State  GexState
	Value  float64
}

// OptionsFlow summarizes recent unusual-options-activity prints.
type OptionsFlow struct {
	Symbol string
	Prints []FlowPrint
}

// FlowPrint is one unusual-activity print within an OptionsFlow.
type FlowPrint struct {
	Strike    decimal.Decimal
	Type      models.ContractType
	Premium   decimal.Decimal
	Timestamp time.Time
}

// MarketHours reports whether the market is currently open and how much
// session time remains.
type MarketHours struct {
	IsMarketOpen      bool
	MinutesUntilClose int
}

// MarketContext is the enrichment the Orchestrator attaches to a signal
// before invoking engine adapters (spec.md §4.6 step 2).
type MarketContext struct {
	Symbol            string
	SpotPrice         decimal.Decimal
	ATR               decimal.Decimal
	Regime            Regime
	SessionLabel      string
	Bias              *UnifiedBiasState
}

// UnifiedBiasState is the read-only snapshot produced by the bias
// aggregator collaborator (out of scope per spec.md §1).
type UnifiedBiasState struct {
	Symbol     string
	Regime     Regime
	Confidence float64
	AsOf       time.Time
}

// Identity is what the auth collaborator resolves a bearer token to.
type Identity struct {
	UserID string
	Email  string
	Role   string
}

// DataProvider is the market-data collaborator interface (spec.md §6).
// All methods may fail with a transient error or circuit-open state.
// Callers apply no per-call timeout: the orchestrator's calls are bounded
// by its per-signal timeout, and the other workers pass their tick
// context through unchanged.
type DataProvider interface {
	GetStockPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetOptionPrice(ctx context.Context, symbol string, strike decimal.Decimal, expiration time.Time, contractType models.ContractType) (*decimal.Decimal, error)
	GetOptionsChain(ctx context.Context, symbol string) ([]OptionRow, error)
	GetGex(ctx context.Context, symbol string) (GexData, error)
	GetOptionsFlow(ctx context.Context, symbol string, limit int) (OptionsFlow, error)
	GetMarketHours(ctx context.Context) (MarketHours, error)
}

// AuthVerifier verifies bearer tokens and webhook HMAC signatures. Token
// issuance/verification and HMAC verification both live in the auth
// collaborator per spec.md §1; this core only calls through the interface.
type AuthVerifier interface {
	VerifyToken(ctx context.Context, header string) (*Identity, error)
	VerifyHMACSignature(rawBody []byte, hexSignature string) bool
}

// BiasAdjustment is the bias-aware adjustment layer's verdict on one open
// position, contributed alongside the tiered rule evaluation (spec.md
// §4.9 step 2). ForceFullExit and ExitPercent let the bias layer override
// the rule tiers outright; NewStopLevel is advisory and only applied when
// the rule tiers would otherwise hold.
type BiasAdjustment struct {
	ForceFullExit bool
	ExitPercent   *float64
	NewStopLevel  *decimal.Decimal
	Reason        string
}

// BiasAggregator exposes the bias pipeline's read contract plus the
// exit-adjustment verdict it contributes to open-position evaluation.
type BiasAggregator interface {
	GetCurrentState(ctx context.Context, symbol string) (*UnifiedBiasState, error)
	// EvaluateExitAdjustment returns the bias layer's verdict for pos, or
	// (nil, nil) when it has no adjustment to contribute.
	EvaluateExitAdjustment(ctx context.Context, pos models.Position) (*BiasAdjustment, error)
}

// FeatureFlags exposes a read-only feature flag check.
type FeatureFlags interface {
	IsEnabled(name string) bool
}

// RealtimePublisher pushes position and risk events to connected clients.
type RealtimePublisher interface {
	PublishPositionUpdate(positionID string)
	PublishRiskUpdate()
}

// EngineAdapter is one of the two opaque decision engines (A or B)
// invoked by the Engine Coordinator (C5). A nil recommendation with a nil
// error means "no trade idea"; it is not a failure.
type EngineAdapter interface {
	Variant() models.Variant
	Invoke(ctx context.Context, signal models.Signal, marketCtx MarketContext) (*models.TradeRecommendation, error)
}

// ShadowExecutor is the external collaborator that decides what to do
// with a shadow recommendation when dual-paper-trading is enabled
// (spec.md §9 Open Question — left as an external decision).
type ShadowExecutor interface {
	ExecuteShadow(ctx context.Context, rec models.TradeRecommendation) error
}
