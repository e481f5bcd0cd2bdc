// Package devstub provides minimal, deterministic stand-ins for the
// external collaborators described in package market: market data, auth,
// the bias aggregator, feature flags, the two decision engines, and the
// shadow executor. spec.md §1 places all of these out of scope as
// external services the core only calls through an interface; devstub
// exists only so main.go has something concrete to wire in paper/dev
// mode when no real collaborator is configured. None of it is a data
// source or auth service in its own right.
package devstub

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sherwood-labs/signalcore/cache"
	"github.com/sherwood-labs/signalcore/ingest"
	"github.com/sherwood-labs/signalcore/market"
	"github.com/sherwood-labs/signalcore/models"
)

// DataProvider derives stock/option prices deterministically from the
// symbol name so paper-trading runs are repeatable without a real vendor
// feed behind them.
type DataProvider struct{}

// NewDataProvider builds a DataProvider.
func NewDataProvider() *DataProvider {
	return &DataProvider{}
}

func basePrice(symbol string) decimal.Decimal {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	// Spread across a plausible $20-$420 range.
	cents := int64(h.Sum32()%40000) + 2000
	return decimal.New(cents, -2)
}

func (p *DataProvider) GetStockPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return basePrice(symbol), nil
}

func (p *DataProvider) GetOptionPrice(ctx context.Context, symbol string, strike decimal.Decimal, expiration time.Time, contractType models.ContractType) (*decimal.Decimal, error) {
	mid := strike.Mul(decimal.NewFromFloat(0.03))
	return &mid, nil
}

func (p *DataProvider) GetOptionsChain(ctx context.Context, symbol string) ([]market.OptionRow, error) {
	spot := basePrice(symbol)
	rows := make([]market.OptionRow, 0, 6)
	expiration := time.Now().Add(5 * 24 * time.Hour)
	for i := -2; i <= 3; i++ {
		strike := spot.Add(decimal.NewFromInt(int64(i * 5)))
		mid := strike.Mul(decimal.NewFromFloat(0.03))
		spread := mid.Mul(decimal.NewFromFloat(0.04))
		rows = append(rows, market.OptionRow{
			Symbol:       symbol,
			Strike:       strike,
			Expiration:   expiration,
			Type:         models.ContractTypeCall,
			Bid:          mid.Sub(spread),
			Ask:          mid.Add(spread),
			Mid:          mid,
			OpenInterest: 500,
			Volume:       250,
			Delta:        0.4,
			IVPercentile: 50,
		})
	}
	return rows, nil
}

func (p *DataProvider) GetGex(ctx context.Context, symbol string) (market.GexData, error) {
	return market.GexData{Symbol: symbol, State: market.GexPositiveLow, Value: 0}, nil
}

func (p *DataProvider) GetOptionsFlow(ctx context.Context, symbol string, limit int) (market.OptionsFlow, error) {
	return market.OptionsFlow{Symbol: symbol}, nil
}

func (p *DataProvider) GetMarketHours(ctx context.Context) (market.MarketHours, error) {
	return market.MarketHours{IsMarketOpen: true, MinutesUntilClose: 120}, nil
}

// AuthVerifier accepts any non-empty bearer token in dev mode. A real
// deployment points the core at the auth collaborator's token-introspection
// endpoint instead; this stand-in exists so the HTTP surface is reachable
// without one configured.
type AuthVerifier struct {
	hmacSecret string
}

// NewAuthVerifier builds a dev-mode AuthVerifier. hmacSecret backs
// VerifyHMACSignature for webhook signature checks.
func NewAuthVerifier(hmacSecret string) *AuthVerifier {
	return &AuthVerifier{hmacSecret: hmacSecret}
}

func (v *AuthVerifier) VerifyToken(ctx context.Context, header string) (*market.Identity, error) {
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return nil, fmt.Errorf("devstub: missing bearer token")
	}
	return &market.Identity{UserID: token, Role: "dev"}, nil
}

func (v *AuthVerifier) VerifyHMACSignature(rawBody []byte, hexSignature string) bool {
	return hexSignature != "" && ingest.VerifyHMAC(v.hmacSecret, rawBody, hexSignature)
}

// BiasAggregator reports a flat, unopinionated bias for every symbol. It
// records a cache-backed idempotency key per symbol so repeated lookups
// within the window are visible as cache hits, mirroring the cache-broker
// idempotency spec.md §5 describes for the real bias pipeline (out of
// scope here beyond its read contract).
type BiasAggregator struct {
	idempotency *cache.IdempotencySet
}

// NewBiasAggregator builds a BiasAggregator. idempotency may be nil to
// skip the cache-hit bookkeeping entirely.
func NewBiasAggregator(idempotency *cache.IdempotencySet) *BiasAggregator {
	return &BiasAggregator{idempotency: idempotency}
}

func (b *BiasAggregator) GetCurrentState(ctx context.Context, symbol string) (*market.UnifiedBiasState, error) {
	if b.idempotency != nil {
		seenRecently, err := b.idempotency.SeenBefore(ctx, "bias:"+symbol, cache.IdempotencyWindow)
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("devstub: bias idempotency check failed")
		} else if seenRecently {
			log.Debug().Str("symbol", symbol).Msg("devstub: bias state within cache window")
		}
	}
	return &market.UnifiedBiasState{
		Symbol:     symbol,
		Regime:     market.RegimeChoppy,
		Confidence: 0.5,
		AsOf:       time.Now().UTC(),
	}, nil
}

// EvaluateExitAdjustment never overrides the rule-based tiers: this stub
// carries no higher-timeframe thesis to invalidate against. A real bias
// pipeline would return a non-nil adjustment when its own state flips
// against an open position's direction.
func (b *BiasAggregator) EvaluateExitAdjustment(ctx context.Context, pos models.Position) (*market.BiasAdjustment, error) {
	return nil, nil
}

// FeatureFlags is a static set of enabled flag names.
type FeatureFlags struct {
	enabled map[string]bool
}

// NewFeatureFlags builds a FeatureFlags with the given names enabled.
func NewFeatureFlags(names ...string) *FeatureFlags {
	enabled := make(map[string]bool, len(names))
	for _, n := range names {
		enabled[n] = true
	}
	return &FeatureFlags{enabled: enabled}
}

func (f *FeatureFlags) IsEnabled(name string) bool {
	return f.enabled[name]
}

// EngineAdapter is a trivial decision engine that follows a signal's own
// direction at fixed size and confidence. Engine A and B both use this
// type, constructed with different variants, so the Engine Coordinator
// (C5) has two independent adapters to fan out to.
type EngineAdapter struct {
	variant models.Variant
}

// NewEngineAdapter builds an EngineAdapter for the given variant.
func NewEngineAdapter(variant models.Variant) *EngineAdapter {
	return &EngineAdapter{variant: variant}
}

func (e *EngineAdapter) Variant() models.Variant {
	return e.variant
}

func (e *EngineAdapter) Invoke(ctx context.Context, signal models.Signal, marketCtx market.MarketContext) (*models.TradeRecommendation, error) {
	return &models.TradeRecommendation{
		Symbol:     signal.Symbol,
		Direction:  signal.Direction,
		SetupType:  string(market.SetupScalpGuarded),
		Confidence: 0.6,
		Quantity:   1,
		Engine:     e.variant,
		Rationale:  []string{"devstub: follows signal direction, fixed confidence"},
	}, nil
}

// ShadowExecutor logs shadow recommendations instead of acting on them.
type ShadowExecutor struct{}

// NewShadowExecutor builds a ShadowExecutor.
func NewShadowExecutor() *ShadowExecutor {
	return &ShadowExecutor{}
}

func (s *ShadowExecutor) ExecuteShadow(ctx context.Context, rec models.TradeRecommendation) error {
	log.Info().Str("symbol", rec.Symbol).Str("engine", string(rec.Engine)).Msg("devstub: shadow recommendation logged, not executed")
	return nil
}
