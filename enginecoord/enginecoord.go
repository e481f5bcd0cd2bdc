// Package enginecoord implements the Engine Coordinator (C5): it invokes
// the two opaque engine adapters (A and B) concurrently, each bounded by
// its own wall-clock timeout, and performs no mutation of its own
// (spec.md §4.4). Grounded on the teacher's trading-engine tick, which
// fanned a single loop out over symbols with a goroutine-per-unit and a
// shared sync.WaitGroup; here the fan-out is per-engine instead of
// per-symbol.
package enginecoord

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sherwood-labs/signalcore/market"
	"github.com/sherwood-labs/signalcore/models"
)

// Result holds each engine's recommendation (nil means "no trade idea",
// including timeout or error — spec.md §4.4: engine failure or timeout
// never aborts the sibling).
type Result struct {
	A *models.TradeRecommendation
	B *models.TradeRecommendation
}

// Coordinator invokes EngineA and EngineB in parallel.
type Coordinator struct {
	EngineA market.EngineAdapter
	EngineB market.EngineAdapter
	Timeout time.Duration
}

// NewCoordinator builds a Coordinator. Either adapter may be nil, in
// which case it contributes no recommendation (treated the same as an
// unavailable engine by the policy engine).
func NewCoordinator(engineA, engineB market.EngineAdapter, timeout time.Duration) *Coordinator {
	return &Coordinator{EngineA: engineA, EngineB: engineB, Timeout: timeout}
}

// Invoke runs both adapters concurrently, each under its own
// context.WithTimeout derived from ctx.
func (c *Coordinator) Invoke(ctx context.Context, signal models.Signal, marketCtx market.MarketContext) Result {
	var wg sync.WaitGroup
	var result Result

	wg.Add(2)
	go func() {
		defer wg.Done()
		result.A = c.invokeOne(ctx, c.EngineA, signal, marketCtx)
	}()
	go func() {
		defer wg.Done()
		result.B = c.invokeOne(ctx, c.EngineB, signal, marketCtx)
	}()
	wg.Wait()

	return result
}

func (c *Coordinator) invokeOne(ctx context.Context, adapter market.EngineAdapter, signal models.Signal, marketCtx market.MarketContext) *models.TradeRecommendation {
	if adapter == nil {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	rec, err := adapter.Invoke(callCtx, signal, marketCtx)
	if err != nil {
		log.Warn().
			Err(err).
			Str("signal_id", signal.ID).
			Str("engine", string(adapter.Variant())).
			Msg("enginecoord: adapter invocation failed, treating as no recommendation")
		return nil
	}
	return rec
}

// Available reports whether an adapter should be treated as available
// right now — used by the policy engine. A nil adapter is unavailable.
func Available(adapter market.EngineAdapter) bool {
	return adapter != nil
}
