// Package exitmonitor implements the Exit Monitor (C11): scans open
// positions, runs each through exitengine.Evaluate, and turns FULL_EXIT
// and PARTIAL_EXIT decisions into exit orders while atomically claiming
// the position so at most one worker acts on it (spec.md §4.9).
// Grounded on the same tick-loop skeleton as orchestrator/positions, with
// the fan-out bounded concurrency pattern from the teacher's
// TradingEngine.loop() generalized to positions instead of symbols.
package exitmonitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sherwood-labs/signalcore/data"
	"github.com/sherwood-labs/signalcore/exitengine"
	"github.com/sherwood-labs/signalcore/health"
	"github.com/sherwood-labs/signalcore/market"
	"github.com/sherwood-labs/signalcore/models"
	"github.com/sherwood-labs/signalcore/notifications"
)

// maxScanBatch bounds how many open positions one tick evaluates
// (spec.md §4.9 "up to 200 open positions").
const maxScanBatch = 200

// Config parameterizes the monitor's tick cadence and fan-out width.
type Config struct {
	Interval    time.Duration
	Concurrency int
}

// Dependencies bundles the Monitor's collaborators.
type Dependencies struct {
	PositionStore  data.PositionStore
	OrderStore     data.OrderStore
	ExitRuleStore  data.ExitRuleStore
	DataProvider   market.DataProvider
	BiasAggregator market.BiasAggregator
	Publisher      market.RealtimePublisher
	// Notifications is optional; when set, exit order placement raises a
	// user-facing notification alongside the realtime broadcast.
	Notifications *notifications.Manager
	// HealthMonitor is optional; when set, the scan tick reports its
	// cadence so /monitoring/status can show a stalled exit monitor.
	HealthMonitor *health.Monitor
}

// Monitor periodically evaluates open positions for exit conditions.
type Monitor struct {
	cfg  Config
	deps Dependencies
	now  func() time.Time

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
}

// New builds a Monitor.
func New(cfg Config, deps Dependencies) *Monitor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Monitor{cfg: cfg, deps: deps, now: time.Now, stopCh: make(chan struct{})}
}

// Start begins the periodic scan tick.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop signals the loop to exit and waits for the in-flight tick to drain.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
}

// StopAndDrain signals the loop to exit and waits up to timeout for the
// in-flight tick to finish before giving up (spec.md §5 graceful worker
// shutdown).
func (m *Monitor) StopAndDrain(timeout time.Duration) bool {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return true
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			started := time.Now()
			if err := m.RunOnce(ctx); err != nil {
				log.Error().Err(err).Msg("exitmonitor: scan tick failed")
				if m.deps.HealthMonitor != nil {
					m.deps.HealthMonitor.ReportError("exitmonitor", m.cfg.Interval)
				}
			} else if m.deps.HealthMonitor != nil {
				m.deps.HealthMonitor.ReportTick("exitmonitor", time.Since(started))
			}
		}
	}
}

// RunOnce scans up to maxScanBatch open positions and evaluates each for
// an exit decision, fanned out with bounded concurrency. A single
// position's failure is logged and skipped; it never aborts the scan
// (spec.md §7 propagation policy, §4.9).
func (m *Monitor) RunOnce(ctx context.Context) error {
	rule, err := m.deps.ExitRuleStore.GetEnabledRule()
	if err != nil && err != data.ErrNotFound {
		return fmt.Errorf("exitmonitor: load exit rule: %w", err)
	}

	open, err := m.deps.PositionStore.GetOpenPositions()
	if err != nil {
		return fmt.Errorf("exitmonitor: load open positions: %w", err)
	}
	if len(open) > maxScanBatch {
		log.Warn().Int("open_count", len(open)).Int("scanned", maxScanBatch).Msg("exitmonitor: open position count exceeds scan batch, truncating")
		open = open[:maxScanBatch]
	}

	sem := make(chan struct{}, m.cfg.Concurrency)
	var wg sync.WaitGroup
	for _, pos := range open {
		pos := pos
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := m.evaluateOne(ctx, pos, rule); err != nil {
				log.Error().Err(err).Str("position_id", pos.ID).Msg("exitmonitor: position evaluation failed, skipping")
			}
		}()
	}
	wg.Wait()
	return nil
}

func (m *Monitor) evaluateOne(ctx context.Context, pos models.Position, rule *models.ExitRule) error {
	snapshot, err := m.buildSnapshot(ctx, pos)
	if err != nil {
		return fmt.Errorf("build snapshot: %w", err)
	}

	decision := exitengine.Evaluate(pos, rulesFor(pos, rule), snapshot, m.now())
	decision = m.applyBiasAdjustment(ctx, pos, decision)

	switch decision.Action {
	case exitengine.ActionFullExit:
		return m.handleFullExit(pos, decision)
	case exitengine.ActionPartialExit:
		return m.handlePartialExit(pos, decision)
	case exitengine.ActionTightenStop:
		return m.handleTightenStop(pos, decision)
	default:
		return nil
	}
}

// applyBiasAdjustment folds the bias-aware adjustment layer's verdict
// into the rule engine's decision (spec.md §4.9 step 2): a forced exit
// always wins over the rule tiers, and a tightened stop only applies
// when the rule tiers left the position on HOLD.
func (m *Monitor) applyBiasAdjustment(ctx context.Context, pos models.Position, decision exitengine.Decision) exitengine.Decision {
	if m.deps.BiasAggregator == nil {
		return decision
	}
	adj, err := m.deps.BiasAggregator.EvaluateExitAdjustment(ctx, pos)
	if err != nil {
		log.Warn().Err(err).Str("position_id", pos.ID).Msg("exitmonitor: bias adjustment lookup failed, using rule tiers only")
		return decision
	}
	if adj == nil {
		return decision
	}

	if adj.ForceFullExit {
		decision.Action = exitengine.ActionFullExit
		decision.Urgency = exitengine.UrgencyHigh
		decision.TriggeredRules = append(decision.TriggeredRules, exitengine.TriggeredRule{
			Name: "bias_force_exit", Tier: exitengine.TierHardFail, Severity: exitengine.UrgencyHigh,
		})
		decision.SizePercent = adj.ExitPercent
		decision.Rationale = append(decision.Rationale, adj.Reason)
		return decision
	}
	if decision.Action == exitengine.ActionHold && adj.NewStopLevel != nil {
		decision.Action = exitengine.ActionTightenStop
		decision.NewStopLevel = adj.NewStopLevel
		decision.Rationale = append(decision.Rationale, adj.Reason)
	}
	return decision
}

func (m *Monitor) buildSnapshot(ctx context.Context, pos models.Position) (exitengine.MarketSnapshot, error) {
	mid, err := m.deps.DataProvider.GetOptionPrice(ctx, pos.Symbol, pos.Strike, pos.Expiration, pos.Type)
	if err != nil {
		return exitengine.MarketSnapshot{}, err
	}
	if mid == nil {
		return exitengine.MarketSnapshot{}, fmt.Errorf("no price available for %s", pos.OptionSymbol)
	}

	bid, ask := estimateBidAsk(ctx, m.deps.DataProvider, pos, *mid)

	regime := market.RegimeChoppy
	if m.deps.BiasAggregator != nil {
		if state, berr := m.deps.BiasAggregator.GetCurrentState(ctx, pos.Symbol); berr == nil && state != nil {
			regime = state.Regime
		}
	}

	return exitengine.MarketSnapshot{
		OptionMid:   *mid,
		Bid:         bid,
		Ask:         ask,
		Regime:      regime,
		ThesisValid: true,
	}, nil
}

// estimateBidAsk looks up the live chain for a tighter spread estimate;
// on any failure it falls back to the same spread heuristic paperexec uses.
func estimateBidAsk(ctx context.Context, provider market.DataProvider, pos models.Position, mid decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	chain, err := provider.GetOptionsChain(ctx, pos.Symbol)
	if err == nil {
		for _, row := range chain {
			if row.Strike.Equal(pos.Strike) && row.Type == pos.Type && row.Expiration.Equal(pos.Expiration) {
				return row.Bid, row.Ask
			}
		}
	}
	half := mid.Mul(decimal.NewFromFloat(0.01))
	return mid.Sub(half), mid.Add(half)
}

func rulesFor(pos models.Position, rule *models.ExitRule) exitengine.Rules {
	r := exitengine.Rules{SetupType: market.SetupSwing}
	if rule == nil {
		return r
	}
	if rule.StopLossPercent != nil {
		r.StopLossPct = *rule.StopLossPercent
	}
	if rule.ProfitTargetPercent != nil {
		r.ProfitMilestones = []exitengine.ProfitMilestone{
			{AtPercent: *rule.ProfitTargetPercent, ExitPercent: 50},
		}
	}
	if rule.MinDTEExit != nil {
		r.TimeStops = []exitengine.TimeStop{
			{Days: *rule.MinDTEExit, Action: exitengine.ActionFullExit},
		}
	}
	return r
}

func (m *Monitor) handleFullExit(pos models.Position, decision exitengine.Decision) error {
	claimed, err := m.deps.PositionStore.ClaimForExit(pos.ID)
	if err != nil {
		return fmt.Errorf("claim for exit: %w", err)
	}
	if claimed == nil {
		return nil
	}

	order := exitOrderFor(*claimed, claimed.Quantity)
	if err := m.deps.OrderStore.InsertExitOrder(order); err != nil {
		return fmt.Errorf("insert exit order: %w", err)
	}

	log.Info().Str("position_id", pos.ID).Strs("rules", ruleNames(decision)).Msg("exitmonitor: full exit order placed")
	if m.deps.Publisher != nil {
		m.deps.Publisher.PublishPositionUpdate(pos.ID)
	}
	if m.deps.Notifications != nil {
		m.deps.Notifications.PositionExited(pos.OptionSymbol, ruleNames(decision))
	}
	return nil
}

func (m *Monitor) handlePartialExit(pos models.Position, decision exitengine.Decision) error {
	if decision.SizePercent == nil || *decision.SizePercent <= 0 {
		return nil
	}
	exitQty := int(float64(pos.Quantity) * (*decision.SizePercent) / 100.0)
	if exitQty <= 0 {
		return nil
	}

	ok, err := m.deps.PositionStore.DecrementQuantity(pos.ID, exitQty)
	if err != nil {
		return fmt.Errorf("decrement quantity: %w", err)
	}
	if !ok {
		return nil
	}

	order := exitOrderFor(pos, exitQty)
	if err := m.deps.OrderStore.InsertExitOrder(order); err != nil {
		return fmt.Errorf("insert exit order: %w", err)
	}

	log.Info().Str("position_id", pos.ID).Int("exit_qty", exitQty).Msg("exitmonitor: partial exit order placed")
	if m.deps.Publisher != nil {
		m.deps.Publisher.PublishPositionUpdate(pos.ID)
	}
	if m.deps.Notifications != nil {
		m.deps.Notifications.PositionPartiallyExited(pos.OptionSymbol, exitQty)
	}
	return nil
}

// handleTightenStop surfaces a bias-driven stop tightening without
// claiming or mutating the position row: it's advisory context for the
// UI and notification surfaces, not a new exit order.
func (m *Monitor) handleTightenStop(pos models.Position, decision exitengine.Decision) error {
	if decision.NewStopLevel == nil {
		return nil
	}

	log.Info().Str("position_id", pos.ID).Str("new_stop", decision.NewStopLevel.String()).Msg("exitmonitor: bias layer tightened stop")
	if m.deps.Publisher != nil {
		m.deps.Publisher.PublishPositionUpdate(pos.ID)
	}
	if m.deps.Notifications != nil {
		m.deps.Notifications.StopTightened(pos.OptionSymbol, decision.NewStopLevel.String(), decision.Rationale)
	}
	return nil
}

func exitOrderFor(pos models.Position, quantity int) models.Order {
	return models.Order{
		ID:           uuid.NewString(),
		SignalID:     nil,
		Engine:       pos.Engine,
		ExperimentID: pos.ExperimentID,
		Symbol:       pos.Symbol,
		OptionSymbol: pos.OptionSymbol,
		Strike:       pos.Strike,
		Expiration:   pos.Expiration,
		Type:         pos.Type,
		Quantity:     quantity,
		OrderType:    "paper",
		Status:       models.OrderStatusPendingExecution,
		CreatedAt:    time.Now().UTC(),
	}
}

func ruleNames(decision exitengine.Decision) []string {
	names := make([]string, 0, len(decision.TriggeredRules))
	for _, r := range decision.TriggeredRules {
		names = append(names, r.Name)
	}
	return names
}
