// Package orchestrator implements the per-signal pipeline (C7): claim,
// build market context, experiment, policy, engines, strike selection,
// paper orders, shadow hand-off, mark-processed (spec.md §4.6). The
// worker lifecycle generalizes the teacher's trading-engine tick loop
// (Start/Stop/loop with stopCh/wg/mu) into a bounded-concurrency batch
// fan-out over claimed signals.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sherwood-labs/signalcore/cache"
	"github.com/sherwood-labs/signalcore/data"
	"github.com/sherwood-labs/signalcore/enginecoord"
	"github.com/sherwood-labs/signalcore/experiment"
	"github.com/sherwood-labs/signalcore/health"
	"github.com/sherwood-labs/signalcore/market"
	"github.com/sherwood-labs/signalcore/models"
	"github.com/sherwood-labs/signalcore/notifications"
	"github.com/sherwood-labs/signalcore/policy"
	"github.com/sherwood-labs/signalcore/risk"
	"github.com/sherwood-labs/signalcore/signals"
	"github.com/sherwood-labs/signalcore/strike"
	"github.com/sherwood-labs/signalcore/tracing"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Outcome classifies how a single signal's pass through the pipeline ended.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
	OutcomeFailed   Outcome = "failed"
)

// Result is the per-signal pipeline outcome, returned from a batch run
// for observability and tests.
type Result struct {
	SignalID string
	Outcome  Outcome
	Reason   string
}

// Config parameterizes batch size, fan-out concurrency, per-signal
// timeout, and backoff base (spec.md §5, §6 ORCHESTRATOR_* env vars).
type Config struct {
	BatchSize     int
	Concurrency   int
	SignalTimeout time.Duration
	RetryBase     time.Duration
	TickInterval  time.Duration
	ABSplit       float64
	PolicyVersion string
	IsPaperMode   bool
	DualPaperTrading bool
	MaxPremiumLoss       decimal.Decimal
	MaxCapitalAllocation decimal.Decimal
}

// Orchestrator claims batches of pending signals on a tick and runs each
// through the pipeline with bounded concurrency.
type Orchestrator struct {
	cfg          Config
	signalStore  data.SignalStore
	orderStore   data.OrderStore
	experiments  *experiment.Manager
	policies     *policy.Manager
	coordinator  *enginecoord.Coordinator
	strikePolicies map[market.SetupType]strike.Policy
	dataProvider market.DataProvider
	biasAgg      market.BiasAggregator
	shadowExec   market.ShadowExecutor
	riskMgr      *risk.Manager
	gexFetcher   *cache.SnapshotFetcher
	healthMonitor *health.Monitor
	notifier     *notifications.Manager

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
}

// Dependencies bundles the Orchestrator's collaborators.
type Dependencies struct {
	SignalStore  data.SignalStore
	OrderStore   data.OrderStore
	Experiments  *experiment.Manager
	Policies     *policy.Manager
	Coordinator  *enginecoord.Coordinator
	DataProvider market.DataProvider
	BiasAgg      market.BiasAggregator
	ShadowExec   market.ShadowExecutor
	RiskManager  *risk.Manager
	// HealthMonitor is optional; when set, the tick loop reports its
	// cadence so /monitoring/status can show a stalled orchestrator (spec.md §4.10).
	HealthMonitor *health.Monitor
	// Notifications is optional; when set, portfolio risk gate declines
	// are surfaced as notifications in addition to the structured log.
	Notifications *notifications.Manager
}

// New builds an Orchestrator.
func New(cfg Config, deps Dependencies) *Orchestrator {
	return &Orchestrator{
		cfg:            cfg,
		signalStore:    deps.SignalStore,
		orderStore:     deps.OrderStore,
		experiments:    deps.Experiments,
		policies:       deps.Policies,
		coordinator:    deps.Coordinator,
		strikePolicies: strike.DefaultPolicies(),
		dataProvider:   deps.DataProvider,
		biasAgg:        deps.BiasAgg,
		shadowExec:     deps.ShadowExec,
		riskMgr:        deps.RiskManager,
		gexFetcher:     cache.NewSnapshotFetcher(),
		healthMonitor:  deps.HealthMonitor,
		notifier:       deps.Notifications,
		stopCh:         make(chan struct{}),
	}
}

// Start begins the periodic batch tick. Runs until ctx is cancelled or
// Stop is called.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already running")
	}
	o.running = true
	o.stopCh = make(chan struct{})
	o.mu.Unlock()

	o.wg.Add(1)
	go o.loop(ctx)

	log.Info().
		Int("batch_size", o.cfg.BatchSize).
		Int("concurrency", o.cfg.Concurrency).
		Dur("interval", o.cfg.TickInterval).
		Msg("orchestrator started")

	return nil
}

// IsRunning reports whether the tick loop is active.
func (o *Orchestrator) IsRunning() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.running
}

// Stop signals the loop to exit and waits for the in-flight tick to drain.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	close(o.stopCh)
	o.mu.Unlock()

	o.wg.Wait()
	log.Info().Msg("orchestrator stopped")
}

// StopAndDrain stops the tick loop and waits up to timeout for the
// in-flight tick to finish (spec.md §5 "graceful stopAndDrain").
func (o *Orchestrator) StopAndDrain(timeout time.Duration) error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	close(o.stopCh)
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("orchestrator: drain timed out after %s", timeout)
	}
}

func (o *Orchestrator) loop(ctx context.Context) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case <-ticker.C:
			traceID := tracing.NewTraceID()
			tickCtx := NewPipelineContextWithTrace(tracing.WithTraceID(ctx, traceID))
			started := time.Now()
			if _, err := o.RunBatch(tickCtx); err != nil {
				log.Error().Err(err).Msg("orchestrator: batch run failed")
				if o.healthMonitor != nil {
					o.healthMonitor.ReportError("orchestrator", o.cfg.RetryBase)
				}
			} else if o.healthMonitor != nil {
				o.healthMonitor.ReportTick("orchestrator", time.Since(started))
			}
		}
	}
}

// RunBatch claims up to cfg.BatchSize signals and processes them with
// cfg.Concurrency bounded parallelism.
func (o *Orchestrator) RunBatch(ctx context.Context) ([]Result, error) {
	claimed, err := o.signalStore.ClaimBatch(o.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: claim failed: %w", err)
	}
	if len(claimed) == 0 {
		return nil, nil
	}

	results := make([]Result, len(claimed))
	sem := make(chan struct{}, o.cfg.Concurrency)
	var wg sync.WaitGroup

	for i, sig := range claimed {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, sig models.Signal) {
			defer wg.Done()
			defer func() { <-sem }()

			signalCtx, cancel := context.WithTimeout(ctx, o.cfg.SignalTimeout)
			defer cancel()

			results[i] = o.processOne(signalCtx, sig)
		}(i, sig)
	}
	wg.Wait()

	return results, nil
}

func (o *Orchestrator) processOne(ctx context.Context, sig models.Signal) Result {
	logger := tracing.Logger(ctx)

	marketCtx, err := o.buildMarketContext(ctx, sig)
	if err != nil {
		return o.fail(sig, fmt.Sprintf("market context: %v", err))
	}

	exp, err := o.experiments.CreateExperiment(sig, o.cfg.ABSplit, o.cfg.PolicyVersion)
	if err != nil {
		return o.fail(sig, fmt.Sprintf("experiment: %v", err))
	}

	engineAAvailable := o.coordinator.EngineA != nil
	engineBAvailable := o.coordinator.EngineB != nil
	pol, err := o.policies.GetOrCreate(*exp, o.cfg.IsPaperMode, engineAAvailable, engineBAvailable, o.cfg.PolicyVersion)
	if err != nil {
		return o.fail(sig, fmt.Sprintf("policy: %v", err))
	}

	recs := o.coordinator.Invoke(ctx, sig, marketCtx)

	approved := false
	for _, rec := range []*struct {
		variant models.Variant
		rec     *models.TradeRecommendation
	}{
		{models.VariantA, recs.A},
		{models.VariantB, recs.B},
	} {
		if rec.rec == nil {
			continue
		}
		isShadow := isShadowFor(*pol, rec.variant)
		rec.rec.IsShadow = isShadow
		rec.rec.Engine = rec.variant
		rec.rec.ExperimentID = exp.ID

		if !isShadow {
			selected, selErr := o.selectStrike(ctx, sig, marketCtx, *rec.rec)
			if selErr != nil {
				logger.Info().Str("signal_id", sig.ID).Str("engine", string(rec.variant)).Err(selErr).Msg("orchestrator: strike selection declined")
				continue
			}
			*rec.rec = *selected

			if o.riskMgr != nil {
				costBasis := rec.rec.EntryPrice.Mul(decimal.NewFromInt(int64(rec.rec.Quantity))).Mul(decimal.NewFromInt(100))
				if riskErr := o.riskMgr.CheckNewPosition(costBasis); riskErr != nil {
					logger.Info().Str("signal_id", sig.ID).Str("engine", string(rec.variant)).Err(riskErr).Msg("orchestrator: portfolio risk gate declined")
					if o.notifier != nil {
						o.notifier.RiskCapBreached(sig.ID, riskErr.Error())
					}
					continue
				}
			}

			if ok, orderErr := o.insertEntryOrder(sig, *exp, *rec.rec); orderErr != nil {
				logger.Error().Err(orderErr).Str("signal_id", sig.ID).Msg("orchestrator: entry order insert failed")
			} else if ok {
				approved = true
			} else {
				approved = true // order already existed: at-most-once still satisfied
			}
		} else if o.shadowExec != nil && !o.cfg.DualPaperTrading {
			if execErr := o.shadowExec.ExecuteShadow(ctx, *rec.rec); execErr != nil {
				logger.Warn().Err(execErr).Str("signal_id", sig.ID).Msg("orchestrator: shadow hand-off failed")
			}
		}
	}

	status := models.SignalStatusRejected
	outcome := OutcomeRejected
	if approved {
		status = models.SignalStatusApproved
		outcome = OutcomeApproved
	}

	if err := o.signalStore.MarkProcessed(sig.ID, status, &exp.ID); err != nil {
		return o.fail(sig, fmt.Sprintf("mark processed: %v", err))
	}

	return Result{SignalID: sig.ID, Outcome: outcome}
}

func (o *Orchestrator) buildMarketContext(ctx context.Context, sig models.Signal) (market.MarketContext, error) {
	mc := market.MarketContext{Symbol: sig.Symbol}

	if o.dataProvider != nil {
		spot, err := o.dataProvider.GetStockPrice(ctx, sig.Symbol)
		if err != nil {
			return mc, err
		}
		mc.SpotPrice = spot
	}

	if o.biasAgg != nil {
		bias, err := o.biasAgg.GetCurrentState(ctx, sig.Symbol)
		if err == nil && bias != nil {
			mc.Bias = bias
			mc.Regime = bias.Regime
		}
	}

	return mc, nil
}

// selectStrike runs the Strike Selector (C6) for one recommendation: it
// fetches the option chain, applies the per-signal risk budget, and
// fills in the concrete contract (spec.md §4.6 step 8 "risk gate + C6").
func (o *Orchestrator) selectStrike(ctx context.Context, sig models.Signal, marketCtx market.MarketContext, rec models.TradeRecommendation) (*models.TradeRecommendation, error) {
	if o.dataProvider == nil {
		return nil, fmt.Errorf("no data provider configured")
	}

	chain, err := o.dataProvider.GetOptionsChain(ctx, sig.Symbol)
	if err != nil {
		return nil, fmt.Errorf("fetch option chain: %w", err)
	}

	// GEX is fetched through the coalescing fetcher: when the batch fan-out
	// runs several signals for the same symbol concurrently (spec.md §5),
	// only one GetGex call actually hits the data provider.
	gex := market.GexData{State: market.GexPositiveLow}
	if gexVal, gexErr := o.gexFetcher.Fetch(ctx, sig.Symbol, func(ctx context.Context) (interface{}, error) {
		return o.dataProvider.GetGex(ctx, sig.Symbol)
	}); gexErr == nil {
		gex = gexVal.(market.GexData)
	}

	setupType := market.SetupType(rec.SetupType)
	if setupType == "" {
		setupType = market.SetupSwing
	}

	in := strike.Input{
		Symbol:           sig.Symbol,
		SpotPrice:        marketCtx.SpotPrice,
		Direction:        rec.Direction,
		SetupType:        setupType,
		SignalConfidence: rec.Confidence,
		Regime:           marketCtx.Regime,
		GexState:         gex.State,
		Budget:           o.budgetFor(rec),
		Contracts:        1,
		OptionChain:      chain,
		Now:              time.Now(),
	}

	result := strike.Select(in, o.strikePolicies)
	if !result.Success {
		return nil, fmt.Errorf("no contract selected: %s", result.FailureReason)
	}

	out := rec
	out.Strike = result.TradeContract.Strike
	out.Expiration = result.TradeContract.Expiration
	out.EntryPrice = result.TradeContract.Mid
	if out.Quantity <= 0 {
		out.Quantity = 1
	}
	return &out, nil
}

func (o *Orchestrator) budgetFor(rec models.TradeRecommendation) risk.Budget {
	return risk.Budget{
		MaxPremiumLoss:       o.cfg.MaxPremiumLoss,
		MaxCapitalAllocation: o.cfg.MaxCapitalAllocation,
	}
}

func isShadowFor(pol models.ExecutionPolicy, variant models.Variant) bool {
	if pol.ExecutionMode == models.ExecutionModeShadowOnly {
		return true
	}
	if pol.ExecutedEngine != nil && *pol.ExecutedEngine == variant {
		return false
	}
	return true
}

// insertEntryOrder converts a non-shadow recommendation into a paper
// order, at-most-once per (signal, engine) via the store's unique index
// (spec.md §4.6 step 8).
func (o *Orchestrator) insertEntryOrder(sig models.Signal, exp models.Experiment, rec models.TradeRecommendation) (bool, error) {
	variant := rec.Engine
	order := models.Order{
		ID:           uuid.NewString(),
		SignalID:     &sig.ID,
		Engine:       &variant,
		ExperimentID: &exp.ID,
		Symbol:       rec.Symbol,
		OptionSymbol: optionSymbol(rec),
		Strike:       rec.Strike,
		Expiration:   rec.Expiration,
		Type:         contractTypeFor(rec.Direction),
		Quantity:     rec.Quantity,
		OrderType:    "paper",
		Status:       models.OrderStatusPendingExecution,
		CreatedAt:    time.Now().UTC(),
	}
	return o.orderStore.InsertEntryOrder(order)
}

func contractTypeFor(dir models.Direction) models.ContractType {
	if dir == models.DirectionShort {
		return models.ContractTypePut
	}
	return models.ContractTypeCall
}

func optionSymbol(rec models.TradeRecommendation) string {
	return fmt.Sprintf("%s_%s_%s", rec.Symbol, rec.Expiration.Format("060102"), rec.Strike.String())
}

func (o *Orchestrator) fail(sig models.Signal, reason string) Result {
	nextRetry := time.Now().Add(signals.NextRetryDelay(sig.ProcessingAttempts+1, o.cfg.RetryBase))
	if err := o.signalStore.MarkFailed(sig.ID, nextRetry); err != nil {
		log.Error().Err(err).Str("signal_id", sig.ID).Msg("orchestrator: mark failed errored")
	}
	return Result{SignalID: sig.ID, Outcome: OutcomeFailed, Reason: reason}
}
