// Package paperexec implements the Paper Executor (C8): fills
// pending_execution orders using live mid-price plus modeled slippage,
// then either opens a new position or closes one that an exit monitor
// reserved (spec.md §4.7). Grounded on the teacher's PaperBroker, which
// simulated fills and tracked position average cost in-process; here
// the fill-then-position-transition is a single sqlx transaction per
// the spec's canonical "transactional paper executor" resolution.
package paperexec

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sherwood-labs/signalcore/data"
	"github.com/sherwood-labs/signalcore/health"
	"github.com/sherwood-labs/signalcore/market"
	"github.com/sherwood-labs/signalcore/models"
	"github.com/sherwood-labs/signalcore/risk"
)

// spreadEstimatePct and slippageFraction implement the spec's slippage
// model: fill = mid + spread_est·slippage_fraction, spread_est ≈ 2%·mid.
const (
	spreadEstimatePct = 0.02
	slippageFraction  = 0.25
)

// Config parameterizes batch size and the daily fill cap.
type Config struct {
	BatchSize     int
	MaxDailyTrades int
	PollInterval  time.Duration
}

// Executor polls pending paper orders and fills them.
type Executor struct {
	cfg          Config
	orderStore   data.OrderStore
	positionStore data.PositionStore
	dataProvider market.DataProvider
	publisher    market.RealtimePublisher
	riskMgr      *risk.Manager
	healthMonitor *health.Monitor
	now          func() time.Time
}

// Dependencies bundles the Executor's collaborators.
type Dependencies struct {
	OrderStore    data.OrderStore
	PositionStore data.PositionStore
	DataProvider  market.DataProvider
	Publisher     market.RealtimePublisher
	RiskManager   *risk.Manager
	// HealthMonitor is optional; when set, the worker's tick loop reports
	// its cadence so /monitoring/status can show a stalled paper executor.
	HealthMonitor *health.Monitor
}

// New builds an Executor.
func New(cfg Config, deps Dependencies) *Executor {
	return &Executor{
		cfg:           cfg,
		orderStore:    deps.OrderStore,
		positionStore: deps.PositionStore,
		dataProvider:  deps.DataProvider,
		publisher:     deps.Publisher,
		riskMgr:       deps.RiskManager,
		healthMonitor: deps.HealthMonitor,
		now:           time.Now,
	}
}

// FillResult reports what happened to a single claimed order.
type FillResult struct {
	OrderID string
	Filled  bool
	Reason  string
}

// RunOnce claims up to cfg.BatchSize pending paper orders and fills them
// in FIFO order, honoring the daily trade cap (spec.md §4.7).
func (e *Executor) RunOnce(ctx context.Context, filledToday int) ([]FillResult, error) {
	remaining := e.cfg.MaxDailyTrades - filledToday
	if remaining <= 0 {
		log.Warn().Int("filled_today", filledToday).Msg("paperexec: daily trade cap reached, skipping run")
		return nil, nil
	}

	orders, err := e.orderStore.ClaimPendingOrders("paper", e.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("paperexec: claim pending orders: %w", err)
	}

	var results []FillResult
	for _, order := range orders {
		if remaining <= 0 {
			break
		}
		result := e.fillOne(ctx, order)
		results = append(results, result)
		if result.Filled {
			remaining--
		}
	}
	return results, nil
}

func (e *Executor) fillOne(ctx context.Context, order models.Order) FillResult {
	midPrice, err := e.dataProvider.GetOptionPrice(ctx, order.Symbol, order.Strike, order.Expiration, order.Type)
	if err != nil || midPrice == nil {
		if markErr := e.orderStore.MarkOrderFailed(order.ID); markErr != nil {
			log.Error().Err(markErr).Str("order_id", order.ID).Msg("paperexec: failed to mark order failed after null price")
		}
		return FillResult{OrderID: order.ID, Filled: false, Reason: "no price available"}
	}

	fillPrice := applySlippage(*midPrice)

	trade := models.Trade{
		ID:            uuid.NewString(),
		OrderID:       order.ID,
		FillPrice:     fillPrice,
		FillQuantity:  order.Quantity,
		FillTimestamp: e.now().UTC(),
		Engine:        order.Engine,
		ExperimentID:  order.ExperimentID,
	}

	existing, err := e.positionStore.GetOpenPositionByOptionSymbol(order.OptionSymbol)
	if err != nil && err != data.ErrNotFound {
		log.Error().Err(err).Str("order_id", order.ID).Msg("paperexec: position lookup failed")
		return FillResult{OrderID: order.ID, Filled: false, Reason: err.Error()}
	}

	if existing != nil && existing.Status == models.PositionStatusClosing {
		if err := e.closePosition(*existing, order, trade, fillPrice); err != nil {
			log.Error().Err(err).Str("order_id", order.ID).Msg("paperexec: close fill failed")
			if markErr := e.orderStore.MarkOrderFailed(order.ID); markErr != nil {
				log.Error().Err(markErr).Str("order_id", order.ID).Msg("paperexec: mark failed errored")
			}
			return FillResult{OrderID: order.ID, Filled: false, Reason: err.Error()}
		}
		if e.publisher != nil {
			e.publisher.PublishPositionUpdate(existing.ID)
		}
		return FillResult{OrderID: order.ID, Filled: true}
	}

	if err := e.openPosition(order, trade, fillPrice); err != nil {
		log.Error().Err(err).Str("order_id", order.ID).Msg("paperexec: open fill failed")
		if markErr := e.orderStore.MarkOrderFailed(order.ID); markErr != nil {
			log.Error().Err(markErr).Str("order_id", order.ID).Msg("paperexec: mark failed errored")
		}
		return FillResult{OrderID: order.ID, Filled: false, Reason: err.Error()}
	}
	return FillResult{OrderID: order.ID, Filled: true}
}

func (e *Executor) openPosition(order models.Order, trade models.Trade, fillPrice decimal.Decimal) error {
	if err := e.orderStore.SaveTrade(trade); err != nil {
		return fmt.Errorf("save trade: %w", err)
	}
	if err := e.orderStore.MarkOrderFilled(order.ID); err != nil {
		return fmt.Errorf("mark order filled: %w", err)
	}

	pos := models.Position{
		ID:             uuid.NewString(),
		Symbol:         order.Symbol,
		OptionSymbol:   order.OptionSymbol,
		Strike:         order.Strike,
		Expiration:     order.Expiration,
		Type:           order.Type,
		Quantity:       order.Quantity,
		EntryPrice:     fillPrice,
		EntryTimestamp: trade.FillTimestamp,
		Status:         models.PositionStatusOpen,
		Engine:         order.Engine,
		ExperimentID:   order.ExperimentID,
		LastUpdated:    trade.FillTimestamp,
	}
	if err := e.positionStore.InsertPosition(pos); err != nil {
		return fmt.Errorf("insert position: %w", err)
	}
	if e.riskMgr != nil {
		e.riskMgr.RecordOpen(pos)
	}
	return nil
}

func (e *Executor) closePosition(pos models.Position, order models.Order, trade models.Trade, fillPrice decimal.Decimal) error {
	realizedPnL := fillPrice.Sub(pos.EntryPrice).Mul(decimal.NewFromInt(int64(trade.FillQuantity))).Mul(decimal.NewFromInt(100))

	exitReason := "EXIT_FILL"
	if order.OptionSymbol != "" {
		exitReason = "EXIT_FILL"
	}

	if err := e.positionStore.CloseWithFill(
		pos.ID, exitReason, realizedPnL, fillPrice, trade.ID, order.ID, trade.FillQuantity,
	); err != nil {
		return err
	}
	if e.riskMgr != nil {
		pos.RealizedPnL = &realizedPnL
		e.riskMgr.RecordClose(pos)
	}
	return nil
}

// Worker ticks Executor.RunOnce on cfg.PollInterval, tracking the daily
// fill count the cap in RunOnce needs and resetting it at UTC midnight.
// Grounded on the same Start/Stop/loop skeleton as orchestrator/positions.
type Worker struct {
	exec *Executor

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	filledToday int
	dayKey      string
}

// NewWorker wraps an Executor in a ticking worker.
func NewWorker(exec *Executor) *Worker {
	return &Worker{exec: exec, stopCh: make(chan struct{})}
}

func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.mu.Unlock()

	w.wg.Add(1)
	go w.loop(ctx)
}

func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	w.wg.Wait()
}

// StopAndDrain signals the loop to exit and waits up to timeout for the
// in-flight tick to finish before giving up.
func (w *Worker) StopAndDrain(timeout time.Duration) bool {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return true
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.exec.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	today := w.exec.now().UTC().Format("2006-01-02")
	w.mu.Lock()
	if today != w.dayKey {
		w.dayKey = today
		w.filledToday = 0
	}
	filledToday := w.filledToday
	w.mu.Unlock()

	started := time.Now()
	results, err := w.exec.RunOnce(ctx, filledToday)
	if err != nil {
		log.Error().Err(err).Msg("paperexec: tick failed")
		if w.exec.healthMonitor != nil {
			w.exec.healthMonitor.ReportError("paperexec", w.exec.cfg.PollInterval)
		}
		return
	}
	if w.exec.healthMonitor != nil {
		w.exec.healthMonitor.ReportTick("paperexec", time.Since(started))
	}

	filled := 0
	for _, r := range results {
		if r.Filled {
			filled++
		}
	}
	if filled > 0 {
		w.mu.Lock()
		w.filledToday += filled
		w.mu.Unlock()
	}
}

// applySlippage implements mid + spread_est·slippage_fraction.
func applySlippage(mid decimal.Decimal) decimal.Decimal {
	spreadEstimate := mid.Mul(decimal.NewFromFloat(spreadEstimatePct))
	return mid.Add(spreadEstimate.Mul(decimal.NewFromFloat(slippageFraction)))
}
