// Package positions implements the Position Refresher (C9): periodically
// revalues open positions against live mid-price and pushes realtime
// updates (spec.md §4's control-flow note "C8 ... C9 periodically
// revalue"). Grounded on the same tick-loop skeleton as orchestrator/
// exitmonitor, scaled down to a single-threaded scan with no claim
// semantics since revaluation never mutates position state.
package positions

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sherwood-labs/signalcore/data"
	"github.com/sherwood-labs/signalcore/health"
	"github.com/sherwood-labs/signalcore/market"
)

// Refresher periodically revalues every open position.
type Refresher struct {
	interval      time.Duration
	positionStore data.PositionStore
	dataProvider  market.DataProvider
	publisher     market.RealtimePublisher
	healthMonitor *health.Monitor

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
}

// New builds a Refresher. healthMonitor may be nil to skip tick reporting.
func New(interval time.Duration, positionStore data.PositionStore, dataProvider market.DataProvider, publisher market.RealtimePublisher, healthMonitor *health.Monitor) *Refresher {
	return &Refresher{
		interval:      interval,
		positionStore: positionStore,
		dataProvider:  dataProvider,
		publisher:     publisher,
		healthMonitor: healthMonitor,
		stopCh:        make(chan struct{}),
	}
}

// Start begins the periodic revaluation tick.
func (r *Refresher) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.mu.Unlock()

	r.wg.Add(1)
	go r.loop(ctx)
}

// Stop signals the loop to exit and waits for the in-flight tick to drain.
func (r *Refresher) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Refresher) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			started := time.Now()
			if err := r.RunOnce(ctx); err != nil {
				log.Error().Err(err).Msg("positions: refresh tick failed")
				if r.healthMonitor != nil {
					r.healthMonitor.ReportError("positions", r.interval)
				}
			} else if r.healthMonitor != nil {
				r.healthMonitor.ReportTick("positions", time.Since(started))
			}
		}
	}
}

// RunOnce revalues every open position and publishes an update per
// position. A single position's data-access failure is logged and
// skipped; it never aborts the scan (spec.md §7 propagation policy).
func (r *Refresher) RunOnce(ctx context.Context) error {
	open, err := r.positionStore.GetOpenPositions()
	if err != nil {
		return err
	}

	for _, pos := range open {
		mid, err := r.dataProvider.GetOptionPrice(ctx, pos.Symbol, pos.Strike, pos.Expiration, pos.Type)
		if err != nil {
			log.Warn().Err(err).Str("position_id", pos.ID).Msg("positions: revaluation fetch failed, skipping")
			continue
		}
		if mid == nil {
			continue
		}
		if r.publisher != nil {
			r.publisher.PublishPositionUpdate(pos.ID)
		}
	}

	return nil
}
