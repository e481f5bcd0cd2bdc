// Package health implements the Health / Queue Monitor (C12): a
// heartbeat tick that reports queue depth with duration-gated alerting
// and per-worker liveness (spec.md §4.10). Grounded on the teacher
// pack's Prometheus wiring (svyatogor45-abitrage's internal/bot/metrics.go
// promauto gauges/counters) rather than the original repo's sqlite-only
// scope — the health surface is ambient stack, not domain logic, so it
// follows the pack's idiom for it.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
	"github.com/sherwood-labs/signalcore/data"
)

var (
	queueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signalcore",
		Subsystem: "signals",
		Name:      "queue_depth",
		Help:      "Number of signals currently eligible for claim",
	})

	workerRunningGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "signalcore",
		Subsystem: "worker",
		Name:      "running",
		Help:      "Whether a background worker is currently running (1) or stopped (0)",
	}, []string{"worker"})

	workerLastDurationGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "signalcore",
		Subsystem: "worker",
		Name:      "last_duration_ms",
		Help:      "Duration of the worker's last completed tick in milliseconds",
	}, []string{"worker"})

	workerBackoffGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "signalcore",
		Subsystem: "worker",
		Name:      "backoff_ms",
		Help:      "Current retry backoff in milliseconds, 0 if none outstanding",
	}, []string{"worker"})

	queueDepthAlertsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "signalcore",
		Subsystem: "signals",
		Name:      "queue_depth_alerts_total",
		Help:      "Number of queue depth alert warnings emitted",
	})
)

// WorkerStatus is one background worker's self-reported liveness, updated
// by the worker itself via Monitor.ReportTick/ReportError.
type WorkerStatus struct {
	Running        bool
	LastRunAt      time.Time
	LastDurationMs int64
	LastErrorAt    *time.Time
	BackoffMs      int64
}

// StallState classifies a worker relative to its expected cadence.
type StallState string

const (
	StallIdle    StallState = "idle"
	StallHealthy StallState = "healthy"
	StallStalled StallState = "stalled"
)

// Config parameterizes heartbeat cadence and the queue-depth alarm.
type Config struct {
	HeartbeatInterval time.Duration
	AlertThreshold    int
	AlertDurationSec  int
	AlertCooldown     time.Duration
	StallAfter        time.Duration
}

// DefaultConfig matches spec.md §4.10's defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 60 * time.Second,
		AlertThreshold:    50,
		AlertDurationSec:  120,
		AlertCooldown:     15 * time.Minute,
		StallAfter:        5 * time.Minute,
	}
}

// Monitor ticks every HeartbeatInterval, computing queue depth and
// reporting worker liveness.
type Monitor struct {
	cfg         Config
	signalStore data.SignalStore
	now         func() time.Time

	mu            sync.Mutex
	workers       map[string]*WorkerStatus
	overThreshold time.Time
	lastAlertAt   time.Time

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// New builds a Monitor.
func New(cfg Config, signalStore data.SignalStore) *Monitor {
	return &Monitor{
		cfg:         cfg,
		signalStore: signalStore,
		now:         time.Now,
		workers:     make(map[string]*WorkerStatus),
		stopCh:      make(chan struct{}),
	}
}

// RegisterWorker declares a worker name the monitor should track.
func (m *Monitor) RegisterWorker(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workers[name]; !ok {
		m.workers[name] = &WorkerStatus{}
	}
}

// ReportTick records a worker's successful tick.
func (m *Monitor) ReportTick(name string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.workers[name]
	if w == nil {
		w = &WorkerStatus{}
		m.workers[name] = w
	}
	w.Running = true
	w.LastRunAt = m.now()
	w.LastDurationMs = duration.Milliseconds()
}

// ReportError records a worker's tick failure and its current backoff.
func (m *Monitor) ReportError(name string, backoff time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.workers[name]
	if w == nil {
		w = &WorkerStatus{}
		m.workers[name] = w
	}
	now := m.now()
	w.LastErrorAt = &now
	w.BackoffMs = backoff.Milliseconds()
}

// Snapshot returns each registered worker's status plus its stall
// classification, and the current queue depth.
type Snapshot struct {
	QueueDepth int
	Workers    map[string]WorkerReport
}

// WorkerReport pairs a WorkerStatus with its derived stall state.
type WorkerReport struct {
	WorkerStatus
	Stall StallState
}

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

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			if err := m.Tick(); err != nil {
				log.Error().Err(err).Msg("health: heartbeat tick failed")
			}
		}
	}
}

// Tick computes queue depth, exports gauges, and emits a duration-gated,
// cooldown-respecting alert if depth stays above threshold.
func (m *Monitor) Tick() error {
	depth, err := m.signalStore.QueueDepth()
	if err != nil {
		return err
	}
	queueDepthGauge.Set(float64(depth))

	now := m.now()
	m.mu.Lock()
	if depth > m.cfg.AlertThreshold {
		if m.overThreshold.IsZero() {
			m.overThreshold = now
		}
		sustainedFor := now.Sub(m.overThreshold)
		cooledDown := now.Sub(m.lastAlertAt) >= m.cfg.AlertCooldown
		if sustainedFor >= time.Duration(m.cfg.AlertDurationSec)*time.Second && cooledDown {
			m.lastAlertAt = now
			m.mu.Unlock()
			queueDepthAlertsTotal.Inc()
			log.Warn().Int("depth", depth).Int("threshold", m.cfg.AlertThreshold).Msg("health: queue depth alert")
		} else {
			m.mu.Unlock()
		}
	} else {
		m.overThreshold = time.Time{}
		m.mu.Unlock()
	}

	m.mu.Lock()
	for name, w := range m.workers {
		running := 0.0
		if w.Running {
			running = 1.0
		}
		workerRunningGauge.WithLabelValues(name).Set(running)
		workerLastDurationGauge.WithLabelValues(name).Set(float64(w.LastDurationMs))
		workerBackoffGauge.WithLabelValues(name).Set(float64(w.BackoffMs))
	}
	m.mu.Unlock()

	return nil
}

// Status returns a point-in-time snapshot of queue depth and worker
// liveness, for the monitoring HTTP endpoint (spec.md §6).
func (m *Monitor) Status() Snapshot {
	depth, _ := m.signalStore.QueueDepth()

	m.mu.Lock()
	defer m.mu.Unlock()

	workers := make(map[string]WorkerReport, len(m.workers))
	now := m.now()
	for name, w := range m.workers {
		stall := StallIdle
		if !w.LastRunAt.IsZero() {
			if now.Sub(w.LastRunAt) > m.cfg.StallAfter {
				stall = StallStalled
			} else {
				stall = StallHealthy
			}
		}
		workers[name] = WorkerReport{WorkerStatus: *w, Stall: stall}
	}

	return Snapshot{QueueDepth: depth, Workers: workers}
}
