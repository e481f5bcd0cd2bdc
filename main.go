// Package main is the entry point for the signal processing core: it
// wires the webhook ingestion HTTP surface and the background workers
// (orchestrator, paper executor, position refresher, exit monitor,
// health monitor) to a shared SQLite store and starts serving.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sherwood-labs/signalcore/api"
	"github.com/sherwood-labs/signalcore/cache"
	"github.com/sherwood-labs/signalcore/config"
	"github.com/sherwood-labs/signalcore/data"
	"github.com/sherwood-labs/signalcore/devstub"
	"github.com/sherwood-labs/signalcore/enginecoord"
	"github.com/sherwood-labs/signalcore/exitmonitor"
	"github.com/sherwood-labs/signalcore/experiment"
	"github.com/sherwood-labs/signalcore/health"
	"github.com/sherwood-labs/signalcore/ingest"
	"github.com/sherwood-labs/signalcore/models"
	"github.com/sherwood-labs/signalcore/notifications"
	"github.com/sherwood-labs/signalcore/orchestrator"
	"github.com/sherwood-labs/signalcore/paperexec"
	"github.com/sherwood-labs/signalcore/policy"
	"github.com/sherwood-labs/signalcore/positions"
	"github.com/sherwood-labs/signalcore/realtime"
	"github.com/sherwood-labs/signalcore/risk"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	log.Info().Msg("Starting signal processing core...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.IsLive() {
		log.Warn().Msg("LIVE mode configured - this core is paper-trading only, refusing to start")
		os.Exit(1)
	}
	log.Info().Msg("Paper trading mode")

	db, err := data.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	signalStore := data.NewSignalStore(db)
	experimentStore := data.NewExperimentStore(db)
	orderStore := data.NewOrderStore(db)
	positionStore := data.NewPositionStore(db)
	exitRuleStore := data.NewExitRuleStore(db)
	notificationStore := data.NewNotificationStore(db)

	if err := seedDefaultExitRule(exitRuleStore, cfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed default exit rule")
	}

	biasIdempotency := cache.NewIdempotencySet(cache.NewMemoryCache())

	wsManager := realtime.NewWebSocketManager()
	go wsManager.Run()

	notifier := notifications.NewManager(notificationStore, wsManager)

	ingestor := ingest.NewIngestor(signalStore, cfg.HMACSecret)

	dataProvider := devstub.NewDataProvider()
	biasAgg := devstub.NewBiasAggregator(biasIdempotency)
	authVerifier := devstub.NewAuthVerifier(cfg.HMACSecret)
	shadowExec := devstub.NewShadowExecutor()
	engineA := devstub.NewEngineAdapter(models.VariantA)
	engineB := devstub.NewEngineAdapter(models.VariantB)

	coordinator := enginecoord.NewCoordinator(engineA, engineB, cfg.OrchestratorSignalTimeout)
	experimentMgr := experiment.NewManager(experimentStore)
	policyMgr := policy.NewManager(experimentStore)
	riskMgr := risk.NewManager(risk.PortfolioConfig{
		MaxDailyLoss:         decimalFromFloat(-cfg.MaxDailyLoss),
		MaxOpenPositions:     cfg.MaxOpenPositions,
		MaxCapitalAllocation: decimalFromFloat(cfg.MaxPositionSize * float64(cfg.MaxOpenPositions)),
	})

	healthMonitor := health.New(health.DefaultConfig(), signalStore)
	healthMonitor.RegisterWorker("orchestrator")
	healthMonitor.RegisterWorker("paperexec")
	healthMonitor.RegisterWorker("positions")
	healthMonitor.RegisterWorker("exitmonitor")

	orch := orchestrator.New(orchestrator.Config{
		BatchSize:            cfg.OrchestratorBatchSize,
		Concurrency:          cfg.OrchestratorConcurrency,
		SignalTimeout:        cfg.OrchestratorSignalTimeout,
		RetryBase:            cfg.OrchestratorRetryDelay,
		TickInterval:         cfg.OrchestratorIntervalMS,
		ABSplit:              cfg.ABSplitPercentage,
		PolicyVersion:        "v1",
		IsPaperMode:          cfg.IsPaper(),
		DualPaperTrading:     cfg.EnableDualPaperTrading,
		MaxPremiumLoss:       decimalFromFloat(cfg.MaxPositionSize),
		MaxCapitalAllocation: decimalFromFloat(cfg.MaxPositionSize),
	}, orchestrator.Dependencies{
		SignalStore:  signalStore,
		OrderStore:   orderStore,
		Experiments:  experimentMgr,
		Policies:     policyMgr,
		Coordinator:  coordinator,
		DataProvider: dataProvider,
		BiasAgg:      biasAgg,
		ShadowExec:   shadowExec,
		RiskManager:  riskMgr,
		HealthMonitor: healthMonitor,
		Notifications: notifier,
	})

	paperWorker := paperexec.NewWorker(paperexec.New(paperexec.Config{
		BatchSize:      cfg.PaperExecutorBatchSize,
		MaxDailyTrades: cfg.MaxDailyTrades,
		PollInterval:   cfg.PaperExecutorInterval,
	}, paperexec.Dependencies{
		OrderStore:    orderStore,
		PositionStore: positionStore,
		DataProvider:  dataProvider,
		Publisher:     wsManager,
		RiskManager:   riskMgr,
		HealthMonitor: healthMonitor,
	}))

	refresher := positions.New(cfg.PaperExecutorInterval, positionStore, dataProvider, wsManager, healthMonitor)

	exitMon := exitmonitor.New(exitmonitor.Config{
		Interval:    cfg.ExitMonitorInterval,
		Concurrency: cfg.OrchestratorConcurrency,
	}, exitmonitor.Dependencies{
		PositionStore:  positionStore,
		OrderStore:     orderStore,
		ExitRuleStore:  exitRuleStore,
		DataProvider:   dataProvider,
		BiasAggregator: biasAgg,
		Publisher:      wsManager,
		Notifications:  notifier,
		HealthMonitor:  healthMonitor,
	})

	router := api.NewRouter(cfg, ingestor, signalStore, experimentStore, orderStore, positionStore, healthMonitor, authVerifier, wsManager)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())

	if err := orch.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start orchestrator")
	}
	paperWorker.Start(ctx)
	refresher.Start(ctx)
	exitMon.Start(ctx)
	healthMonitor.Start(ctx)

	go func() {
		log.Info().Str("addr", server.Addr).Msg("API server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	cancel()

	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}

	if err := orch.StopAndDrain(shutdownTimeout); err != nil {
		log.Warn().Err(err).Msg("orchestrator did not drain before shutdown timeout")
	}
	if !paperWorker.StopAndDrain(shutdownTimeout) {
		log.Warn().Msg("paper executor did not drain before shutdown timeout")
	}
	refresher.Stop()
	if !exitMon.StopAndDrain(shutdownTimeout) {
		log.Warn().Msg("exit monitor did not drain before shutdown timeout")
	}
	healthMonitor.Stop()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Shutdown complete")
}

// seedDefaultExitRule ensures at least one enabled exit rule exists so
// the exit monitor has thresholds to evaluate against on a fresh store.
func seedDefaultExitRule(store data.ExitRuleStore, cfg *config.Config) error {
	_, err := store.GetEnabledRule()
	if err == nil {
		return nil
	}
	if err != data.ErrNotFound {
		return err
	}

	profitTarget := cfg.ProfitTargetPct
	stopLoss := cfg.StopLossPct
	maxHoldHours := float64(cfg.MaxHoldDays) * 24
	minDTE := cfg.TimeStopDTE

	return store.UpsertRule(models.ExitRule{
		ID:                  uuid.NewString(),
		ProfitTargetPercent: &profitTarget,
		StopLossPercent:     &stopLoss,
		MaxHoldTimeHours:    &maxHoldHours,
		MinDTEExit:          &minDTE,
		Enabled:             true,
	})
}

func decimalFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}
