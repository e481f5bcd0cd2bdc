// Package integration_test exercises the full signal processing core
// end to end: a webhook POST through ingestion, orchestration, and paper
// fill, wired with the devstub collaborators
// against a real (file-backed) SQLite store.
package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sherwood-labs/signalcore/api"
	"github.com/sherwood-labs/signalcore/config"
	"github.com/sherwood-labs/signalcore/data"
	"github.com/sherwood-labs/signalcore/devstub"
	"github.com/sherwood-labs/signalcore/enginecoord"
	"github.com/sherwood-labs/signalcore/experiment"
	"github.com/sherwood-labs/signalcore/health"
	"github.com/sherwood-labs/signalcore/ingest"
	"github.com/sherwood-labs/signalcore/models"
	"github.com/sherwood-labs/signalcore/orchestrator"
	"github.com/sherwood-labs/signalcore/paperexec"
	"github.com/sherwood-labs/signalcore/policy"
	"github.com/sherwood-labs/signalcore/realtime"
	"github.com/sherwood-labs/signalcore/risk"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFullPipeline_WebhookToFilledPosition posts a signal through the
// webhook handler, drives one orchestrator batch and one paper-executor
// batch synchronously, and asserts a position comes out the other end.
func TestFullPipeline_WebhookToFilledPosition(t *testing.T) {
	db, err := data.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	signalStore := data.NewSignalStore(db)
	experimentStore := data.NewExperimentStore(db)
	orderStore := data.NewOrderStore(db)
	positionStore := data.NewPositionStore(db)

	ingestor := ingest.NewIngestor(signalStore, "")
	healthMonitor := health.New(health.DefaultConfig(), signalStore)

	cfg := &config.Config{AllowedOrigins: []string{"http://localhost"}}
	router := api.NewRouter(cfg, ingestor, signalStore, experimentStore, orderStore, positionStore, healthMonitor, nil, realtime.NewWebSocketManager())

	body := []byte(`{"symbol":"SPY","direction":"long","timeframe":5,"time":"` + time.Now().UTC().Format(time.RFC3339) + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var ingestResult ingest.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ingestResult))
	require.Equal(t, ingest.OutcomeAccepted, ingestResult.Outcome)

	dataProvider := devstub.NewDataProvider()
	biasAgg := devstub.NewBiasAggregator(nil)
	engineA := devstub.NewEngineAdapter(models.VariantA)
	engineB := devstub.NewEngineAdapter(models.VariantB)
	coordinator := enginecoord.NewCoordinator(engineA, engineB, 5*time.Second)

	orch := orchestrator.New(orchestrator.Config{
		BatchSize:            10,
		Concurrency:          2,
		SignalTimeout:        5 * time.Second,
		RetryBase:            time.Second,
		ABSplit:              0.5,
		PolicyVersion:        "v1",
		IsPaperMode:          true,
		MaxPremiumLoss:       decimal.NewFromInt(100000),
		MaxCapitalAllocation: decimal.NewFromInt(100000),
	}, orchestrator.Dependencies{
		SignalStore:  signalStore,
		OrderStore:   orderStore,
		Experiments:  experiment.NewManager(experimentStore),
		Policies:     policy.NewManager(experimentStore),
		Coordinator:  coordinator,
		DataProvider: dataProvider,
		BiasAgg:      biasAgg,
		ShadowExec:   devstub.NewShadowExecutor(),
		RiskManager:  risk.NewManager(risk.DefaultPortfolioConfig()),
	})

	ctx := context.Background()
	results, err := orch.RunBatch(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, orchestrator.OutcomeApproved, results[0].Outcome)

	orders, err := orderStore.GetAllOrders()
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, models.OrderStatusPendingExecution, orders[0].Status)

	executor := paperexec.New(paperexec.Config{
		BatchSize:      10,
		MaxDailyTrades: 100,
	}, paperexec.Dependencies{
		OrderStore:    orderStore,
		PositionStore: positionStore,
		DataProvider:  dataProvider,
	})

	fills, err := executor.RunOnce(ctx, 0)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.True(t, fills[0].Filled)

	positions, err := positionStore.GetOpenPositions()
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "SPY", positions[0].Symbol)
}

// TestFullPipeline_DuplicateWebhookIsIdempotent confirms a replayed
// webhook does not create a second signal/order.
func TestFullPipeline_DuplicateWebhookIsIdempotent(t *testing.T) {
	db, err := data.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	signalStore := data.NewSignalStore(db)
	experimentStore := data.NewExperimentStore(db)
	orderStore := data.NewOrderStore(db)
	positionStore := data.NewPositionStore(db)

	ingestor := ingest.NewIngestor(signalStore, "")
	healthMonitor := health.New(health.DefaultConfig(), signalStore)
	cfg := &config.Config{AllowedOrigins: []string{"http://localhost"}}
	router := api.NewRouter(cfg, ingestor, signalStore, experimentStore, orderStore, positionStore, healthMonitor, nil, realtime.NewWebSocketManager())

	body := []byte(`{"symbol":"QQQ","direction":"short","timeframe":15,"time":"` + time.Now().UTC().Format(time.RFC3339) + `"}`)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	summary, err := signalStore.WebhookSummarySince(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, summary[models.WebhookEventAccepted])
	assert.Equal(t, 1, summary[models.WebhookEventDuplicate])
}
