package exitmonitor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sherwood-labs/signalcore/data"
	"github.com/sherwood-labs/signalcore/health"
	"github.com/sherwood-labs/signalcore/market"
	"github.com/sherwood-labs/signalcore/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mid decimal.Decimal
}

func (f *fakeProvider) GetStockPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (f *fakeProvider) GetOptionPrice(ctx context.Context, symbol string, strike decimal.Decimal, expiration time.Time, contractType models.ContractType) (*decimal.Decimal, error) {
	p := f.mid
	return &p, nil
}
func (f *fakeProvider) GetOptionsChain(ctx context.Context, symbol string) ([]market.OptionRow, error) {
	return nil, nil
}
func (f *fakeProvider) GetGex(ctx context.Context, symbol string) (market.GexData, error) {
	return market.GexData{}, nil
}
func (f *fakeProvider) GetOptionsFlow(ctx context.Context, symbol string, limit int) (market.OptionsFlow, error) {
	return market.OptionsFlow{}, nil
}
func (f *fakeProvider) GetMarketHours(ctx context.Context) (market.MarketHours, error) {
	return market.MarketHours{}, nil
}

type fakeBiasAggregator struct {
	adjustment *market.BiasAdjustment
}

func (f *fakeBiasAggregator) GetCurrentState(ctx context.Context, symbol string) (*market.UnifiedBiasState, error) {
	return &market.UnifiedBiasState{Symbol: symbol, Regime: market.RegimeChoppy}, nil
}

func (f *fakeBiasAggregator) EvaluateExitAdjustment(ctx context.Context, pos models.Position) (*market.BiasAdjustment, error) {
	return f.adjustment, nil
}

func newTestDB(t *testing.T) *data.DB {
	t.Helper()
	db, err := data.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func openPosition(entryPrice decimal.Decimal, entryAgo time.Duration) models.Position {
	return models.Position{
		ID:             uuid.NewString(),
		Symbol:         "SPY",
		OptionSymbol:   uuid.NewString(),
		Strike:         decimal.NewFromInt(500),
		Expiration:     time.Now().Add(30 * 24 * time.Hour),
		Type:           models.ContractTypeCall,
		Quantity:       4,
		EntryPrice:     entryPrice,
		EntryTimestamp: time.Now().Add(-entryAgo),
		Status:         models.PositionStatusOpen,
		LastUpdated:    time.Now(),
	}
}

func TestMonitor_RunOnce_StopLossClaimsAndPlacesExitOrder(t *testing.T) {
	db := newTestDB(t)
	positionStore := data.NewPositionStore(db)
	orderStore := data.NewOrderStore(db)
	ruleStore := data.NewExitRuleStore(db)

	stopLoss := 50.0
	require.NoError(t, ruleStore.UpsertRule(models.ExitRule{
		ID: "default", StopLossPercent: &stopLoss, Enabled: true,
	}))

	pos := openPosition(decimal.NewFromFloat(10.0), time.Hour)
	require.NoError(t, positionStore.InsertPosition(pos))

	mon := New(Config{Interval: time.Second, Concurrency: 4}, Dependencies{
		PositionStore: positionStore, OrderStore: orderStore, ExitRuleStore: ruleStore,
		DataProvider: &fakeProvider{mid: decimal.NewFromFloat(4.0)},
	})

	require.NoError(t, mon.RunOnce(context.Background()))

	reloaded, err := positionStore.GetPosition(pos.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PositionStatusClosing, reloaded.Status)

	orders, err := orderStore.GetAllOrders()
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Nil(t, orders[0].SignalID)
	assert.Equal(t, pos.Quantity, orders[0].Quantity)
}

func TestMonitor_RunOnce_NoExitConditionsLeavesPositionOpen(t *testing.T) {
	db := newTestDB(t)
	positionStore := data.NewPositionStore(db)
	orderStore := data.NewOrderStore(db)
	ruleStore := data.NewExitRuleStore(db)

	pos := openPosition(decimal.NewFromFloat(5.0), time.Minute)
	require.NoError(t, positionStore.InsertPosition(pos))

	mon := New(Config{Interval: time.Second, Concurrency: 4}, Dependencies{
		PositionStore: positionStore, OrderStore: orderStore, ExitRuleStore: ruleStore,
		DataProvider: &fakeProvider{mid: decimal.NewFromFloat(5.1)},
	})

	require.NoError(t, mon.RunOnce(context.Background()))

	reloaded, err := positionStore.GetPosition(pos.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PositionStatusOpen, reloaded.Status)

	orders, err := orderStore.GetAllOrders()
	require.NoError(t, err)
	assert.Len(t, orders, 0)
}

func TestMonitor_RunOnce_PartialExitDecrementsQuantity(t *testing.T) {
	db := newTestDB(t)
	positionStore := data.NewPositionStore(db)
	orderStore := data.NewOrderStore(db)
	ruleStore := data.NewExitRuleStore(db)

	target := 20.0
	require.NoError(t, ruleStore.UpsertRule(models.ExitRule{
		ID: "default", ProfitTargetPercent: &target, Enabled: true,
	}))

	pos := openPosition(decimal.NewFromFloat(5.0), time.Minute)
	require.NoError(t, positionStore.InsertPosition(pos))

	mon := New(Config{Interval: time.Second, Concurrency: 4}, Dependencies{
		PositionStore: positionStore, OrderStore: orderStore, ExitRuleStore: ruleStore,
		DataProvider: &fakeProvider{mid: decimal.NewFromFloat(7.0)},
	})

	require.NoError(t, mon.RunOnce(context.Background()))

	reloaded, err := positionStore.GetPosition(pos.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PositionStatusOpen, reloaded.Status)
	assert.Equal(t, 2, reloaded.Quantity)

	orders, err := orderStore.GetAllOrders()
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, 2, orders[0].Quantity)
}

func TestMonitor_RunOnce_BiasForceExitOverridesHold(t *testing.T) {
	db := newTestDB(t)
	positionStore := data.NewPositionStore(db)
	orderStore := data.NewOrderStore(db)
	ruleStore := data.NewExitRuleStore(db)

	// No rule tier would fire on its own: the position is flat and young.
	pos := openPosition(decimal.NewFromFloat(5.0), time.Minute)
	require.NoError(t, positionStore.InsertPosition(pos))

	mon := New(Config{Interval: time.Second, Concurrency: 4}, Dependencies{
		PositionStore: positionStore, OrderStore: orderStore, ExitRuleStore: ruleStore,
		DataProvider: &fakeProvider{mid: decimal.NewFromFloat(5.0)},
		BiasAggregator: &fakeBiasAggregator{adjustment: &market.BiasAdjustment{
			ForceFullExit: true, Reason: "higher-timeframe thesis invalidated",
		}},
	})

	require.NoError(t, mon.RunOnce(context.Background()))

	reloaded, err := positionStore.GetPosition(pos.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PositionStatusClosing, reloaded.Status)

	orders, err := orderStore.GetAllOrders()
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, pos.Quantity, orders[0].Quantity)
}

func TestMonitor_RunOnce_BiasTightenStopLeavesPositionOpen(t *testing.T) {
	db := newTestDB(t)
	positionStore := data.NewPositionStore(db)
	orderStore := data.NewOrderStore(db)
	ruleStore := data.NewExitRuleStore(db)

	pos := openPosition(decimal.NewFromFloat(5.0), time.Minute)
	require.NoError(t, positionStore.InsertPosition(pos))

	newStop := decimal.NewFromFloat(4.5)
	mon := New(Config{Interval: time.Second, Concurrency: 4}, Dependencies{
		PositionStore: positionStore, OrderStore: orderStore, ExitRuleStore: ruleStore,
		DataProvider: &fakeProvider{mid: decimal.NewFromFloat(5.0)},
		BiasAggregator: &fakeBiasAggregator{adjustment: &market.BiasAdjustment{
			NewStopLevel: &newStop, Reason: "regime softening",
		}},
	})

	require.NoError(t, mon.RunOnce(context.Background()))

	// TIGHTEN_STOP is advisory only: it never claims or closes the position.
	reloaded, err := positionStore.GetPosition(pos.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PositionStatusOpen, reloaded.Status)

	orders, err := orderStore.GetAllOrders()
	require.NoError(t, err)
	assert.Len(t, orders, 0)
}

func TestMonitor_Loop_ReportsTickToHealthMonitor(t *testing.T) {
	db := newTestDB(t)
	positionStore := data.NewPositionStore(db)
	orderStore := data.NewOrderStore(db)
	ruleStore := data.NewExitRuleStore(db)
	signalStore := data.NewSignalStore(db)

	healthMonitor := health.New(health.DefaultConfig(), signalStore)
	healthMonitor.RegisterWorker("exitmonitor")

	mon := New(Config{Interval: 10 * time.Millisecond, Concurrency: 2}, Dependencies{
		PositionStore: positionStore, OrderStore: orderStore, ExitRuleStore: ruleStore,
		DataProvider:  &fakeProvider{mid: decimal.NewFromFloat(5.0)},
		HealthMonitor: healthMonitor,
	})

	mon.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	assert.True(t, mon.StopAndDrain(time.Second))

	worker, ok := healthMonitor.Status().Workers["exitmonitor"]
	require.True(t, ok)
	assert.True(t, worker.Running, "exit monitor's tick loop should have reported at least one tick")
}

func TestMonitor_StartStop(t *testing.T) {
	db := newTestDB(t)
	positionStore := data.NewPositionStore(db)
	orderStore := data.NewOrderStore(db)
	ruleStore := data.NewExitRuleStore(db)

	mon := New(Config{Interval: 10 * time.Millisecond, Concurrency: 2}, Dependencies{
		PositionStore: positionStore, OrderStore: orderStore, ExitRuleStore: ruleStore,
		DataProvider: &fakeProvider{mid: decimal.NewFromFloat(5.0)},
	})

	mon.Start(context.Background())
	time.Sleep(25 * time.Millisecond)
	assert.True(t, mon.StopAndDrain(time.Second))
}
