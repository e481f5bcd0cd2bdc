package data

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sherwood-labs/signalcore/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPosition(optionSymbol string) models.Position {
	return models.Position{
		ID:             uuid.NewString(),
		Symbol:         "SPY",
		OptionSymbol:   optionSymbol,
		Strike:         decimal.NewFromInt(450),
		Expiration:     time.Now().Add(30 * 24 * time.Hour),
		Type:           models.ContractTypeCall,
		Quantity:       1,
		EntryPrice:     decimal.NewFromFloat(5.0),
		EntryTimestamp: time.Now().UTC(),
		Status:         models.PositionStatusOpen,
		LastUpdated:    time.Now().UTC(),
	}
}

func TestPositionStore_InsertAndGet(t *testing.T) {
	store := NewPositionStore(newTestDB(t))
	pos := newTestPosition("SPY240621C00450000")
	require.NoError(t, store.InsertPosition(pos))

	reloaded, err := store.GetPosition(pos.ID)
	require.NoError(t, err)
	assert.Equal(t, pos.OptionSymbol, reloaded.OptionSymbol)
}

func TestPositionStore_OnePerOptionSymbolWhileOpen(t *testing.T) {
	store := NewPositionStore(newTestDB(t))
	pos := newTestPosition("SPY240621C00450000")
	require.NoError(t, store.InsertPosition(pos))

	dup := newTestPosition("SPY240621C00450000")
	err := store.InsertPosition(dup)
	assert.Error(t, err)
}

func TestPositionStore_ClaimForExit_ConcurrentRaceHasOneWinner(t *testing.T) {
	store := NewPositionStore(newTestDB(t))
	pos := newTestPosition("SPY240621C00450000")
	require.NoError(t, store.InsertPosition(pos))

	var wg sync.WaitGroup
	wins := make([]bool, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			claimed, err := store.ClaimForExit(pos.ID)
			require.NoError(t, err)
			wins[idx] = claimed != nil
		}(i)
	}
	wg.Wait()

	count := 0
	for _, w := range wins {
		if w {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestPositionStore_ClaimForExit_AlreadyClosingSkips(t *testing.T) {
	store := NewPositionStore(newTestDB(t))
	pos := newTestPosition("SPY240621C00450000")
	require.NoError(t, store.InsertPosition(pos))

	claimed, err := store.ClaimForExit(pos.ID)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	again, err := store.ClaimForExit(pos.ID)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestPositionStore_GetOpenPositions(t *testing.T) {
	store := NewPositionStore(newTestDB(t))
	require.NoError(t, store.InsertPosition(newTestPosition("A")))
	require.NoError(t, store.InsertPosition(newTestPosition("B")))

	open, err := store.GetOpenPositions()
	require.NoError(t, err)
	assert.Len(t, open, 2)
}

func TestPositionStore_CloseWithFill(t *testing.T) {
	store := NewPositionStore(newTestDB(t))
	orderStore := NewOrderStore(store.db)
	pos := newTestPosition("SPY240621C00450000")
	require.NoError(t, store.InsertPosition(pos))

	exitOrder := newTestOrder("", models.VariantA)
	exitOrder.SignalID = nil
	require.NoError(t, orderStore.InsertExitOrder(exitOrder))

	claimed, err := store.ClaimForExit(pos.ID)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	pnl := decimal.NewFromFloat(-300.0)
	err = store.CloseWithFill(pos.ID, "STOP_LOSS_HIT", pnl, decimal.NewFromFloat(2.0), uuid.NewString(), exitOrder.ID, 1)
	require.NoError(t, err)

	reloaded, err := store.GetPosition(pos.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PositionStatusClosed, reloaded.Status)
	require.NotNil(t, reloaded.ExitReason)
	assert.Equal(t, "STOP_LOSS_HIT", *reloaded.ExitReason)

	reloadedOrder, err := orderStore.GetOrder(exitOrder.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFilled, reloadedOrder.Status)
}

func TestPositionStore_GetPosition_NotFound(t *testing.T) {
	store := NewPositionStore(newTestDB(t))
	_, err := store.GetPosition("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPositionStore_DecrementQuantity(t *testing.T) {
	store := NewPositionStore(newTestDB(t))
	pos := newTestPosition("SPY240621C00450000")
	pos.Quantity = 3
	require.NoError(t, store.InsertPosition(pos))

	ok, err := store.DecrementQuantity(pos.ID, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	reloaded, err := store.GetPosition(pos.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.Quantity)
}

func TestPositionStore_DecrementQuantity_InsufficientQuantityFails(t *testing.T) {
	store := NewPositionStore(newTestDB(t))
	pos := newTestPosition("SPY240621C00450000")
	pos.Quantity = 1
	require.NoError(t, store.InsertPosition(pos))

	ok, err := store.DecrementQuantity(pos.ID, 5)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPositionStore_DecrementQuantity_ClosingSkips(t *testing.T) {
	store := NewPositionStore(newTestDB(t))
	pos := newTestPosition("SPY240621C00450000")
	pos.Quantity = 2
	require.NoError(t, store.InsertPosition(pos))

	claimed, err := store.ClaimForExit(pos.ID)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	ok, err := store.DecrementQuantity(pos.ID, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}
