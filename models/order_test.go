package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderConstants(t *testing.T) {
	assert.Equal(t, OrderStatus("pending_execution"), OrderStatusPendingExecution)
	assert.Equal(t, OrderStatus("filled"), OrderStatusFilled)
	assert.Equal(t, ContractType("call"), ContractTypeCall)
	assert.Equal(t, ContractType("put"), ContractTypePut)
}

func TestOrder_JSON(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	signalID := "sig-1"
	engine := VariantA
	order := Order{
		ID:           "ord-1",
		SignalID:     &signalID,
		Engine:       &engine,
		Symbol:       "SPY",
		OptionSymbol: "SPY240621C00450000",
		Strike:       decimal.NewFromInt(450),
		Expiration:   now.Add(30 * 24 * time.Hour),
		Type:         ContractTypeCall,
		Quantity:     2,
		OrderType:    "paper",
		Status:       OrderStatusPendingExecution,
		CreatedAt:    now,
	}

	data, err := json.Marshal(order)
	require.NoError(t, err)

	var parsed Order
	require.NoError(t, json.Unmarshal(data, &parsed))

	assert.Equal(t, order.ID, parsed.ID)
	assert.Equal(t, *order.SignalID, *parsed.SignalID)
	assert.Equal(t, *order.Engine, *parsed.Engine)
	assert.True(t, order.Strike.Equal(parsed.Strike))
	assert.Equal(t, order.Quantity, parsed.Quantity)
	assert.Equal(t, order.Status, parsed.Status)
}

func TestTrade_JSON(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	trade := Trade{
		ID:            "trd-1",
		OrderID:       "ord-1",
		FillPrice:     decimal.NewFromFloat(2.35),
		FillQuantity:  2,
		FillTimestamp: now,
	}

	data, err := json.Marshal(trade)
	require.NoError(t, err)

	var parsed Trade
	require.NoError(t, json.Unmarshal(data, &parsed))

	assert.Equal(t, trade.ID, parsed.ID)
	assert.True(t, trade.FillPrice.Equal(parsed.FillPrice))
	assert.Equal(t, trade.FillQuantity, parsed.FillQuantity)
}
