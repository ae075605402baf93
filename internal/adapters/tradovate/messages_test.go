package tradovate

import (
	"testing"

	"tradovateLedger/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMarketData(t *testing.T) {
	t.Run("valid frame with rounding", func(t *testing.T) {
		raw := []byte(`{"type":"md","symbol":"ESZ4","price":5012.123456,"bid":5012.0,"ask":5012.25,"volume":42,"timestamp":1700000000000}`)
		ev := normalizeMarketData(raw, BrokerID)
		require.NotNil(t, ev)
		assert.Equal(t, "ESZ4", ev.Symbol)
		assert.True(t, ev.Price.Equal(decimal.RequireFromString("5012.1235")), "price should round to four decimals, got %s", ev.Price)
		assert.True(t, ev.Bid.Equal(decimal.RequireFromString("5012")))
		assert.True(t, ev.Ask.Equal(decimal.RequireFromString("5012.25")))
		assert.Equal(t, int64(42), ev.Volume)
		assert.Equal(t, int64(1700000000000), ev.Timestamp.UnixMilli())
		assert.Equal(t, BrokerID, ev.Broker)
		assert.JSONEq(t, string(raw), string(ev.Raw))
	})

	t.Run("string price accepted", func(t *testing.T) {
		ev := normalizeMarketData([]byte(`{"type":"md","symbol":"NQZ4","price":"17500.50"}`), BrokerID)
		require.NotNil(t, ev)
		assert.True(t, ev.Price.Equal(decimal.RequireFromString("17500.5")))
		assert.False(t, ev.Timestamp.IsZero())
	})

	t.Run("malformed frames yield nil", func(t *testing.T) {
		cases := map[string]string{
			"not json":       `{"type":"md","symbol":`,
			"missing symbol": `{"type":"md","price":100.0}`,
			"missing price":  `{"type":"md","symbol":"ESZ4"}`,
			"garbage price":  `{"type":"md","symbol":"ESZ4","price":"not-a-number"}`,
		}
		for name, raw := range cases {
			assert.Nil(t, normalizeMarketData([]byte(raw), BrokerID), name)
		}
	})
}

func TestNormalizeOrderUpdate(t *testing.T) {
	t.Run("valid fill", func(t *testing.T) {
		raw := []byte(`{"type":"order","orderId":"ord-1","accountId":"acc-9","symbol":"ESZ4","ordStatus":"Filled","action":"Sell","qty":2,"avgPx":5010.75,"timestamp":1700000001000}`)
		ev := normalizeOrderUpdate(raw, BrokerID)
		require.NotNil(t, ev)
		assert.Equal(t, "ord-1", ev.OrderID)
		assert.Equal(t, "acc-9", ev.AccountID)
		assert.Equal(t, domain.Sell, ev.Side)
		assert.Equal(t, "Filled", ev.Status)
		assert.Equal(t, 2, ev.Quantity)
		assert.True(t, ev.FillPrice.Equal(decimal.RequireFromString("5010.75")))
	})

	t.Run("buy is the default side", func(t *testing.T) {
		ev := normalizeOrderUpdate([]byte(`{"type":"order","orderId":"ord-2","symbol":"ESZ4","action":"Buy"}`), BrokerID)
		require.NotNil(t, ev)
		assert.Equal(t, domain.Buy, ev.Side)
	})

	t.Run("missing order id yields nil", func(t *testing.T) {
		assert.Nil(t, normalizeOrderUpdate([]byte(`{"type":"order","symbol":"ESZ4"}`), BrokerID))
	})
}

func TestNormalizeAccountUpdate(t *testing.T) {
	t.Run("valid position snapshot", func(t *testing.T) {
		raw := []byte(`{"type":"account","accountId":"acc-9","timestamp":1700000002000,"position":{"positionId":"pos-7","contractId":"c-1","symbol":"ESZ4","netPos":-3,"netPrice":5011.5,"openPnl":12.5,"realizedPnl":-4.25}}`)
		ev := normalizeAccountUpdate(raw, BrokerID)
		require.NotNil(t, ev)
		assert.Equal(t, "acc-9", ev.AccountID)
		assert.Equal(t, "pos-7", ev.Position.PositionID)
		assert.Equal(t, BrokerID, ev.Position.BrokerID)
		assert.Equal(t, -3, ev.Position.NetPos)
		assert.True(t, ev.Position.AveragePrice.Equal(decimal.RequireFromString("5011.5")))
		require.NotNil(t, ev.Position.UnrealizedPnL)
		assert.True(t, ev.Position.UnrealizedPnL.Equal(decimal.RequireFromString("12.5")))
		require.NotNil(t, ev.Position.RealizedPnL)
		assert.True(t, ev.Position.RealizedPnL.Equal(decimal.RequireFromString("-4.25")))
		assert.Nil(t, ev.Position.ExitPrice)
	})

	t.Run("missing position id yields nil", func(t *testing.T) {
		assert.Nil(t, normalizeAccountUpdate([]byte(`{"type":"account","accountId":"acc-9","position":{"symbol":"ESZ4"}}`), BrokerID))
	})
}

func TestParseErrorFrame(t *testing.T) {
	err := parseErrorFrame([]byte(`{"type":"error","code":429,"message":"rate limited"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "rate limited")

	err = parseErrorFrame([]byte(`{"type":"error"}`))
	require.Error(t, err)
}
