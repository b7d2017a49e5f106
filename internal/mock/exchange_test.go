package mock

import (
	"context"
	"testing"

	"dca_trader/internal/core"
	apperrors "dca_trader/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Debug(msg string, f ...interface{})                 {}
func (nopLogger) Info(msg string, f ...interface{})                  {}
func (nopLogger) Warn(msg string, f ...interface{})                  {}
func (nopLogger) Error(msg string, f ...interface{})                 {}
func (nopLogger) Fatal(msg string, f ...interface{})                 {}
func (n nopLogger) WithField(k string, v interface{}) core.ILogger   { return n }
func (n nopLogger) WithFields(f map[string]interface{}) core.ILogger { return n }

func newVenue() *Exchange {
	e := NewExchange("USDT", decimal.NewFromInt(10), nopLogger{})
	e.SetPrice("BTCUSDT", decimal.NewFromInt(100))
	e.SetBalance("USDT", decimal.NewFromInt(1000))
	return e
}

func TestMockExchange_BuyMutatesBalances(t *testing.T) {
	e := newVenue()
	ctx := context.Background()

	order, err := e.PlaceMarketBuy(ctx, "BTCUSDT", decimal.NewFromInt(200), "buy-1")
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusFilled, order.Status)
	assert.True(t, order.ExecutedQty.Equal(decimal.NewFromInt(2)))

	quote, _ := e.GetBalance(ctx, "USDT")
	assert.True(t, quote.Quantity.Equal(decimal.NewFromInt(800)))

	base, _ := e.GetBalance(ctx, "BTC")
	assert.True(t, base.Quantity.Equal(decimal.NewFromInt(2)))
	assert.True(t, base.AvgBuyPrice.Equal(decimal.NewFromInt(100)))
}

func TestMockExchange_WeightedAvgBuyPrice(t *testing.T) {
	e := newVenue()
	ctx := context.Background()

	_, err := e.PlaceMarketBuy(ctx, "BTCUSDT", decimal.NewFromInt(100), "buy-1")
	require.NoError(t, err)

	e.SetPrice("BTCUSDT", decimal.NewFromInt(50))
	_, err = e.PlaceMarketBuy(ctx, "BTCUSDT", decimal.NewFromInt(50), "buy-2")
	require.NoError(t, err)

	// 1 @ 100 plus 1 @ 50
	base, _ := e.GetBalance(ctx, "BTC")
	assert.True(t, base.Quantity.Equal(decimal.NewFromInt(2)))
	assert.True(t, base.AvgBuyPrice.Equal(decimal.NewFromInt(75)))
}

func TestMockExchange_SellRoundTrip(t *testing.T) {
	e := newVenue()
	ctx := context.Background()

	_, err := e.PlaceMarketBuy(ctx, "BTCUSDT", decimal.NewFromInt(200), "buy-1")
	require.NoError(t, err)

	e.SetPrice("BTCUSDT", decimal.NewFromInt(110))
	order, err := e.PlaceMarketSell(ctx, "BTCUSDT", decimal.NewFromInt(2), "sell-1")
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusFilled, order.Status)

	quote, _ := e.GetBalance(ctx, "USDT")
	assert.True(t, quote.Quantity.Equal(decimal.NewFromInt(1020)), "800 + 2*110")

	base, _ := e.GetBalance(ctx, "BTC")
	assert.True(t, base.Quantity.IsZero())
	assert.True(t, base.AvgBuyPrice.IsZero(), "cost basis clears with the position")
}

func TestMockExchange_IdempotentOnClientOrderID(t *testing.T) {
	e := newVenue()
	ctx := context.Background()

	first, err := e.PlaceMarketBuy(ctx, "BTCUSDT", decimal.NewFromInt(100), "dup-1")
	require.NoError(t, err)

	// Same ID again: no new fill, balances untouched
	second, err := e.PlaceMarketBuy(ctx, "BTCUSDT", decimal.NewFromInt(100), "dup-1")
	require.NoError(t, err)
	assert.Equal(t, first.OrderID, second.OrderID)

	quote, _ := e.GetBalance(ctx, "USDT")
	assert.True(t, quote.Quantity.Equal(decimal.NewFromInt(900)), "only one fill may settle")
}

func TestMockExchange_ValidationErrors(t *testing.T) {
	e := newVenue()
	ctx := context.Background()

	_, err := e.PlaceMarketBuy(ctx, "BTCUSDT", decimal.NewFromInt(5), "small")
	assert.ErrorIs(t, err, apperrors.ErrBelowMinNotional)

	_, err = e.PlaceMarketBuy(ctx, "BTCUSDT", decimal.NewFromInt(5000), "big")
	assert.ErrorIs(t, err, apperrors.ErrInsufficientFunds)

	_, err = e.PlaceMarketSell(ctx, "BTCUSDT", decimal.NewFromInt(1), "nobase")
	assert.ErrorIs(t, err, apperrors.ErrInsufficientFunds)

	_, err = e.PlaceMarketBuy(ctx, "NOPEUSDT", decimal.NewFromInt(100), "nosym")
	assert.ErrorIs(t, err, apperrors.ErrInvalidSymbol)
}

func TestMockExchange_FailNextIsConsumed(t *testing.T) {
	e := newVenue()
	ctx := context.Background()

	e.FailNext(apperrors.ErrNetwork)
	_, err := e.PlaceMarketBuy(ctx, "BTCUSDT", decimal.NewFromInt(100), "fail-1")
	assert.ErrorIs(t, err, apperrors.ErrNetwork)

	// Retried under a new ID: succeeds
	_, err = e.PlaceMarketBuy(ctx, "BTCUSDT", decimal.NewFromInt(100), "fail-2")
	assert.NoError(t, err)
}

func TestMockExchange_HeldFillsResolveViaGetOrder(t *testing.T) {
	e := newVenue()
	ctx := context.Background()

	e.HoldFills(true)
	order, err := e.PlaceMarketBuy(ctx, "BTCUSDT", decimal.NewFromInt(100), "held-1")
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusNew, order.Status)

	// Balances untouched while the order is pending
	quote, _ := e.GetBalance(ctx, "USDT")
	assert.True(t, quote.Quantity.Equal(decimal.NewFromInt(1000)))

	e.ReleaseFills()
	resolved, err := e.GetOrder(ctx, "BTCUSDT", "held-1")
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusFilled, resolved.Status)

	quote, _ = e.GetBalance(ctx, "USDT")
	assert.True(t, quote.Quantity.Equal(decimal.NewFromInt(900)))
}

func TestMockExchange_GetOrderUnknownID(t *testing.T) {
	e := newVenue()
	_, err := e.GetOrder(context.Background(), "BTCUSDT", "ghost")
	assert.ErrorIs(t, err, apperrors.ErrOrderNotFound)
}

func TestMockExchange_CandleHistoryLimit(t *testing.T) {
	e := newVenue()
	candles := make([]core.Candle, 5)
	for i := range candles {
		candles[i] = core.Candle{Symbol: "BTCUSDT", Close: decimal.NewFromInt(int64(i)), Closed: true}
	}
	e.SetCandles("BTCUSDT", candles)

	got, err := e.GetCandles(context.Background(), "BTCUSDT", "1m", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[0].Close.Equal(decimal.NewFromInt(2)), "limit keeps the most recent bars")
}
