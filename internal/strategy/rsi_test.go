package strategy

import (
	"testing"
	"time"

	"dca_trader/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candlesFromCloses(closes []float64) []core.Candle {
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	out := make([]core.Candle, len(closes))
	for i, c := range closes {
		price := decimal.NewFromFloat(c)
		out[i] = core.Candle{
			Symbol:   "BTCUSDT",
			OpenTime: t0.Add(time.Duration(i) * time.Minute),
			Open:     price,
			High:     price,
			Low:      price,
			Close:    price,
			Closed:   true,
		}
	}
	return out
}

func downtrend(n int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 1000 - float64(i)*5
	}
	return closes
}

func uptrend(n int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 1000 + float64(i)*5
	}
	return closes
}

func TestRSISource_EnterOnOversold(t *testing.T) {
	src, err := Create("rsi", map[string]float64{"period": 14, "oversold": 30})
	require.NoError(t, err)

	// A straight decline drives RSI to 0
	decision := src.Evaluate(candlesFromCloses(downtrend(30)))
	assert.Equal(t, core.SignalEnter, decision)
}

func TestRSISource_NoneOnUptrend(t *testing.T) {
	src, err := Create("rsi", map[string]float64{"period": 14, "oversold": 30})
	require.NoError(t, err)

	decision := src.Evaluate(candlesFromCloses(uptrend(30)))
	assert.Equal(t, core.SignalNone, decision)
}

func TestRSISource_InsufficientHistory(t *testing.T) {
	src, err := Create("rsi", nil)
	require.NoError(t, err)

	decision := src.Evaluate(candlesFromCloses(downtrend(10)))
	assert.Equal(t, core.SignalNone, decision, "should not signal with fewer than period+1 candles")
}

func TestRSISource_InvalidParams(t *testing.T) {
	_, err := Create("rsi", map[string]float64{"period": 1})
	assert.Error(t, err)

	_, err = Create("rsi", map[string]float64{"oversold": 150})
	assert.Error(t, err)
}

func TestComputeRSI_FlatSeries(t *testing.T) {
	flat := make([]float64, 20)
	for i := range flat {
		flat[i] = 100
	}

	rsi, ok := computeRSI(candlesFromCloses(flat), 14)
	require.True(t, ok)
	// No losses at all reports maximum strength
	assert.Equal(t, 100.0, rsi)
}

func TestCreate_UnknownStrategy(t *testing.T) {
	_, err := Create("momentum", nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown strategy")
}
