package strategy

import (
	"fmt"

	"dca_trader/internal/core"
)

func init() {
	Register("rsi", newRSISource)
}

// RSISource signals an entry when the Wilder-smoothed RSI of the close
// series drops below the oversold threshold.
type RSISource struct {
	period   int
	oversold float64
}

func newRSISource(params map[string]float64) (core.ISignalSource, error) {
	period := 14
	oversold := 30.0

	if v, ok := params["period"]; ok {
		period = int(v)
	}
	if v, ok := params["oversold"]; ok {
		oversold = v
	}

	if period < 2 {
		return nil, fmt.Errorf("rsi period must be >= 2, got %d", period)
	}
	if oversold <= 0 || oversold >= 100 {
		return nil, fmt.Errorf("rsi oversold must be in (0, 100), got %v", oversold)
	}

	return &RSISource{period: period, oversold: oversold}, nil
}

func (s *RSISource) Name() string {
	return "rsi"
}

// Evaluate returns SignalEnter when the latest RSI is below the oversold
// threshold. Insufficient history yields SignalNone.
func (s *RSISource) Evaluate(candles []core.Candle) core.SignalDecision {
	if len(candles) < s.period+1 {
		return core.SignalNone
	}

	rsi, ok := computeRSI(candles, s.period)
	if !ok {
		return core.SignalNone
	}

	if rsi < s.oversold {
		return core.SignalEnter
	}
	return core.SignalNone
}

// computeRSI calculates the RSI of the close series with Wilder smoothing
func computeRSI(candles []core.Candle, period int) (float64, bool) {
	if len(candles) < period+1 {
		return 0, false
	}

	var avgGain, avgLoss float64

	// Seed averages over the first period
	for i := 1; i <= period; i++ {
		delta := candles[i].Close.Sub(candles[i-1].Close).InexactFloat64()
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	// Wilder smoothing over the remainder
	for i := period + 1; i < len(candles); i++ {
		delta := candles[i].Close.Sub(candles[i-1].Close).InexactFloat64()
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100, true
	}

	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}
