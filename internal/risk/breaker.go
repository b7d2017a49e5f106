// Package risk provides entry gating and position reconciliation
package risk

import (
	"sync"
	"time"

	"dca_trader/internal/core"
	"dca_trader/pkg/telemetry"

	"github.com/shopspring/decimal"
)

type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
)

// BreakerConfig configures the daily loss breaker. Zero values disable the
// corresponding check.
type BreakerConfig struct {
	MaxDailyLoss   decimal.Decimal // positive quote amount
	MaxDailyTrades int
	Window         time.Duration // defaults to 24h
}

// DailyLossBreaker refuses new position entries once realized losses inside
// a rolling window exceed the configured threshold. Exits are never gated:
// callers consult the breaker only on the flat-to-entered transition.
type DailyLossBreaker struct {
	mu          sync.Mutex
	config      BreakerConfig
	state       CircuitState
	windowStart time.Time
	realizedPnL decimal.Decimal
	trades      int
	logger      core.ILogger

	now func() time.Time // injectable clock for tests
}

// NewDailyLossBreaker creates a breaker with the given thresholds
func NewDailyLossBreaker(config BreakerConfig, logger core.ILogger) *DailyLossBreaker {
	if config.Window <= 0 {
		config.Window = 24 * time.Hour
	}
	return &DailyLossBreaker{
		config: config,
		state:  CircuitClosed,
		logger: logger.WithField("component", "daily_loss_breaker"),
		now:    time.Now,
	}
}

// RecordTrade accumulates the realized PnL of a completed exit fill
func (b *DailyLossBreaker) RecordTrade(pnl decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollWindow()

	if b.windowStart.IsZero() {
		b.windowStart = b.now()
	}

	b.realizedPnL = b.realizedPnL.Add(pnl)
	b.trades++

	b.checkThresholds()
}

func (b *DailyLossBreaker) checkThresholds() {
	if b.state == CircuitOpen {
		return
	}

	if !b.config.MaxDailyLoss.IsZero() && b.realizedPnL.LessThanOrEqual(b.config.MaxDailyLoss.Neg()) {
		b.trip("max daily loss reached")
		return
	}

	if b.config.MaxDailyTrades > 0 && b.trades >= b.config.MaxDailyTrades {
		b.trip("max daily trade count reached")
	}
}

func (b *DailyLossBreaker) trip(reason string) {
	b.state = CircuitOpen
	b.logger.Warn("Circuit breaker tripped",
		"reason", reason,
		"realized_pnl", b.realizedPnL,
		"trades", b.trades)
	telemetry.GetGlobalMetrics().SetCircuitBreakerOpen(true)
}

// rollWindow resets counters once the window has fully elapsed. Callers hold
// the lock.
func (b *DailyLossBreaker) rollWindow() {
	if b.windowStart.IsZero() {
		return
	}
	if b.now().Sub(b.windowStart) >= b.config.Window {
		b.windowStart = time.Time{}
		b.realizedPnL = decimal.Zero
		b.trades = 0
		if b.state == CircuitOpen {
			b.state = CircuitClosed
			b.logger.Info("Circuit breaker window rolled over, entries re-enabled")
			telemetry.GetGlobalMetrics().SetCircuitBreakerOpen(false)
		}
	}
}

// IsTripped reports whether new entries are currently refused
func (b *DailyLossBreaker) IsTripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollWindow()
	return b.state == CircuitOpen
}

// Reset force-closes the breaker and clears the window
func (b *DailyLossBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = CircuitClosed
	b.windowStart = time.Time{}
	b.realizedPnL = decimal.Zero
	b.trades = 0
	telemetry.GetGlobalMetrics().SetCircuitBreakerOpen(false)
}
