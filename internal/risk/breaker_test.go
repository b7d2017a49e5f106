package risk

import (
	"testing"
	"time"

	"dca_trader/internal/core"

	"github.com/shopspring/decimal"
)

type nopLogger struct{}

func (nopLogger) Debug(msg string, f ...interface{})                 {}
func (nopLogger) Info(msg string, f ...interface{})                  {}
func (nopLogger) Warn(msg string, f ...interface{})                  {}
func (nopLogger) Error(msg string, f ...interface{})                 {}
func (nopLogger) Fatal(msg string, f ...interface{})                 {}
func (n nopLogger) WithField(k string, v interface{}) core.ILogger   { return n }
func (n nopLogger) WithFields(f map[string]interface{}) core.ILogger { return n }

func TestDailyLossBreaker_TripsOnLossThreshold(t *testing.T) {
	b := NewDailyLossBreaker(BreakerConfig{
		MaxDailyLoss: decimal.NewFromInt(100),
	}, nopLogger{})

	if b.IsTripped() {
		t.Error("Breaker should start closed")
	}

	b.RecordTrade(decimal.NewFromInt(-40))
	if b.IsTripped() {
		t.Error("Breaker should not trip below the threshold")
	}

	b.RecordTrade(decimal.NewFromInt(-60))
	if !b.IsTripped() {
		t.Error("Breaker should trip once cumulative loss reaches the threshold")
	}
}

func TestDailyLossBreaker_ProfitsOffsetLosses(t *testing.T) {
	b := NewDailyLossBreaker(BreakerConfig{
		MaxDailyLoss: decimal.NewFromInt(100),
	}, nopLogger{})

	b.RecordTrade(decimal.NewFromInt(-80))
	b.RecordTrade(decimal.NewFromInt(50))
	b.RecordTrade(decimal.NewFromInt(-60))

	// Net -90, inside the budget
	if b.IsTripped() {
		t.Error("Breaker should net profits against losses")
	}
}

func TestDailyLossBreaker_WindowRollover(t *testing.T) {
	b := NewDailyLossBreaker(BreakerConfig{
		MaxDailyLoss: decimal.NewFromInt(100),
	}, nopLogger{})

	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return current }

	b.RecordTrade(decimal.NewFromInt(-150))
	if !b.IsTripped() {
		t.Fatal("Breaker should be tripped")
	}

	// Still inside the window
	current = current.Add(12 * time.Hour)
	if !b.IsTripped() {
		t.Error("Breaker should stay tripped inside the window")
	}

	// Window elapsed
	current = current.Add(13 * time.Hour)
	if b.IsTripped() {
		t.Error("Breaker should re-enable entries after the window rolls over")
	}

	// Counters restarted for the new window
	b.RecordTrade(decimal.NewFromInt(-99))
	if b.IsTripped() {
		t.Error("Rolled window should not inherit old losses")
	}
}

func TestDailyLossBreaker_TradeCountLimit(t *testing.T) {
	b := NewDailyLossBreaker(BreakerConfig{
		MaxDailyTrades: 3,
	}, nopLogger{})

	b.RecordTrade(decimal.NewFromInt(5))
	b.RecordTrade(decimal.NewFromInt(5))
	if b.IsTripped() {
		t.Error("Breaker should not trip before the trade limit")
	}

	b.RecordTrade(decimal.NewFromInt(5))
	if !b.IsTripped() {
		t.Error("Breaker should trip at the trade limit, regardless of PnL sign")
	}
}

func TestDailyLossBreaker_DisabledChecks(t *testing.T) {
	b := NewDailyLossBreaker(BreakerConfig{}, nopLogger{})

	b.RecordTrade(decimal.NewFromInt(-1000000))
	for i := 0; i < 100; i++ {
		b.RecordTrade(decimal.NewFromInt(-1))
	}

	if b.IsTripped() {
		t.Error("Zero-valued config must disable all checks")
	}
}

func TestDailyLossBreaker_Reset(t *testing.T) {
	b := NewDailyLossBreaker(BreakerConfig{
		MaxDailyLoss: decimal.NewFromInt(10),
	}, nopLogger{})

	b.RecordTrade(decimal.NewFromInt(-20))
	if !b.IsTripped() {
		t.Fatal("Breaker should be tripped")
	}

	b.Reset()
	if b.IsTripped() {
		t.Error("Breaker should be closed after Reset")
	}
}
