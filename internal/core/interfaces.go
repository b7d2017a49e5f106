// Package core defines the core types and interfaces for the trading system
package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// IExchange defines the spot exchange surface the trader depends on
type IExchange interface {
	// Identity
	GetName() string

	// Market data
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	GetLatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error)

	// Order operations
	PlaceMarketBuy(ctx context.Context, symbol string, notional decimal.Decimal, clientOrderID string) (*Order, error)
	PlaceMarketSell(ctx context.Context, symbol string, quantity decimal.Decimal, clientOrderID string) (*Order, error)
	GetOrder(ctx context.Context, symbol, clientOrderID string) (*Order, error)

	// Account operations
	GetBalances(ctx context.Context) ([]Balance, error)
	GetBalance(ctx context.Context, asset string) (Balance, error)

	// Contract info
	MinOrderValue() decimal.Decimal
	QuoteAsset() string
	BaseAsset(symbol string) string
}

// IMarketFeed delivers completed bars per symbol
type IMarketFeed interface {
	Subscribe(ctx context.Context, symbol string) (<-chan Candle, error)
	Err(symbol string) error
	Stop()
}

// ISignalSource produces entry decisions from completed bars. Exit decisions
// are never taken from a signal source; exits belong to the exit ladder.
type ISignalSource interface {
	Name() string
	Evaluate(candles []Candle) SignalDecision
}

// IOrderExecutor defines the interface for order execution
type IOrderExecutor interface {
	Execute(ctx context.Context, req OrderRequest) (*OrderResult, error)
}

// ICircuitBreaker gates new position entries on realized losses
type ICircuitBreaker interface {
	IsTripped() bool
	RecordTrade(pnl decimal.Decimal)
	Reset()
}

// IReconciler defines the interface for position reconciliation
type IReconciler interface {
	Start(ctx context.Context) error
	Stop() error
	Reconcile(ctx context.Context) error
	TriggerManual(ctx context.Context) error
}

// INotifier dispatches operational notifications without blocking the caller
type INotifier interface {
	Info(title, message string, fields map[string]string)
	Warn(title, message string, fields map[string]string)
	Critical(title, message string, fields map[string]string)
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
