package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide identifies the direction of an order
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderStatus is the exchange-reported lifecycle state of an order
type OrderStatus string

const (
	OrderStatusNew      OrderStatus = "NEW"
	OrderStatusFilled   OrderStatus = "FILLED"
	OrderStatusRejected OrderStatus = "REJECTED"
	OrderStatusCanceled OrderStatus = "CANCELED"
)

// Candle represents one OHLCV bar. Only bars with Closed=true drive trading
// decisions.
type Candle struct {
	Symbol   string
	OpenTime time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   decimal.Decimal
	Closed   bool
}

// OrderRequest describes a market order to be executed. Buys are sized by
// quote notional, sells by base quantity. The ClientOrderID is immutable
// across submission retries so a retried request cannot execute twice.
type OrderRequest struct {
	Symbol        string
	Side          OrderSide
	Notional      decimal.Decimal
	Quantity      decimal.Decimal
	ClientOrderID string
}

// Order is the exchange's view of an order
type Order struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string
	Side          OrderSide
	Status        OrderStatus
	ExecutedQty   decimal.Decimal
	AvgFillPrice  decimal.Decimal
	UpdateTime    int64
}

// OrderResult is the terminal outcome of an execution attempt
type OrderResult struct {
	Order          *Order
	FilledQuantity decimal.Decimal
	AvgFillPrice   decimal.Decimal
	Attempts       int
	DryRun         bool
}

// Balance is one account asset row as reported by the exchange. AvgBuyPrice
// is zero on venues that do not report a cost basis.
type Balance struct {
	Asset       string
	Quantity    decimal.Decimal
	AvgBuyPrice decimal.Decimal
}

// EntryTier is one rung of the scale-in ladder. TriggerPct is the percentage
// move from the reference price at which the tier fires (zero for the
// initial tier, negative for averaging-down tiers). Notional is the quote
// amount bought when it fires.
type EntryTier struct {
	ID         int
	TriggerPct decimal.Decimal
	Notional   decimal.Decimal
}

// ExitTier is one rung of the scale-out ladder. TriggerPct is the percentage
// move from the average cost: positive for take-profit, negative for
// stop-loss. Fraction is the share of the current quantity sold when it
// fires.
type ExitTier struct {
	ID         int
	TriggerPct decimal.Decimal
	Fraction   decimal.Decimal
}

// PositionSnapshot is a read-only copy of the ledger state for one symbol
type PositionSnapshot struct {
	Symbol         string
	Quantity       decimal.Decimal
	AverageCost    decimal.Decimal
	ReferencePrice decimal.Decimal
	RealizedPnL    decimal.Decimal
	OpenedAt       time.Time
	Adopted        bool
}

// HasPosition reports whether the snapshot carries a non-zero quantity
func (s PositionSnapshot) HasPosition() bool {
	return s.Quantity.IsPositive()
}

// SignalDecision is the outcome of a signal source evaluation
type SignalDecision int

const (
	SignalNone SignalDecision = iota
	SignalEnter
)

// EngineStatus is a point-in-time view of one symbol engine, used for
// portfolio aggregation
type EngineStatus struct {
	Symbol       string
	Running      bool
	Quantity     decimal.Decimal
	AverageCost  decimal.Decimal
	Invested     decimal.Decimal
	CurrentValue decimal.Decimal
	RealizedPnL  decimal.Decimal
	LastPrice    decimal.Decimal
}
