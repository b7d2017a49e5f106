// Package mock provides an in-memory exchange for dry runs and tests
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"dca_trader/internal/core"
	apperrors "dca_trader/pkg/errors"

	"github.com/shopspring/decimal"
)

// Exchange is an in-memory spot venue. Market orders fill instantly at the
// current mark price and mutate balances, so a full engine stack can run
// against it without credentials. Orders are idempotent on ClientOrderID:
// resubmitting an ID returns the original order instead of filling twice.
type Exchange struct {
	mu            sync.Mutex
	quoteAsset    string
	minOrderValue decimal.Decimal
	prices        map[string]decimal.Decimal
	balances      map[string]*core.Balance
	candles       map[string][]core.Candle
	orders        map[string]*core.Order // keyed by ClientOrderID
	nextOrderID   int64
	failNext      error
	holdFills     bool
	logger        core.ILogger
}

// NewExchange creates an empty mock venue quoted in quoteAsset
func NewExchange(quoteAsset string, minOrderValue decimal.Decimal, logger core.ILogger) *Exchange {
	return &Exchange{
		quoteAsset:    quoteAsset,
		minOrderValue: minOrderValue,
		prices:        make(map[string]decimal.Decimal),
		balances:      make(map[string]*core.Balance),
		candles:       make(map[string][]core.Candle),
		orders:        make(map[string]*core.Order),
		nextOrderID:   1,
		logger:        logger.WithField("component", "mock_exchange"),
	}
}

func (e *Exchange) GetName() string { return "mock" }

// SetPrice sets the mark price used for fills and price lookups
func (e *Exchange) SetPrice(symbol string, price decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[symbol] = price
}

// SetBalance seeds one asset balance
func (e *Exchange) SetBalance(asset string, qty decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balances[asset] = &core.Balance{Asset: asset, Quantity: qty}
}

// SetCandles seeds the history returned by GetCandles
func (e *Exchange) SetCandles(symbol string, candles []core.Candle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candles[symbol] = candles
}

// FailNext makes the next order placement fail with err, once
func (e *Exchange) FailNext(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failNext = err
}

// HoldFills leaves newly placed orders in NEW until ReleaseFills is called,
// for exercising confirmation timeouts.
func (e *Exchange) HoldFills(hold bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.holdFills = hold
}

// ReleaseFills fills every held order at the current mark price
func (e *Exchange) ReleaseFills() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, o := range e.orders {
		if o.Status == core.OrderStatusNew {
			e.fillLocked(o)
		}
	}
}

func (e *Exchange) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]core.Candle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	history := e.candles[symbol]
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]core.Candle, len(history))
	copy(out, history)
	return out, nil
}

func (e *Exchange) GetLatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	price, ok := e.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no price for %s", apperrors.ErrInvalidSymbol, symbol)
	}
	return price, nil
}

func (e *Exchange) PlaceMarketBuy(ctx context.Context, symbol string, notional decimal.Decimal, clientOrderID string) (*core.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.orders[clientOrderID]; ok {
		return copyOrder(existing), nil
	}
	if err := e.consumeFailure(); err != nil {
		return nil, err
	}

	price, ok := e.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: no price for %s", apperrors.ErrInvalidSymbol, symbol)
	}
	if notional.LessThan(e.minOrderValue) {
		return nil, fmt.Errorf("%w: notional %s below %s", apperrors.ErrBelowMinNotional, notional, e.minOrderValue)
	}

	quote := e.balanceLocked(e.quoteAsset)
	if quote.Quantity.LessThan(notional) {
		return nil, fmt.Errorf("%w: have %s %s, need %s",
			apperrors.ErrInsufficientFunds, quote.Quantity, e.quoteAsset, notional)
	}

	order := &core.Order{
		OrderID:       e.nextOrderID,
		ClientOrderID: clientOrderID,
		Symbol:        symbol,
		Side:          core.SideBuy,
		Status:        core.OrderStatusNew,
		ExecutedQty:   notional.Div(price), // resolved on fill
		AvgFillPrice:  price,
	}
	e.nextOrderID++
	e.orders[clientOrderID] = order

	if !e.holdFills {
		e.fillLocked(order)
	}
	return copyOrder(order), nil
}

func (e *Exchange) PlaceMarketSell(ctx context.Context, symbol string, quantity decimal.Decimal, clientOrderID string) (*core.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.orders[clientOrderID]; ok {
		return copyOrder(existing), nil
	}
	if err := e.consumeFailure(); err != nil {
		return nil, err
	}

	price, ok := e.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: no price for %s", apperrors.ErrInvalidSymbol, symbol)
	}

	base := e.balanceLocked(e.baseAssetLocked(symbol))
	if base.Quantity.LessThan(quantity) {
		return nil, fmt.Errorf("%w: have %s, need %s",
			apperrors.ErrInsufficientFunds, base.Quantity, quantity)
	}

	order := &core.Order{
		OrderID:       e.nextOrderID,
		ClientOrderID: clientOrderID,
		Symbol:        symbol,
		Side:          core.SideSell,
		Status:        core.OrderStatusNew,
		ExecutedQty:   quantity,
		AvgFillPrice:  price,
	}
	e.nextOrderID++
	e.orders[clientOrderID] = order

	if !e.holdFills {
		e.fillLocked(order)
	}
	return copyOrder(order), nil
}

// fillLocked settles an order against the balances at its recorded price.
// Buys track a weighted average buy price per asset so the reconciler can
// adopt with a real cost basis. Callers hold the lock.
func (e *Exchange) fillLocked(order *core.Order) {
	base := e.balanceLocked(e.baseAssetLocked(order.Symbol))
	quote := e.balanceLocked(e.quoteAsset)
	notional := order.ExecutedQty.Mul(order.AvgFillPrice)

	switch order.Side {
	case core.SideBuy:
		oldCost := base.AvgBuyPrice.Mul(base.Quantity)
		base.Quantity = base.Quantity.Add(order.ExecutedQty)
		base.AvgBuyPrice = oldCost.Add(notional).Div(base.Quantity)
		quote.Quantity = quote.Quantity.Sub(notional)
	case core.SideSell:
		base.Quantity = base.Quantity.Sub(order.ExecutedQty)
		if base.Quantity.IsZero() {
			base.AvgBuyPrice = decimal.Zero
		}
		quote.Quantity = quote.Quantity.Add(notional)
	}

	order.Status = core.OrderStatusFilled
	order.UpdateTime = time.Now().UnixMilli()
}

func (e *Exchange) GetOrder(ctx context.Context, symbol, clientOrderID string) (*core.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.orders[clientOrderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, clientOrderID)
	}
	return copyOrder(order), nil
}

func (e *Exchange) GetBalances(ctx context.Context) ([]core.Balance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]core.Balance, 0, len(e.balances))
	for _, b := range e.balances {
		if b.Quantity.IsPositive() {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (e *Exchange) GetBalance(ctx context.Context, asset string) (core.Balance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.balanceLocked(asset), nil
}

func (e *Exchange) MinOrderValue() decimal.Decimal { return e.minOrderValue }
func (e *Exchange) QuoteAsset() string             { return e.quoteAsset }

func (e *Exchange) BaseAsset(symbol string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.baseAssetLocked(symbol)
}

func (e *Exchange) baseAssetLocked(symbol string) string {
	return strings.TrimSuffix(symbol, e.quoteAsset)
}

func (e *Exchange) balanceLocked(asset string) *core.Balance {
	b, ok := e.balances[asset]
	if !ok {
		b = &core.Balance{Asset: asset, Quantity: decimal.Zero}
		e.balances[asset] = b
	}
	return b
}

func (e *Exchange) consumeFailure() error {
	if e.failNext != nil {
		err := e.failNext
		e.failNext = nil
		return err
	}
	return nil
}

func copyOrder(o *core.Order) *core.Order {
	c := *o
	return &c
}

var _ core.IExchange = (*Exchange)(nil)
