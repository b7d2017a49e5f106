// Package binance provides the Binance spot exchange adapter
package binance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dca_trader/internal/config"
	"dca_trader/internal/core"
	apperrors "dca_trader/pkg/errors"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/shopspring/decimal"
)

// Exchange implements core.IExchange for Binance spot via the official REST
// API. Every call runs through a shared resilience pipeline: transient
// failures are retried with backoff, and a run of server errors opens a
// circuit that sheds requests until the venue recovers.
type Exchange struct {
	client        *gobinance.Client
	quoteAsset    string
	minOrderValue decimal.Decimal
	pipeline      failsafe.Executor[any]
	logger        core.ILogger
}

// NewExchange creates a Binance spot adapter from the exchange config
func NewExchange(cfg *config.ExchangeConfig, logger core.ILogger) *Exchange {
	client := gobinance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}

	retryPolicy := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return apperrors.IsTransient(err)
		}).
		WithBackoff(100*time.Millisecond, 2*time.Second).
		WithMaxRetries(3).
		Build()

	breaker := circuitbreaker.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return errors.Is(err, apperrors.ErrNetwork)
		}).
		WithFailureThresholdRatio(5, 10).
		WithDelay(10 * time.Second).
		Build()

	return &Exchange{
		client:        client,
		quoteAsset:    cfg.QuoteAsset,
		minOrderValue: decimal.NewFromFloat(cfg.MinOrderValue),
		pipeline:      failsafe.With[any](retryPolicy, breaker),
		logger:        logger.WithField("component", "binance"),
	}
}

func (e *Exchange) GetName() string {
	return "binance"
}

// call runs one SDK request through the resilience pipeline with errors
// already mapped to the local taxonomy.
func (e *Exchange) call(fn func() (any, error)) (any, error) {
	return e.pipeline.Get(func() (any, error) {
		v, err := fn()
		if err != nil {
			return nil, mapError(err)
		}
		return v, nil
	})
}

// mapError translates Binance API errors into the local error taxonomy
func mapError(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		msg := strings.ToLower(apiErr.Message)
		switch apiErr.Code {
		case -1003, -1015:
			return fmt.Errorf("%w: %s", apperrors.ErrRateLimitExceeded, apiErr.Message)
		case -1121:
			return fmt.Errorf("%w: %s", apperrors.ErrInvalidSymbol, apiErr.Message)
		case -2013:
			return fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, apiErr.Message)
		case -2010:
			// -2010 covers several order rejections, disambiguated by message
			if strings.Contains(msg, "insufficient") {
				return fmt.Errorf("%w: %s", apperrors.ErrInsufficientFunds, apiErr.Message)
			}
			if strings.Contains(msg, "duplicate") {
				return fmt.Errorf("%w: %s", apperrors.ErrDuplicateOrder, apiErr.Message)
			}
			return fmt.Errorf("%w: %s", apperrors.ErrOrderRejected, apiErr.Message)
		default:
			return fmt.Errorf("binance error %d: %s", apiErr.Code, apiErr.Message)
		}
	}
	return fmt.Errorf("%w: %v", apperrors.ErrNetwork, err)
}

func (e *Exchange) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]core.Candle, error) {
	v, err := e.call(func() (any, error) {
		return e.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			Limit(limit).
			Do(ctx)
	})
	if err != nil {
		return nil, err
	}

	klines := v.([]*gobinance.Kline)
	nowMs := time.Now().UnixMilli()

	candles := make([]core.Candle, 0, len(klines))
	for _, k := range klines {
		c, err := parseKline(symbol, k, nowMs)
		if err != nil {
			return nil, fmt.Errorf("malformed kline for %s: %w", symbol, err)
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func parseKline(symbol string, k *gobinance.Kline, nowMs int64) (core.Candle, error) {
	open, err := decimal.NewFromString(k.Open)
	if err != nil {
		return core.Candle{}, err
	}
	high, err := decimal.NewFromString(k.High)
	if err != nil {
		return core.Candle{}, err
	}
	low, err := decimal.NewFromString(k.Low)
	if err != nil {
		return core.Candle{}, err
	}
	closePrice, err := decimal.NewFromString(k.Close)
	if err != nil {
		return core.Candle{}, err
	}
	volume, err := decimal.NewFromString(k.Volume)
	if err != nil {
		return core.Candle{}, err
	}

	return core.Candle{
		Symbol:   symbol,
		OpenTime: time.UnixMilli(k.OpenTime).UTC(),
		Open:     open,
		High:     high,
		Low:      low,
		Close:    closePrice,
		Volume:   volume,
		Closed:   k.CloseTime < nowMs,
	}, nil
}

func (e *Exchange) GetLatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	v, err := e.call(func() (any, error) {
		return e.client.NewListPricesService().Symbol(symbol).Do(ctx)
	})
	if err != nil {
		return decimal.Zero, err
	}

	prices := v.([]*gobinance.SymbolPrice)
	if len(prices) == 0 {
		return decimal.Zero, fmt.Errorf("%w: no price for %s", apperrors.ErrInvalidSymbol, symbol)
	}
	return decimal.NewFromString(prices[0].Price)
}

// PlaceMarketBuy submits a market buy sized by quote notional
func (e *Exchange) PlaceMarketBuy(ctx context.Context, symbol string, notional decimal.Decimal, clientOrderID string) (*core.Order, error) {
	v, err := e.call(func() (any, error) {
		return e.client.NewCreateOrderService().
			Symbol(symbol).
			Side(gobinance.SideTypeBuy).
			Type(gobinance.OrderTypeMarket).
			QuoteOrderQty(notional.String()).
			NewClientOrderID(clientOrderID).
			Do(ctx)
	})
	if err != nil {
		return nil, err
	}
	return orderFromCreate(v.(*gobinance.CreateOrderResponse), core.SideBuy)
}

// PlaceMarketSell submits a market sell sized by base quantity
func (e *Exchange) PlaceMarketSell(ctx context.Context, symbol string, quantity decimal.Decimal, clientOrderID string) (*core.Order, error) {
	v, err := e.call(func() (any, error) {
		return e.client.NewCreateOrderService().
			Symbol(symbol).
			Side(gobinance.SideTypeSell).
			Type(gobinance.OrderTypeMarket).
			Quantity(quantity.String()).
			NewClientOrderID(clientOrderID).
			Do(ctx)
	})
	if err != nil {
		return nil, err
	}
	return orderFromCreate(v.(*gobinance.CreateOrderResponse), core.SideSell)
}

func orderFromCreate(resp *gobinance.CreateOrderResponse, side core.OrderSide) (*core.Order, error) {
	executedQty, err := decimal.NewFromString(resp.ExecutedQuantity)
	if err != nil {
		return nil, fmt.Errorf("malformed executed quantity %q: %w", resp.ExecutedQuantity, err)
	}
	cumQuote, err := decimal.NewFromString(resp.CummulativeQuoteQuantity)
	if err != nil {
		return nil, fmt.Errorf("malformed quote quantity %q: %w", resp.CummulativeQuoteQuantity, err)
	}

	avgPrice := decimal.Zero
	if executedQty.IsPositive() {
		avgPrice = cumQuote.Div(executedQty)
	}

	return &core.Order{
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
		Symbol:        resp.Symbol,
		Side:          side,
		Status:        mapStatus(resp.Status),
		ExecutedQty:   executedQty,
		AvgFillPrice:  avgPrice,
		UpdateTime:    resp.TransactTime,
	}, nil
}

func (e *Exchange) GetOrder(ctx context.Context, symbol, clientOrderID string) (*core.Order, error) {
	v, err := e.call(func() (any, error) {
		return e.client.NewGetOrderService().
			Symbol(symbol).
			OrigClientOrderID(clientOrderID).
			Do(ctx)
	})
	if err != nil {
		return nil, err
	}

	o := v.(*gobinance.Order)
	executedQty, err := decimal.NewFromString(o.ExecutedQuantity)
	if err != nil {
		return nil, fmt.Errorf("malformed executed quantity %q: %w", o.ExecutedQuantity, err)
	}
	cumQuote, err := decimal.NewFromString(o.CummulativeQuoteQuantity)
	if err != nil {
		return nil, fmt.Errorf("malformed quote quantity %q: %w", o.CummulativeQuoteQuantity, err)
	}

	avgPrice := decimal.Zero
	if executedQty.IsPositive() {
		avgPrice = cumQuote.Div(executedQty)
	}

	var side core.OrderSide
	switch o.Side {
	case gobinance.SideTypeBuy:
		side = core.SideBuy
	case gobinance.SideTypeSell:
		side = core.SideSell
	}

	return &core.Order{
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          side,
		Status:        mapStatus(o.Status),
		ExecutedQty:   executedQty,
		AvgFillPrice:  avgPrice,
		UpdateTime:    o.UpdateTime,
	}, nil
}

func mapStatus(s gobinance.OrderStatusType) core.OrderStatus {
	switch s {
	case gobinance.OrderStatusTypeFilled:
		return core.OrderStatusFilled
	case gobinance.OrderStatusTypeRejected:
		return core.OrderStatusRejected
	case gobinance.OrderStatusTypeCanceled, gobinance.OrderStatusTypeExpired:
		return core.OrderStatusCanceled
	default:
		return core.OrderStatusNew
	}
}

// GetBalances returns every non-zero spot balance. Binance does not report a
// cost basis, so AvgBuyPrice is zero and callers fall back to the market
// price when adopting.
func (e *Exchange) GetBalances(ctx context.Context) ([]core.Balance, error) {
	v, err := e.call(func() (any, error) {
		return e.client.NewGetAccountService().Do(ctx)
	})
	if err != nil {
		return nil, err
	}

	account := v.(*gobinance.Account)
	balances := make([]core.Balance, 0, len(account.Balances))
	for _, b := range account.Balances {
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			continue
		}
		locked, err := decimal.NewFromString(b.Locked)
		if err != nil {
			continue
		}
		total := free.Add(locked)
		if total.IsZero() {
			continue
		}
		balances = append(balances, core.Balance{
			Asset:    b.Asset,
			Quantity: total,
		})
	}
	return balances, nil
}

func (e *Exchange) GetBalance(ctx context.Context, asset string) (core.Balance, error) {
	balances, err := e.GetBalances(ctx)
	if err != nil {
		return core.Balance{}, err
	}
	for _, b := range balances {
		if b.Asset == asset {
			return b, nil
		}
	}
	return core.Balance{Asset: asset, Quantity: decimal.Zero}, nil
}

func (e *Exchange) MinOrderValue() decimal.Decimal {
	return e.minOrderValue
}

func (e *Exchange) QuoteAsset() string {
	return e.quoteAsset
}

// BaseAsset derives the base asset from a symbol like BTCUSDT
func (e *Exchange) BaseAsset(symbol string) string {
	return strings.TrimSuffix(symbol, e.quoteAsset)
}

var _ core.IExchange = (*Exchange)(nil)
