package binance

import (
	"errors"
	"testing"
	"time"

	"dca_trader/internal/config"
	"dca_trader/internal/core"
	apperrors "dca_trader/pkg/errors"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
)

type nopLogger struct{}

func (nopLogger) Debug(msg string, f ...interface{})                 {}
func (nopLogger) Info(msg string, f ...interface{})                  {}
func (nopLogger) Warn(msg string, f ...interface{})                  {}
func (nopLogger) Error(msg string, f ...interface{})                 {}
func (nopLogger) Fatal(msg string, f ...interface{})                 {}
func (n nopLogger) WithField(k string, v interface{}) core.ILogger   { return n }
func (n nopLogger) WithFields(f map[string]interface{}) core.ILogger { return n }

func TestMapError(t *testing.T) {
	cases := []struct {
		name string
		in   error
		want error
	}{
		{"rate limit", &common.APIError{Code: -1003, Message: "Too many requests"}, apperrors.ErrRateLimitExceeded},
		{"invalid symbol", &common.APIError{Code: -1121, Message: "Invalid symbol"}, apperrors.ErrInvalidSymbol},
		{"order not found", &common.APIError{Code: -2013, Message: "Order does not exist"}, apperrors.ErrOrderNotFound},
		{"insufficient balance", &common.APIError{Code: -2010, Message: "Account has insufficient balance"}, apperrors.ErrInsufficientFunds},
		{"duplicate order", &common.APIError{Code: -2010, Message: "Duplicate order sent"}, apperrors.ErrDuplicateOrder},
		{"other rejection", &common.APIError{Code: -2010, Message: "Market is closed"}, apperrors.ErrOrderRejected},
		{"transport failure", errors.New("connection refused"), apperrors.ErrNetwork},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := mapError(tc.in)
			if !errors.Is(got, tc.want) {
				t.Errorf("mapError(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestMapErrorTransience(t *testing.T) {
	transient := mapError(&common.APIError{Code: -1003, Message: "rate limited"})
	if !apperrors.IsTransient(transient) {
		t.Error("Rate limit errors must be retryable")
	}

	fatal := mapError(&common.APIError{Code: -2010, Message: "Account has insufficient balance"})
	if apperrors.IsTransient(fatal) {
		t.Error("Insufficient funds must not be retried")
	}
}

func TestParseKline(t *testing.T) {
	now := time.Now().UnixMilli()
	k := &gobinance.Kline{
		OpenTime:  now - 120_000,
		CloseTime: now - 60_001,
		Open:      "100.5",
		High:      "101",
		Low:       "99.5",
		Close:     "100.9",
		Volume:    "12.34",
	}

	c, err := parseKline("BTCUSDT", k, now)
	if err != nil {
		t.Fatalf("parseKline failed: %v", err)
	}
	if !c.Closed {
		t.Error("A bar whose close time has passed must be marked closed")
	}
	if c.Close.String() != "100.9" {
		t.Errorf("Expected close 100.9, got %s", c.Close)
	}

	// In-progress bar
	k.CloseTime = now + 30_000
	c, err = parseKline("BTCUSDT", k, now)
	if err != nil {
		t.Fatalf("parseKline failed: %v", err)
	}
	if c.Closed {
		t.Error("A bar still forming must not be marked closed")
	}
}

func TestParseKlineMalformed(t *testing.T) {
	k := &gobinance.Kline{Open: "not-a-number", High: "1", Low: "1", Close: "1", Volume: "1"}
	if _, err := parseKline("BTCUSDT", k, 0); err == nil {
		t.Error("Malformed numeric fields must error")
	}
}

func TestMapStatus(t *testing.T) {
	cases := map[gobinance.OrderStatusType]core.OrderStatus{
		gobinance.OrderStatusTypeFilled:          core.OrderStatusFilled,
		gobinance.OrderStatusTypeRejected:        core.OrderStatusRejected,
		gobinance.OrderStatusTypeCanceled:        core.OrderStatusCanceled,
		gobinance.OrderStatusTypeExpired:         core.OrderStatusCanceled,
		gobinance.OrderStatusTypeNew:             core.OrderStatusNew,
		gobinance.OrderStatusTypePartiallyFilled: core.OrderStatusNew,
	}
	for in, want := range cases {
		if got := mapStatus(in); got != want {
			t.Errorf("mapStatus(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestOrderFromCreate(t *testing.T) {
	resp := &gobinance.CreateOrderResponse{
		Symbol:                   "BTCUSDT",
		OrderID:                  42,
		ClientOrderID:            "abc",
		Status:                   gobinance.OrderStatusTypeFilled,
		ExecutedQuantity:         "2",
		CummulativeQuoteQuantity: "200",
		TransactTime:             1700000000000,
	}

	o, err := orderFromCreate(resp, core.SideBuy)
	if err != nil {
		t.Fatalf("orderFromCreate failed: %v", err)
	}
	if o.AvgFillPrice.String() != "100" {
		t.Errorf("Expected avg fill 100 (200 quote / 2 base), got %s", o.AvgFillPrice)
	}
	if o.Status != core.OrderStatusFilled {
		t.Errorf("Expected FILLED, got %s", o.Status)
	}
}

func TestBaseAsset(t *testing.T) {
	e := NewExchange(&config.ExchangeConfig{QuoteAsset: "USDT", MinOrderValue: 10}, nopLogger{})
	if got := e.BaseAsset("BTCUSDT"); got != "BTC" {
		t.Errorf("Expected BTC, got %s", got)
	}
	if got := e.BaseAsset("ETHUSDT"); got != "ETH" {
		t.Errorf("Expected ETH, got %s", got)
	}
}
