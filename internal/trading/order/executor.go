// Package order provides market order execution with validation, rate
// limiting, retries and fill confirmation.
package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dca_trader/internal/core"
	apperrors "dca_trader/pkg/errors"
	"dca_trader/pkg/retry"
	"dca_trader/pkg/telemetry"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Config tunes the executor. Zero values take the defaults below.
type Config struct {
	DryRun           bool
	MaxRetries       int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	OrderWaitTimeout time.Duration
	PollInterval     time.Duration
	RateLimit        float64
	RateBurst        int
}

func (c *Config) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.OrderWaitTimeout <= 0 {
		c.OrderWaitTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 25
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 30
	}
}

// Executor places market orders against the exchange. A request is validated
// before any network call, submitted under one ClientOrderID that survives
// retries, and confirmed by polling until the fill lands or the wait timeout
// expires. In dry-run mode orders fill instantly at the current price without
// touching the exchange's order endpoints; simulated fills settle against a
// paper balance overlay (seeded from the venue on first use) so validation
// sees the same funding constraints a live run would.
type Executor struct {
	exchange    core.IExchange
	config      Config
	rateLimiter *rate.Limiter
	logger      core.ILogger

	paperMu sync.Mutex
	paper   map[string]decimal.Decimal // dry-run balances by asset
}

// NewExecutor creates an executor over the given exchange
func NewExecutor(exchange core.IExchange, config Config, logger core.ILogger) *Executor {
	config.applyDefaults()
	e := &Executor{
		exchange:    exchange,
		config:      config,
		rateLimiter: rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst),
		logger:      logger.WithField("component", "order_executor"),
	}
	if config.DryRun {
		e.paper = make(map[string]decimal.Decimal)
	}
	return e
}

// Execute runs a market order to a terminal outcome. Validation errors are
// returned without submission and are never retried. A nil error means the
// order filled; apperrors.ErrOrderTimeout means the outcome is unknown and
// the caller must not assume either way.
func (e *Executor) Execute(ctx context.Context, req core.OrderRequest) (*core.OrderResult, error) {
	if err := e.validate(ctx, req); err != nil {
		telemetry.GetGlobalMetrics().IncOrderFailure(req.Symbol, "validation")
		return nil, err
	}

	if req.ClientOrderID == "" {
		req.ClientOrderID = uuid.NewString()
	}

	if e.config.DryRun {
		return e.executeDryRun(ctx, req)
	}

	if err := e.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	telemetry.GetGlobalMetrics().IncOrderSubmitted(req.Symbol, string(req.Side))

	order, attempts, err := e.submitWithRetry(ctx, req)
	if err != nil {
		telemetry.GetGlobalMetrics().IncOrderFailure(req.Symbol, "submit")
		return nil, err
	}

	filled, err := e.awaitFill(ctx, req, order)
	if err != nil {
		return nil, err
	}

	e.logger.Info("Order filled",
		"symbol", req.Symbol,
		"side", req.Side,
		"client_order_id", req.ClientOrderID,
		"qty", filled.ExecutedQty,
		"price", filled.AvgFillPrice,
		"attempts", attempts)

	return &core.OrderResult{
		Order:          filled,
		FilledQuantity: filled.ExecutedQty,
		AvgFillPrice:   filled.AvgFillPrice,
		Attempts:       attempts,
	}, nil
}

// validate rejects requests that cannot succeed before anything is sent
func (e *Executor) validate(ctx context.Context, req core.OrderRequest) error {
	switch req.Side {
	case core.SideBuy:
		if !req.Notional.IsPositive() {
			return fmt.Errorf("%w: buy notional must be positive, got %s",
				apperrors.ErrBelowMinNotional, req.Notional)
		}
		if req.Notional.LessThan(e.exchange.MinOrderValue()) {
			return fmt.Errorf("%w: notional %s below minimum %s",
				apperrors.ErrBelowMinNotional, req.Notional, e.exchange.MinOrderValue())
		}
		quote, err := e.availableBalance(ctx, e.exchange.QuoteAsset())
		if err != nil {
			return fmt.Errorf("failed to check quote balance: %w", err)
		}
		if quote.LessThan(req.Notional) {
			return fmt.Errorf("%w: have %s %s, need %s",
				apperrors.ErrInsufficientFunds, quote, e.exchange.QuoteAsset(), req.Notional)
		}
	case core.SideSell:
		if !req.Quantity.IsPositive() {
			return fmt.Errorf("sell quantity must be positive, got %s", req.Quantity)
		}
		base, err := e.availableBalance(ctx, e.exchange.BaseAsset(req.Symbol))
		if err != nil {
			return fmt.Errorf("failed to check base balance: %w", err)
		}
		if base.LessThan(req.Quantity) {
			return fmt.Errorf("%w: have %s, need %s",
				apperrors.ErrInsufficientFunds, base, req.Quantity)
		}
	default:
		return fmt.Errorf("unknown order side %q", req.Side)
	}
	return nil
}

// availableBalance reads the funding available to a request. Live mode asks
// the venue; dry-run mode reads the paper overlay, seeding an asset from the
// venue the first time it is touched.
func (e *Executor) availableBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	if e.config.DryRun {
		e.paperMu.Lock()
		qty, ok := e.paper[asset]
		e.paperMu.Unlock()
		if ok {
			return qty, nil
		}
	}

	bal, err := e.exchange.GetBalance(ctx, asset)
	if err != nil {
		return decimal.Zero, err
	}

	if e.config.DryRun {
		e.paperMu.Lock()
		e.paper[asset] = bal.Quantity
		e.paperMu.Unlock()
	}
	return bal.Quantity, nil
}

// settlePaper applies a simulated fill to the paper balances
func (e *Executor) settlePaper(req core.OrderRequest, qty, price decimal.Decimal) {
	base := e.exchange.BaseAsset(req.Symbol)
	quote := e.exchange.QuoteAsset()
	notional := qty.Mul(price)

	e.paperMu.Lock()
	defer e.paperMu.Unlock()

	switch req.Side {
	case core.SideBuy:
		e.paper[quote] = e.paper[quote].Sub(notional)
		e.paper[base] = e.paper[base].Add(qty)
	case core.SideSell:
		e.paper[base] = e.paper[base].Sub(qty)
		e.paper[quote] = e.paper[quote].Add(notional)
	}
}

// executeDryRun simulates an instant fill at the current market price
func (e *Executor) executeDryRun(ctx context.Context, req core.OrderRequest) (*core.OrderResult, error) {
	price, err := e.exchange.GetLatestPrice(ctx, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("dry-run price lookup failed: %w", err)
	}

	qty := req.Quantity
	if req.Side == core.SideBuy {
		qty = req.Notional.Div(price)
	}

	// Both legs must be seeded from the venue before settlement so the
	// overlay never forgets a balance it has not touched yet.
	if _, err := e.availableBalance(ctx, e.exchange.QuoteAsset()); err != nil {
		return nil, fmt.Errorf("dry-run balance seed failed: %w", err)
	}
	if _, err := e.availableBalance(ctx, e.exchange.BaseAsset(req.Symbol)); err != nil {
		return nil, fmt.Errorf("dry-run balance seed failed: %w", err)
	}

	e.settlePaper(req, qty, price)

	e.logger.Info("Dry-run fill",
		"symbol", req.Symbol,
		"side", req.Side,
		"qty", qty,
		"price", price)

	telemetry.GetGlobalMetrics().IncFill(req.Symbol, string(req.Side), "dry_run")

	return &core.OrderResult{
		Order: &core.Order{
			ClientOrderID: req.ClientOrderID,
			Symbol:        req.Symbol,
			Side:          req.Side,
			Status:        core.OrderStatusFilled,
			ExecutedQty:   qty,
			AvgFillPrice:  price,
			UpdateTime:    time.Now().UnixMilli(),
		},
		FilledQuantity: qty,
		AvgFillPrice:   price,
		Attempts:       1,
		DryRun:         true,
	}, nil
}

// submitWithRetry sends the order, retrying transient failures under the same
// ClientOrderID so a retry after an ambiguous failure cannot double-execute.
func (e *Executor) submitWithRetry(ctx context.Context, req core.OrderRequest) (*core.Order, int, error) {
	policy := retry.RetryPolicy{
		MaxAttempts:    e.config.MaxRetries,
		InitialBackoff: e.config.RetryBaseDelay,
		MaxBackoff:     e.config.RetryMaxDelay,
	}

	var order *core.Order
	res := retry.DoWithResult(ctx, policy, apperrors.IsTransient, func() error {
		var err error
		switch req.Side {
		case core.SideBuy:
			order, err = e.exchange.PlaceMarketBuy(ctx, req.Symbol, req.Notional, req.ClientOrderID)
		default:
			order, err = e.exchange.PlaceMarketSell(ctx, req.Symbol, req.Quantity, req.ClientOrderID)
		}
		if err != nil {
			// A duplicate rejection means an earlier attempt landed
			if errors.Is(err, apperrors.ErrDuplicateOrder) {
				order, err = e.exchange.GetOrder(ctx, req.Symbol, req.ClientOrderID)
			}
		}
		if err != nil {
			e.logger.Warn("Order submission failed",
				"symbol", req.Symbol,
				"side", req.Side,
				"client_order_id", req.ClientOrderID,
				"error", err)
			telemetry.GetGlobalMetrics().IncOrderRetry(req.Symbol)
		}
		return err
	})

	if res.LastErr != nil {
		return nil, res.Attempts, fmt.Errorf("order submission exhausted after %d attempts: %w",
			res.Attempts, res.LastErr)
	}
	return order, res.Attempts, nil
}

// awaitFill polls the order until it reaches a terminal status or the wait
// timeout expires. On timeout the outcome is unknown; reconciliation picks up
// any fill that landed after we stopped looking.
func (e *Executor) awaitFill(ctx context.Context, req core.OrderRequest, order *core.Order) (*core.Order, error) {
	if order != nil && order.Status == core.OrderStatusFilled {
		telemetry.GetGlobalMetrics().IncFill(req.Symbol, string(req.Side), "live")
		return order, nil
	}

	deadline := time.Now().Add(e.config.OrderWaitTimeout)
	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			current, err := e.exchange.GetOrder(ctx, req.Symbol, req.ClientOrderID)
			if err != nil {
				e.logger.Warn("Order status poll failed",
					"symbol", req.Symbol,
					"client_order_id", req.ClientOrderID,
					"error", err)
			} else {
				switch current.Status {
				case core.OrderStatusFilled:
					telemetry.GetGlobalMetrics().IncFill(req.Symbol, string(req.Side), "live")
					return current, nil
				case core.OrderStatusRejected, core.OrderStatusCanceled:
					telemetry.GetGlobalMetrics().IncOrderFailure(req.Symbol, "rejected")
					return nil, fmt.Errorf("%w: order %s is %s",
						apperrors.ErrOrderRejected, req.ClientOrderID, current.Status)
				}
			}

			if time.Now().After(deadline) {
				telemetry.GetGlobalMetrics().IncOrderFailure(req.Symbol, "timeout")
				e.logger.Error("Order outcome unknown after wait timeout",
					"symbol", req.Symbol,
					"client_order_id", req.ClientOrderID,
					"timeout", e.config.OrderWaitTimeout)
				return nil, fmt.Errorf("%w: order %s not terminal after %s",
					apperrors.ErrOrderTimeout, req.ClientOrderID, e.config.OrderWaitTimeout)
			}
		}
	}
}

var _ core.IOrderExecutor = (*Executor)(nil)
