package trading

import (
	"context"
	"fmt"
	"sync"

	"dca_trader/internal/core"
	"dca_trader/internal/marketdata"
	"dca_trader/internal/trading/position"
	apperrors "dca_trader/pkg/errors"
	"dca_trader/pkg/telemetry"

	"github.com/shopspring/decimal"
)

// EngineConfig carries the per-symbol parameters of one engine
type EngineConfig struct {
	Symbol          string
	Interval        string
	RequiredCandles int
	BufferSize      int
	EntryLadder     []core.EntryTier
	ExitLadder      []core.ExitTier
	MinQuoteBalance decimal.Decimal
}

// Engine runs the trading loop for one symbol: it consumes completed bars,
// asks the signal source for entries while flat, and walks the entry and
// exit ladders while positioned. Exits are evaluated before entries on every
// bar and are never gated by the circuit breaker.
type Engine struct {
	config   EngineConfig
	exchange core.IExchange
	feed     core.IMarketFeed
	signal   core.ISignalSource
	executor core.IOrderExecutor
	ledger   *position.Ledger
	breaker  core.ICircuitBreaker
	notifier core.INotifier
	buffer   *marketdata.CandleBuffer
	logger   core.ILogger

	mu        sync.RWMutex
	running   bool
	lastPrice decimal.Decimal
	fatalErr  error

	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine assembles an engine for one symbol
func NewEngine(
	config EngineConfig,
	exchange core.IExchange,
	feed core.IMarketFeed,
	signal core.ISignalSource,
	executor core.IOrderExecutor,
	ledger *position.Ledger,
	breaker core.ICircuitBreaker,
	notifier core.INotifier,
	logger core.ILogger,
) *Engine {
	return &Engine{
		config:   config,
		exchange: exchange,
		feed:     feed,
		signal:   signal,
		executor: executor,
		ledger:   ledger,
		breaker:  breaker,
		notifier: notifier,
		buffer:   marketdata.NewCandleBuffer(config.Symbol, config.BufferSize, config.RequiredCandles),
		logger:   logger.WithField("component", "engine").WithField("symbol", config.Symbol),
	}
}

// Start preloads history, subscribes to the feed and launches the loop
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running for %s", e.config.Symbol)
	}
	e.running = true
	e.mu.Unlock()

	if err := e.preload(ctx); err != nil {
		e.setStopped(nil)
		return fmt.Errorf("historical preload failed: %w", err)
	}

	candles, err := e.feed.Subscribe(ctx, e.config.Symbol)
	if err != nil {
		e.setStopped(nil)
		return fmt.Errorf("feed subscription failed: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.done = make(chan struct{})
	e.mu.Unlock()

	go e.run(loopCtx, candles)

	e.logger.Info("Engine started",
		"interval", e.config.Interval,
		"entry_tiers", len(e.config.EntryLadder),
		"exit_tiers", len(e.config.ExitLadder),
		"preloaded", e.buffer.Len())
	return nil
}

// Stop halts the loop and waits for it to drain
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	done := e.done
	e.cancel = nil
	e.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed when the loop has exited, for any reason
func (e *Engine) Done() <-chan struct{} {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.done
}

// Err returns the fatal error that stopped the engine, if any
func (e *Engine) Err() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fatalErr
}

// preload seeds the candle buffer from REST history so the signal source has
// enough bars before the first live one arrives.
func (e *Engine) preload(ctx context.Context) error {
	candles, err := e.exchange.GetCandles(ctx, e.config.Symbol, e.config.Interval, e.config.RequiredCandles)
	if err != nil {
		return err
	}
	for _, c := range candles {
		if c.Closed {
			e.buffer.Add(c)
		}
	}
	return nil
}

func (e *Engine) run(ctx context.Context, candles <-chan core.Candle) {
	defer close(e.done)
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: panic in %s engine: %v", apperrors.ErrEngineFatal, e.config.Symbol, r)
			e.logger.Error("Engine panicked", "panic", r)
			e.setStopped(err)
			e.notifyCritical("Engine crashed", err.Error())
			return
		}
		e.setStopped(e.Err())
	}()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Engine stopping")
			return
		case candle, ok := <-candles:
			if !ok {
				fatal := fmt.Errorf("%w: candle stream closed for %s", apperrors.ErrEngineFatal, e.config.Symbol)
				if feedErr := e.feed.Err(e.config.Symbol); feedErr != nil {
					fatal = fmt.Errorf("%w: %v", apperrors.ErrEngineFatal, feedErr)
				}
				e.logger.Error("Candle stream terminated", "error", fatal)
				e.mu.Lock()
				e.fatalErr = fatal
				e.mu.Unlock()
				e.notifyCritical("Market feed lost", fatal.Error())
				return
			}
			e.onBar(ctx, candle)
		}
	}
}

// onBar drives one completed bar through the state machine
func (e *Engine) onBar(ctx context.Context, candle core.Candle) {
	if !candle.Closed {
		return
	}

	e.buffer.Add(candle)
	telemetry.GetGlobalMetrics().IncCandleProcessed(e.config.Symbol)

	price := candle.Close
	e.mu.Lock()
	e.lastPrice = price
	e.mu.Unlock()

	// Exits run first and unconditionally
	if e.ledger.HasPosition() {
		e.processExits(ctx, price)
	}

	if !e.ledger.HasReference() {
		e.maybeEnter(ctx, price)
	}

	if e.ledger.HasReference() {
		e.processEntries(ctx, price)
	}

	snap := e.ledger.Snapshot()
	telemetry.GetGlobalMetrics().SetPositionValue(e.config.Symbol, snap.Quantity.Mul(price))
	telemetry.GetGlobalMetrics().SetRealizedPnL(e.config.Symbol, e.ledger.LifetimeRealized())
}

// maybeEnter consults the signal source and opens a position if allowed. The
// circuit breaker and the balance floor gate only this transition; ladder
// tiers of an open position are never blocked.
func (e *Engine) maybeEnter(ctx context.Context, price decimal.Decimal) {
	if !e.buffer.Ready() {
		return
	}

	decision := e.signal.Evaluate(e.buffer.Snapshot(e.config.RequiredCandles))
	if decision != core.SignalEnter {
		return
	}

	if e.breaker.IsTripped() {
		e.logger.Warn("Entry signal suppressed, circuit breaker open", "price", price)
		return
	}

	if e.config.MinQuoteBalance.IsPositive() {
		quote, err := e.exchange.GetBalance(ctx, e.exchange.QuoteAsset())
		if err != nil {
			e.logger.Error("Entry skipped, balance check failed", "error", err)
			return
		}
		if quote.Quantity.LessThan(e.config.MinQuoteBalance) {
			e.logger.Warn("Entry signal suppressed, quote balance below floor",
				"balance", quote.Quantity,
				"floor", e.config.MinQuoteBalance)
			return
		}
	}

	if err := e.ledger.Open(price); err != nil {
		e.logger.Error("Failed to open position", "error", err)
		return
	}

	e.logger.Info("Entry signal accepted",
		"signal", e.signal.Name(),
		"reference_price", price)
}

// processEntries fires every crossed, unexecuted entry tier in ascending
// trigger order. A failed tier stays unexecuted and retries on the next bar.
func (e *Engine) processEntries(ctx context.Context, price decimal.Decimal) {
	snap := e.ledger.Snapshot()
	crossed := CrossedEntryTiers(e.config.EntryLadder, snap.ReferencePrice, price, e.ledger.EntryTierExecuted)

	// An in-flight order must run to a terminal state even if the engine is
	// stopping; the executor's own wait timeout bounds it.
	orderCtx := context.WithoutCancel(ctx)

	for _, tier := range crossed {
		res, err := e.executor.Execute(orderCtx, core.OrderRequest{
			Symbol:   e.config.Symbol,
			Side:     core.SideBuy,
			Notional: tier.Notional,
		})
		if err != nil {
			e.logger.Error("Entry tier order failed",
				"tier", tier.ID,
				"notional", tier.Notional,
				"error", err)
			continue
		}

		if err := e.ledger.ApplyEntryFill(tier.ID, res.FilledQuantity, res.AvgFillPrice); err != nil {
			e.logger.Error("Entry fill not recorded", "tier", tier.ID, "error", err)
			continue
		}

		e.notifyInfo("Entry tier filled",
			fmt.Sprintf("%s tier %d bought %s @ %s", e.config.Symbol, tier.ID, res.FilledQuantity, res.AvgFillPrice))
	}
}

// processExits fires every crossed, unexecuted exit tier in ascending trigger
// order, realizing PnL into the breaker as fills land.
func (e *Engine) processExits(ctx context.Context, price decimal.Decimal) {
	snap := e.ledger.Snapshot()
	crossed := CrossedExitTiers(e.config.ExitLadder, snap.AverageCost, price, e.ledger.ExitTierExecuted)

	orderCtx := context.WithoutCancel(ctx)

	for _, tier := range crossed {
		current := e.ledger.Snapshot().Quantity
		if !current.IsPositive() {
			return
		}
		qty := current.Mul(tier.Fraction)
		if qty.GreaterThan(current) {
			qty = current
		}

		res, err := e.executor.Execute(orderCtx, core.OrderRequest{
			Symbol:   e.config.Symbol,
			Side:     core.SideSell,
			Quantity: qty,
		})
		if err != nil {
			e.logger.Error("Exit tier order failed",
				"tier", tier.ID,
				"qty", qty,
				"error", err)
			continue
		}

		pnl, closed, err := e.ledger.ApplyExitFill(tier.ID, res.FilledQuantity, res.AvgFillPrice)
		if err != nil {
			e.logger.Error("Exit fill not recorded", "tier", tier.ID, "error", err)
			continue
		}

		e.breaker.RecordTrade(pnl)

		if closed {
			e.notifyInfo("Position closed",
				fmt.Sprintf("%s closed by tier %d @ %s, pnl %s", e.config.Symbol, tier.ID, res.AvgFillPrice, pnl))
			return
		}
		e.notifyInfo("Exit tier filled",
			fmt.Sprintf("%s tier %d sold %s @ %s, pnl %s", e.config.Symbol, tier.ID, res.FilledQuantity, res.AvgFillPrice, pnl))
	}
}

// Status reports a point-in-time view for portfolio aggregation
func (e *Engine) Status() core.EngineStatus {
	e.mu.RLock()
	running := e.running
	lastPrice := e.lastPrice
	e.mu.RUnlock()

	snap := e.ledger.Snapshot()
	return core.EngineStatus{
		Symbol:       e.config.Symbol,
		Running:      running,
		Quantity:     snap.Quantity,
		AverageCost:  snap.AverageCost,
		Invested:     snap.AverageCost.Mul(snap.Quantity),
		CurrentValue: lastPrice.Mul(snap.Quantity),
		RealizedPnL:  e.ledger.LifetimeRealized(),
		LastPrice:    lastPrice,
	}
}

// Symbol returns the engine's symbol
func (e *Engine) Symbol() string {
	return e.config.Symbol
}

// Ledger exposes the position ledger for reconciliation wiring
func (e *Engine) Ledger() *position.Ledger {
	return e.ledger
}

func (e *Engine) setStopped(err error) {
	e.mu.Lock()
	e.running = false
	if err != nil {
		e.fatalErr = err
	}
	e.mu.Unlock()
}

func (e *Engine) notifyInfo(title, message string) {
	if e.notifier != nil {
		e.notifier.Info(title, message, map[string]string{"symbol": e.config.Symbol})
	}
}

func (e *Engine) notifyCritical(title, message string) {
	if e.notifier != nil {
		e.notifier.Critical(title, message, map[string]string{"symbol": e.config.Symbol})
	}
}
