// Package orchestrator supervises the per-symbol trading engines
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"dca_trader/internal/core"

	"github.com/shopspring/decimal"
)

// SymbolEngine is the engine surface the orchestrator supervises
type SymbolEngine interface {
	Symbol() string
	Start(ctx context.Context) error
	Stop()
	Done() <-chan struct{}
	Err() error
	Status() core.EngineStatus
}

// PortfolioStatus aggregates all engines into one account view
type PortfolioStatus struct {
	TotalInvested  decimal.Decimal
	TotalValue     decimal.Decimal
	TotalReturnPct decimal.Decimal
	RealizedPnL    decimal.Decimal
	PositionCount  int
	RunningCount   int
	Symbols        []string
}

// Orchestrator owns the engine fleet: it launches engines with a stagger so
// their REST preloads do not burst, isolates fatal failures to the failing
// symbol, and aggregates portfolio status. One dead engine never takes down
// its siblings.
type Orchestrator struct {
	launchDelay time.Duration
	notifier    core.INotifier
	logger      core.ILogger

	mu      sync.RWMutex
	engines map[string]SymbolEngine
	started bool
	wg      sync.WaitGroup
}

// NewOrchestrator creates an empty orchestrator
func NewOrchestrator(launchDelay time.Duration, notifier core.INotifier, logger core.ILogger) *Orchestrator {
	return &Orchestrator{
		launchDelay: launchDelay,
		notifier:    notifier,
		logger:      logger.WithField("component", "orchestrator"),
		engines:     make(map[string]SymbolEngine),
	}
}

// AddEngine registers an engine before Start
func (o *Orchestrator) AddEngine(eng SymbolEngine) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return fmt.Errorf("cannot add %s after start", eng.Symbol())
	}
	if _, exists := o.engines[eng.Symbol()]; exists {
		return fmt.Errorf("engine already registered for %s", eng.Symbol())
	}
	o.engines[eng.Symbol()] = eng
	return nil
}

// Start launches every registered engine, pausing between launches. An
// engine that fails to start is reported and skipped; the rest proceed.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already started")
	}
	o.started = true
	engines := o.enginesInOrder()
	o.mu.Unlock()

	if len(engines) == 0 {
		return fmt.Errorf("no engines registered")
	}

	startedCount := 0
	for i, eng := range engines {
		if i > 0 && o.launchDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(o.launchDelay):
			}
		}

		if err := eng.Start(ctx); err != nil {
			o.logger.Error("Engine failed to start",
				"symbol", eng.Symbol(),
				"error", err)
			o.removeEngine(eng.Symbol())
			o.notifyCritical(eng.Symbol(), fmt.Sprintf("Engine failed to start: %v", err))
			continue
		}

		startedCount++
		o.watch(eng)
		o.logger.Info("Engine launched", "symbol", eng.Symbol())
	}

	if startedCount == 0 {
		return fmt.Errorf("no engine started successfully")
	}

	o.logger.Info("Orchestrator running",
		"engines", startedCount,
		"launch_delay", o.launchDelay)
	return nil
}

// watch reacts to an engine loop exiting on its own. A clean stop carries no
// error; a fatal one is reported and the symbol is withdrawn from the fleet.
func (o *Orchestrator) watch(eng SymbolEngine) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		<-eng.Done()

		err := eng.Err()
		if err == nil {
			return
		}

		o.logger.Error("Engine died",
			"symbol", eng.Symbol(),
			"error", err)
		o.removeEngine(eng.Symbol())
		o.notifyCritical(eng.Symbol(), fmt.Sprintf("Engine stopped fatally: %v", err))
	}()
}

// Stop halts every engine and waits for the watchers to drain
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	engines := o.enginesInOrder()
	o.mu.Unlock()

	for _, eng := range engines {
		eng.Stop()
	}
	o.wg.Wait()

	o.mu.Lock()
	o.started = false
	o.mu.Unlock()

	o.logger.Info("Orchestrator stopped")
}

// Status aggregates every engine into a portfolio view
func (o *Orchestrator) Status() PortfolioStatus {
	o.mu.RLock()
	engines := o.enginesInOrder()
	o.mu.RUnlock()

	status := PortfolioStatus{
		TotalInvested: decimal.Zero,
		TotalValue:    decimal.Zero,
	}

	for _, eng := range engines {
		es := eng.Status()
		status.Symbols = append(status.Symbols, es.Symbol)
		status.TotalInvested = status.TotalInvested.Add(es.Invested)
		status.TotalValue = status.TotalValue.Add(es.CurrentValue)
		status.RealizedPnL = status.RealizedPnL.Add(es.RealizedPnL)
		if es.Quantity.IsPositive() {
			status.PositionCount++
		}
		if es.Running {
			status.RunningCount++
		}
	}

	if status.TotalInvested.IsPositive() {
		status.TotalReturnPct = status.TotalValue.Sub(status.TotalInvested).
			Div(status.TotalInvested).
			Mul(decimal.NewFromInt(100))
	}
	return status
}

// GetEngine looks up one engine by symbol
func (o *Orchestrator) GetEngine(symbol string) (SymbolEngine, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	eng, ok := o.engines[symbol]
	return eng, ok
}

// Symbols lists the currently managed symbols, sorted
func (o *Orchestrator) Symbols() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	symbols := make([]string, 0, len(o.engines))
	for s := range o.engines {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// enginesInOrder returns the engines sorted by symbol. Callers hold the lock
// or tolerate a stale copy.
func (o *Orchestrator) enginesInOrder() []SymbolEngine {
	symbols := make([]string, 0, len(o.engines))
	for s := range o.engines {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	engines := make([]SymbolEngine, 0, len(symbols))
	for _, s := range symbols {
		engines = append(engines, o.engines[s])
	}
	return engines
}

func (o *Orchestrator) removeEngine(symbol string) {
	o.mu.Lock()
	delete(o.engines, symbol)
	o.mu.Unlock()
}

func (o *Orchestrator) notifyCritical(symbol, message string) {
	if o.notifier != nil {
		o.notifier.Critical("Engine failure", message, map[string]string{"symbol": symbol})
	}
}
