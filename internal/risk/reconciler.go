package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dca_trader/internal/core"
	"dca_trader/internal/trading/position"
	"dca_trader/pkg/telemetry"

	"golang.org/x/sync/errgroup"
)

// ReconcilerConfig tunes the reconciliation loop
type ReconcilerConfig struct {
	Interval time.Duration
	// DryRun marks the managed positions as simulated: fills never reach
	// the venue, so a zero exchange balance says nothing about them and
	// external-liquidation clearing is disabled.
	DryRun bool
}

// Reconciler periodically compares exchange balances against the managed
// ledgers and resolves drift caused outside the engine: externally created
// positions are adopted, externally liquidated positions are cleared. A pass
// over an unchanged account produces no transitions.
type Reconciler struct {
	exchange core.IExchange
	ledgers  map[string]*position.Ledger // keyed by symbol
	interval time.Duration
	dryRun   bool
	notifier core.INotifier
	logger   core.ILogger

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	lastRun   time.Time
	passCount int
}

// NewReconciler creates a reconciler over the given ledgers
func NewReconciler(
	exchange core.IExchange,
	ledgers map[string]*position.Ledger,
	config ReconcilerConfig,
	notifier core.INotifier,
	logger core.ILogger,
) *Reconciler {
	if config.Interval <= 0 {
		config.Interval = 60 * time.Second
	}
	return &Reconciler{
		exchange: exchange,
		ledgers:  ledgers,
		interval: config.Interval,
		dryRun:   config.DryRun,
		notifier: notifier,
		logger:   logger.WithField("component", "reconciler"),
	}
}

// Start launches the periodic reconciliation loop
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return fmt.Errorf("reconciler already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.run(loopCtx)
	r.logger.Info("Reconciler started", "interval", r.interval)
	return nil
}

// Stop halts the loop and waits for the in-flight pass to finish
func (r *Reconciler) Stop() error {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.cancel = nil
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (r *Reconciler) run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Reconcile(ctx); err != nil {
				r.logger.Error("Reconciliation pass failed", "error", err)
			}
		}
	}
}

// TriggerManual runs a single reconciliation pass on demand
func (r *Reconciler) TriggerManual(ctx context.Context) error {
	r.logger.Info("Manual reconciliation triggered")
	return r.Reconcile(ctx)
}

// Reconcile runs one pass over all managed symbols. Symbols are checked
// concurrently with a small bound so a large fleet does not serialize on
// per-symbol price lookups.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	balances, err := r.exchange.GetBalances(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch balances: %w", err)
	}

	byAsset := make(map[string]core.Balance, len(balances))
	for _, b := range balances {
		byAsset[b.Asset] = b
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for symbol, ledger := range r.ledgers {
		symbol, ledger := symbol, ledger
		bal := byAsset[r.exchange.BaseAsset(symbol)]

		g.Go(func() error {
			switch {
			case bal.Quantity.IsPositive() && !ledger.HasPosition():
				return r.adopt(gctx, symbol, ledger, bal)
			case bal.Quantity.IsZero() && ledger.HasPosition() && !r.dryRun:
				r.clearLiquidated(symbol, ledger)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	r.mu.Lock()
	r.lastRun = time.Now()
	r.passCount++
	r.mu.Unlock()

	return nil
}

// adopt registers an externally created position with the ledger. The
// reference price is the exchange-reported cost basis, falling back to the
// current price on venues without one.
func (r *Reconciler) adopt(ctx context.Context, symbol string, ledger *position.Ledger, bal core.Balance) error {
	costBasis := bal.AvgBuyPrice
	if !costBasis.IsPositive() {
		price, err := r.exchange.GetLatestPrice(ctx, symbol)
		if err != nil {
			return fmt.Errorf("cannot adopt %s, price lookup failed: %w", symbol, err)
		}
		costBasis = price
	}

	ledger.AdoptExternal(bal.Quantity, costBasis)
	telemetry.GetGlobalMetrics().IncReconcileEvent(symbol, "adopted")

	r.logger.Warn("Adopted externally created position",
		"symbol", symbol,
		"qty", bal.Quantity,
		"cost_basis", costBasis)

	if r.notifier != nil {
		r.notifier.Warn("External position adopted",
			fmt.Sprintf("Detected %s %s bought outside the engine; now managed", bal.Quantity, symbol),
			map[string]string{
				"symbol":     symbol,
				"quantity":   bal.Quantity.String(),
				"cost_basis": costBasis.String(),
			})
	}
	return nil
}

// clearLiquidated drops a managed position whose exchange balance is gone
func (r *Reconciler) clearLiquidated(symbol string, ledger *position.Ledger) {
	snap := ledger.Snapshot()
	ledger.ForceClose()
	telemetry.GetGlobalMetrics().IncReconcileEvent(symbol, "force_closed")

	r.logger.Warn("Cleared externally liquidated position",
		"symbol", symbol,
		"qty", snap.Quantity,
		"average_cost", snap.AverageCost)

	if r.notifier != nil {
		r.notifier.Warn("External liquidation detected",
			fmt.Sprintf("%s position sold outside the engine; internal state cleared", symbol),
			map[string]string{
				"symbol":   symbol,
				"quantity": snap.Quantity.String(),
			})
	}
}

// Status reports pass statistics for health checks
func (r *Reconciler) Status() (lastRun time.Time, passes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRun, r.passCount
}

var _ core.IReconciler = (*Reconciler)(nil)
