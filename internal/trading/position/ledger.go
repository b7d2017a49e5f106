// Package position provides the per-symbol position ledger
package position

import (
	"fmt"
	"sync"
	"time"

	"dca_trader/internal/core"

	"github.com/shopspring/decimal"
)

// Ledger owns the single position of one symbol. Entry fills recompute the
// quantity-weighted average cost; exit fills reduce quantity and accrue
// realized PnL without touching the average cost. The reference price and
// the executed-tier sets are cleared exactly when quantity reaches zero.
type Ledger struct {
	mu     sync.RWMutex
	symbol string
	logger core.ILogger

	quantity       decimal.Decimal
	averageCost    decimal.Decimal
	referencePrice decimal.Decimal
	realizedPnL    decimal.Decimal // current position lifetime
	openedAt       time.Time
	adopted        bool

	entryTiersDone map[int]bool
	exitTiersDone  map[int]bool

	lifetimeRealized decimal.Decimal // across all positions
}

// NewLedger creates an empty ledger for a symbol
func NewLedger(symbol string, logger core.ILogger) *Ledger {
	return &Ledger{
		symbol:         symbol,
		logger:         logger.WithField("component", "ledger").WithField("symbol", symbol),
		entryTiersDone: make(map[int]bool),
		exitTiersDone:  make(map[int]bool),
	}
}

// Open records the initiating signal price as the reference for the entry
// ladder. It fails if a position already exists.
func (l *Ledger) Open(referencePrice decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.quantity.IsPositive() {
		return fmt.Errorf("position already open for %s", l.symbol)
	}
	if !referencePrice.IsPositive() {
		return fmt.Errorf("reference price must be positive, got %s", referencePrice)
	}

	l.referencePrice = referencePrice
	l.openedAt = time.Now()
	l.adopted = false

	l.logger.Info("Position opened", "reference_price", referencePrice)
	return nil
}

// ApplyEntryFill records a buy fill against an entry tier. The tier may fill
// at most once per position lifetime; the average cost is recomputed as the
// quantity-weighted mean of the old position and the fill.
func (l *Ledger) ApplyEntryFill(tierID int, qty, price decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.entryTiersDone[tierID] {
		return fmt.Errorf("entry tier %d already executed for %s", tierID, l.symbol)
	}
	if !qty.IsPositive() || !price.IsPositive() {
		return fmt.Errorf("entry fill requires positive quantity and price, got qty=%s price=%s", qty, price)
	}

	oldCost := l.averageCost.Mul(l.quantity)
	l.quantity = l.quantity.Add(qty)
	l.averageCost = oldCost.Add(price.Mul(qty)).Div(l.quantity)
	l.entryTiersDone[tierID] = true

	l.logger.Info("Entry fill applied",
		"tier", tierID,
		"qty", qty,
		"price", price,
		"position_qty", l.quantity,
		"average_cost", l.averageCost)
	return nil
}

// ApplyExitFill records a sell fill against an exit tier. It returns the
// realized PnL of the fill and whether the position was fully closed. The
// average cost is unchanged by exits.
func (l *Ledger) ApplyExitFill(tierID int, qty, price decimal.Decimal) (pnl decimal.Decimal, closed bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.exitTiersDone[tierID] {
		return decimal.Zero, false, fmt.Errorf("exit tier %d already executed for %s", tierID, l.symbol)
	}
	if !qty.IsPositive() || !price.IsPositive() {
		return decimal.Zero, false, fmt.Errorf("exit fill requires positive quantity and price, got qty=%s price=%s", qty, price)
	}
	if qty.GreaterThan(l.quantity) {
		return decimal.Zero, false, fmt.Errorf("exit fill qty %s exceeds position qty %s", qty, l.quantity)
	}

	pnl = price.Sub(l.averageCost).Mul(qty)
	l.quantity = l.quantity.Sub(qty)
	l.realizedPnL = l.realizedPnL.Add(pnl)
	l.lifetimeRealized = l.lifetimeRealized.Add(pnl)
	l.exitTiersDone[tierID] = true

	l.logger.Info("Exit fill applied",
		"tier", tierID,
		"qty", qty,
		"price", price,
		"pnl", pnl,
		"remaining_qty", l.quantity)

	if l.quantity.IsZero() {
		l.resetLocked()
		return pnl, true, nil
	}
	return pnl, false, nil
}

// AdoptExternal registers an externally created position: it appears fully
// formed with the reference price set to the given cost basis.
func (l *Ledger) AdoptExternal(qty, costBasis decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.quantity = qty
	l.averageCost = costBasis
	l.referencePrice = costBasis
	l.realizedPnL = decimal.Zero
	l.openedAt = time.Now()
	l.adopted = true
	l.entryTiersDone = make(map[int]bool)
	l.exitTiersDone = make(map[int]bool)

	l.logger.Info("External position adopted", "qty", qty, "cost_basis", costBasis)
}

// ForceClose clears the position immediately, bypassing the exit ladder.
// Used when the reconciler detects an external liquidation.
func (l *Ledger) ForceClose() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.quantity.IsZero() && l.referencePrice.IsZero() {
		return
	}

	l.logger.Warn("Position force-closed", "qty", l.quantity, "average_cost", l.averageCost)
	l.resetLocked()
}

// resetLocked clears all per-position state. Callers hold the lock.
func (l *Ledger) resetLocked() {
	l.quantity = decimal.Zero
	l.averageCost = decimal.Zero
	l.referencePrice = decimal.Zero
	l.realizedPnL = decimal.Zero
	l.openedAt = time.Time{}
	l.adopted = false
	l.entryTiersDone = make(map[int]bool)
	l.exitTiersDone = make(map[int]bool)

	l.logger.Info("Position reset")
}

// HasPosition reports whether any quantity is held
func (l *Ledger) HasPosition() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.quantity.IsPositive()
}

// HasReference reports whether a reference price is recorded. True from
// Open until reset, including while the first fill is pending.
func (l *Ledger) HasReference() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.referencePrice.IsPositive()
}

// EntryTierExecuted reports whether an entry tier has filled this lifetime
func (l *Ledger) EntryTierExecuted(id int) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entryTiersDone[id]
}

// ExitTierExecuted reports whether an exit tier has filled this lifetime
func (l *Ledger) ExitTierExecuted(id int) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.exitTiersDone[id]
}

// Snapshot returns a read-only copy of the current position
func (l *Ledger) Snapshot() core.PositionSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return core.PositionSnapshot{
		Symbol:         l.symbol,
		Quantity:       l.quantity,
		AverageCost:    l.averageCost,
		ReferencePrice: l.referencePrice,
		RealizedPnL:    l.realizedPnL,
		OpenedAt:       l.openedAt,
		Adopted:        l.adopted,
	}
}

// LifetimeRealized returns realized PnL accumulated across all positions
func (l *Ledger) LifetimeRealized() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lifetimeRealized
}

// Symbol returns the ledger's symbol
func (l *Ledger) Symbol() string {
	return l.symbol
}
