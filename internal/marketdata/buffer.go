// Package marketdata provides candle delivery and buffering
package marketdata

import (
	"sort"
	"sync"

	"dca_trader/internal/core"

	"github.com/shopspring/decimal"
)

// CandleBuffer is a bounded rolling window of completed candles for one
// symbol. Candles are unique by open time and kept in ascending order; a
// duplicate open time replaces the stored candle. Oldest candles are evicted
// beyond maxSize.
type CandleBuffer struct {
	mu            sync.RWMutex
	symbol        string
	maxSize       int
	requiredCount int
	candles       []core.Candle
}

// NewCandleBuffer creates a buffer that is Ready once requiredCount candles
// are present
func NewCandleBuffer(symbol string, maxSize, requiredCount int) *CandleBuffer {
	if maxSize <= 0 {
		maxSize = 500
	}
	if requiredCount <= 0 || requiredCount > maxSize {
		requiredCount = maxSize
	}
	return &CandleBuffer{
		symbol:        symbol,
		maxSize:       maxSize,
		requiredCount: requiredCount,
		candles:       make([]core.Candle, 0, maxSize),
	}
}

// Add inserts a candle, keeping the window deduplicated, ordered and bounded
func (b *CandleBuffer) Add(c core.Candle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.candles)

	// Common case: strictly newer than everything stored
	if n == 0 || c.OpenTime.After(b.candles[n-1].OpenTime) {
		b.candles = append(b.candles, c)
		b.trim()
		return
	}

	// Duplicate or out-of-order delivery
	idx := sort.Search(n, func(i int) bool {
		return !b.candles[i].OpenTime.Before(c.OpenTime)
	})

	if idx < n && b.candles[idx].OpenTime.Equal(c.OpenTime) {
		// Keep the latest version of the bar
		b.candles[idx] = c
		return
	}

	b.candles = append(b.candles, core.Candle{})
	copy(b.candles[idx+1:], b.candles[idx:])
	b.candles[idx] = c
	b.trim()
}

func (b *CandleBuffer) trim() {
	if over := len(b.candles) - b.maxSize; over > 0 {
		b.candles = append(b.candles[:0], b.candles[over:]...)
	}
}

// Ready reports whether enough candles have accumulated for evaluation
func (b *CandleBuffer) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.candles) >= b.requiredCount
}

// Len returns the number of buffered candles
func (b *CandleBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.candles)
}

// Snapshot returns a copy of the most recent n candles (all if n <= 0 or
// larger than the buffer)
func (b *CandleBuffer) Snapshot(n int) []core.Candle {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || n > len(b.candles) {
		n = len(b.candles)
	}
	out := make([]core.Candle, n)
	copy(out, b.candles[len(b.candles)-n:])
	return out
}

// LatestPrice returns the close of the most recent candle
func (b *CandleBuffer) LatestPrice() (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.candles) == 0 {
		return decimal.Zero, false
	}
	return b.candles[len(b.candles)-1].Close, true
}

// Clear drops all buffered candles
func (b *CandleBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.candles = b.candles[:0]
}
