// Package alert dispatches operational notifications to external channels
package alert

import (
	"context"
	"sort"
	"sync"
	"time"

	"dca_trader/internal/core"
	"dca_trader/pkg/concurrency"
)

type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelCritical Level = "CRITICAL"
)

type Payload struct {
	Level     Level
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

// Field is one rendered alert attribute
type Field struct {
	Key   string
	Value string
}

// tradeFieldOrder fixes how trading attributes render across channels so a
// fill alert always reads symbol, side, tier, sizes, then PnL.
var tradeFieldOrder = []string{
	"symbol", "side", "tier", "quantity", "price",
	"avg_cost", "cost_basis", "notional", "pnl", "return_pct", "dry_run",
}

var tradeFieldTitles = map[string]string{
	"symbol":     "Symbol",
	"side":       "Side",
	"tier":       "Tier",
	"quantity":   "Quantity",
	"price":      "Price",
	"avg_cost":   "Avg Cost",
	"cost_basis": "Cost Basis",
	"notional":   "Notional",
	"pnl":        "PnL",
	"return_pct": "Return %",
	"dry_run":    "Dry Run",
}

// Symbol returns the symbol field, if the alert carries one
func (p Payload) Symbol() string {
	return p.Fields["symbol"]
}

// OrderedFields returns the alert's fields with trading attributes first in
// tradeFieldOrder and anything else appended alphabetically.
func (p Payload) OrderedFields() []Field {
	if len(p.Fields) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(p.Fields))
	out := make([]Field, 0, len(p.Fields))
	for _, k := range tradeFieldOrder {
		if v, ok := p.Fields[k]; ok {
			out = append(out, Field{Key: k, Value: v})
			seen[k] = true
		}
	}

	rest := make([]string, 0, len(p.Fields))
	for k := range p.Fields {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		out = append(out, Field{Key: k, Value: p.Fields[k]})
	}
	return out
}

func fieldTitle(key string) string {
	if t, ok := tradeFieldTitles[key]; ok {
		return t
	}
	return key
}

// Channel delivers one alert to one destination
type Channel interface {
	Send(ctx context.Context, alert Payload) error
	Name() string
}

// Manager fans alerts out to every registered channel through a bounded
// worker pool. Dispatch never blocks the trading path: when the pool is full
// the alert is dropped with a warning.
type Manager struct {
	mu       sync.RWMutex
	channels []Channel
	pool     *concurrency.WorkerPool
	logger   core.ILogger
}

// NewManager creates a manager with no channels
func NewManager(logger core.ILogger) *Manager {
	return &Manager{
		logger: logger.WithField("component", "alert_manager"),
		pool: concurrency.NewWorkerPool(concurrency.PoolConfig{
			Name:        "alerts",
			MaxWorkers:  4,
			MaxCapacity: 100,
			NonBlocking: true,
		}, logger),
	}
}

// AddChannel registers a delivery channel
func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
	m.logger.Info("Added alert channel", "name", ch.Name())
}

// Info sends an informational alert
func (m *Manager) Info(title, message string, fields map[string]string) {
	m.dispatch(LevelInfo, title, message, fields)
}

// Warn sends a warning alert
func (m *Manager) Warn(title, message string, fields map[string]string) {
	m.dispatch(LevelWarning, title, message, fields)
}

// Critical sends a critical alert
func (m *Manager) Critical(title, message string, fields map[string]string) {
	m.dispatch(LevelCritical, title, message, fields)
}

func (m *Manager) dispatch(level Level, title, message string, fields map[string]string) {
	payload := Payload{
		Level:     level,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
		Fields:    fields,
	}

	m.mu.RLock()
	channels := make([]Channel, len(m.channels))
	copy(channels, m.channels)
	m.mu.RUnlock()

	for _, ch := range channels {
		ch := ch
		err := m.pool.Submit(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := ch.Send(ctx, payload); err != nil {
				m.logger.Error("Failed to send alert",
					"channel", ch.Name(),
					"title", title,
					"error", err)
			}
		})
		if err != nil {
			m.logger.Warn("Alert dropped, dispatch pool full",
				"channel", ch.Name(),
				"title", title)
		}
	}
}

// Stop drains in-flight deliveries
func (m *Manager) Stop() {
	m.pool.Stop()
}

var _ core.INotifier = (*Manager)(nil)
