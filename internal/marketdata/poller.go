package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dca_trader/internal/core"
)

// PollingFeed emits completed bars by polling the exchange REST candle
// endpoint on a fixed interval. It is the delivery path for venues without
// push streams and the fallback when websockets are unavailable.
type PollingFeed struct {
	exchange core.IExchange
	interval string
	pollWait time.Duration
	logger   core.ILogger

	mu   sync.Mutex
	subs map[string]*pollSubscription
}

type pollSubscription struct {
	ch       chan core.Candle
	lastOpen time.Time
}

// NewPollingFeed creates a poll-based market feed
func NewPollingFeed(exchange core.IExchange, interval string, pollWait time.Duration, logger core.ILogger) *PollingFeed {
	if pollWait <= 0 {
		pollWait = 5 * time.Second
	}
	return &PollingFeed{
		exchange: exchange,
		interval: interval,
		pollWait: pollWait,
		logger:   logger.WithField("component", "poll_feed"),
		subs:     make(map[string]*pollSubscription),
	}
}

// Subscribe starts polling for the symbol and returns its candle channel
func (f *PollingFeed) Subscribe(ctx context.Context, symbol string) (<-chan core.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.subs[symbol]; exists {
		return nil, fmt.Errorf("already subscribed to %s", symbol)
	}

	sub := &pollSubscription{
		ch: make(chan core.Candle, candleChanSize),
	}
	f.subs[symbol] = sub

	go f.pollLoop(ctx, symbol, sub)

	return sub.ch, nil
}

func (f *PollingFeed) pollLoop(ctx context.Context, symbol string, sub *pollSubscription) {
	logger := f.logger.WithField("symbol", symbol)
	ticker := time.NewTicker(f.pollWait)
	defer ticker.Stop()
	defer close(sub.ch)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Fetch the last two bars: the most recent one may still be open
			candles, err := f.exchange.GetCandles(ctx, symbol, f.interval, 2)
			if err != nil {
				logger.Warn("Candle poll failed", "error", err)
				continue
			}

			for _, c := range candles {
				if !c.Closed || !c.OpenTime.After(sub.lastOpen) {
					continue
				}
				sub.lastOpen = c.OpenTime

				select {
				case sub.ch <- c:
				default:
					logger.Warn("Candle channel full, dropping bar", "open_time", c.OpenTime)
				}
			}
		}
	}
}

// Err always returns nil: polling errors are transient and retried forever
func (f *PollingFeed) Err(symbol string) error {
	return nil
}

// Stop is a no-op beyond context cancellation; kept for interface symmetry
func (f *PollingFeed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = make(map[string]*pollSubscription)
}
