package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"dca_trader/internal/core"
	"dca_trader/pkg/telemetry"
	"dca_trader/pkg/websocket"

	"github.com/shopspring/decimal"
)

const defaultStreamBaseURL = "wss://stream.binance.com:9443"

// candleChanSize bounds the per-symbol delivery channel. A slow consumer
// drops the newest bar rather than blocking the read loop.
const candleChanSize = 100

// WebSocketFeed streams completed kline bars over the exchange combined
// stream, one connection per symbol. Reconnects are bounded; exhausting the
// budget closes the symbol's channel and records the error.
type WebSocketFeed struct {
	baseURL     string
	interval    string
	maxAttempts int
	logger      core.ILogger

	mu   sync.Mutex
	subs map[string]*wsSubscription
}

type wsSubscription struct {
	client   *websocket.Client
	ch       chan core.Candle
	mu       sync.Mutex
	lastOpen time.Time
	err      error
	closed   bool
}

func (s *wsSubscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.err = err
	s.closed = true
	close(s.ch)
}

func (s *wsSubscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// NewWebSocketFeed creates a websocket-backed market feed
func NewWebSocketFeed(baseURL, interval string, maxAttempts int, logger core.ILogger) *WebSocketFeed {
	if baseURL == "" {
		baseURL = defaultStreamBaseURL
	}
	return &WebSocketFeed{
		baseURL:     baseURL,
		interval:    interval,
		maxAttempts: maxAttempts,
		logger:      logger.WithField("component", "ws_feed"),
		subs:        make(map[string]*wsSubscription),
	}
}

// Subscribe starts a kline stream for the symbol and returns its candle channel
func (f *WebSocketFeed) Subscribe(ctx context.Context, symbol string) (<-chan core.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.subs[symbol]; exists {
		return nil, fmt.Errorf("already subscribed to %s", symbol)
	}

	sub := &wsSubscription{
		ch: make(chan core.Candle, candleChanSize),
	}

	url := fmt.Sprintf("%s/stream?streams=%s@kline_%s",
		f.baseURL, strings.ToLower(symbol), f.interval)

	logger := f.logger.WithField("symbol", symbol)
	client := websocket.NewClient(url, func(message []byte) {
		f.handleMessage(symbol, sub, message, logger)
	}, logger)
	client.SetMaxAttempts(f.maxAttempts)
	client.SetOnReconnect(func() {
		telemetry.GetGlobalMetrics().IncFeedReconnect(symbol)
	})
	client.SetOnExhausted(func(err error) {
		sub.fail(err)
	})
	sub.client = client

	f.subs[symbol] = sub
	client.Start()

	go func() {
		<-ctx.Done()
		client.Stop()
		sub.close()
	}()

	logger.Info("Subscribed to kline stream", "url", url)
	return sub.ch, nil
}

// Err returns the terminal error for a symbol's stream, if any
func (f *WebSocketFeed) Err(symbol string) error {
	f.mu.Lock()
	sub, ok := f.subs[symbol]
	f.mu.Unlock()
	if !ok {
		return nil
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.err
}

// Stop closes all streams
func (f *WebSocketFeed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		sub.client.Stop()
		sub.close()
	}
	f.subs = make(map[string]*wsSubscription)
}

// Combined stream payload: {"stream":"btcusdt@kline_1m","data":{...}}
type wsCombinedEvent struct {
	Stream string       `json:"stream"`
	Data   wsKlineEvent `json:"data"`
}

type wsKlineEvent struct {
	EventType string  `json:"e"`
	Symbol    string  `json:"s"`
	Kline     wsKline `json:"k"`
}

type wsKline struct {
	OpenTime int64  `json:"t"`
	Open     string `json:"o"`
	Close    string `json:"c"`
	High     string `json:"h"`
	Low      string `json:"l"`
	Volume   string `json:"v"`
	IsClosed bool   `json:"x"`
}

func (f *WebSocketFeed) handleMessage(symbol string, sub *wsSubscription, message []byte, logger core.ILogger) {
	var event wsCombinedEvent
	if err := json.Unmarshal(message, &event); err != nil {
		logger.Warn("Failed to parse kline message", "error", err)
		return
	}

	k := event.Data.Kline
	if event.Data.EventType != "kline" || !k.IsClosed {
		return
	}

	openTime := time.UnixMilli(k.OpenTime)

	// Parse before recording the open time: a bar that fails parsing must
	// stay eligible for a later, well-formed retransmission.
	candle, err := parseCandle(symbol, openTime, k)
	if err != nil {
		logger.Warn("Failed to parse candle values", "error", err)
		return
	}

	sub.mu.Lock()
	if sub.closed || !openTime.After(sub.lastOpen) {
		sub.mu.Unlock()
		return
	}
	sub.lastOpen = openTime
	sub.mu.Unlock()

	select {
	case sub.ch <- candle:
	default:
		logger.Warn("Candle channel full, dropping bar", "open_time", openTime)
	}
}

func parseCandle(symbol string, openTime time.Time, k wsKline) (core.Candle, error) {
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
	cls, err := decimal.NewFromString(k.Close)
	if err != nil {
		return core.Candle{}, err
	}
	volume, err := decimal.NewFromString(k.Volume)
	if err != nil {
		return core.Candle{}, err
	}

	return core.Candle{
		Symbol:   symbol,
		OpenTime: openTime,
		Open:     open,
		High:     high,
		Low:      low,
		Close:    cls,
		Volume:   volume,
		Closed:   true,
	}, nil
}
