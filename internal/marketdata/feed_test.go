package marketdata

import (
	"testing"
	"time"

	"dca_trader/internal/core"
)

type nopLogger struct{}

func (nopLogger) Debug(msg string, f ...interface{})                 {}
func (nopLogger) Info(msg string, f ...interface{})                  {}
func (nopLogger) Warn(msg string, f ...interface{})                  {}
func (nopLogger) Error(msg string, f ...interface{})                 {}
func (nopLogger) Fatal(msg string, f ...interface{})                 {}
func (n nopLogger) WithField(k string, v interface{}) core.ILogger   { return n }
func (n nopLogger) WithFields(f map[string]interface{}) core.ILogger { return n }

func TestWebSocketFeed_HandleMessage(t *testing.T) {
	f := NewWebSocketFeed("", "1m", 5, nopLogger{})
	sub := &wsSubscription{ch: make(chan core.Candle, 10)}

	closedBar := []byte(`{"stream":"btcusdt@kline_1m","data":{"e":"kline","s":"BTCUSDT",` +
		`"k":{"t":1717200000000,"o":"100.5","c":"101.2","h":"102.0","l":"99.8","v":"12.5","x":true}}}`)
	openBar := []byte(`{"stream":"btcusdt@kline_1m","data":{"e":"kline","s":"BTCUSDT",` +
		`"k":{"t":1717200060000,"o":"101.2","c":"101.5","h":"101.9","l":"101.0","v":"3.1","x":false}}}`)

	f.handleMessage("BTCUSDT", sub, openBar, nopLogger{})
	if len(sub.ch) != 0 {
		t.Fatal("Open bar should not be emitted")
	}

	f.handleMessage("BTCUSDT", sub, closedBar, nopLogger{})
	if len(sub.ch) != 1 {
		t.Fatal("Closed bar should be emitted")
	}

	c := <-sub.ch
	if c.Symbol != "BTCUSDT" {
		t.Errorf("Expected symbol BTCUSDT, got %s", c.Symbol)
	}
	if c.Close.String() != "101.2" {
		t.Errorf("Expected close 101.2, got %s", c.Close)
	}
	if !c.OpenTime.Equal(time.UnixMilli(1717200000000)) {
		t.Errorf("Unexpected open time %v", c.OpenTime)
	}
	if !c.Closed {
		t.Error("Emitted candle should be marked closed")
	}
}

func TestWebSocketFeed_DedupesByOpenTime(t *testing.T) {
	f := NewWebSocketFeed("", "1m", 5, nopLogger{})
	sub := &wsSubscription{ch: make(chan core.Candle, 10)}

	bar := []byte(`{"stream":"btcusdt@kline_1m","data":{"e":"kline","s":"BTCUSDT",` +
		`"k":{"t":1717200000000,"o":"100","c":"101","h":"102","l":"99","v":"1","x":true}}}`)

	f.handleMessage("BTCUSDT", sub, bar, nopLogger{})
	f.handleMessage("BTCUSDT", sub, bar, nopLogger{})

	if len(sub.ch) != 1 {
		t.Fatalf("Duplicate open time should be dropped, got %d candles", len(sub.ch))
	}
}

func TestWebSocketFeed_MalformedMessageIgnored(t *testing.T) {
	f := NewWebSocketFeed("", "1m", 5, nopLogger{})
	sub := &wsSubscription{ch: make(chan core.Candle, 10)}

	f.handleMessage("BTCUSDT", sub, []byte(`not json`), nopLogger{})
	f.handleMessage("BTCUSDT", sub, []byte(`{"stream":"x","data":{"e":"kline","k":{"t":1,"o":"bad","c":"1","h":"1","l":"1","v":"1","x":true}}}`), nopLogger{})

	if len(sub.ch) != 0 {
		t.Error("Malformed messages should not emit candles")
	}
}

func TestWebSocketFeed_UnparsableBarRemainsEligible(t *testing.T) {
	f := NewWebSocketFeed("", "1m", 5, nopLogger{})
	sub := &wsSubscription{ch: make(chan core.Candle, 10)}

	badBar := []byte(`{"stream":"btcusdt@kline_1m","data":{"e":"kline","s":"BTCUSDT",` +
		`"k":{"t":1717200000000,"o":"bad","c":"101","h":"102","l":"99","v":"1","x":true}}}`)
	goodBar := []byte(`{"stream":"btcusdt@kline_1m","data":{"e":"kline","s":"BTCUSDT",` +
		`"k":{"t":1717200000000,"o":"100","c":"101","h":"102","l":"99","v":"1","x":true}}}`)

	f.handleMessage("BTCUSDT", sub, badBar, nopLogger{})
	if len(sub.ch) != 0 {
		t.Fatal("Unparsable bar must not be emitted")
	}

	// A retransmission of the same bar with valid values must still go out
	f.handleMessage("BTCUSDT", sub, goodBar, nopLogger{})
	if len(sub.ch) != 1 {
		t.Fatalf("Retransmitted bar should be emitted, got %d candles", len(sub.ch))
	}
}

func TestWebSocketFeed_FailClosesChannel(t *testing.T) {
	sub := &wsSubscription{ch: make(chan core.Candle, 1)}

	sub.fail(errFake)

	if _, ok := <-sub.ch; ok {
		t.Error("Channel should be closed after fail")
	}
	sub.fail(errFake) // must be safe to call twice
}

var errFake = &fakeError{}

type fakeError struct{}

func (*fakeError) Error() string { return "fake" }
