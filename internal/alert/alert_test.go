package alert

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"dca_trader/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Debug(msg string, f ...interface{})                 {}
func (nopLogger) Info(msg string, f ...interface{})                  {}
func (nopLogger) Warn(msg string, f ...interface{})                  {}
func (nopLogger) Error(msg string, f ...interface{})                 {}
func (nopLogger) Fatal(msg string, f ...interface{})                 {}
func (n nopLogger) WithField(k string, v interface{}) core.ILogger   { return n }
func (n nopLogger) WithFields(f map[string]interface{}) core.ILogger { return n }

type recordingChannel struct {
	mu       sync.Mutex
	received []Payload
}

func (r *recordingChannel) Name() string { return "recording" }

func (r *recordingChannel) Send(ctx context.Context, alert Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received = append(r.received, alert)
	return nil
}

func (r *recordingChannel) payloads() []Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Payload, len(r.received))
	copy(out, r.received)
	return out
}

func TestManager_DispatchesToAllChannels(t *testing.T) {
	m := NewManager(nopLogger{})
	a := &recordingChannel{}
	b := &recordingChannel{}
	m.AddChannel(a)
	m.AddChannel(b)

	m.Warn("Test", "something happened", map[string]string{"symbol": "BTCUSDT"})
	m.Stop()

	require.Len(t, a.payloads(), 1)
	require.Len(t, b.payloads(), 1)
	got := a.payloads()[0]
	assert.Equal(t, LevelWarning, got.Level)
	assert.Equal(t, "Test", got.Title)
	assert.Equal(t, "BTCUSDT", got.Fields["symbol"])
}

func TestManager_Levels(t *testing.T) {
	m := NewManager(nopLogger{})
	ch := &recordingChannel{}
	m.AddChannel(ch)

	m.Info("i", "", nil)
	m.Warn("w", "", nil)
	m.Critical("c", "", nil)
	m.Stop()

	got := ch.payloads()
	require.Len(t, got, 3)
	levels := map[Level]bool{}
	for _, p := range got {
		levels[p.Level] = true
	}
	assert.True(t, levels[LevelInfo] && levels[LevelWarning] && levels[LevelCritical])
}

func TestManager_NoChannelsIsNoOp(t *testing.T) {
	m := NewManager(nopLogger{})
	m.Critical("nobody listening", "", nil)
	m.Stop()
}

func TestTelegramChannel_SkipsWithoutCredentials(t *testing.T) {
	ch := NewTelegramChannel("", "")
	err := ch.Send(context.Background(), Payload{Level: LevelInfo, Title: "t"})
	assert.NoError(t, err, "unconfigured channel must be silent")
}

func TestSlackChannel_SendsAttachment(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewSlackChannel(srv.URL)
	err := ch.Send(context.Background(), Payload{
		Level:     LevelCritical,
		Title:     "Engine failure",
		Message:   "BTCUSDT engine stopped",
		Timestamp: time.Now(),
		Fields:    map[string]string{"symbol": "BTCUSDT"},
	})
	require.NoError(t, err)

	var payload struct {
		Attachments []struct {
			Pretext string `json:"pretext"`
			Text    string `json:"text"`
		} `json:"attachments"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	require.Len(t, payload.Attachments, 1)
	assert.Contains(t, payload.Attachments[0].Pretext, "CRITICAL")
	assert.Contains(t, payload.Attachments[0].Text, "BTCUSDT")
}

func TestPayload_OrderedFields(t *testing.T) {
	p := Payload{Fields: map[string]string{
		"strategy": "rsi",
		"pnl":      "12.5",
		"quantity": "0.5",
		"symbol":   "ETHUSDT",
	}}

	got := p.OrderedFields()
	require.Len(t, got, 4)
	// Trading attributes first in fixed order, the rest alphabetically
	assert.Equal(t, "symbol", got[0].Key)
	assert.Equal(t, "quantity", got[1].Key)
	assert.Equal(t, "pnl", got[2].Key)
	assert.Equal(t, "strategy", got[3].Key)
}

func TestSlackChannel_RendersTradeFields(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewSlackChannel(srv.URL)
	err := ch.Send(context.Background(), Payload{
		Level:     LevelWarning,
		Title:     "Exit tier filled",
		Message:   "tier 1 sold",
		Timestamp: time.Now(),
		Fields: map[string]string{
			"pnl":      "12.5",
			"quantity": "0.5",
			"symbol":   "ETHUSDT",
		},
	})
	require.NoError(t, err)

	var payload struct {
		Attachments []struct {
			Pretext string `json:"pretext"`
			Fields  []struct {
				Title string `json:"title"`
				Value string `json:"value"`
			} `json:"fields"`
		} `json:"attachments"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	require.Len(t, payload.Attachments, 1)

	att := payload.Attachments[0]
	assert.Contains(t, att.Pretext, "ETHUSDT", "symbol belongs in the headline")
	require.Len(t, att.Fields, 2, "symbol must not repeat as a field")
	assert.Equal(t, "Quantity", att.Fields[0].Title)
	assert.Equal(t, "0.5", att.Fields[0].Value)
	assert.Equal(t, "PnL", att.Fields[1].Title)
	assert.Equal(t, "12.5", att.Fields[1].Value)
}

func TestSlackChannel_ReportsHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ch := NewSlackChannel(srv.URL)
	err := ch.Send(context.Background(), Payload{Level: LevelInfo, Title: "t"})
	assert.Error(t, err)
}
