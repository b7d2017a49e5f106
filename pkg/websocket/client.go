// Package websocket provides a reusable WebSocket client with automatic reconnection
package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dca_trader/internal/core"
	apperrors "dca_trader/pkg/errors"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
)

// MessageHandler handles incoming WebSocket messages
type MessageHandler func(message []byte)

// Client is a resilient WebSocket client. Reconnection is attempted with
// exponential backoff up to maxAttempts consecutive failures; exhausting the
// budget stops the client and reports through OnExhausted.
type Client struct {
	url     string
	handler MessageHandler

	backoff     *backoff.Backoff
	maxAttempts int
	onExhausted func(err error)
	onReconnect func()

	conn *websocket.Conn
	mu   sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	onConnected func() // Callback when connected (useful for subscriptions)

	pingInterval time.Duration
	pingWait     time.Duration
	pongWait     time.Duration

	logger core.ILogger
}

// NewClient creates a new WebSocket client
func NewClient(url string, handler MessageHandler, logger core.ILogger) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		url:     url,
		handler: handler,
		backoff: &backoff.Backoff{
			Min:    1 * time.Second,
			Max:    60 * time.Second,
			Factor: 2,
			Jitter: true,
		},
		maxAttempts:  10,
		pingInterval: 30 * time.Second,
		pingWait:     10 * time.Second,
		pongWait:     60 * time.Second,
		ctx:          ctx,
		cancel:       cancel,
		logger:       logger,
	}
}

// SetPingConfig sets the ping/pong configuration
func (c *Client) SetPingConfig(interval, wait, pongWait time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingInterval = interval
	c.pingWait = wait
	c.pongWait = pongWait
}

// SetMaxAttempts bounds the number of consecutive failed reconnects
func (c *Client) SetMaxAttempts(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > 0 {
		c.maxAttempts = n
	}
}

// SetOnConnected sets the callback for when the connection is established
func (c *Client) SetOnConnected(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnected = cb
}

// SetOnExhausted sets the callback invoked when the reconnect budget is spent
func (c *Client) SetOnExhausted(cb func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onExhausted = cb
}

// SetOnReconnect sets the callback invoked before each reconnect attempt
func (c *Client) SetOnReconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReconnect = cb
}

// Send sends a message over the WebSocket
func (c *Client) Send(message interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("websocket not connected")
	}

	return c.conn.WriteJSON(message)
}

// Start connects and begins listening for messages
func (c *Client) Start() {
	c.wg.Add(1)
	go c.runLoop()
}

// Stop closes the connection and stops the loop
func (c *Client) Stop() {
	c.cancel()

	// Wait for all goroutines to exit (with timeout)
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		// All goroutines exited cleanly
	case <-time.After(5 * time.Second):
		if c.logger != nil {
			c.logger.Warn("WebSocket client Stop: some goroutines did not exit within timeout")
		}
	}

	c.closeConn()
}

func (c *Client) runLoop() {
	defer c.wg.Done()

	failures := 0
	var lastErr error

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			if failures > 0 {
				c.mu.Lock()
				onReconnect := c.onReconnect
				c.mu.Unlock()
				if onReconnect != nil {
					onReconnect()
				}
			}

			if err := c.connect(); err != nil {
				failures++
				lastErr = err
				if c.logger != nil {
					c.logger.Error("WebSocket connect failed",
						"url", c.url,
						"error", err,
						"attempt", failures)
				}
				if failures >= c.maxAttempts {
					c.reportExhausted(lastErr)
					return
				}
				select {
				case <-c.ctx.Done():
					return
				case <-time.After(c.backoff.Duration()):
				}
				continue
			}

			failures = 0
			c.backoff.Reset()

			c.mu.Lock()
			onConnected := c.onConnected
			pingInterval := c.pingInterval
			c.mu.Unlock()

			if onConnected != nil {
				onConnected()
			}

			// Start heartbeat if interval > 0
			heartbeatCtx, heartbeatCancel := context.WithCancel(c.ctx)
			if pingInterval > 0 {
				c.wg.Add(1)
				go c.heartbeat(heartbeatCtx)
			}

			c.readLoop()
			heartbeatCancel()

			// If readLoop returns, connection was lost
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(c.backoff.Duration()):
			}
		}
	}
}

func (c *Client) reportExhausted(lastErr error) {
	c.mu.Lock()
	onExhausted := c.onExhausted
	c.mu.Unlock()

	err := fmt.Errorf("%w: %s: %v", apperrors.ErrFeedExhausted, c.url, lastErr)
	if c.logger != nil {
		c.logger.Error("WebSocket reconnect budget exhausted", "url", c.url, "error", lastErr)
	}
	if onExhausted != nil {
		onExhausted(err)
	}
}

func (c *Client) heartbeat(ctx context.Context) {
	defer c.wg.Done()
	c.mu.Lock()
	interval := c.pingInterval
	wait := c.pingWait
	c.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()

			if conn == nil {
				return
			}

			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(wait)); err != nil {
				// If ping fails, close connection to trigger reconnect
				c.closeConn()
				return
			}
		}
	}
}

func (c *Client) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return err
	}

	// Set pong handler
	conn.SetReadDeadline(time.Now().Add(c.pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	c.conn = conn
	return nil
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) readLoop() {
	defer c.closeConn()

	// Capture the connection once under the lock; heartbeat and Stop may nil
	// out c.conn concurrently. Closing the captured conn unblocks ReadMessage.
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			_, message, err := conn.ReadMessage()
			if err != nil {
				return
			}

			if c.handler != nil {
				c.handler(message)
			}
		}
	}
}
