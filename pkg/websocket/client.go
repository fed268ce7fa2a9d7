// Package websocket provides the reconnecting stream client the exchange
// adapter uses for its live price feed. The client owns connection
// lifecycle, heartbeat, and resubscription; message framing stays with the
// handler the adapter installs.
package websocket

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"pairgrid/internal/core"
	"pairgrid/pkg/telemetry"
)

// MessageHandler receives each raw frame from the stream.
type MessageHandler func(message []byte)

// Client is a resilient stream client: it dials, subscribes, pumps frames
// into the handler, and redials (re-subscribing) whenever the connection or
// its heartbeat dies.
type Client struct {
	url           string
	handler       MessageHandler
	reconnectWait time.Duration

	conn *websocket.Conn
	mu   sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// subscribeMsg is re-sent after every successful dial, so a reconnect
	// restores the same stream the adapter asked for.
	subscribeMsg interface{}

	// lastMessage is unix nanos of the most recent frame; consumers use it
	// to decide whether the streamed price is still trustworthy.
	lastMessage atomic.Int64

	pingInterval time.Duration
	pingWait     time.Duration
	pongWait     time.Duration

	logger core.ILogger

	tracer      trace.Tracer
	msgCounter  metric.Int64Counter
	connCounter metric.Int64Counter
	latencyHist metric.Float64Histogram
}

// NewClient creates a stream client. Start must be called before any
// frames arrive.
func NewClient(url string, handler MessageHandler, logger core.ILogger) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	meter := telemetry.GetMeter("price-stream")
	msgCounter, _ := meter.Int64Counter("price_stream_messages_total",
		metric.WithDescription("Frames received on the price stream"))
	connCounter, _ := meter.Int64Counter("price_stream_connects_total",
		metric.WithDescription("Dial attempts on the price stream"))
	latencyHist, _ := meter.Float64Histogram("price_stream_handler_latency_seconds",
		metric.WithDescription("Time spent in the frame handler"))

	return &Client{
		url:           url,
		handler:       handler,
		reconnectWait: 5 * time.Second,
		pingInterval:  30 * time.Second,
		pingWait:      10 * time.Second,
		pongWait:      60 * time.Second,
		ctx:           ctx,
		cancel:        cancel,
		logger:        logger,
		tracer:        telemetry.GetTracer("price-stream"),
		msgCounter:    msgCounter,
		connCounter:   connCounter,
		latencyHist:   latencyHist,
	}
}

// SetPingConfig overrides the heartbeat cadence: ping every interval, allow
// wait for the write, and drop the connection if no pong lands within
// pongWait (other frames do not extend the read deadline).
func (c *Client) SetPingConfig(interval, wait, pongWait time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingInterval = interval
	c.pingWait = wait
	c.pongWait = pongWait
}

// SubscribeOnConnect sets the subscription payload sent after every dial.
func (c *Client) SubscribeOnConnect(msg interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribeMsg = msg
}

// LastMessageAt returns when the most recent frame arrived, zero if none
// has.
func (c *Client) LastMessageAt() time.Time {
	nanos := c.lastMessage.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// Send writes a JSON message on the current connection.
func (c *Client) Send(message interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("stream not connected")
	}
	return c.conn.WriteJSON(message)
}

// Start begins the dial/subscribe/pump loop in a background goroutine.
func (c *Client) Start() {
	c.wg.Add(1)
	go c.run()
}

// Stop tears the stream down and waits for the client's goroutines to
// exit. The connection is closed before the wait so a pump blocked in a
// read unblocks immediately.
func (c *Client) Stop() {
	c.cancel()
	c.closeConn()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		if c.logger != nil {
			c.logger.Warn("stream client stop timed out waiting for goroutines")
		}
	}
}

func (c *Client) run() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		if err := c.dial(); err != nil {
			if c.logger != nil {
				c.logger.Error("stream dial failed", "url", c.url, "error", err)
			}
			if !c.sleep(c.reconnectWait) {
				return
			}
			continue
		}

		c.subscribe()

		c.mu.Lock()
		pingInterval := c.pingInterval
		c.mu.Unlock()

		heartbeatCtx, heartbeatCancel := context.WithCancel(c.ctx)
		if pingInterval > 0 {
			c.wg.Add(1)
			go c.heartbeat(heartbeatCtx)
		}

		c.pump()
		heartbeatCancel()

		if !c.sleep(c.reconnectWait) {
			return
		}
	}
}

// sleep waits d or until the client is stopped; it reports false on stop.
func (c *Client) sleep(d time.Duration) bool {
	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (c *Client) subscribe() {
	c.mu.Lock()
	msg := c.subscribeMsg
	conn := c.conn
	c.mu.Unlock()
	if msg == nil || conn == nil {
		return
	}
	if err := conn.WriteJSON(msg); err != nil {
		if c.logger != nil {
			c.logger.Warn("stream subscribe failed, closing for redial", "error", err)
		}
		c.closeConn()
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
				// Failed ping means a dead peer; close so pump unblocks
				// and run redials.
				c.closeConn()
				return
			}
		}
	}
}

func (c *Client) dial() error {
	ctx, span := c.tracer.Start(c.ctx, "stream dial",
		trace.WithAttributes(attribute.String("ws.url", c.url)),
	)
	defer span.End()

	c.connCounter.Add(ctx, 1)

	c.mu.Lock()
	defer c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		span.RecordError(err)
		return err
	}

	conn.SetReadDeadline(time.Now().Add(c.pongWait))
	pongWait := c.pongWait
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
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

// pump reads frames until the connection dies, feeding each one through
// the handler and stamping lastMessage.
func (c *Client) pump() {
	defer c.closeConn()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		c.lastMessage.Store(time.Now().UnixNano())
		c.msgCounter.Add(c.ctx, 1)

		start := time.Now()
		if c.handler != nil {
			c.handler(message)
		}
		c.latencyHist.Record(c.ctx, time.Since(start).Seconds())
	}
}
