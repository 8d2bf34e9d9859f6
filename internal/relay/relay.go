// Package relay implements the dial-out transport: the device maintains a
// single websocket to a relay endpoint and receives commands multiplexed
// through it. The link reconnects on any failure with a flat delay until
// explicitly stopped.
package relay

import (
	"context"
	"errors"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/remotectl/remotectl/internal/dispatch"
	"github.com/remotectl/remotectl/internal/protocol"
)

// DefaultReconnectDelay is the flat wait between reconnect attempts. The
// relay endpoint is assumed stable, so there is no exponential backoff.
const DefaultReconnectDelay = 5 * time.Second

// rolePhone marks this side of the relay link as the device.
const rolePhone = "phone"

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// Status is the relay link state reported to observers.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Config holds the relay manager's configuration.
type Config struct {
	// URL is the relay endpoint (ws:// or wss://).
	URL string

	// Token is appended to the dial URL; authentication is implicit in
	// the URL, there is no separate handshake step.
	Token string

	// ReconnectDelay between attempts. Zero means DefaultReconnectDelay.
	ReconnectDelay time.Duration

	// OnStatus, when set, observes link state transitions.
	OnStatus func(Status)

	// OnEvent, when set, observes relay control events. Control events
	// are never dispatched as commands.
	OnEvent func(*protocol.Event)
}

// Client maintains at most one live connection to the relay.
type Client struct {
	config     Config
	dispatcher *dispatch.Dispatcher

	mu              sync.Mutex // guards connection state
	writeMu         sync.Mutex // serializes frame writes
	conn            *websocket.Conn
	shouldReconnect bool
	started         bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a relay client over the given dispatcher.
func New(config Config, dispatcher *dispatch.Dispatcher) *Client {
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = DefaultReconnectDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		config:     config,
		dispatcher: dispatcher,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins the connect loop. It returns immediately; connection
// progress is reported through the status observer and the log.
func (c *Client) Start() error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("relay client already started")
	}
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		return errors.New("relay client already stopped")
	}
	target, err := dialURL(c.config.URL, c.config.Token)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.started = true
	c.shouldReconnect = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.connectLoop(target)
	return nil
}

// Stop terminates the link for good: the reconnect loop exits, any
// scheduled reconnect is canceled, in-flight dispatch tasks are canceled,
// and the socket is closed if open. A second call is a no-op.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.shouldReconnect && !c.started {
		c.mu.Unlock()
		return
	}
	c.shouldReconnect = false
	c.started = false
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		_ = conn.Close()
	}
	c.wg.Wait()
	log.Printf("[Relay] stopped")
}

// IsConnected reports whether a relay socket is currently open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// connectLoop dials, serves, and re-dials until Stop. Only the explicit
// stop flag ends the loop; transient failures just schedule the next
// attempt.
func (c *Client) connectLoop(target string) {
	defer c.wg.Done()

	for c.reconnectWanted() {
		c.observe(StatusConnecting)
		log.Printf("[Relay] connecting to %s", c.config.URL)

		conn, _, err := websocket.DefaultDialer.DialContext(c.ctx, target, nil)
		if err != nil {
			log.Printf("[Relay] connect failed: %v", err)
			c.observe(StatusDisconnected)
			if !c.waitReconnect() {
				return
			}
			continue
		}

		c.mu.Lock()
		if !c.shouldReconnect {
			// Stop raced the dial; drop the fresh socket.
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.conn = conn
		c.mu.Unlock()

		c.observe(StatusConnected)
		log.Printf("[Relay] connected")

		c.serve(conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()

		c.observe(StatusDisconnected)
		log.Printf("[Relay] disconnected")

		if !c.waitReconnect() {
			return
		}
	}
}

// serve runs the read loop for one relay connection until it closes.
func (c *Client) serve(conn *websocket.Conn) {
	queue := dispatch.NewQueue(c.ctx, c.send)
	done := make(chan struct{})
	defer func() {
		close(done)
		queue.Close()
		_ = conn.Close()
	}()

	go c.keepalive(conn, done)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[Relay] read error: %v", err)
			}
			return
		}
		c.handleFrame(queue, raw)
	}
}

func (c *Client) handleFrame(queue *dispatch.Queue, raw []byte) {
	cmd, event, err := protocol.Decode(raw)
	if err != nil {
		queue.Submit(func(context.Context) protocol.Result {
			return protocol.Error("invalid JSON")
		})
		return
	}
	if event != nil {
		log.Printf("[Relay] event: %s", event.Name)
		if c.config.OnEvent != nil {
			c.config.OnEvent(event)
		}
		return
	}
	queue.Submit(func(ctx context.Context) protocol.Result {
		return c.dispatcher.Dispatch(ctx, cmd).WithID(cmd.ID)
	})
}

// send writes a result against the current connection snapshot. Outbound
// sends are best-effort: a closed socket logs a warning instead of
// raising, since the reconnect loop is already handling the failure.
func (c *Client) send(res protocol.Result) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		log.Printf("[Relay] dropping result, socket not open")
		return
	}
	if err := c.write(conn, websocket.TextMessage, protocol.Encode(res)); err != nil {
		log.Printf("[Relay] send failed: %v", err)
	}
}

func (c *Client) write(conn *websocket.Conn, messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, data)
}

func (c *Client) keepalive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.write(conn, websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-c.ctx.Done():
			return
		}
	}
}

// waitReconnect sleeps the flat delay before the next attempt. Returns
// false when Stop canceled the wait.
func (c *Client) waitReconnect() bool {
	select {
	case <-time.After(c.config.ReconnectDelay):
		return c.reconnectWanted()
	case <-c.ctx.Done():
		return false
	}
}

func (c *Client) reconnectWanted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shouldReconnect
}

func (c *Client) observe(status Status) {
	if c.config.OnStatus != nil {
		c.config.OnStatus(status)
	}
}

// dialURL composes the relay dial target with the token and role marker
// as query parameters.
func dialURL(relayURL, token string) (string, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	q.Set("role", rolePhone)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
