package websocket

import (
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"bidsession/internal/domain"
	"bidsession/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

type Config struct {
	URL               string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	HandshakeTimeout  time.Duration
}

func DefaultConfig(url string) Config {
	return Config{
		URL:               url,
		ReconnectAttempts: 5,
		ReconnectDelay:    3 * time.Second,
		HandshakeTimeout:  10 * time.Second,
	}
}

// Client owns the single live connection to the auction backend. Every
// decoded frame goes to one MessageSink in arrival order; subscriber
// fan-out happens above, in the dispatcher, so registrations made before
// the first Connect are never lost.
type Client struct {
	cfg   Config
	sink  domain.MessageSink
	clock clockwork.Clock
	log   logger.Logger

	mutex      sync.Mutex
	conn       *websocket.Conn
	status     domain.ConnStatus
	retryCount int
	generation int // bumped on dial success and explicit disconnect
}

func NewClient(cfg Config, sink domain.MessageSink, clock clockwork.Clock, log logger.Logger) *Client {
	return &Client{
		cfg:    cfg,
		sink:   sink,
		clock:  clock,
		log:    log,
		status: domain.Disconnected,
	}
}

// Connect dials the backend with the token as a connection-time query
// parameter. Idempotent: a second call while connected or connecting
// logs and returns. On dial failure the bounded reconnect loop takes
// over in the background and the first error is returned for logging.
func (c *Client) Connect(token string) error {
	c.mutex.Lock()
	switch c.status {
	case domain.Connected:
		c.mutex.Unlock()
		c.log.Info("Socket already connected, reusing connection")
		return nil
	case domain.Connecting:
		c.mutex.Unlock()
		c.log.Info("Connection attempt already in progress")
		return nil
	}
	c.retryCount = 0
	c.status = domain.Connecting
	generation := c.generation
	c.mutex.Unlock()

	if err := c.dial(token, generation); err != nil {
		c.log.Error("Socket connect failed", "error", err)
		c.mutex.Lock()
		if c.generation == generation && c.status == domain.Connecting {
			c.status = domain.Disconnected
		}
		c.mutex.Unlock()
		go c.reconnectLoop(token, generation)
		return err
	}
	return nil
}

// Disconnect tears the transport down and stops any reconnect loop.
// Idempotent.
func (c *Client) Disconnect() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.generation++
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.log.Warn("Error closing socket", "error", err)
		}
		c.conn = nil
	}
	c.status = domain.Disconnected
	c.retryCount = 0
	c.log.Info("Socket disconnected")
}

// IsConnected is a point-in-time snapshot; the status can change
// asynchronously between a read and a subsequent Emit.
func (c *Client) IsConnected() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.status == domain.Connected
}

func (c *Client) Status() domain.ConnStatus {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.status
}

// Emit sends an event frame. When disconnected it logs a warning and
// drops the payload; callers pre-check IsConnected or tolerate the drop.
func (c *Client) Emit(event string, payload interface{}) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.status != domain.Connected || c.conn == nil {
		c.log.Warn("Emit dropped, socket not connected", "event", event)
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := c.conn.WriteJSON(domain.Envelope{Event: event, Data: data}); err != nil {
		c.log.Error("Emit failed", "event", event, "error", err)
		return err
	}
	return nil
}

// dial performs one handshake. The transport is only installed if no
// Disconnect or newer connection superseded this attempt while the
// handshake was in flight.
func (c *Client) dial(token string, generation int) error {
	endpoint, err := url.Parse(c.cfg.URL)
	if err != nil {
		return err
	}
	query := endpoint.Query()
	query.Set("token", token)
	endpoint.RawQuery = query.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.Dial(endpoint.String(), nil)
	if err != nil {
		return err
	}

	c.mutex.Lock()
	if c.generation != generation {
		c.mutex.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.status = domain.Connected
	c.retryCount = 0
	c.generation++
	current := c.generation
	c.mutex.Unlock()

	c.log.Info("Socket connected", "url", c.cfg.URL)
	go c.readPump(conn, current, token)
	return nil
}

// readPump is the single reader for one physical connection. It exits
// on the first read error; if this connection is still the current one
// the bounded reconnect loop is started.
func (c *Client) readPump(conn *websocket.Conn, generation int, token string) {
	for {
		var envelope domain.Envelope
		if err := conn.ReadJSON(&envelope); err != nil {
			c.mutex.Lock()
			if c.generation != generation {
				// Replaced or explicitly disconnected; nothing to do.
				c.mutex.Unlock()
				return
			}
			c.conn = nil
			c.status = domain.Disconnected
			c.mutex.Unlock()

			c.log.Warn("Socket read failed, will retry", "error", err)
			go c.reconnectLoop(token, generation)
			return
		}

		if envelope.Event == "" {
			continue
		}
		c.sink.HandleMessage(envelope.Event, envelope.Data)
	}
}

// reconnectLoop redials with the same token, a fixed delay apart, up to
// the configured attempt count. Once exhausted the client stays
// disconnected until the next explicit Connect.
func (c *Client) reconnectLoop(token string, generation int) {
	for {
		c.mutex.Lock()
		if c.generation != generation || c.status != domain.Disconnected {
			c.mutex.Unlock()
			return
		}
		if c.retryCount >= c.cfg.ReconnectAttempts {
			c.mutex.Unlock()
			c.log.Error("Reconnect attempts exhausted", "attempts", c.cfg.ReconnectAttempts)
			return
		}
		c.retryCount++
		attempt := c.retryCount
		c.mutex.Unlock()

		c.clock.Sleep(c.cfg.ReconnectDelay)

		c.mutex.Lock()
		if c.generation != generation || c.status != domain.Disconnected {
			c.mutex.Unlock()
			return
		}
		c.status = domain.Connecting
		c.mutex.Unlock()

		err := c.dial(token, generation)
		if err == nil {
			return
		}
		c.log.Warn("Reconnect attempt failed", "attempt", attempt, "error", err)
		c.mutex.Lock()
		c.status = domain.Disconnected
		c.mutex.Unlock()
	}
}
