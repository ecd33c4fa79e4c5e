package server

import (
	"errors"
	"io"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/presencechat/internal/chat"
)

// Client represents a WebSocket client connection in the chat system.
// It is the chat.Sink for one session: the gateway queues frames through Send
// and the client's pumps move them onto the socket.
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	closed  *atomic.Bool
	gateway *chat.Gateway
	session *chat.Session
	addr    string
	logger  *zap.Logger

	maxMessageSize int64
	rateLimiter    *rate.Limiter
	rateLimit      RateLimitConfig
	pongWait       time.Duration
	pingPeriod     time.Duration
	writeWait      time.Duration
}

var _ chat.Sink = (*Client)(nil)

// NewClient creates a new Client for conn. The send channel is buffered to
// cfg.SendBufferSize frames; a client whose buffer is full refuses frames.
func NewClient(conn *websocket.Conn, gateway *chat.Gateway, addr string, cfg *Config, logger *zap.Logger) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		conn:           conn,
		send:           make(chan []byte, cfg.SendBufferSize),
		done:           make(chan struct{}),
		closed:         atomic.NewBool(false),
		gateway:        gateway,
		addr:           addr,
		logger:         logger.With(zap.String("remote", addr)),
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:      cfg.RateLimit,
		pongWait:       cfg.PongWait,
		pingPeriod:     cfg.PingPeriod(),
		writeWait:      cfg.WriteWait,
	}
}

// Send queues payload for the write pump without blocking.
func (c *Client) Send(payload []byte) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which sends a close frame and closes the socket.
// It is safe to call more than once and from any goroutine.
func (c *Client) Close() {
	if c.closed.CompareAndSwap(false, true) {
		close(c.done)
	}
}

// start attaches the client to the gateway and launches both pumps. onExit is
// called once per pump when it returns.
func (c *Client) start(onExit func()) {
	c.session = c.gateway.Connect(c, c.addr)
	c.logger = c.logger.With(zap.String("session_id", c.session.ID().String()))

	go func() {
		defer onExit()
		c.writePump()
	}()
	go func() {
		defer onExit()
		c.readPump()
	}()
}

// setupReadConnection configures read deadlines and the pong handler. With a
// zero pong wait the connection never times out.
func (c *Client) setupReadConnection() {
	if c.pongWait <= 0 {
		return
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(c.pongWait)); err != nil {
		c.logger.Warn("Error setting initial read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.pongWait)); err != nil {
			c.logger.Warn("Error setting read deadline in pong handler", zap.Error(err))
		}
		return nil
	})
}

// handleReadError logs the read error at a level matching its cause. Every
// read error ends the read loop.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("Message exceeded maximum size", zap.Int64("limit", c.maxMessageSize))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.logger.Debug("Client disconnected", zap.Error(err))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Debug("Client connection closed", zap.Error(err))
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.logger.Info("Unexpected WebSocket close", zap.Error(err))
	default:
		c.logger.Info("WebSocket read error", zap.Error(err))
	}
}

// checkRateLimit reports whether the next message may be processed.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.Allow() {
		c.logger.Info("Rate limit exceeded; discarding message",
			zap.Int("burst", c.rateLimit.Burst),
			zap.Duration("interval", c.rateLimit.RefillInterval))
		return false
	}
	return true
}

// processMessage decodes one frame and forwards it to the gateway. It returns
// false when the frame was discarded.
func (c *Client) processMessage(raw []byte) bool {
	cmd, err := decodeFrame(raw)
	if err != nil {
		c.logger.Info("Discarding inbound frame", zap.Error(err))
		return false
	}

	switch cmd.event {
	case chat.EventNewUser:
		c.gateway.Claim(c.session, cmd.identity)
	case chat.EventPublicMessage:
		c.gateway.PublicMessage(c.session, cmd.text)
	case chat.EventPrivateMessage:
		c.gateway.PrivateMessage(c.session, cmd.text, cmd.recipient)
	}
	return true
}

func (c *Client) readPump() {
	defer func() {
		c.gateway.Disconnect(c.session)
		c.Close()
		c.closeConnection()
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		c.processMessage(raw)
	}
}

func (c *Client) writePump() {
	var tick <-chan time.Time
	if c.pingPeriod > 0 {
		ticker := time.NewTicker(c.pingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer c.closeConnection()

	for c.processWriteEvent(tick) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(tick <-chan time.Time) bool {
	select {
	case message := <-c.send:
		return c.handleMessage(message)
	case <-c.done:
		return c.writeCloseMessage()
	case <-tick:
		return c.handlePing()
	}
}

// closeConnection closes the socket, ignoring errors from an already closed one.
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn("Error closing connection", zap.Error(err))
	}
}

// handleMessage writes one outgoing frame and returns false if the connection should be closed.
func (c *Client) handleMessage(message []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		c.logger.Warn("Error setting write deadline", zap.Error(err))
		return false
	}
	return c.writeTextMessage(message)
}

func (c *Client) writeCloseMessage() bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	err := c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil && !isExpectedCloseError(err) {
		c.logger.Debug("Error writing close message", zap.Error(err))
	}
	return false
}

// writeTextMessage writes message, then every frame already queued behind it,
// one frame per text message under the same write deadline.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		c.logger.Info("Error writing message", zap.Error(err))
		return false
	}
	return c.writeQueuedMessages()
}

func (c *Client) writeQueuedMessages() bool {
	n := len(c.send)
	for i := 0; i < n; i++ {
		if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
			c.logger.Info("Error writing queued message", zap.Error(err))
			return false
		}
	}
	return true
}

// handlePing sends a ping message to keep the connection alive.
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		c.logger.Warn("Error setting write deadline for ping", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Info("Error writing ping message", zap.Error(err))
		return false
	}
	return true
}
