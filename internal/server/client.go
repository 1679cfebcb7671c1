package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/Tyrowin/palmchat/internal/chat"
	"github.com/Tyrowin/palmchat/internal/config"
	"github.com/Tyrowin/palmchat/internal/metrics"
	"github.com/Tyrowin/palmchat/internal/registry"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// SessionConfig holds the per-connection limits.
type SessionConfig struct {
	MaxMessageSize  int64
	QueueSize       int
	WriteTimeout    time.Duration
	PongTimeout     time.Duration
	PingPeriod      time.Duration
	RateLimitBurst  int
	RateLimitRefill time.Duration
}

// SessionConfigFrom extracts the session limits from the server config.
func SessionConfigFrom(cfg config.Config) SessionConfig {
	return SessionConfig{
		MaxMessageSize:  int64(cfg.MaxMessageSize),
		QueueSize:       cfg.OutboundQueueSize,
		WriteTimeout:    cfg.WriteTimeout,
		PongTimeout:     cfg.PongTimeout,
		PingPeriod:      cfg.PingPeriod(),
		RateLimitBurst:  cfg.RateLimitBurst,
		RateLimitRefill: cfg.RateLimitRefill,
	}
}

func (s SessionConfig) withDefaults() SessionConfig {
	d := SessionConfigFrom(config.Default())
	if s.MaxMessageSize <= 0 {
		s.MaxMessageSize = d.MaxMessageSize
	}
	if s.QueueSize <= 0 {
		s.QueueSize = d.QueueSize
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = d.WriteTimeout
	}
	if s.PongTimeout <= 0 {
		s.PongTimeout = d.PongTimeout
	}
	if s.PingPeriod <= 0 || s.PingPeriod >= s.PongTimeout {
		s.PingPeriod = s.PongTimeout * 9 / 10
	}
	if s.RateLimitBurst <= 0 {
		s.RateLimitBurst = d.RateLimitBurst
	}
	if s.RateLimitRefill <= 0 {
		s.RateLimitRefill = d.RateLimitRefill
	}
	return s
}

// MessageSender is the persist-then-publish path a session calls for every
// inbound sendMessage.
type MessageSender interface {
	Send(ctx context.Context, who chat.Identity, req chat.SendMessage) (chat.MessageView, error)
}

// Client is one WebSocket session. The hub owns send and token; the pumps
// own conn.
type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	hub      *Hub
	sender   MessageSender
	log      *slog.Logger
	addr     string
	identity chat.Identity
	token    registry.Token
	limiter  *rate.Limiter
	cfg      SessionConfig
}

// NewClient prepares a session for registration with hub. conn may be nil
// for a client whose queue is drained by the caller.
func NewClient(conn *websocket.Conn, hub *Hub, sender MessageSender, who chat.Identity, addr string, cfg SessionConfig) *Client {
	cfg = cfg.withDefaults()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		conn:     conn,
		send:     make(chan []byte, cfg.QueueSize),
		hub:      hub,
		sender:   sender,
		log:      hub.log.With("addr", addr),
		addr:     addr,
		identity: who,
		limiter:  rate.NewLimiter(rate.Every(cfg.RateLimitRefill), cfg.RateLimitBurst),
		cfg:      cfg,
	}
}

// Send exposes the outbound queue for clients without a connection.
func (c *Client) Send() <-chan []byte {
	return c.send
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout)); err != nil {
		c.log.Warn("error setting initial read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout)); err != nil {
			c.log.Warn("error setting read deadline in pong handler", "error", err)
		}
		return nil
	})
}

// handleReadError logs err at a level matching how expected it is.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("message exceeded maximum size", "limit", c.cfg.MaxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Info("client disconnected", "reason", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Info("client connection closed", "reason", err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.log.Warn("unexpected websocket close", "error", err)
	default:
		c.log.Warn("websocket read error", "error", err)
	}
}

// reply sends an error frame to this session only.
func (c *Client) reply(message string) {
	if err := c.hub.SendTo(c, chat.ErrorEvent(message)); err != nil {
		c.log.Debug("error reply dropped", "error", err)
	}
}

// processMessage runs one inbound frame through the send path. Failures
// are reported to this session only.
func (c *Client) processMessage(raw []byte) {
	if !c.limiter.Allow() {
		metrics.SendFailures.WithLabelValues("rate_limited").Inc()
		c.log.Warn("rate limit exceeded, discarding message", "burst", c.cfg.RateLimitBurst, "refill", c.cfg.RateLimitRefill)
		c.reply("rate limit exceeded, slow down")
		return
	}

	req, err := chat.DecodeInbound(raw)
	if err != nil {
		metrics.SendFailures.WithLabelValues("invalid").Inc()
		c.log.Debug("invalid inbound frame", "error", err)
		c.reply(chat.PublicMessage(err))
		return
	}

	view, err := c.sender.Send(c.hub.ctx, c.identity, req)
	switch {
	case err == nil:
		c.log.Debug("message sent", "message_id", view.ID, "user", c.identity.Username)
	case errors.Is(err, chat.ErrDelivery):
		// Stored but not broadcast; the hub is going away.
		c.log.Warn("message stored but not delivered", "message_id", view.ID, "error", err)
	default:
		metrics.SendFailures.WithLabelValues(failureReason(err)).Inc()
		c.log.Info("send rejected", "user", c.identity.Username, "error", err)
		c.reply(chat.PublicMessage(err))
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, chat.ErrValidation):
		return "invalid"
	case errors.Is(err, chat.ErrAuthorization):
		return "unauthorized"
	case errors.Is(err, chat.ErrStorage):
		return "storage"
	default:
		return "other"
	}
}

// readPump always hands the client back to the hub on exit, whatever
// ended the loop.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn("error closing connection in readPump", "error", err)
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		c.processMessage(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when
// the pump should stop.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("error closing connection in writePump", "error", err)
	}
}

// handleMessage writes one event per frame. A closed queue means the hub
// dropped this client.
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		c.log.Warn("error setting write deadline", "error", err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("error writing message", "error", err)
		}
		return false
	}
	return true
}

func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
		c.log.Debug("error writing close message", "error", err)
	}
	return false
}

func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		c.log.Warn("error setting write deadline for ping", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Warn("error writing ping", "error", err)
		return false
	}
	return true
}
