package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/palmchat/internal/chat"
	"github.com/Tyrowin/palmchat/internal/metrics"
	"github.com/Tyrowin/palmchat/internal/registry"
)

// ErrHubClosed is returned when the hub no longer accepts work.
var ErrHubClosed = errors.New("hub is shut down")

var errSlowConsumer = fmt.Errorf("%w: outbound queue full", chat.ErrDelivery)

type outbound struct {
	kind    chat.EventType
	payload []byte
}

type direct struct {
	client  *Client
	payload []byte
}

// Hub owns the connection registry and every outbound queue. Registration,
// removal and fan-out all happen on the Run goroutine, so a membership
// change and its presence announcement are never interleaved with another
// broadcast.
type Hub struct {
	log        *slog.Logger
	registry   *registry.Registry[*Client]
	register   chan *Client
	unregister chan *Client
	broadcast  chan outbound
	unicast    chan direct
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

func NewHub(log *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		log:        log,
		registry:   registry.New[*Client](),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan outbound),
		unicast:    make(chan direct),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// OnlineCount is the number of registered sessions.
func (h *Hub) OnlineCount() int {
	return h.registry.Size()
}

// Register hands a new client to the hub. The hub starts its pumps and
// announces the new online count to everyone, the new client included.
func (h *Hub) Register(c *Client) error {
	select {
	case h.register <- c:
		return nil
	case <-h.ctx.Done():
		return ErrHubClosed
	}
}

// Unregister removes c. Removing a client twice is harmless.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

// Publish delivers ev to every client registered when the hub processes
// it. Publishes from one goroutine are delivered in call order.
func (h *Hub) Publish(ev chat.Event) error {
	payload, err := ev.Encode()
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- outbound{kind: ev.Type, payload: payload}:
		return nil
	case <-h.ctx.Done():
		return ErrHubClosed
	}
}

// SendTo delivers ev to c alone, under the same overflow policy as Publish.
func (h *Hub) SendTo(c *Client, ev chat.Event) error {
	payload, err := ev.Encode()
	if err != nil {
		return err
	}
	select {
	case h.unicast <- direct{client: c, payload: payload}:
		return nil
	case <-h.ctx.Done():
		return ErrHubClosed
	}
}

// Run processes hub requests until Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			h.add(client)

		case client := <-h.unregister:
			h.remove(client, "disconnected")

		case msg := <-h.broadcast:
			h.fanout(msg)

		case msg := <-h.unicast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) add(c *Client) {
	if c == nil {
		h.log.Warn("nil client registration, skipping")
		return
	}

	token, err := h.registry.Register(c, c.identity)
	if err != nil {
		h.log.Warn("client registration rejected", "addr", c.addr, "error", err)
		return
	}
	c.token = token
	h.log.Info("client registered", "addr", c.addr, "user", c.identity.Username, "clients", h.registry.Size())

	if c.conn != nil {
		h.wg.Add(2)
		go func() {
			defer h.wg.Done()
			c.writePump()
		}()
		go func() {
			defer h.wg.Done()
			c.readPump()
		}()
	}

	h.announcePresence()
}

// remove deregisters c, closes its queue and re-announces the count. Only
// the first removal of a registration has any effect.
func (h *Hub) remove(c *Client, reason string) {
	if c == nil || !h.registry.Deregister(c.token) {
		return
	}
	close(c.send)
	h.log.Info("client unregistered", "addr", c.addr, "reason", reason, "clients", h.registry.Size())
	h.announcePresence()
}

func (h *Hub) announcePresence() {
	count := h.registry.Size()
	metrics.OnlineSessions.Set(float64(count))

	ev := chat.OnlineCountChanged(count)
	payload, err := ev.Encode()
	if err != nil {
		h.log.Error("encode presence event", "error", err)
		return
	}
	h.fanout(outbound{kind: ev.Type, payload: payload})
}

// fanout enqueues msg for every registered client without blocking. A
// client whose queue is full is evicted after the pass.
func (h *Hub) fanout(msg outbound) {
	recipients := h.registry.Snapshot()
	metrics.EventsBroadcast.WithLabelValues(string(msg.kind)).Inc()
	h.log.Debug("broadcasting event", "type", msg.kind, "clients", len(recipients))

	var slow []*Client
	for _, reg := range recipients {
		if !enqueue(reg.Handle, msg.payload) {
			slow = append(slow, reg.Handle)
		}
	}
	for _, c := range slow {
		h.evict(c)
	}
}

func (h *Hub) deliver(msg direct) {
	reg, ok := h.registry.Lookup(msg.client.token)
	if !ok || reg.Handle != msg.client {
		return
	}
	if !enqueue(msg.client, msg.payload) {
		h.evict(msg.client)
	}
}

func (h *Hub) evict(c *Client) {
	metrics.SlowConsumerEvictions.Inc()
	h.log.Warn("evicting slow client", "addr", c.addr, "error", errSlowConsumer)
	h.remove(c, "slow consumer")
}

func enqueue(c *Client, payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// shutdownClients drops every registration and closes its connection. No
// presence is announced since nobody is left to hear it.
func (h *Hub) shutdownClients() {
	h.log.Info("shutting down all client connections")

	clients := h.registry.Snapshot()
	for _, reg := range clients {
		c := reg.Handle
		if !h.registry.Deregister(reg.Token) {
			continue
		}
		close(c.send)
		if c.conn != nil {
			if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
				h.log.Warn("error closing client connection", "addr", c.addr, "error", err)
			}
		}
	}
	metrics.OnlineSessions.Set(0)

	h.log.Info("closed client connections", "count", len(clients))
}

// Shutdown stops the hub and waits for every pump goroutine, or until the
// timeout expires.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timed out, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
