package signaling

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/BioHazard786/shuffle/internal/matchmaking"
	"github.com/BioHazard786/shuffle/internal/metrics"
	"github.com/BioHazard786/shuffle/internal/presence"
	"github.com/BioHazard786/shuffle/internal/protocol"
)

// Config tunes the hub.
type Config struct {
	// ReservationTTL is how long a matchmaking reservation waits for the
	// first offer before both users are released.
	ReservationTTL time.Duration

	// SendBuffer is the per-connection outbound queue length. A client whose
	// queue is full is disconnected.
	SendBuffer int
}

const (
	DefaultReservationTTL = 30 * time.Second
	DefaultSendBuffer     = 256
)

// Request is one inbound message tagged with the connection it came from.
type Request struct {
	Client  *Client
	Message *protocol.Message
}

// Hub is the central brain of the signaling server.
// It owns the presence registry and every connected client; Run is the only
// goroutine that reads or writes them.
type Hub struct {
	// Register is a channel for registering new clients.
	Register chan *Client

	// Unregister is a channel for unregistering clients.
	Unregister chan *Client

	// Inbound carries client messages to the dispatch loop.
	Inbound chan *Request

	registry *presence.Registry
	matcher  *matchmaking.Matchmaker
	clients  map[string]*Client

	expired chan string
	done    chan struct{}

	cfg     Config
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *slog.Logger

	// Work deferred to the end of the current event.
	presenceChanged bool
	slow            []*Client
}

// Option configures a Hub.
type Option func(*Hub)

// WithClock sets the clock behind reservation expiry.
func WithClock(c clock.Clock) Option {
	return func(h *Hub) { h.clock = c }
}

// WithMetrics records hub activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithLogger sets the hub logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// WithMatchmakerOptions configures the matchmaker built over the hub registry.
func WithMatchmakerOptions(opts ...matchmaking.Option) Option {
	return func(h *Hub) { h.matcher = matchmaking.New(h.registry, opts...) }
}

// NewHub creates a new Hub instance.
func NewHub(cfg Config, opts ...Option) *Hub {
	if cfg.ReservationTTL <= 0 {
		cfg.ReservationTTL = DefaultReservationTTL
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultSendBuffer
	}

	registry := presence.NewRegistry()
	h := &Hub{
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Inbound:    make(chan *Request),
		registry:   registry,
		matcher:    matchmaking.New(registry),
		clients:    make(map[string]*Client),
		expired:    make(chan string),
		done:       make(chan struct{}),
		cfg:        cfg,
		clock:      clock.New(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Run starts the hub's main processing loop. Each event is handled to
// completion before the next one is read, so registry mutations are atomic
// per event.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case client := <-h.Register:
			h.admit(client)

		case client := <-h.Unregister:
			h.remove(client)

		case req := <-h.Inbound:
			h.dispatch(req.Client, req.Message)

		case id := <-h.expired:
			h.expire(id)
		}

		h.settle()
	}
}

// submit hands a message to the loop. It reports false once the hub stopped.
func (h *Hub) submit(c *Client, msg *protocol.Message) bool {
	select {
	case h.Inbound <- &Request{Client: c, Message: msg}:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}

// settle flushes the work batched while handling one event: disconnecting
// slow consumers and broadcasting the idle list once.
func (h *Hub) settle() {
	for len(h.slow) > 0 || h.presenceChanged {
		for len(h.slow) > 0 {
			c := h.slow[0]
			h.slow = h.slow[1:]
			h.logger.Warn("disconnecting slow client", "user", c.ID)
			h.remove(c)
		}
		if h.presenceChanged {
			h.presenceChanged = false
			h.broadcastIdle()
		}
	}
	h.metrics.SetPresence(h.registry.Len(), h.registry.Sessions())
}

func (h *Hub) admit(c *Client) {
	if c.ID == "" {
		c.ID = generateHandle(h.registry.Has)
	}
	if _, err := h.registry.Admit(c.ID); err != nil {
		h.logger.Warn("rejecting client", "user", c.ID, "err", err)
		close(c.Send)
		return
	}
	h.clients[c.ID] = c
	h.metrics.Inc(metrics.EventUserAdmitted)
	h.logger.Info("user connected", "user", c.ID)

	h.send(c, &protocol.Message{Type: protocol.TypeWelcome, UserID: c.ID})
	h.presenceChanged = true
}

func (h *Hub) remove(c *Client) {
	if cur, ok := h.clients[c.ID]; !ok || cur != c {
		return
	}
	delete(h.clients, c.ID)

	if sess, ok := h.registry.Remove(c.ID); ok && sess != nil {
		partner := sess.Other(c.ID)
		h.logger.Info("partner disconnected", "user", c.ID, "partner", partner)
		h.sendTo(partner, &protocol.Message{Type: protocol.TypePartnerLeft})
	}
	close(c.Send)

	h.metrics.Inc(metrics.EventUserRemoved)
	h.logger.Info("user disconnected", "user", c.ID)
	h.presenceChanged = true
}

func (h *Hub) shutdown() {
	for id, c := range h.clients {
		close(c.Send)
		delete(h.clients, id)
	}
}

// send queues msg on c without ever blocking the loop.
func (h *Hub) send(c *Client, msg *protocol.Message) {
	select {
	case c.Send <- msg:
	default:
		h.metrics.Inc(metrics.EventSlowConsumer)
		if !containsClient(h.slow, c) {
			h.slow = append(h.slow, c)
		}
	}
}

// sendTo delivers msg to handle. A handle that is not connected is not an
// error: the message is dropped and false returned.
func (h *Hub) sendTo(handle string, msg *protocol.Message) bool {
	c, ok := h.clients[handle]
	if !ok {
		h.metrics.Inc(metrics.EventTargetUnreachable)
		h.logger.Debug("dropping message for unreachable user", "target", handle, "type", msg.Type)
		return false
	}
	h.send(c, msg)
	return true
}

// broadcastIdle sends the idle-user list to every connected client.
func (h *Hub) broadcastIdle() {
	idle := h.registry.Idle()
	users := make([]protocol.User, len(idle))
	for i, id := range idle {
		users[i] = protocol.User{ID: id}
	}
	msg := &protocol.Message{Type: protocol.TypeActiveUsers, Users: users}
	for _, c := range h.clients {
		h.send(c, msg)
	}
}

func (h *Hub) scheduleExpiry(sessionID string) {
	h.clock.AfterFunc(h.cfg.ReservationTTL, func() {
		select {
		case h.expired <- sessionID:
		case <-h.done:
		}
	})
}

func (h *Hub) expire(sessionID string) {
	sess, ok := h.registry.SessionByID(sessionID)
	if !ok || sess.State != presence.SessionReserved {
		return
	}
	h.registry.ReleaseSession(sessionID)
	h.metrics.Inc(metrics.EventReservationExpired)
	h.logger.Info("reservation expired", "session", sessionID, "a", sess.A, "b", sess.B)

	h.sendTo(sess.A, &protocol.Message{Type: protocol.TypePartnerLeft})
	h.sendTo(sess.B, &protocol.Message{Type: protocol.TypePartnerLeft})
	h.presenceChanged = true
}

func containsClient(list []*Client, c *Client) bool {
	for _, v := range list {
		if v == c {
			return true
		}
	}
	return false
}
