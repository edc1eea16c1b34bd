package signalclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/shuffle/internal/dns"
	"github.com/BioHazard786/shuffle/internal/negotiation"
	"github.com/BioHazard786/shuffle/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	handshakeWait  = 10 * time.Second
)

var ErrClosed = errors.New("signaling connection closed")

// Client manages the WebSocket connection to the signaling server.
type Client struct {
	conn      *websocket.Conn
	serverURL string
	codec     protocol.Codec
	subproto  string
	resolver  *dns.Resolver
	logger    *slog.Logger

	incoming chan *protocol.Message
	outgoing chan *protocol.Message
	done     chan struct{}
	once     sync.Once
}

var _ negotiation.Signaler = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithResolver dials through r instead of the system resolver only.
func WithResolver(r *dns.Resolver) Option {
	return func(c *Client) { c.resolver = r }
}

// WithLogger sets the logger for connection diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for serverURL asking for the named codec.
func NewClient(serverURL, codec string, opts ...Option) (*Client, error) {
	cd, subproto, err := protocol.ByName(codec)
	if err != nil {
		return nil, err
	}
	c := &Client{
		serverURL: serverURL,
		codec:     cd,
		subproto:  subproto,
		logger:    slog.Default(),
		incoming:  make(chan *protocol.Message, 32),
		outgoing:  make(chan *protocol.Message, 32),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Connect establishes WebSocket connection to the server.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeWait,
		Subprotocols:     []string{c.subproto},
	}
	if c.resolver != nil {
		dialer.NetDialContext = c.resolver.DialContext
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	// A server that ignores subprotocols speaks JSON.
	c.codec = protocol.ForSubprotocol(conn.Subprotocol())
	c.conn = conn
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	c.logger.Debug("connected to signaling server", "url", u.String(), "codec", c.codec.Name())

	go c.readPump()
	go c.writePump()

	return nil
}

// Codec reports the codec in use. It is only meaningful after Connect.
func (c *Client) Codec() protocol.Codec {
	return c.codec
}

// readPump reads messages from the WebSocket connection.
func (c *Client) readPump() {
	defer func() {
		c.Close()
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("signaling connection lost", "err", err)
			}
			return
		}

		var msg protocol.Message
		if err := c.codec.Decode(data, &msg); err != nil {
			c.logger.Debug("dropping undecodable frame", "err", err)
			continue
		}

		select {
		case c.incoming <- &msg:
		case <-c.done:
			return
		}
	}
}

// writePump writes messages to the WebSocket connection and sends periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.outgoing:
			data, err := c.codec.Encode(message)
			if err != nil {
				c.logger.Error("encode outbound message", "type", message.Type, "err", err)
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(c.codec.FrameType(), data); err != nil {
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// SendMessage queues msg for the server.
func (c *Client) SendMessage(msg *protocol.Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Incoming returns the channel for receiving messages. It is closed when
// the connection ends.
func (c *Client) Incoming() <-chan *protocol.Message {
	return c.incoming
}

// Done is closed once the client is closed or the connection drops.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the WebSocket connection and cleans up resources. It is safe
// to call more than once.
func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *Client) FindPartner() error {
	return c.SendMessage(&protocol.Message{Type: protocol.TypeFindRandomUser})
}

func (c *Client) NextPartner(current string) error {
	return c.SendMessage(&protocol.Message{Type: protocol.TypeNextPartner, CurrentPartnerID: current})
}

func (c *Client) CallUser(target string, offer json.RawMessage, attempt int) error {
	return c.SendMessage(&protocol.Message{Type: protocol.TypeCallUser, TargetID: target, Offer: offer, Attempt: attempt})
}

func (c *Client) AcceptCall(target string, answer json.RawMessage, attempt int) error {
	return c.SendMessage(&protocol.Message{Type: protocol.TypeCallAccepted, TargetID: target, Answer: answer, Attempt: attempt})
}

func (c *Client) SendCandidate(target string, candidate json.RawMessage, attempt int) error {
	return c.SendMessage(&protocol.Message{Type: protocol.TypeICECandidate, TargetID: target, Candidate: candidate, Attempt: attempt})
}

func (c *Client) EndCall(target string) error {
	return c.SendMessage(&protocol.Message{Type: protocol.TypeCallEnded, TargetID: target})
}

// SendChat relays a chat message to target.
func (c *Client) SendChat(target string, msg *protocol.ChatMessage) error {
	return c.SendMessage(&protocol.Message{Type: protocol.TypeSendMessage, TargetID: target, Chat: msg})
}

// Typing tells target whether the user is typing.
func (c *Client) Typing(target string, active bool) error {
	t := protocol.TypeTypingStop
	if active {
		t = protocol.TypeTypingStart
	}
	return c.SendMessage(&protocol.Message{Type: t, TargetID: target})
}
