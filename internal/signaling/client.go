package signaling

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/shuffle/internal/metrics"
	"github.com/BioHazard786/shuffle/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024 // 64 KB - enough for WebRTC SDP messages
)

// Client is a wrapper for a single websocket connection (a visitor).
type Client struct {
	// ID is the handle assigned by the hub on registration. It is only
	// touched by the hub goroutine.
	ID string

	Hub *Hub

	// Conn is nil for clients driven directly by tests.
	Conn *websocket.Conn

	// Send is a buffered channel for all outbound messages. The hub is the
	// only writer and the only one that closes it.
	Send chan *protocol.Message

	codec protocol.Codec
}

// NewClient wraps conn for hub, speaking codec on the wire.
func NewClient(hub *Hub, conn *websocket.Conn, codec protocol.Codec) *Client {
	if codec == nil {
		codec = protocol.JSON
	}
	return &Client{
		Hub:   hub,
		Conn:  conn,
		Send:  make(chan *protocol.Message, hub.cfg.SendBuffer),
		codec: codec,
	}
}

// ReadPump pumps messages from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Warn("websocket read failed", "remote", c.Conn.RemoteAddr().String(), "err", err)
			}
			return
		}

		var msg protocol.Message
		if err := c.codec.Decode(data, &msg); err != nil {
			c.Hub.metrics.Inc(metrics.EventDecodeError)
			c.Hub.logger.Debug("dropping undecodable frame", "remote", c.Conn.RemoteAddr().String(), "codec", c.codec.Name(), "err", err)
			continue
		}

		if !c.Hub.submit(c, &msg) {
			return
		}
	}
}

// WritePump pumps messages from the hub to the websocket connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := c.codec.Encode(message)
			if err != nil {
				c.Hub.logger.Error("encode outbound message", "type", message.Type, "err", err)
				continue
			}
			if err := c.Conn.WriteMessage(c.codec.FrameType(), data); err != nil {
				c.Hub.logger.Debug("websocket write failed", "remote", c.Conn.RemoteAddr().String(), "err", err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
