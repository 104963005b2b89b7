package signaling

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/candrapwr/meet-datasiber/internal/metrics"
	"github.com/candrapwr/meet-datasiber/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// Client is one WebSocket connection to the server. Its ID is the session
// identifier every room and relay operation is keyed on; it is not stable
// across reconnects.
type Client struct {
	ID string

	hub   *Hub
	conn  *websocket.Conn
	codec protocol.Codec

	// Send is a buffered channel of outbound messages, drained by WritePump.
	// Only the hub writes to it, and the hub closes it on disconnect.
	Send chan *protocol.Message

	// stalled is set by the hub when Send overflowed.
	stalled bool
}

// NewClient wraps an upgraded connection in a new session.
func NewClient(hub *Hub, conn *websocket.Conn, codec protocol.Codec) *Client {
	return &Client{
		ID:    uuid.NewString(),
		hub:   hub,
		conn:  conn,
		codec: codec,
		Send:  make(chan *protocol.Message, hub.cfg.SendBuffer),
	}
}

// ReadPump pumps messages from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	log := c.hub.log.With("session", c.ID)

	c.conn.SetReadLimit(c.hub.cfg.MaxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn("read failed", "err", err)
			}
			return
		}

		msg, err := c.codec.Decode(data)
		if err != nil {
			c.hub.metrics.Inc(metrics.MalformedFrames)
			log.Debug("dropping malformed frame", "err", err)
			continue
		}

		if !c.hub.submit(c, msg) {
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
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := c.codec.Encode(message)
			if err != nil {
				c.hub.log.Error("encode failed", "session", c.ID, "type", message.Type, "err", err)
				continue
			}
			if err := c.conn.WriteMessage(c.codec.FrameType(), data); err != nil {
				c.hub.log.Debug("write failed", "session", c.ID, "err", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
