// Package signalclient is the client side of the signaling connection.
package signalclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/candrapwr/meet-datasiber/internal/dns"
	"github.com/candrapwr/meet-datasiber/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var (
	ErrNotConnected = errors.New("not connected to the signaling server")
	ErrClosed       = errors.New("signaling connection closed")
	ErrServerClosed = errors.New("signaling server closed the connection")
)

// Options configures a Client.
type Options struct {
	// Codec frames messages; it must match the codec named in the URL.
	Codec protocol.Codec
	// Resolver resolves the server host. Nil uses dns.Default.
	Resolver *dns.Resolver
	// Buffer sizes the inbound and outbound queues.
	Buffer int
	Logger *slog.Logger
}

// Client manages the WebSocket connection to the signaling server.
type Client struct {
	serverURL string
	codec     protocol.Codec
	resolver  *dns.Resolver
	log       *slog.Logger

	conn     *websocket.Conn
	incoming chan *protocol.Message
	outgoing chan *protocol.Message

	done      chan struct{} // closed by Close
	stopped   chan struct{} // closed when the write pump exits
	closeOnce sync.Once

	mu      sync.Mutex
	readErr error
}

// NewClient creates a new signaling client.
func NewClient(serverURL string, opts Options) *Client {
	if opts.Codec == nil {
		opts.Codec = protocol.JSON
	}
	if opts.Resolver == nil {
		opts.Resolver = dns.Default
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		serverURL: serverURL,
		codec:     opts.Codec,
		resolver:  opts.Resolver,
		log:       opts.Logger,
		incoming:  make(chan *protocol.Message, opts.Buffer),
		outgoing:  make(chan *protocol.Message, opts.Buffer),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the pumps.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: writeWait,
		NetDialContext:   c.resolver.DialContext,
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to connect: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.conn = conn
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()

	c.log.Debug("connected to signaling server", "url", u.Redacted(), "codec", c.codec.Name())
	return nil
}

func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			return
		}

		msg, err := c.codec.Decode(data)
		if err != nil {
			c.log.Debug("dropping malformed frame", "err", err)
			continue
		}

		select {
		case c.incoming <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		close(c.stopped)
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.outgoing:
			data, err := c.codec.Encode(msg)
			if err != nil {
				c.log.Error("encode failed", "type", msg.Type, "err", err)
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(c.codec.FrameType(), data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
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

// Send queues a message for the server.
func (c *Client) Send(msg *protocol.Message) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.closedErr(); err != nil {
		return err
	}
	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	case <-c.stopped:
		return c.closedErr()
	}
}

// closedErr reports why the client can no longer send. A local Close also
// stops the write pump, so done is checked first.
func (c *Client) closedErr() error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case <-c.stopped:
		return ErrServerClosed
	default:
	}
	return nil
}

// Signal sends a handshake message to another session. It lets the Client
// serve as the negotiation engine's Sender.
func (c *Client) Signal(to, kind string, data json.RawMessage) error {
	return c.Send(protocol.NewMessage(protocol.TypeSignal, protocol.SignalPayload{
		To:   to,
		Kind: kind,
		Data: protocol.Opaque(data),
	}))
}

func (c *Client) JoinRoom(roomID, name string) error {
	return c.Send(protocol.NewMessage(protocol.TypeJoinRoom, protocol.JoinRoomPayload{RoomID: roomID, Name: name}))
}

func (c *Client) Approve(roomID, sessionID string) error {
	return c.Send(protocol.NewMessage(protocol.TypeHostApprove, protocol.HostApprovePayload{RoomID: roomID, SessionID: sessionID}))
}

func (c *Client) LeaveRoom(roomID string) error {
	return c.Send(protocol.NewMessage(protocol.TypeLeaveRoom, protocol.LeaveRoomPayload{RoomID: roomID}))
}

func (c *Client) Chat(roomID, name, text string) error {
	return c.Send(protocol.NewMessage(protocol.TypeChat, protocol.ChatPayload{RoomID: roomID, Name: name, Message: text}))
}

func (c *Client) ScreenShare(roomID string, active bool) error {
	return c.Send(protocol.NewMessage(protocol.TypeScreenShare, protocol.ScreenSharePayload{RoomID: roomID, Active: active}))
}

// Incoming returns the channel of messages from the server. It is closed
// when the connection ends.
func (c *Client) Incoming() <-chan *protocol.Message {
	return c.incoming
}

// Err reports why the connection ended. It is nil while connected and after
// a local Close.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return nil
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrServerClosed, c.readErr)
}

// Close sends a close frame and waits briefly for the write pump to exit.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn == nil {
			return
		}
		select {
		case <-c.stopped:
		case <-time.After(writeWait):
			c.conn.Close()
		}
	})
}
