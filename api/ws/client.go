package ws

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is one WebSocket connection: the read/write pump split and
// ping/pong keepalive follow the teacher's api/websocket.Client exactly.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	trader string

	sendCh chan []byte

	subMu         sync.Mutex
	subscriptions map[string]bool
}

func newClient(hub *Hub, conn *websocket.Conn, trader string) *Client {
	return &Client{
		hub:           hub,
		conn:          conn,
		trader:        trader,
		sendCh:        make(chan []byte, sendBufferSize),
		subscriptions: make(map[string]bool),
	}
}

func (c *Client) send(data []byte) {
	select {
	case c.sendCh <- data:
	default:
	}
}

func (c *Client) sendEnvelope(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.send(data)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg struct {
			Action  string `json:"action"`
			Channel string `json:"channel"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendEnvelope(Message{Type: "error", Data: "invalid message"})
			continue
		}

		switch msg.Action {
		case "subscribe":
			c.handleSubscribe(msg.Channel)
		case "unsubscribe":
			c.subMu.Lock()
			delete(c.subscriptions, msg.Channel)
			c.subMu.Unlock()
			c.hub.unsub <- subRequest{client: c, channel: msg.Channel}
		case "ping":
			c.sendEnvelope(Message{Type: "pong"})
		default:
			c.sendEnvelope(Message{Type: "error", Data: "unknown action " + msg.Action})
		}
	}
}

func (c *Client) handleSubscribe(channel string) {
	if channel == "" {
		c.sendEnvelope(Message{Type: "error", Data: "channel is required"})
		return
	}
	if !c.canAccess(channel) {
		c.sendEnvelope(Message{Type: "error", Data: "not authorized for channel " + channel})
		return
	}

	c.subMu.Lock()
	if len(c.subscriptions) >= maxSubscriptions {
		c.subMu.Unlock()
		c.sendEnvelope(Message{Type: "error", Data: "subscription limit reached"})
		return
	}
	c.subscriptions[channel] = true
	c.subMu.Unlock()

	c.hub.subscribe <- subRequest{client: c, channel: channel}
}

// canAccess reports whether this connection may subscribe to channel:
// ticker:/trades:/funding:/liquidations: are public, positions:/orders:
// are scoped to the trader that opened the socket (there is no token auth
// layer in this engine - the trader query parameter is the only identity).
func (c *Client) canAccess(channel string) bool {
	for _, prefix := range []string{"ticker:", "trades:", "funding:", "liquidations:"} {
		if strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	for _, prefix := range []string{"positions:", "orders:"} {
		if strings.HasPrefix(channel, prefix) {
			return c.trader != "" && channel == prefix+c.trader
		}
	}
	return false
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.sendCh:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
