// Package ws streams engine events out over WebSocket, adapted from the
// teacher's api/websocket hub/client pair: the channel-subscription
// protocol, the register/unregister/broadcast select loop, and the
// read/write pump split are kept; the teacher's own ticker/depth polling
// buffers are replaced with direct internal/eventbus subscriptions, since
// this engine already publishes discrete domain events (mark.updated,
// funding.settled, orderbook.trade) instead of requiring a poll loop to
// discover state changes.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"cosmossdk.io/log"
	"github.com/gorilla/websocket"
	"github.com/openalpha/simulacrum/internal/eventbus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
	maxSubscriptions = 50
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Message is the envelope every outbound frame is wrapped in.
type Message struct {
	Type    string      `json:"type"`
	Channel string      `json:"channel,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Hub fans engine events out to subscribed clients from one goroutine;
// mu guards the client and channel maps, and delivery is best-effort (a
// full broadcast queue or client send buffer drops the message).
type Hub struct {
	clients    map[*Client]bool
	channels   map[string]map[*Client]bool
	broadcast  chan targetedMessage
	register   chan *Client
	unregister chan *Client
	subscribe  chan subRequest
	unsub      chan subRequest

	mu     sync.RWMutex
	logger log.Logger
}

type targetedMessage struct {
	channel string
	data    []byte
}

type subRequest struct {
	client  *Client
	channel string
}

// New builds a Hub and wires it to bus's trade/mark/funding/liquidation
// topics. Call Run in its own goroutine to start fan-out.
func New(bus *eventbus.Bus, logger log.Logger) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		channels:   make(map[string]map[*Client]bool),
		broadcast:  make(chan targetedMessage, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		subscribe:  make(chan subRequest, 256),
		unsub:      make(chan subRequest, 256),
		logger:     logger.With("module", "api/ws"),
	}

	bus.Subscribe("orderbook.trade", h.onTrade)
	bus.Subscribe("mark.updated", h.onMarkUpdated)
	bus.Subscribe("funding.settled", h.onFundingSettled)
	bus.Subscribe("liquidation.executed", h.onLiquidation)

	return h
}

// Run starts the hub's event loop. Blocks until ctx-independent callers
// stop feeding it; the engine's process lifetime owns it.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				for channel, clients := range h.channels {
					delete(clients, c)
					if len(clients) == 0 {
						delete(h.channels, channel)
					}
				}
				close(c.sendCh)
			}
			h.mu.Unlock()

		case req := <-h.subscribe:
			h.mu.Lock()
			if h.channels[req.channel] == nil {
				h.channels[req.channel] = make(map[*Client]bool)
			}
			h.channels[req.channel][req.client] = true
			h.mu.Unlock()
			req.client.sendEnvelope(Message{Type: "subscribed", Channel: req.channel})

		case req := <-h.unsub:
			h.mu.Lock()
			if clients, ok := h.channels[req.channel]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.channels, req.channel)
				}
			}
			h.mu.Unlock()
			req.client.sendEnvelope(Message{Type: "unsubscribed", Channel: req.channel})

		case tm := <-h.broadcast:
			h.mu.RLock()
			clients := h.channels[tm.channel]
			recipients := make([]*Client, 0, len(clients))
			for c := range clients {
				recipients = append(recipients, c)
			}
			h.mu.RUnlock()
			for _, c := range recipients {
				c.send(tm.data)
			}
		}
	}
}

func (h *Hub) publish(channel string, msgType string, data interface{}) {
	payload, err := json.Marshal(Message{Type: msgType, Channel: channel, Data: data})
	if err != nil {
		h.logger.Error("ws payload marshal failed", "channel", channel, "error", err)
		return
	}
	select {
	case h.broadcast <- targetedMessage{channel: channel, data: payload}:
	default:
		h.logger.Error("ws broadcast queue full, dropping message", "channel", channel)
	}
}

// ClientCount reports how many sockets are currently open.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request to a WebSocket and registers a Client.
// trader, taken from the "trader" query parameter, scopes which private
// channels (positions:*, orders:*) the connection may subscribe to;
// empty means anonymous, public-channels-only.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := newClient(h, conn, r.URL.Query().Get("trader"))
	h.register <- c
	go c.writePump()
	go c.readPump()
}
