// Package wsfeed implements the GET /v1/ws push stream of
// Deposited/Settled/Refunded events (and every other settlement event the
// engine emits). It is a settlement.EventSink that
// fans each event out to every currently-subscribed websocket connection.
//
// A ping keep-alive (PingPeriod ticker; no read deadline or pong handler
// is set) and mutex-guarded connection bookkeeping, server-side: FirmSwap
// serves subscribers directly, so the per-connection state is a
// registered websocket.Conn rather than a dialed one.
package wsfeed

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/firmswap/firmswap/internal/pkg/logger"
	"github.com/firmswap/firmswap/internal/settlement"
	"github.com/gorilla/websocket"
)

// PingPeriod is the server-side keep-alive interval for each connection.
const PingPeriod = 15 * time.Second

// Message is the wire envelope pushed to every subscriber: one settlement
// event, tagged by kind.
type Message struct {
	Kind  string `json:"kind"` // "Deposited" | "Settled" | "Refunded" | "TokensRecovered" | "ExcessDeposit" | "ExcessWithdrawn" | "ResolvedOrderOpened"
	Order any    `json:"order"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub broadcasts settlement events to every subscribed connection. It
// implements settlement.EventSink directly so it can be handed to
// settlement.NewEngine alongside (or instead of) any other sink.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan Message
}

// New returns an empty Hub ready to accept subscribers and broadcast events.
func New() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// ServeHTTP upgrades the request to a websocket and registers the
// connection as a subscriber until it disconnects (GET /v1/ws).
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("wsfeed: upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan Message, 64)}
	h.register(c)
	defer h.unregister(c)

	go c.writeLoop()
	c.readLoop() // blocks until the client disconnects; discards any inbound frames
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		close(c.send)
	}
	c.conn.Close()
}

func (h *Hub) broadcast(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			logger.Warn("wsfeed: subscriber send buffer full, dropping message")
		}
	}
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		}
	}
}

func (c *client) readLoop() {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// --- settlement.EventSink ---

func (h *Hub) OnDeposited(e settlement.Deposited) { h.broadcast(Message{Kind: "Deposited", Order: e}) }
func (h *Hub) OnSettled(e settlement.Settled)     { h.broadcast(Message{Kind: "Settled", Order: e}) }
func (h *Hub) OnRefunded(e settlement.Refunded)    { h.broadcast(Message{Kind: "Refunded", Order: e}) }
func (h *Hub) OnTokensRecovered(e settlement.TokensRecovered) {
	h.broadcast(Message{Kind: "TokensRecovered", Order: e})
}
func (h *Hub) OnExcessDeposit(e settlement.ExcessDeposit) {
	h.broadcast(Message{Kind: "ExcessDeposit", Order: e})
}
func (h *Hub) OnExcessWithdrawn(e settlement.ExcessWithdrawn) {
	h.broadcast(Message{Kind: "ExcessWithdrawn", Order: e})
}
func (h *Hub) OnResolvedOrderOpened(e settlement.ResolvedOrderOpened) {
	h.broadcast(Message{Kind: "ResolvedOrderOpened", Order: e})
}
