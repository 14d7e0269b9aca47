package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/guessly/clob/pkg/app/events"
	"github.com/guessly/clob/pkg/util"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS is enforced by the REST handler
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans committed engine events out to websocket clients. It implements
// events.Sink; Publish never blocks the engine.
type Hub struct {
	mu        sync.RWMutex
	clients   map[*Client]bool
	closed    bool
	broadcast chan []events.Envelope
	log       *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:   make(map[*Client]bool),
		broadcast: make(chan []events.Envelope, sendBuffer),
		log:       util.OrNop(logger),
	}
}

// Run delivers published batches until ctx is done, then disconnects every
// client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			h.closed = true
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case batch := <-h.broadcast:
			for _, env := range batch {
				h.deliver(env)
			}
		}
	}
}

func (h *Hub) add(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = true
	h.log.Debug("ws_client_connected", zap.String("client", c.id), zap.Int("total", len(h.clients)))
	return true
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		h.log.Debug("ws_client_disconnected", zap.String("client", c.id), zap.Int("total", len(h.clients)))
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Publish(batch []events.Envelope) {
	select {
	case h.broadcast <- batch:
	default:
		h.log.Warn("ws_broadcast_dropped", zap.Int("events", len(batch)))
	}
}

// deliver sends env once to every client subscribed to any of its channels.
func (h *Hub) deliver(env events.Envelope) {
	channels := channelsFor(env)
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		ch, ok := c.match(channels)
		if !ok {
			continue
		}
		msg, err := json.Marshal(WSMessage{Channel: ch, Event: env})
		if err != nil {
			h.log.Error("ws_marshal_failed", zap.Error(err))
			return
		}
		select {
		case c.send <- msg:
		default:
			// slow consumer
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// channelsFor lists the channels an event is visible on, most specific first.
func channelsFor(env events.Envelope) []string {
	var out []string
	if env.Data != nil {
		for _, p := range env.Data.Parties() {
			out = append(out, "account:"+p.Hex())
		}
	}
	return append(out, "market:"+env.Market.Hex(), "all")
}

// canonicalChannel normalizes address casing; unknown channels are rejected.
func canonicalChannel(ch string) (string, bool) {
	if ch == "all" {
		return ch, true
	}
	kind, addr, ok := strings.Cut(ch, ":")
	if !ok || (kind != "market" && kind != "account") || !common.IsHexAddress(addr) {
		return "", false
	}
	return kind + ":" + common.HexToAddress(addr).Hex(), true
}

// Client is one websocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string

	subsMu        sync.RWMutex
	subscriptions map[string]bool
}

func (c *Client) match(channels []string) (string, bool) {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	for _, ch := range channels {
		if c.subscriptions[ch] {
			return ch, true
		}
	}
	return "", false
}

func (c *Client) update(op string, channels []string) []string {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	done := make([]string, 0, len(channels))
	for _, raw := range channels {
		ch, ok := canonicalChannel(raw)
		if !ok {
			continue
		}
		if op == "subscribe" {
			c.subscriptions[ch] = true
		} else {
			delete(c.subscriptions, ch)
		}
		done = append(done, ch)
	}
	return done
}

func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("ws_read_failed", zap.String("client", c.id), zap.Error(err))
			}
			return
		}

		var req WSSubscribeRequest
		if err := json.Unmarshal(message, &req); err != nil {
			continue
		}
		if req.Op != "subscribe" && req.Op != "unsubscribe" {
			continue
		}
		ack, _ := json.Marshal(WSAck{Op: req.Op + "d", Channels: c.update(req.Op, req.Channels)})
		c.hub.mu.RLock()
		if c.hub.clients[c] {
			select {
			case c.send <- ack:
			default:
			}
		}
		c.hub.mu.RUnlock()
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// ServeHTTP upgrades the connection and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("ws_upgrade_failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		id:            conn.RemoteAddr().String(),
		subscriptions: make(map[string]bool),
	}
	if !h.add(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
