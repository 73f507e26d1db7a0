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
	"github.com/rs/xid"
	"go.uber.org/zap"
)

// WebSocket channels.
const (
	ChannelOrders = "orders"
	ChannelTrades = "trades"
	ChannelBlocks = "blocks"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 << 10
	sendQueue      = 256
)

// PoolChannel names the price channel of a pool, e.g. "pools:BNB-WETH".
func PoolChannel(a, b string) string { return "pools:" + a + "-" + b }

// AccountChannel names the channel of one account's events.
func AccountChannel(addr common.Address) string {
	return "account:" + strings.ToLower(addr.Hex())
}

// normalizeChannel lower-cases account channels so any address casing
// subscribes to the same stream.
func normalizeChannel(ch string) string {
	if rest, ok := strings.CutPrefix(ch, "account:"); ok && common.IsHexAddress(rest) {
		return AccountChannel(common.HexToAddress(rest))
	}
	return ch
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The router's CORS middleware decides which origins reach us.
	CheckOrigin: func(*http.Request) bool { return true },
}

type clientSet map[*Client]struct{}

// Hub fans published messages out to the clients subscribed to each channel.
// Subscriptions are indexed by channel so a publish only touches the
// clients that asked for it.
type Hub struct {
	mu       sync.RWMutex
	clients  clientSet
	channels map[string]clientSet

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	logger *zap.SugaredLogger
}

func NewHub(logger *zap.SugaredLogger) *Hub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Hub{
		clients:    make(clientSet),
		channels:   make(map[string]clientSet),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run admits and removes clients until ctx is cancelled, then disconnects
// everyone still attached.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				h.dropLocked(c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debugw("ws_client_connected", "client", c.id, "total", total)

		case c := <-h.unregister:
			h.mu.Lock()
			_, attached := h.clients[c]
			if attached {
				h.dropLocked(c)
			}
			total := len(h.clients)
			h.mu.Unlock()
			if attached {
				h.logger.Debugw("ws_client_disconnected", "client", c.id, "total", total)
			}
		}
	}
}

// dropLocked detaches c from every channel and closes its queue.
// Callers hold h.mu.
func (h *Hub) dropLocked(c *Client) {
	for ch := range c.channels {
		h.leaveLocked(c, ch)
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) leaveLocked(c *Client, ch string) {
	delete(c.channels, ch)
	if subs := h.channels[ch]; subs != nil {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.channels, ch)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Subscribers returns how many clients listen on channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[normalizeChannel(channel)])
}

func (h *Hub) subscribe(c *Client, channels []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	for _, ch := range channels {
		ch = normalizeChannel(ch)
		subs := h.channels[ch]
		if subs == nil {
			subs = make(clientSet)
			h.channels[ch] = subs
		}
		subs[c] = struct{}{}
		c.channels[ch] = struct{}{}
	}
}

func (h *Hub) unsubscribe(c *Client, channels []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range channels {
		h.leaveLocked(c, normalizeChannel(ch))
	}
}

// BroadcastToChannel queues data for every subscriber of channel. Clients
// whose queue is full miss the message.
func (h *Hub) BroadcastToChannel(channel string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		h.logger.Warnw("ws_marshal_failed", "channel", channel, "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.channels[channel] {
		select {
		case c.send <- payload:
		default:
		}
	}
}

// Client is one WebSocket connection. Its channel set is guarded by the
// hub's lock.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	id       string
	channels map[string]struct{}
}

// reply queues a direct answer to the client unless it has already been
// dropped or its queue is full.
func (c *Client) reply(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

func (c *Client) handle(raw []byte) {
	var req WSSubscribeRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		c.reply(map[string]string{"error": "invalid message"})
		return
	}
	switch req.Op {
	case "subscribe":
		c.hub.subscribe(c, req.Channels)
	case "unsubscribe":
		c.hub.unsubscribe(c, req.Channels)
	default:
		c.reply(map[string]string{"error": "unknown op: " + req.Op})
		return
	}
	c.reply(map[string]any{"op": req.Op, "channels": req.Channels})
}

// readLoop serves subscription requests until the peer goes away.
func (c *Client) readLoop() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debugw("ws_read_failed", "client", c.id, "err", err)
			}
			return
		}
		c.handle(raw)
	}
}

// writeLoop drains the client's queue onto the socket and keeps the
// connection alive with pings.
func (c *Client) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, open := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !open {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debugw("ws_upgrade_failed", "err", err)
		return
	}

	c := &Client{
		hub:      s.hub,
		conn:     conn,
		send:     make(chan []byte, sendQueue),
		id:       xid.New().String(),
		channels: make(map[string]struct{}),
	}
	select {
	case s.hub.register <- c:
	case <-s.hub.done:
		conn.Close()
		return
	}

	go c.writeLoop()
	go c.readLoop()
}
