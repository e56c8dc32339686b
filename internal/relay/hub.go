package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/quote-stream/internal/metrics"
	"github.com/rickgao/quote-stream/internal/model"
	"github.com/rickgao/quote-stream/internal/store"
)

// ErrHubClosed is returned when a client connects after Stop.
var ErrHubClosed = errors.New("hub closed")

// QuotesEndpoint is the path the hub is served on; it labels metrics.
const QuotesEndpoint = "/ws/quotes"

// HubConfig configures a Hub.
type HubConfig struct {
	ClientBuffer      int           // Per-client send queue (default 256)
	HeartbeatInterval time.Duration // Heartbeat broadcast interval (default 30s)
	PingInterval      time.Duration // WebSocket ping interval (default 30s)
	WriteTimeout      time.Duration // Per-write deadline (default 10s)
	AllowedOrigins    []string      // Empty allows any origin
	Metrics           *metrics.Metrics
}

// DefaultHubConfig returns sensible defaults.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		ClientBuffer:      256,
		HeartbeatInterval: 30 * time.Second,
		PingInterval:      30 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// welcomeMessage is sent once to each new client.
type welcomeMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// heartbeatMessage is broadcast on HeartbeatInterval.
type heartbeatMessage struct {
	Type          string `json:"type"`
	Timestamp     string `json:"timestamp"`
	ActiveClients int    `json:"activeClients"`
}

// HubStats contains hub statistics.
type HubStats struct {
	Clients   int
	Broadcast int64
	Dropped   int64
}

// Hub tracks WebSocket clients and broadcasts to all of them.
type Hub struct {
	cfg       HubConfig
	upgrader  websocket.Upgrader
	snapshots store.SnapshotStore
	symbols   func() []string
	logger    *slog.Logger

	mu      sync.RWMutex
	clients map[string]*wsClient
	closed  bool

	broadcast atomic.Int64
	dropped   atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHub creates a hub. snapshots and symbols may be nil; when both are set,
// joining clients receive the stored latest quote for every symbol.
func NewHub(cfg HubConfig, snapshots store.SnapshotStore, symbols func() []string, logger *slog.Logger) *Hub {
	def := DefaultHubConfig()
	if cfg.ClientBuffer < 1 {
		cfg.ClientBuffer = def.ClientBuffer
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	h := &Hub{
		cfg:       cfg,
		snapshots: snapshots,
		symbols:   symbols,
		logger:    logger,
		clients:   make(map[string]*wsClient),
		ctx:       context.Background(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// Start begins the heartbeat loop.
func (h *Hub) Start(ctx context.Context) error {
	h.ctx, h.cancel = context.WithCancel(ctx)

	h.wg.Add(1)
	go h.heartbeatLoop()

	h.logger.Info("hub started", "heartbeat", h.cfg.HeartbeatInterval)
	return nil
}

// Stop closes every client and waits for their pumps to exit.
func (h *Hub) Stop(ctx context.Context) error {
	if h.cancel != nil {
		h.cancel()
	}

	h.mu.Lock()
	h.closed = true
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
		h.cfg.Metrics.WebsocketClosed(QuotesEndpoint, strconv.Itoa(websocket.CloseGoingAway))
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeWS upgrades the request and registers the client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, ErrHubClosed.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Warn("websocket upgrade failed", "err", err, "remote", r.RemoteAddr)
		return
	}

	c := &wsClient{
		id:   uuid.New().String(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, h.cfg.ClientBuffer),
	}

	// Welcome and snapshots precede any broadcast.
	c.trySend(h.welcome())
	h.sendSnapshots(r.Context(), c)

	if !h.register(c) {
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// register adds c and its two pumps to the WaitGroup under the lock Stop
// takes. It returns false once the hub is closed.
func (h *Hub) register(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.id] = c
	h.wg.Add(2)
	h.cfg.Metrics.WebsocketConnected(QuotesEndpoint)
	h.logger.Info("client connected", "client_id", c.id, "clients", len(h.clients))
	return true
}

func (h *Hub) unregister(c *wsClient, code int) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
		h.cfg.Metrics.WebsocketClosed(QuotesEndpoint, strconv.Itoa(code))
	}
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("client disconnected", "client_id", c.id, "clients", n)
}

func (h *Hub) welcome() []byte {
	data, _ := json.Marshal(welcomeMessage{
		Type:      "connected",
		Message:   "WebSocket connected successfully",
		Timestamp: model.FormatTimestamp(time.Now()),
	})
	return data
}

func (h *Hub) sendSnapshots(ctx context.Context, c *wsClient) {
	if h.snapshots == nil || h.symbols == nil {
		return
	}
	symbols := h.symbols()
	if len(symbols) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	snaps, err := h.snapshots.Snapshots(ctx, symbols)
	if err != nil {
		h.logger.Warn("failed to load snapshots", "client_id", c.id, "err", err)
		return
	}
	for _, s := range snaps {
		c.trySend(s)
	}
}

// Broadcast sends data to every client. A client whose queue is full misses
// this message.
func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		if !c.trySend(data) {
			h.cfg.Metrics.WebsocketMessageDropped(QuotesEndpoint)
			if n := h.dropped.Add(1); n == 1 || n%1000 == 0 {
				h.logger.Warn("client too slow, dropping message", "client_id", c.id, "dropped", n)
			}
		}
	}
	h.broadcast.Add(1)
}

// OnQuote implements quote.Sink.
func (h *Hub) OnQuote(q model.Quote) {
	data, err := json.Marshal(q)
	if err != nil {
		h.logger.Error("failed to marshal quote", "symbol", q.Symbol, "err", err)
		return
	}
	h.Broadcast(data)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats returns hub statistics.
func (h *Hub) Stats() HubStats {
	return HubStats{
		Clients:   h.ClientCount(),
		Broadcast: h.broadcast.Load(),
		Dropped:   h.dropped.Load(),
	}
}

func (h *Hub) heartbeatLoop() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case now := <-ticker.C:
			data, _ := json.Marshal(heartbeatMessage{
				Type:          "heartbeat",
				Timestamp:     model.FormatTimestamp(now),
				ActiveClients: h.ClientCount(),
			})
			h.Broadcast(data)
		}
	}
}

// wsClient is one WebSocket connection. send is closed by the hub on
// unregister; writePump then closes the connection.
type wsClient struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// trySend queues data without blocking. Callers hold the hub lock or own c
// exclusively.
func (c *wsClient) trySend(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *wsClient) writePump() {
	defer c.hub.wg.Done()

	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
			c.hub.cfg.Metrics.WebsocketMessageSent(QuotesEndpoint)

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) readPump() {
	code := websocket.CloseAbnormalClosure
	defer func() {
		c.hub.unregister(c, code)
		c.hub.wg.Done()
	}()

	wait := 2 * c.hub.cfg.PingInterval
	c.conn.SetReadLimit(64 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code = ce.Code
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket read error", "client_id", c.id, "err", err)
			}
			return
		}
		c.hub.logger.Debug("client message ignored", "client_id", c.id, "bytes", len(message))
	}
}
