package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/quote-stream/internal/model"
)

// Manager owns one logical WebSocket to the relay. It is safe for concurrent use.
//
// Every socket the manager opens is tagged with a generation. Callbacks from
// a socket whose generation is no longer current are ignored, so tearing down
// a socket can never schedule a reconnect. Likewise each reconnect timer is
// tagged with a sequence number and a stale timer firing is a no-op.
type Manager struct {
	cfg       ManagerConfig
	handler   MessageHandler
	reporter  ErrorReporter
	logger    *slog.Logger
	newClient func(ClientConfig, *slog.Logger) Client

	statusCh chan Status

	mu            sync.Mutex
	sock          *socket
	gen           uint64
	status        Status
	timer         *time.Timer
	timerSeq      uint64
	url           string
	latency       time.Duration
	latencyAt     time.Time
	lastMessageAt time.Time

	connects    atomic.Int64
	reconnects  atomic.Int64
	messages    atomic.Int64
	parseErrors atomic.Int64
}

// socket is one live transport connection.
type socket struct {
	client Client
	gen    uint64
	stop   chan struct{}
}

func (s *socket) shutdown() {
	close(s.stop)
	s.client.Close()
}

// Option configures a Manager.
type Option func(*Manager)

// WithErrorReporter sets the sink for inbound parse failures.
func WithErrorReporter(r ErrorReporter) Option {
	return func(m *Manager) {
		m.reporter = r
	}
}

// WithClientFactory replaces the transport constructor.
func WithClientFactory(f func(ClientConfig, *slog.Logger) Client) Option {
	return func(m *Manager) {
		m.newClient = f
	}
}

// NewManager creates a Connection Manager. Nothing is dialed until Connect.
func NewManager(cfg ManagerConfig, handler MessageHandler, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		cfg:       cfg,
		handler:   handler,
		logger:    logger,
		newClient: NewClient,
		statusCh:  make(chan Status, 16),
		status:    StatusDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ResolveURL returns the endpoint Connect would dial.
func (m *Manager) ResolveURL() (string, error) {
	var envValue string
	if m.cfg.URLEnv != "" {
		envValue = os.Getenv(m.cfg.URLEnv)
	}
	return ResolveURL(m.cfg.URL, envValue, m.cfg.Origin, m.cfg.Path)
}

// Connect tears down any live socket without scheduling a reconnect, then
// dials a new one. Status is reconnecting until the handshake completes.
// A failed dial is handled like a transport error followed by a close:
// status goes disconnected, then reconnecting, and one reconnect is scheduled.
func (m *Manager) Connect(ctx context.Context) error {
	return m.connect(ctx, 0, false)
}

func (m *Manager) connect(ctx context.Context, seq uint64, fromTimer bool) error {
	endpoint, err := m.ResolveURL()
	if err != nil {
		if !fromTimer {
			return fmt.Errorf("resolve stream url: %w", err)
		}
		if endpoint, err = m.lastEndpoint(seq, err); err != nil {
			return err
		}
	}

	m.mu.Lock()
	if fromTimer && (m.timer == nil || seq != m.timerSeq) {
		m.mu.Unlock()
		return ErrSuperseded
	}
	old := m.detachLocked()
	m.gen++
	gen := m.gen
	m.url = endpoint
	m.setStatusLocked(StatusReconnecting)
	m.mu.Unlock()

	if old != nil {
		old.shutdown()
	}

	cfg := m.cfg.Client
	cfg.URL = endpoint
	client := m.newClient(cfg, m.logger.With("url", endpoint))

	m.logger.Debug("dialing stream", "url", endpoint, "gen", gen)

	if err := client.Connect(ctx); err != nil {
		client.Close()
		m.logger.Warn("stream connect failed", "url", endpoint, "error", err)
		m.handleDrop(gen, err, false)
		return fmt.Errorf("connect %s: %w", endpoint, err)
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		client.Close()
		return ErrSuperseded
	}
	sock := &socket{client: client, gen: gen, stop: make(chan struct{})}
	m.sock = sock
	m.setStatusLocked(StatusConnected)
	m.mu.Unlock()

	m.connects.Add(1)
	m.logger.Info("stream connected", "url", endpoint)

	go m.readLoop(sock)

	return nil
}

// lastEndpoint is the timer path's fallback when resolution fails: reuse the
// endpoint of the previous dial, or keep the reconnect cycle alive if there
// was none.
func (m *Manager) lastEndpoint(seq uint64, resolveErr error) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timer == nil || seq != m.timerSeq {
		return "", ErrSuperseded
	}
	if m.url != "" {
		m.logger.Warn("stream url unresolvable, reusing last endpoint", "error", resolveErr, "url", m.url)
		return m.url, nil
	}
	m.scheduleReconnectLocked()
	return "", fmt.Errorf("resolve stream url: %w", resolveErr)
}

// Close tears down the socket and cancels any pending reconnect. No reconnect
// follows. Calling Close on an idle manager is a no-op apart from the status.
func (m *Manager) Close() error {
	m.mu.Lock()
	sock := m.detachLocked()
	m.gen++
	m.setStatusLocked(StatusDisconnected)
	m.mu.Unlock()

	if sock != nil {
		sock.shutdown()
		m.logger.Info("stream closed")
	}
	return nil
}

// Reconnect closes and immediately connects again, without delay.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.Close()
	return m.Connect(ctx)
}

// Run connects and keeps the stream alive until ctx is done, then closes it.
// It returns an error only if no endpoint can be resolved.
func (m *Manager) Run(ctx context.Context) error {
	if _, err := m.ResolveURL(); err != nil {
		return fmt.Errorf("resolve stream url: %w", err)
	}

	if err := m.Connect(ctx); err != nil && !errors.Is(err, ErrSuperseded) {
		m.logger.Warn("initial connect failed, retrying", "error", err, "delay", m.cfg.ReconnectDelay)
	}

	<-ctx.Done()
	return m.Close()
}

// SendMessage marshals v and writes it to the socket. When the socket is not
// open the message is dropped silently and nil is returned.
func (m *Manager) SendMessage(v any) error {
	m.mu.Lock()
	sock := m.sock
	open := sock != nil && m.status == StatusConnected
	m.mu.Unlock()

	if !open || !sock.client.IsConnected() {
		m.logger.Debug("socket not open, dropping outbound message")
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if err := sock.client.Send(data); err != nil {
		if errors.Is(err, ErrNotConnected) {
			return nil
		}
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// Status returns the current connection status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// StatusChanges returns a channel that receives each status transition.
// Sends are non-blocking; a slow reader misses intermediate values.
func (m *Manager) StatusChanges() <-chan Status {
	return m.statusCh
}

// Latency returns the most recent receipt-minus-producer latency. ok is
// false until a message carrying a timestamp has been received.
func (m *Manager) Latency() (latency time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latency, !m.latencyAt.IsZero()
}

// LastMessageAt returns the receipt time of the last parsed message.
func (m *Manager) LastMessageAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastMessageAt
}

// URL returns the endpoint of the most recent dial.
func (m *Manager) URL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.url
}

// Stats returns current statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	status, latency, last := m.status, m.latency, m.lastMessageAt
	m.mu.Unlock()

	return ManagerStats{
		Status:              status,
		Connects:            m.connects.Load(),
		ReconnectsScheduled: m.reconnects.Load(),
		Messages:            m.messages.Load(),
		ParseErrors:         m.parseErrors.Load(),
		Latency:             latency,
		LastMessageAt:       last,
	}
}

// readLoop forwards one socket's messages until it drops or is torn down.
func (m *Manager) readLoop(sock *socket) {
	for {
		select {
		case <-sock.stop:
			return

		case err := <-sock.client.Errors():
			// Messages read before the failure are still queued.
			m.drainInbound(sock)
			m.handleDrop(sock.gen, err, true)
			sock.client.Close()
			return

		case msg := <-sock.client.Messages():
			m.handleInbound(sock.gen, msg)
		}
	}
}

// drainInbound dispatches every message already queued on the socket.
func (m *Manager) drainInbound(sock *socket) {
	for {
		select {
		case msg, ok := <-sock.client.Messages():
			if !ok {
				return
			}
			m.handleInbound(sock.gen, msg)
		default:
			return
		}
	}
}

// handleInbound parses one message, updates latency and dispatches it.
func (m *Manager) handleInbound(gen uint64, msg TimestampedMessage) {
	var fields map[string]json.RawMessage
	err := json.Unmarshal(msg.Data, &fields)
	if err == nil && fields == nil {
		err = errors.New("message is not a JSON object")
	}
	if err != nil {
		m.parseErrors.Add(1)
		m.logger.Warn("failed to parse stream message", "error", err, "bytes", len(msg.Data))
		if m.reporter != nil {
			m.reporter(err, msg.Data)
		}
		return
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.lastMessageAt = msg.ReceivedAt
	if ts, ok := model.ParseTimestamp(fields["timestamp"]); ok {
		latency := msg.ReceivedAt.Sub(ts)
		if latency < 0 {
			latency = 0
		}
		m.latency = latency
		m.latencyAt = msg.ReceivedAt
	}
	m.mu.Unlock()

	m.messages.Add(1)

	if m.handler != nil {
		m.handler.HandleMessage(Message{
			Data:       msg.Data,
			ReceivedAt: msg.ReceivedAt,
		})
	}
}

// handleDrop runs the error and close handlers for generation gen.
// transport is true when a live socket failed, false for a failed dial.
func (m *Manager) handleDrop(gen uint64, err error, transport bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		return
	}
	if m.sock != nil && m.sock.gen == gen {
		close(m.sock.stop)
		m.sock = nil
	}

	clean := transport && websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
	if clean {
		m.logger.Info("stream closed by server")
	} else {
		m.logger.Warn("stream error", "error", err)
		m.setStatusLocked(StatusDisconnected)
	}

	m.setStatusLocked(StatusReconnecting)
	m.scheduleReconnectLocked()
}

// scheduleReconnectLocked replaces any pending timer with a new one.
// Must be called with m.mu held.
func (m *Manager) scheduleReconnectLocked() {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timerSeq++
	seq := m.timerSeq
	m.timer = time.AfterFunc(m.cfg.ReconnectDelay, func() {
		m.fireReconnect(seq)
	})
	m.reconnects.Add(1)

	m.logger.Info("reconnect scheduled", "delay", m.cfg.ReconnectDelay)
}

func (m *Manager) fireReconnect(seq uint64) {
	err := m.connect(context.Background(), seq, true)
	if err != nil && !errors.Is(err, ErrSuperseded) {
		m.logger.Debug("reconnect attempt failed", "error", err)
	}
}

// detachLocked cancels the pending timer and unhooks the current socket.
// The caller shuts the returned socket down outside the lock.
func (m *Manager) detachLocked() *socket {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerSeq++

	sock := m.sock
	m.sock = nil
	return sock
}

func (m *Manager) setStatusLocked(s Status) {
	if m.status == s {
		return
	}
	prev := m.status
	m.status = s

	m.logger.Info("stream status changed", "from", prev, "to", s)

	select {
	case m.statusCh <- s:
	default:
	}
}
