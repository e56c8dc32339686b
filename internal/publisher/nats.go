package publisher

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"github.com/rickgao/quote-stream/internal/config"
	"github.com/rickgao/quote-stream/internal/model"
)

// ErrNotConnected is returned by Publish while the connection is down.
var ErrNotConnected = errors.New("nats client not connected")

// conn is the subset of *nats.Conn used by the publisher.
type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSPublisher publishes quotes to NATS.
type NATSPublisher struct {
	cfg    config.NATSConfig
	logger *slog.Logger

	mu        sync.RWMutex
	nc        conn
	connected bool

	published atomic.Int64
	failed    atomic.Int64
}

// NewNATSPublisher creates an unconnected publisher.
func NewNATSPublisher(cfg config.NATSConfig, logger *slog.Logger) *NATSPublisher {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "market"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPublisher{
		cfg:    cfg,
		logger: logger.With("component", "nats", "client_id", cfg.ClientID),
	}
}

// Connect dials NATS. Reconnects are handled by the client library.
func (p *NATSPublisher) Connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.nc != nil && p.connected {
		return nil
	}

	opts := []nats.Option{
		nats.Name(p.cfg.ClientID),
		nats.Timeout(p.cfg.ConnectTimeout),
		nats.ReconnectWait(p.cfg.ReconnectWait),
		nats.MaxReconnects(p.cfg.MaxReconnects),

		nats.RetryOnFailedConnect(true),
		nats.ConnectHandler(func(nc *nats.Conn) {
			p.logger.Info("nats connected", "url", nc.ConnectedUrl())
			p.setConnected(true)
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			p.logger.Info("nats connection closed")
			p.setConnected(false)
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			p.logger.Warn("nats disconnected, attempting reconnect", "err", err)
			p.setConnected(false)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			p.logger.Info("nats reconnected", "url", nc.ConnectedUrl())
			p.setConnected(true)
		}),
	}

	nc, err := nats.Connect(p.cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("nats connection failed: %w", err)
	}

	p.nc = nc
	p.connected = nc.IsConnected()
	p.logger.Info("nats publisher ready", "url", p.cfg.URL, "connected", p.connected)
	return nil
}

func (p *NATSPublisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

// IsConnected reports the connection state.
func (p *NATSPublisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.nc != nil && p.connected
}

// Subject returns the subject for symbol.
func (p *NATSPublisher) Subject(symbol string) string {
	return fmt.Sprintf("%s.%s.%s", p.cfg.SubjectPrefix, model.ChannelQuotes, model.NormalizeSymbol(symbol))
}

// Publish sends q to its subject.
func (p *NATSPublisher) Publish(q model.Quote) error {
	p.mu.RLock()
	nc, connected := p.nc, p.connected
	p.mu.RUnlock()

	if nc == nil || !connected {
		return ErrNotConnected
	}

	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal quote: %w", err)
	}
	return nc.Publish(p.Subject(q.Symbol), data)
}

// OnQuote implements quote.Sink.
func (p *NATSPublisher) OnQuote(q model.Quote) {
	if err := p.Publish(q); err != nil {
		if n := p.failed.Add(1); n == 1 || n%1000 == 0 {
			p.logger.Warn("failed to publish quote", "symbol", q.Symbol, "failed", n, "err", err)
		}
		return
	}
	p.published.Add(1)
}

// Stats returns publish counters.
func (p *NATSPublisher) Stats() (published, failed int64) {
	return p.published.Load(), p.failed.Load()
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() error {
	p.mu.Lock()
	nc := p.nc
	p.nc = nil
	p.connected = false
	p.mu.Unlock()

	if nc == nil {
		return nil
	}
	return nc.Drain()
}
