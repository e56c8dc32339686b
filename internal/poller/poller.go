package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/quote-stream/internal/api"
)

// HealthSource reports relay and agent health. *api.Client implements it.
type HealthSource interface {
	Live(ctx context.Context) (*api.LiveResponse, error)
	Ready(ctx context.Context) (*api.ReadyResponse, error)
	AgentStatus(ctx context.Context) (*api.AgentStatus, error)
}

// BannerHandler receives each new banner.
type BannerHandler interface {
	HandleBanner(b Banner)
}

// BannerHandlerFunc is a function adapter for BannerHandler.
type BannerHandlerFunc func(Banner)

func (f BannerHandlerFunc) HandleBanner(b Banner) {
	f(b)
}

// BackendHealth is the relay part of the banner.
type BackendHealth struct {
	Live        bool
	Ready       bool
	Status      string
	Environment string
	Provider    string
	Version     string
	Err         error
}

// AgentHealth is the agent part of the banner.
type AgentHealth struct {
	Reachable    bool
	State        string
	ModelVersion string
	UpdatedAt    string
	Err          error
}

// Banner is one health check result.
type Banner struct {
	Backend   BackendHealth
	Agent     AgentHealth
	CheckedAt time.Time
	Warning   string // Empty when everything is healthy
}

// Config holds poller configuration.
type Config struct {
	Interval time.Duration // Poll interval (default: 15s)
	Timeout  time.Duration // Per-check timeout (default: 5s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 15 * time.Second,
		Timeout:  5 * time.Second,
	}
}

// Poller periodically checks relay and agent health.
type Poller struct {
	cfg     Config
	source  HealthSource
	handler BannerHandler
	logger  *slog.Logger

	mu     sync.RWMutex
	banner Banner

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller. handler may be nil.
func New(cfg Config, source HealthSource, handler BannerHandler, logger *slog.Logger) *Poller {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		cfg:     cfg,
		source:  source,
		handler: handler,
		logger:  logger,
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("health poller started", "interval", p.cfg.Interval)
	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("health poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Banner returns the latest banner. CheckedAt is zero before the first check.
func (p *Poller) Banner() Banner {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.banner
}

func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.poll()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

func (p *Poller) poll() {
	b := p.Check(p.ctx)
	if p.ctx.Err() != nil {
		return
	}

	p.mu.Lock()
	prev := p.banner.Warning
	p.banner = b
	p.mu.Unlock()

	if b.Warning != prev {
		if b.Warning != "" {
			p.logger.Warn("health degraded", "warning", b.Warning)
		} else {
			p.logger.Info("health restored")
		}
	}

	if p.handler != nil {
		p.handler.HandleBanner(b)
	}
}

// Check runs all health checks once, concurrently.
func (p *Poller) Check(ctx context.Context) Banner {
	var (
		b     Banner
		live  *api.LiveResponse
		ready *api.ReadyResponse
		agent *api.AgentStatus
	)

	var g errgroup.Group
	g.Go(func() error {
		var err error
		live, err = withTimeout(ctx, p.cfg.Timeout, p.source.Live)
		return err
	})
	g.Go(func() error {
		var err error
		ready, err = withTimeout(ctx, p.cfg.Timeout, p.source.Ready)
		return err
	})
	g.Go(func() error {
		var err error
		agent, err = withTimeout(ctx, p.cfg.Timeout, p.source.AgentStatus)
		if err != nil {
			b.Agent.Err = err
		}
		return err
	})
	if err := g.Wait(); err != nil {
		p.logger.Debug("health check failed", "err", err)
	}

	b.CheckedAt = time.Now()

	switch {
	case live == nil && ready == nil:
		b.Backend.Err = fmt.Errorf("backend unreachable")
	case live != nil:
		b.Backend.Live = live.Status == "ok"
		b.Backend.Status = live.Status
	}
	if ready != nil {
		b.Backend.Ready = ready.Status == "ok"
		b.Backend.Status = ready.Status
		b.Backend.Environment = ready.Summary.Environment
		b.Backend.Provider = ready.Summary.Provider
		b.Backend.Version = ready.Summary.Version
	}
	if agent != nil {
		b.Agent.Reachable = true
		b.Agent.State = agent.State
		b.Agent.ModelVersion = agent.ModelVersion
		b.Agent.UpdatedAt = agent.UpdatedAt
	}

	b.Warning = warning(b)
	return b
}

func withTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(ctx)
}

func warning(b Banner) string {
	switch {
	case b.Backend.Err != nil:
		return "Backend unreachable. Quotes may be stale."
	case !b.Backend.Ready:
		return fmt.Sprintf("Backend not ready (status %q).", b.Backend.Status)
	case !b.Agent.Reachable:
		return "Agent status unavailable."
	case b.Agent.State == api.AgentError:
		return "Agent reporting an error."
	}
	return ""
}
