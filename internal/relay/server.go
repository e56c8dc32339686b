package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/rickgao/quote-stream/internal/agent"
	"github.com/rickgao/quote-stream/internal/api"
	"github.com/rickgao/quote-stream/internal/config"
	"github.com/rickgao/quote-stream/internal/metrics"
	"github.com/rickgao/quote-stream/internal/provider"
	"github.com/rickgao/quote-stream/internal/quote"
	"github.com/rickgao/quote-stream/internal/version"
)

// Deps are the components the server routes to. Agent may be nil, in which
// case the agent endpoints answer 503. Metrics may be nil, in which case
// /metrics is not served.
type Deps struct {
	Provider   provider.Provider
	Aggregator *quote.Aggregator
	Hub        *Hub
	Agent      agent.Commander
	Metrics    *metrics.Metrics
}

// Server is the relay HTTP and WebSocket server.
type Server struct {
	cfg    *config.Config
	deps   Deps
	agent  *agentTracker
	engine *gin.Engine
	logger *slog.Logger

	httpServer *http.Server
	addr       string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer builds the router. It does not start listening.
func NewServer(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		agent:  newAgentTracker(cfg.Agent.ModelVersion),
		logger: logger,
		ctx:    context.Background(),
	}
	s.engine = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr returns the bound listen address once started.
func (s *Server) Addr() string {
	return s.addr
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger), cors.New(corsConfig(s.cfg.Server.AllowedOrigins)))

	health := r.Group("/health")
	{
		health.GET("/live", s.handleLive)
		health.GET("/ready", s.handleReady)
		health.GET("/agent", s.handleAgentStatus)
	}

	// Alias of /health/agent.
	r.GET("/agent/status", s.handleAgentStatus)

	r.POST("/stream", s.handleStream)
	r.GET(QuotesEndpoint, s.handleWebSocket)

	if s.deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/quote", s.handleQuote)

		agentGroup := apiGroup.Group("/agent")
		agentGroup.POST("/step", s.handleAgentStep)
		agentGroup.POST("/train", s.handleAgentTrain)
		agentGroup.POST("/test", s.handleAgentTest)
	}

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "X-Request-ID"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// Start starts the hub, the provider, the quote pump and the HTTP listener.
func (s *Server) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.deps.Hub.Start(s.ctx); err != nil {
		return fmt.Errorf("start hub: %w", err)
	}
	if err := s.deps.Provider.Start(s.ctx); err != nil {
		return fmt.Errorf("start provider: %w", err)
	}

	s.wg.Add(1)
	go s.pump()

	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Server.Addr, err)
	}
	s.addr = ln.Addr().String()
	s.httpServer = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "err", err)
		}
	}()

	s.logger.Info("relay listening",
		"addr", s.addr,
		"provider", s.deps.Provider.Name(),
		"environment", s.cfg.Instance.Environment,
	)
	return nil
}

// Stop shuts down the listener, the provider and the hub.
func (s *Server) Stop(ctx context.Context) error {
	var errs []error

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	if err := s.deps.Provider.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop provider: %w", err))
	}
	if err := s.deps.Hub.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop hub: %w", err))
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}

	s.logger.Info("relay stopped")
	return errors.Join(errs...)
}

// pump feeds provider quotes into the aggregator until the provider closes
// its channel.
func (s *Server) pump() {
	defer s.wg.Done()

	quotes := s.deps.Provider.Quotes()
	for {
		select {
		case <-s.ctx.Done():
			return
		case q, ok := <-quotes:
			if !ok {
				return
			}
			s.deps.Aggregator.Accept(q)
		}
	}
}

func (s *Server) handleLive(c *gin.Context) {
	c.JSON(http.StatusOK, api.LiveResponse{Status: "ok"})
}

func (s *Server) handleReady(c *gin.Context) {
	resp := api.ReadyResponse{
		Status: "ok",
		Summary: api.ReadySummary{
			Environment: s.cfg.Instance.Environment,
			Version:     version.Version,
		},
	}
	if s.deps.Provider != nil {
		resp.Summary.Provider = s.deps.Provider.Name()
	} else {
		resp.Status = "degraded"
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleAgentStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.agent.status())
}

func (s *Server) handleWebSocket(c *gin.Context) {
	s.deps.Hub.ServeWS(c.Writer, c.Request)
}

// agentTracker records the state reported by GET /health/agent.
type agentTracker struct {
	mu           sync.Mutex
	state        string
	modelVersion string
	updatedAt    time.Time
	inflight     int
}

func newAgentTracker(modelVersion string) *agentTracker {
	return &agentTracker{
		state:        api.AgentIdle,
		modelVersion: modelVersion,
		updatedAt:    time.Now(),
	}
}

func (t *agentTracker) begin() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight++
	t.state = api.AgentRunning
	t.updatedAt = time.Now()
}

func (t *agentTracker) finish(ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight--
	switch {
	case !ok:
		t.state = api.AgentError
	case t.inflight > 0:
		t.state = api.AgentRunning
	default:
		t.state = api.AgentIdle
	}
	t.updatedAt = time.Now()
}

func (t *agentTracker) status() api.AgentStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return api.AgentStatus{
		State:        t.state,
		ModelVersion: t.modelVersion,
		UpdatedAt:    t.updatedAt.UTC().Format(time.RFC3339),
	}
}
