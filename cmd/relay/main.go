package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rickgao/quote-stream/internal/agent"
	"github.com/rickgao/quote-stream/internal/config"
	"github.com/rickgao/quote-stream/internal/database"
	"github.com/rickgao/quote-stream/internal/logging"
	"github.com/rickgao/quote-stream/internal/metrics"
	"github.com/rickgao/quote-stream/internal/model"
	"github.com/rickgao/quote-stream/internal/provider"
	"github.com/rickgao/quote-stream/internal/publisher"
	"github.com/rickgao/quote-stream/internal/quote"
	"github.com/rickgao/quote-stream/internal/relay"
	"github.com/rickgao/quote-stream/internal/store"
	"github.com/rickgao/quote-stream/internal/version"
	"github.com/rickgao/quote-stream/internal/writer"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults only when empty)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	logger.Info("starting relay",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"environment", cfg.Instance.Environment,
		"provider", cfg.Provider.Kind,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	m := metrics.New()

	var sinks []quote.Option

	// Redis snapshot cache
	var snapshots store.SnapshotStore
	if cfg.Redis.Enabled() {
		rs, err := store.Connect(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Error("failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
			os.Exit(1)
		}
		defer rs.Close()
		if err := rs.Start(ctx); err != nil {
			logger.Error("failed to start snapshot store", "error", err)
			os.Exit(1)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer stopCancel()
			rs.Stop(stopCtx)
		}()
		snapshots = rs
		sinks = append(sinks, quote.WithSink(rs))
		logger.Info("redis connected", "addr", cfg.Redis.Addr)
	}

	// NATS republish
	if cfg.NATS.Enabled() {
		pub := publisher.NewNATSPublisher(cfg.NATS, logger)
		if err := pub.Connect(); err != nil {
			logger.Error("failed to connect to nats", "url", cfg.NATS.URL, "error", err)
			os.Exit(1)
		}
		defer pub.Close()
		sinks = append(sinks, quote.WithSink(pub))
	}

	// Quote tape
	if cfg.Database.Timescale.Enabled() {
		logger.Info("connecting to database",
			"host", cfg.Database.Timescale.Host,
			"port", cfg.Database.Timescale.Port,
			"database", cfg.Database.Timescale.Name,
		)
		pool, err := database.Connect(ctx, cfg.Database.Timescale, "quote-relay")
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		qw := writer.NewQuoteWriter(writer.WriterConfig{
			BatchSize:     cfg.Writer.BatchSize,
			FlushInterval: cfg.Writer.FlushInterval,
			BufferSize:    cfg.Writer.BufferSize,
		}, pool, logger)
		if err := qw.EnsureSchema(ctx); err != nil {
			logger.Error("failed to ensure quote schema", "error", err)
			os.Exit(1)
		}
		if err := qw.Start(ctx); err != nil {
			logger.Error("failed to start quote writer", "error", err)
			os.Exit(1)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer stopCancel()
			qw.Stop(stopCtx)
		}()
		sinks = append(sinks, quote.WithSink(qw))
	}

	prov, err := provider.New(cfg.Provider, cfg.Writer.BufferSize, logger)
	if err != nil {
		logger.Error("failed to create provider", "error", err)
		os.Exit(1)
	}

	var agg *quote.Aggregator
	hub := relay.NewHub(relay.HubConfig{
		ClientBuffer:      cfg.Server.ClientBuffer,
		HeartbeatInterval: cfg.Server.HeartbeatInterval,
		PingInterval:      cfg.Server.PingInterval,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		Metrics:           m,
	}, snapshots, func() []string {
		return mergeSymbols(cfg.Provider.Symbols, agg.Symbols())
	}, logger)

	// The hub is the first sink so browsers see a quote before it is persisted.
	sinks = append([]quote.Option{quote.WithSink(hub)}, sinks...)
	agg = quote.NewAggregator(quote.Config{HistorySize: cfg.Stream.HistorySize}, nil, logger, sinks...)

	server := relay.NewServer(cfg, relay.Deps{
		Provider:   prov,
		Aggregator: agg,
		Hub:        hub,
		Agent:      agent.New(cfg.Agent, logger),
		Metrics:    m,
	}, logger)

	if err := server.Start(ctx); err != nil {
		logger.Error("failed to start relay", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warn("relay shutdown incomplete", "error", err)
	}

	stats := agg.Stats()
	hubStats := hub.Stats()
	logger.Info("relay stopped",
		"accepted", stats.Accepted,
		"ignored", stats.Ignored,
		"broadcast", hubStats.Broadcast,
		"dropped", hubStats.Dropped,
	)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.LoadAndValidate(path)
}

func mergeSymbols(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			s = model.NormalizeSymbol(s)
			if _, ok := seen[s]; ok || s == "" {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
