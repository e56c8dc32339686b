package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/quote-stream/internal/api"
	"github.com/rickgao/quote-stream/internal/config"
	"github.com/rickgao/quote-stream/internal/connection"
	"github.com/rickgao/quote-stream/internal/logging"
	"github.com/rickgao/quote-stream/internal/poller"
	"github.com/rickgao/quote-stream/internal/quote"
	"github.com/rickgao/quote-stream/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults only when empty)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Logs go to stderr so the table owns stdout.
	logger := logging.New(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	logger.Info("starting dashboard",
		"build", version.String(),
		"rest_url", cfg.API.RestURL,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := api.NewClient(
		cfg.API.RestURL,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, cfg.API.RetryBackoff),
	)

	agg := quote.NewAggregator(quote.Config{HistorySize: cfg.Stream.HistorySize}, client, logger)

	manager := connection.NewManager(connection.ManagerConfig{
		URL:            cfg.Stream.URL,
		URLEnv:         cfg.Stream.URLEnv,
		Origin:         cfg.Stream.Origin,
		Path:           cfg.Stream.Path,
		ReconnectDelay: cfg.Stream.ReconnectDelay,
		Client: connection.ClientConfig{
			HandshakeTimeout: cfg.Stream.HandshakeTimeout,
			PingTimeout:      cfg.Stream.PingTimeout,
			WriteTimeout:     cfg.Stream.WriteTimeout,
			BufferSize:       cfg.Stream.BufferSize,
		},
	}, agg, logger)

	health := poller.New(poller.Config{
		Interval: cfg.Health.Interval,
		Timeout:  cfg.Health.Timeout,
	}, client, poller.BannerHandlerFunc(func(b poller.Banner) {
		if b.Warning != "" {
			logger.Warn("health banner", "warning", b.Warning)
		}
	}), logger)

	if err := health.Start(ctx); err != nil {
		logger.Error("failed to start health poller", "error", err)
		os.Exit(1)
	}
	defer health.Stop(context.Background())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return manager.Run(gctx)
	})

	g.Go(func() error {
		for _, sym := range cfg.Stream.Symbols {
			if err := agg.Subscribe(gctx, sym); err != nil {
				logger.Warn("subscribe failed", "symbol", sym, "error", err)
			}
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(cfg.Stream.RenderInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				render(os.Stdout, manager, agg, health.Banner())
			}
		}
	})

	if err := g.Wait(); err != nil {
		logger.Error("dashboard stopped with error", "error", err)
		os.Exit(1)
	}

	stats := manager.Stats()
	logger.Info("dashboard stopped",
		"connects", stats.Connects,
		"messages", stats.Messages,
		"parse_errors", stats.ParseErrors,
	)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.LoadAndValidate(path)
}

// render writes one frame: status line, optional banner warning, then the
// latest quote per symbol.
func render(w io.Writer, m *connection.Manager, agg *quote.Aggregator, banner poller.Banner) {
	status := string(m.Status())
	if latency, ok := m.Latency(); ok {
		status += fmt.Sprintf("  latency %s", latency.Round(time.Millisecond))
	}
	fmt.Fprintf(w, "\n[%s] stream %s\n", time.Now().Format(time.TimeOnly), status)

	if banner.Warning != "" {
		fmt.Fprintf(w, "!! %s\n", banner.Warning)
	}
	if st := agg.SubscribeState(); st.LastError != nil {
		fmt.Fprintf(w, "!! subscribe: %v\n", st.LastError)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "SYMBOL\tPRICE\tVOLUME\tPOINTS\tTIMESTAMP\t")
	for _, q := range agg.Quotes() {
		fmt.Fprintf(tw, "%s\t%.2f\t%d\t%d\t%s\t\n",
			q.Symbol, q.Price, q.Volume, len(agg.History(q.Symbol)), q.Timestamp)
	}
	tw.Flush()
}
