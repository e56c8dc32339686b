// streamtest connects to the relay quote stream and prints messages to console.
// Usage: go run ./cmd/streamtest --config configs/dashboard.local.yaml -subscribe AAPL,MSFT
//
// The stream endpoint is resolved like the dashboard does: stream.url, then
// $QUOTE_STREAM_URL, then stream.origin + stream.path.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/quote-stream/internal/agent"
	"github.com/rickgao/quote-stream/internal/api"
	"github.com/rickgao/quote-stream/internal/config"
	"github.com/rickgao/quote-stream/internal/connection"
	"github.com/rickgao/quote-stream/internal/quote"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	subscribe := flag.String("subscribe", "", "comma-separated symbols to POST /stream before streaming")
	agentQuote := flag.String("agent-quote", "", "ask the agent for one quote and exit")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadWithDefaults(*configPath)
		if err != nil {
			logger.Error("failed to load config", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	if *agentQuote != "" {
		os.Exit(runAgentQuote(ctx, cfg.Agent, *agentQuote, logger))
	}

	client := api.NewClient(cfg.API.RestURL, api.WithLogger(logger), api.WithTimeout(cfg.API.Timeout))
	agg := quote.NewAggregator(quote.Config{HistorySize: cfg.Stream.HistorySize}, client, logger)

	printer := connection.MessageHandlerFunc(func(msg connection.Message) {
		printMessage(msg, *verbose)
		agg.HandleMessage(msg)
	})

	connCfg := connection.DefaultManagerConfig()
	connCfg.URL = cfg.Stream.URL
	connCfg.URLEnv = cfg.Stream.URLEnv
	connCfg.Origin = cfg.Stream.Origin
	connCfg.Path = cfg.Stream.Path

	connMgr := connection.NewManager(connCfg, printer,
		logger, connection.WithErrorReporter(func(err error, raw []byte) {
			logger.Warn("unparseable message", "error", err, "bytes", len(raw))
		}))

	url, err := connMgr.ResolveURL()
	if err != nil {
		logger.Error("no stream endpoint", "error", err)
		os.Exit(1)
	}
	logger.Info("streaming from relay", "url", url)

	for _, sym := range strings.Split(*subscribe, ",") {
		if err := agg.Subscribe(ctx, sym); err != nil {
			logger.Error("subscribe failed", "symbol", sym, "error", err)
		}
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				connStats := connMgr.Stats()
				aggStats := agg.Stats()
				logger.Info("stats",
					"status", connStats.Status,
					"connects", connStats.Connects,
					"reconnects_scheduled", connStats.ReconnectsScheduled,
					"messages", connStats.Messages,
					"parse_errors", connStats.ParseErrors,
					"latency", connStats.Latency,
					"quotes_accepted", aggStats.Accepted,
					"quotes_ignored", aggStats.Ignored,
					"symbols", aggStats.Symbols,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	if err := connMgr.Run(ctx); err != nil {
		logger.Error("stream stopped", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

func printMessage(msg connection.Message, verbose bool) {
	if verbose {
		var out bytes.Buffer
		if err := json.Indent(&out, msg.Data, "", "  "); err == nil {
			fmt.Printf("[MSG] %s\n", out.String())
			return
		}
	}

	var head struct {
		Type   string  `json:"type"`
		Symbol string  `json:"symbol"`
		Price  float64 `json:"price"`
	}
	json.Unmarshal(msg.Data, &head)

	switch {
	case head.Symbol != "":
		fmt.Printf("[QUOTE] %s price=%.2f\n", head.Symbol, head.Price)
	case head.Type != "":
		fmt.Printf("[%s] %s\n", strings.ToUpper(head.Type), msg.Data)
	default:
		fmt.Printf("[MSG] %s\n", msg.Data)
	}
}

func runAgentQuote(ctx context.Context, cfg config.AgentConfig, symbol string, logger *slog.Logger) int {
	commander := agent.New(cfg, logger)

	resp, err := commander.Send(ctx, agent.QuoteCommand(strings.ToUpper(symbol)))
	if err != nil {
		logger.Error("agent send failed", "error", err)
		return 1
	}

	var q agent.QuoteResult
	if err := resp.Decode(&q); err != nil {
		logger.Error("agent quote failed", "error", err)
		return 1
	}

	fmt.Printf("[AGENT QUOTE] %s price=%.2f %s via %s\n", q.Symbol, q.Price, q.Currency, q.Provider)
	return 0
}
