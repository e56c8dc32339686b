package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rickgao/quote-stream/internal/config"
	"github.com/rickgao/quote-stream/internal/model"
)

// Errors
var (
	ErrInvalidSymbol  = errors.New("symbol is required")
	ErrInvalidChannel = errors.New("channel must be quotes or trades")
)

// Provider is an upstream quote source.
type Provider interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Subscribe(symbol, channel string) error
	Quotes() <-chan model.Quote
	Name() string
}

// New creates the provider selected by cfg.Kind.
func New(cfg config.ProviderConfig, bufferSize int, logger *slog.Logger) (Provider, error) {
	switch cfg.Kind {
	case "", "mock":
		return NewMock(cfg.Symbols, cfg.Interval, bufferSize, logger), nil
	case "polygon":
		return NewPolygon(PolygonConfig{
			BaseURL:  cfg.PolygonURL,
			APIKey:   cfg.PolygonAPIKey,
			Symbols:  cfg.Symbols,
			Interval: cfg.Interval,
		}, bufferSize, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Kind)
	}
}

// feed holds the subscription set, output channel and lifecycle shared by
// both providers.
type feed struct {
	name   string
	logger *slog.Logger

	mu      sync.RWMutex
	symbols map[string]struct{}

	out       chan model.Quote
	dropped   atomic.Int64
	closeOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newFeed(name string, symbols []string, bufferSize int, logger *slog.Logger) *feed {
	if bufferSize < 1 {
		bufferSize = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	f := &feed{
		name:    name,
		logger:  logger.With("provider", name),
		symbols: make(map[string]struct{}),
		out:     make(chan model.Quote, bufferSize),
	}
	for _, s := range symbols {
		if s = model.NormalizeSymbol(s); s != "" {
			f.symbols[s] = struct{}{}
		}
	}
	return f
}

// Name returns the provider name.
func (f *feed) Name() string {
	return f.name
}

// Quotes returns the output channel. It is closed after Stop.
func (f *feed) Quotes() <-chan model.Quote {
	return f.out
}

// Subscribe adds symbol to the polled set.
func (f *feed) Subscribe(symbol, channel string) error {
	symbol = model.NormalizeSymbol(symbol)
	if symbol == "" {
		return ErrInvalidSymbol
	}
	if channel != "" && channel != model.ChannelQuotes && channel != model.ChannelTrades {
		return ErrInvalidChannel
	}

	f.mu.Lock()
	_, exists := f.symbols[symbol]
	f.symbols[symbol] = struct{}{}
	f.mu.Unlock()

	if !exists {
		f.logger.Info("symbol subscribed", "symbol", symbol, "channel", channel)
	}
	return nil
}

// Symbols returns the subscribed symbols, sorted.
func (f *feed) Symbols() []string {
	f.mu.RLock()
	out := make([]string, 0, len(f.symbols))
	for s := range f.symbols {
		out = append(out, s)
	}
	f.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Dropped returns the number of quotes dropped on a full channel.
func (f *feed) Dropped() int64 {
	return f.dropped.Load()
}

// emit never blocks; a full channel drops the quote.
func (f *feed) emit(q model.Quote) {
	select {
	case f.out <- q:
	default:
		if n := f.dropped.Add(1); n == 1 || n%1000 == 0 {
			f.logger.Warn("quote channel full, dropping", "dropped", n)
		}
	}
}

func (f *feed) start(ctx context.Context, run func()) {
	f.ctx, f.cancel = context.WithCancel(ctx)
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		run()
	}()
	f.logger.Info("provider started", "symbols", f.Symbols())
}

func (f *feed) Stop(ctx context.Context) error {
	if f.cancel == nil {
		return nil
	}
	f.cancel()

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		f.closeOnce.Do(func() { close(f.out) })
		f.logger.Info("provider stopped", "dropped", f.dropped.Load())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
