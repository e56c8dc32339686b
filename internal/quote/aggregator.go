package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rickgao/quote-stream/internal/api"
	"github.com/rickgao/quote-stream/internal/connection"
	"github.com/rickgao/quote-stream/internal/model"
)

// DefaultHistorySize is the per-symbol history capacity.
const DefaultHistorySize = 120

// Subscriber requests a stream for a symbol. *api.Client implements it.
type Subscriber interface {
	Subscribe(ctx context.Context, req api.SubscribeRequest) error
}

// Sink observes every accepted quote. OnQuote is called after the
// aggregator state is updated and must not block for long.
type Sink interface {
	OnQuote(q model.Quote)
}

// SinkFunc is a function adapter for Sink.
type SinkFunc func(model.Quote)

func (f SinkFunc) OnQuote(q model.Quote) {
	f(q)
}

// Config configures an Aggregator.
type Config struct {
	HistorySize int // Per-symbol history capacity (default 120)
}

// SubscribeState tracks subscription requests made through the aggregator.
type SubscribeState struct {
	Pending    int
	LastError  error
	Subscribed []string // Symbols with a successful request, sorted
}

// Stats contains aggregator statistics.
type Stats struct {
	Accepted int64
	Ignored  int64
	Symbols  int
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithSink registers a sink for accepted quotes.
func WithSink(s Sink) Option {
	return func(a *Aggregator) {
		if s != nil {
			a.sinks = append(a.sinks, s)
		}
	}
}

// Aggregator maintains latest values and history per symbol.
type Aggregator struct {
	cfg        Config
	subscriber Subscriber
	sinks      []Sink
	logger     *slog.Logger

	mu      sync.RWMutex
	latest  map[string]model.Quote
	history map[string]*History[model.Quote]
	last    model.Quote
	hasLast bool

	accepted int64
	ignored  int64

	subMu      sync.Mutex
	pending    int
	lastSubErr error
	subscribed map[string]struct{}
}

// NewAggregator creates an aggregator. subscriber may be nil if Subscribe
// is never called.
func NewAggregator(cfg Config, subscriber Subscriber, logger *slog.Logger, opts ...Option) *Aggregator {
	if cfg.HistorySize < 1 {
		cfg.HistorySize = DefaultHistorySize
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &Aggregator{
		cfg:        cfg,
		subscriber: subscriber,
		logger:     logger,
		latest:     make(map[string]model.Quote),
		history:    make(map[string]*History[model.Quote]),
		subscribed: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// wireQuote is the inbound quote shape. Fields are loose so that partial
// producers still decode.
type wireQuote struct {
	Symbol    string          `json:"symbol"`
	Price     float64         `json:"price"`
	Volume    float64         `json:"volume"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// HandleMessage implements connection.MessageHandler.
func (a *Aggregator) HandleMessage(msg connection.Message) {
	var w wireQuote
	if err := json.Unmarshal(msg.Data, &w); err != nil {
		a.logger.Debug("ignoring non-quote message", "error", err)
		a.ignore()
		return
	}

	a.Accept(model.Quote{
		Symbol:     w.Symbol,
		Price:      w.Price,
		Volume:     int64(math.Round(w.Volume)),
		Timestamp:  timestampText(w.Timestamp),
		ReceivedAt: msg.ReceivedAt,
	})
}

func timestampText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// Accept records q and returns false if it was ignored for lacking a symbol.
func (a *Aggregator) Accept(q model.Quote) bool {
	q.Symbol = model.NormalizeSymbol(q.Symbol)
	if q.Symbol == "" {
		a.ignore()
		return false
	}
	if q.ReceivedAt.IsZero() {
		q.ReceivedAt = time.Now()
	}

	a.mu.Lock()
	h, ok := a.history[q.Symbol]
	if !ok {
		h = NewHistory[model.Quote](a.cfg.HistorySize)
		a.history[q.Symbol] = h
	}
	h.Push(q)
	a.latest[q.Symbol] = q
	a.last = q
	a.hasLast = true
	a.accepted++
	a.mu.Unlock()

	for _, s := range a.sinks {
		s.OnQuote(q)
	}
	return true
}

func (a *Aggregator) ignore() {
	a.mu.Lock()
	a.ignored++
	a.mu.Unlock()
}

// Quotes returns the latest quote per symbol, sorted by symbol.
func (a *Aggregator) Quotes() []model.Quote {
	a.mu.RLock()
	out := make([]model.Quote, 0, len(a.latest))
	for _, q := range a.latest {
		out = append(out, q)
	}
	a.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Symbols returns every symbol seen, sorted.
func (a *Aggregator) Symbols() []string {
	a.mu.RLock()
	out := make([]string, 0, len(a.latest))
	for s := range a.latest {
		out = append(out, s)
	}
	a.mu.RUnlock()

	sort.Strings(out)
	return out
}

// History returns a copy of the symbol's history, oldest first.
func (a *Aggregator) History(symbol string) []model.Quote {
	a.mu.RLock()
	h, ok := a.history[model.NormalizeSymbol(symbol)]
	a.mu.RUnlock()
	if !ok {
		return nil
	}
	return h.Snapshot()
}

// Latest returns the most recent quote for symbol.
func (a *Aggregator) Latest(symbol string) (model.Quote, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	q, ok := a.latest[model.NormalizeSymbol(symbol)]
	return q, ok
}

// LastQuote returns the most recent quote across all symbols.
func (a *Aggregator) LastQuote() (model.Quote, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.last, a.hasLast
}

// Stats returns aggregator statistics.
func (a *Aggregator) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Stats{
		Accepted: a.accepted,
		Ignored:  a.ignored,
		Symbols:  len(a.latest),
	}
}

// Subscribe asks the relay to stream symbol on the quotes channel. A blank
// symbol is a no-op. Errors are returned as-is and not retried; quotes only
// ever arrive over the stream.
func (a *Aggregator) Subscribe(ctx context.Context, symbol string) error {
	symbol = model.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil
	}
	if a.subscriber == nil {
		return fmt.Errorf("subscribe %s: no subscriber configured", symbol)
	}

	a.subMu.Lock()
	a.pending++
	a.subMu.Unlock()

	err := a.subscriber.Subscribe(ctx, api.SubscribeRequest{
		Symbol:  symbol,
		Channel: model.ChannelQuotes,
	})

	a.subMu.Lock()
	a.pending--
	a.lastSubErr = err
	if err == nil {
		a.subscribed[symbol] = struct{}{}
	}
	a.subMu.Unlock()

	if err != nil {
		a.logger.Warn("subscribe failed", "symbol", symbol, "error", err)
		return err
	}
	a.logger.Info("subscribed", "symbol", symbol)
	return nil
}

// SubscribeState returns the subscription request state.
func (a *Aggregator) SubscribeState() SubscribeState {
	a.subMu.Lock()
	defer a.subMu.Unlock()

	subs := make([]string, 0, len(a.subscribed))
	for s := range a.subscribed {
		subs = append(subs, s)
	}
	sort.Strings(subs)

	return SubscribeState{
		Pending:    a.pending,
		LastError:  a.lastSubErr,
		Subscribed: subs,
	}
}

var _ connection.MessageHandler = (*Aggregator)(nil)
