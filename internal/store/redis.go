package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rickgao/quote-stream/internal/config"
	"github.com/rickgao/quote-stream/internal/model"
)

const writeTimeout = 2 * time.Second

// DefaultQueueSize bounds pending snapshot writes.
const DefaultQueueSize = 1024

// SnapshotStore returns stored latest-quote payloads.
type SnapshotStore interface {
	Snapshots(ctx context.Context, symbols []string) ([][]byte, error)
}

// Compile-time check to ensure RedisStore implements SnapshotStore
var _ SnapshotStore = (*RedisStore)(nil)

// RedisStore writes quotes as JSON under {prefix}{SYMBOL}. OnQuote only
// enqueues; a single worker started by Start performs the writes.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger

	queue   chan model.Quote
	dropped atomic.Int64
	saved   atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a RedisStore.
type Option func(*RedisStore)

// WithQueueSize bounds the pending write queue. Quotes beyond it are dropped.
func WithQueueSize(n int) Option {
	return func(r *RedisStore) {
		if n > 0 {
			r.queue = make(chan model.Quote, n)
		}
	}
}

// Connect dials Redis and verifies the connection.
func Connect(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}

	return NewRedisStore(client, cfg.KeyPrefix, cfg.TTL, logger), nil
}

// NewRedisStore wraps an existing client. ttl 0 means keys never expire.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration, logger *slog.Logger, opts ...Option) *RedisStore {
	if prefix == "" {
		prefix = "quote:"
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
		queue:  make(chan model.Quote, DefaultQueueSize),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisStore) key(symbol string) string {
	return r.prefix + model.NormalizeSymbol(symbol)
}

// Save stores q as the latest quote for its symbol.
func (r *RedisStore) Save(ctx context.Context, q model.Quote) error {
	payload, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal quote: %w", err)
	}
	return r.client.Set(ctx, r.key(q.Symbol), payload, r.ttl).Err()
}

// OnQuote implements quote.Sink. It never blocks; when the queue is full the
// quote is dropped.
func (r *RedisStore) OnQuote(q model.Quote) {
	select {
	case r.queue <- q:
	default:
		if n := r.dropped.Add(1); n == 1 || n%1000 == 0 {
			r.logger.Warn("snapshot queue full, dropping", "dropped", n)
		}
	}
}

// Start begins writing queued quotes.
func (r *RedisStore) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.saveLoop()

	r.logger.Info("snapshot store started", "queue", cap(r.queue), "ttl", r.ttl)
	return nil
}

// Stop stops the worker and writes whatever is still queued using ctx.
func (r *RedisStore) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	for {
		select {
		case q := <-r.queue:
			r.save(ctx, q)
		default:
			r.logger.Info("snapshot store stopped", "saved", r.saved.Load(), "dropped", r.dropped.Load())
			return nil
		}
	}
}

// Stats returns the number of saved and dropped quotes.
func (r *RedisStore) Stats() (saved, dropped int64) {
	return r.saved.Load(), r.dropped.Load()
}

func (r *RedisStore) saveLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case q := <-r.queue:
			ctx, cancel := context.WithTimeout(r.ctx, writeTimeout)
			r.save(ctx, q)
			cancel()
		}
	}
}

func (r *RedisStore) save(ctx context.Context, q model.Quote) {
	if err := r.Save(ctx, q); err != nil {
		r.logger.Warn("failed to save snapshot", "symbol", q.Symbol, "err", err)
		return
	}
	r.saved.Add(1)
}

// Snapshots fetches stored payloads for symbols (MGET). Missing symbols are
// skipped.
func (r *RedisStore) Snapshots(ctx context.Context, symbols []string) ([][]byte, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	keys := make([]string, len(symbols))
	for i, sym := range symbols {
		keys[i] = r.key(sym)
	}

	results, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	var snapshots [][]byte
	for _, val := range results {
		if payload, ok := val.(string); ok && payload != "" {
			snapshots = append(snapshots, []byte(payload))
		}
	}
	return snapshots, nil
}

// Latest returns the stored quote for symbol.
func (r *RedisStore) Latest(ctx context.Context, symbol string) (model.Quote, bool, error) {
	payload, err := r.client.Get(ctx, r.key(symbol)).Bytes()
	if err == redis.Nil {
		return model.Quote{}, false, nil
	}
	if err != nil {
		return model.Quote{}, false, err
	}

	var q model.Quote
	if err := json.Unmarshal(payload, &q); err != nil {
		return model.Quote{}, false, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return q, true, nil
}

// Ping checks the connection.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
