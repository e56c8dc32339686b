package writer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/quote-stream/internal/model"
)

// Schema creates the quotes table. The hypertable call is skipped when the
// timescaledb extension is absent.
const Schema = `
CREATE TABLE IF NOT EXISTS quotes (
	ts          BIGINT           NOT NULL,
	received_at BIGINT           NOT NULL,
	symbol      TEXT             NOT NULL,
	price       DOUBLE PRECISION NOT NULL,
	volume      BIGINT           NOT NULL,
	PRIMARY KEY (symbol, ts)
);
DO $$
BEGIN
	IF EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'timescaledb') THEN
		PERFORM create_hypertable('quotes', 'ts', chunk_time_interval => 86400000000, if_not_exists => TRUE);
	END IF;
END $$;
`

// QuoteWriter consumes quotes and writes them to the quotes table.
type QuoteWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	// Input from the aggregator
	input   chan model.Quote
	dropped atomic.Int64

	// Database
	db DB

	// Batching
	batch       []quoteRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics WriterMetrics
}

// NewQuoteWriter creates a new QuoteWriter.
func NewQuoteWriter(cfg WriterConfig, db DB, logger *slog.Logger) *QuoteWriter {
	def := DefaultWriterConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = def.BufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QuoteWriter{
		cfg:    cfg,
		input:  make(chan model.Quote, cfg.BufferSize),
		db:     db,
		logger: logger,
		batch:  make([]quoteRow, 0, cfg.BatchSize),
		ctx:    context.Background(),
	}
}

// EnsureSchema creates the quotes table if needed.
func (w *QuoteWriter) EnsureSchema(ctx context.Context) error {
	_, err := w.db.Exec(ctx, Schema)
	return err
}

// OnQuote implements quote.Sink. It never blocks; quotes beyond the
// buffer are dropped.
func (w *QuoteWriter) OnQuote(q model.Quote) {
	select {
	case w.input <- q:
	default:
		if n := w.dropped.Add(1); n == 1 || n%1000 == 0 {
			w.logger.Warn("quote writer buffer full, dropping", "dropped", n)
		}
	}
}

// Start begins consuming quotes and writing to the database.
func (w *QuoteWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	// Consumer goroutine
	w.wg.Add(1)
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("quote writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer, draining queued quotes.
func (w *QuoteWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping quote writer")

	if w.cancel != nil {
		w.cancel()
	}

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("quote writer stopped")
	case <-ctx.Done():
		w.logger.Warn("quote writer stop timed out")
	}

	// Drain what is queued, then a final flush on the caller's context.
	w.drain()
	w.flush(ctx)

	return nil
}

// Stats returns current metrics.
func (w *QuoteWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	m := w.metrics
	m.Dropped = w.dropped.Load()
	return m
}

// consumeLoop reads from the input queue and accumulates batches.
func (w *QuoteWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case q := <-w.input:
			w.handleQuote(q)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *QuoteWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

func (w *QuoteWriter) drain() {
	for {
		select {
		case q := <-w.input:
			w.batchMu.Lock()
			w.batch = append(w.batch, w.transform(q))
			w.batchMu.Unlock()
		default:
			return
		}
	}
}

// handleQuote transforms and adds a quote to the batch.
func (w *QuoteWriter) handleQuote(q model.Quote) {
	row := w.transform(q)

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

// transform converts a Quote to a quoteRow. A missing or unparseable
// producer timestamp falls back to the receipt time.
func (w *QuoteWriter) transform(q model.Quote) quoteRow {
	received := q.ReceivedAt
	if received.IsZero() {
		received = time.Now()
	}
	ts, ok := model.ParseTimestampString(q.Timestamp)
	if !ok {
		ts = received
	}
	return quoteRow{
		Ts:         ts.UnixMicro(),
		ReceivedAt: received.UnixMicro(),
		Symbol:     model.NormalizeSymbol(q.Symbol),
		Price:      q.Price,
		Volume:     q.Volume,
	}
}

// flush writes the current batch to the database.
func (w *QuoteWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]quoteRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed quotes",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *QuoteWriter) batchInsert(ctx context.Context, rows []quoteRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO quotes (ts, received_at, symbol, price, volume)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (symbol, ts) DO NOTHING
		`, r.Ts, r.ReceivedAt, r.Symbol, r.Price, r.Volume)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
