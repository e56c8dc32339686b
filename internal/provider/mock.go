package provider

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rickgao/quote-stream/internal/model"
)

// Synthetic price shape.
const (
	mockBasePrice = 150.0
	mockAmplitude = 10.0
	mockJitter    = 1.0
	mockPeriod    = 60 // ticks per full cycle
	mockMinVolume = 1000
	mockMaxVolume = 5000
)

// Mock emits a sinusoidal random walk for every subscribed symbol.
type Mock struct {
	*feed
	interval time.Duration
	rng      *rand.Rand
	tick     int64
}

// NewMock creates a mock provider.
func NewMock(symbols []string, interval time.Duration, bufferSize int, logger *slog.Logger) *Mock {
	if interval <= 0 {
		interval = time.Second
	}
	return &Mock{
		feed:     newFeed("mock", symbols, bufferSize, logger),
		interval: interval,
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
	}
}

// Start begins emitting quotes.
func (m *Mock) Start(ctx context.Context) error {
	m.start(ctx, m.run)
	return nil
}

func (m *Mock) run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case now := <-ticker.C:
			m.emitAll(now)
		}
	}
}

func (m *Mock) emitAll(now time.Time) {
	m.tick++
	for i, sym := range m.Symbols() {
		m.emit(m.next(sym, i, now))
	}
}

// next builds one quote. Each symbol gets its own phase so they do not move
// in lockstep.
func (m *Mock) next(symbol string, idx int, now time.Time) model.Quote {
	phase := 2*math.Pi*float64(m.tick)/mockPeriod + float64(idx)
	price := mockBasePrice + mockAmplitude*math.Sin(phase) + (m.rng.Float64()*2-1)*mockJitter

	return model.Quote{
		Symbol:     symbol,
		Price:      math.Round(price*100) / 100,
		Volume:     mockMinVolume + m.rng.Int64N(mockMaxVolume-mockMinVolume+1),
		Timestamp:  model.FormatTimestamp(now),
		ReceivedAt: now,
	}
}

var _ Provider = (*Mock)(nil)
