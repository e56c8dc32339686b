package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/quote-stream/internal/api"
	"github.com/rickgao/quote-stream/internal/connection"
	"github.com/rickgao/quote-stream/internal/model"
)

type fakeSubscriber struct {
	mu    sync.Mutex
	calls []api.SubscribeRequest
	err   error
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, req api.SubscribeRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return f.err
}

func (f *fakeSubscriber) Calls() []api.SubscribeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]api.SubscribeRequest(nil), f.calls...)
}

func msg(t *testing.T, v any) connection.Message {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return connection.Message{Data: data, ReceivedAt: time.Now()}
}

func TestAggregator_HandleMessage(t *testing.T) {
	a := NewAggregator(Config{}, nil, nil)

	a.HandleMessage(msg(t, map[string]any{
		"symbol":    "aapl",
		"price":     189.5,
		"volume":    1200,
		"timestamp": "2024-01-15T14:30:00.000Z",
	}))

	q, ok := a.Latest("AAPL")
	if !ok {
		t.Fatal("Latest(AAPL) not found")
	}
	if q.Symbol != "AAPL" || q.Price != 189.5 || q.Volume != 1200 {
		t.Errorf("Latest(AAPL) = %+v", q)
	}
	if q.Timestamp != "2024-01-15T14:30:00.000Z" {
		t.Errorf("Timestamp = %q", q.Timestamp)
	}
	if q.ReceivedAt.IsZero() {
		t.Error("ReceivedAt not set")
	}

	last, ok := a.LastQuote()
	if !ok || last.Symbol != "AAPL" {
		t.Errorf("LastQuote() = %+v, %v", last, ok)
	}

	// Lookups are case-insensitive.
	if _, ok := a.Latest(" aapl "); !ok {
		t.Error("Latest(\" aapl \") not found")
	}
}

func TestAggregator_NumericTimestampKept(t *testing.T) {
	a := NewAggregator(Config{}, nil, nil)
	a.HandleMessage(connection.Message{
		Data: json.RawMessage(`{"symbol":"MSFT","price":410.1,"volume":10,"timestamp":1705329000000}`),
	})

	q, _ := a.Latest("MSFT")
	if q.Timestamp != "1705329000000" {
		t.Errorf("Timestamp = %q, want raw epoch text", q.Timestamp)
	}
}

func TestAggregator_IgnoresMissingSymbol(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing", `{"price":1,"volume":1}`},
		{"empty", `{"symbol":"","price":1}`},
		{"whitespace", `{"symbol":"   ","price":1}`},
		{"wrong type", `{"symbol":42,"price":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAggregator(Config{}, nil, nil)
			a.HandleMessage(connection.Message{Data: json.RawMessage(tt.data)})

			if len(a.Quotes()) != 0 {
				t.Errorf("Quotes() = %v, want empty", a.Quotes())
			}
			if _, ok := a.LastQuote(); ok {
				t.Error("LastQuote() set by ignored message")
			}
			if a.Stats().Ignored != 1 {
				t.Errorf("Ignored = %d, want 1", a.Stats().Ignored)
			}
		})
	}
}

func TestAggregator_HistoryBounded(t *testing.T) {
	a := NewAggregator(Config{}, nil, nil)

	for i := 0; i < 125; i++ {
		a.Accept(model.Quote{Symbol: "TSLA", Price: float64(i)})
	}

	h := a.History("TSLA")
	if len(h) != 120 {
		t.Fatalf("len(History) = %d, want 120", len(h))
	}
	if h[0].Price != 5 {
		t.Errorf("oldest price = %v, want 5", h[0].Price)
	}

	latest, _ := a.Latest("TSLA")
	if latest != h[len(h)-1] {
		t.Errorf("Latest = %+v, want history tail %+v", latest, h[len(h)-1])
	}
}

func TestAggregator_CustomHistorySize(t *testing.T) {
	a := NewAggregator(Config{HistorySize: 3}, nil, nil)
	for i := 0; i < 10; i++ {
		a.Accept(model.Quote{Symbol: "A", Price: float64(i)})
	}
	if got := len(a.History("A")); got != 3 {
		t.Errorf("len(History) = %d, want 3", got)
	}
}

func TestAggregator_SortedViews(t *testing.T) {
	a := NewAggregator(Config{}, nil, nil)
	for _, s := range []string{"tsla", "AAPL", "msft", "aapl"} {
		a.Accept(model.Quote{Symbol: s, Price: 1})
	}

	syms := a.Symbols()
	want := []string{"AAPL", "MSFT", "TSLA"}
	if fmt.Sprint(syms) != fmt.Sprint(want) {
		t.Errorf("Symbols() = %v, want %v", syms, want)
	}

	quotes := a.Quotes()
	for i, q := range quotes {
		if q.Symbol != want[i] {
			t.Errorf("Quotes()[%d].Symbol = %q, want %q", i, q.Symbol, want[i])
		}
	}
	if got := len(a.History("AAPL")); got != 2 {
		t.Errorf("len(History(AAPL)) = %d, want 2", got)
	}
}

func TestAggregator_HistoryUnknownSymbol(t *testing.T) {
	a := NewAggregator(Config{}, nil, nil)
	if h := a.History("NOPE"); h != nil {
		t.Errorf("History(NOPE) = %v, want nil", h)
	}
}

func TestAggregator_Sinks(t *testing.T) {
	var got []model.Quote
	a := NewAggregator(Config{}, nil, nil, WithSink(SinkFunc(func(q model.Quote) {
		got = append(got, q)
	})), WithSink(nil))

	a.Accept(model.Quote{Symbol: "aapl", Price: 1})
	a.Accept(model.Quote{Symbol: "", Price: 2})
	a.Accept(model.Quote{Symbol: "msft", Price: 3})

	if len(got) != 2 {
		t.Fatalf("sink saw %d quotes, want 2", len(got))
	}
	if got[0].Symbol != "AAPL" || got[1].Symbol != "MSFT" {
		t.Errorf("sink quotes = %+v", got)
	}
}

func TestAggregator_Subscribe(t *testing.T) {
	t.Run("normalizes and uses quotes channel", func(t *testing.T) {
		sub := &fakeSubscriber{}
		a := NewAggregator(Config{}, sub, nil)

		if err := a.Subscribe(context.Background(), "  nvda "); err != nil {
			t.Fatalf("Subscribe() error = %v", err)
		}

		calls := sub.Calls()
		if len(calls) != 1 {
			t.Fatalf("calls = %d, want 1", len(calls))
		}
		if calls[0].Symbol != "NVDA" || calls[0].Channel != model.ChannelQuotes {
			t.Errorf("request = %+v", calls[0])
		}

		st := a.SubscribeState()
		if st.Pending != 0 || st.LastError != nil || len(st.Subscribed) != 1 || st.Subscribed[0] != "NVDA" {
			t.Errorf("SubscribeState() = %+v", st)
		}
		// No quote is synthesized.
		if len(a.Quotes()) != 0 {
			t.Error("Subscribe() created a quote")
		}
	})

	t.Run("blank symbol is a no-op", func(t *testing.T) {
		sub := &fakeSubscriber{}
		a := NewAggregator(Config{}, sub, nil)

		for _, s := range []string{"", "   ", "\t"} {
			if err := a.Subscribe(context.Background(), s); err != nil {
				t.Errorf("Subscribe(%q) error = %v", s, err)
			}
		}
		if len(sub.Calls()) != 0 {
			t.Errorf("calls = %d, want 0", len(sub.Calls()))
		}
	})

	t.Run("error returned and recorded", func(t *testing.T) {
		apiErr := &api.APIError{StatusCode: 400, Message: "unknown symbol"}
		sub := &fakeSubscriber{err: apiErr}
		a := NewAggregator(Config{}, sub, nil)

		err := a.Subscribe(context.Background(), "ZZZZ")
		var got *api.APIError
		if !errors.As(err, &got) || got.Message != "unknown symbol" {
			t.Fatalf("Subscribe() error = %v, want the APIError", err)
		}
		if len(sub.Calls()) != 1 {
			t.Errorf("calls = %d, want 1 (no retry)", len(sub.Calls()))
		}

		st := a.SubscribeState()
		if st.LastError != apiErr || len(st.Subscribed) != 0 {
			t.Errorf("SubscribeState() = %+v", st)
		}
	})

	t.Run("no subscriber", func(t *testing.T) {
		a := NewAggregator(Config{}, nil, nil)
		if err := a.Subscribe(context.Background(), "AAPL"); err == nil {
			t.Error("expected error without subscriber")
		}
	})
}

func TestAggregator_ConcurrentAccess(t *testing.T) {
	a := NewAggregator(Config{HistorySize: 10}, nil, nil)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(2)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				a.Accept(model.Quote{Symbol: fmt.Sprintf("S%d", g), Price: float64(i)})
			}
		}(g)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				a.Quotes()
				a.History("S0")
			}
		}()
	}
	wg.Wait()

	if a.Stats().Accepted != 800 || a.Stats().Symbols != 4 {
		t.Errorf("Stats() = %+v", a.Stats())
	}
}
