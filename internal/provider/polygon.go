package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rickgao/quote-stream/internal/model"
)

// DefaultCooldown applies on 429 without a usable Retry-After.
const DefaultCooldown = 60 * time.Second

// PolygonConfig configures the Polygon provider.
type PolygonConfig struct {
	BaseURL  string
	APIKey   string
	Symbols  []string
	Interval time.Duration
	Timeout  time.Duration
}

// RateLimitError is returned for a 429 response.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %v", e.RetryAfter)
}

// lastTradeResponse is GET /v2/last/trade/{ticker}.
type lastTradeResponse struct {
	Status  string `json:"status"`
	Results struct {
		Ticker    string  `json:"T"`
		Price     float64 `json:"p"`
		Size      int64   `json:"s"`
		Timestamp int64   `json:"t"` // SIP timestamp, ns
	} `json:"results"`
}

// Polygon polls the last-trade endpoint for every subscribed symbol.
type Polygon struct {
	*feed
	cfg        PolygonConfig
	httpClient *http.Client
	now        func() time.Time

	cooldownUntil time.Time // Only touched by the run goroutine
}

// NewPolygon creates a Polygon provider.
func NewPolygon(cfg PolygonConfig, bufferSize int, logger *slog.Logger) *Polygon {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.polygon.io"
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Polygon{
		feed:       newFeed("polygon", cfg.Symbols, bufferSize, logger),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		now:        time.Now,
	}
}

// Start begins polling.
func (p *Polygon) Start(ctx context.Context) error {
	p.start(ctx, p.run)
	return nil
}

func (p *Polygon) run() {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.pollAll()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollAll()
		}
	}
}

func (p *Polygon) pollAll() {
	if now := p.now(); now.Before(p.cooldownUntil) {
		p.logger.Debug("rate limit cooldown", "remaining", p.cooldownUntil.Sub(now))
		return
	}

	for _, sym := range p.Symbols() {
		if p.ctx.Err() != nil {
			return
		}

		q, err := p.fetch(p.ctx, sym)
		if err != nil {
			var rl *RateLimitError
			if errors.As(err, &rl) {
				p.cooldownUntil = p.now().Add(rl.RetryAfter)
				p.logger.Warn("polygon rate limited", "symbol", sym, "retry_after", rl.RetryAfter)
				return
			}
			p.logger.Warn("polygon fetch failed", "symbol", sym, "err", err)
			continue
		}
		p.emit(q)
	}
}

// fetch gets the last trade for symbol.
func (p *Polygon) fetch(ctx context.Context, symbol string) (model.Quote, error) {
	u := fmt.Sprintf("%s/v2/last/trade/%s?apiKey=%s", p.cfg.BaseURL, url.PathEscape(symbol), url.QueryEscape(p.cfg.APIKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return model.Quote{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return model.Quote{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.Quote{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return model.Quote{}, &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), p.now())}
	}
	if resp.StatusCode != http.StatusOK {
		return model.Quote{}, fmt.Errorf("polygon status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var ltr lastTradeResponse
	if err := json.Unmarshal(body, &ltr); err != nil {
		return model.Quote{}, fmt.Errorf("unmarshal response: %w", err)
	}
	if ltr.Results.Price <= 0 {
		return model.Quote{}, fmt.Errorf("no trade for %s (status %q)", symbol, ltr.Status)
	}

	received := p.now()
	ts := received
	if ltr.Results.Timestamp > 0 {
		ts = time.Unix(0, ltr.Results.Timestamp)
	}

	return model.Quote{
		Symbol:     symbol,
		Price:      ltr.Results.Price,
		Volume:     ltr.Results.Size,
		Timestamp:  model.FormatTimestamp(ts),
		ReceivedAt: received,
	}, nil
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return DefaultCooldown
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return DefaultCooldown
}

var _ Provider = (*Polygon)(nil)
