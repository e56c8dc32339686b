package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// TestNewClient tests client construction with various options.
func TestNewClient(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		c := NewClient("http://relay.example.com/")

		if c.baseURL != "http://relay.example.com" {
			t.Errorf("baseURL = %q, want trailing slash trimmed", c.baseURL)
		}
		if c.httpClient.Timeout != 10*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 10*time.Second)
		}
		if c.maxRetries != 2 {
			t.Errorf("maxRetries = %d, want %d", c.maxRetries, 2)
		}
		if c.logger == nil {
			t.Error("logger should not be nil")
		}
	})

	t.Run("with options", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		hc := &http.Client{Timeout: 3 * time.Second}
		c := NewClient("http://relay",
			WithHTTPClient(hc),
			WithTimeout(15*time.Second),
			WithRetries(10, 500*time.Millisecond),
			WithLogger(logger),
		)

		if c.httpClient != hc || c.httpClient.Timeout != 15*time.Second {
			t.Errorf("http client not configured: %+v", c.httpClient)
		}
		if c.maxRetries != 10 || c.retryBackoff != 500*time.Millisecond {
			t.Errorf("retries = %d/%v", c.maxRetries, c.retryBackoff)
		}
		if c.logger != logger {
			t.Error("logger not set correctly")
		}
	})

	t.Run("nil logger keeps default", func(t *testing.T) {
		c := NewClient("http://relay", WithLogger(nil))
		if c.logger == nil {
			t.Error("logger should not be nil")
		}
	})
}

// TestAPIError tests the APIError type.
func TestAPIError(t *testing.T) {
	t.Run("Error method", func(t *testing.T) {
		err := newAPIError(404, []byte("symbol not found\n"))
		expected := "relay api error 404: symbol not found"
		if err.Error() != expected {
			t.Errorf("Error() = %q, want %q", err.Error(), expected)
		}
	})

	t.Run("empty body falls back to status", func(t *testing.T) {
		err := newAPIError(502, nil)
		if err.Message != "request failed with status 502" {
			t.Errorf("Message = %q", err.Message)
		}
	})

	t.Run("IsRetryable", func(t *testing.T) {
		tests := []struct {
			code     int
			expected bool
		}{
			{500, true},
			{503, true},
			{429, true},
			{400, false},
			{404, false},
			{422, false},
		}

		for _, tt := range tests {
			err := &APIError{StatusCode: tt.code}
			if got := err.IsRetryable(); got != tt.expected {
				t.Errorf("IsRetryable() for status %d = %v, want %v", tt.code, got, tt.expected)
			}
		}
	})
}

// TestSubscribe tests POST /stream.
func TestSubscribe(t *testing.T) {
	t.Run("sends symbol and channel", func(t *testing.T) {
		var got SubscribeRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != "/stream" {
				t.Errorf("request = %s %s, want POST /stream", r.Method, r.URL.Path)
			}
			if ct := r.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			json.NewDecoder(r.Body).Decode(&got)
			w.Write([]byte(`{"status":"subscribed"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		if err := c.Subscribe(context.Background(), SubscribeRequest{Symbol: "AAPL"}); err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
		if got.Symbol != "AAPL" || got.Channel != "quotes" {
			t.Errorf("body = %+v, want AAPL/quotes", got)
		}
	})

	t.Run("2xx without body is success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
		defer server.Close()

		if err := NewClient(server.URL).Subscribe(context.Background(), SubscribeRequest{Symbol: "MSFT", Channel: "trades"}); err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
	})

	t.Run("2xx with non-JSON body is success", func(t *testing.T) {
		for _, tc := range []struct {
			status int
			body   string
		}{
			{http.StatusAccepted, "queued"},
			{http.StatusOK, "OK"},
			{http.StatusOK, `{"status":`},
		} {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				io.WriteString(w, tc.body)
			}))

			err := NewClient(server.URL).Subscribe(context.Background(), SubscribeRequest{Symbol: "AAPL"})
			server.Close()
			if err != nil {
				t.Errorf("%d %q: Subscribe failed: %v", tc.status, tc.body, err)
			}
		}
	})

	t.Run("error carries status and body and is not retried", func(t *testing.T) {
		var attempts atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
			io.WriteString(w, "provider offline")
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(5, time.Millisecond))
		err := c.Subscribe(context.Background(), SubscribeRequest{Symbol: "TSLA"})

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("err = %v (%T), want *APIError", err, err)
		}
		if apiErr.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("StatusCode = %d", apiErr.StatusCode)
		}
		if apiErr.Message != "provider offline" {
			t.Errorf("Message = %q, want body text", apiErr.Message)
		}
		if attempts.Load() != 1 {
			t.Errorf("attempts = %d, want 1", attempts.Load())
		}
	})

	t.Run("transport failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := server.URL
		server.Close()

		err := NewClient(url).Subscribe(context.Background(), SubscribeRequest{Symbol: "AAPL"})
		if err == nil {
			t.Fatal("expected error")
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			t.Errorf("transport failure should not be an *APIError: %v", err)
		}
	})
}

// TestDoRequest tests the HTTP request functionality.
func TestDoRequest(t *testing.T) {
	t.Run("successful request", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Accept") != "application/json" {
				t.Errorf("Accept header = %q, want %q", r.Header.Get("Accept"), "application/json")
			}
			if r.Header.Get("Content-Type") != "" {
				t.Errorf("Content-Type should be empty without a body")
			}
			w.Write([]byte(`{"status": "ok"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		body, err := c.doRequest(context.Background(), http.MethodGet, "/test", nil, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(body) != `{"status": "ok"}` {
			t.Errorf("body = %q", string(body))
		}
	})

	t.Run("request with query parameters", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("symbol") != "AAPL" {
				t.Errorf("symbol = %q, want %q", r.URL.Query().Get("symbol"), "AAPL")
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		query := map[string][]string{"symbol": {"AAPL"}}
		if _, err := c.doRequest(context.Background(), http.MethodGet, "/test", query, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(100 * time.Millisecond)
		}))
		defer server.Close()

		c := NewClient(server.URL)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := c.doRequest(ctx, http.MethodGet, "/test", nil, nil)
		if err == nil || !strings.Contains(err.Error(), "context canceled") {
			t.Errorf("error should contain 'context canceled', got %v", err)
		}
	})
}

// TestDoWithRetry tests the retry logic.
func TestDoWithRetry(t *testing.T) {
	t.Run("retries on 5xx and succeeds", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&attempts, 1) < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Write([]byte(`{"ok": true}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(3, 10*time.Millisecond))
		body, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(body) != `{"ok": true}` {
			t.Errorf("body = %q", string(body))
		}
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})

	t.Run("does not retry on 4xx (except 429)", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(3, 10*time.Millisecond))
		if _, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil); err == nil {
			t.Fatal("expected error, got nil")
		}
		if attempts != 1 {
			t.Errorf("attempts = %d, want 1", attempts)
		}
	})

	t.Run("max retries exceeded", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(2, 10*time.Millisecond))
		_, err := c.doWithRetry(context.Background(), http.MethodGet, "/test", nil)
		if err == nil || !strings.Contains(err.Error(), "max retries exceeded") {
			t.Errorf("error should contain 'max retries exceeded', got %v", err)
		}
		// 1 initial + 2 retries = 3 attempts
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})
}

// TestHealth tests the banner health endpoints.
func TestHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/health/live":
			w.Write([]byte(`{"status":"ok"}`))
		case "/health/ready":
			w.Write([]byte(`{"status":"ok","summary":{"environment":"staging","provider":"mock"}}`))
		case "/health/agent":
			w.Write([]byte(`{"state":"idle","model_version":"ppo-default","updated_at":"2024-01-15T12:00:00.000Z"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c := NewClient(server.URL)
	ctx := context.Background()

	live, err := c.Live(ctx)
	if err != nil || live.Status != "ok" {
		t.Errorf("Live() = %+v, %v", live, err)
	}

	ready, err := c.Ready(ctx)
	if err != nil {
		t.Fatalf("Ready() error = %v", err)
	}
	if ready.Summary.Environment != "staging" || ready.Summary.Provider != "mock" {
		t.Errorf("Ready().Summary = %+v", ready.Summary)
	}

	agent, err := c.AgentStatus(ctx)
	if err != nil {
		t.Fatalf("AgentStatus() error = %v", err)
	}
	if agent.State != AgentIdle || agent.ModelVersion != "ppo-default" {
		t.Errorf("AgentStatus() = %+v", agent)
	}
}
