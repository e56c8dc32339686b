package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// HTTPCommander sends commands to an agent worker over HTTP.
type HTTPCommander struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPCommander creates an HTTP-backed Commander posting to agentURL.
func NewHTTPCommander(agentURL string, timeout time.Duration, logger *slog.Logger) *HTTPCommander {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPCommander{
		url:        agentURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Send POSTs cmd as JSON and decodes the body as the response, whatever the
// status code. Transport and decode failures become ok:false.
func (h *HTTPCommander) Send(ctx context.Context, cmd Command) (Response, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return Response{}, fmt.Errorf("marshal command: %w", err)
	}

	id := uuid.New().String()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", id)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, fmt.Errorf("agent %s: %w", cmd.Type, ctx.Err())
		}
		h.logger.Warn("agent request failed", "id", id, "type", cmd.Type, "error", err)
		return Failed(err.Error()), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Failed(err.Error()), nil
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		h.logger.Warn("agent response unparseable", "id", id, "type", cmd.Type, "status", resp.StatusCode)
		return Failed(err.Error()), nil
	}

	h.logger.Debug("agent command done", "id", id, "type", cmd.Type, "ok", out.OK, "status", resp.StatusCode)
	return out, nil
}

// Health checks GET /healthz on the agent worker's host.
func (h *HTTPCommander) Health(ctx context.Context) error {
	u, err := url.Parse(h.url)
	if err != nil {
		return fmt.Errorf("parse agent url: %w", err)
	}
	u.Path = "/healthz"
	u.RawQuery = ""

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("agent health: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("agent health: status %d", resp.StatusCode)
	}
	return nil
}

var _ Commander = (*HTTPCommander)(nil)
