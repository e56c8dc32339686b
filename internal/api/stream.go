package api

import (
	"context"
	"encoding/json"

	"github.com/rickgao/quote-stream/internal/model"
)

// Subscribe asks the relay to start streaming req.Symbol on req.Channel
// (default "quotes"). Any 2xx is success whatever its body; anything else is
// an *APIError carrying the response body text. The request is sent once and
// never retried.
func (c *Client) Subscribe(ctx context.Context, req SubscribeRequest) error {
	if req.Channel == "" {
		req.Channel = model.ChannelQuotes
	}

	body, err := c.post(ctx, "/stream", req)
	if err != nil {
		c.logger.Debug("stream subscribe failed", "symbol", req.Symbol, "channel", req.Channel, "error", err)
		return err
	}

	// Status is informational only.
	var resp SubscribeResponse
	json.Unmarshal(body, &resp)

	c.logger.Debug("stream subscribed", "symbol", req.Symbol, "channel", req.Channel, "status", resp.Status)
	return nil
}
