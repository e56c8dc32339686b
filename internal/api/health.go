package api

import "context"

// Live calls GET /health/live.
func (c *Client) Live(ctx context.Context) (*LiveResponse, error) {
	var resp LiveResponse
	if err := c.get(ctx, "/health/live", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ready calls GET /health/ready.
func (c *Client) Ready(ctx context.Context) (*ReadyResponse, error) {
	var resp ReadyResponse
	if err := c.get(ctx, "/health/ready", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AgentStatus calls GET /health/agent.
func (c *Client) AgentStatus(ctx context.Context) (*AgentStatus, error) {
	var resp AgentStatus
	if err := c.get(ctx, "/health/agent", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
