package api

// SubscribeRequest is the body of POST /stream.
type SubscribeRequest struct {
	Symbol  string `json:"symbol"`
	Channel string `json:"channel"` // "quotes" or "trades"
}

// SubscribeResponse from POST /stream
type SubscribeResponse struct {
	Status string `json:"status"`
}

// LiveResponse from GET /health/live
type LiveResponse struct {
	Status string `json:"status"`
}

// ReadyResponse from GET /health/ready
type ReadyResponse struct {
	Status  string       `json:"status"`
	Summary ReadySummary `json:"summary"`
}

// ReadySummary describes the relay deployment.
type ReadySummary struct {
	Environment string `json:"environment"`
	Provider    string `json:"provider"`
	Version     string `json:"version,omitempty"`
}

// Agent states reported by GET /health/agent.
const (
	AgentIdle    = "idle"
	AgentRunning = "running"
	AgentError   = "error"
)

// AgentStatus from GET /health/agent
type AgentStatus struct {
	State        string `json:"state"`
	ModelVersion string `json:"model_version"`
	UpdatedAt    string `json:"updated_at"` // ISO 8601
}
