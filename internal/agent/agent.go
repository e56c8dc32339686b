package agent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/rickgao/quote-stream/internal/config"
)

// Commander sends one command and returns the agent's single response.
// Agent-side and transport failures are reported as an ok:false Response;
// the error return is reserved for commands that could not be sent at all.
type Commander interface {
	Send(ctx context.Context, cmd Command) (Response, error)
}

// New returns an HTTPCommander when an agent URL is configured (or mode is
// "http"), otherwise a ProcessCommander.
func New(cfg config.AgentConfig, logger *slog.Logger) Commander {
	if cfg.Mode == "http" || (cfg.Mode == "" && strings.TrimSpace(cfg.URL) != "") {
		return NewHTTPCommander(cfg.URL, cfg.Timeout, logger)
	}
	return NewProcessCommander(ProcessConfig{
		Command: cfg.Command,
		Script:  cfg.Script,
		Args:    cfg.Args,
		Dir:     cfg.Dir,
		Timeout: cfg.Timeout,
	}, logger)
}
