package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
)

const parseFailure = "failed to parse agent response"

// ProcessConfig configures a ProcessCommander.
type ProcessConfig struct {
	Command string   // Interpreter, e.g. "python"
	Script  string   // Script path, passed as the first argument when set
	Args    []string // Extra arguments after Script
	Dir     string   // Working directory
	Env     []string // Extra environment, appended to the process environment
	Timeout time.Duration
}

// ProcessCommander runs one agent process per command.
type ProcessCommander struct {
	cfg    ProcessConfig
	logger *slog.Logger
}

// NewProcessCommander creates a subprocess-backed Commander.
func NewProcessCommander(cfg ProcessConfig, logger *slog.Logger) *ProcessCommander {
	if cfg.Command == "" {
		cfg.Command = "python"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessCommander{cfg: cfg, logger: logger}
}

// Send spawns the agent, writes cmd to its stdin and parses trimmed stdout
// as the response. When stdout does not parse, the response is ok:false
// with stderr (or a generic message) as the error.
func (p *ProcessCommander) Send(ctx context.Context, cmd Command) (Response, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return Response{}, fmt.Errorf("marshal command: %w", err)
	}

	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	id := uuid.New().String()
	start := time.Now()

	var args []string
	if p.cfg.Script != "" {
		args = append(args, p.cfg.Script)
	}
	args = append(args, p.cfg.Args...)

	c := exec.CommandContext(ctx, p.cfg.Command, args...)
	c.Dir = p.cfg.Dir
	c.Env = append(os.Environ(), p.cfg.Env...)
	c.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	runErr := c.Run()

	if ctxErr := ctx.Err(); ctxErr != nil {
		p.logger.Warn("agent command aborted", "id", id, "type", cmd.Type, "error", ctxErr)
		return Response{}, fmt.Errorf("agent %s: %w", cmd.Type, ctxErr)
	}

	var exitErr *exec.ExitError
	if runErr != nil && !errors.As(runErr, &exitErr) {
		// The process never ran.
		p.logger.Error("agent spawn failed", "id", id, "command", p.cfg.Command, "error", runErr)
		return Failed(runErr.Error()), nil
	}

	var resp Response
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &resp); err != nil {
		msg := stderr.String()
		if strings.TrimSpace(msg) == "" {
			msg = parseFailure
		}
		p.logger.Warn("agent response unparseable",
			"id", id,
			"type", cmd.Type,
			"exit_error", runErr,
			"stderr_bytes", stderr.Len(),
		)
		return Failed(msg), nil
	}

	p.logger.Debug("agent command done",
		"id", id,
		"type", cmd.Type,
		"ok", resp.OK,
		"duration", time.Since(start),
	)
	return resp, nil
}

var _ Commander = (*ProcessCommander)(nil)
