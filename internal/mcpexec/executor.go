package mcpexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/angeloszaimis/tool-dispatcher/internal/failure"
	"github.com/angeloszaimis/tool-dispatcher/internal/pool"
	"github.com/angeloszaimis/tool-dispatcher/internal/toolcall"
)

// Executor calls tools on MCP backends. It uses the pooled session found in
// the call context and opens a one-off session when there is none.
type Executor struct {
	dialer *Dialer
	logger *slog.Logger
}

func NewExecutor(dialer *Dialer, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{
		dialer: dialer,
		logger: logger,
	}
}

func (e *Executor) Execute(ctx context.Context, req toolcall.Request) (any, error) {
	c, closeFn, err := e.session(ctx, req.Backend)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	callReq := mcp.CallToolRequest{}
	callReq.Params.Name = req.Name
	callReq.Params.Arguments = req.Arguments

	result, err := c.CallTool(ctx, callReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, failure.Wrap(failure.Connection, req.Backend, fmt.Errorf("call %s on %s: %w", req.Name, req.Backend, err))
	}

	text := contentText(result.Content)
	if result.IsError {
		if text == "" {
			text = fmt.Sprintf("tool %s reported an error", req.Name)
		}
		return nil, failure.New(failure.Executor, req.Backend, text)
	}

	return decode(text), nil
}

func (e *Executor) session(ctx context.Context, backend string) (*client.Client, func(), error) {
	if conn, ok := pool.ConnectionFrom(ctx); ok && conn.Backend() == backend {
		c, ok := conn.Handle().(*client.Client)
		if !ok {
			return nil, nil, failure.New(failure.Executor, backend, "pooled connection is not an MCP session")
		}
		return c, func() {}, nil
	}

	c, err := e.dialer.connect(ctx, backend)
	if err != nil {
		var fe *failure.Error
		if errors.As(err, &fe) {
			return nil, nil, err
		}
		return nil, nil, failure.Wrap(failure.Connection, backend, err)
	}

	return c, func() {
		if err := c.Close(); err != nil {
			e.logger.Debug("Failed to close one-off MCP session",
				slog.String("backend", backend),
				slog.Any("err", err))
		}
	}, nil
}

func contentText(contents []mcp.Content) string {
	var parts []string
	for _, c := range contents {
		switch tc := c.(type) {
		case mcp.TextContent:
			parts = append(parts, tc.Text)
		case *mcp.TextContent:
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// decode returns JSON text as a decoded value and anything else unchanged.
func decode(text string) any {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return text
	}
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return text
	}

	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return text
	}
	return v
}
