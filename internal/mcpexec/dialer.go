package mcpexec

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/angeloszaimis/tool-dispatcher/internal/failure"
)

const (
	clientName    = "tool-dispatcher"
	clientVersion = "1.0.0"
)

// Dialer opens MCP client sessions to the backends it knows the endpoint of.
type Dialer struct {
	endpoints map[string]string
	logger    *slog.Logger
}

func NewDialer(endpoints map[string]string, logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Dialer{
		endpoints: endpoints,
		logger:    logger,
	}
}

// Dial has the shape of pool.Dialer. The returned handle is an initialized
// *client.Client.
func (d *Dialer) Dial(ctx context.Context, backend string) (io.Closer, error) {
	return d.connect(ctx, backend)
}

func (d *Dialer) connect(ctx context.Context, backend string) (*client.Client, error) {
	endpoint, ok := d.endpoints[backend]
	if !ok {
		return nil, failure.New(failure.Executor, backend, fmt.Sprintf("unknown backend %s", backend))
	}

	c, err := client.NewStreamableHttpClient(endpoint)
	if err != nil {
		return nil, fmt.Errorf("create client for %s: %w", backend, err)
	}

	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("start client for %s: %w", backend, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    clientName,
		Version: clientVersion,
	}

	info, err := c.Initialize(ctx, initReq)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("initialize session with %s: %w", backend, err)
	}

	d.logger.Debug("MCP session established",
		slog.String("backend", backend),
		slog.String("server", info.ServerInfo.Name),
		slog.String("protocol", info.ProtocolVersion))

	return c, nil
}
