// Mockserver is an MCP tool server used to exercise the dispatcher locally.
// It serves streamable HTTP MCP on /mcp and a plain /health endpoint.
//
// Usage:
//
//	go run ./scripts/mockserver -port 8081 -name github
//	go run ./scripts/mockserver -port 8082 -name jira -fail-rate 0.3 -latency 200ms
//
// Tools:
//   - echo returns its message argument
//   - slow sleeps for the requested duration before answering
//   - flaky fails with the configured probability
//   - whoami returns a JSON document naming the server
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/angeloszaimis/tool-dispatcher/internal/httpserver"
	"github.com/angeloszaimis/tool-dispatcher/pkg/logger"
)

func main() {
	var (
		port     = flag.Int("port", 8081, "Port to listen on")
		name     = flag.String("name", "mock", "Server name reported by whoami")
		failRate = flag.Float64("fail-rate", 0.2, "Probability that flaky fails")
		latency  = flag.Duration("latency", 0, "Extra latency added to every tool call")
		level    = flag.String("log-level", "info", "Log level")
	)
	flag.Parse()

	log := logger.New(*level, false, "dev").With(slog.String("server", *name))

	var calls atomic.Int64
	mcpServer := newToolServer(*name, *failRate, *latency, &calls, log)

	mux := http.NewServeMux()
	mux.Handle("/mcp", server.NewStreamableHTTPServer(mcpServer))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv, err := httpserver.New(fmt.Sprintf(":%d", *port), mux)
	if err != nil {
		log.Error("Invalid listen address", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	log.Info("Mock MCP server listening", slog.String("address", srv.Addr()))
	if err := srv.Start(); err != nil {
		log.Error("Server failed", slog.Any("err", err))
		os.Exit(1)
	}
	log.Info("Mock MCP server stopped", slog.Int64("calls", calls.Load()))
}

func newToolServer(name string, failRate float64, latency time.Duration, calls *atomic.Int64, log *slog.Logger) *server.MCPServer {
	s := server.NewMCPServer(name, "1.0.0", server.WithToolCapabilities(true))

	// every handler goes through wrap so latency and counting apply uniformly
	wrap := func(tool string, fn server.ToolHandlerFunc) server.ToolHandlerFunc {
		return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			n := calls.Add(1)
			log.Debug("Tool call", slog.String("tool", tool), slog.Int64("call", n))

			if latency > 0 {
				select {
				case <-time.After(latency):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			return fn(ctx, request)
		}
	}

	s.AddTool(mcp.NewTool("echo",
		mcp.WithDescription("Return the message argument"),
		mcp.WithString("message", mcp.Required()),
	), wrap("echo", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText(fmt.Sprintf("%v", request.GetArguments()["message"])), nil
	}))

	s.AddTool(mcp.NewTool("slow",
		mcp.WithDescription("Sleep before answering"),
		mcp.WithString("duration", mcp.Description("Go duration, default 1s")),
	), wrap("slow", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		d := time.Second
		if raw, ok := request.GetArguments()["duration"].(string); ok {
			parsed, err := time.ParseDuration(raw)
			if err != nil {
				return mcp.NewToolResultError("invalid duration " + raw), nil
			}
			d = parsed
		}

		select {
		case <-time.After(d):
			return mcp.NewToolResultText("slept " + d.String()), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}))

	s.AddTool(mcp.NewTool("flaky",
		mcp.WithDescription("Fail with the configured probability"),
	), wrap("flaky", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if rand.Float64() < failRate {
			return mcp.NewToolResultError("flaky tool failed"), nil
		}
		return mcp.NewToolResultText("ok"), nil
	}))

	s.AddTool(mcp.NewTool("whoami",
		mcp.WithDescription("Describe this server"),
	), wrap("whoami", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		doc, err := json.Marshal(map[string]any{
			"server": name,
			"calls":  calls.Load(),
			"time":   time.Now().UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return nil, err
		}
		return mcp.NewToolResultText(string(doc)), nil
	}))

	return s
}
