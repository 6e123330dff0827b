package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/angeloszaimis/tool-dispatcher/config"
	"github.com/angeloszaimis/tool-dispatcher/internal/httpserver"
	"github.com/angeloszaimis/tool-dispatcher/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dispatch HTTP API",
	Long: `Starts the HTTP API that accepts tool-call batches on /v1/dispatch, together
with the connection sweeper, the backend health monitor and the metrics collector.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(cfg, log)
	if err != nil {
		log.Error("Failed to build dispatcher", slog.Any("err", err))
		return err
	}

	srv, err := httpserver.New(cfg.Server.Address, a.router(),
		httpserver.WithWriteTimeout(writeTimeout(cfg)))
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		return err
	}

	a.start(ctx, true)
	defer a.close()

	log.Info("Dispatcher listening",
		slog.String("address", srv.Addr()),
		slog.String("strategy", cfg.Balancer.Strategy),
		slog.Int("backends", len(cfg.Backends)))

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
		return nil
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Error starting dispatcher", slog.Any("err", err))
		}
		return err
	}
}

// responseSlack is the time left between the batch deadline and the write
// timeout for encoding and sending the results.
const responseSlack = 10 * time.Second

// batchTimeout bounds one HTTP batch, slot waits included. Calls not finished
// by then are reported as CANCELED rather than losing the whole response.
func batchTimeout(cfg *config.Config) time.Duration {
	policy := cfg.Retry.Policy()
	perAttempt := cfg.Engine.Timeout() + policy.MaxDelay + policy.Jitter
	return time.Duration(policy.MaxAttempts) * perAttempt
}

func writeTimeout(cfg *config.Config) time.Duration {
	return batchTimeout(cfg) + responseSlack
}
