package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/angeloszaimis/tool-dispatcher/config"
	"github.com/angeloszaimis/tool-dispatcher/internal/handler"
	"github.com/angeloszaimis/tool-dispatcher/pkg/logger"
)

var batchFile string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one batch file and print the results",
	Long: `Reads a YAML batch with the same shape as the /v1/dispatch body, runs every
call concurrently and prints the results as JSON in input order.`,
	RunE: runBatch,
}

func init() {
	runCmd.Flags().StringVarP(&batchFile, "file", "f", "", "Path to the batch YAML file")
	_ = runCmd.MarkFlagRequired("file")
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}

	batch, err := readBatch(batchFile)
	if err != nil {
		return err
	}

	// Logs go to stderr so stdout carries only the results.
	log := logger.NewWithWriter(cmd.ErrOrStderr(), cfg.Logging.Level, false, cfg.Server.Environment)

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}

	a.start(cmd.Context(), false)
	defer a.close()

	return executeBatch(cmd.Context(), a, batch, cmd.OutOrStdout())
}

func readBatch(path string) (handler.Batch, error) {
	var batch handler.Batch

	data, err := os.ReadFile(path)
	if err != nil {
		return batch, fmt.Errorf("read batch file: %w", err)
	}

	if err := yaml.Unmarshal(data, &batch); err != nil {
		return batch, fmt.Errorf("parse batch file %s: %w", path, err)
	}

	return batch, nil
}

func executeBatch(ctx context.Context, a *app, batch handler.Batch, out io.Writer) error {
	reqs, err := batch.ToRequests()
	if err != nil {
		return err
	}

	results, err := a.engine.ExecuteParallel(ctx, reqs)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(handler.NewBatchResult(results))
}
