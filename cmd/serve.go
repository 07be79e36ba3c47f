package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/ocrworker/internal/config"
	"github.com/lehigh-university-libraries/ocrworker/internal/utils"
	"github.com/lehigh-university-libraries/ocrworker/pkg/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Answer OCR requests on stdin/stdout",
	Long: `Serve reads one JSON envelope per line from stdin and writes one response
per line to stdout:

  {"id":"1","type":"ocr.perform","payload":{"source":"imageBase64","imageBase64":"..."}}

Before the first response the worker prints a _boot line and a _warmup line.
With --strict-warmup a failed startup warmup exits non-zero instead of serving
with cold engines.`,
	RunE: runServe,
}

var strictWarmup bool

func addServeFlags(c *cobra.Command) {
	c.Flags().BoolVar(&strictWarmup, "strict-warmup", false, "Exit if the startup warmup fails (also OCR_STRICT_WARMUP)")
}

func init() {
	RootCmd.AddCommand(serveCmd)
	addServeFlags(serveCmd)
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath, nil)
	if err != nil {
		return config.Config{}, err
	}
	if cmd.Flags().Changed("strict-warmup") {
		cfg.StrictWarmup = strictWarmup
	}
	slog.Debug("Loaded configuration", "quality", cfg.Quality.String(), "warmup_langs", cfg.WarmupLanguages)
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	registry, err := newRegistry(cfg, newBackends(cfg))
	if err != nil {
		return err
	}
	defer func() {
		if err := registry.Close(); err != nil {
			slog.Warn("Failed to close engines", "err", utils.MaskSensitiveError(err))
		}
	}()

	d := worker.New(registry, workerOptions(cfg))
	err = d.Run(cmd.Context(), os.Stdin, os.Stdout)
	if errors.Is(err, context.Canceled) {
		slog.Info("Worker stopped by signal")
		return nil
	}
	if err != nil {
		return fmt.Errorf("worker stopped: %w", err)
	}
	return nil
}
