package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/ocrworker/internal/config"
	"github.com/lehigh-university-libraries/ocrworker/internal/utils"
	"github.com/lehigh-university-libraries/ocrworker/pkg/engine"
)

var warmupCmd = &cobra.Command{
	Use:   "warmup",
	Short: "Construct and exercise engines once, then exit",
	Long: `Warmup builds the primary engine for each language and runs it on a blank
image. Use it to check that models and traineddata are installed before
starting the worker.

Example:
  ocrworker warmup --langs ja,en --secondary`,
	RunE: runWarmup,
}

var (
	warmupLangs     string
	warmupSecondary bool
)

func init() {
	RootCmd.AddCommand(warmupCmd)

	warmupCmd.Flags().StringVar(&warmupLangs, "langs", "", "Comma separated languages (default OCR_WARMUP_LANGS)")
	warmupCmd.Flags().BoolVar(&warmupSecondary, "secondary", false, "Also warm the secondary engine")
}

func runWarmup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath, nil)
	if err != nil {
		return err
	}

	langs := cfg.WarmupLanguages
	if warmupLangs != "" {
		langs = config.SplitList(warmupLangs)
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

	warmed, warmErr := registry.WarmLanguages(cmd.Context(), langs, true)

	if warmupSecondary && registry.HasSecondary() {
		for _, l := range langs {
			if _, err := registry.Warm(cmd.Context(), []engine.Key{registry.SecondaryKey(l)}, true); err != nil {
				slog.Error("Secondary warmup failed", "lang", l, "err", utils.MaskSensitiveError(err))
				warmErr = err
			}
		}
	}

	for _, k := range registry.WarmedKeys() {
		fmt.Fprintln(cmd.OutOrStdout(), k.String())
	}
	fmt.Fprintf(cmd.OutOrStdout(), "warmed languages: %s\n", strings.Join(warmed, ", "))

	if warmErr != nil {
		return fmt.Errorf("warmup failed: %w", utils.MaskSensitiveError(warmErr))
	}
	return nil
}
