package cmd

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

var RootCmd = &cobra.Command{
	Use:   "ocrworker",
	Short: "Line-delimited JSON OCR worker",
	Long: `ocrworker reads recognition requests as JSON lines on stdin and answers
each on stdout. Logs go to stderr so stdout stays a clean protocol channel.

Run without a subcommand to serve.`,
	Version:      Version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		ll, err := cmd.Flags().GetString("log-level")
		if err != nil {
			return err
		}

		switch strings.ToUpper(ll) {
		case "DEBUG":
			level = slog.LevelDebug
		case "WARN":
			level = slog.LevelWarn
		case "ERROR":
			level = slog.LevelError
		}

		opts := &slog.HandlerOptions{
			Level: level,
		}
		handler := slog.New(slog.NewTextHandler(os.Stderr, opts))
		slog.SetDefault(handler)

		return nil
	},
	RunE: runServe,
}

var configPath string

func init() {
	ll := os.Getenv("LOG_LEVEL")
	if ll == "" {
		ll = "INFO"
	}
	RootCmd.PersistentFlags().String("log-level", ll, "The logging level for the command")
	RootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("OCR_CONFIG"), "Path to a YAML config file (environment variables override it)")
	addServeFlags(RootCmd)
}
