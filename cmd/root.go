package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	flowsDir string
	debug    bool
)

var rootCmd = &cobra.Command{
	Use:   "gateflow",
	Short: "gateflow - human-in-the-loop workflow engine",
	Long: `gateflow runs YAML-defined flows of fallible steps with automatic
retries on validation failure, human approval gates between steps, and
explicit rollback to any prior step (/exit, /rollback, /retry).`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flowsDir, "flows", "flows", "directory containing flow definition YAML files")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if os.Getenv("LOG_FORMAT") == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
