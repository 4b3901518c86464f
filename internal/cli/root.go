// Package cli implements the vulndash command line.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ashureev/vulndash/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	// cfg holds the loaded configuration, populated in PersistentPreRunE.
	cfg *config.Config

	configPath string
	logFile    string
)

var rootCmd = &cobra.Command{
	Use:          "vulndash",
	Short:        "Browse Dependabot alerts and stream AI remediation suggestions",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		// Load .env file if present (ignore error if missing).
		_ = godotenv.Load()

		if configPath == "" {
			configPath = os.Getenv("VULNDASH_CONFIG")
		}
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = c

		logger, err := newLogger(cmd, c)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	},
}

// Execute runs the root command. Exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger writes JSON logs to stderr, or to --log-file. The interactive browser
// discards logs unless a file is given so they do not corrupt the screen.
func newLogger(cmd *cobra.Command, c *config.Config) (*slog.Logger, error) {
	var w io.Writer = os.Stderr
	switch {
	case logFile != "":
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		w = f
	case cmd.Name() == browseCmd.Name():
		w = io.Discard
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: c.SlogLevel()})), nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (default $VULNDASH_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "append JSON logs to this file instead of stderr")
}
