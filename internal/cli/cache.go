package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/ashureev/vulndash/internal/config"
	"github.com/ashureev/vulndash/internal/dashclient"
	"github.com/spf13/cobra"
)

var clearRemote bool

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the suggestion cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached suggestion",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if clearRemote {
			if err := dashclient.New(cfg.ServerURL, nil).ClearCache(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Cleared suggestion cache on %s\n", cfg.ServerURL)
			return nil
		}
		return clearLocalCache(cmd.Context(), cfg.Cache, cmd.OutOrStdout())
	},
}

func clearLocalCache(ctx context.Context, c config.CacheConfig, out io.Writer) error {
	repo, err := openStore(c, slog.Default())
	if err != nil {
		return fmt.Errorf("open cache store: %w", err)
	}
	defer func() { _ = repo.Close() }()

	n, err := repo.ClearSuggestions(ctx)
	if err != nil {
		return fmt.Errorf("clear suggestions: %w", err)
	}
	_, _ = fmt.Fprintf(out, "Removed %d cached suggestion(s) from the %s cache\n", n, c.Backend)
	return nil
}

func init() {
	cacheClearCmd.Flags().BoolVar(&clearRemote, "remote", false, "clear the server's cache instead of the local one")
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
