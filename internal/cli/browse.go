package cli

import (
	"log/slog"

	"github.com/ashureev/vulndash/internal/assist"
	"github.com/ashureev/vulndash/internal/dashclient"
	"github.com/ashureev/vulndash/internal/tui"
	"github.com/spf13/cobra"
)

var (
	browseOrg   string
	browseQuery string
)

var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "Browse repositories, alerts and AI suggestions in the terminal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		logger := slog.Default()

		repo, err := openStore(cfg.Cache, logger)
		if err != nil {
			return err
		}
		defer func() { _ = repo.Close() }()

		transport, closeTransport, err := newTransport(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer closeTransport()

		mgr := assist.NewManager(transport, newCache(repo, cfg.Cache, nil, logger), assist.ManagerConfig{
			Session: sessionConfig(cfg, logger),
			Logger:  logger,
		})
		defer mgr.Close()

		client := dashclient.New(cfg.ServerURL, nil)
		return tui.Run(ctx, client, mgr, browseOrg, browseQuery)
	},
}

func init() {
	browseCmd.Flags().StringVar(&browseOrg, "org", "", "GitHub organization to search")
	browseCmd.Flags().StringVarP(&browseQuery, "query", "q", "", "repository name or project name to match")
	_ = browseCmd.MarkFlagRequired("org")
	_ = browseCmd.MarkFlagRequired("query")
	rootCmd.AddCommand(browseCmd)
}
