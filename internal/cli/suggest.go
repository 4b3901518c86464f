package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ashureev/vulndash/internal/assist"
	"github.com/ashureev/vulndash/internal/domain"
	"github.com/spf13/cobra"
)

var (
	alertFile string
	noCache   bool
)

var errSuggestionCancelled = errors.New("suggestion cancelled")

var suggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Stream a remediation suggestion for one alert to stdout",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		logger := slog.Default()

		alert, err := readAlert(alertFile, cmd.InOrStdin())
		if err != nil {
			return err
		}

		var results assist.ResultCache
		if !noCache {
			repo, err := openStore(cfg.Cache, logger)
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()
			results = newCache(repo, cfg.Cache, nil, logger)
		}

		transport, closeTransport, err := newTransport(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer closeTransport()

		mgr := assist.NewManager(transport, results, assist.ManagerConfig{
			Session: sessionConfig(cfg, logger),
			Logger:  logger,
		})
		defer mgr.Close()

		a, err := mgr.RequestAssistance(ctx, alert)
		if err != nil {
			return err
		}
		return printSuggestion(cmd.OutOrStdout(), a)
	},
}

// readAlert decodes an alert from path, or from stdin when path is "-".
func readAlert(path string, stdin io.Reader) (domain.Alert, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return domain.Alert{}, fmt.Errorf("open alert file: %w", err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	var alert domain.Alert
	if err := json.NewDecoder(r).Decode(&alert); err != nil {
		return domain.Alert{}, fmt.Errorf("decode alert: %w", err)
	}
	return alert, nil
}

// printSuggestion writes the text as it arrives. Partial events carry the cumulative
// text, so only the new suffix is written.
func printSuggestion(w io.Writer, a *assist.Assistance) error {
	written := 0
	emit := func(text string) {
		if len(text) > written {
			_, _ = io.WriteString(w, text[written:])
			written = len(text)
		}
	}

	var result error
	for ev := range a.Events {
		switch ev.Type {
		case assist.EventPartial:
			emit(ev.Text)
		case assist.EventCompleted:
			emit(ev.Text)
			_, _ = io.WriteString(w, "\n")
		case assist.EventFailed:
			if written > 0 {
				_, _ = io.WriteString(w, "\n")
			}
			result = ev.Err()
		case assist.EventCancelled:
			if written > 0 {
				_, _ = io.WriteString(w, "\n")
			}
			result = errSuggestionCancelled
		}
	}
	return result
}

func init() {
	suggestCmd.Flags().StringVarP(&alertFile, "alert-file", "f", "", `alert JSON file ("-" for stdin)`)
	suggestCmd.Flags().BoolVar(&noCache, "no-cache", false, "skip the local suggestion cache")
	_ = suggestCmd.MarkFlagRequired("alert-file")
	rootCmd.AddCommand(suggestCmd)
}
