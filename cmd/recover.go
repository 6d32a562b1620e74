package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRecoverCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Retries URLs from a failure log",
		Long: `Reads a failure log written by crawl, skips URLs that were captured
since, and crawls the rest again in paced batches. Renewed failures go to a
second log so the input is never appended to while it is read.`,
		RunE: withApp(func(cmd *cobra.Command, appInstance App) error {
			cfg := appInstance.GetConfig().Crawl
			if from == "" {
				from = cfg.FailureLog
			}
			if to == "" {
				to = cfg.RecoveryLog
			}
			if from == to {
				return fmt.Errorf("--from and --to must differ, both are %q", from)
			}

			stats, err := appInstance.Recover(cmd.Context(), from, to)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("recover: %w", err)
			}
			appInstance.GetLogger().Info("recover command finished",
				zap.Int("listed", stats.Listed),
				zap.Int("already_captured", stats.AlreadyCaptured),
				zap.Int("retried", stats.Retried),
			)
			return nil
		}),
	}
	cmd.Flags().StringVar(&from, "from", "", "failure log to read (default crawl.failure_log)")
	cmd.Flags().StringVar(&to, "to", "", "log for renewed failures (default crawl.recovery_log)")
	return cmd
}
