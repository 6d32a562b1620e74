package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newPreloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preload",
		Short: "Copies every stored URL into the existence cache",
		RunE: withApp(func(cmd *cobra.Command, appInstance App) error {
			stats, err := appInstance.Preload(cmd.Context())
			if err != nil {
				return fmt.Errorf("preload: %w", err)
			}
			appInstance.GetLogger().Info("preload command finished",
				zap.Int64("read", stats.Read),
				zap.Int64("added", stats.Added),
				zap.Int64("cached_after", stats.CachedAfter),
			)
			return nil
		}),
	}
}
