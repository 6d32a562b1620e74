package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DavidLozzi/starwars-graph/internal/app"
)

func newCrawlCmd() *cobra.Command {
	var opts app.CrawlOptions
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawls from the seed sitemap",
		Long: `Warms the existence cache from the database, then walks the seed
sitemap recursively. Only entries modified since crawl.since are followed
unless --full is given. Failed fetch attempts are appended to crawl.failure_log.`,
		RunE: withApp(func(cmd *cobra.Command, appInstance App) error {
			cfg := appInstance.GetConfig().Crawl
			if !cmd.Flags().Changed("seed") {
				opts.SeedURL = cfg.SeedURL
			}
			if !cmd.Flags().Changed("base") {
				opts.BaseURL = cfg.BaseURL
			}
			if !cmd.Flags().Changed("full") {
				opts.FullCrawl = cfg.FullCrawl
			}

			err := appInstance.Crawl(cmd.Context(), opts)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("run crawler: %w", err)
			}
			appInstance.GetLogger().Info("crawl command finished")
			return nil
		}),
	}
	cmd.Flags().StringVar(&opts.SeedURL, "seed", "", "seed sitemap URL (overrides crawl.seed_url)")
	cmd.Flags().StringVar(&opts.BaseURL, "base", "", "only follow URLs with this prefix (overrides crawl.base_url)")
	cmd.Flags().BoolVar(&opts.FullCrawl, "full", false, "follow every sitemap entry regardless of lastmod")
	cmd.Flags().BoolVar(&opts.SkipPreload, "skip-preload", false, "do not warm the cache from the database first")
	return cmd
}
