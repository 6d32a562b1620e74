// Package cmd defines and implements the CLI commands for the sitecrawl executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DavidLozzi/starwars-graph/internal/app"
	"github.com/DavidLozzi/starwars-graph/internal/config"
	"github.com/DavidLozzi/starwars-graph/internal/engine"
	"github.com/DavidLozzi/starwars-graph/internal/oracle"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the set of services the commands use. Tests inject a fake.
type App interface {
	Close()
	GetLogger() *zap.Logger
	GetConfig() config.Config
	Crawl(ctx context.Context, opts app.CrawlOptions) error
	Recover(ctx context.Context, from, to string) (engine.RecoverStats, error)
	Preload(ctx context.Context) (oracle.PreloadStats, error)
}

// loadConfig and newApp are variables so tests can replace them.
var (
	loadConfig = config.Load
	newApp     = func(ctx context.Context, cfg config.Config) (App, error) {
		return app.NewApp(ctx, cfg)
	}
)

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "sitecrawl",
		Short: "Crawls a sitemap tree and stores every page exactly once.",
		Long: `sitecrawl walks a sitemap index recursively, fetches every page it
references, and stores the title and body of each page in a database. URLs
already captured are skipped using an in-memory set, a Redis set, and the
database itself. Failed fetches are logged so they can be retried with the
recover command.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		fmt.Sprintf("config file (default is ./config.yaml or %s/config.yaml)", config.Dir()))

	cmd.AddCommand(newCrawlCmd(), newRecoverCmd(), newPreloadCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// withApp adapts run into a RunE that closes the App afterwards, including
// when run fails.
func withApp(run func(cmd *cobra.Command, appInstance App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		appInstance, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		defer appInstance.Close()
		return run(cmd, appInstance)
	}
}

// Execute runs the root command until it finishes or the process receives
// SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "sitecrawl: %v\n", err)
		os.Exit(1) //nolint:gocritic // stop already ran
	}
}
