// Package minutesbot implements the CLI entry point for the crawler: a
// cobra root command carrying a single crawl subcommand, following
// cmd/root.go's PersistentPreRunE pattern of building an App (the
// process-wide logger) once and storing it on the command context.
package minutesbot

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/minutesbot/crawler/internal/config"
	"github.com/minutesbot/crawler/internal/logging"
	"github.com/minutesbot/crawler/internal/manifest"
	viperconfig "github.com/minutesbot/crawler/pkg/config"
)

// appKeyType is the context key under which App is stored.
type appKeyType string

const appKey appKeyType = "app"

// App bundles the process-wide services a subcommand needs.
type App struct {
	Logger *zap.Logger
}

var cfgFile string

// newRootCmd builds the root command. The logger is built in
// PersistentPreRunE, once Viper has parsed --config and every subcommand's
// flags are bound, so it sees the resolved --development flag.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "minutesbot",
		Short: "Crawl Japanese local-government sites for meeting-minutes documents.",
		Long: `minutesbot consumes a pre-computed seed list of municipality sites and
crawls outward under scope and robots.txt rules, harvesting meeting-minutes
documents (PDF, DOC, and similar) while recording every decision to a
resumable manifest.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			app, err := buildApp()
			if err != nil {
				return fmt.Errorf("%w: initialize application: %w", config.ErrConfig, err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, app))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if app, ok := cmd.Context().Value(appKey).(*App); ok && app != nil {
				_ = app.Logger.Sync()
			}
		},
	}

	cobra.OnInitialize(func() {
		// An explicit --config path takes precedence over the search path
		// InitConfig registers.
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		}
		viperconfig.InitConfig()
	})
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./minutesbot.yaml)")

	cmd.AddCommand(newCrawlCmd())
	return cmd
}

func buildApp() (*App, error) {
	logger, err := logging.New(viper.GetBool("development"))
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return &App{Logger: logger}, nil
}

func resolveApp(ctx context.Context) (*App, error) {
	app, ok := ctx.Value(appKey).(*App)
	if !ok || app == nil {
		return nil, fmt.Errorf("%w: application services not initialized", config.ErrConfig)
	}
	return app, nil
}

// exitCodeFor maps the error taxonomy of spec §7 to a process exit code:
// 0 never reaches here (Execute only exits on error), 1 for configuration
// faults, 2 for a fatal manifest write failure, 1 for anything else
// unexpected.
func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, manifest.ErrManifestWrite):
		return 2
	case errors.Is(err, config.ErrConfig):
		return 1
	default:
		return 1
	}
}

// Execute is the CLI entry point, called from main.
func Execute() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}
