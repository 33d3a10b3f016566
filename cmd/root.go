package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tidefall/newsvault/internal/app"
	vaultcfg "github.com/tidefall/newsvault/internal/config"
	"github.com/tidefall/newsvault/internal/engine"
	"github.com/tidefall/newsvault/internal/events"
	"github.com/tidefall/newsvault/pkg/config"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application surface that commands use. Keeping it an
// interface lets tests inject a stub factory.
type App interface {
	Close()
	GetConfig() vaultcfg.Config
	GetLogger() *zap.Logger
	GetEngine() *engine.Engine
	GetHub() *events.Hub
}

// newApp is the application factory. It is a variable so tests can replace it
// with a factory building against a scratch directory.
var newApp = func() (App, error) {
	return app.New(viper.GetViper())
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "newsvault",
		Short: "Sharded storage and consistency tooling for crawled news",
		Long: `newsvault stores crawled news articles in per-source SQLite shards,
absorbs stray legacy shard files into one canonical directory, and audits
the result for duplicates and malformed rows.`,
		SilenceUsage: true,

		// Runs after flags are parsed and before the subcommand's RunE: load
		// configuration, then build and inject the application services.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.Init(cfgFile); err != nil {
				return err
			}
			appInstance, err := newApp()
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		// Ensures services shut down gracefully once the subcommand returns.
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default searches ., /etc/newsvault, $HOME/.newsvault)")

	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newReportCmd())
	cmd.AddCommand(newShardsCmd())
	cmd.AddCommand(newRecordsCmd())

	return cmd
}

// Execute is the main entry point for the CLI.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
