// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/batchrun/internal/browser"
	"github.com/xkilldash9x/batchrun/internal/config"
	"github.com/xkilldash9x/batchrun/internal/observability"
	"github.com/xkilldash9x/batchrun/internal/results"
)

// dependencies are the collaborators that touch the outside world. Tests
// replace them to run commands without Chrome or Postgres.
type dependencies struct {
	newLauncher func(cfg config.BrowserConfig, logger *zap.Logger) browser.Launcher
	openDB      func(ctx context.Context, url string) (results.DBPool, func(), error)
}

func defaultDependencies() dependencies {
	return dependencies{
		newLauncher: func(cfg config.BrowserConfig, logger *zap.Logger) browser.Launcher {
			return browser.NewChromeLauncher(cfg, logger)
		},
		openDB: func(ctx context.Context, url string) (results.DBPool, func(), error) {
			pool, err := pgxpool.New(ctx, url)
			if err != nil {
				return nil, nil, err
			}
			return pool, pool.Close, nil
		},
	}
}

// NewRootCommand builds a fresh command tree with its own viper instance.
func NewRootCommand() *cobra.Command {
	return newRootCommand(defaultDependencies())
}

func newRootCommand(deps dependencies) *cobra.Command {
	v := viper.New()
	config.SetDefaults(v)
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:           "batchrun",
		Short:         "batchrun drives a browser task over a list of items in bounded concurrent batches.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := initializeConfig(v, cfgFile); err != nil {
				return err
			}

			var loggerCfg config.LoggerConfig
			if err := v.UnmarshalKey("logger", &loggerCfg); err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "batchrun"})
				return fmt.Errorf("failed to unmarshal logger config: %w", err)
			}
			observability.InitializeLogger(loggerCfg)
			observability.GetLogger().Debug("Starting batchrun", zap.String("version", Version))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(
		newRunCmd(v, deps),
		newValidateCmd(v),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the root command with the signal-aware context from main.
func Execute(ctx context.Context) error {
	err := NewRootCommand().ExecuteContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		observability.GetLogger().Error("Command execution failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	observability.Sync()
	return err
}

// initializeConfig reads the config file and environment variables into v.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	config.BindEnvironment(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults, env vars and flags still apply.
	}
	return nil
}
