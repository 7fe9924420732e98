// Package commands implements the finease command line.
package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dvloznov/finease/internal/app"
	"github.com/dvloznov/finease/internal/config"
	"github.com/dvloznov/finease/internal/logger"
)

// Builder assembles the application for one command invocation.
type Builder func(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*app.App, error)

func buildFromConfig(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*app.App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, log, app.Deps{})
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	return newRootCommand(buildFromConfig)
}

// env carries the persistent flags shared by every subcommand.
type env struct {
	configPath string
	envFile    string
	logLevel   string
	build      Builder
}

func newRootCommand(build Builder) *cobra.Command {
	e := &env{build: build}

	rootCmd := &cobra.Command{
		Use:   "finease",
		Short: "Spending behaviour assessment from your transaction history",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&e.configPath, "config", "", "path to a YAML config file (or set FINEASE_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&e.envFile, "env-file", ".env", "optional .env file loaded before the environment is read")
	rootCmd.PersistentFlags().StringVar(&e.logLevel, "log-level", "", "override the configured log level")

	rootCmd.AddCommand(
		newSignInCommand(e),
		newSignUpCommand(e),
		newSignOutCommand(e),
		newWhoAmICommand(e),
		newProfileCommand(e),
		newAnalyzeCommand(e),
		newRunsCommand(e),
	)

	return rootCmd
}

// open loads configuration and builds the application. A memory session
// backend is replaced by SQLite so that sign-in survives between invocations.
func (e *env) open(cmd *cobra.Command) (*app.App, error) {
	if err := config.LoadEnvFiles(e.envFile); err != nil {
		return nil, err
	}

	cfg, err := config.Load(e.configPath)
	if err != nil {
		return nil, err
	}
	if cfg.SessionBackend == config.BackendMemory {
		cfg.SessionBackend = config.BackendSQLite
	}
	if e.logLevel != "" {
		cfg.LogLevel = e.logLevel
	}

	// Logs go to stderr so command output stays clean.
	log := logger.NewWithOptions(logger.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: cmd.ErrOrStderr(),
	})

	a, err := e.build(cmd.Context(), cfg, log)
	if err != nil {
		return nil, fmt.Errorf("initialising: %w", err)
	}
	return a, nil
}
