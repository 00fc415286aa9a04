package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/animus-coder/testpilot/internal/app"
	"github.com/animus-coder/testpilot/internal/config"
	"github.com/animus-coder/testpilot/internal/logging"
	"github.com/animus-coder/testpilot/internal/version"
)

// Options holds global CLI options.
type Options struct {
	ConfigPath string
	LogLevel   string
}

// NewRootCmd constructs the base CLI command tree.
func NewRootCmd() *cobra.Command {
	opts := &Options{}

	cmd := &cobra.Command{
		Use:           "testpilot",
		Short:         "testpilot – generate unit tests until they compile and pass",
		Version:       version.Full(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "Path to config file (default: configs/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "Override logging.level")

	cmd.AddCommand(NewGenerateCmd(opts))
	cmd.AddCommand(NewSubmitCmd(opts))
	cmd.AddCommand(NewReviewCmd())
	cmd.AddCommand(NewHistoryCmd(opts))
	cmd.AddCommand(NewRestoreCmd(opts))
	cmd.AddCommand(NewQuotaCmd(opts))
	cmd.AddCommand(NewFeedbackCmd(opts))
	cmd.AddCommand(NewDoctorCmd(opts))
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig wraps config loading with shared options.
func loadConfig(opts *Options) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	return cfg, nil
}

// buildApp loads config and wires the components a command needs.
func buildApp(opts *Options) (*app.App, *zap.Logger, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.Build(cfg, logger, nil)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return a, logger, nil
}
