package cli

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/spf13/cobra"
)

// NewDoctorCmd returns a health-check command validating config and environment.
func NewDoctorCmd(opts *Options) *cobra.Command {
	var checkToolchain bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config OK. Service: %s, model: %q, max attempts: %d\n",
				cfg.Generation.BaseURL, cfg.Generation.Model, cfg.Loop.MaxAttempts)
			fmt.Fprintf(out, "Tests: root=%q suffix=%q history=%q, metrics: %v\n",
				cfg.Artifact.TestRoot, cfg.Artifact.Suffix, cfg.Artifact.HistoryDir, cfg.Server.MetricsEnabled)
			if cfg.Generation.APIKey == "" {
				fmt.Fprintln(out, "warning: generation.api_key is empty (set TESTPILOT_GENERATION_API_KEY)")
			}

			if !checkToolchain {
				return nil
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			ver, err := exec.CommandContext(ctx, cfg.Verify.Command, "version").CombinedOutput()
			if err != nil {
				return fmt.Errorf("toolchain %q unavailable: %w", cfg.Verify.Command, err)
			}
			fmt.Fprintf(out, "Toolchain: %s", ver)
			return nil
		},
	}
	cmd.Flags().BoolVar(&checkToolchain, "toolchain", false, "Also run `<verify.command> version`")
	return cmd
}
