package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/animus-coder/testpilot/internal/agent"
	"github.com/animus-coder/testpilot/internal/app"
	"github.com/animus-coder/testpilot/internal/artifact"
)

// NewGenerateCmd runs the convergence loop locally over one or more source files.
func NewGenerateCmd(opts *Options) *cobra.Command {
	var (
		reportPath string
		overrides  app.Overrides
	)

	cmd := &cobra.Command{
		Use:   "generate <source.go>...",
		Short: "Generate tests for source files until they compile and pass",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := buildApp(opts)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck // best-effort

			units := make([]artifact.SourceUnit, 0, len(args))
			for _, p := range args {
				u, err := a.Store.LoadUnit(p)
				if err != nil {
					return err
				}
				units = append(units, u)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			bulk := &agent.Bulk{Runner: a.NewLoop(overrides), Logger: logger}
			sum := bulk.Run(ctx, units, func(p agent.BulkProgress) {
				renderProgress(out, p)
			})
			fmt.Fprintln(out, sum.Line())

			if reportPath != "" {
				if err := writeReport(reportPath, sum); err != nil {
					return err
				}
				fmt.Fprintf(out, "report written to %s\n", reportPath)
			}
			if sum.Failed > 0 || sum.Cancelled {
				return fmt.Errorf("%d of %d unit(s) did not converge", sum.Total-sum.Succeeded, sum.Total)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&reportPath, "report", "", "Write a YAML report of per-unit results to this path")
	cmd.Flags().StringVar(&overrides.Model, "model", "", "Override the generation model for this run")
	cmd.Flags().IntVar(&overrides.MaxAttempts, "max-attempts", 0, "Override loop.max_attempts")
	cmd.Flags().BoolVar(&overrides.ContinueOnClientError, "continue-on-client-error", false, "Keep iterating after a 4xx from the generation service")
	return cmd
}

func renderProgress(w io.Writer, p agent.BulkProgress) {
	switch {
	case p.Step != nil:
		s := p.Step
		line := fmt.Sprintf("  [%s] attempt %d %s", s.Unit, s.Attempt, s.Phase)
		if s.Mode != "" {
			line += " mode=" + s.Mode
		}
		if s.Outcome != "" {
			line += " outcome=" + s.Outcome
		}
		if s.Message != "" {
			line += ": " + s.Message
		}
		fmt.Fprintln(w, line)
	case p.Result != nil:
		r := p.Result
		status := string(r.Status)
		if r.Reason != "" {
			status += " (" + r.Reason + ")"
		}
		fmt.Fprintf(w, "[%d/%d] %s: %s after %d attempt(s)\n", p.Completed, p.Total, r.Unit, status, r.Attempts)
	default:
		fmt.Fprintf(w, "[%d/%d] %s\n", p.Completed, p.Total, p.Unit)
	}
}

type report struct {
	GeneratedAt time.Time    `yaml:"generated_at"`
	Summary     string       `yaml:"summary"`
	Total       int          `yaml:"total"`
	Succeeded   int          `yaml:"succeeded"`
	Failed      int          `yaml:"failed"`
	Skipped     int          `yaml:"skipped"`
	Cancelled   bool         `yaml:"cancelled,omitempty"`
	Units       []reportUnit `yaml:"units"`
}

type reportUnit struct {
	Unit        string `yaml:"unit"`
	Artifact    string `yaml:"artifact,omitempty"`
	Status      string `yaml:"status"`
	Reason      string `yaml:"reason,omitempty"`
	Attempts    int    `yaml:"attempts"`
	Generations int    `yaml:"generations"`
	Duration    string `yaml:"duration"`
	Error       string `yaml:"error,omitempty"`
	LastOutput  string `yaml:"last_output,omitempty"`
}

func writeReport(path string, sum agent.BulkSummary) error {
	rep := report{
		GeneratedAt: time.Now().UTC(),
		Summary:     sum.Line(),
		Total:       sum.Total,
		Succeeded:   sum.Succeeded,
		Failed:      sum.Failed,
		Skipped:     sum.Skipped,
		Cancelled:   sum.Cancelled,
	}
	for _, r := range sum.Results {
		u := reportUnit{
			Unit:        r.Unit,
			Artifact:    r.Artifact,
			Status:      string(r.Status),
			Reason:      r.Reason,
			Attempts:    r.Attempts,
			Generations: r.Generations,
			Duration:    r.Duration.Round(time.Millisecond).String(),
		}
		if r.Err != nil {
			u.Error = r.Err.Error()
		}
		if !r.Converged() {
			u.LastOutput = r.LastErrorOutput
		}
		rep.Units = append(rep.Units, u)
	}

	data, err := yaml.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
