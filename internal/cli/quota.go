package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/animus-coder/testpilot/internal/generation"
)

// NewQuotaCmd prints the license quota reported by the generation service.
func NewQuotaCmd(opts *Options) *cobra.Command {
	var asYAML bool

	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Show generation quota usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := buildApp(opts)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck // best-effort

			q, err := a.Client.FetchQuota(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asYAML {
				return yaml.NewEncoder(out).Encode(q)
			}
			fmt.Fprintf(out, "used %d of %d, %d remaining\n", q.Used, q.Total, q.Remaining)
			if q.Message != "" {
				fmt.Fprintln(out, q.Message)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "Print the quota as YAML")
	return cmd
}

// NewFeedbackCmd rates a generated test. Delivery is best-effort.
func NewFeedbackCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "feedback <source.go|unit-id> <up|down>",
		Short: "Rate a generated test",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rating, err := generation.ParseRating(args[1])
			if err != nil {
				return err
			}
			a, logger, err := buildApp(opts)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck // best-effort

			cut := args[0]
			if unit, err := a.Store.LoadUnit(cut); err == nil {
				cut = unit.ID
			}
			a.Client.SendFeedback(cmd.Context(), cut, rating)
			fmt.Fprintf(cmd.OutOrStdout(), "feedback %s sent for %s\n", rating, cut)
			return nil
		},
	}
}
