package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/animus-coder/testpilot/internal/patch"
)

// NewReviewCmd parses a unified diff against a file and merges a hunk selection.
func NewReviewCmd() *cobra.Command {
	var (
		rejected []int
		preview  bool
		write    bool
	)

	cmd := &cobra.Command{
		Use:   "review <file> <diff>",
		Short: "List the hunks of a diff and merge a selection of them",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			original, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			unified, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}

			hunks, err := patch.ParseUnifiedDiff(string(original), string(unified))
			if err != nil {
				return fmt.Errorf("parse diff: %w", err)
			}
			_, dropped, err := patch.Plan(string(original), hunks)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d hunk(s):\n%s", len(hunks), patch.Describe(hunks))
			if len(dropped) > 0 {
				fmt.Fprintf(out, "overlapping, will be skipped:\n%s", patch.Describe(dropped))
			}

			merged, err := patch.Merge(string(original), hunks, patch.Rejecting(rejected...))
			if err != nil {
				return err
			}

			switch {
			case write:
				if err := os.WriteFile(args[0], []byte(merged), 0o644); err != nil {
					return err
				}
				fmt.Fprintf(out, "wrote %s (%s)\n", args[0], patch.Summary(string(original), merged))
			case preview:
				fmt.Fprintf(out, "--- preview (%s)\n%s\n", patch.Summary(string(original), merged), patch.Preview(string(original), merged))
			default:
				fmt.Fprintf(out, "--- merged\n%s", merged)
			}
			return nil
		},
	}

	cmd.Flags().IntSliceVar(&rejected, "reject", nil, "Hunk ids to leave unapplied (repeatable or comma-separated)")
	cmd.Flags().BoolVar(&preview, "preview", false, "Print a colored inline diff instead of the merged file")
	cmd.Flags().BoolVar(&write, "write", false, "Write the merged result back to <file>")
	return cmd
}
