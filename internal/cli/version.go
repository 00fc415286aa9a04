package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/animus-coder/testpilot/internal/version"
)

// NewVersionCmd prints the compiled version details.
func NewVersionCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show testpilot version",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch output {
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(version.Get())
			case "yaml":
				return yaml.NewEncoder(out).Encode(version.Get())
			case "", "text":
				fmt.Fprintln(out, version.Full())
				return nil
			default:
				return fmt.Errorf("unknown output %q: want text, json or yaml", output)
			}
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "text, json or yaml")
	return cmd
}
