package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// NewHistoryCmd lists recorded snapshots of the test generated for a source file.
func NewHistoryCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "history <source.go>",
		Short: "List snapshots of the generated test for a source file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := buildApp(opts)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck // best-effort

			if a.Store.History() == nil {
				return errors.New("history is disabled (artifact.history_dir is empty)")
			}
			unit, err := a.Store.LoadUnit(args[0])
			if err != nil {
				return err
			}
			rel := a.Store.Path(unit)
			snaps, err := a.Store.History().List(rel)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(snaps) == 0 {
				fmt.Fprintf(out, "no snapshots for %s\n", rel)
				return nil
			}
			fmt.Fprintf(out, "%s:\n", rel)
			for i := len(snaps) - 1; i >= 0; i-- {
				s := snaps[i]
				parent := s.ParentID
				if parent == "" {
					parent = "-"
				}
				fmt.Fprintf(out, "  %s  %s  parent=%s\n", s.ID, s.CreatedAt.Local().Format(time.DateTime), parent)
			}
			return nil
		},
	}
}

// NewRestoreCmd writes a recorded snapshot back to the test file.
func NewRestoreCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <source.go> [snapshot-id]",
		Short: "Restore the generated test to a snapshot (latest by default)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := buildApp(opts)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck // best-effort

			unit, err := a.Store.LoadUnit(args[0])
			if err != nil {
				return err
			}
			var id string
			if len(args) == 2 {
				id = args[1]
			}
			snap, err := a.Store.Restore(unit, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %s to %s\n", a.Store.Path(unit), snap.ID)
			return nil
		},
	}
}
