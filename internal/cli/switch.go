package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	s6rc "github.com/axondata/go-s6rc"
)

// NewSwitchCommand creates the switch command.
func NewSwitchCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "switch <compiled> [live]",
		Short: "Validate a compiled database and point live/compiled at it",
		Long: `Validate the compiled directory, then atomically replace the
live/compiled symlink with one pointing at it. A relative path is taken
relative to the live directory. Watchers pick up the change.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			live := rootOpts.Config.LiveDir(args[1:])
			db, err := s6rc.SwitchCompiled(live, args[0])
			if err != nil {
				return err
			}
			rootOpts.Logger.WithField("live", live).Debug("compiled link switched")
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d services\n", args[0], len(db.Services))
			return nil
		},
	}

	return cmd
}
