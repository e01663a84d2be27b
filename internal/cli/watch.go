package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	s6rc "github.com/axondata/go-s6rc"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch [live]",
		Short: "Print a line each time the compiled database is switched",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("debounce") {
				debounce = rootOpts.Config.Debounce
			}
			return runWatch(rootOpts, debounce, args, cmd)
		},
	}

	cmd.Flags().DurationVar(&debounce, "debounce", s6rc.DefaultWatchDebounce, "delay before reloading after a change")

	return cmd
}

func runWatch(root *RootOptions, debounce time.Duration, args []string, cmd *cobra.Command) error {
	live := root.Config.LiveDir(args)

	events, cleanup, err := s6rc.WatchCompiled(cmd.Context(), live, debounce)
	if err != nil {
		return err
	}
	defer func() {
		if err := cleanup(); err != nil {
			root.Logger.WithError(err).Debug("stopping watch")
		}
	}()

	out := cmd.OutOrStdout()
	for ev := range events {
		if ev.Err != nil {
			root.Logger.WithError(ev.Err).WithField("target", ev.Target).Warn("compiled database unavailable")
			continue
		}
		fmt.Fprintf(out, "%s: %d services (%d longrun, %d oneshot)\n",
			ev.Target, len(ev.DB.Services), ev.DB.NLong, ev.DB.NShort)
	}
	return nil
}
