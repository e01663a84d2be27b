package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// DefaultDryrunDelay is how long dryrun pretends a command runs
const DefaultDryrunDelay = 1000

// NewDryrunCommand creates the dryrun command. It stands in for a oneshot
// or a state change command: it prints what it was asked to run, then sleeps.
func NewDryrunCommand(rootOpts *RootOptions) *cobra.Command {
	var delay uint

	cmd := &cobra.Command{
		Use:   "dryrun [-t ms] args...",
		Short: "Print a command line instead of running it",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return &ExitError{Code: ExitUsage, Err: errors.New("usage: s6rc-db dryrun [-t ms] args...")}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", cmd.Root().Name(), strings.Join(args, " "))

			timer := time.NewTimer(time.Duration(delay) * time.Millisecond)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			}
			return nil
		},
	}

	cmd.Flags().UintVarP(&delay, "timeout", "t", DefaultDryrunDelay, "milliseconds to sleep after printing")
	// everything after the first argument belongs to the printed command line
	cmd.Flags().SetInterspersed(false)

	return cmd
}
