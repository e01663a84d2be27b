package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	s6rc "github.com/axondata/go-s6rc"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	Timeout      time.Duration
	ReplaceStale bool
	GID          int
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{}

	cmd := &cobra.Command{
		Use:   "sync [live]",
		Short: "Link every servicedir into the scandir and wait for supervisors",
		Long: `Bring live/scandir in line with live/servicedirs.

Each servicedir without a supervisor gets a down file and an event fifodir,
every servicedir gets a scandir symlink, then the scanner is asked to rescan
and sync waits until every new supervisor has reported in.

Exit status is 0 on success, 1 on failure and 3 when no scanner was
listening: the filesystem is up to date and sync can be run again later.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(rootOpts, opts, args, cmd)
		},
	}

	cmd.Flags().DurationVarP(&opts.Timeout, "timeout", "t", s6rc.DefaultTimeout, "maximum time to wait for supervisors")
	cmd.Flags().BoolVar(&opts.ReplaceStale, "replace-stale", false, "replace scandir symlinks pointing elsewhere")
	cmd.Flags().IntVar(&opts.GID, "gid", 0, "group owning event fifodirs, -1 for none; unset uses the current group")

	return cmd
}

// reconcilerOptions merges the config file and the flags the user set
func (o *SyncOptions) reconcilerOptions(cfg *Config, cmd *cobra.Command, root *RootOptions) []s6rc.Option {
	opts := []s6rc.Option{s6rc.WithLogger(root.Logger)}

	timeout := o.Timeout
	if !cmd.Flags().Changed("timeout") && cfg.Timeout > 0 {
		timeout = cfg.Timeout
	}
	opts = append(opts, s6rc.WithTimeout(timeout))

	if cmd.Flags().Changed("replace-stale") {
		opts = append(opts, s6rc.WithReplaceStale(o.ReplaceStale))
	} else {
		opts = append(opts, s6rc.WithReplaceStale(cfg.ReplaceStale))
	}

	if cmd.Flags().Changed("gid") {
		opts = append(opts, s6rc.WithGID(o.GID))
	} else if cfg.GID != nil {
		opts = append(opts, s6rc.WithGID(*cfg.GID))
	}
	return opts
}

func runSync(root *RootOptions, opts *SyncOptions, args []string, cmd *cobra.Command) error {
	live := root.Config.LiveDir(args)

	r, err := s6rc.NewReconciler(live, opts.reconcilerOptions(root.Config, cmd, root)...)
	if err != nil {
		return err
	}

	start := time.Now()
	result, err := r.Reconcile(cmd.Context())
	if err != nil {
		if errors.Is(err, s6rc.ErrTimeout) {
			return fmt.Errorf("timed out waiting for supervisors after %v: %w", time.Since(start).Round(time.Millisecond), err)
		}
		return err
	}

	root.Logger.WithField("result", result).Debug("sync finished")
	if result == s6rc.ResultPartial {
		return &ExitError{Code: ExitPartial, Err: fmt.Errorf("%s: no scanner listening, run sync again once it is up", r.ScandirPath())}
	}
	return nil
}
