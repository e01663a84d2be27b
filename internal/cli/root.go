package cli

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	s6rc "github.com/axondata/go-s6rc"
)

// Exit codes
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitPartial = 3
	ExitUsage   = 100
)

// ExitError carries a specific process exit code
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode maps an error returned by Execute onto a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// RootOptions holds global flags and state shared by all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool

	Config *Config
	Logger *logrus.Logger
}

// NewRootCommand creates the root command for the s6rc-db CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{
		Config: &Config{},
		Logger: logrus.New(),
	}

	cmd := &cobra.Command{
		Use:     "s6rc-db",
		Short:   "Inspect compiled s6-rc databases and sync live directories",
		Version: s6rc.Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	info := s6rc.GetVersion()
	cmd.SetVersionTemplate(fmt.Sprintf("{{.Name}} %s (format %s, rendezvous %s)\n",
		info.Version, info.Format, info.Rendezvous))

	// Global flags
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "YAML config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewDumpCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewDryrunCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewSwitchCommand(opts))

	return cmd
}

// setup loads the config and points the logger at the command's stderr
func (o *RootOptions) setup(cmd *cobra.Command) error {
	cfg, err := LoadConfig(o.ConfigPath)
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: err}
	}
	o.Config = cfg

	o.Logger.SetOutput(cmd.ErrOrStderr())
	o.Logger.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
	})

	level := logrus.WarnLevel
	if cfg.LogLevel != "" {
		level, err = logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			return &ExitError{Code: ExitUsage, Err: err}
		}
	}
	if o.Verbose {
		level = logrus.DebugLevel
	}
	o.Logger.SetLevel(level)
	return nil
}
