package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	s6rc "github.com/axondata/go-s6rc"
)

// ValidFormats defines the allowed dump output formats.
var ValidFormats = []string{"text", "yaml"}

// DumpService is the serialized form of one service record.
type DumpService struct {
	Name       string    `yaml:"name"`
	Type       string    `yaml:"type"`
	Flags      uint32    `yaml:"flags,omitempty"`
	Timeout    [2]uint32 `yaml:"timeout,flow"`
	ServiceDir string    `yaml:"servicedir,omitempty"`
	Up         []string  `yaml:"up,omitempty,flow"`
	Down       []string  `yaml:"down,omitempty,flow"`
	Requires   []string  `yaml:"requires,omitempty,flow"`
	RequiredBy []string  `yaml:"required_by,omitempty,flow"`
}

// Dump is the serialized form of a compiled database.
type Dump struct {
	Sizes    s6rc.Sizes    `yaml:"sizes"`
	Services []DumpService `yaml:"services"`
}

// NewDump resolves every offset of db into names and argument lists.
func NewDump(db *s6rc.Database) *Dump {
	d := &Dump{Sizes: db.Sizes, Services: make([]DumpService, 0, len(db.Services))}
	names := func(deps []uint32) []string {
		var out []string
		for _, j := range deps {
			out = append(out, db.Name(int(j)))
		}
		return out
	}

	for i := range db.Services {
		sv := &db.Services[i]
		ds := DumpService{
			Name:       db.Name(i),
			Flags:      sv.Flags,
			Timeout:    sv.Timeout,
			Requires:   names(db.Dependencies(i, s6rc.Forward)),
			RequiredBy: names(db.Dependencies(i, s6rc.Reverse)),
		}
		switch p := sv.Payload.(type) {
		case s6rc.Longrun:
			ds.Type = "longrun"
			ds.ServiceDir = db.StringAt(p.ServiceDir)
		case s6rc.Oneshot:
			ds.Type = "oneshot"
			ds.Up = p.Args(db, 0)
			ds.Down = p.Args(db, 1)
		}
		d.Services = append(d.Services, ds)
	}
	return d
}

// WriteText prints the dump in a line-oriented form.
func (d *Dump) WriteText(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "s6rc-db: %d services (%d longrun, %d oneshot)\n",
		d.Sizes.NServices(), d.Sizes.NLong, d.Sizes.NShort)

	for _, sv := range d.Services {
		fmt.Fprintf(&b, "%s %s\n", sv.Name, sv.Type)
		if sv.Flags != 0 {
			fmt.Fprintf(&b, "  flags: %#x\n", sv.Flags)
		}
		if sv.Timeout != [2]uint32{} {
			fmt.Fprintf(&b, "  timeout: up=%dms down=%dms\n", sv.Timeout[0], sv.Timeout[1])
		}
		if sv.ServiceDir != "" {
			fmt.Fprintf(&b, "  servicedir: %s\n", sv.ServiceDir)
		}
		if len(sv.Up) > 0 {
			fmt.Fprintf(&b, "  up: %s\n", strings.Join(sv.Up, " "))
		}
		if len(sv.Down) > 0 {
			fmt.Fprintf(&b, "  down: %s\n", strings.Join(sv.Down, " "))
		}
		if len(sv.Requires) > 0 {
			fmt.Fprintf(&b, "  requires: %s\n", strings.Join(sv.Requires, " "))
		}
		if len(sv.RequiredBy) > 0 {
			fmt.Fprintf(&b, "  required-by: %s\n", strings.Join(sv.RequiredBy, " "))
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteYAML encodes the dump as YAML.
func (d *Dump) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return err
	}
	return enc.Close()
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "dump <compiled>",
		Short: "Validate a compiled database and print its service graph",
		Long: `Read the sizes index and database of a compiled directory, validate
every offset, range and count, and print the resulting service graph.

A database that fails validation exits non-zero and must be recompiled.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(rootOpts, format, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format (text|yaml)")

	return cmd
}

func runDump(opts *RootOptions, format, dir string, cmd *cobra.Command) error {
	if !isValidFormat(format) {
		return &ExitError{Code: ExitUsage, Err: fmt.Errorf("invalid format %q: must be one of %v", format, ValidFormats)}
	}

	db, err := s6rc.Open(dir)
	if err != nil {
		if s6rc.IsFormat(err) {
			opts.Logger.WithError(err).Error("compiled database is corrupt")
		}
		return err
	}
	opts.Logger.WithField("services", len(db.Services)).Debug("database validated")

	d := NewDump(db)
	if format == "yaml" {
		return d.WriteYAML(cmd.OutOrStdout())
	}
	return d.WriteText(cmd.OutOrStdout())
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
