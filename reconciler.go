package s6rc

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// Result is the outcome of a reconciliation
type Result int

const (
	// ResultFailed means the reconciliation stopped on an error
	ResultFailed Result = iota
	// ResultSuccess means the tree is in sync and every new service was picked up
	ResultSuccess
	// ResultPartial means the tree is in sync but no scanner was listening;
	// the filesystem changes are committed and a later run will finish the job
	ResultPartial
)

// String returns the string representation of a Result
func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultPartial:
		return "partial"
	default:
		return "failed"
	}
}

// Reconciler links the service directories of a live directory into its
// scandir and waits for the supervisors to take them over.
// It assumes a single writer per live directory.
type Reconciler struct {
	// Live is the canonical path of the live directory
	Live string

	// GID is the group owning the event fifodirs, or -1 for none
	GID int

	// Timeout bounds a reconciliation when the context carries no deadline
	Timeout time.Duration

	// ReplaceStale replaces scandir symlinks pointing somewhere else instead
	// of reporting ErrConflict
	ReplaceStale bool

	// Logger receives progress messages
	Logger logrus.FieldLogger
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithGID sets the group owning the event fifodirs
func WithGID(gid int) Option {
	return func(r *Reconciler) {
		r.GID = gid
	}
}

// WithTimeout sets the fallback reconciliation timeout
func WithTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		r.Timeout = d
	}
}

// WithReplaceStale makes the reconciler replace scandir symlinks left by a
// different compiled database
func WithReplaceStale(replace bool) Option {
	return func(r *Reconciler) {
		r.ReplaceStale = replace
	}
}

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Reconciler) {
		r.Logger = l
	}
}

// NewReconciler creates a Reconciler for the live directory live
func NewReconciler(live string, opts ...Option) (*Reconciler, error) {
	absPath, err := filepath.Abs(live)
	if err != nil {
		return nil, fmt.Errorf("resolving live dir: %w", err)
	}

	r := &Reconciler{
		Live:    absPath,
		GID:     defaultGID(),
		Timeout: DefaultTimeout,
		Logger:  logrus.StandardLogger(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// ServicedirsPath returns the path of the servicedirs directory
func (r *Reconciler) ServicedirsPath() string {
	return filepath.Join(r.Live, ServicedirsDir)
}

// ScandirPath returns the path of the scandir
func (r *Reconciler) ScandirPath() string {
	return filepath.Join(r.Live, ScandirDir)
}

// deadline returns the absolute deadline shared by the whole reconciliation
func (r *Reconciler) deadline(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(r.Timeout)
}
