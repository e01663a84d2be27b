//go:build !linux && !darwin

package s6rc

import "context"

func defaultGID() int {
	return -1
}

// Reconcile is not supported on this platform
func (r *Reconciler) Reconcile(_ context.Context) (Result, error) {
	return ResultFailed, &OpError{Op: OpScan, Path: r.Live, Err: ErrNotSupported}
}
