//go:build linux || darwin

package s6rc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/renameio/v2"
	"github.com/sirupsen/logrus"

	"github.com/axondata/go-s6rc/internal/unix"
)

// Reconcile brings the scandir in line with servicedirs. Every servicedir
// without a running supervisor gets a down file and an event fifodir, then
// a subscription; every servicedir gets a scandir symlink. The scanner is
// then asked to rescan and Reconcile waits until every subscription fired.
//
// All steps are idempotent, so running Reconcile again after ResultPartial
// or a failure converges.
func (r *Reconciler) Reconcile(ctx context.Context) (Result, error) {
	deadline := r.deadline(ctx)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	subs := NewSubscriptions(deadline)
	defer func() {
		if err := subs.Close(); err != nil {
			r.Logger.WithError(err).Warn("releasing subscriptions")
		}
	}()

	dirsPath := r.ServicedirsPath()
	entries, err := os.ReadDir(dirsPath)
	if err != nil {
		return ResultFailed, &OpError{Op: OpScan, Path: dirsPath, Err: err}
	}

	var ids []SubscriptionID
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		id, err := r.manage(name, subs)
		if err != nil {
			return ResultFailed, err
		}
		if id != 0 {
			ids = append(ids, id)
		}
	}

	ok, err := WriteScanControl(r.ScandirPath(), ScanCommandRescan)
	if err != nil {
		return ResultFailed, err
	}
	if !ok {
		r.Logger.WithField("scandir", r.ScandirPath()).Warn("no scanner listening, rescan skipped")
		return ResultPartial, nil
	}

	if err := subs.WaitAll(ctx, ids); err != nil {
		return ResultFailed, err
	}

	r.Logger.WithFields(logrus.Fields{
		"live":    r.Live,
		"started": len(ids),
	}).Info("servicedirs reconciled")
	return ResultSuccess, nil
}

func defaultGID() int {
	return unix.Getgid()
}

// manage prepares one servicedir and links it. It returns the subscription
// created for it, or 0 when a supervisor already runs there.
func (r *Reconciler) manage(name string, subs *Subscriptions) (SubscriptionID, error) {
	src := filepath.Join(r.ServicedirsPath(), name)
	log := r.Logger.WithField("service", name)

	live, err := ServiceOK(src)
	if err != nil {
		return 0, err
	}

	var id SubscriptionID
	if !live {
		if err := ensureDown(src); err != nil {
			return 0, err
		}
		eventDir := filepath.Join(src, EventDir)
		if err := makeFifodir(eventDir, r.GID); err != nil {
			return 0, err
		}
		id, err = subs.Subscribe(eventDir, EventSupervised)
		if err != nil {
			return 0, err
		}
		log.Debug("servicedir prepared")
	}

	if err := r.link(src, filepath.Join(r.ScandirPath(), name)); err != nil {
		return 0, err
	}
	return id, nil
}

// ensureDown creates the down file if it is missing
func ensureDown(dir string) error {
	path := filepath.Join(dir, DownFile)
	if _, err := os.Lstat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return &OpError{Op: OpDown, Path: path, Err: err}
	}
	if err := renameio.WriteFile(path, nil, FileMode); err != nil {
		return &OpError{Op: OpDown, Path: path, Err: err}
	}
	return nil
}

// makeFifodir creates an event fifodir owned by gid. An existing directory
// is accepted as is only when the caller's uid owns it.
func makeFifodir(path string, gid int) error {
	err := os.Mkdir(path, 0o700)
	if err != nil {
		if !os.IsExist(err) {
			return &OpError{Op: OpFifodir, Path: path, Err: err}
		}
		fi, err := os.Stat(path)
		if err != nil {
			return &OpError{Op: OpFifodir, Path: path, Err: err}
		}
		if !fi.IsDir() {
			return &OpError{Op: OpFifodir, Path: path, Err: errors.New("not a directory")}
		}
		if st, ok := fi.Sys().(*syscall.Stat_t); ok && int(st.Uid) != os.Getuid() {
			return &OpError{Op: OpFifodir, Path: path, Err: syscall.EACCES}
		}
		return nil
	}

	mode := FifodirModeNoGroup
	if gid >= 0 {
		if err := os.Chown(path, -1, gid); err != nil {
			return &OpError{Op: OpFifodir, Path: path, Err: err}
		}
		mode = FifodirMode
	}
	if err := os.Chmod(path, mode); err != nil {
		return &OpError{Op: OpFifodir, Path: path, Err: err}
	}
	return nil
}

// link points dst at src. A symlink already pointing at src is left alone.
func (r *Reconciler) link(src, dst string) error {
	fi, err := os.Lstat(dst)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return &OpError{Op: OpLink, Path: dst, Err: err}
	case fi.Mode()&os.ModeSymlink == 0:
		return &OpError{Op: OpLink, Path: dst, Err: ErrConflict}
	default:
		target, err := os.Readlink(dst)
		if err != nil {
			return &OpError{Op: OpLink, Path: dst, Err: err}
		}
		if target == src {
			return nil
		}
		if !r.ReplaceStale {
			return &OpError{Op: OpLink, Path: dst, Err: fmt.Errorf("%w: points to %s", ErrConflict, target)}
		}
		r.Logger.WithFields(logrus.Fields{"link": dst, "stale": target}).Info("replacing stale symlink")
	}

	if err := renameio.Symlink(src, dst); err != nil {
		return &OpError{Op: OpLink, Path: dst, Err: err}
	}
	return nil
}
