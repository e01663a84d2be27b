//go:build linux

package s6rc

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/suite"

	"github.com/axondata/go-s6rc/internal/unix"
)

type ReconcileSuite struct {
	suite.Suite

	live   string
	logger *logrus.Logger
	hook   *logtest.Hook
}

func TestReconcileSuite(t *testing.T) {
	suite.Run(t, new(ReconcileSuite))
}

func (s *ReconcileSuite) SetupTest() {
	s.live = s.T().TempDir()
	s.Require().NoError(os.Mkdir(filepath.Join(s.live, ServicedirsDir), 0o755))
	s.Require().NoError(os.Mkdir(filepath.Join(s.live, ScandirDir), 0o755))
	s.logger, s.hook = logtest.NewNullLogger()
	s.logger.SetLevel(logrus.DebugLevel)
}

func (s *ReconcileSuite) addService(name string) string {
	dir := filepath.Join(s.live, ServicedirsDir, name)
	s.Require().NoError(os.Mkdir(dir, 0o755))
	s.Require().NoError(os.WriteFile(filepath.Join(dir, "run"), []byte("#!/bin/sh\nexec sleep 1000\n"), 0o755))
	return dir
}

func (s *ReconcileSuite) reconciler(opts ...Option) *Reconciler {
	opts = append([]Option{WithLogger(s.logger), WithTimeout(5 * time.Second)}, opts...)
	r, err := NewReconciler(s.live, opts...)
	s.Require().NoError(err)
	return r
}

func (s *ReconcileSuite) scandir() string {
	return filepath.Join(s.live, ScandirDir)
}

// snapshot records everything observable about the live tree except the
// scanner control directory, whose FIFO is written on every run
func (s *ReconcileSuite) snapshot() map[string]string {
	snap := make(map[string]string)
	err := filepath.WalkDir(s.live, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Name() == ScanControlDir {
			return filepath.SkipDir
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		entry := fmt.Sprintf("%v %d %d", fi.Mode(), fi.Size(), fi.ModTime().UnixNano())
		if fi.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			entry += " -> " + target
		}
		snap[path] = entry
		return nil
	})
	s.Require().NoError(err)
	return snap
}

func (s *ReconcileSuite) assertLinked(name string) {
	target, err := os.Readlink(filepath.Join(s.scandir(), name))
	s.Require().NoError(err)
	s.Equal(filepath.Join(s.live, ServicedirsDir, name), target)
}

func (s *ReconcileSuite) hasLog(msg string) bool {
	for _, e := range s.hook.AllEntries() {
		if strings.Contains(e.Message, msg) {
			return true
		}
	}
	return false
}

func (s *ReconcileSuite) TestSuccess() {
	for _, name := range []string{"alpha", "beta", "gamma"} {
		s.addService(name)
	}
	scanner := NewMockScanner(s.T(), s.scandir())

	result, err := s.reconciler().Reconcile(context.Background())
	s.Require().NoError(err)
	s.Equal(ResultSuccess, result)
	s.Equal(1, scanner.Rescans())

	for _, name := range []string{"alpha", "beta", "gamma"} {
		dir := filepath.Join(s.live, ServicedirsDir, name)
		s.assertLinked(name)
		s.True(scanner.Supervised(name))
		s.FileExists(filepath.Join(dir, DownFile))

		fi, err := os.Stat(filepath.Join(dir, EventDir))
		s.Require().NoError(err)
		s.True(fi.IsDir())
		s.NotZero(fi.Mode()&os.ModeSetgid, "fifodir %s: %v", name, fi.Mode())
		s.NotZero(fi.Mode()&os.ModeSticky, "fifodir %s: %v", name, fi.Mode())

		// subscriptions are released on return
		s.Empty(fifoNames(s.T(), filepath.Join(dir, EventDir)))
	}
	s.True(s.hasLog("servicedirs reconciled"))
}

func (s *ReconcileSuite) TestIdempotent() {
	s.addService("alpha")
	s.addService("beta")
	scanner := NewMockScanner(s.T(), s.scandir())
	r := s.reconciler()

	result, err := r.Reconcile(context.Background())
	s.Require().NoError(err)
	s.Require().Equal(ResultSuccess, result)
	before := s.snapshot()

	result, err = r.Reconcile(context.Background())
	s.Require().NoError(err)
	s.Equal(ResultSuccess, result)
	s.Equal(before, s.snapshot())
	s.Eventually(func() bool { return scanner.Rescans() == 2 }, time.Second, 10*time.Millisecond)
}

func (s *ReconcileSuite) TestPartialThenRecover() {
	dir := s.addService("alpha")
	r := s.reconciler()

	result, err := r.Reconcile(context.Background())
	s.Require().NoError(err)
	s.Equal(ResultPartial, result)
	s.True(s.hasLog("no scanner listening"))

	s.FileExists(filepath.Join(dir, DownFile))
	s.DirExists(filepath.Join(dir, EventDir))
	s.assertLinked("alpha")

	down, err := os.Stat(filepath.Join(dir, DownFile))
	s.Require().NoError(err)
	link, err := os.Lstat(filepath.Join(s.scandir(), "alpha"))
	s.Require().NoError(err)

	scanner := NewMockScanner(s.T(), s.scandir())
	result, err = r.Reconcile(context.Background())
	s.Require().NoError(err)
	s.Equal(ResultSuccess, result)
	s.True(scanner.Supervised("alpha"))

	down2, err := os.Stat(filepath.Join(dir, DownFile))
	s.Require().NoError(err)
	s.Equal(down.ModTime(), down2.ModTime(), "down file was rewritten")
	link2, err := os.Lstat(filepath.Join(s.scandir(), "alpha"))
	s.Require().NoError(err)
	s.Equal(link.ModTime(), link2.ModTime(), "symlink was recreated")
}

func (s *ReconcileSuite) TestTimeout() {
	s.addService("alpha")
	scanner := NewMockScanner(s.T(), s.scandir())
	scanner.SetSilent(true)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	result, err := s.reconciler().Reconcile(ctx)
	s.Equal(ResultFailed, result)
	s.ErrorIs(err, ErrTimeout)
	s.Less(time.Since(start), 1200*time.Millisecond)
	s.Eventually(func() bool { return scanner.Rescans() == 1 }, time.Second, 10*time.Millisecond)

	// the filesystem changes stay committed
	s.assertLinked("alpha")
}

func (s *ReconcileSuite) TestTimeoutFromOption() {
	s.addService("alpha")
	NewMockScanner(s.T(), s.scandir()).SetSilent(true)

	start := time.Now()
	_, err := s.reconciler(WithTimeout(150 * time.Millisecond)).Reconcile(context.Background())
	s.ErrorIs(err, ErrTimeout)
	s.Less(time.Since(start), time.Second)
}

func (s *ReconcileSuite) TestAlreadySupervised() {
	dir := s.addService("alpha")
	s.addService("beta")

	// a supervisor already owns alpha
	supervise := filepath.Join(dir, SuperviseDir)
	s.Require().NoError(os.Mkdir(supervise, 0o700))
	fifo := filepath.Join(supervise, ControlFile)
	s.Require().NoError(unix.Mkfifo(fifo, 0o600))
	reader, err := os.OpenFile(fifo, os.O_RDWR, 0)
	s.Require().NoError(err)
	defer reader.Close()

	ok, err := ServiceOK(dir)
	s.Require().NoError(err)
	s.Require().True(ok)

	NewMockScanner(s.T(), s.scandir())
	result, err := s.reconciler().Reconcile(context.Background())
	s.Require().NoError(err)
	s.Equal(ResultSuccess, result)

	s.NoFileExists(filepath.Join(dir, DownFile))
	s.NoDirExists(filepath.Join(dir, EventDir))
	s.assertLinked("alpha")
	s.assertLinked("beta")
	s.FileExists(filepath.Join(s.live, ServicedirsDir, "beta", DownFile))
}

func (s *ReconcileSuite) TestSkipsDotfiles() {
	s.addService("alpha")
	s.addService(".hidden")
	NewMockScanner(s.T(), s.scandir())

	result, err := s.reconciler().Reconcile(context.Background())
	s.Require().NoError(err)
	s.Equal(ResultSuccess, result)

	_, err = os.Lstat(filepath.Join(s.scandir(), ".hidden"))
	s.True(os.IsNotExist(err))
	s.NoFileExists(filepath.Join(s.live, ServicedirsDir, ".hidden", DownFile))
}

func (s *ReconcileSuite) TestNoGroup() {
	dir := s.addService("alpha")

	_, err := s.reconciler(WithGID(-1)).Reconcile(context.Background())
	s.Require().NoError(err)

	fi, err := os.Stat(filepath.Join(dir, EventDir))
	s.Require().NoError(err)
	s.Zero(fi.Mode()&os.ModeSetgid)
	s.NotZero(fi.Mode()&os.ModeSticky)
	s.Equal(os.FileMode(0o733), fi.Mode().Perm())
}

func (s *ReconcileSuite) TestForeignFifodir() {
	if os.Getuid() != 0 {
		s.T().Skip("chown to another uid needs root")
	}
	dir := s.addService("alpha")
	eventDir := filepath.Join(dir, EventDir)
	s.Require().NoError(os.Mkdir(eventDir, FifodirModeNoGroup))
	s.Require().NoError(os.Chown(eventDir, 65534, -1))

	result, err := s.reconciler().Reconcile(context.Background())
	s.Equal(ResultFailed, result)
	s.ErrorIs(err, fs.ErrPermission)

	var opErr *OpError
	s.Require().True(errors.As(err, &opErr))
	s.Equal(OpFifodir, opErr.Op)
	s.Equal(eventDir, opErr.Path)
	_, err = os.Lstat(filepath.Join(s.scandir(), "alpha"))
	s.True(os.IsNotExist(err))
}

func (s *ReconcileSuite) TestOwnFifodirKept() {
	dir := s.addService("alpha")
	eventDir := filepath.Join(dir, EventDir)
	s.Require().NoError(os.Mkdir(eventDir, 0o700))
	NewMockScanner(s.T(), s.scandir())

	result, err := s.reconciler().Reconcile(context.Background())
	s.Require().NoError(err)
	s.Equal(ResultSuccess, result)

	fi, err := os.Stat(eventDir)
	s.Require().NoError(err)
	s.Equal(os.FileMode(0o700), fi.Mode().Perm())
}

func (s *ReconcileSuite) TestConflictNotSymlink() {
	s.addService("alpha")
	s.Require().NoError(os.Mkdir(filepath.Join(s.scandir(), "alpha"), 0o755))

	result, err := s.reconciler().Reconcile(context.Background())
	s.Equal(ResultFailed, result)
	s.ErrorIs(err, ErrConflict)

	var opErr *OpError
	s.Require().True(errors.As(err, &opErr))
	s.Equal(OpLink, opErr.Op)

	// a replace policy never removes real directories
	_, err = s.reconciler(WithReplaceStale(true)).Reconcile(context.Background())
	s.ErrorIs(err, ErrConflict)
}

func (s *ReconcileSuite) TestStaleSymlink() {
	s.addService("alpha")
	stale := filepath.Join(s.live, "old", "alpha")
	link := filepath.Join(s.scandir(), "alpha")
	s.Require().NoError(os.Symlink(stale, link))

	result, err := s.reconciler().Reconcile(context.Background())
	s.Equal(ResultFailed, result)
	s.ErrorIs(err, ErrConflict)
	target, err := os.Readlink(link)
	s.Require().NoError(err)
	s.Equal(stale, target)

	result, err = s.reconciler(WithReplaceStale(true)).Reconcile(context.Background())
	s.Require().NoError(err)
	s.Equal(ResultPartial, result)
	s.assertLinked("alpha")
	s.True(s.hasLog("replacing stale symlink"))
}

func (s *ReconcileSuite) TestMissingServicedirs() {
	s.Require().NoError(os.Remove(filepath.Join(s.live, ServicedirsDir)))

	result, err := s.reconciler().Reconcile(context.Background())
	s.Equal(ResultFailed, result)

	var opErr *OpError
	s.Require().True(errors.As(err, &opErr))
	s.Equal(OpScan, opErr.Op)
}

func (s *ReconcileSuite) TestEmpty() {
	scanner := NewMockScanner(s.T(), s.scandir())

	result, err := s.reconciler().Reconcile(context.Background())
	s.Require().NoError(err)
	s.Equal(ResultSuccess, result)
	s.Eventually(func() bool { return scanner.Rescans() == 1 }, time.Second, 10*time.Millisecond)
}

func TestResultString(t *testing.T) {
	for want, r := range map[string]Result{
		"success": ResultSuccess,
		"partial": ResultPartial,
		"failed":  ResultFailed,
	} {
		if got := r.String(); got != want {
			t.Errorf("Result(%d).String() = %q, want %q", r, got, want)
		}
	}
}
