//go:build linux || darwin

package s6rc

import (
	"os"
	"path/filepath"

	"github.com/axondata/go-s6rc/internal/unix"
)

// ServiceOK reports whether a supervisor is running on the service directory dir.
// A supervisor holds the read end of dir/supervise/control open; without it
// the FIFO is either missing or refuses a non-blocking writer.
func ServiceOK(dir string) (bool, error) {
	controlPath := filepath.Join(dir, SuperviseDir, ControlFile)
	file, err := os.OpenFile(controlPath, os.O_WRONLY|unix.ONonblock, 0)
	if err != nil {
		if unix.NoReader(err) {
			return false, nil
		}
		return false, &OpError{Op: OpProbe, Path: controlPath, Err: err}
	}
	_ = file.Close()
	return true, nil
}

// WriteScanControl sends a single command byte to the scanner watching scandir.
// It returns false without error when no scanner is listening.
func WriteScanControl(scandir string, cmd byte) (bool, error) {
	controlPath := filepath.Join(scandir, ScanControlDir, ControlFile)
	file, err := os.OpenFile(controlPath, os.O_WRONLY|unix.ONonblock, 0)
	if err != nil {
		if unix.NoReader(err) {
			return false, nil
		}
		return false, &OpError{Op: OpRescan, Path: controlPath, Err: err}
	}
	defer func() { _ = file.Close() }()

	if _, err := file.Write([]byte{cmd}); err != nil {
		return false, &OpError{Op: OpRescan, Path: controlPath, Err: err}
	}
	return true, nil
}
