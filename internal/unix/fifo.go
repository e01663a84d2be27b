//go:build linux || darwin

package unix

import (
	"errors"

	sysunix "golang.org/x/sys/unix"
)

// Mkfifo creates a named pipe at path with the given permission bits.
func Mkfifo(path string, mode uint32) error {
	return sysunix.Mkfifo(path, mode)
}

// NoReader reports whether err came from opening a FIFO for writing while
// nothing reads it, or from a FIFO that does not exist yet. Both mean the
// process expected on the other end is not running.
func NoReader(err error) bool {
	return errors.Is(err, sysunix.ENXIO) || errors.Is(err, sysunix.ENOENT)
}

// Getgid returns the real group id of the calling process.
func Getgid() int {
	return sysunix.Getgid()
}
