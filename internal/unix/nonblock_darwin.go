//go:build darwin

// Package unix provides platform-specific Unix constants and FIFO helpers.
package unix

import "syscall"

// ONonblock is the non-blocking I/O flag for Darwin.
const ONonblock = syscall.O_NONBLOCK
