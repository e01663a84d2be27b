package s6rc

import (
	"errors"
	"fmt"
)

// Common errors returned by s6rc operations
var (
	// ErrFormat indicates the compiled database is structurally invalid.
	// The database must be discarded and recompiled.
	ErrFormat = errors.New("s6rc: invalid database format")

	// ErrTimeout indicates the event rendezvous did not complete before the deadline
	ErrTimeout = errors.New("s6rc: timeout")

	// ErrConflict indicates a scandir entry exists and does not point at the expected servicedir
	ErrConflict = errors.New("s6rc: scandir entry conflict")

	// ErrNotSupported indicates the operation is unavailable on this platform
	ErrNotSupported = errors.New("s6rc: not supported on this platform")
)

// OpError represents an error from an s6rc operation
type OpError struct {
	// Op is the operation that failed
	Op Operation
	// Path is the file path involved in the operation
	Path string
	// Err is the underlying error
	Err error
}

// Error returns a formatted error message
func (e *OpError) Error() string {
	return fmt.Sprintf("s6rc %s %q: %v", e.Op.String(), e.Path, e.Err)
}

// Unwrap returns the underlying error for error chain inspection
func (e *OpError) Unwrap() error {
	return e.Err
}

// FormatError describes where a compiled database failed validation.
// It matches ErrFormat under errors.Is.
type FormatError struct {
	// Service is the index of the record being decoded, or -1 outside the record section
	Service int
	// Field names the value that failed validation
	Field string
	// Value is the offending value as read from disk
	Value uint64
}

// Error returns a formatted error message
func (e *FormatError) Error() string {
	if e.Service < 0 {
		return fmt.Sprintf("%v: %s (%d)", ErrFormat, e.Field, e.Value)
	}
	return fmt.Sprintf("%v: service %d: %s (%d)", ErrFormat, e.Service, e.Field, e.Value)
}

// Is reports whether target is ErrFormat
func (e *FormatError) Is(target error) bool {
	return target == ErrFormat
}

func formatErr(service int, field string, value uint64) error {
	return &FormatError{Service: service, Field: field, Value: value}
}

// IsFormat reports whether err was caused by an invalid compiled database,
// as opposed to an I/O failure while reading it.
func IsFormat(err error) bool {
	return errors.Is(err, ErrFormat)
}

// MultiError aggregates errors from releasing several resources
type MultiError struct {
	// Errors contains all accumulated errors
	Errors []error
}

// Error returns a summary of the accumulated errors
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred", len(m.Errors))
}

// Unwrap returns the accumulated errors for errors.Is and errors.As
func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// Add appends an error to the collection if it's not nil
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// Err returns nil if no errors occurred, otherwise returns the MultiError itself
func (m *MultiError) Err() error {
	if len(m.Errors) == 0 {
		return nil
	}
	return m
}
