package s6rc

import (
	"os"
	"time"
)

// Compiled database constants
const (
	// DBFile is the name of the compiled database inside a compiled directory
	DBFile = "db"

	// SizesFile is the name of the index holding the database counts
	SizesFile = "n"

	// BannerStart opens every compiled database
	BannerStart = "s6rc-db: start\n"

	// BannerEnd closes every compiled database
	BannerEnd = "\ns6rc-db: end\n"

	// RecordEnd terminates every service record
	RecordEnd byte = 0xFE

	// SizesFileSize is the exact size of the sizes index: five big-endian uint32
	SizesFileSize = 20
)

// Upper bounds accepted from the sizes index. They keep a corrupt index
// from driving allocation before the database itself is validated.
const (
	// MaxServices is the largest accepted nshort+nlong
	MaxServices = 1 << 20

	// MaxStringLen is the largest accepted string pool
	MaxStringLen = 1 << 28

	// MaxDeps is the largest accepted ndeps
	MaxDeps = 1 << 24

	// MaxArgvs is the largest accepted argv arena
	MaxArgvs = 1 << 24
)

// Live directory layout
const (
	// ServicedirsDir holds the externally managed service directories
	ServicedirsDir = "servicedirs"

	// ScandirDir is the directory scanned by the supervision scanner
	ScandirDir = "scandir"

	// CompiledLink is the symlink to the compiled directory currently in use
	CompiledLink = "compiled"

	// DownFile suppresses automatic start of a service when present
	DownFile = "down"

	// EventDir is the fifodir the supervisor notifies of state changes
	EventDir = "event"

	// SuperviseDir is the per-service supervisor directory
	SuperviseDir = "supervise"

	// ControlFile is the control FIFO name inside a supervisor directory
	ControlFile = "control"

	// ScanControlDir is the scanner's control directory inside the scandir
	ScanControlDir = ".s6-svscan"

	// FifoPrefix prefixes every subscriber FIFO in a fifodir
	FifoPrefix = "ftrig1"
)

// Control bytes and events
const (
	// ScanCommandRescan asks the scanner to rescan the scandir
	ScanCommandRescan byte = 'a'

	// EventSupervised is sent by the supervisor once it has taken over a servicedir
	EventSupervised = "s"
)

// Defaults
const (
	// DefaultTimeout bounds a reconciliation when the context carries no deadline
	DefaultTimeout = 10 * time.Second

	// DefaultWatchDebounce is the default debounce time for compiled-link watching
	DefaultWatchDebounce = 25 * time.Millisecond
)

// File modes
const (
	// FileMode is the default mode for created files
	FileMode = 0o644

	// DirMode is the default mode for created directories
	DirMode = 0o755

	// FifoMode is the mode of subscriber FIFOs
	FifoMode = 0o622

	// FifodirMode is the mode of event fifodirs when a group is set
	FifodirMode = os.ModeSetgid | os.ModeSticky | 0o730

	// FifodirModeNoGroup is the mode of event fifodirs without a group
	FifodirModeNoGroup = os.ModeSticky | 0o733
)

// Operation represents an s6rc operation type
type Operation int

const (
	// OpUnknown represents an unknown operation
	OpUnknown Operation = iota
	// OpReadSizes reads the sizes index
	OpReadSizes
	// OpReadDB reads and validates the compiled database
	OpReadDB
	// OpWriteDB writes a compiled database
	OpWriteDB
	// OpProbe checks whether a supervisor is running on a servicedir
	OpProbe
	// OpScan scans the servicedirs directory
	OpScan
	// OpDown creates a down sentinel
	OpDown
	// OpFifodir creates an event fifodir
	OpFifodir
	// OpSubscribe creates an event subscription
	OpSubscribe
	// OpLink creates or refreshes a scandir symlink
	OpLink
	// OpRescan writes a command to the scanner
	OpRescan
	// OpWait waits for subscriptions to fire
	OpWait
	// OpWatch watches the compiled link
	OpWatch
)

// Operation string constants
const (
	opUnknownStr   = "unknown"
	opReadSizesStr = "read-sizes"
	opReadDBStr    = "read-db"
	opWriteDBStr   = "write-db"
	opProbeStr     = "probe"
	opScanStr      = "scan"
	opDownStr      = "down"
	opFifodirStr   = "fifodir"
	opSubscribeStr = "subscribe"
	opLinkStr      = "link"
	opRescanStr    = "rescan"
	opWaitStr      = "wait"
	opWatchStr     = "watch"
)

// String returns the string representation of an Operation
func (op Operation) String() string {
	switch op {
	case OpReadSizes:
		return opReadSizesStr
	case OpReadDB:
		return opReadDBStr
	case OpWriteDB:
		return opWriteDBStr
	case OpProbe:
		return opProbeStr
	case OpScan:
		return opScanStr
	case OpDown:
		return opDownStr
	case OpFifodir:
		return opFifodirStr
	case OpSubscribe:
		return opSubscribeStr
	case OpLink:
		return opLinkStr
	case OpRescan:
		return opRescanStr
	case OpWait:
		return opWaitStr
	case OpWatch:
		return opWatchStr
	default:
		return opUnknownStr
	}
}
