//go:build linux

package s6rc

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/axondata/go-s6rc/internal/unix"
)

// MockScanner stands in for the scanner and its supervisors so tests run
// without s6 installed. It listens on the scandir control FIFO and, on a
// rescan command, "supervises" every linked servicedir: it opens a reader on
// supervise/control and notifies the servicedir's event fifodir.
type MockScanner struct {
	Scandir string

	silent  atomic.Bool
	control *os.File
	rescans atomic.Int32
	mu      sync.Mutex
	held    map[string]*os.File
	wg      sync.WaitGroup
}

// NewMockScanner creates the scanner control FIFO under scandir and starts listening
func NewMockScanner(t *testing.T, scandir string) *MockScanner {
	t.Helper()

	ctlDir := filepath.Join(scandir, ScanControlDir)
	require.NoError(t, os.MkdirAll(ctlDir, 0o700))
	fifo := filepath.Join(ctlDir, ControlFile)
	require.NoError(t, unix.Mkfifo(fifo, 0o600))

	control, err := os.OpenFile(fifo, os.O_RDWR|unix.ONonblock, 0)
	require.NoError(t, err)

	m := &MockScanner{
		Scandir: scandir,
		control: control,
		held:    make(map[string]*os.File),
	}
	m.wg.Add(1)
	go m.loop()

	t.Cleanup(m.Close)
	return m
}

func (m *MockScanner) loop() {
	defer m.wg.Done()
	buf := make([]byte, 16)
	for {
		n, err := m.control.Read(buf)
		for _, b := range buf[:n] {
			if b == ScanCommandRescan {
				m.rescans.Add(1)
				if !m.silent.Load() {
					m.scan()
				}
			}
		}
		if err != nil {
			return
		}
	}
}

// scan supervises every servicedir linked into the scandir that is not supervised yet
func (m *MockScanner) scan() {
	entries, err := os.ReadDir(m.Scandir)
	if err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if _, ok := m.held[name]; ok {
			continue
		}
		dir, err := filepath.EvalSymlinks(filepath.Join(m.Scandir, name))
		if err != nil {
			continue
		}

		superviseDir := filepath.Join(dir, SuperviseDir)
		if err := os.MkdirAll(superviseDir, 0o700); err != nil {
			continue
		}
		fifo := filepath.Join(superviseDir, ControlFile)
		if err := unix.Mkfifo(fifo, 0o600); err != nil && !errors.Is(err, os.ErrExist) {
			continue
		}
		reader, err := os.OpenFile(fifo, os.O_RDWR|unix.ONonblock, 0)
		if err != nil {
			continue
		}
		m.held[name] = reader

		notifyFifodir(filepath.Join(dir, EventDir), EventSupervised)
	}
}

// notifyFifodir writes event to every subscriber FIFO of a fifodir and
// returns how many subscribers were reached
func notifyFifodir(fifodir, event string) int {
	entries, err := os.ReadDir(fifodir)
	if err != nil {
		return 0
	}
	n := 0
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), FifoPrefix+"@") {
			continue
		}
		path := filepath.Join(fifodir, entry.Name())
		w, err := os.OpenFile(path, os.O_WRONLY|unix.ONonblock, 0)
		if err != nil {
			continue
		}
		if _, err := w.Write([]byte(event)); err == nil {
			n++
		}
		_ = w.Close()
	}
	return n
}

// SetSilent makes the scanner accept commands without ever supervising anything
func (m *MockScanner) SetSilent(silent bool) {
	m.silent.Store(silent)
}

// Rescans returns the number of rescan commands received
func (m *MockScanner) Rescans() int {
	return int(m.rescans.Load())
}

// Supervised returns whether name has been taken over
func (m *MockScanner) Supervised(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[name]
	return ok
}

// Close stops listening and releases every supervise control FIFO
func (m *MockScanner) Close() {
	if m.control == nil {
		return
	}
	_ = m.control.Close()
	m.wg.Wait()
	m.control = nil

	m.mu.Lock()
	defer m.mu.Unlock()
	for name, f := range m.held {
		_ = f.Close()
		delete(m.held, name)
	}
}
