package s6rc

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"vawter.tech/stopper"
)

// DatabaseEvent is emitted each time the compiled database of a live
// directory is (re)loaded
type DatabaseEvent struct {
	// Target is where the compiled link pointed when the database was read
	Target string
	// DB is the validated database, nil when Err is set
	DB *Database
	// Err reports a database that could not be read or failed validation
	Err error
}

// WatchCleanupFunc stops a watch and waits for its goroutine to exit
type WatchCleanupFunc func() error

// watchState tracks the last link target seen and the pending debounce
type watchState struct {
	mu         sync.Mutex
	lastTarget string
	debouncer  *time.Timer
}

// WatchCompiled loads the database behind live/compiled and reloads it every
// time the link is replaced. The first event carries the current database.
// Events for an unchanged target are suppressed. The channel is closed once
// the watch stops.
func WatchCompiled(ctx context.Context, live string, debounce time.Duration) (<-chan DatabaseEvent, WatchCleanupFunc, error) {
	live, err := filepath.Abs(live)
	if err != nil {
		return nil, nil, &OpError{Op: OpWatch, Path: live, Err: err}
	}
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	link := filepath.Join(live, CompiledLink)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, &OpError{Op: OpWatch, Path: live, Err: err}
	}
	if err := watcher.Add(live); err != nil {
		_ = watcher.Close()
		return nil, nil, &OpError{Op: OpWatch, Path: live, Err: err}
	}

	ch := make(chan DatabaseEvent, 4)
	reload := make(chan struct{}, 1)
	sctx := stopper.WithContext(ctx)
	state := &watchState{}

	cleanup := func() error {
		sctx.Stop(100 * time.Millisecond)
		return sctx.Wait()
	}

	send := func(ev DatabaseEvent) {
		if sctx.IsStopping() {
			return
		}
		select {
		case ch <- ev:
		case <-sctx.Stopping():
		case <-ctx.Done():
		}
	}

	load := func() {
		if sctx.IsStopping() {
			return
		}
		target, err := os.Readlink(link)
		if err != nil {
			send(DatabaseEvent{Err: &OpError{Op: OpWatch, Path: link, Err: err}})
			return
		}

		state.mu.Lock()
		if target == state.lastTarget {
			state.mu.Unlock()
			return
		}
		state.lastTarget = target
		state.mu.Unlock()

		// open what was read, not the link, so DB always matches Target
		db, err := Open(resolveCompiled(live, target))
		send(DatabaseEvent{Target: target, DB: db, Err: err})
	}

	kick := func() {
		select {
		case reload <- struct{}{}:
		default:
		}
	}

	// Every load and send happens on the watch goroutine, so the event
	// channel can be closed once it exits.
	sctx.Go(func(sctx *stopper.Context) error {
		defer func() {
			state.mu.Lock()
			if state.debouncer != nil {
				state.debouncer.Stop()
			}
			state.mu.Unlock()
			_ = watcher.Close()
			close(ch)
		}()

		load()

		for !sctx.IsStopping() {
			select {
			case <-sctx.Stopping():
				return nil

			case <-ctx.Done():
				return nil

			case <-reload:
				load()

			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if filepath.Base(event.Name) != CompiledLink {
					continue
				}
				state.mu.Lock()
				if state.debouncer != nil {
					state.debouncer.Stop()
				}
				state.debouncer = time.AfterFunc(debounce, kick)
				state.mu.Unlock()

			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				if err != nil {
					send(DatabaseEvent{Err: &OpError{Op: OpWatch, Path: live, Err: err}})
				}
			}
		}
		return nil
	})

	return ch, cleanup, nil
}
