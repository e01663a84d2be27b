package s6rc

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/renameio/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compile(t *testing.T, live, name string, services ...string) {
	t.Helper()
	b := NewBuilder()
	for _, sv := range services {
		b.Longrun(sv, sv)
	}
	db, err := b.Build()
	require.NoError(t, err)
	require.NoError(t, WriteCompiled(filepath.Join(live, name), db))
}

func nextEvent(t *testing.T, events <-chan DatabaseEvent) DatabaseEvent {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for database event")
	}
	return DatabaseEvent{}
}

func TestWatchCompiled(t *testing.T) {
	live := t.TempDir()
	link := filepath.Join(live, CompiledLink)
	compile(t, live, "compiled-1", "sshd")
	require.NoError(t, renameio.Symlink("compiled-1", link))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	events, cleanup, err := WatchCompiled(ctx, live, 10*time.Millisecond)
	require.NoError(t, err)

	ev := nextEvent(t, events)
	require.NoError(t, ev.Err)
	assert.Equal(t, "compiled-1", ev.Target)
	require.NotNil(t, ev.DB)
	assert.Equal(t, "sshd", ev.DB.Name(0))

	// switching to a new database is reported once
	compile(t, live, "compiled-2", "sshd", "cron")
	require.NoError(t, renameio.Symlink("compiled-2", link))

	ev = nextEvent(t, events)
	require.NoError(t, ev.Err)
	assert.Equal(t, "compiled-2", ev.Target)
	require.NotNil(t, ev.DB)
	assert.Len(t, ev.DB.Services, 2)

	// unrelated files do not trigger reloads
	compile(t, live, "compiled-3", "ntpd")
	select {
	case ev := <-events:
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}

	// a corrupt database is reported, not swallowed
	require.NoError(t, renameio.WriteFile(filepath.Join(live, "compiled-3", DBFile), []byte("junk"), 0o644))
	require.NoError(t, renameio.Symlink("compiled-3", link))
	ev = nextEvent(t, events)
	assert.Equal(t, "compiled-3", ev.Target)
	assert.Error(t, ev.Err)
	assert.Nil(t, ev.DB)

	require.NoError(t, cleanup())
	for range events {
	}
}

func TestWatchCompiledMissingLink(t *testing.T) {
	live := t.TempDir()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, cleanup, err := WatchCompiled(ctx, live, 0)
	require.NoError(t, err)
	defer func() { _ = cleanup() }()

	ev := nextEvent(t, events)
	assert.Error(t, ev.Err)
	assert.Nil(t, ev.DB)

	// the link showing up later is picked up
	compile(t, live, "compiled-1", "sshd")
	require.NoError(t, renameio.Symlink("compiled-1", filepath.Join(live, CompiledLink)))
	ev = nextEvent(t, events)
	require.NoError(t, ev.Err)
	assert.Equal(t, "compiled-1", ev.Target)
}

func TestWatchCompiledAbsoluteTarget(t *testing.T) {
	live := t.TempDir()
	store := t.TempDir()
	compile(t, store, "compiled-1", "sshd", "cron")
	target := filepath.Join(store, "compiled-1")
	require.NoError(t, renameio.Symlink(target, filepath.Join(live, CompiledLink)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, cleanup, err := WatchCompiled(ctx, live, 0)
	require.NoError(t, err)
	defer func() { _ = cleanup() }()

	ev := nextEvent(t, events)
	require.NoError(t, ev.Err)
	assert.Equal(t, target, ev.Target)
	require.NotNil(t, ev.DB)
	assert.Len(t, ev.DB.Services, 2)
}

func TestWatchCompiledContextCancel(t *testing.T) {
	live := t.TempDir()
	compile(t, live, "compiled-1", "sshd")
	require.NoError(t, renameio.Symlink("compiled-1", filepath.Join(live, CompiledLink)))

	ctx, cancel := context.WithCancel(context.Background())
	events, cleanup, err := WatchCompiled(ctx, live, 0)
	require.NoError(t, err)
	nextEvent(t, events)

	cancel()
	done := make(chan struct{})
	go func() {
		for range events {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event channel not closed after cancel")
	}
	_ = cleanup()
}

func TestWatchCompiledMissingDir(t *testing.T) {
	_, _, err := WatchCompiled(context.Background(), filepath.Join(t.TempDir(), "nope"), 0)
	assert.Error(t, err)
}
