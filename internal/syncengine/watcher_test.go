package syncengine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// watchDir returns a temp dir with symlinks resolved, since notify reports
// resolved paths on some platforms.
func watchDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return dir
}

func waitEvent(t *testing.T, events <-chan FsEvent, path string) FsEvent {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "events channel closed while waiting for %s", path)
			if ev.Path == path {
				return ev
			}
		case <-deadline:
			t.Fatalf("timeout waiting for event on %s", path)
		}
	}
}

func TestWatcherWriteEvent(t *testing.T) {
	dir := watchDir(t)
	w := NewWatcher(dir)
	require.NoError(t, w.Start())
	defer w.Stop()

	file := filepath.Join(dir, "note.txt")
	require.NoError(t, os.WriteFile(file, []byte("hello"), 0o644))

	ev := waitEvent(t, w.Events(), file)
	assert.False(t, ev.Removed)
}

func TestWatcherRemoveEvent(t *testing.T) {
	dir := watchDir(t)
	file := filepath.Join(dir, "gone.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	w := NewWatcher(dir)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.Remove(file))

	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-w.Events():
			require.True(t, ok)
			if ev.Path == file && ev.Removed {
				return
			}
		case <-deadline:
			t.Fatal("timeout waiting for remove event")
		}
	}
}

func TestWatcherNestedDir(t *testing.T) {
	dir := watchDir(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a", "b"), 0o755))

	w := NewWatcher(dir)
	require.NoError(t, w.Start())
	defer w.Stop()

	file := filepath.Join(dir, "a", "b", "deep.txt")
	require.NoError(t, os.WriteFile(file, []byte("deep"), 0o644))

	ev := waitEvent(t, w.Events(), file)
	assert.False(t, ev.Removed)
}

func TestWatcherStopClosesEvents(t *testing.T) {
	dir := watchDir(t)
	w := NewWatcher(dir)
	require.NoError(t, w.Start())

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	select {
	case _, ok := <-w.Events():
		assert.False(t, ok, "events channel should be closed after Stop")
	case <-time.After(time.Second):
		t.Fatal("events channel not closed after Stop")
	}
}
