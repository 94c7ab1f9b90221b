package syncengine

import (
	"log/slog"
	"sync"

	"github.com/rjeczalik/notify"
)

const watchBufferSize = 64

// FsEvent is one classified filesystem event from a watched source tree.
// Removed events cover both deletes and renames away from the tree.
type FsEvent struct {
	Path    string
	Removed bool
}

// Watcher wraps a recursive notify watch on one sync source directory and
// forwards classified events. One watcher lives per running job.
type Watcher struct {
	dir    string
	raw    chan notify.EventInfo
	events chan FsEvent
	done   chan struct{}
	wg     sync.WaitGroup
}

func NewWatcher(dir string) *Watcher {
	return &Watcher{
		dir:    dir,
		done:   make(chan struct{}),
		events: make(chan FsEvent, watchBufferSize),
	}
}

func (w *Watcher) Start() error {
	slog.Info("sync watcher start", "dir", w.dir)

	w.raw = make(chan notify.EventInfo, watchBufferSize)
	if err := notify.Watch(w.dir+"/...", w.raw, notify.Create, notify.Write, notify.Remove, notify.Rename); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.forward()
	return nil
}

func (w *Watcher) Stop() {
	close(w.done)
	if w.raw != nil {
		notify.Stop(w.raw)
	}
	w.wg.Wait()
	slog.Info("sync watcher stopped", "dir", w.dir)
}

func (w *Watcher) Events() <-chan FsEvent {
	return w.events
}

func (w *Watcher) forward() {
	defer func() {
		w.wg.Done()
		close(w.events)
	}()

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.raw:
			if !ok {
				return
			}
			out := FsEvent{
				Path:    ev.Path(),
				Removed: ev.Event()&(notify.Remove|notify.Rename) != 0,
			}
			select {
			case w.events <- out:
			default:
				slog.Warn("sync watcher dropped event", "reason", "channel full", "path", out.Path)
			}
		}
	}
}
