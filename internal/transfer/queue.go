package transfer

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/lanbeam/lanbeam/internal/device"
	"github.com/lanbeam/lanbeam/internal/events"
)

type queueItem struct {
	t      *Transfer
	target device.Device
}

// Queue is a strict FIFO of outgoing transfers. Exactly one send is in
// flight at a time; finishing an item, however it ends, immediately starts
// the next. Items are never reordered.
type Queue struct {
	mu            sync.Mutex
	pending       []*queueItem
	current       *queueItem
	cancelCurrent context.CancelFunc

	sender  *Sender
	updates *events.Topic[Transfer]
	history *HistoryStore
	wake    chan struct{}
}

// NewQueue builds a queue around a sender. updates and history may be nil.
func NewQueue(sender *Sender, updates *events.Topic[Transfer], history *HistoryStore) *Queue {
	return &Queue{
		sender:  sender,
		updates: updates,
		history: history,
		wake:    make(chan struct{}, 1),
	}
}

// Enqueue appends one file for the target device and returns the queued
// transfer snapshot. The worker picks it up as soon as it reaches the front.
func (q *Queue) Enqueue(filePath string, target device.Device) (Transfer, error) {
	t, err := NewOutgoing(filePath, q.sender.identity.Snapshot(), target)
	if err != nil {
		return Transfer{}, err
	}

	q.mu.Lock()
	q.pending = append(q.pending, &queueItem{t: &t, target: target})
	snap := t
	q.mu.Unlock()

	slog.Info("transfer queued", "id", snap.ID, "file", snap.FileName, "to", target.Name)
	q.publish(snap)
	q.kick()
	return snap, nil
}

// SendablePaths lists the regular non-empty files under dir in walk order.
func SendablePaths(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no sendable files under %s", dir)
	}
	return paths, nil
}

// EnqueueFolder enqueues every sendable file under dir, preserving walk
// order. It returns the queued snapshots.
func (q *Queue) EnqueueFolder(dir string, target device.Device) ([]Transfer, error) {
	paths, err := SendablePaths(dir)
	if err != nil {
		return nil, err
	}

	queued := make([]Transfer, 0, len(paths))
	for _, path := range paths {
		t, err := q.Enqueue(path, target)
		if err != nil {
			return queued, err
		}
		queued = append(queued, t)
	}
	return queued, nil
}

// Cancel aborts a transfer by id: a queued item is marked cancelled and
// removed, the in-flight item gets its context cancelled.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	if q.current != nil && (q.current.t.ID == id) {
		cancel := q.cancelCurrent
		q.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil
	}

	for i, item := range q.pending {
		if item.t.ID != id {
			continue
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		_ = item.t.to(StatusCancelled)
		snap := *item.t
		q.mu.Unlock()

		q.publish(snap)
		q.record(snap)
		return nil
	}
	q.mu.Unlock()
	return fmt.Errorf("%w: %s", ErrUnknownTransfer, id)
}

// Remove drops a not-yet-started item without marking it cancelled.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, item := range q.pending {
		if item.t.ID == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return nil
		}
	}
	if q.current != nil && q.current.t.ID == id {
		return fmt.Errorf("transfer %s is in flight, cancel it instead", id)
	}
	return fmt.Errorf("%w: %s", ErrUnknownTransfer, id)
}

// Pending returns the in-flight transfer (if any) followed by the queued
// ones in order.
func (q *Queue) Pending() []Transfer {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Transfer, 0, len(q.pending)+1)
	if q.current != nil {
		out = append(out, *q.current.t)
	}
	for _, item := range q.pending {
		out = append(out, *item.t)
	}
	return out
}

// Run processes the queue until ctx is done. Remaining queued items are
// marked cancelled on shutdown.
func (q *Queue) Run(ctx context.Context) error {
	slog.Info("transfer queue started")
	for {
		select {
		case <-ctx.Done():
			q.drain()
			slog.Info("transfer queue stopped")
			return nil
		case <-q.wake:
		}

		for {
			item := q.next()
			if item == nil {
				break
			}
			q.process(ctx, item)
			if ctx.Err() != nil {
				break
			}
		}
	}
}

func (q *Queue) next() *queueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	item := q.pending[0]
	q.pending = q.pending[1:]
	return item
}

func (q *Queue) process(ctx context.Context, item *queueItem) {
	sendCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	q.mu.Lock()
	q.current = item
	q.cancelCurrent = cancel
	q.mu.Unlock()

	done := q.sender.Send(sendCtx, *item.t, item.target, func(t Transfer) {
		q.mu.Lock()
		*item.t = t
		q.mu.Unlock()
		q.publish(t)
	})

	q.mu.Lock()
	*item.t = done
	q.current = nil
	q.cancelCurrent = nil
	q.mu.Unlock()

	q.publish(done)
	q.record(done)
}

// drain cancels everything still queued.
func (q *Queue) drain() {
	q.mu.Lock()
	items := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, item := range items {
		_ = item.t.to(StatusCancelled)
		snap := *item.t
		q.publish(snap)
		q.record(snap)
	}
}

func (q *Queue) kick() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) publish(t Transfer) {
	if q.updates != nil {
		q.updates.Publish(t)
	}
}

func (q *Queue) record(t Transfer) {
	if q.history == nil || !t.Status.Terminal() {
		return
	}
	if err := q.history.Add(t); err != nil {
		slog.Warn("record transfer history", "id", t.ID, "error", err)
	}
}
