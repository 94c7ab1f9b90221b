package transfer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanbeam/lanbeam/internal/events"
)

func newTestQueue(t *testing.T, peer *fakePeer) (*Queue, <-chan Transfer, context.CancelFunc, <-chan error) {
	t.Helper()

	topic := events.NewTopic[Transfer]("transfer.updates")
	ch, cancelSub := topic.Subscribe()
	t.Cleanup(cancelSub)

	q := NewQueue(newTestSender(0), topic, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- q.Run(ctx) }()
	t.Cleanup(cancel)

	return q, ch, cancel, errCh
}

func waitStatus(t *testing.T, ch <-chan Transfer, id string, want Status) Transfer {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case tr := <-ch:
			if tr.ID != id {
				continue
			}
			if tr.Status == want {
				return tr
			}
			if tr.Status.Terminal() {
				t.Fatalf("transfer %s ended %s, want %s", id, tr.Status, want)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s to become %s", id, want)
		}
	}
}

func TestQueueStrictFIFO(t *testing.T) {
	peer := newFakePeer(t)
	q, _, _, _ := newTestQueue(t, peer)

	names := []string{"first.bin", "second.bin", "third.bin"}
	for _, name := range names {
		_, err := q.Enqueue(outgoingFile(t, name, 512), peer.target())
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return len(peer.handshakeNames()) == 3
	}, 5*time.Second, 5*time.Millisecond, "all queued transfers must be sent")

	assert.Equal(t, names, peer.handshakeNames(), "sends must run in enqueue order")

	peer.mu.Lock()
	maxInflight := peer.maxInflight
	peer.mu.Unlock()
	assert.Equal(t, 1, maxInflight, "exactly one upload in flight at a time")

	require.Eventually(t, func() bool {
		return len(q.Pending()) == 0
	}, 5*time.Second, 5*time.Millisecond)
}

func TestQueueCancelQueuedItem(t *testing.T) {
	peer := newFakePeer(t)
	gate := make(chan struct{})
	peer.uploadGate = gate
	released := false
	release := func() {
		if !released {
			released = true
			close(gate)
		}
	}
	t.Cleanup(release)

	q, ch, _, _ := newTestQueue(t, peer)

	first, err := q.Enqueue(outgoingFile(t, "first.bin", 512), peer.target())
	require.NoError(t, err)
	<-peer.uploadStarted

	second, err := q.Enqueue(outgoingFile(t, "second.bin", 512), peer.target())
	require.NoError(t, err)

	// the in-flight item cannot be removed, only cancelled
	err = q.Remove(first.ID)
	require.ErrorContains(t, err, "in flight")

	require.NoError(t, q.Cancel(second.ID))
	got := waitStatus(t, ch, second.ID, StatusCancelled)
	assert.Equal(t, StatusCancelled, got.Status)

	release()
	waitStatus(t, ch, first.ID, StatusCompleted)

	assert.ErrorIs(t, q.Cancel("unknown-id"), ErrUnknownTransfer)
}

func TestQueueCancelInFlight(t *testing.T) {
	peer := newFakePeer(t)
	gate := make(chan struct{})
	peer.uploadGate = gate
	t.Cleanup(func() { close(gate) })

	q, ch, _, _ := newTestQueue(t, peer)

	first, err := q.Enqueue(outgoingFile(t, "first.bin", 512), peer.target())
	require.NoError(t, err)
	<-peer.uploadStarted

	require.NoError(t, q.Cancel(first.ID))
	waitStatus(t, ch, first.ID, StatusCancelled)

	require.Eventually(t, func() bool {
		return len(q.Pending()) == 0
	}, 5*time.Second, 5*time.Millisecond)
}

func TestQueueRemoveQueuedItem(t *testing.T) {
	peer := newFakePeer(t)
	q := NewQueue(newTestSender(0), nil, nil) // worker not running

	tr, err := q.Enqueue(outgoingFile(t, "a.bin", 512), peer.target())
	require.NoError(t, err)
	require.Len(t, q.Pending(), 1)

	require.NoError(t, q.Remove(tr.ID))
	assert.Empty(t, q.Pending())

	assert.ErrorIs(t, q.Remove(tr.ID), ErrUnknownTransfer)
}

func TestQueueShutdownCancelsQueued(t *testing.T) {
	peer := newFakePeer(t)
	gate := make(chan struct{})
	peer.uploadGate = gate
	t.Cleanup(func() { close(gate) })

	q, ch, cancel, errCh := newTestQueue(t, peer)

	first, err := q.Enqueue(outgoingFile(t, "first.bin", 512), peer.target())
	require.NoError(t, err)
	<-peer.uploadStarted

	second, err := q.Enqueue(outgoingFile(t, "second.bin", 512), peer.target())
	require.NoError(t, err)

	cancel()
	require.NoError(t, <-errCh)

	// both the in-flight and the still-queued item resolve to cancelled
	got := map[string]Status{}
	deadline := time.After(5 * time.Second)
	for len(got) < 2 {
		select {
		case tr := <-ch:
			if tr.Status.Terminal() {
				got[tr.ID] = tr.Status
			}
		case <-deadline:
			t.Fatalf("timed out, terminal states so far: %v", got)
		}
	}
	assert.Equal(t, StatusCancelled, got[first.ID])
	assert.Equal(t, StatusCancelled, got[second.ID])
}

func TestQueueEnqueueValidation(t *testing.T) {
	peer := newFakePeer(t)
	q := NewQueue(newTestSender(0), nil, nil)

	_, err := q.Enqueue(filepath.Join(t.TempDir(), "missing.bin"), peer.target())
	require.Error(t, err)

	empty := filepath.Join(t.TempDir(), "empty.bin")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = q.Enqueue(empty, peer.target())
	require.ErrorContains(t, err, "empty file")

	_, err = q.Enqueue(t.TempDir(), peer.target())
	require.ErrorContains(t, err, "EnqueueFolder")
}

func TestQueueEnqueueFolder(t *testing.T) {
	peer := newFakePeer(t)
	q := NewQueue(newTestSender(0), nil, nil)

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "b.txt"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.txt"), nil, 0o644))

	queued, err := q.EnqueueFolder(dir, peer.target())
	require.NoError(t, err)
	require.Len(t, queued, 2, "empty files are skipped")

	names := []string{queued[0].FileName, queued[1].FileName}
	assert.Equal(t, []string{"a.txt", "b.txt"}, names)
	assert.Len(t, q.Pending(), 2)
}

func TestQueueEnqueueFolderEmpty(t *testing.T) {
	peer := newFakePeer(t)
	q := NewQueue(newTestSender(0), nil, nil)

	_, err := q.EnqueueFolder(t.TempDir(), peer.target())
	require.ErrorContains(t, err, "no sendable files")
}
