package transfer

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lanbeam/lanbeam/internal/events"
	"github.com/lanbeam/lanbeam/internal/peerapi"
)

// publishInterval throttles progress fan-out per transfer. Status changes
// always go out immediately.
const publishInterval = 500 * time.Millisecond

// Tracker owns the receiver-side transfer records. The handshake handler
// calls Offer, the upload path drives begin/progress/complete/fail, and every
// change is published as a snapshot on the updates topic.
type Tracker struct {
	mu      sync.RWMutex
	items   map[string]*Transfer
	lastPub map[string]time.Time

	accept  AcceptFunc
	updates *events.Topic[Transfer]
	history *HistoryStore
}

// NewTracker builds a tracker. accept may be nil, which auto-accepts.
// history may be nil to skip persistence.
func NewTracker(updates *events.Topic[Transfer], accept AcceptFunc, history *HistoryStore) *Tracker {
	if accept == nil {
		accept = AutoAccept
	}
	return &Tracker{
		items:   make(map[string]*Transfer),
		lastPub: make(map[string]time.Time),
		accept:  accept,
		updates: updates,
		history: history,
	}
}

// Offer runs the acceptance policy over an incoming handshake and registers
// the resulting transfer. The returned snapshot is either accepted or
// rejected, never pending.
func (tr *Tracker) Offer(req *peerapi.SendRequest) Transfer {
	now := time.Now().UTC()
	t := &Transfer{
		ID:         uuid.NewString(),
		Direction:  Incoming,
		FileName:   req.FileName,
		FileSize:   req.FileSize,
		FileType:   req.FileType,
		SenderID:   req.SenderID,
		SenderName: req.SenderName,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	accepted, reason := tr.accept(req)
	if accepted {
		t.Status = StatusAccepted
	} else {
		t.Status = StatusRejected
		t.Error = reason
	}

	tr.mu.Lock()
	tr.items[t.ID] = t
	snap := *t
	tr.mu.Unlock()

	slog.Info("transfer offer",
		"id", snap.ID,
		"file", snap.FileName,
		"size", snap.FileSize,
		"from", snap.SenderName,
		"accepted", accepted)

	tr.publish(snap, true)
	if snap.Status == StatusRejected {
		tr.record(snap)
	}
	return snap
}

// Get returns a snapshot of a tracked transfer.
func (tr *Tracker) Get(id string) (Transfer, bool) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	t, ok := tr.items[id]
	if !ok {
		return Transfer{}, false
	}
	return *t, true
}

// Snapshot returns all tracked transfers, newest first.
func (tr *Tracker) Snapshot() []Transfer {
	tr.mu.RLock()
	out := make([]Transfer, 0, len(tr.items))
	for _, t := range tr.items {
		out = append(out, *t)
	}
	tr.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// begin moves an accepted transfer into transferring. Unknown and finished
// ids both come back as ErrUnknownTransfer so the upload route treats them
// as gone; a second upload for an id already streaming is ErrTransferActive.
func (tr *Tracker) begin(id string) (Transfer, error) {
	tr.mu.Lock()
	t, ok := tr.items[id]
	if !ok || t.Status.Terminal() {
		tr.mu.Unlock()
		return Transfer{}, ErrUnknownTransfer
	}
	if t.Status == StatusTransferring {
		tr.mu.Unlock()
		return Transfer{}, ErrTransferActive
	}
	if err := t.to(StatusTransferring); err != nil {
		tr.mu.Unlock()
		return Transfer{}, err
	}
	snap := *t
	tr.mu.Unlock()

	tr.publish(snap, true)
	return snap, nil
}

// progress records bytes received so far. No-op once the transfer left the
// transferring state.
func (tr *Tracker) progress(id string, bytes int64) {
	tr.mu.Lock()
	t, ok := tr.items[id]
	if !ok || t.Status != StatusTransferring {
		tr.mu.Unlock()
		return
	}
	t.setBytes(bytes)
	snap := *t
	tr.mu.Unlock()

	tr.publish(snap, false)
}

func (tr *Tracker) complete(id string, savePath string) (Transfer, error) {
	tr.mu.Lock()
	t, ok := tr.items[id]
	if !ok {
		tr.mu.Unlock()
		return Transfer{}, ErrUnknownTransfer
	}
	if err := t.to(StatusCompleted); err != nil {
		tr.mu.Unlock()
		return Transfer{}, err
	}
	t.Progress = 1.0
	t.Bytes = t.FileSize
	t.SavePath = savePath
	snap := *t
	tr.mu.Unlock()

	slog.Info("transfer completed", "id", snap.ID, "file", snap.FileName, "path", savePath)
	tr.publish(snap, true)
	tr.record(snap)
	return snap, nil
}

func (tr *Tracker) fail(id string, reason string) (Transfer, error) {
	tr.mu.Lock()
	t, ok := tr.items[id]
	if !ok {
		tr.mu.Unlock()
		return Transfer{}, ErrUnknownTransfer
	}
	if err := t.to(StatusFailed); err != nil {
		tr.mu.Unlock()
		return Transfer{}, err
	}
	t.Error = reason
	snap := *t
	tr.mu.Unlock()

	slog.Warn("transfer failed", "id", snap.ID, "file", snap.FileName, "reason", reason)
	tr.publish(snap, true)
	tr.record(snap)
	return snap, nil
}

// publish fans a snapshot out on the updates topic. Progress snapshots are
// throttled per transfer id; force skips the throttle.
func (tr *Tracker) publish(snap Transfer, force bool) {
	if tr.updates == nil {
		return
	}

	tr.mu.Lock()
	now := time.Now()
	if !force && now.Sub(tr.lastPub[snap.ID]) < publishInterval {
		tr.mu.Unlock()
		return
	}
	if snap.Status.Terminal() {
		delete(tr.lastPub, snap.ID)
	} else {
		tr.lastPub[snap.ID] = now
	}
	tr.mu.Unlock()

	tr.updates.Publish(snap)
}

func (tr *Tracker) record(snap Transfer) {
	if tr.history == nil {
		return
	}
	if err := tr.history.Add(snap); err != nil {
		slog.Warn("record transfer history", "id", snap.ID, "error", err)
	}
}
