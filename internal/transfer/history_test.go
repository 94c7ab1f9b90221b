package transfer

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanbeam/lanbeam/internal/db"
)

func testHistory(t *testing.T) *HistoryStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "history.db")
	database, err := db.NewSqliteDb(db.WithPath(dbPath), db.WithMaxOpenConns(1))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	store, err := NewHistoryStore(database)
	require.NoError(t, err)
	return store
}

func TestHistoryAddAndRecent(t *testing.T) {
	store := testHistory(t)
	now := time.Now().UTC()

	sent := Transfer{
		ID:         "t-1",
		Direction:  Outgoing,
		FileName:   "report.pdf",
		FileSize:   2048,
		SenderID:   "self-id",
		SenderName: "self",
		TargetID:   "peer-1",
		TargetName: "peer",
		Status:     StatusCompleted,
		SavePath:   "/downloads/report.pdf",
		UpdatedAt:  now.Add(-time.Hour),
	}
	received := Transfer{
		ID:         "t-2",
		Direction:  Incoming,
		FileName:   "photo.png",
		FileSize:   4096,
		SenderID:   "peer-1",
		SenderName: "peer",
		Status:     StatusFailed,
		Error:      "received bytes do not match declared size",
		UpdatedAt:  now,
	}

	require.NoError(t, store.Add(sent))
	require.NoError(t, store.Add(received))

	rows, err := store.Recent(10)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "t-2", rows[0].ID, "newest first")
	assert.Equal(t, Incoming, rows[0].Direction)
	assert.Equal(t, StatusFailed, rows[0].Status)
	assert.Contains(t, rows[0].Error, "declared size")

	assert.Equal(t, "t-1", rows[1].ID)
	assert.Equal(t, Outgoing, rows[1].Direction)
	assert.Equal(t, "peer", rows[1].TargetName)
	assert.Equal(t, "/downloads/report.pdf", rows[1].SavePath)
	assert.WithinDuration(t, sent.UpdatedAt, rows[1].UpdatedAt, time.Second)
}

func TestHistoryRejectsUnfinished(t *testing.T) {
	store := testHistory(t)

	err := store.Add(Transfer{ID: "t-1", Status: StatusTransferring, UpdatedAt: time.Now()})
	require.ErrorContains(t, err, "not finished")
}

func TestHistoryReplaceSameID(t *testing.T) {
	store := testHistory(t)
	now := time.Now().UTC()

	tr := Transfer{ID: "t-1", Direction: Outgoing, FileName: "a.txt", FileSize: 1,
		SenderID: "s", SenderName: "s", Status: StatusFailed, Error: "boom", UpdatedAt: now}
	require.NoError(t, store.Add(tr))

	tr.Status = StatusCompleted
	tr.Error = ""
	tr.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, store.Add(tr))

	rows, err := store.Recent(10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, StatusCompleted, rows[0].Status)
	assert.Empty(t, rows[0].Error)
}

func TestHistoryRecentLimit(t *testing.T) {
	store := testHistory(t)
	base := time.Now().UTC().Add(-time.Hour)

	for i, id := range []string{"t-1", "t-2", "t-3"} {
		require.NoError(t, store.Add(Transfer{
			ID: id, Direction: Outgoing, FileName: "f", FileSize: 1,
			SenderID: "s", SenderName: "s", Status: StatusCompleted,
			UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	rows, err := store.Recent(2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "t-3", rows[0].ID)
	assert.Equal(t, "t-2", rows[1].ID)
}

func TestHistoryClear(t *testing.T) {
	store := testHistory(t)

	require.NoError(t, store.Add(Transfer{
		ID: "t-1", Direction: Outgoing, FileName: "f", FileSize: 1,
		SenderID: "s", SenderName: "s", Status: StatusCancelled, UpdatedAt: time.Now(),
	}))

	require.NoError(t, store.Clear())
	rows, err := store.Recent(10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
