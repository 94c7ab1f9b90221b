package transfer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		name string
		from Status
		to   Status
		ok   bool
	}{
		{"pending-accepted", StatusPending, StatusAccepted, true},
		{"pending-rejected", StatusPending, StatusRejected, true},
		{"pending-failed", StatusPending, StatusFailed, true},
		{"pending-cancelled", StatusPending, StatusCancelled, true},
		{"accepted-transferring", StatusAccepted, StatusTransferring, true},
		{"accepted-failed", StatusAccepted, StatusFailed, true},
		{"transferring-completed", StatusTransferring, StatusCompleted, true},
		{"transferring-failed", StatusTransferring, StatusFailed, true},
		{"transferring-cancelled", StatusTransferring, StatusCancelled, true},
		{"pending-transferring", StatusPending, StatusTransferring, false},
		{"pending-completed", StatusPending, StatusCompleted, false},
		{"accepted-completed", StatusAccepted, StatusCompleted, false},
		{"rejected-accepted", StatusRejected, StatusAccepted, false},
		{"completed-failed", StatusCompleted, StatusFailed, false},
		{"failed-transferring", StatusFailed, StatusTransferring, false},
		{"cancelled-transferring", StatusCancelled, StatusTransferring, false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			tr := Transfer{Status: c.from}
			err := tr.to(c.to)
			if c.ok {
				require.NoError(t, err)
				assert.Equal(t, c.to, tr.Status)
				assert.False(t, tr.UpdatedAt.IsZero())
			} else {
				require.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, c.from, tr.Status, "status must not move on a rejected transition")
			}
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusAccepted.Terminal())
	assert.False(t, StatusTransferring.Terminal())
	assert.True(t, StatusRejected.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}

func TestSetBytesProgressMonotonic(t *testing.T) {
	tr := Transfer{Status: StatusTransferring, FileSize: 1000}

	last := 0.0
	for _, n := range []int64{100, 400, 400, 250, 900} {
		tr.setBytes(n)
		assert.GreaterOrEqual(t, tr.Progress, last, "progress decreased at %d bytes", n)
		last = tr.Progress
	}
	assert.Equal(t, int64(900), tr.Bytes)
	assert.InDelta(t, 0.9, tr.Progress, 0.001)
}

func TestSetBytesNeverReachesOne(t *testing.T) {
	tr := Transfer{Status: StatusTransferring, FileSize: 500}

	tr.setBytes(500)
	assert.Less(t, tr.Progress, 1.0)

	// oversized streams stay capped too
	tr.setBytes(800)
	assert.Less(t, tr.Progress, 1.0)
	assert.Equal(t, int64(800), tr.Bytes)
}

func TestSetBytesUpdatedAt(t *testing.T) {
	tr := Transfer{Status: StatusTransferring, FileSize: 10, UpdatedAt: time.Now().Add(-time.Hour)}
	before := tr.UpdatedAt
	tr.setBytes(5)
	assert.True(t, tr.UpdatedAt.After(before))
}
