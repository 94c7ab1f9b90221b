package syncengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhaseTransitions(t *testing.T) {
	cases := []struct {
		from Phase
		to   Phase
		ok   bool
	}{
		{PhaseIdle, PhaseSyncing, true},
		{PhaseIdle, PhaseWatching, false},
		{PhaseIdle, PhasePaused, false},
		{PhaseSyncing, PhaseWatching, true},
		{PhaseSyncing, PhasePaused, true},
		{PhaseSyncing, PhaseError, true},
		{PhaseSyncing, PhaseIdle, true},
		{PhaseWatching, PhaseSyncing, true},
		{PhaseWatching, PhasePaused, false},
		{PhaseWatching, PhaseIdle, true},
		{PhasePaused, PhaseSyncing, true},
		{PhasePaused, PhaseWatching, false},
		{PhasePaused, PhaseIdle, true},
		{PhaseError, PhaseSyncing, true},
		{PhaseError, PhaseIdle, true},
		{PhaseError, PhaseWatching, false},
	}

	for _, c := range cases {
		t.Run(string(c.from)+"_to_"+string(c.to), func(t *testing.T) {
			job := &Job{Phase: c.from}
			err := job.to(c.to)
			if c.ok {
				require.NoError(t, err)
				assert.Equal(t, c.to, job.Phase)
			} else {
				require.ErrorIs(t, err, ErrInvalidPhase)
				assert.Equal(t, c.from, job.Phase, "rejected move must not change the phase")
			}
		})
	}
}

func TestPhaseRunning(t *testing.T) {
	assert.False(t, PhaseIdle.Running())
	assert.True(t, PhaseSyncing.Running())
	assert.True(t, PhaseWatching.Running())
	assert.True(t, PhasePaused.Running())
	assert.False(t, PhaseError.Running())
}

func TestJobSnapshotIsolated(t *testing.T) {
	job := &Job{
		ID:          "j1",
		Phase:       PhaseSyncing,
		Files:       []FileItem{{RelativePath: "a.txt", Status: FilePending}},
		FailedFiles: []string{"old.txt"},
		Schedule:    &Schedule{Kind: ScheduleWeekly, At: "09:00", Days: []time.Weekday{time.Monday}},
	}

	snap := job.snapshot()
	snap.Files[0].Status = FileCompleted
	snap.FailedFiles[0] = "changed"
	snap.Schedule.Days[0] = time.Friday

	assert.Equal(t, FilePending, job.Files[0].Status)
	assert.Equal(t, "old.txt", job.FailedFiles[0])
	assert.Equal(t, time.Monday, job.Schedule.Days[0])
}

func TestJobResetRun(t *testing.T) {
	job := &Job{
		Files:          []FileItem{{RelativePath: "a"}},
		FailedFiles:    []string{"a"},
		FilesTotal:     3,
		FilesCompleted: 1,
		FilesFailed:    1,
		FilesSkipped:   1,
		BytesSent:      42,
		SpeedBps:       9.5,
		LastError:      "boom",
	}

	job.resetRun()

	assert.Empty(t, job.Files)
	assert.Empty(t, job.FailedFiles)
	assert.Zero(t, job.FilesTotal)
	assert.Zero(t, job.FilesCompleted)
	assert.Zero(t, job.FilesFailed)
	assert.Zero(t, job.FilesSkipped)
	assert.Zero(t, job.BytesSent)
	assert.Zero(t, job.SpeedBps)
	assert.Empty(t, job.LastError)
	assert.False(t, job.LastRunAt.IsZero())
}
