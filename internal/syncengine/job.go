package syncengine

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Phase is the lifecycle state of a sync job.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseSyncing  Phase = "syncing"
	PhaseWatching Phase = "watching"
	PhasePaused   Phase = "paused"
	PhaseError    Phase = "error"
)

var (
	ErrInvalidPhase = errors.New("invalid phase transition")
	ErrUnknownJob   = errors.New("unknown sync job")
	ErrJobRunning   = errors.New("sync job is running")
	ErrJobNotActive = errors.New("sync job is not running")
)

// validNext is the phase transition table. Pause is only reachable from
// syncing; error only from an active run; every active phase can stop to idle.
var validNext = map[Phase][]Phase{
	PhaseIdle:     {PhaseSyncing},
	PhaseSyncing:  {PhaseWatching, PhasePaused, PhaseError, PhaseIdle},
	PhaseWatching: {PhaseSyncing, PhaseError, PhaseIdle},
	PhasePaused:   {PhaseSyncing, PhaseIdle},
	PhaseError:    {PhaseSyncing, PhaseIdle},
}

func (p Phase) canMove(next Phase) bool {
	return slices.Contains(validNext[p], next)
}

// Running reports whether the phase belongs to an active run.
func (p Phase) Running() bool {
	return p == PhaseSyncing || p == PhaseWatching || p == PhasePaused
}

// FileStatus is the per-file state inside a running batch.
type FileStatus string

const (
	FilePending   FileStatus = "pending"
	FileSyncing   FileStatus = "syncing"
	FileCompleted FileStatus = "completed"
	FileFailed    FileStatus = "failed"
	FileSkipped   FileStatus = "skipped"
	FilePaused    FileStatus = "paused"
)

// FileItem is one file of the current or last batch. RelativePath is
// forward-slash normalized and identifies the file on the remote side.
type FileItem struct {
	RelativePath string     `json:"relativePath"`
	Status       FileStatus `json:"status"`
	Size         int64      `json:"fileSize"`
	Error        string     `json:"error,omitempty"`
}

// Job is one configured sync pair plus its live runtime state. The engine
// persists the configuration fields; phase, file items and counters are
// runtime only and reset to idle on restart.
type Job struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	SourceDir  string    `json:"sourceDirectory"`
	TargetID   string    `json:"targetDeviceId"`
	TargetName string    `json:"targetDeviceName"`
	TargetIP   string    `json:"targetDeviceIp,omitempty"`
	TargetPort int       `json:"targetDevicePort,omitempty"`
	Schedule   *Schedule `json:"schedule,omitempty"`

	Phase       Phase      `json:"phase"`
	Files       []FileItem `json:"fileItems,omitempty"`
	FailedFiles []string   `json:"failedFiles,omitempty"`

	FilesTotal     int     `json:"filesTotal"`
	FilesCompleted int     `json:"filesCompleted"`
	FilesFailed    int     `json:"filesFailed"`
	FilesSkipped   int     `json:"filesSkipped"`
	BytesSent      int64   `json:"bytesSent"`
	SpeedBps       float64 `json:"speedBps,omitempty"`

	LastError string    `json:"lastError,omitempty"`
	LastRunAt time.Time `json:"lastRunAt"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// to moves the job to the next phase, rejecting moves the table does not
// allow. Callers hold the owning runner's lock.
func (j *Job) to(next Phase) error {
	if !j.Phase.canMove(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidPhase, j.Phase, next)
	}
	j.Phase = next
	j.UpdatedAt = time.Now()
	return nil
}

// snapshot returns a copy safe to hand to subscribers.
func (j *Job) snapshot() Job {
	out := *j
	out.Files = slices.Clone(j.Files)
	out.FailedFiles = slices.Clone(j.FailedFiles)
	if j.Schedule != nil {
		sched := *j.Schedule
		sched.Days = slices.Clone(j.Schedule.Days)
		out.Schedule = &sched
	}
	return out
}

// resetRun clears the per-run state ahead of a fresh batch.
func (j *Job) resetRun() {
	j.Files = nil
	j.FailedFiles = nil
	j.FilesTotal = 0
	j.FilesCompleted = 0
	j.FilesFailed = 0
	j.FilesSkipped = 0
	j.BytesSent = 0
	j.SpeedBps = 0
	j.LastError = ""
	j.LastRunAt = time.Now()
}
