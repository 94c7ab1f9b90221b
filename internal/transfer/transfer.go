package transfer

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/lanbeam/lanbeam/internal/device"
)

type Status string

const (
	StatusPending      Status = "pending"
	StatusAccepted     Status = "accepted"
	StatusRejected     Status = "rejected"
	StatusTransferring Status = "transferring"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

type Direction string

const (
	Incoming Direction = "incoming"
	Outgoing Direction = "outgoing"
)

var (
	ErrInvalidTransition = errors.New("invalid transfer transition")
	ErrUnknownTransfer   = errors.New("unknown transfer")
	ErrTransferActive    = errors.New("transfer already streaming")
)

// validNext is the transfer state machine. Terminal states have no entry.
// pending -> failed covers the sender's liveness probe short-circuit.
var validNext = map[Status][]Status{
	StatusPending:      {StatusAccepted, StatusRejected, StatusFailed, StatusCancelled},
	StatusAccepted:     {StatusTransferring, StatusFailed, StatusCancelled},
	StatusTransferring: {StatusCompleted, StatusFailed, StatusCancelled},
}

func (s Status) canMove(next Status) bool {
	for _, allowed := range validNext[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Transfer is one file moving between two devices. The same record shape is
// used on both sides: the receiver serves it from the status endpoint, the
// sender publishes it as queue items progress. Progress stays below 1.0 until
// the transfer completes; 1.0 is reserved for StatusCompleted.
type Transfer struct {
	ID         string    `json:"id"`
	RemoteID   string    `json:"remoteId,omitempty"`
	Direction  Direction `json:"direction"`
	FileName   string    `json:"fileName"`
	FileSize   int64     `json:"fileSize"`
	FileType   string    `json:"fileType,omitempty"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	TargetID   string    `json:"targetId,omitempty"`
	TargetName string    `json:"targetName,omitempty"`
	Status     Status    `json:"status"`
	Progress   float64   `json:"progress"`
	Bytes      int64     `json:"bytes"`
	SpeedBps   float64   `json:"speedBps,omitempty"`
	ETASeconds float64   `json:"etaSeconds,omitempty"`
	SourcePath string    `json:"sourcePath,omitempty"`
	SavePath   string    `json:"savePath,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// NewOutgoing describes filePath as a pending transfer from self to target.
// Directories and empty files are rejected.
func NewOutgoing(filePath string, self, target device.Device) (Transfer, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return Transfer{}, fmt.Errorf("stat %s: %w", filePath, err)
	}
	if info.IsDir() {
		return Transfer{}, fmt.Errorf("%s is a directory, use EnqueueFolder", filePath)
	}
	if info.Size() == 0 {
		return Transfer{}, fmt.Errorf("cannot send empty file %s", filePath)
	}

	now := time.Now().UTC()
	return Transfer{
		ID:         uuid.NewString(),
		Direction:  Outgoing,
		FileName:   filepath.Base(filePath),
		FileSize:   info.Size(),
		FileType:   mime.TypeByExtension(filepath.Ext(filePath)),
		SenderID:   self.ID,
		SenderName: self.Name,
		TargetID:   target.ID,
		TargetName: target.Name,
		Status:     StatusPending,
		SourcePath: filePath,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// to moves the transfer to the next status, rejecting moves the state
// machine does not allow.
func (t *Transfer) to(next Status) error {
	if !t.Status.canMove(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, next)
	}
	t.Status = next
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// maxStreamingProgress caps progress while bytes are still moving.
const maxStreamingProgress = 0.99

// setBytes records the running byte count. Progress never decreases and
// never reaches 1.0 here; complete() owns that value.
func (t *Transfer) setBytes(n int64) {
	t.Bytes = n
	if t.FileSize > 0 {
		p := float64(n) / float64(t.FileSize)
		if p > maxStreamingProgress {
			p = maxStreamingProgress
		}
		if p > t.Progress {
			t.Progress = p
		}
	}
	t.UpdatedAt = time.Now().UTC()
}
