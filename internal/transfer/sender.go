package transfer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/lanbeam/lanbeam/internal/device"
	"github.com/lanbeam/lanbeam/internal/peerapi"
)

const (
	probeTimeout   = 5 * time.Second
	sendRetries    = 3
	retryBaseDelay = 1 * time.Second
)

// SendUpdate receives transfer snapshots as a send progresses.
type SendUpdate func(Transfer)

// Sender pushes one file at a time to a peer: liveness probe, handshake,
// then the streamed upload. Handshake and upload each get sendRetries
// retries with exponential backoff; a failed probe short-circuits without
// touching the retry budget. It keeps no state of its own, every outcome
// lands on the returned Transfer.
type Sender struct {
	client     *peerapi.Client
	identity   *device.Identity
	rateKBps   int
	retryDelay time.Duration
}

func NewSender(client *peerapi.Client, identity *device.Identity, rateKBps int) *Sender {
	return &Sender{
		client:     client,
		identity:   identity,
		rateKBps:   rateKBps,
		retryDelay: retryBaseDelay,
	}
}

// Send drives t to a terminal state against the target device. The update
// callback fires on every state or progress change; the final snapshot is
// returned.
func (s *Sender) Send(ctx context.Context, t Transfer, target device.Device, update SendUpdate) Transfer {
	if update == nil {
		update = func(Transfer) {}
	}
	baseURL := target.BaseURL()

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	_, err := s.client.Ping(probeCtx, baseURL)
	cancel()
	if err != nil {
		return resolve(t, update, err, fmt.Sprintf("device unreachable: %v", err))
	}

	self := s.identity.Snapshot()
	req := &peerapi.SendRequest{
		SenderID:       self.ID,
		SenderName:     self.Name,
		SenderIP:       self.IP,
		SenderPort:     self.Port,
		SenderPlatform: self.Platform,
		SenderVersion:  self.Version,
		FileName:       t.FileName,
		FileSize:       t.FileSize,
		FileType:       t.FileType,
	}

	var resp *peerapi.SendResponse
	err = s.attempt(ctx, "handshake", t.FileName, func() error {
		var herr error
		resp, herr = s.client.RequestSend(ctx, baseURL, req)
		return herr
	})
	if err != nil {
		return resolve(t, update, err, fmt.Sprintf("handshake failed: %v", err))
	}

	if !resp.Accepted {
		_ = t.to(StatusRejected)
		t.Error = resp.Reason
		slog.Info("transfer rejected", "file", t.FileName, "device", target.Name, "reason", resp.Reason)
		update(t)
		return t
	}
	if resp.TransferID == "" {
		return resolve(t, update, errors.New("handshake response missing transfer id"),
			"handshake response missing transfer id")
	}

	t.RemoteID = resp.TransferID
	_ = t.to(StatusAccepted)
	update(t)

	_ = t.to(StatusTransferring)
	update(t)

	start := time.Now()
	lastSent := int64(0)
	lastTick := start
	opts := &peerapi.UploadOpts{
		RateKBps: s.rateKBps,
		Progress: func(sent, total int64) {
			now := time.Now()
			t.setBytes(sent)
			if dt := now.Sub(lastTick).Seconds(); dt > 0 && sent > lastSent {
				t.SpeedBps = float64(sent-lastSent) / dt
			}
			if t.SpeedBps > 0 {
				t.ETASeconds = float64(total-sent) / t.SpeedBps
			}
			lastSent = sent
			lastTick = now
			update(t)
		},
	}

	var upResp *peerapi.UploadResponse
	err = s.attempt(ctx, "upload", t.FileName, func() error {
		var uerr error
		upResp, uerr = s.client.Upload(ctx, baseURL, t.RemoteID, t.SourcePath, opts)
		return uerr
	})
	if err != nil {
		return resolve(t, update, err, fmt.Sprintf("upload failed: %v", err))
	}

	_ = t.to(StatusCompleted)
	t.Progress = 1.0
	t.Bytes = t.FileSize
	t.ETASeconds = 0
	t.SavePath = upResp.SavePath
	if elapsed := time.Since(start).Seconds(); elapsed > 0 {
		t.SpeedBps = float64(t.FileSize) / elapsed
	}
	slog.Info("transfer sent", "file", t.FileName, "device", target.Name, "bytes", t.FileSize)
	update(t)
	return t
}

// attempt runs op under the shared retry policy. Client errors and
// cancellation are never retried; backoff doubles from the base delay.
func (s *Sender) attempt(ctx context.Context, op string, name string, fn func() error) error {
	for try := 0; ; try++ {
		err := fn()
		if err == nil || !retryable(err) || try == sendRetries {
			return err
		}

		delay := s.retryDelay << try
		slog.Warn("send attempt failed",
			"op", op,
			"file", name,
			"attempt", try+1,
			"retry_in", delay,
			"error", err)
		if werr := sleepCtx(ctx, delay); werr != nil {
			return werr
		}
	}
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// a missing or unreadable source file will not heal itself
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return false
	}
	return !peerapi.IsClientError(err)
}

// resolve maps a terminal error onto the transfer. Cancellation wins over
// every other classification.
func resolve(t Transfer, update SendUpdate, err error, reason string) Transfer {
	if errors.Is(err, context.Canceled) {
		_ = t.to(StatusCancelled)
	} else {
		_ = t.to(StatusFailed)
		t.Error = reason
	}
	update(t)
	return t
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
