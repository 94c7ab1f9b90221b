package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/lanbeam/lanbeam/internal/workspace"
)

// ErrSizeMismatch marks an upload whose byte count did not match the
// declared file size. The partial artifact is deleted, never kept.
var ErrSizeMismatch = errors.New("received bytes do not match declared size")

const receiveChunkSize = 256 * 1024

// Receiver streams accepted uploads into the workspace. The body goes to a
// temporary "<final>.tmp" file first and is only renamed into place after
// the byte count matches the handshake's declared size.
type Receiver struct {
	tracker   *Tracker
	ws        *workspace.Workspace
	overwrite bool
}

func NewReceiver(tracker *Tracker, ws *workspace.Workspace, overwrite bool) *Receiver {
	return &Receiver{
		tracker:   tracker,
		ws:        ws,
		overwrite: overwrite,
	}
}

// Receive consumes the upload body for a transfer id. It returns the final
// transfer snapshot; on error the snapshot carries the failed state so
// callers can serve it without a second lookup.
func (r *Receiver) Receive(ctx context.Context, id string, body io.Reader) (Transfer, error) {
	t, err := r.tracker.begin(id)
	if err != nil {
		return Transfer{}, err
	}

	candidate, err := r.ws.ResolveIncoming(t.FileName, r.overwrite)
	if err != nil {
		return r.abort(id, fmt.Sprintf("resolve save path: %v", err), err)
	}
	tmpPath := candidate + ".tmp"

	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return r.abort(id, fmt.Sprintf("create temp file: %v", err), err)
	}

	// Read at most one byte past the declared size so an overlong stream is
	// caught without writing it all out.
	written, copyErr := r.copyChunks(ctx, id, tmp, io.LimitReader(body, t.FileSize+1))
	closeErr := tmp.Close()

	if copyErr != nil {
		r.discard(tmpPath)
		return r.abort(id, fmt.Sprintf("stream interrupted: %v", copyErr), copyErr)
	}
	if closeErr != nil {
		r.discard(tmpPath)
		return r.abort(id, fmt.Sprintf("flush temp file: %v", closeErr), closeErr)
	}
	if written != t.FileSize {
		r.discard(tmpPath)
		err := fmt.Errorf("%w: declared %d bytes, received %d", ErrSizeMismatch, t.FileSize, written)
		return r.abort(id, err.Error(), err)
	}

	finalPath := candidate
	if !r.overwrite {
		// The name may have been taken while the stream was in flight.
		finalPath = workspace.NextFreePath(candidate)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		r.discard(tmpPath)
		return r.abort(id, fmt.Sprintf("finalize file: %v", err), err)
	}

	return r.tracker.complete(id, finalPath)
}

func (r *Receiver) copyChunks(ctx context.Context, id string, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, receiveChunkSize)
	var written int64

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return written, writeErr
			}
			written += int64(n)
			r.tracker.progress(id, written)
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

// abort fails the transfer and returns its terminal snapshot alongside the
// original error.
func (r *Receiver) abort(id string, reason string, cause error) (Transfer, error) {
	snap, failErr := r.tracker.fail(id, reason)
	if failErr != nil {
		slog.Error("transfer fail transition", "id", id, "error", failErr)
	}
	return snap, cause
}

func (r *Receiver) discard(tmpPath string) {
	if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
		slog.Warn("remove temp file", "path", tmpPath, "error", err)
	}
}
