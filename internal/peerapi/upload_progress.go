package peerapi

import (
	"io"
	"time"
)

type ProgressCallback func(sent int64, total int64)

// progressReader counts bytes flowing through it and reports them,
// throttled so callers see at most a couple of updates per second plus
// the final one.
type progressReader struct {
	reader   io.Reader
	sent     int64
	total    int64
	callback ProgressCallback
	lastCall time.Time
}

func (pr *progressReader) Read(p []byte) (n int, err error) {
	n, err = pr.reader.Read(p)
	if n > 0 {
		pr.sent += int64(n)
	}

	if pr.callback != nil {
		now := time.Now()
		if now.Sub(pr.lastCall) > 500*time.Millisecond || err == io.EOF || pr.sent == pr.total {
			pr.callback(pr.sent, pr.total)
			pr.lastCall = now
		}
	}

	return n, err
}
