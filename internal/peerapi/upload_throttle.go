package peerapi

import (
	"context"
	"io"
	"time"
)

type sendRecord struct {
	at time.Time
	n  int
}

// throttleReader caps throughput with a sliding one-second window: a
// read may proceed only while the bytes sent within the trailing
// window stay under the limit, otherwise it sleeps until the oldest
// record falls out.
type throttleReader struct {
	reader io.Reader
	ctx    context.Context
	limit  int
	window time.Duration
	sent   []sendRecord
}

func newThrottleReader(ctx context.Context, r io.Reader, rateKBps int) *throttleReader {
	return &throttleReader{
		reader: r,
		ctx:    ctx,
		limit:  rateKBps * 1024,
		window: time.Second,
	}
}

func (t *throttleReader) Read(p []byte) (int, error) {
	if len(p) > t.limit {
		p = p[:t.limit]
	}

	for {
		now := time.Now()
		cutoff := now.Add(-t.window)
		expired := 0
		for expired < len(t.sent) && t.sent[expired].at.Before(cutoff) {
			expired++
		}
		t.sent = t.sent[expired:]

		used := 0
		for _, rec := range t.sent {
			used += rec.n
		}
		if used < t.limit {
			if allowed := t.limit - used; len(p) > allowed {
				p = p[:allowed]
			}
			break
		}

		wait := t.sent[0].at.Add(t.window).Sub(now)
		if wait <= 0 {
			wait = time.Millisecond
		}
		select {
		case <-t.ctx.Done():
			return 0, t.ctx.Err()
		case <-time.After(wait):
		}
	}

	n, err := t.reader.Read(p)
	if n > 0 {
		t.sent = append(t.sent, sendRecord{at: time.Now(), n: n})
	}
	return n, err
}
