// Package utils provides small shared helpers for the LanBeam daemon.
package utils

import (
	"bytes"
	"io"
	"log/slog"
	"sync/atomic"
	"time"
)

// LogInterceptor numbers and timestamps every line written through it
// before handing it to the target writer. Partial lines are buffered
// until their newline arrives; Close flushes whatever is left.
type LogInterceptor struct {
	target io.Writer
	seq    atomic.Uint64
	buf    bytes.Buffer
}

func NewLogInterceptor(target io.Writer) *LogInterceptor {
	return &LogInterceptor{target: target}
}

func (l *LogInterceptor) Write(p []byte) (int, error) {
	l.buf.Write(p)
	for {
		line, err := l.buf.ReadBytes('\n')
		if err != nil {
			// incomplete line, keep it for the next write
			l.buf.Write(line)
			return len(p), nil
		}
		if err := l.emit(line); err != nil {
			return len(p), err
		}
	}
}

// Close flushes a trailing line that never got its newline.
func (l *LogInterceptor) Close() error {
	rest := l.buf.Bytes()
	l.buf.Reset()
	if len(rest) == 0 {
		return nil
	}
	return l.emit(rest)
}

func (l *LogInterceptor) emit(line []byte) error {
	prefix := slog.Uint64("line", l.seq.Add(1)).String() + " " +
		slog.String("time", time.Now().Format(time.RFC3339)).String() + " "
	if _, err := io.WriteString(l.target, prefix); err != nil {
		return err
	}
	_, err := l.target.Write(line)
	return err
}
