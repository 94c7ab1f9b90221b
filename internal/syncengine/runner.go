package syncengine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/lanbeam/lanbeam/internal/device"
	"github.com/lanbeam/lanbeam/internal/events"
	"github.com/lanbeam/lanbeam/internal/peerapi"
	"github.com/lanbeam/lanbeam/internal/utils"
)

const (
	startDebounce  = 500 * time.Millisecond
	quietPeriod    = 2 * time.Second
	fileRetries    = 2
	fileRetryDelay = time.Second
	probeTimeout   = 5 * time.Second
	livenessEvery  = 10
	livenessMaxAge = 5 * time.Minute
	pausePollEvery = 250 * time.Millisecond
)

var defaultReconnectWaits = []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second}

// Runner owns one sync job. All job mutation goes through its methods; the
// run goroutine drives phase changes, the engine calls the control methods.
type Runner struct {
	mu  sync.Mutex
	job *Job

	client   *peerapi.Client
	identity *device.Identity
	registry *device.Registry
	ignore   *IgnoreList
	updates  *events.Topic[Job]
	persist  func(Job)

	skip mapset.Set[string]

	baseURL  string
	probedAt time.Time
	runStart time.Time

	debounce   time.Duration
	quiet      time.Duration
	retryDelay time.Duration
	pausePoll  time.Duration
	reconnects []time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

func NewRunner(job *Job, client *peerapi.Client, identity *device.Identity, registry *device.Registry, ignore *IgnoreList, updates *events.Topic[Job]) *Runner {
	return &Runner{
		job:        job,
		client:     client,
		identity:   identity,
		registry:   registry,
		ignore:     ignore,
		updates:    updates,
		skip:       mapset.NewSet[string](),
		debounce:   startDebounce,
		quiet:      quietPeriod,
		retryDelay: fileRetryDelay,
		pausePoll:  pausePollEvery,
		reconnects: defaultReconnectWaits,
	}
}

// Snapshot returns a copy of the job's current state.
func (r *Runner) Snapshot() Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job.snapshot()
}

// Start verifies the source directory, moves the job to syncing and spawns
// the run goroutine. Fails when the job is already running.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()

	if r.job.Phase.Running() {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobRunning, r.job.Name)
	}

	if info, err := os.Stat(r.job.SourceDir); err != nil || !info.IsDir() {
		r.mu.Unlock()
		return fmt.Errorf("source directory %q does not exist", r.job.SourceDir)
	}

	if err := r.job.to(PhaseSyncing); err != nil {
		r.mu.Unlock()
		return err
	}
	r.job.resetRun()
	r.runStart = time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	snap := r.job.snapshot()
	r.mu.Unlock()

	slog.Info("sync job start", "job", snap.ID, "name", snap.Name, "source", snap.SourceDir, "target", snap.TargetName)
	r.publish(snap)

	go r.run(runCtx)
	return nil
}

// Stop cancels the run and waits for the goroutine to exit.
func (r *Runner) Stop() error {
	r.mu.Lock()
	if r.cancel == nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotActive, r.job.Name)
	}
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Pause holds the batch loop before the next file. Only valid while syncing.
func (r *Runner) Pause() error {
	if err := r.setPhase(PhasePaused); err != nil {
		return err
	}
	slog.Info("sync job paused", "job", r.Snapshot().ID)
	return nil
}

// Resume releases a paused batch loop.
func (r *Runner) Resume() error {
	r.mu.Lock()
	if r.job.Phase != PhasePaused {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidPhase, r.job.Phase, PhaseSyncing)
	}
	r.mu.Unlock()
	return r.setPhase(PhaseSyncing)
}

// SkipFile marks a relative path to be skipped when the batch loop reaches it.
func (r *Runner) SkipFile(relPath string) {
	r.skip.Add(relPath)
}

func (r *Runner) setSchedule(sched *Schedule) Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.job.Schedule = sched
	r.job.UpdatedAt = time.Now()
	return r.job.snapshot()
}

func (r *Runner) run(ctx context.Context) {
	err := r.runSync(ctx)

	r.mu.Lock()
	switch {
	case err == nil || errors.Is(err, context.Canceled):
		if r.job.Phase != PhaseIdle {
			_ = r.job.to(PhaseIdle)
		}
	default:
		r.job.LastError = err.Error()
		_ = r.job.to(PhaseError)
	}
	r.cancel = nil
	snap := r.job.snapshot()
	done := r.done
	r.mu.Unlock()

	if snap.Phase == PhaseError {
		slog.Error("sync job failed", "job", snap.ID, "name", snap.Name, "error", snap.LastError)
	} else {
		slog.Info("sync job stopped", "job", snap.ID, "name", snap.Name)
	}
	r.publish(snap)
	close(done)
}

func (r *Runner) runSync(ctx context.Context) error {
	if err := r.resolveTarget(); err != nil {
		return err
	}
	if err := r.probe(ctx); err != nil {
		if err := r.reconnect(ctx, err); err != nil {
			return fmt.Errorf("target unreachable: %w", err)
		}
	}

	r.mu.Lock()
	sourceDir := r.job.SourceDir
	r.mu.Unlock()

	files, err := scanSource(sourceDir, r.ignore)
	if err != nil {
		return err
	}

	// let a start-time burst coalesce into one batch
	if err := sleepCtx(ctx, r.debounce); err != nil {
		return err
	}
	if err := r.runBatch(ctx, files); err != nil {
		return err
	}

	return r.watch(ctx, sourceDir)
}

// resolveTarget prefers the live registry entry and falls back to the
// address stored with the job when the target is not currently announcing.
func (r *Runner) resolveTarget() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.registry.Get(r.job.TargetID); ok {
		r.job.TargetIP = d.IP
		r.job.TargetPort = d.Port
		r.baseURL = d.BaseURL()
		if r.persist != nil {
			r.persist(r.job.snapshot())
		}
		return nil
	}

	if r.job.TargetIP != "" && r.job.TargetPort > 0 {
		slog.Debug("sync target not announcing, using stored address", "job", r.job.ID, "ip", r.job.TargetIP)
		r.baseURL = "http://" + net.JoinHostPort(r.job.TargetIP, strconv.Itoa(r.job.TargetPort))
		return nil
	}

	return fmt.Errorf("target device %q is not on the network", r.job.TargetName)
}

func (r *Runner) probe(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if _, err := r.client.Ping(pctx, r.baseURL); err != nil {
		return err
	}
	r.probedAt = time.Now()
	return nil
}

// reconnect waits through the bounded backoff windows, probing after each.
func (r *Runner) reconnect(ctx context.Context, cause error) error {
	err := cause
	for _, wait := range r.reconnects {
		slog.Warn("sync target unreachable, waiting to reconnect", "job", r.Snapshot().ID, "wait", wait, "error", err)
		if serr := sleepCtx(ctx, wait); serr != nil {
			return serr
		}
		if err = r.probe(ctx); err == nil {
			slog.Info("sync target reachable again", "job", r.Snapshot().ID)
			return nil
		}
	}
	return err
}

func (r *Runner) runBatch(ctx context.Context, files []localFile) error {
	if len(files) == 0 {
		return nil
	}

	r.mu.Lock()
	items := make([]FileItem, len(files))
	for i, f := range files {
		items[i] = FileItem{RelativePath: f.RelPath, Status: FilePending, Size: f.Size}
	}
	r.job.Files = items
	r.job.FilesTotal += len(files)
	snap := r.job.snapshot()
	r.mu.Unlock()

	slog.Info("sync batch", "job", snap.ID, "files", len(files))
	r.publish(snap)

	for i, f := range files {
		if err := r.waitWhilePaused(ctx, f.RelPath); err != nil {
			return err
		}

		if r.skip.Contains(f.RelPath) {
			r.skip.Remove(f.RelPath)
			r.finishFile(f.RelPath, FileSkipped, "", 0)
			slog.Info("sync skip requested", "job", snap.ID, "path", f.RelPath)
			continue
		}

		if i > 0 && i%livenessEvery == 0 && time.Since(r.probedAt) > livenessMaxAge {
			if err := r.probe(ctx); err != nil {
				if err := r.reconnect(ctx, err); err != nil {
					return fmt.Errorf("target lost mid-batch: %w", err)
				}
			}
		}

		r.syncFile(ctx, f)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	r.mu.Lock()
	if r.job.BytesSent > 0 {
		if elapsed := time.Since(r.runStart).Seconds(); elapsed > 0 {
			r.job.SpeedBps = float64(r.job.BytesSent) / elapsed
		}
	}
	snap = r.job.snapshot()
	r.mu.Unlock()

	slog.Info("sync batch done", "job", snap.ID,
		"completed", snap.FilesCompleted, "skipped", snap.FilesSkipped, "failed", snap.FilesFailed,
		"bytes", snap.BytesSent)
	r.publish(snap)
	return nil
}

// waitWhilePaused blocks while the job is paused, polling the phase.
func (r *Runner) waitWhilePaused(ctx context.Context, relPath string) error {
	marked := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		r.mu.Lock()
		paused := r.job.Phase == PhasePaused
		if paused && !marked {
			r.setItemLocked(relPath, FilePaused, "")
			marked = true
		}
		r.mu.Unlock()

		if !paused {
			return nil
		}
		if err := sleepCtx(ctx, r.pausePoll); err != nil {
			return err
		}
	}
}

// syncFile pushes one file, skipping it when the remote copy is already the
// same size and not older. Failures are terminal per file, not per job.
func (r *Runner) syncFile(ctx context.Context, f localFile) {
	r.setItem(f.RelPath, FileSyncing, "")

	self := r.identity.Snapshot()

	local, err := statLocal(r.Snapshot().SourceDir, f.RelPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			r.finishFile(f.RelPath, FileSkipped, "", 0)
			slog.Debug("sync file vanished before upload", "path", f.RelPath)
		} else {
			r.finishFile(f.RelPath, FileFailed, err.Error(), 0)
		}
		return
	}

	check, err := r.client.SyncCheck(ctx, r.baseURL, f.RelPath, self.Name)
	if err == nil && check.Exists && check.Size == local.Size && check.LastModified >= local.ModTime.Unix() {
		r.finishFile(f.RelPath, FileSkipped, "", 0)
		slog.Debug("sync skip, remote copy is current", "path", f.RelPath)
		return
	}
	if err != nil && ctx.Err() != nil {
		r.finishFile(f.RelPath, FileFailed, ctx.Err().Error(), 0)
		return
	}

	var uploadErr error
	for try := 0; ; try++ {
		_, uploadErr = r.client.SyncUpload(ctx, r.baseURL, local.AbsPath, f.RelPath, self.ID, self.Name)
		if uploadErr == nil || !retryable(uploadErr) || try == fileRetries {
			break
		}
		delay := r.retryDelay << try
		slog.Warn("sync upload retrying", "path", f.RelPath, "attempt", try+1, "delay", delay, "error", uploadErr)
		if err := sleepCtx(ctx, delay); err != nil {
			uploadErr = err
			break
		}
	}

	if uploadErr != nil {
		r.finishFile(f.RelPath, FileFailed, uploadErr.Error(), 0)
		slog.Warn("sync upload failed", "path", f.RelPath, "error", uploadErr)
		return
	}

	r.finishFile(f.RelPath, FileCompleted, "", local.Size)
	slog.Debug("sync uploaded", "path", f.RelPath, "bytes", local.Size)
}

// watch mirrors filesystem changes for the rest of the run. Deletes are
// forwarded immediately; other changes collect in a pending set flushed
// after a quiet period.
func (r *Runner) watch(ctx context.Context, sourceDir string) error {
	watcher := NewWatcher(sourceDir)
	if err := watcher.Start(); err != nil {
		return fmt.Errorf("attach watcher: %w", err)
	}
	defer watcher.Stop()

	if err := r.setPhase(PhaseWatching); err != nil {
		return err
	}

	pending := mapset.NewSet[string]()
	var quiet *time.Timer
	var quietCh <-chan time.Time
	defer func() {
		if quiet != nil {
			quiet.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events():
			if !ok {
				return errors.New("watcher closed unexpectedly")
			}
			rel, err := utils.SlashRel(sourceDir, ev.Path)
			if err != nil || strings.HasPrefix(rel, "..") {
				continue
			}
			if r.ignore.ShouldIgnore(rel) {
				continue
			}

			if ev.Removed {
				pending.Remove(rel)
				r.mirrorDelete(ctx, rel)
				continue
			}
			if info, err := os.Stat(ev.Path); err != nil || info.IsDir() {
				continue
			}

			pending.Add(rel)
			if quiet == nil {
				quiet = time.NewTimer(r.quiet)
				quietCh = quiet.C
			} else {
				if !quiet.Stop() {
					select {
					case <-quiet.C:
					default:
					}
				}
				quiet.Reset(r.quiet)
			}

		case <-quietCh:
			quiet = nil
			quietCh = nil

			paths := pending.ToSlice()
			pending.Clear()
			if len(paths) == 0 {
				continue
			}
			slices.Sort(paths)

			if err := r.setPhase(PhaseSyncing); err != nil {
				return err
			}
			if err := r.runBatch(ctx, r.statPending(sourceDir, paths)); err != nil {
				return err
			}
			if err := r.setPhase(PhaseWatching); err != nil {
				return err
			}
		}
	}
}

func (r *Runner) mirrorDelete(ctx context.Context, relPath string) {
	self := r.identity.Snapshot()
	_, err := r.client.SyncDelete(ctx, r.baseURL, &peerapi.SyncDeleteRequest{
		RelativePath:   relPath,
		SenderName:     self.Name,
		SenderDeviceID: self.ID,
	})
	if err != nil {
		slog.Warn("sync mirror delete failed", "path", relPath, "error", err)
		return
	}
	slog.Info("sync mirror delete", "path", relPath)
}

func (r *Runner) statPending(sourceDir string, paths []string) []localFile {
	files := make([]localFile, 0, len(paths))
	for _, rel := range paths {
		f, err := statLocal(sourceDir, rel)
		if err != nil {
			slog.Debug("sync change vanished before batch", "path", rel)
			continue
		}
		files = append(files, f)
	}
	return files
}

func (r *Runner) setPhase(next Phase) error {
	r.mu.Lock()
	if err := r.job.to(next); err != nil {
		r.mu.Unlock()
		return err
	}
	snap := r.job.snapshot()
	r.mu.Unlock()
	r.publish(snap)
	return nil
}

func (r *Runner) setItem(relPath string, status FileStatus, errMsg string) {
	r.mu.Lock()
	r.setItemLocked(relPath, status, errMsg)
	snap := r.job.snapshot()
	r.mu.Unlock()
	r.publish(snap)
}

func (r *Runner) setItemLocked(relPath string, status FileStatus, errMsg string) {
	for i := range r.job.Files {
		if r.job.Files[i].RelativePath == relPath {
			r.job.Files[i].Status = status
			r.job.Files[i].Error = errMsg
			break
		}
	}
	r.job.UpdatedAt = time.Now()
}

// finishFile records a terminal per-file status and updates the counters.
func (r *Runner) finishFile(relPath string, status FileStatus, errMsg string, bytes int64) {
	r.mu.Lock()
	r.setItemLocked(relPath, status, errMsg)
	switch status {
	case FileCompleted:
		r.job.FilesCompleted++
		r.job.BytesSent += bytes
		if elapsed := time.Since(r.runStart).Seconds(); elapsed > 0 {
			r.job.SpeedBps = float64(r.job.BytesSent) / elapsed
		}
	case FileFailed:
		r.job.FilesFailed++
		r.job.FailedFiles = append(r.job.FailedFiles, relPath)
		r.job.LastError = errMsg
	case FileSkipped:
		r.job.FilesSkipped++
	}
	snap := r.job.snapshot()
	r.mu.Unlock()
	r.publish(snap)
}

func (r *Runner) publish(snap Job) {
	if r.updates != nil {
		r.updates.Publish(snap)
	}
}

// retryable reports whether a sync upload error is worth another attempt.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return false
	}
	return !peerapi.IsClientError(err)
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
