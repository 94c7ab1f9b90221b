package syncengine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lanbeam/lanbeam/internal/device"
	"github.com/lanbeam/lanbeam/internal/events"
	"github.com/lanbeam/lanbeam/internal/peerapi"
	"github.com/lanbeam/lanbeam/internal/utils"
)

// Engine manages the configured sync jobs: persistence, one runner per job
// and the schedule timers. Job snapshots go out on the updates topic.
type Engine struct {
	mu      sync.Mutex
	runners map[string]*Runner
	ctx     context.Context

	store        *Store
	client       *peerapi.Client
	identity     *device.Identity
	registry     *device.Registry
	updates      *events.Topic[Job]
	sched        *Scheduler
	extraIgnores []string
}

func NewEngine(store *Store, client *peerapi.Client, identity *device.Identity, registry *device.Registry, updates *events.Topic[Job], extraIgnores []string) *Engine {
	e := &Engine{
		runners:      make(map[string]*Runner),
		ctx:          context.Background(),
		store:        store,
		client:       client,
		identity:     identity,
		registry:     registry,
		updates:      updates,
		extraIgnores: extraIgnores,
	}
	e.sched = NewScheduler(e.scheduledFire)
	return e
}

// Start loads the persisted jobs and arms their schedules. Jobs come back
// idle; nothing syncs until a schedule fires or StartJob is called.
func (e *Engine) Start(ctx context.Context) error {
	jobs, err := e.store.List()
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.ctx = ctx
	for _, job := range jobs {
		e.runners[job.ID] = e.newRunner(job)
	}
	e.mu.Unlock()

	for _, job := range jobs {
		e.sched.Arm(job)
	}

	slog.Info("sync engine start", "jobs", len(jobs))
	return nil
}

// Close disarms all schedules and stops every active runner.
func (e *Engine) Close() {
	e.sched.Close()

	e.mu.Lock()
	runners := make([]*Runner, 0, len(e.runners))
	for _, r := range e.runners {
		runners = append(runners, r)
	}
	e.mu.Unlock()

	for _, r := range runners {
		_ = r.Stop()
	}
	slog.Info("sync engine stopped")
}

// Create validates and persists a new job for a (sourceDir, target) pair.
func (e *Engine) Create(name, sourceDir string, target device.Device, sched *Schedule) (Job, error) {
	resolved, err := utils.ResolvePath(sourceDir)
	if err != nil {
		return Job{}, fmt.Errorf("invalid source directory %q: %w", sourceDir, err)
	}
	if info, err := os.Stat(resolved); err != nil || !info.IsDir() {
		return Job{}, fmt.Errorf("source directory %q does not exist", resolved)
	}
	if target.ID == "" {
		return Job{}, fmt.Errorf("sync target has no device id")
	}
	if sched != nil {
		if err := sched.Validate(); err != nil {
			return Job{}, err
		}
	}
	if strings.TrimSpace(name) == "" {
		name = filepath.Base(resolved)
	}

	now := time.Now()
	job := Job{
		ID:         uuid.NewString(),
		Name:       name,
		SourceDir:  resolved,
		TargetID:   target.ID,
		TargetName: target.Name,
		TargetIP:   target.IP,
		TargetPort: target.Port,
		Schedule:   sched,
		Phase:      PhaseIdle,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := e.store.Save(job); err != nil {
		return Job{}, err
	}

	e.mu.Lock()
	runner := e.newRunner(job)
	e.runners[job.ID] = runner
	e.mu.Unlock()

	e.sched.Arm(job)
	slog.Info("sync job created", "job", job.ID, "name", job.Name, "source", job.SourceDir, "target", job.TargetName)

	snap := runner.Snapshot()
	e.publish(snap)
	return snap, nil
}

// UpdateSchedule replaces a job's schedule (nil clears it) and re-arms it.
func (e *Engine) UpdateSchedule(id string, sched *Schedule) (Job, error) {
	if sched != nil {
		if err := sched.Validate(); err != nil {
			return Job{}, err
		}
	}

	runner, err := e.runner(id)
	if err != nil {
		return Job{}, err
	}

	snap := runner.setSchedule(sched)
	if err := e.store.Save(snap); err != nil {
		return Job{}, err
	}
	e.sched.Arm(snap)
	slog.Info("sync schedule updated", "job", id)

	e.publish(snap)
	return snap, nil
}

// Delete stops the job if needed and removes it permanently.
func (e *Engine) Delete(id string) error {
	runner, err := e.runner(id)
	if err != nil {
		return err
	}

	e.sched.Disarm(id)
	_ = runner.Stop()

	if err := e.store.Delete(id); err != nil {
		return err
	}

	e.mu.Lock()
	delete(e.runners, id)
	e.mu.Unlock()

	slog.Info("sync job deleted", "job", id)
	return nil
}

// StartJob begins a manual run.
func (e *Engine) StartJob(id string) error {
	runner, err := e.runner(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	ctx := e.ctx
	e.mu.Unlock()
	return runner.Start(ctx)
}

// StopJob ends the job's current run.
func (e *Engine) StopJob(id string) error {
	runner, err := e.runner(id)
	if err != nil {
		return err
	}
	return runner.Stop()
}

func (e *Engine) PauseJob(id string) error {
	runner, err := e.runner(id)
	if err != nil {
		return err
	}
	return runner.Pause()
}

func (e *Engine) ResumeJob(id string) error {
	runner, err := e.runner(id)
	if err != nil {
		return err
	}
	return runner.Resume()
}

// SkipFile requests that the running batch skip one relative path.
func (e *Engine) SkipFile(id, relPath string) error {
	runner, err := e.runner(id)
	if err != nil {
		return err
	}
	runner.SkipFile(relPath)
	return nil
}

// Jobs returns snapshots of every job in creation order.
func (e *Engine) Jobs() []Job {
	e.mu.Lock()
	runners := make([]*Runner, 0, len(e.runners))
	for _, r := range e.runners {
		runners = append(runners, r)
	}
	e.mu.Unlock()

	jobs := make([]Job, 0, len(runners))
	for _, r := range runners {
		jobs = append(jobs, r.Snapshot())
	}
	slices.SortFunc(jobs, func(a, b Job) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return jobs
}

func (e *Engine) Get(id string) (Job, bool) {
	runner, err := e.runner(id)
	if err != nil {
		return Job{}, false
	}
	return runner.Snapshot(), true
}

func (e *Engine) runner(id string) (*Runner, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	runner, ok := e.runners[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	return runner, nil
}

func (e *Engine) newRunner(job Job) *Runner {
	j := job
	runner := NewRunner(&j, e.client, e.identity, e.registry, NewIgnoreList(job.SourceDir, e.extraIgnores), e.updates)
	runner.persist = func(snap Job) {
		if err := e.store.Save(snap); err != nil {
			slog.Warn("sync job persist failed", "job", snap.ID, "error", err)
		}
	}
	return runner
}

// scheduledFire runs when a schedule timer goes off. The fire is skipped,
// with the reason logged, when the job is mid-run or its source is gone.
func (e *Engine) scheduledFire(id string) {
	runner, err := e.runner(id)
	if err != nil {
		return
	}
	e.mu.Lock()
	ctx := e.ctx
	e.mu.Unlock()

	snap := runner.Snapshot()
	if snap.Phase.Running() {
		slog.Info("sync schedule fire skipped", "job", id, "reason", "already running")
		return
	}
	if info, err := os.Stat(snap.SourceDir); err != nil || !info.IsDir() {
		slog.Warn("sync schedule fire skipped", "job", id, "reason", "source directory missing", "dir", snap.SourceDir)
		return
	}

	slog.Info("sync schedule fired", "job", id, "name", snap.Name)
	if err := runner.Start(ctx); err != nil {
		slog.Warn("sync scheduled start failed", "job", id, "error", err)
	}
}

func (e *Engine) publish(snap Job) {
	if e.updates != nil {
		e.updates.Publish(snap)
	}
}
