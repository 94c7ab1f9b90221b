package syncengine

import (
	"log/slog"
	"sync"
	"time"
)

// Scheduler arms one timer per scheduled job and re-arms it after every
// fire. Arming again replaces the previous timer, so a schedule edit just
// calls Arm with the updated job.
type Scheduler struct {
	mu     sync.Mutex
	jobs   map[string]*armedJob
	fire   func(jobID string)
	closed bool
}

type armedJob struct {
	timer *time.Timer
	sched Schedule
}

func NewScheduler(fire func(jobID string)) *Scheduler {
	return &Scheduler{
		jobs: make(map[string]*armedJob),
		fire: fire,
	}
}

func (s *Scheduler) Arm(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.disarmLocked(job.ID)

	if job.Schedule == nil {
		return
	}
	sched := *job.Schedule

	next, err := sched.Next(time.Now())
	if err != nil {
		slog.Warn("sync schedule not armed", "job", job.ID, "error", err)
		return
	}

	id := job.ID
	s.jobs[id] = &armedJob{
		timer: time.AfterFunc(time.Until(next), func() { s.fired(id) }),
		sched: sched,
	}
	slog.Info("sync schedule armed", "job", job.ID, "name", job.Name, "next", next.Format(time.RFC3339))
}

func (s *Scheduler) Disarm(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disarmLocked(id)
}

func (s *Scheduler) disarmLocked(id string) {
	if armed, ok := s.jobs[id]; ok {
		armed.timer.Stop()
		delete(s.jobs, id)
	}
}

// Armed reports whether a job currently has a pending timer.
func (s *Scheduler) Armed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[id]
	return ok
}

func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, armed := range s.jobs {
		armed.timer.Stop()
		delete(s.jobs, id)
	}
}

func (s *Scheduler) fired(id string) {
	s.mu.Lock()
	armed, ok := s.jobs[id]
	if !ok || s.closed {
		s.mu.Unlock()
		return
	}
	if next, err := armed.sched.Next(time.Now()); err == nil {
		armed.timer.Reset(time.Until(next))
	}
	s.mu.Unlock()

	s.fire(id)
}
