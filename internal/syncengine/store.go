package syncengine

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

const jobSchema = `
CREATE TABLE IF NOT EXISTS sync_jobs (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	source_dir     TEXT NOT NULL,
	target_id      TEXT NOT NULL,
	target_name    TEXT NOT NULL DEFAULT '',
	target_ip      TEXT NOT NULL DEFAULT '',
	target_port    INTEGER NOT NULL DEFAULT 0,
	schedule_kind  TEXT NOT NULL DEFAULT '',
	schedule_every INTEGER NOT NULL DEFAULT 0,
	schedule_at    TEXT NOT NULL DEFAULT '',
	schedule_days  TEXT NOT NULL DEFAULT '',
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);
`

// dbJob is the flat row shape. The schedule is inlined so the table stays
// queryable; Days round-trips as a comma separated weekday list.
type dbJob struct {
	ID            string `db:"id"`
	Name          string `db:"name"`
	SourceDir     string `db:"source_dir"`
	TargetID      string `db:"target_id"`
	TargetName    string `db:"target_name"`
	TargetIP      string `db:"target_ip"`
	TargetPort    int    `db:"target_port"`
	ScheduleKind  string `db:"schedule_kind"`
	ScheduleEvery int64  `db:"schedule_every"`
	ScheduleAt    string `db:"schedule_at"`
	ScheduleDays  string `db:"schedule_days"`
	CreatedAt     string `db:"created_at"`
	UpdatedAt     string `db:"updated_at"`
}

// Store persists sync job configurations. Runtime state (phase, file items,
// counters) is not stored; jobs come back idle after a restart.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) (*Store, error) {
	if _, err := db.Exec(jobSchema); err != nil {
		return nil, fmt.Errorf("create sync jobs table: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Save(job Job) error {
	row := dbJob{
		ID:         job.ID,
		Name:       job.Name,
		SourceDir:  job.SourceDir,
		TargetID:   job.TargetID,
		TargetName: job.TargetName,
		TargetIP:   job.TargetIP,
		TargetPort: job.TargetPort,
		CreatedAt:  job.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:  job.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if job.Schedule != nil {
		row.ScheduleKind = string(job.Schedule.Kind)
		row.ScheduleEvery = int64(job.Schedule.Every / time.Second)
		row.ScheduleAt = job.Schedule.At
		row.ScheduleDays = joinDays(job.Schedule.Days)
	}

	_, err := s.db.NamedExec(`
		INSERT OR REPLACE INTO sync_jobs (
			id, name, source_dir, target_id, target_name, target_ip, target_port,
			schedule_kind, schedule_every, schedule_at, schedule_days,
			created_at, updated_at
		) VALUES (
			:id, :name, :source_dir, :target_id, :target_name, :target_ip, :target_port,
			:schedule_kind, :schedule_every, :schedule_at, :schedule_days,
			:created_at, :updated_at
		)`, &row)
	if err != nil {
		return fmt.Errorf("save sync job %s: %w", job.ID, err)
	}
	return nil
}

func (s *Store) Delete(id string) error {
	if _, err := s.db.Exec(`DELETE FROM sync_jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete sync job %s: %w", id, err)
	}
	return nil
}

// List returns every stored job in creation order, phase reset to idle.
func (s *Store) List() ([]Job, error) {
	var rows []dbJob
	if err := s.db.Select(&rows, `SELECT * FROM sync_jobs ORDER BY created_at, id`); err != nil {
		return nil, fmt.Errorf("list sync jobs: %w", err)
	}

	jobs := make([]Job, 0, len(rows))
	for _, row := range rows {
		job, err := row.toJob()
		if err != nil {
			slog.Warn("skipping corrupt sync job row", "id", row.ID, "error", err)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (row dbJob) toJob() (Job, error) {
	createdAt, err := time.Parse(time.RFC3339, row.CreatedAt)
	if err != nil {
		return Job{}, fmt.Errorf("parse created_at: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339, row.UpdatedAt)
	if err != nil {
		return Job{}, fmt.Errorf("parse updated_at: %w", err)
	}

	job := Job{
		ID:         row.ID,
		Name:       row.Name,
		SourceDir:  row.SourceDir,
		TargetID:   row.TargetID,
		TargetName: row.TargetName,
		TargetIP:   row.TargetIP,
		TargetPort: row.TargetPort,
		Phase:      PhaseIdle,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}

	if row.ScheduleKind != "" {
		days, err := splitDays(row.ScheduleDays)
		if err != nil {
			return Job{}, err
		}
		job.Schedule = &Schedule{
			Kind:  ScheduleKind(row.ScheduleKind),
			Every: time.Duration(row.ScheduleEvery) * time.Second,
			At:    row.ScheduleAt,
			Days:  days,
		}
		if err := job.Schedule.Validate(); err != nil {
			return Job{}, fmt.Errorf("stored schedule: %w", err)
		}
	}

	return job, nil
}

func joinDays(days []time.Weekday) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(int(d))
	}
	return strings.Join(parts, ",")
}

func splitDays(csv string) ([]time.Weekday, error) {
	if csv == "" {
		return nil, nil
	}
	parts := strings.Split(csv, ",")
	days := make([]time.Weekday, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("parse weekday %q: %w", p, err)
		}
		days = append(days, time.Weekday(n))
	}
	return days, nil
}
