package syncengine

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// ScheduleKind selects how a job's automatic trigger fires.
type ScheduleKind string

const (
	ScheduleInterval ScheduleKind = "interval"
	ScheduleDaily    ScheduleKind = "daily"
	ScheduleWeekly   ScheduleKind = "weekly"
)

const minInterval = time.Minute

// Schedule is a job's optional automatic trigger. Interval schedules fire
// every Every; daily and weekly schedules fire at the wall-clock time At
// ("HH:MM"), weekly ones only on the listed weekdays.
type Schedule struct {
	Kind  ScheduleKind   `json:"kind"`
	Every time.Duration  `json:"every,omitempty"`
	At    string         `json:"at,omitempty"`
	Days  []time.Weekday `json:"days,omitempty"`
}

func (s *Schedule) Validate() error {
	switch s.Kind {
	case ScheduleInterval:
		if s.Every < minInterval {
			return fmt.Errorf("interval must be at least %s, got %s", minInterval, s.Every)
		}
	case ScheduleDaily:
		if _, _, err := parseClock(s.At); err != nil {
			return err
		}
	case ScheduleWeekly:
		if _, _, err := parseClock(s.At); err != nil {
			return err
		}
		if len(s.Days) == 0 {
			return fmt.Errorf("weekly schedule needs at least one weekday")
		}
		for _, d := range s.Days {
			if d < time.Sunday || d > time.Saturday {
				return fmt.Errorf("invalid weekday %d", d)
			}
		}
	default:
		return fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
	return nil
}

// String renders the schedule the way job listings show it.
func (s *Schedule) String() string {
	switch s.Kind {
	case ScheduleInterval:
		return fmt.Sprintf("every %s", s.Every)
	case ScheduleDaily:
		return fmt.Sprintf("daily at %s", s.At)
	case ScheduleWeekly:
		days := make([]string, len(s.Days))
		for i, d := range s.Days {
			days[i] = d.String()[:3]
		}
		return fmt.Sprintf("weekly at %s on %s", s.At, strings.Join(days, ","))
	default:
		return string(s.Kind)
	}
}

// Next returns the first fire time strictly after now.
func (s *Schedule) Next(now time.Time) (time.Time, error) {
	switch s.Kind {
	case ScheduleInterval:
		return now.Add(s.Every), nil

	case ScheduleDaily:
		hour, min, err := parseClock(s.At)
		if err != nil {
			return time.Time{}, err
		}
		at := time.Date(now.Year(), now.Month(), now.Day(), hour, min, 0, 0, now.Location())
		if !at.After(now) {
			at = at.AddDate(0, 0, 1)
		}
		return at, nil

	case ScheduleWeekly:
		hour, min, err := parseClock(s.At)
		if err != nil {
			return time.Time{}, err
		}
		for offset := 0; offset <= 7; offset++ {
			day := now.AddDate(0, 0, offset)
			if !slices.Contains(s.Days, day.Weekday()) {
				continue
			}
			at := time.Date(day.Year(), day.Month(), day.Day(), hour, min, 0, 0, now.Location())
			if at.After(now) {
				return at, nil
			}
		}
		return time.Time{}, fmt.Errorf("no fire time within a week for %q", s.At)

	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
}

func parseClock(at string) (hour, min int, err error) {
	t, err := time.Parse("15:04", at)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid wall-clock time %q, want HH:MM: %w", at, err)
	}
	return t.Hour(), t.Minute(), nil
}
