package syncengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleValidate(t *testing.T) {
	cases := []struct {
		name  string
		sched Schedule
		ok    bool
	}{
		{"interval", Schedule{Kind: ScheduleInterval, Every: 5 * time.Minute}, true},
		{"interval too short", Schedule{Kind: ScheduleInterval, Every: time.Second}, false},
		{"daily", Schedule{Kind: ScheduleDaily, At: "22:30"}, true},
		{"daily bad clock", Schedule{Kind: ScheduleDaily, At: "25:61"}, false},
		{"daily missing clock", Schedule{Kind: ScheduleDaily}, false},
		{"weekly", Schedule{Kind: ScheduleWeekly, At: "08:00", Days: []time.Weekday{time.Monday, time.Thursday}}, true},
		{"weekly no days", Schedule{Kind: ScheduleWeekly, At: "08:00"}, false},
		{"unknown kind", Schedule{Kind: "hourly"}, false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.sched.Validate()
			if c.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestScheduleNextInterval(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	sched := Schedule{Kind: ScheduleInterval, Every: 15 * time.Minute}

	next, err := sched.Next(now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(15*time.Minute), next)
}

func TestScheduleNextDaily(t *testing.T) {
	// 2025-03-10 is a Monday
	morning := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	evening := time.Date(2025, 3, 10, 23, 0, 0, 0, time.UTC)
	sched := Schedule{Kind: ScheduleDaily, At: "21:15"}

	next, err := sched.Next(morning)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 10, 21, 15, 0, 0, time.UTC), next)

	next, err = sched.Next(evening)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 11, 21, 15, 0, 0, time.UTC), next, "past today's slot rolls to tomorrow")
}

func TestScheduleNextDailyExactSlot(t *testing.T) {
	at := time.Date(2025, 3, 10, 21, 15, 0, 0, time.UTC)
	sched := Schedule{Kind: ScheduleDaily, At: "21:15"}

	next, err := sched.Next(at)
	require.NoError(t, err)
	assert.Equal(t, at.AddDate(0, 0, 1), next, "next fire is strictly after now")
}

func TestScheduleNextWeekly(t *testing.T) {
	// Monday noon
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	sched := Schedule{Kind: ScheduleWeekly, At: "09:00", Days: []time.Weekday{time.Wednesday, time.Friday}}

	next, err := sched.Next(now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC), next)
	assert.Equal(t, time.Wednesday, next.Weekday())
}

func TestScheduleNextWeeklySameDay(t *testing.T) {
	// Wednesday, before and after the slot
	early := time.Date(2025, 3, 12, 7, 0, 0, 0, time.UTC)
	late := time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)
	sched := Schedule{Kind: ScheduleWeekly, At: "09:00", Days: []time.Weekday{time.Wednesday}}

	next, err := sched.Next(early)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC), next)

	next, err = sched.Next(late)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 19, 9, 0, 0, 0, time.UTC), next, "missed slot waits a full week")
}
