package scheduler

import "time"

// minInterval keeps a misconfigured schedule from firing on every tick.
const minInterval = time.Second

// IntervalSchedule fires a job at a fixed interval, measured from the
// previous firing rather than from wall-clock boundaries.
type IntervalSchedule struct {
	interval time.Duration
}

// NewIntervalSchedule creates an interval schedule. Intervals below one
// second are raised to one second.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	if interval < minInterval {
		interval = minInterval
	}
	return &IntervalSchedule{interval: interval}
}

// Interval returns the configured interval.
func (s *IntervalSchedule) Interval() time.Duration {
	return s.interval
}

// Next implements Schedule.
func (s *IntervalSchedule) Next(after time.Time) time.Time {
	return after.Add(s.interval)
}

// String renders the schedule in "@every <interval>" form.
func (s *IntervalSchedule) String() string {
	return "@every " + s.interval.String()
}
