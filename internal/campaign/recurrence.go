package campaign

import (
	"fmt"
	"time"

	"github.com/ErlanBelekov/cart-recovery/internal/domain"
)

// FirstRun is the start date at the schedule's time of day, in the schedule's zone.
// Start and end dates are calendar dates: their year, month and day are read as stored,
// never converted into the schedule's zone first.
func FirstRun(s domain.Schedule) (time.Time, error) {
	hour, minute, err := s.Clock()
	if err != nil {
		return time.Time{}, err
	}
	if s.StartDate.IsZero() {
		return time.Time{}, fmt.Errorf("%w: start date is required", domain.ErrInvalidSchedule)
	}
	loc := s.Location()
	y, m, d := s.StartDate.Date()
	return time.Date(y, m, d, hour, minute, 0, 0, loc), nil
}

// NextOccurrence returns the fire that follows prev. ok is false for one-off schedules
// and once the next fire would fall after the end date. Monthly schedules keep the start
// date's day of month, clamped to the month's last day.
func NextOccurrence(s domain.Schedule, prev time.Time) (next time.Time, ok bool, err error) {
	if !s.Recurring() {
		return time.Time{}, false, nil
	}
	hour, minute, err := s.Clock()
	if err != nil {
		return time.Time{}, false, err
	}
	loc := s.Location()
	p := prev.In(loc)

	switch s.Frequency {
	case domain.FrequencyDaily:
		p = p.AddDate(0, 0, 1)
		next = time.Date(p.Year(), p.Month(), p.Day(), hour, minute, 0, 0, loc)
	case domain.FrequencyWeekly:
		p = p.AddDate(0, 0, 7)
		next = time.Date(p.Year(), p.Month(), p.Day(), hour, minute, 0, 0, loc)
	case domain.FrequencyMonthly:
		anchor := p.Day()
		if !s.StartDate.IsZero() {
			anchor = s.StartDate.Day()
		}
		first := time.Date(p.Year(), p.Month()+1, 1, hour, minute, 0, 0, loc)
		day := min(anchor, daysIn(first.Year(), first.Month(), loc))
		next = time.Date(first.Year(), first.Month(), day, hour, minute, 0, 0, loc)
	}

	if s.EndDate != nil && next.After(endOfDay(*s.EndDate, loc)) {
		return time.Time{}, false, nil
	}
	return next, true, nil
}

// NextAfter advances from prev until the occurrence is after now. Used when a fire was
// missed, e.g. the scheduler was down or the schedule was edited to start in the past.
func NextAfter(s domain.Schedule, prev, now time.Time) (time.Time, bool, error) {
	next := prev
	for !next.After(now) {
		n, ok, err := NextOccurrence(s, next)
		if err != nil || !ok {
			return time.Time{}, false, err
		}
		next = n
	}
	return next, true, nil
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// endOfDay treats the end date as inclusive of its whole calendar day.
func endOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(time.Second-time.Nanosecond), loc)
}

func validateSchedule(s domain.Schedule) error {
	switch s.Frequency {
	case domain.FrequencyOnce, domain.FrequencyDaily, domain.FrequencyWeekly, domain.FrequencyMonthly:
	case "":
		return fmt.Errorf("%w: frequency is required", domain.ErrInvalidSchedule)
	default:
		return fmt.Errorf("%w: unknown frequency %q", domain.ErrInvalidSchedule, s.Frequency)
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("%w: timezone %q", domain.ErrInvalidSchedule, s.Timezone)
		}
	}
	if s.EndDate != nil && s.EndDate.Before(s.StartDate) {
		return fmt.Errorf("%w: end date before start date", domain.ErrInvalidSchedule)
	}
	_, err := FirstRun(s)
	return err
}
