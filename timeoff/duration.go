/*
duration.go - Working-minutes calculator

PURPOSE:
  Converts a requested time span into working minutes for one employee:
  timezone-aware day iteration, weekend and holiday skipping, and
  clipping of partial first/last days to the workday window.

ALGORITHM:
  1. Convert both timestamps into the employee's IANA timezone
  2. Walk calendar days covering [start, end)
  3. Weekend or holiday days contribute zero
  4. Otherwise contribute the overlap between [start, end) and the
     day's [workStart, workEnd) window, in whole minutes
  5. Sum

  Day boundaries and workday windows are built with wall-clock
  time.Date construction in the employee's zone, so spans crossing DST
  transitions keep their local shape.

  Pure function. Same inputs always produce the same output.
*/
package timeoff

import (
	"time"
)

const (
	// DefaultWorkdayMinutes is the workday length when the employee
	// record does not specify one.
	DefaultWorkdayMinutes int64 = 480

	// DefaultWorkdayStart is 09:00 as minutes from local midnight.
	DefaultWorkdayStart int64 = 9 * 60
)

// HolidaySet is date-key ("2006-01-02") membership in the employee's
// timezone.
type HolidaySet map[string]struct{}

// NewHolidaySet builds a set from calendar records, keyed in the given
// location.
func NewHolidaySet(holidays []Holiday, loc *time.Location) HolidaySet {
	set := make(HolidaySet, len(holidays))
	for _, h := range holidays {
		set[DateKey(h.Date, loc)] = struct{}{}
	}
	return set
}

// WorkingMinutes computes the working minutes covered by [startAt, endAt)
// for the given schedule. Returns ErrInvalidRange for zero-length or
// inverted spans.
func WorkingMinutes(startAt, endAt time.Time, employee Employee, holidays HolidaySet) (int64, error) {
	if !endAt.After(startAt) {
		return 0, ErrInvalidRange
	}

	loc, err := employeeLocation(employee)
	if err != nil {
		return 0, err
	}

	start := startAt.In(loc)
	end := endAt.In(loc)

	dayStart := employee.WorkdayStart
	if dayStart == 0 {
		dayStart = DefaultWorkdayStart
	}
	dayLen := employee.WorkdayMinutes
	if dayLen == 0 {
		dayLen = DefaultWorkdayMinutes
	}

	var total int64
	for day := dateOf(start, loc); day.Before(end); day = day.AddDate(0, 0, 1) {
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		if _, isHoliday := holidays[DateKey(day, loc)]; isHoliday {
			continue
		}

		// Wall-clock window construction; time.Date normalizes
		// overflowing minutes and absorbs DST offset changes.
		y, m, d := day.Date()
		workStart := time.Date(y, m, d, 0, int(dayStart), 0, 0, loc)
		workEnd := time.Date(y, m, d, 0, int(dayStart+dayLen), 0, 0, loc)

		total += overlapMinutes(start, end, workStart, workEnd)
	}
	return total, nil
}

func employeeLocation(employee Employee) (*time.Location, error) {
	if employee.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(employee.Timezone)
	if err != nil {
		return nil, &ValidationError{Field: "timezone", Message: "unknown timezone " + employee.Timezone}
	}
	return loc, nil
}

func dateOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func overlapMinutes(aStart, aEnd, bStart, bEnd time.Time) int64 {
	lo := aStart
	if bStart.After(lo) {
		lo = bStart
	}
	hi := aEnd
	if bEnd.Before(hi) {
		hi = bEnd
	}
	if !hi.After(lo) {
		return 0
	}
	return int64(hi.Sub(lo) / time.Minute)
}
