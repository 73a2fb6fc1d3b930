// Package recurrence validates frequency rules and computes due dates.
//
// All arithmetic happens on the civil calendar of the configured location:
// an occurrence keeps the wall-clock time of the schedule's anchor across DST
// transitions. Weekly rules use 0=Sunday .. 6=Saturday, matching time.Weekday.
// Days of month beyond the end of a short month clamp to its last day.
package recurrence

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"fixit/internal/models"
)

// ErrInvalidFrequency wraps every validation failure
var ErrInvalidFrequency = errors.New("invalid frequency")

// maxSteps bounds every search loop.
const maxSteps = 100000

// Validate checks a frequency is well formed. Non-recurring schedules may
// omit everything but the type.
func Validate(f models.Frequency, recurring bool) error {
	if !recurring {
		if f.Type != "" && f.Type != models.FrequencyOnce {
			return invalid("non-recurring schedules must use type once")
		}
		return nil
	}
	if f.Occurrences != nil && *f.Occurrences < 1 {
		return invalid("occurrences must be at least 1")
	}
	switch f.Type {
	case models.FrequencyOnce:
		return nil
	case models.FrequencyDaily:
		return checkInterval(f)
	case models.FrequencyWeekly:
		if err := checkInterval(f); err != nil {
			return err
		}
		if f.DayOfWeek == nil || *f.DayOfWeek < 0 || *f.DayOfWeek > 6 {
			return invalid("dayOfWeek must be between 0 (Sunday) and 6 (Saturday)")
		}
	case models.FrequencyMonthly:
		if err := checkInterval(f); err != nil {
			return err
		}
		if err := checkDayOfMonth(f.DayOfMonth); err != nil {
			return err
		}
	case models.FrequencyYearly:
		if err := checkInterval(f); err != nil {
			return err
		}
		if f.MonthOfYear == nil || *f.MonthOfYear < 1 || *f.MonthOfYear > 12 {
			return invalid("monthOfYear must be between 1 and 12")
		}
		if err := checkDayOfMonth(f.DayOfMonth); err != nil {
			return err
		}
	case models.FrequencyCustom:
		if len(f.CustomDays) == 0 {
			return invalid("customDays must list at least one day")
		}
		for _, d := range f.CustomDays {
			if d < 1 || d > 31 {
				return invalid("customDays entries must be between 1 and 31")
			}
		}
	default:
		return invalid(fmt.Sprintf("unknown frequency type %q", f.Type))
	}
	return nil
}

func checkInterval(f models.Frequency) error {
	if f.Interval < 1 {
		return invalid("interval must be at least 1")
	}
	return nil
}

func checkDayOfMonth(d *int) error {
	if d == nil || *d < 1 || *d > 31 {
		return invalid("dayOfMonth must be between 1 and 31")
	}
	return nil
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidFrequency, msg)
}

// First returns the first occurrence at or after the anchor.
func First(f models.Frequency, anchor time.Time, loc *time.Location) (time.Time, bool) {
	return Next(f, anchor, anchor.Add(-time.Nanosecond), loc)
}

// Next returns the smallest occurrence D with D > after, D >= anchor and D
// within the end date. The end date is inclusive of its whole civil day.
func Next(f models.Frequency, anchor, after time.Time, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	anchor = anchor.In(loc)
	after = after.In(loc)

	var (
		d  time.Time
		ok bool
	)
	switch f.Type {
	case models.FrequencyOnce, "":
		d, ok = anchor, anchor.After(after)
	case models.FrequencyDaily:
		d, ok = nextByDays(anchor, anchor, after, maxInt(f.Interval, 1))
	case models.FrequencyWeekly:
		if f.DayOfWeek == nil {
			return time.Time{}, false
		}
		offset := (*f.DayOfWeek - int(anchor.Weekday()) + 7) % 7
		start := addDays(anchor, offset)
		d, ok = nextByDays(start, anchor, after, 7*maxInt(f.Interval, 1))
	case models.FrequencyMonthly:
		if f.DayOfMonth == nil {
			return time.Time{}, false
		}
		d, ok = nextByMonths(anchor, after, maxInt(f.Interval, 1), func(y int, m time.Month) []int {
			return []int{*f.DayOfMonth}
		})
	case models.FrequencyYearly:
		if f.DayOfMonth == nil || f.MonthOfYear == nil {
			return time.Time{}, false
		}
		d, ok = nextYearly(anchor, after, maxInt(f.Interval, 1), time.Month(*f.MonthOfYear), *f.DayOfMonth)
	case models.FrequencyCustom:
		days := append([]int(nil), f.CustomDays...)
		sort.Ints(days)
		d, ok = nextByMonths(anchor, after, 1, func(y int, m time.Month) []int { return days })
	default:
		return time.Time{}, false
	}
	if !ok {
		return time.Time{}, false
	}
	if f.EndDate != nil && d.After(endOfDay(*f.EndDate, loc)) {
		return time.Time{}, false
	}
	return d, true
}

// Clamp returns day limited to the length of the given month.
func Clamp(year int, month time.Month, day int) int {
	last := DaysIn(year, month)
	if day > last {
		return last
	}
	if day < 1 {
		return 1
	}
	return day
}

// DaysIn returns the number of days in a month
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// civilDay counts days since the epoch for the calendar date of t, ignoring offsets.
func civilDay(t time.Time) int {
	y, m, d := t.Date()
	return int(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400)
}

func atClock(ref time.Time, y int, m time.Month, d int) time.Time {
	h, mi, s := ref.Clock()
	return time.Date(y, m, d, h, mi, s, ref.Nanosecond(), ref.Location())
}

func addDays(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	return atClock(t, y, m, d+n)
}

func nextByDays(start, anchor, after time.Time, step int) (time.Time, bool) {
	k := 0
	if diff := civilDay(after) - civilDay(start); diff > 0 {
		k = diff/step - 1
		if k < 0 {
			k = 0
		}
	}
	for i := 0; i < maxSteps; i++ {
		c := addDays(start, (k+i)*step)
		if c.After(after) && !c.Before(anchor) {
			return c, true
		}
	}
	return time.Time{}, false
}

func monthIndex(t time.Time) int {
	return t.Year()*12 + int(t.Month()) - 1
}

func nextByMonths(anchor, after time.Time, step int, daysFor func(int, time.Month) []int) (time.Time, bool) {
	base := monthIndex(anchor)
	k := 0
	if diff := monthIndex(after) - base; diff > 0 {
		k = diff/step - 1
		if k < 0 {
			k = 0
		}
	}
	for i := 0; i < maxSteps; i++ {
		mi := base + (k+i)*step
		y, m := mi/12, time.Month(mi%12+1)
		seen := map[int]bool{}
		for _, day := range daysFor(y, m) {
			day = Clamp(y, m, day)
			if seen[day] {
				continue
			}
			seen[day] = true
			c := atClock(anchor, y, m, day)
			if c.After(after) && !c.Before(anchor) {
				return c, true
			}
		}
	}
	return time.Time{}, false
}

func nextYearly(anchor, after time.Time, step int, month time.Month, day int) (time.Time, bool) {
	base := anchor.Year()
	k := 0
	if diff := after.Year() - base; diff > 0 {
		k = diff/step - 1
		if k < 0 {
			k = 0
		}
	}
	for i := 0; i < maxSteps; i++ {
		y := base + (k+i)*step
		c := atClock(anchor, y, month, Clamp(y, month, day))
		if c.After(after) && !c.Before(anchor) {
			return c, true
		}
	}
	return time.Time{}, false
}

func endOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc).Add(-time.Nanosecond)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
