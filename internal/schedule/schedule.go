// Package schedule computes concrete due dates from recurrence rules.
//
// The calculator is pure: no stores, no clocks, no side effects. Recurrence
// configuration is validated when a run is defined, so NextDueDate never
// raises a configuration error for a run that was accepted.
package schedule

import (
	"time"

	dErrors "attest/pkg/domain-errors"
)

// Frequency is the recurrence cadence of a compliance run.
type Frequency string

const (
	FrequencyOnce      Frequency = "once"
	FrequencyWeekly    Frequency = "weekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyBimonthly Frequency = "bimonthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyAnnually  Frequency = "annually"
)

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyOnce, FrequencyWeekly, FrequencyMonthly,
		FrequencyBimonthly, FrequencyQuarterly, FrequencyAnnually:
		return true
	}
	return false
}

// Recurring reports whether f repeats. Everything except "once" does.
func (f Frequency) Recurring() bool {
	return f.Valid() && f != FrequencyOnce
}

// periodMonths returns the month step for day-of-period frequencies,
// or 0 when the frequency does not use a recurring day.
func (f Frequency) periodMonths() int {
	switch f {
	case FrequencyMonthly:
		return 1
	case FrequencyBimonthly:
		return 2
	case FrequencyQuarterly:
		return 3
	}
	return 0
}

// RequiresDay reports whether f needs a configured day-of-period.
func (f Frequency) RequiresDay() bool { return f.periodMonths() > 0 }

// ValidateRecurrence checks a recurrence configuration at definition time.
func ValidateRecurrence(freq Frequency, recurringDay int) error {
	if !freq.Valid() {
		return dErrors.Newf(dErrors.CodeSchedule, "unknown frequency %q", freq)
	}
	if freq.RequiresDay() && (recurringDay < 1 || recurringDay > 31) {
		return dErrors.New(dErrors.CodeSchedule,
			"recurring day must be between 1 and 31").WithFields("recurring_day")
	}
	return nil
}

// NextDueDate computes the next due date after from.
//
//   - once: returns explicitDue verbatim, no recomputation.
//   - weekly: from plus seven days.
//   - monthly/bimonthly/quarterly: the next occurrence of recurringDay
//     strictly after from, stepping 1/2/3 months. When recurringDay exceeds
//     the target month's length it clamps to the month's last day and never
//     overflows into the following month.
//   - annually: the same calendar date one year later; Feb 29 clamps to
//     Feb 28 in non-leap years.
//
// The computation is deterministic and idempotent for fixed inputs. A result
// before from indicates misconfiguration and is rejected.
func NextDueDate(freq Frequency, recurringDay int, explicitDue, from time.Time) (time.Time, error) {
	if err := ValidateRecurrence(freq, recurringDay); err != nil {
		return time.Time{}, err
	}

	var next time.Time
	switch freq {
	case FrequencyOnce:
		return explicitDue, nil
	case FrequencyWeekly:
		next = from.AddDate(0, 0, 7)
	case FrequencyMonthly, FrequencyBimonthly, FrequencyQuarterly:
		next = nextDayOfPeriod(from, freq.periodMonths(), recurringDay)
	case FrequencyAnnually:
		next = sameDateNextYear(from)
	}

	if next.Before(from) {
		return time.Time{}, dErrors.Newf(dErrors.CodeSchedule,
			"computed due date %s precedes reference date %s",
			next.Format(time.DateOnly), from.Format(time.DateOnly))
	}
	return next, nil
}

// nextDayOfPeriod finds the next occurrence of day strictly after from. If
// the clamped occurrence in from's own month is still ahead it is used;
// otherwise the date steps months ahead and clamps again.
func nextDayOfPeriod(from time.Time, months, day int) time.Time {
	candidate := clampToMonth(from.Year(), from.Month(), day, from)
	if candidate.After(from) {
		return candidate
	}
	stepped := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, from.Location()).
		AddDate(0, months, 0)
	return clampToMonth(stepped.Year(), stepped.Month(), day, from)
}

// clampToMonth builds the date for day in (year, month), clamped to the
// month's last day so February or a 30-day month never rolls over.
func clampToMonth(year int, month time.Month, day int, ref time.Time) time.Time {
	last := daysIn(year, month)
	if day > last {
		day = last
	}
	h, m, s := ref.Clock()
	return time.Date(year, month, day, h, m, s, ref.Nanosecond(), ref.Location())
}

func sameDateNextYear(from time.Time) time.Time {
	day := from.Day()
	// Feb 29 has no counterpart in a non-leap year; the check clamps it.
	last := daysIn(from.Year()+1, from.Month())
	if day > last {
		day = last
	}
	h, m, s := from.Clock()
	return time.Date(from.Year()+1, from.Month(), day, h, m, s, from.Nanosecond(), from.Location())
}

func daysIn(year int, month time.Month) int {
	// Day 0 of the next month is the last day of this month.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
