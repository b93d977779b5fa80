package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "attest/pkg/domain-errors"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNextDueDate_Once(t *testing.T) {
	due := date(2024, time.June, 15)
	from := date(2024, time.January, 1)

	got, err := NextDueDate(FrequencyOnce, 0, due, from)
	require.NoError(t, err)
	assert.Equal(t, due, got, "once returns the stored due date verbatim")
}

func TestNextDueDate_Weekly(t *testing.T) {
	from := date(2024, time.March, 4)

	got, err := NextDueDate(FrequencyWeekly, 0, time.Time{}, from)
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.March, 11), got)
}

func TestNextDueDate_MonthlyClampsLeapFebruary(t *testing.T) {
	got, err := NextDueDate(FrequencyMonthly, 31, time.Time{}, date(2024, time.February, 1))
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.February, 29), got, "leap year clamps to Feb 29")

	got, err = NextDueDate(FrequencyMonthly, 31, time.Time{}, date(2023, time.February, 1))
	require.NoError(t, err)
	assert.Equal(t, date(2023, time.February, 28), got, "non-leap year clamps to Feb 28")
}

func TestNextDueDate_MonthlyClampNeverOverflowsMonth(t *testing.T) {
	got, err := NextDueDate(FrequencyMonthly, 31, time.Time{}, date(2024, time.April, 2))
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.April, 30), got, "day 31 in April yields April 30, not May 1")
}

func TestNextDueDate_MonthlyStepsPastElapsedDay(t *testing.T) {
	// The recurring day already passed this month, so the next occurrence is
	// a month ahead.
	got, err := NextDueDate(FrequencyMonthly, 10, time.Time{}, date(2024, time.March, 15))
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.April, 10), got)
}

func TestNextDueDate_SameDayStepsForward(t *testing.T) {
	// The occurrence must be strictly after from.
	got, err := NextDueDate(FrequencyMonthly, 15, time.Time{}, date(2024, time.March, 15))
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.April, 15), got)
}

func TestNextDueDate_Bimonthly(t *testing.T) {
	got, err := NextDueDate(FrequencyBimonthly, 31, time.Time{}, date(2024, time.March, 31))
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.May, 31), got)
}

func TestNextDueDate_Quarterly(t *testing.T) {
	got, err := NextDueDate(FrequencyQuarterly, 31, time.Time{}, date(2024, time.January, 31))
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.April, 30), got, "quarter step clamps to April 30")
}

func TestNextDueDate_AnnuallyClampsFeb29(t *testing.T) {
	got, err := NextDueDate(FrequencyAnnually, 0, time.Time{}, date(2024, time.February, 29))
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.February, 28), got)
}

func TestNextDueDate_Annually(t *testing.T) {
	got, err := NextDueDate(FrequencyAnnually, 0, time.Time{}, date(2024, time.July, 4))
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.July, 4), got)
}

func TestNextDueDate_Idempotent(t *testing.T) {
	from := date(2024, time.February, 1)
	first, err := NextDueDate(FrequencyQuarterly, 30, time.Time{}, from)
	require.NoError(t, err)
	second, err := NextDueDate(FrequencyQuarterly, 30, time.Time{}, from)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestNextDueDate_RejectsBadRecurringDay(t *testing.T) {
	for _, day := range []int{0, -1, 32} {
		_, err := NextDueDate(FrequencyMonthly, day, time.Time{}, date(2024, time.January, 1))
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeSchedule))
	}
}

func TestNextDueDate_RejectsUnknownFrequency(t *testing.T) {
	_, err := NextDueDate(Frequency("fortnightly"), 0, time.Time{}, date(2024, time.January, 1))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeSchedule))
}

func TestValidateRecurrence(t *testing.T) {
	assert.NoError(t, ValidateRecurrence(FrequencyOnce, 0))
	assert.NoError(t, ValidateRecurrence(FrequencyWeekly, 0))
	assert.NoError(t, ValidateRecurrence(FrequencyMonthly, 15))
	assert.Error(t, ValidateRecurrence(FrequencyMonthly, 0))
	assert.Error(t, ValidateRecurrence(FrequencyQuarterly, 40))
	assert.Error(t, ValidateRecurrence(Frequency(""), 1))
}

func TestFrequencyRecurring(t *testing.T) {
	assert.False(t, FrequencyOnce.Recurring())
	assert.True(t, FrequencyWeekly.Recurring())
	assert.True(t, FrequencyAnnually.Recurring())
	assert.False(t, Frequency("bogus").Recurring())
}
