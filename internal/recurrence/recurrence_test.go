package recurrence

import (
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"fixit/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(i int) *int { return &i }

func date(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, time.UTC)
}

func TestNext_MonthlyMaterialisationAdvance(t *testing.T) {
	f := models.Frequency{Type: models.FrequencyMonthly, Interval: 1, DayOfMonth: intPtr(15)}
	anchor := date(2025, time.January, 15, 0)

	first, ok := First(f, anchor, time.UTC)
	require.True(t, ok)
	assert.Equal(t, anchor, first)

	next, ok := Next(f, anchor, date(2025, time.January, 15, 1), time.UTC)
	require.True(t, ok)
	assert.Equal(t, date(2025, time.February, 15, 0), next)
}

func TestNext_ShortMonthClamp(t *testing.T) {
	f := models.Frequency{Type: models.FrequencyMonthly, Interval: 1, DayOfMonth: intPtr(31)}

	tests := []struct {
		name   string
		anchor time.Time
		after  time.Time
		want   time.Time
	}{
		{"non-leap february", date(2025, time.January, 31, 8), date(2025, time.January, 31, 8), date(2025, time.February, 28, 8)},
		{"leap february", date(2024, time.January, 31, 8), date(2024, time.January, 31, 8), date(2024, time.February, 29, 8)},
		{"resumes on march 31", date(2025, time.January, 31, 8), date(2025, time.February, 28, 8), date(2025, time.March, 31, 8)},
		{"thirty day month", date(2025, time.March, 31, 8), date(2025, time.March, 31, 8), date(2025, time.April, 30, 8)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Next(f, tt.anchor, tt.after, time.UTC)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNext_DailyKeepsWallClockAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	f := models.Frequency{Type: models.FrequencyDaily, Interval: 1}
	anchor := time.Date(2025, time.March, 8, 9, 0, 0, 0, loc)

	next, ok := Next(f, anchor, anchor, loc)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, time.March, 9, 9, 0, 0, 0, loc), next)
	assert.Equal(t, 9, next.Hour())
	assert.Equal(t, 23*time.Hour, next.Sub(anchor))
}

func TestNext_DailyInterval(t *testing.T) {
	f := models.Frequency{Type: models.FrequencyDaily, Interval: 3}
	anchor := date(2025, time.January, 1, 6)

	got, ok := Next(f, anchor, date(2025, time.January, 20, 12), time.UTC)
	require.True(t, ok)
	assert.Equal(t, date(2025, time.January, 22, 6), got)
}

func TestNext_WeeklyUsesSundayZero(t *testing.T) {
	// 2025-01-01 is a Wednesday
	f := models.Frequency{Type: models.FrequencyWeekly, Interval: 1, DayOfWeek: intPtr(1)}
	anchor := date(2025, time.January, 1, 10)

	first, ok := First(f, anchor, time.UTC)
	require.True(t, ok)
	assert.Equal(t, date(2025, time.January, 6, 10), first)
	assert.Equal(t, time.Monday, first.Weekday())

	f.DayOfWeek = intPtr(0)
	f.Interval = 2
	first, ok = First(f, anchor, time.UTC)
	require.True(t, ok)
	assert.Equal(t, time.Sunday, first.Weekday())
	next, ok := Next(f, anchor, first, time.UTC)
	require.True(t, ok)
	assert.Equal(t, first.AddDate(0, 0, 14), next)
}

func TestNext_YearlyClampsLeapDay(t *testing.T) {
	f := models.Frequency{Type: models.FrequencyYearly, Interval: 1, MonthOfYear: intPtr(2), DayOfMonth: intPtr(29)}
	anchor := date(2024, time.February, 29, 0)

	next, ok := Next(f, anchor, anchor, time.UTC)
	require.True(t, ok)
	assert.Equal(t, date(2025, time.February, 28, 0), next)
}

func TestNext_CustomDays(t *testing.T) {
	f := models.Frequency{Type: models.FrequencyCustom, CustomDays: []int{31, 1, 15, 30}}
	anchor := date(2025, time.January, 10, 9)

	steps := []time.Time{
		date(2025, time.January, 15, 9),
		date(2025, time.January, 30, 9),
		date(2025, time.January, 31, 9),
		date(2025, time.February, 1, 9),
		date(2025, time.February, 15, 9),
		date(2025, time.February, 28, 9),
		date(2025, time.March, 1, 9),
	}
	after := anchor.Add(-time.Nanosecond)
	for _, want := range steps {
		got, ok := Next(f, anchor, after, time.UTC)
		require.True(t, ok)
		assert.Equal(t, want, got)
		after = got
	}
}

func TestNext_EndDateIsInclusiveDay(t *testing.T) {
	end := date(2025, time.January, 3, 0)
	f := models.Frequency{Type: models.FrequencyDaily, Interval: 1, EndDate: &end}
	anchor := date(2025, time.January, 1, 9)

	got, ok := Next(f, anchor, date(2025, time.January, 2, 9), time.UTC)
	require.True(t, ok)
	assert.Equal(t, date(2025, time.January, 3, 9), got)

	_, ok = Next(f, anchor, got, time.UTC)
	assert.False(t, ok)
}

func TestNext_Once(t *testing.T) {
	f := models.Frequency{Type: models.FrequencyOnce}
	anchor := date(2025, time.May, 1, 9)

	got, ok := First(f, anchor, time.UTC)
	require.True(t, ok)
	assert.Equal(t, anchor, got)

	_, ok = Next(f, anchor, anchor, time.UTC)
	assert.False(t, ok)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		f         models.Frequency
		recurring bool
		wantErr   bool
	}{
		{"once non-recurring", models.Frequency{Type: models.FrequencyOnce}, false, false},
		{"empty non-recurring", models.Frequency{}, false, false},
		{"daily non-recurring", models.Frequency{Type: models.FrequencyDaily, Interval: 1}, false, true},
		{"daily ok", models.Frequency{Type: models.FrequencyDaily, Interval: 1}, true, false},
		{"daily zero interval", models.Frequency{Type: models.FrequencyDaily}, true, true},
		{"weekly missing day", models.Frequency{Type: models.FrequencyWeekly, Interval: 1}, true, true},
		{"weekly day out of range", models.Frequency{Type: models.FrequencyWeekly, Interval: 1, DayOfWeek: intPtr(7)}, true, true},
		{"monthly ok", models.Frequency{Type: models.FrequencyMonthly, Interval: 1, DayOfMonth: intPtr(31)}, true, false},
		{"monthly day 32", models.Frequency{Type: models.FrequencyMonthly, Interval: 1, DayOfMonth: intPtr(32)}, true, true},
		{"yearly missing month", models.Frequency{Type: models.FrequencyYearly, Interval: 1, DayOfMonth: intPtr(1)}, true, true},
		{"custom empty", models.Frequency{Type: models.FrequencyCustom}, true, true},
		{"custom bad day", models.Frequency{Type: models.FrequencyCustom, CustomDays: []int{0}}, true, true},
		{"zero occurrences", models.Frequency{Type: models.FrequencyDaily, Interval: 1, Occurrences: intPtr(0)}, true, true},
		{"unknown type", models.Frequency{Type: "hourly", Interval: 1}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.f, tt.recurring)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidFrequency))
				return
			}
			assert.NoError(t, err)
		})
	}
}
