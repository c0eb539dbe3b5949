package campaign_test

import (
	"testing"
	"time"

	"github.com/ErlanBelekov/cart-recovery/internal/campaign"
	"github.com/ErlanBelekov/cart-recovery/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestFirstRun_UsesScheduleTimezone(t *testing.T) {
	s := domain.Schedule{
		StartDate: date(2026, 5, 1),
		TimeOfDay: "09:30",
		Frequency: domain.FrequencyOnce,
		Timezone:  "America/New_York",
	}
	got, err := campaign.FirstRun(s)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 5, 1, 13, 30, 0, 0, time.UTC), got.UTC())
}

func TestFirstRun_RejectsBadTimeOfDay(t *testing.T) {
	_, err := campaign.FirstRun(domain.Schedule{StartDate: date(2026, 5, 1), TimeOfDay: "25:00"})
	assert.ErrorIs(t, err, domain.ErrInvalidSchedule)
}

func TestNextOccurrence(t *testing.T) {
	end := date(2026, 5, 3)
	tests := []struct {
		name   string
		sched  domain.Schedule
		prev   time.Time
		want   time.Time
		wantOK bool
	}{
		{
			name:  "once never repeats",
			sched: domain.Schedule{StartDate: date(2026, 5, 1), TimeOfDay: "09:00", Frequency: domain.FrequencyOnce},
			prev:  time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
		},
		{
			name:   "daily adds a day",
			sched:  domain.Schedule{StartDate: date(2026, 5, 1), TimeOfDay: "09:00", Frequency: domain.FrequencyDaily},
			prev:   time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
			want:   time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC),
			wantOK: true,
		},
		{
			name:   "daily snaps a late fire back to the time of day",
			sched:  domain.Schedule{StartDate: date(2026, 5, 1), TimeOfDay: "09:00", Frequency: domain.FrequencyDaily},
			prev:   time.Date(2026, 5, 1, 9, 7, 12, 0, time.UTC),
			want:   time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC),
			wantOK: true,
		},
		{
			name:   "weekly adds seven days",
			sched:  domain.Schedule{StartDate: date(2026, 5, 1), TimeOfDay: "18:00", Frequency: domain.FrequencyWeekly},
			prev:   time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC),
			want:   time.Date(2026, 5, 8, 18, 0, 0, 0, time.UTC),
			wantOK: true,
		},
		{
			name:   "monthly clamps to the last day",
			sched:  domain.Schedule{StartDate: date(2026, 1, 31), TimeOfDay: "09:00", Frequency: domain.FrequencyMonthly},
			prev:   time.Date(2026, 1, 31, 9, 0, 0, 0, time.UTC),
			want:   time.Date(2026, 2, 28, 9, 0, 0, 0, time.UTC),
			wantOK: true,
		},
		{
			name:   "monthly returns to the anchor day",
			sched:  domain.Schedule{StartDate: date(2026, 1, 31), TimeOfDay: "09:00", Frequency: domain.FrequencyMonthly},
			prev:   time.Date(2026, 2, 28, 9, 0, 0, 0, time.UTC),
			want:   time.Date(2026, 3, 31, 9, 0, 0, 0, time.UTC),
			wantOK: true,
		},
		{
			name:   "end date is inclusive",
			sched:  domain.Schedule{StartDate: date(2026, 5, 1), TimeOfDay: "09:00", Frequency: domain.FrequencyDaily, EndDate: &end},
			prev:   time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC),
			want:   time.Date(2026, 5, 3, 9, 0, 0, 0, time.UTC),
			wantOK: true,
		},
		{
			name:  "nothing after the end date",
			sched: domain.Schedule{StartDate: date(2026, 5, 1), TimeOfDay: "09:00", Frequency: domain.FrequencyDaily, EndDate: &end},
			prev:  time.Date(2026, 5, 3, 9, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := campaign.NextOccurrence(tt.sched, tt.prev)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got.UTC())
			}
		})
	}
}

func TestNextOccurrence_KeepsLocalTimeAcrossDST(t *testing.T) {
	s := domain.Schedule{
		StartDate: date(2026, 3, 7),
		TimeOfDay: "09:00",
		Frequency: domain.FrequencyDaily,
		Timezone:  "America/New_York",
	}
	first, err := campaign.FirstRun(s)
	require.NoError(t, err)

	next, ok, err := campaign.NextOccurrence(s, first)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 9, next.Hour())
	assert.Equal(t, 23*time.Hour, next.Sub(first))
}

func TestNextAfter_SkipsMissedFires(t *testing.T) {
	s := domain.Schedule{StartDate: date(2026, 5, 1), TimeOfDay: "09:00", Frequency: domain.FrequencyDaily}
	prev := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

	got, ok, err := campaign.NextAfter(s, prev, now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 5, 5, 9, 0, 0, 0, time.UTC), got)
}

func TestNextOccurrence_CalendarDatesWestOfUTC(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	end := date(2026, 5, 3)

	daily := domain.Schedule{
		StartDate: date(2026, 5, 1),
		TimeOfDay: "09:00",
		Frequency: domain.FrequencyDaily,
		Timezone:  "America/New_York",
		EndDate:   &end,
	}
	got, ok, err := campaign.NextOccurrence(daily, time.Date(2026, 5, 2, 9, 0, 0, 0, ny))
	require.NoError(t, err)
	require.True(t, ok, "May 3 is inside the inclusive end date")
	assert.Equal(t, time.Date(2026, 5, 3, 9, 0, 0, 0, ny), got)

	_, ok, err = campaign.NextOccurrence(daily, got)
	require.NoError(t, err)
	assert.False(t, ok)

	monthly := domain.Schedule{
		StartDate: date(2026, 1, 15),
		TimeOfDay: "09:00",
		Frequency: domain.FrequencyMonthly,
		Timezone:  "America/Los_Angeles",
	}
	first, err := campaign.FirstRun(monthly)
	require.NoError(t, err)
	assert.Equal(t, 15, first.Day())
	next, ok, err := campaign.NextOccurrence(monthly, first)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.February, next.Month())
	assert.Equal(t, 15, next.Day())
}
