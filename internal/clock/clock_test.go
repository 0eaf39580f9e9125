package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUntilAtExactBoundaryIsFullWeek(t *testing.T) {
	t.Parallel()
	w := MondayMidnight(time.UTC)
	monday := time.Date(2026, time.October, 19, 0, 0, 0, 0, time.UTC)
	require.Equal(t, time.Monday, monday.Weekday())

	assert.Equal(t, 7*24*time.Hour, w.Until(monday))
	assert.Equal(t, monday.AddDate(0, 0, 7), w.Next(monday))
}

func TestNextIsStrictlyAfterNow(t *testing.T) {
	t.Parallel()
	w := MondayMidnight(time.UTC)
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "sunday night",
			now:  time.Date(2026, time.October, 18, 23, 59, 59, 0, time.UTC),
			want: time.Date(2026, time.October, 19, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "just past boundary",
			now:  time.Date(2026, time.October, 19, 0, 0, 0, 1, time.UTC),
			want: time.Date(2026, time.October, 26, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "mid week",
			now:  time.Date(2026, time.October, 22, 13, 30, 0, 0, time.UTC),
			want: time.Date(2026, time.October, 26, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "saturday",
			now:  time.Date(2026, time.October, 24, 15, 0, 0, 0, time.UTC),
			want: time.Date(2026, time.October, 26, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := w.Next(tt.now)
			assert.True(t, got.Equal(tt.want), "Next(%s) = %s, want %s", tt.now, got, tt.want)
			assert.True(t, got.After(tt.now))
			assert.Positive(t, w.Until(tt.now))
		})
	}
}

func TestNextHonoursLocation(t *testing.T) {
	t.Parallel()
	seoul := time.FixedZone("KST", 9*60*60)
	w := MondayMidnight(seoul)

	// Sunday 15:00 UTC is Monday 00:00 in Seoul.
	now := time.Date(2026, time.October, 18, 14, 0, 0, 0, time.UTC)
	next := w.Next(now)
	assert.True(t, next.Equal(time.Date(2026, time.October, 18, 15, 0, 0, 0, time.UTC)))
	assert.Equal(t, time.Hour, w.Until(now))
}

func TestCustomBoundary(t *testing.T) {
	t.Parallel()
	w, err := NewWeekly(time.Friday, "18:30", time.UTC)
	require.NoError(t, err)
	now := time.Date(2026, time.October, 23, 18, 30, 0, 0, time.UTC)
	assert.Equal(t, "friday 18:30 UTC", w.String())
	assert.True(t, w.Next(now).Equal(now.AddDate(0, 0, 7)))

	calendar := w.calendarNext(time.Date(2026, time.October, 20, 9, 0, 0, 0, time.UTC))
	assert.True(t, calendar.Equal(time.Date(2026, time.October, 23, 18, 30, 0, 0, time.UTC)))
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	h, m, err := ParseHHMM("23:15")
	require.NoError(t, err)
	assert.Equal(t, 23, h)
	assert.Equal(t, 15, m)

	for _, bad := range []string{"24:00", "12:60", "1200", ""} {
		_, _, err := ParseHHMM(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseWeekday(t *testing.T) {
	t.Parallel()
	d, err := ParseWeekday(" SAT ")
	require.NoError(t, err)
	assert.Equal(t, time.Saturday, d)

	_, err = ParseWeekday("someday")
	assert.Error(t, err)
}
