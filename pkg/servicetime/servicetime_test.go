package servicetime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalPartsIgnoresHostZone(t *testing.T) {
	instant := time.Date(2025, 1, 15, 23, 30, 0, 0, time.UTC)

	parts := LocalParts(instant.In(time.FixedZone("elsewhere", -8*3600)))

	assert.Equal(t, 2025, parts.Year)
	assert.Equal(t, time.January, parts.Month)
	assert.Equal(t, 16, parts.Day)
	assert.Equal(t, 0, parts.Hour)
	assert.Equal(t, 30, parts.Minute)
	assert.Equal(t, time.Thursday, parts.Weekday)
	assert.Equal(t, 20250116, ServiceDate(instant))
	assert.Equal(t, 1800, SecondsSinceMidnight(instant))
}

func TestInstantFor(t *testing.T) {
	tests := []struct {
		name    string
		date    int
		seconds int
		want    time.Time
	}{
		{"winter", 20250115, 8 * 3600, time.Date(2025, 1, 15, 7, 0, 0, 0, time.UTC)},
		{"summer", 20250715, 8 * 3600, time.Date(2025, 7, 15, 6, 0, 0, 0, time.UTC)},
		{"after midnight", 20250115, 25*3600 + 30*60, time.Date(2025, 1, 16, 0, 30, 0, 0, time.UTC)},
		{"spring forward", 20250330, 3 * 3600, time.Date(2025, 3, 30, 1, 0, 0, 0, time.UTC)},
		{"fall back next day", 20251026, 25 * 3600, time.Date(2025, 10, 27, 0, 0, 0, 0, time.UTC)},
		{"service day spanning switch", 20250329, 27 * 3600, time.Date(2025, 3, 30, 1, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := InstantFor(tt.date, tt.seconds)
			assert.True(t, tt.want.Equal(got), "want %s got %s", tt.want, got.UTC())
		})
	}
}

func TestAddDaysAndWeekday(t *testing.T) {
	assert.Equal(t, 20250301, AddDays(20250228, 1))
	assert.Equal(t, 20241231, AddDays(20250101, -1))
	assert.Equal(t, time.Wednesday, WeekdayOf(20250115))
	assert.Equal(t, "20250105", FormatServiceDate(20250105))
}

func TestParseGTFSTime(t *testing.T) {
	seconds, err := ParseGTFSTime("25:10:05")
	require.NoError(t, err)
	assert.Equal(t, 25*3600+10*60+5, seconds)

	seconds, err = ParseGTFSTime("7:05")
	require.NoError(t, err)
	assert.Equal(t, 7*3600+5*60, seconds)

	_, err = ParseGTFSTime("12:75:00")
	assert.ErrorIs(t, err, ErrInvalidGTFSTime)

	assert.Equal(t, "25:10:05", FormatGTFSTime(25*3600+10*60+5))
}

func TestNearestLocalClock(t *testing.T) {
	now := time.Date(2025, 1, 15, 23, 50, 0, 0, Zurich)

	got := NearestLocalClock(now, 0, 15)
	assert.True(t, time.Date(2025, 1, 16, 0, 15, 0, 0, Zurich).Equal(got))

	got = NearestLocalClock(now, 20, 15)
	assert.True(t, time.Date(2025, 1, 15, 20, 15, 0, 0, Zurich).Equal(got))
}

func TestServiceDaySeconds(t *testing.T) {
	instant := time.Date(2025, 1, 16, 0, 30, 0, 0, Zurich)

	assert.Equal(t, 1800, ServiceDaySeconds(20250116, instant))
	assert.Equal(t, 86400+1800, ServiceDaySeconds(20250115, instant))
	assert.Equal(t, 1800-86400, ServiceDaySeconds(20250117, instant))
}
