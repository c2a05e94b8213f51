// Package servicetime does GTFS service-day arithmetic in the Europe/Zurich
// zone, independent of the host timezone.
package servicetime

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "time/tzdata"
)

const ZoneName = "Europe/Zurich"

const secondsPerDay = 24 * 60 * 60

var Zurich = mustLoadZone()

var ErrInvalidGTFSTime = errors.New("invalid GTFS time")

func mustLoadZone() *time.Location {
	location, err := time.LoadLocation(ZoneName)
	if err != nil {
		panic(fmt.Sprintf("load %s: %s", ZoneName, err))
	}
	return location
}

type Parts struct {
	Year    int
	Month   time.Month
	Day     int
	Hour    int
	Minute  int
	Second  int
	Weekday time.Weekday
}

func LocalParts(t time.Time) Parts {
	local := t.In(Zurich)

	return Parts{
		Year:    local.Year(),
		Month:   local.Month(),
		Day:     local.Day(),
		Hour:    local.Hour(),
		Minute:  local.Minute(),
		Second:  local.Second(),
		Weekday: local.Weekday(),
	}
}

func SecondsSinceMidnight(t time.Time) int {
	parts := LocalParts(t)
	return parts.Hour*3600 + parts.Minute*60 + parts.Second
}

// ServiceDate returns the local calendar date of t as YYYYMMDD.
func ServiceDate(t time.Time) int {
	parts := LocalParts(t)
	return parts.Year*10000 + int(parts.Month)*100 + parts.Day
}

func ParseServiceDate(s string) (int, error) {
	if len(s) != 8 {
		return 0, fmt.Errorf("service date %q: expected YYYYMMDD", s)
	}
	date, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("service date %q: %w", s, err)
	}
	return date, nil
}

func FormatServiceDate(date int) string {
	return fmt.Sprintf("%08d", date)
}

func splitDate(date int) (int, time.Month, int) {
	return date / 10000, time.Month(date / 100 % 100), date % 100
}

func AddDays(date int, days int) int {
	year, month, day := splitDate(date)
	shifted := time.Date(year, month, day+days, 12, 0, 0, 0, time.UTC)
	return shifted.Year()*10000 + int(shifted.Month())*100 + shifted.Day()
}

func WeekdayOf(date int) time.Weekday {
	year, month, day := splitDate(date)
	return time.Date(year, month, day, 12, 0, 0, 0, time.UTC).Weekday()
}

// InstantFor converts a service date and a GTFS seconds-of-day value (which
// may exceed a day) to an absolute instant. The zone offset is taken at the
// resulting wall-clock time, re-evaluated until it settles so that service
// days crossing a DST switch land on the right instant.
func InstantFor(serviceDate int, secondsOfDay int) time.Time {
	year, month, day := splitDate(serviceDate)
	naive := time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Add(time.Duration(secondsOfDay) * time.Second)

	instant := naive
	for i := 0; i < 3; i++ {
		_, offset := instant.In(Zurich).Zone()
		corrected := naive.Add(-time.Duration(offset) * time.Second)
		if corrected.Equal(instant) {
			break
		}
		instant = corrected
	}

	return instant.In(Zurich)
}

// ParseGTFSTime parses HH:MM:SS (or HH:MM) where HH may be 24 or more.
func ParseGTFSTime(s string) (int, error) {
	fields := strings.Split(strings.TrimSpace(s), ":")
	if len(fields) < 2 || len(fields) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidGTFSTime, s)
	}

	var values [3]int
	for i, field := range fields {
		value, err := strconv.Atoi(field)
		if err != nil || value < 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidGTFSTime, s)
		}
		values[i] = value
	}
	if values[1] > 59 || values[2] > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidGTFSTime, s)
	}

	return values[0]*3600 + values[1]*60 + values[2], nil
}

func FormatGTFSTime(seconds int) string {
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, seconds/60%60, seconds%60)
}

// NearestLocalClock returns the instant showing hour:minute on the Zurich wall
// clock that lies closest to now, looking at yesterday, today and tomorrow.
func NearestLocalClock(now time.Time, hour, minute int) time.Time {
	today := ServiceDate(now)
	seconds := hour*3600 + minute*60

	best := InstantFor(today, seconds)
	for _, offset := range []int{-1, 1} {
		candidate := InstantFor(AddDays(today, offset), seconds)
		if absDuration(candidate.Sub(now)) < absDuration(best.Sub(now)) {
			best = candidate
		}
	}

	return best
}

// ServiceDaySeconds expresses t as seconds into the given service date, which
// may be the local date of t, an earlier or a later one.
func ServiceDaySeconds(serviceDate int, t time.Time) int {
	local := ServiceDate(t)
	days := 0
	for d := serviceDate; d < local && days < 7; d = AddDays(d, 1) {
		days++
	}
	for d := local; d < serviceDate && days > -7; d = AddDays(d, 1) {
		days--
	}
	return days*secondsPerDay + SecondsSinceMidnight(t)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
