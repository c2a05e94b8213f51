package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/servicetime"
	"golang.org/x/exp/slices"
)

// fakeStore holds rows per service date and answers like the SQL would.
type fakeStore struct {
	mu      sync.Mutex
	rows    map[int][]Row
	timeout map[int]bool
	fail    map[int]bool
	queries []DayQuery
}

func (s *fakeStore) StopTimes(ctx context.Context, query DayQuery) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)

	if s.fail[query.ServiceDate] {
		return nil, errors.New("connection reset")
	}
	if s.timeout[query.ServiceDate] && !query.Simplified {
		return nil, ErrQueryTimeout
	}

	rows := []Row{}
	for _, row := range s.rows[query.ServiceDate] {
		if !slices.Contains(query.StopIDs, row.StopID) {
			continue
		}
		if row.DepartureSeconds < query.FromSeconds || row.DepartureSeconds > query.ToSeconds {
			continue
		}
		if query.Simplified {
			row.NextStopSequence, row.LastStopSequence, row.LastStopName = 0, 0, ""
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func hms(h, m int) int { return h*3600 + m*60 }

func zurich(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, servicetime.Zurich)
}

func TestWindowAcrossMidnightIncludesYesterday(t *testing.T) {
	store := &fakeStore{rows: map[int][]Row{
		20250115: {
			{TripID: "late", RouteID: "S3", StopID: "8503000:0:7", StopSequence: 4, DepartureSeconds: hms(24, 20), RouteShortName: "S3", RouteDesc: "S", LastStopSequence: 12, Headsign: "Wetzikon"},
			{TripID: "evening", RouteID: "S3", StopID: "8503000:0:7", StopSequence: 4, DepartureSeconds: hms(23, 10), RouteShortName: "S3", RouteDesc: "S", LastStopSequence: 12},
			{TripID: "old", RouteID: "S3", StopID: "8503000:0:7", StopSequence: 4, DepartureSeconds: hms(21, 0), RouteShortName: "S3", RouteDesc: "S", LastStopSequence: 12},
		},
		20250116: {
			{TripID: "early", RouteID: "S3", StopID: "8503000:0:7", StopSequence: 4, DepartureSeconds: hms(0, 45), RouteShortName: "S3", RouteDesc: "S", LastStopSequence: 12},
			{TripID: "early", RouteID: "S3", StopID: "8503000:0:7", StopSequence: 4, DepartureSeconds: hms(0, 45), RouteShortName: "S3", RouteDesc: "S", LastStopSequence: 12},
			{TripID: "morning", RouteID: "S3", StopID: "8503000:0:7", StopSequence: 4, DepartureSeconds: hms(5, 0), RouteShortName: "S3", RouteDesc: "S", LastStopSequence: 12},
		},
	}}

	now := zurich(2025, 1, 16, 0, 5)
	result := NewQuerier(store, Options{}, nil).Departures(context.Background(), Request{
		StopIDs: []string{"8503000:0:7"},
		Now:     now,
		From:    now.Add(-120 * time.Minute),
		To:      now.Add(180 * time.Minute),
	})

	assert.Equal(t, []int{20250115, 20250116}, result.ServiceDates)
	assert.Empty(t, result.Degradations)

	trips := []string{}
	for _, departure := range result.Departures {
		trips = append(trips, departure.TripID)
	}
	assert.Equal(t, []string{"evening", "late", "early"}, trips)

	late := result.Departures[1]
	assert.True(t, zurich(2025, 1, 16, 0, 20).Equal(late.ScheduledDeparture))
	assert.Equal(t, 20250115, late.ServiceDate)
	assert.Equal(t, hms(24, 20), late.DepartureSeconds)
	assert.Equal(t, "Wetzikon", late.Destination)
	assert.Equal(t, "7", late.Platform)
	assert.Equal(t, "S", late.Category)
}

func TestWindowBeforeMidnightIncludesTomorrow(t *testing.T) {
	store := &fakeStore{rows: map[int][]Row{
		20250116: {{TripID: "night", StopID: "S", StopSequence: 1, DepartureSeconds: hms(0, 30), LastStopSequence: 5}},
	}}

	now := zurich(2025, 1, 15, 23, 30)
	result := NewQuerier(store, Options{}, nil).Departures(context.Background(), Request{
		StopIDs: []string{"S"},
		Now:     now,
		From:    now.Add(-10 * time.Minute),
		To:      now.Add(90 * time.Minute),
	})

	assert.Equal(t, []int{20250115, 20250116}, result.ServiceDates)
	require.Len(t, result.Departures, 1)
	assert.True(t, zurich(2025, 1, 16, 0, 30).Equal(result.Departures[0].ScheduledDeparture))

	for _, query := range store.queries {
		if query.ServiceDate == 20250116 {
			assert.Equal(t, 0, query.FromSeconds)
			assert.Equal(t, hms(1, 0), query.ToSeconds)
		}
	}
}

func TestTerminalStopIsDropped(t *testing.T) {
	store := &fakeStore{rows: map[int][]Row{
		20250115: {
			{TripID: "ends-here", StopID: "S", StopSequence: 9, DepartureSeconds: hms(12, 0), LastStopSequence: 9},
			{TripID: "continues", StopID: "S", StopSequence: 3, DepartureSeconds: hms(12, 5), LastStopSequence: 9, NextStopSequence: 4},
		},
	}}

	now := zurich(2025, 1, 15, 11, 55)
	result := NewQuerier(store, Options{}, nil).Departures(context.Background(), Request{
		StopIDs: []string{"S"}, Now: now, From: now, To: now.Add(time.Hour),
	})

	require.Len(t, result.Departures, 1)
	assert.Equal(t, "continues", result.Departures[0].TripID)
	assert.Equal(t, 4, result.Departures[0].NextStopSequence)
}

func TestTimeoutFallsBackToSimplifiedQuery(t *testing.T) {
	store := &fakeStore{
		rows: map[int][]Row{
			20250115: {{TripID: "T", StopID: "S", StopSequence: 3, DepartureSeconds: hms(12, 5), LastStopSequence: 9, RouteShortName: "IC5"}},
		},
		timeout: map[int]bool{20250115: true},
	}

	now := zurich(2025, 1, 15, 11, 55)
	result := NewQuerier(store, Options{}, nil).Departures(context.Background(), Request{
		StopIDs: []string{"S"}, Now: now, From: now, To: now.Add(time.Hour),
	})

	require.Len(t, result.Departures, 1)
	assert.Equal(t, "IC5", result.Departures[0].Line)
	assert.Equal(t, []string{"schedule:20250115:simplified"}, result.Degradations)
	require.Len(t, store.queries, 2)
	assert.True(t, store.queries[1].Simplified)
}

func TestFailingDayDegradesToEmpty(t *testing.T) {
	store := &fakeStore{
		rows: map[int][]Row{
			20250116: {{TripID: "T", StopID: "S", StopSequence: 3, DepartureSeconds: hms(0, 30)}},
		},
		fail: map[int]bool{20250115: true},
	}

	now := zurich(2025, 1, 16, 0, 10)
	result := NewQuerier(store, Options{}, nil).Departures(context.Background(), Request{
		StopIDs: []string{"S"}, Now: now, From: now, To: now.Add(time.Hour),
	})

	require.Len(t, result.Departures, 1)
	assert.Equal(t, []string{"schedule:20250115:failed"}, result.Degradations)
}

func TestRetriesWithParentStop(t *testing.T) {
	store := &fakeStore{rows: map[int][]Row{
		20250115: {{TripID: "T", StopID: "Parent8503000", StopSequence: 3, DepartureSeconds: hms(12, 5)}},
	}}

	now := zurich(2025, 1, 15, 11, 55)
	result := NewQuerier(store, Options{}, nil).Departures(context.Background(), Request{
		StopIDs:  []string{"8503000:0:7", "8503000:0:8"},
		ParentID: "Parent8503000",
		Now:      now, From: now, To: now.Add(time.Hour),
	})

	assert.True(t, result.UsedParent)
	require.Len(t, result.Departures, 1)
	assert.Equal(t, "Parent8503000", result.Departures[0].StopID)
}

func TestRowLabels(t *testing.T) {
	row := Row{TripID: "T", StopID: "8503000:0:7", RouteType: 900, TripShortName: "123", LastStopName: "Bahnhof Tiefenbrunnen"}
	departure := row.Departure(20250115)

	assert.Equal(t, "T", departure.Category)
	assert.Equal(t, "T 123", departure.Line)
	assert.Equal(t, "Bahnhof Tiefenbrunnen", departure.Destination)
	assert.Equal(t, "7", departure.Platform)
}

func TestScheduledInstantAcrossDST(t *testing.T) {
	// 2025-03-30: 02:00 local jumps to 03:00.
	row := Row{TripID: "T", StopID: "S", DepartureSeconds: hms(3, 30)}
	departure := row.Departure(20250330)
	assert.True(t, zurich(2025, 3, 30, 3, 30).Equal(departure.ScheduledDeparture))

	row.DepartureSeconds = hms(25, 0)
	departure = row.Departure(20250329)
	assert.True(t, zurich(2025, 3, 30, 1, 0).Equal(departure.ScheduledDeparture))
}
