package stationboard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/ctdf"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/delayindex"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/feedcache"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/gtfsrt"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/schedule"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/servicetime"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/stopidentity"
)

type fakeResolver struct {
	identity *ctdf.StationIdentity
}

func (r *fakeResolver) Resolve(ctx context.Context, candidates ...string) (*ctdf.StationIdentity, error) {
	if r.identity == nil {
		return nil, &stopidentity.UnknownStopError{Tried: candidates}
	}
	return r.identity, nil
}

type fakeSchedule struct {
	rows     []*ctdf.ScheduledDeparture
	requests []schedule.Request
}

func (s *fakeSchedule) Departures(ctx context.Context, request schedule.Request) *schedule.Result {
	s.requests = append(s.requests, request)

	result := &schedule.Result{Departures: []*ctdf.ScheduledDeparture{}, Degradations: []string{}}
	for _, row := range s.rows {
		if row.ScheduledDeparture.Before(request.From) || row.ScheduledDeparture.After(request.To) {
			continue
		}
		copied := *row
		result.Departures = append(result.Departures, &copied)
	}
	return result
}

type fakeDelays struct {
	index *delayindex.Index
	err   error
}

func (d *fakeDelays) Index(ctx context.Context) (*delayindex.Index, ctdf.FeedDiagnostics, error) {
	if d.err != nil {
		return delayindex.Empty(), ctdf.FeedDiagnostics{Status: string(feedcache.StatusUnavailable), Error: d.err.Error()}, d.err
	}
	return d.index, ctdf.FeedDiagnostics{Status: string(feedcache.StatusHit), Version: 1}, nil
}

type fakeAlerts struct {
	alerts []*ctdf.ServiceAlert
}

func (a *fakeAlerts) Alerts(ctx context.Context) ([]*ctdf.ServiceAlert, ctdf.FeedDiagnostics, error) {
	return a.alerts, ctdf.FeedDiagnostics{Status: string(feedcache.StatusHit), Version: 1}, nil
}

type fakeFallback struct {
	departures []*ctdf.MergedDeparture
	calls      []string
}

func (f *fakeFallback) ReplacementDepartures(ctx context.Context, station string, limit int) ([]*ctdf.MergedDeparture, error) {
	f.calls = append(f.calls, station)
	return f.departures, nil
}

type fakeStops map[string]string

func (s fakeStops) StopsByIDs(ctx context.Context, ids []string) ([]*ctdf.Stop, error) {
	stops := []*ctdf.Stop{}
	for _, id := range ids {
		if name, ok := s[id]; ok {
			stops = append(stops, &ctdf.Stop{ID: id, Name: name})
		}
	}
	return stops, nil
}

func zurichIdentity() *ctdf.StationIdentity {
	return &ctdf.StationIdentity{
		Canonical: &ctdf.Stop{ID: "Parent8503000", Name: "Zürich HB", LocationType: 1},
		Children: []*ctdf.Stop{
			{ID: "8503000:0:7", Name: "Zürich HB", ParentStation: "Parent8503000", PlatformCode: "7"},
			{ID: "8503000:0:8", Name: "Zürich HB", ParentStation: "Parent8503000", PlatformCode: "8"},
		},
		Source: ctdf.ResolutionSourceDirect,
	}
}

func boardNow() time.Time {
	return servicetime.InstantFor(serviceDate, 19*3600+50*60)
}

func minutesFromNow(minutes int) int {
	return 19*3600 + 50*60 + minutes*60
}

func newTestAssembler(deps Dependencies) *Assembler {
	if deps.Resolver == nil {
		deps.Resolver = &fakeResolver{identity: zurichIdentity()}
	}
	assembler := NewAssembler(deps, DefaultOptions())
	assembler.now = boardNow
	return assembler
}

func TestBuildAppliesRealtimeAndSorts(t *testing.T) {
	early := scheduledRow("T1", stationStop, 5, minutesFromNow(10))
	late := scheduledRow("T2", "8503000:0:8", 3, minutesFromNow(5))
	rows := []*ctdf.ScheduledDeparture{early, late}
	for i := 0; i < 5; i++ {
		rows = append(rows, scheduledRow("F"+string(rune('A'+i)), stationStop, 1, minutesFromNow(30+i)))
	}

	index := buildIndex(tripUpdate("T2", gtfsrt.TripScheduled,
		scheduledUpdate("8503000:0:8", 3, late.ScheduledDeparture.Add(8*time.Minute), 480),
	))
	store := &fakeSchedule{rows: rows}

	board, err := newTestAssembler(Dependencies{Schedule: store, Delays: &fakeDelays{index: index}}).
		Build(context.Background(), Request{Station: "8503000"})

	require.NoError(t, err)
	assert.Equal(t, "Parent8503000", board.Station.ID)
	assert.Equal(t, "Zürich HB", board.Station.Name)
	assert.Nil(t, board.Debug)
	require.Len(t, board.Departures, 7)
	assert.Equal(t, "T1", board.Departures[0].TripID)
	assert.Equal(t, "T2", board.Departures[1].TripID)
	assert.Equal(t, 8, *board.Departures[1].DelayMin)

	require.Len(t, store.requests, 1)
	assert.Equal(t, []string{"8503000:0:7", "8503000:0:8"}, store.requests[0].StopIDs)
	assert.Equal(t, "Parent8503000", store.requests[0].ParentID)
	assert.True(t, boardNow().Add(-2*time.Hour).Equal(store.requests[0].From))
}

func TestBuildUnknownStationFails(t *testing.T) {
	assembler := newTestAssembler(Dependencies{Resolver: &fakeResolver{}, Schedule: &fakeSchedule{}})

	board, err := assembler.Build(context.Background(), Request{Station: "Nowhere"})

	assert.Nil(t, board)
	var unknown *stopidentity.UnknownStopError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, []string{"Nowhere"}, unknown.Tried)
}

func TestBuildDegradesWithoutRealtime(t *testing.T) {
	rows := []*ctdf.ScheduledDeparture{scheduledRow("T1", stationStop, 5, minutesFromNow(10))}

	board, err := newTestAssembler(Dependencies{
		Schedule: &fakeSchedule{rows: rows},
		Delays:   &fakeDelays{err: feedcache.ErrUpstreamUnavailable},
	}).Build(context.Background(), Request{Station: "8503000", Debug: true})

	require.NoError(t, err)
	require.Len(t, board.Departures, 1)
	assert.Equal(t, ctdf.DepartureSourceScheduled, board.Departures[0].Source)
	assert.Nil(t, board.Departures[0].DelayMin)

	require.NotNil(t, board.Debug)
	assert.Contains(t, board.Debug.Degradations, "tripupdates:UNAVAILABLE")
	assert.NotEmpty(t, board.Debug.RequestID)
	assert.Equal(t, 1, board.Debug.Stages["scheduled"])
}

func TestBuildExpandsSparseWindow(t *testing.T) {
	rows := []*ctdf.ScheduledDeparture{
		scheduledRow("T1", stationStop, 5, minutesFromNow(20)),
		scheduledRow("T2", stationStop, 5, minutesFromNow(150)),
	}
	store := &fakeSchedule{rows: rows}

	board, err := newTestAssembler(Dependencies{Schedule: store}).
		Build(context.Background(), Request{Station: "8503000", Debug: true})

	require.NoError(t, err)
	require.Len(t, board.Departures, 2)
	assert.True(t, board.Debug.WindowExpanded)
	assert.False(t, board.Departures[0].HasFlag(ctdf.FlagWindowExpanded))
	assert.True(t, board.Departures[1].HasFlag(ctdf.FlagWindowExpanded))
	assert.Len(t, store.requests, 2)
}

func TestBuildDropsDepartedRows(t *testing.T) {
	rows := []*ctdf.ScheduledDeparture{
		scheduledRow("gone", stationStop, 5, minutesFromNow(-10)),
		scheduledRow("grace", stationStop, 5, minutesFromNow(-1)),
		scheduledRow("late", stationStop, 5, minutesFromNow(-20)),
	}
	index := buildIndex(tripUpdate("late", gtfsrt.TripScheduled,
		scheduledUpdate(stationStop, 5, rows[2].ScheduledDeparture.Add(25*time.Minute), 1500),
	))

	board, err := newTestAssembler(Dependencies{Schedule: &fakeSchedule{rows: rows}, Delays: &fakeDelays{index: index}}).
		Build(context.Background(), Request{Station: "8503000"})

	require.NoError(t, err)
	require.Len(t, board.Departures, 2)
	assert.Equal(t, "grace", board.Departures[0].TripID)
	assert.Equal(t, "late", board.Departures[1].TripID)
}

func TestBuildSynthesizesReplacementFromAlert(t *testing.T) {
	replacement := &ctdf.ServiceAlert{
		ID:               "alert-1",
		Severity:         "WARNING",
		Effect:           ctdf.AlertEffectModifiedService,
		Header:           map[string]string{"en": "Replacement bus at 20:15"},
		InformedEntities: []ctdf.InformedEntity{{StopID: "8503000"}},
	}
	fallback := &fakeFallback{}

	board, err := newTestAssembler(Dependencies{
		Schedule: &fakeSchedule{rows: []*ctdf.ScheduledDeparture{scheduledRow("T1", stationStop, 5, minutesFromNow(10))}},
		Alerts:   &fakeAlerts{alerts: []*ctdf.ServiceAlert{replacement}},
		Fallback: fallback,
	}).Build(context.Background(), Request{Station: "8503000", Lang: "en"})

	require.NoError(t, err)
	require.Len(t, board.Departures, 2)

	synthetic := board.Departures[1]
	assert.Equal(t, ctdf.DepartureSourceSyntheticAlert, synthetic.Source)
	assert.True(t, synthetic.HasTag(ctdf.TagReplacement))
	assert.True(t, servicetime.InstantFor(serviceDate, 20*3600+15*60).Equal(synthetic.ScheduledDeparture))
	require.Len(t, synthetic.Alerts, 1)

	require.Len(t, board.Banners, 1)
	assert.Equal(t, "Replacement bus at 20:15", board.Banners[0].Header)
	assert.Empty(t, fallback.calls)
}

func TestBuildQueriesFallbackBoardForAnnouncedReplacement(t *testing.T) {
	replacement := &ctdf.ServiceAlert{
		ID:               "alert-2",
		Effect:           ctdf.AlertEffectUnknownEffect,
		Header:           map[string]string{"de": "Ersatzbusse zwischen Zürich HB und Oerlikon"},
		InformedEntities: []ctdf.InformedEntity{{StopID: "Parent8503000"}},
	}
	bus := ctdf.NewMergedDeparture(&ctdf.ScheduledDeparture{
		TripID:             "fallback:EV12:1",
		StopID:             "8503000",
		Line:               "EV 12",
		Category:           "EV",
		ScheduledDeparture: boardNow().Add(12 * time.Minute),
	})
	bus.Source = ctdf.DepartureSourceFallbackBoard
	tooLate := ctdf.NewMergedDeparture(&ctdf.ScheduledDeparture{
		TripID:             "fallback:EV12:2",
		StopID:             "8503000",
		Line:               "EV 12",
		Category:           "EV",
		ScheduledDeparture: boardNow().Add(10 * time.Hour),
	})
	fallback := &fakeFallback{departures: []*ctdf.MergedDeparture{bus, tooLate}}

	rows := []*ctdf.ScheduledDeparture{}
	for i := 0; i < 5; i++ {
		rows = append(rows, scheduledRow("T"+string(rune('A'+i)), stationStop, 1, minutesFromNow(5*i+1)))
	}

	board, err := newTestAssembler(Dependencies{
		Schedule: &fakeSchedule{rows: rows},
		Alerts:   &fakeAlerts{alerts: []*ctdf.ServiceAlert{replacement}},
		Fallback: fallback,
	}).Build(context.Background(), Request{Station: "8503000"})

	require.NoError(t, err)
	assert.Equal(t, []string{"8503000"}, fallback.calls)
	require.Len(t, board.Departures, 6)
	assert.Equal(t, "fallback:EV12:1", board.Departures[3].TripID)
	require.Len(t, board.Banners, 1)
}

func TestBuildIncludesAddedTrips(t *testing.T) {
	addedTrip := &gtfsrt.TripUpdate{
		TripID:       "added-1",
		RouteID:      "91-IR-Y-j25-1",
		StartDate:    startDate,
		Relationship: gtfsrt.TripAdded,
		ObservedAt:   observed,
		StopTimeUpdates: []*gtfsrt.StopTimeUpdate{
			scheduledUpdate(stationStop, 1, boardNow().Add(15*time.Minute), 0),
			scheduledUpdate("8500010:0:4", 2, boardNow().Add(70*time.Minute), 0),
		},
	}

	board, err := newTestAssembler(Dependencies{
		Schedule: &fakeSchedule{},
		Delays:   &fakeDelays{index: buildIndex(addedTrip)},
		Stops:    fakeStops{"8500010": "Basel SBB"},
	}).Build(context.Background(), Request{Station: "8503000"})

	require.NoError(t, err)
	require.Len(t, board.Departures, 1)
	added := board.Departures[0]
	assert.Equal(t, ctdf.DepartureSourceRealtimeAdded, added.Source)
	assert.Equal(t, "IR", added.Category)
	assert.Equal(t, "Basel SBB", added.Destination)
}

func TestBuildAppliesLimit(t *testing.T) {
	rows := []*ctdf.ScheduledDeparture{}
	for i := 0; i < 12; i++ {
		rows = append(rows, scheduledRow("T"+string(rune('A'+i)), stationStop, 1, minutesFromNow(i+1)))
	}

	board, err := newTestAssembler(Dependencies{Schedule: &fakeSchedule{rows: rows}}).
		Build(context.Background(), Request{Station: "8503000", Limit: 4})

	require.NoError(t, err)
	require.Len(t, board.Departures, 4)
	assert.Equal(t, "TA", board.Departures[0].TripID)
	assert.Equal(t, "TD", board.Departures[3].TripID)
}
