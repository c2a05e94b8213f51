package stationboard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/ctdf"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/delayindex"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/gtfsrt"
)

func TestRailLabel(t *testing.T) {
	tests := []struct {
		candidates []string
		category   string
		number     string
		ok         bool
	}{
		{[]string{"IR 13"}, "IR", "13", true},
		{[]string{"S12"}, "S", "12", true},
		{[]string{"ICE 75"}, "ICE", "75", true},
		{[]string{"91-EV-Y-j25-1"}, "EV", "", true},
		{[]string{"", "ch:1:RE-4521"}, "RE", "4521", true},
		{[]string{"extra-1", "Sonderfahrt"}, "", "", false},
	}

	for _, test := range tests {
		category, number, ok := RailLabel(test.candidates...)
		assert.Equal(t, test.ok, ok, "%v", test.candidates)
		assert.Equal(t, test.category, category, "%v", test.candidates)
		assert.Equal(t, test.number, number, "%v", test.candidates)
	}
}

func TestExtractAdded(t *testing.T) {
	now := time.Date(2025, 1, 15, 19, 50, 0, 0, time.UTC)
	scope := ctdf.StopTokens{}
	scope.Add("Parent8503000")
	scope.Add(stationStop)

	added := []*delayindex.AddedStop{
		{
			TripID: "extra-1", StartDate: startDate, StopID: stationStop, StopSequence: 1,
			Relationship: gtfsrt.StopScheduled, Departure: now.Add(10 * time.Minute), DelaySeconds: intPtr(120),
			LastStopID: "8500010:0:4",
		},
		{
			TripID: "ev-1", RouteID: "91-EV-Y-j25-1", StartDate: startDate, StopID: "8503000", StopSequence: 1,
			Relationship: gtfsrt.StopScheduled, Departure: now.Add(20 * time.Minute),
		},
		{TripID: "elsewhere", StopID: "8507000:0:2", Departure: now.Add(5 * time.Minute)},
		{TripID: "skipped", StopID: stationStop, Relationship: gtfsrt.StopSkipped, Departure: now.Add(5 * time.Minute)},
		{TripID: "later", StopID: stationStop, Departure: now.Add(3 * time.Hour)},
		{TripID: "gone", StopID: stationStop, Departure: now.Add(-10 * time.Minute)},
	}
	added = append(added, added[0])

	departures := ExtractAdded(added, scope, AddedWindow{Now: now, To: now.Add(time.Hour), Grace: 2 * time.Minute},
		map[string]string{"8500010": "Basel SBB"}, DefaultApplyPolicy())

	require.Len(t, departures, 2)

	extra := departures[0]
	assert.Equal(t, ctdf.DepartureSourceRealtimeAdded, extra.Source)
	assert.Equal(t, "EXTRA", extra.Line)
	assert.Equal(t, []string{ctdf.TagExtra}, extra.Tags)
	assert.Equal(t, "Basel SBB", extra.Destination)
	assert.Equal(t, "7", extra.Platform)
	assert.True(t, now.Add(8*time.Minute).Equal(extra.ScheduledDeparture))
	require.NotNil(t, extra.DelayMin)
	assert.Equal(t, 2, *extra.DelayMin)
	assert.Equal(t, ctdf.DepartureStatusDelayed, extra.Status)
	assert.Equal(t, serviceDate, extra.ServiceDate)

	replacement := departures[1]
	assert.Equal(t, "EV", replacement.Line)
	assert.Equal(t, []string{ctdf.TagReplacement}, replacement.Tags)
	assert.Equal(t, ctdf.DepartureStatusOnTime, replacement.Status)
	assert.True(t, replacement.LooksReplacement())
}

func TestExtractAddedLabelSources(t *testing.T) {
	now := time.Date(2025, 1, 15, 19, 50, 0, 0, time.UTC)
	scope := ctdf.StopTokens{}
	scope.Add("Parent8503000")

	added := []*delayindex.AddedStop{
		{
			TripID: "named", ShortName: "IR 36", StartDate: startDate, StopID: "8503000", StopSequence: 1,
			Relationship: gtfsrt.StopScheduled, Departure: now.Add(10 * time.Minute),
		},
		{
			TripID: "headsign", StartDate: startDate, StopID: "8503000", StopSequence: 1,
			Relationship: gtfsrt.StopScheduled, Departure: now.Add(20 * time.Minute), LastStopID: "8506000",
		},
	}

	departures := ExtractAdded(added, scope, AddedWindow{Now: now, To: now.Add(time.Hour), Grace: 2 * time.Minute},
		map[string]string{"8506000": "EV Winterthur"}, DefaultApplyPolicy())

	require.Len(t, departures, 2)
	assert.Equal(t, "IR36", departures[0].Line)
	assert.Equal(t, "IR", departures[0].Category)
	assert.Equal(t, "36", departures[0].Number)
	assert.Empty(t, departures[0].Tags)

	assert.Equal(t, "EV", departures[1].Line)
	assert.Equal(t, []string{ctdf.TagReplacement}, departures[1].Tags)
}

func TestExtractAddedUsesConfiguredJitter(t *testing.T) {
	now := time.Date(2025, 1, 15, 19, 50, 0, 0, time.UTC)
	scope := ctdf.StopTokens{}
	scope.Add(stationStop)

	added := []*delayindex.AddedStop{{
		TripID: "extra-1", StartDate: startDate, StopID: stationStop, StopSequence: 1,
		Relationship: gtfsrt.StopScheduled, Departure: now.Add(10 * time.Minute), DelaySeconds: intPtr(60),
	}}
	window := AddedWindow{Now: now, To: now.Add(time.Hour), Grace: 2 * time.Minute}

	strict := ExtractAdded(added, scope, window, nil, DefaultApplyPolicy())
	require.Len(t, strict, 1)
	assert.Equal(t, 1, *strict[0].DelayMin)
	assert.Equal(t, ctdf.DepartureStatusDelayed, strict[0].Status)

	lenient := DefaultApplyPolicy()
	lenient.JitterSeconds = 90
	relaxed := ExtractAdded(added, scope, window, nil, lenient)
	require.Len(t, relaxed, 1)
	assert.Equal(t, 0, *relaxed[0].DelayMin)
	assert.Equal(t, ctdf.DepartureStatusOnTime, relaxed[0].Status)
}
