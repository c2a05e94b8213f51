package stationboard

import (
	"fmt"
	"regexp"
	"time"

	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/ctdf"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/delayindex"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/gtfsrt"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/servicetime"
)

var railLabelPattern = regexp.MustCompile(`(?:^|[^A-Za-z])(ICE|ICN|IC|IR|RE|EC|EN|TGV|RJX|RJ|SN|S|EV|PE)[ -]?(\d{1,4})?(?:$|[^A-Za-z0-9])`)

const extraLabel = "EXTRA"

// RailLabel derives category and number from identifiers such as "IR 13",
// "S12" or "91-EV-Y-j25-1".
func RailLabel(candidates ...string) (string, string, bool) {
	for _, candidate := range candidates {
		if match := railLabelPattern.FindStringSubmatch(candidate); match != nil {
			return match[1], match[2], true
		}
	}
	return "", "", false
}

// AddedWindow is the visible part of the board for RT-only departures.
type AddedWindow struct {
	Now   time.Time
	To    time.Time
	Grace time.Duration
}

// ExtractAdded turns stop updates of ADDED trips at the station into board
// rows. destinations maps stop ids to display names.
func ExtractAdded(added []*delayindex.AddedStop, scope ctdf.StopTokens, window AddedWindow, destinations map[string]string, policy ApplyPolicy) []*ctdf.MergedDeparture {
	departures := []*ctdf.MergedDeparture{}
	seen := map[string]struct{}{}

	for _, stop := range added {
		if stop.Relationship == gtfsrt.StopSkipped || !scope.Matches(stop.StopID) {
			continue
		}
		if stop.Departure.Before(window.Now.Add(-window.Grace)) || stop.Departure.After(window.To) {
			continue
		}

		key := fmt.Sprintf("%s|%s|%d|%d", stop.TripID, stop.StopID, stop.StopSequence, stop.Departure.Unix())
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}

		departures = append(departures, addedDeparture(stop, destinations, policy))
	}

	return departures
}

func addedDeparture(stop *delayindex.AddedStop, destinations map[string]string, policy ApplyPolicy) *ctdf.MergedDeparture {
	scheduled := stop.Departure
	if stop.DelaySeconds != nil {
		scheduled = scheduled.Add(-time.Duration(*stop.DelaySeconds) * time.Second)
	}

	serviceDate, err := servicetime.ParseServiceDate(stop.StartDate)
	if err != nil {
		serviceDate = servicetime.ServiceDate(scheduled)
	}

	row := &ctdf.ScheduledDeparture{
		TripID:             stop.TripID,
		RouteID:            stop.RouteID,
		StopID:             stop.StopID,
		StopSequence:       stop.StopSequence,
		Platform:           ctdf.PlatformOf(stop.StopID),
		ScheduledDeparture: scheduled,
		ServiceDate:        serviceDate,
		DepartureSeconds:   servicetime.ServiceDaySeconds(serviceDate, scheduled),
		Destination:        destinations[stop.LastStopID],
	}
	if row.Destination == "" && stop.LastStopID != stop.StopID {
		row.Destination = destinations[ctdf.RootStopID(stop.LastStopID)]
	}

	departure := ctdf.NewMergedDeparture(row)
	departure.Source = ctdf.DepartureSourceRealtimeAdded
	departure.RealtimeStopID = stop.StopID

	if category, number, ok := RailLabel(stop.RouteID, stop.ShortName, row.Destination, stop.TripID); ok {
		departure.Category = category
		departure.Number = number
		departure.Line = category + number
		if ctdf.IsReplacementLabel(category) {
			departure.AddTag(ctdf.TagReplacement)
		}
	} else {
		departure.Category = extraLabel
		departure.Line = extraLabel
		departure.AddTag(ctdf.TagExtra)
	}

	realtime := stop.Departure
	departure.RealtimeDeparture = &realtime
	if stop.DelaySeconds != nil {
		delay := *stop.DelaySeconds
		departure.DelaySeconds = &delay
		applyDisplayDelay(departure, delay, policy.JitterSeconds)
	} else {
		departure.Status = ctdf.DepartureStatusOnTime
	}

	return departure
}
