package schedule

import (
	"context"
	"errors"
	"strings"

	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/ctdf"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/servicetime"
)

var ErrQueryTimeout = errors.New("schedule query timed out")

// DayQuery selects the departures of one service day. Seconds are counted
// from the service day midnight and may exceed 86400.
type DayQuery struct {
	StopIDs     []string
	ServiceDate int
	FromSeconds int
	ToSeconds   int
	Limit       int
	// Simplified skips the per-trip lookups (next stop, terminal stop,
	// destination) that make the primary query expensive.
	Simplified bool
}

// Row is one stop_times row joined with its trip, route and stop.
type Row struct {
	TripID           string
	RouteID          string
	StopID           string
	StopSequence     int
	DepartureSeconds int

	RouteShortName string
	RouteDesc      string
	RouteType      int
	TripShortName  string
	Headsign       string
	AgencyName     string
	PlatformCode   string
	ParentStation  string

	// Zero when the simplified query produced the row.
	NextStopSequence int
	LastStopSequence int
	LastStopName     string
}

type Store interface {
	StopTimes(ctx context.Context, query DayQuery) ([]Row, error)
}

// IsTerminal reports whether the row is the last stop of its trip, where
// nobody can board.
func (r *Row) IsTerminal() bool {
	return r.LastStopSequence > 0 && r.StopSequence >= r.LastStopSequence
}

// Departure expands the row into a scheduled departure of serviceDate.
func (r *Row) Departure(serviceDate int) *ctdf.ScheduledDeparture {
	category := strings.TrimSpace(r.RouteDesc)
	if category == "" {
		category = categoryOf(ctdf.TransportTypeFromRouteType(r.RouteType))
	}

	line := strings.TrimSpace(r.RouteShortName)
	if line == "" {
		line = strings.TrimSpace(category + " " + r.TripShortName)
	}

	destination := strings.TrimSpace(r.Headsign)
	if destination == "" {
		destination = r.LastStopName
	}

	return &ctdf.ScheduledDeparture{
		TripID:             r.TripID,
		RouteID:            r.RouteID,
		StopID:             r.StopID,
		StopSequence:       r.StopSequence,
		Line:               line,
		Category:           category,
		Number:             r.TripShortName,
		Destination:        destination,
		Operator:           r.AgencyName,
		Platform:           platformOf(r),
		ScheduledDeparture: servicetime.InstantFor(serviceDate, r.DepartureSeconds),
		ServiceDate:        serviceDate,
		DepartureSeconds:   r.DepartureSeconds,
		NextStopSequence:   r.NextStopSequence,
		ParentStationID:    r.ParentStation,
	}
}

func platformOf(r *Row) string {
	if r.PlatformCode != "" {
		return r.PlatformCode
	}
	return ctdf.PlatformOf(r.StopID)
}

func categoryOf(transportType ctdf.TransportType) string {
	switch transportType {
	case ctdf.TransportTypeRail:
		return "R"
	case ctdf.TransportTypeTram:
		return "T"
	case ctdf.TransportTypeBus, ctdf.TransportTypeCoach:
		return "B"
	case ctdf.TransportTypeMetro:
		return "M"
	case ctdf.TransportTypeFerry:
		return "BAT"
	case ctdf.TransportTypeCableCar, ctdf.TransportTypeFunicular:
		return "FUN"
	default:
		return ""
	}
}
