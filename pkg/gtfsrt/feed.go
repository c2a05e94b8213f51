package gtfsrt

import "time"

type TripRelationship string

const (
	TripScheduled   TripRelationship = "SCHEDULED"
	TripAdded       TripRelationship = "ADDED"
	TripUnscheduled TripRelationship = "UNSCHEDULED"
	TripCanceled    TripRelationship = "CANCELED"
	TripDuplicated  TripRelationship = "DUPLICATED"
)

type StopRelationship string

const (
	StopScheduled   StopRelationship = "SCHEDULED"
	StopSkipped     StopRelationship = "SKIPPED"
	StopNoData      StopRelationship = "NO_DATA"
	StopUnscheduled StopRelationship = "UNSCHEDULED"
)

// NoSequence marks a stop time update without stop_sequence; GTFS allows 0
// as a real sequence.
const NoSequence = -1

// TripUpdateFeed is a decoded trip-updates snapshot.
type TripUpdateFeed struct {
	Timestamp time.Time
	Trips     []*TripUpdate
}

type TripUpdate struct {
	EntityID     string
	TripID       string
	RouteID      string
	StartDate    string
	StartTime    string
	Relationship TripRelationship
	// ShortName is the vehicle label, which carries the public train name
	// ("IR 36") on feeds that set it.
	ShortName string
	// ObservedAt is the trip update timestamp, else the feed header one.
	ObservedAt time.Time

	StopTimeUpdates []*StopTimeUpdate
}

type StopTimeUpdate struct {
	StopID       string
	StopSequence int
	Relationship StopRelationship

	Arrival   *StopTimeEvent
	Departure *StopTimeEvent
}

type StopTimeEvent struct {
	Time  time.Time
	Delay *int
}

// Event prefers the departure event and falls back to the arrival.
func (u *StopTimeUpdate) Event() *StopTimeEvent {
	if u.Departure != nil && (!u.Departure.Time.IsZero() || u.Departure.Delay != nil) {
		return u.Departure
	}
	return u.Arrival
}

func (u *StopTimeUpdate) HasSequence() bool {
	return u.StopSequence != NoSequence
}

// LastStop is the stop of the final stop time update.
func (t *TripUpdate) LastStop() *StopTimeUpdate {
	if len(t.StopTimeUpdates) == 0 {
		return nil
	}
	return t.StopTimeUpdates[len(t.StopTimeUpdates)-1]
}
