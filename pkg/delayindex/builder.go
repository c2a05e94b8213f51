package delayindex

import (
	"time"

	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/gtfsrt"
)

// BuildStats counts what one snapshot contributed.
type BuildStats struct {
	Trips          int `json:"trips"`
	StopUpdates    int `json:"stop_updates"`
	Entries        int `json:"entries"`
	CancelledTrips int `json:"cancelled_trips"`
	SkippedStops   int `json:"skipped_stops"`
	AddedStops     int `json:"added_stops"`
	Ignored        int `json:"ignored"`
}

// Build turns one decoded trip-updates snapshot into an index.
func Build(feed *gtfsrt.TripUpdateFeed) (*Index, BuildStats) {
	var stats BuildStats
	if feed == nil {
		return Empty(), stats
	}

	entries := map[Key]*Entry{}
	trips := map[TripKey]*TripFlags{}
	added := map[Key]*AddedStop{}

	flagsFor := func(update *gtfsrt.TripUpdate) *TripFlags {
		tripKey := TripKey{TripID: update.TripID, StartDate: update.StartDate}
		flags, ok := trips[tripKey]
		if !ok {
			flags = newTripFlags(update.TripID, update.StartDate, observedAt(feed, update))
			trips[tripKey] = flags
		}
		return flags
	}

	for _, update := range feed.Trips {
		if update.TripID == "" {
			continue
		}
		stats.Trips++

		switch update.Relationship {
		case gtfsrt.TripCanceled:
			flagsFor(update).Cancelled = true
			stats.CancelledTrips++
			stats.StopUpdates += len(update.StopTimeUpdates)
			continue
		case gtfsrt.TripAdded:
			for _, stopUpdate := range update.StopTimeUpdates {
				stats.StopUpdates++
				candidate := addedStop(feed, update, stopUpdate)
				if candidate == nil {
					stats.Ignored++
					continue
				}
				if current, ok := added[candidate.key()]; !ok || candidate.Departure.After(current.Departure) {
					added[candidate.key()] = candidate
				}
				stats.AddedStops++
			}
			continue
		case gtfsrt.TripDuplicated:
			// A duplicate runs at other times than the trip it copies.
			stats.StopUpdates += len(update.StopTimeUpdates)
			stats.Ignored += len(update.StopTimeUpdates)
			continue
		}

		for _, stopUpdate := range update.StopTimeUpdates {
			stats.StopUpdates++
			if stopUpdate.StopID == "" && !stopUpdate.HasSequence() {
				stats.Ignored++
				continue
			}

			if stopUpdate.Relationship == gtfsrt.StopSkipped {
				flagsFor(update).suppress(stopUpdate.StopID, stopUpdate.StopSequence)
				stats.SkippedStops++
			}

			if stopUpdate.StopID == "" || stopUpdate.Relationship == gtfsrt.StopNoData {
				stats.Ignored++
				continue
			}

			entry := &Entry{
				TripID:       update.TripID,
				StopID:       stopUpdate.StopID,
				StopSequence: stopUpdate.StopSequence,
				StartDate:    update.StartDate,
				Relationship: stopUpdate.Relationship,
				ObservedAt:   observedAt(feed, update),
			}
			if event := stopUpdate.Event(); event != nil {
				entry.UpdatedDeparture = event.Time
				entry.DelaySeconds = event.Delay
			}

			key := entry.key()
			if better(entry, entries[key], key) {
				entries[key] = entry
			}
		}
	}
	stats.Entries = len(entries)

	return newIndex(entries, trips, added, feed.Timestamp), stats
}

func addedStop(feed *gtfsrt.TripUpdateFeed, update *gtfsrt.TripUpdate, stopUpdate *gtfsrt.StopTimeUpdate) *AddedStop {
	if stopUpdate.StopID == "" {
		return nil
	}
	event := stopUpdate.Event()
	if event == nil || event.Time.IsZero() {
		return nil
	}

	candidate := &AddedStop{
		TripID:       update.TripID,
		RouteID:      update.RouteID,
		StartDate:    update.StartDate,
		StartTime:    update.StartTime,
		ShortName:    update.ShortName,
		StopID:       stopUpdate.StopID,
		StopSequence: stopUpdate.StopSequence,
		Relationship: stopUpdate.Relationship,
		Departure:    event.Time,
		DelaySeconds: event.Delay,
		ObservedAt:   observedAt(feed, update),
	}
	if last := update.LastStop(); last != nil {
		candidate.LastStopID = last.StopID
	}
	return candidate
}

func observedAt(feed *gtfsrt.TripUpdateFeed, update *gtfsrt.TripUpdate) time.Time {
	if !update.ObservedAt.IsZero() {
		return update.ObservedAt
	}
	return feed.Timestamp
}
