package stationboard

import (
	"time"

	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/ctdf"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/delayindex"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/gtfsrt"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/servicetime"
)

type ApplyPolicy struct {
	// DriftBound is the largest difference between the realtime and the
	// scheduled departure still trusted as a delay.
	DriftBound time.Duration
	// JitterSeconds is the delay below which a departure shows as on time.
	JitterSeconds int
	// MaxFallbackGap is how many stops away another observation of the trip
	// may be to lend its delay.
	MaxFallbackGap int
}

func DefaultApplyPolicy() ApplyPolicy {
	return ApplyPolicy{
		DriftBound:     3 * time.Hour,
		JitterSeconds:  30,
		MaxFallbackGap: 5,
	}
}

// Apply merges the realtime facts of the index onto scheduled rows. It is
// pure: the rows and the index are not modified and the same inputs always
// give the same output.
func Apply(rows []*ctdf.ScheduledDeparture, index *delayindex.Index, policy ApplyPolicy) []*ctdf.MergedDeparture {
	departures := make([]*ctdf.MergedDeparture, 0, len(rows))
	for _, row := range rows {
		departures = append(departures, applyRow(row, index, policy))
	}
	return departures
}

func applyRow(row *ctdf.ScheduledDeparture, index *delayindex.Index, policy ApplyPolicy) *ctdf.MergedDeparture {
	departure := ctdf.NewMergedDeparture(row)
	startDate := servicetime.FormatServiceDate(row.ServiceDate)

	entry := index.Lookup(row.TripID, row.StopID, row.StopSequence, startDate)
	flags := index.Trip(row.TripID, startDate)

	if entry != nil {
		departure.Source = ctdf.DepartureSourceTripUpdate
		departure.RealtimeStopID = entry.StopID
		applyPlatform(departure, row, entry)
	}

	if delay, fallback, ok := resolveDelay(row, entry, index, startDate, policy); ok {
		realtime := row.ScheduledDeparture.Add(time.Duration(delay) * time.Second)
		departure.RealtimeDeparture = &realtime
		departure.DelaySeconds = &delay
		departure.Source = ctdf.DepartureSourceTripUpdate
		if fallback {
			departure.AddFlag(ctdf.FlagTripFallbackDelay)
		}
		applyDisplayDelay(departure, delay, policy.JitterSeconds)
	}

	switch {
	case flags != nil && flags.Cancelled:
		cancel(departure, ctdf.CancelReasonCanceledTrip)
	case (entry != nil && entry.Relationship == gtfsrt.StopSkipped) || flags.IsSuppressed(row.StopID, row.StopSequence):
		cancel(departure, ctdf.CancelReasonSkippedStop)
		departure.Status = ctdf.DepartureStatusSkippedStop
		departure.SuppressedStop = true
		departure.StopEvent = ctdf.StopEventSkipped
		departure.AddTag(ctdf.TagSkippedStop)
	case nextStopSkipped(row, flags, index, startDate):
		cancel(departure, ctdf.CancelReasonShortTurnTerminus)
		departure.AddTag(ctdf.TagShortTurn, ctdf.TagShortTurnTerminus)
	}

	return departure
}

func cancel(departure *ctdf.MergedDeparture, reason string) {
	departure.Cancelled = true
	departure.CancelReasonCode = reason
	departure.Status = ctdf.DepartureStatusCancelled
	departure.Source = ctdf.DepartureSourceTripUpdate
	departure.RealtimeDeparture = nil
	departure.DelayMin = nil
}

// resolveDelay picks the delay of a row: the difference between the
// updated and the scheduled departure when plausible, else the explicit
// delay of the entry, else the delay observed at the nearest stop of the
// same trip.
func resolveDelay(row *ctdf.ScheduledDeparture, entry *delayindex.Entry, index *delayindex.Index, startDate string, policy ApplyPolicy) (int, bool, bool) {
	if entry != nil {
		if !entry.UpdatedDeparture.IsZero() {
			drift := entry.UpdatedDeparture.Sub(row.ScheduledDeparture)
			if drift.Abs() <= policy.DriftBound {
				return int(drift / time.Second), false, true
			}
		}
		if entry.DelaySeconds != nil {
			return *entry.DelaySeconds, false, true
		}
	}

	if nearest := nearestObservation(row, index.Observations(row.TripID, startDate), policy.MaxFallbackGap); nearest != nil {
		return *nearest.DelaySeconds, true, true
	}

	return 0, false, false
}

// nearestObservation finds the closest stop of the trip carrying an explicit
// delay. Ties prefer the downstream stop, then the most recent observation.
func nearestObservation(row *ctdf.ScheduledDeparture, observations []*delayindex.Entry, maxGap int) *delayindex.Entry {
	var best *delayindex.Entry
	bestGap := 0

	for _, observation := range observations {
		if observation.DelaySeconds == nil || !observation.HasSequence() || observation.Relationship == gtfsrt.StopSkipped {
			continue
		}
		if observation.StopSequence == row.StopSequence && ctdf.SameStation(observation.StopID, row.StopID) {
			continue
		}

		gap := observation.StopSequence - row.StopSequence
		if gap < 0 {
			gap = -gap
		}
		if gap > maxGap {
			continue
		}

		switch {
		case best == nil || gap < bestGap:
		case gap > bestGap:
			continue
		case (observation.StopSequence > row.StopSequence) != (best.StopSequence > row.StopSequence):
			if observation.StopSequence < row.StopSequence {
				continue
			}
		case !observation.ObservedAt.After(best.ObservedAt):
			continue
		}

		best = observation
		bestGap = gap
	}

	return best
}

// nextStopSkipped reports a short turn: the stop right after this one is
// skipped, so the trip ends here and nobody can ride on.
func nextStopSkipped(row *ctdf.ScheduledDeparture, flags *delayindex.TripFlags, index *delayindex.Index, startDate string) bool {
	if flags == nil || !flags.HasSuppressedStop || len(flags.SuppressedSeqs) == 0 {
		return false
	}

	next := row.NextStopSequence
	if next <= row.StopSequence {
		next = 0
		for sequence := range flags.SuppressedSeqs {
			if sequence > row.StopSequence && (next == 0 || sequence < next) {
				next = sequence
			}
		}
		for _, observation := range index.Observations(row.TripID, startDate) {
			if observation.StopSequence > row.StopSequence && (next == 0 || observation.StopSequence < next) {
				next = observation.StopSequence
			}
		}
		if next == 0 {
			return false
		}
	}

	_, skipped := flags.SuppressedSeqs[next]
	return skipped
}

func applyDisplayDelay(departure *ctdf.MergedDeparture, delay int, jitter int) {
	minutes := 0
	switch {
	case delay > jitter:
		minutes = (delay + 59) / 60
		departure.Status = ctdf.DepartureStatusDelayed
	case delay < -jitter:
		departure.Status = ctdf.DepartureStatusEarly
		departure.AddFlag(ctdf.FlagEarly)
	default:
		departure.Status = ctdf.DepartureStatusOnTime
	}
	departure.DelayMin = &minutes
}

func applyPlatform(departure *ctdf.MergedDeparture, row *ctdf.ScheduledDeparture, entry *delayindex.Entry) {
	if entry.StopID == row.StopID || !ctdf.SameStation(entry.StopID, row.StopID) {
		return
	}

	platform := ctdf.PlatformOf(entry.StopID)
	if platform == "" || platform == row.Platform {
		return
	}

	departure.Platform = platform
	departure.PlatformChanged = true
	departure.AddFlag(ctdf.FlagPlatformChanged)
}
