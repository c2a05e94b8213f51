package delayindex

import (
	"time"

	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/gtfsrt"
)

// MergePolicy bounds how long facts survive across snapshots.
type MergePolicy struct {
	// MaxAge drops facts observed longer ago than this.
	MaxAge time.Duration
	// Grace keeps an entry this long after its updated departure.
	Grace time.Duration
}

func DefaultMergePolicy() MergePolicy {
	return MergePolicy{
		MaxAge: 2 * time.Hour,
		Grace:  10 * time.Minute,
	}
}

// Merge folds next into prev and returns a new index; neither input is
// modified. Trip flags of both snapshots are combined: a cancellation stays
// until it ages out and suppressed stops accumulate.
func Merge(prev, next *Index, now time.Time, policy MergePolicy) *Index {
	if prev == nil {
		prev = Empty()
	}
	if next == nil {
		next = Empty()
	}

	expired := func(observed, departure time.Time) bool {
		if policy.MaxAge > 0 && !observed.IsZero() && now.Sub(observed) > policy.MaxAge {
			return true
		}
		return !departure.IsZero() && departure.Add(policy.Grace).Before(now)
	}

	entries := make(map[Key]*Entry, len(prev.entries)+len(next.entries))
	for _, source := range []map[Key]*Entry{prev.entries, next.entries} {
		for key, entry := range source {
			if expired(entry.ObservedAt, entry.UpdatedDeparture) {
				continue
			}
			if current, ok := entries[key]; !ok || mergeWins(entry, current) {
				entries[key] = entry
			}
		}
	}

	trips := make(map[TripKey]*TripFlags, len(prev.trips)+len(next.trips))
	for key, flags := range prev.trips {
		if !expired(flags.ObservedAt, time.Time{}) {
			trips[key] = flags
		}
	}
	for key, flags := range next.trips {
		if current, ok := trips[key]; ok {
			trips[key] = combineTripFlags(current, flags)
		} else {
			trips[key] = flags
		}
	}

	added := make(map[Key]*AddedStop, len(prev.added)+len(next.added))
	for _, source := range []map[Key]*AddedStop{prev.added, next.added} {
		for key, stop := range source {
			if expired(stop.ObservedAt, stop.Departure) {
				continue
			}
			current, ok := added[key]
			if !ok || stop.Departure.After(current.Departure) ||
				(stop.Departure.Equal(current.Departure) && stop.ObservedAt.After(current.ObservedAt)) {
				added[key] = stop
			}
		}
	}

	observed := prev.ObservedAt
	if next.ObservedAt.After(observed) {
		observed = next.ObservedAt
	}

	return newIndex(entries, trips, added, observed)
}

// mergeWins compares two observations of the same canonical key: the greater
// updated departure wins, otherwise the more recent observation. Equal
// observations keep the existing entry.
func mergeWins(candidate, current *Entry) bool {
	if !candidate.UpdatedDeparture.Equal(current.UpdatedDeparture) {
		return candidate.UpdatedDeparture.After(current.UpdatedDeparture)
	}
	return candidate.ObservedAt.After(current.ObservedAt)
}

// combineTripFlags returns new flags holding the facts of both a and b,
// stamped with the later observation.
func combineTripFlags(a, b *TripFlags) *TripFlags {
	newer, older := b, a
	if a.ObservedAt.After(b.ObservedAt) {
		newer, older = a, b
	}

	combined := newTripFlags(newer.TripID, newer.StartDate, newer.ObservedAt)
	combined.Cancelled = a.Cancelled || b.Cancelled

	for _, flags := range []*TripFlags{newer, older} {
		if !flags.HasSuppressedStop {
			continue
		}
		for stopID := range flags.SuppressedStops {
			combined.SuppressedStops[stopID] = struct{}{}
		}
		if len(flags.SuppressedSeqs) == 0 {
			combined.suppress("", gtfsrt.NoSequence)
		}
		for sequence := range flags.SuppressedSeqs {
			combined.suppress("", sequence)
		}
	}

	return combined
}
