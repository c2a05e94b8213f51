package stationboard

import "github.com/tabbycat18/mesdeparts.ch-sub001/pkg/ctdf"

type preference func(*ctdf.MergedDeparture) bool

// preferences are tried in order, the first one that tells the records apart
// decides.
var preferences = []preference{
	func(d *ctdf.MergedDeparture) bool { return d.Cancelled },
	func(d *ctdf.MergedDeparture) bool { return d.SuppressedStop },
	(*ctdf.MergedDeparture).HasRealtimeSignal,
	func(d *ctdf.MergedDeparture) bool { return d.HasTag(ctdf.TagReplacement) },
	func(d *ctdf.MergedDeparture) bool {
		return d.Source == ctdf.DepartureSourceRealtimeAdded || d.Source == ctdf.DepartureSourceSyntheticAlert
	},
}

// Prefer reports whether candidate should replace existing for the same
// departure.
func Prefer(candidate, existing *ctdf.MergedDeparture) bool {
	for _, prefers := range preferences {
		if a, b := prefers(candidate), prefers(existing); a != b {
			return a
		}
	}
	return false
}

// Dedupe keeps one record per departure key, in order of first appearance.
func Dedupe(departures ...[]*ctdf.MergedDeparture) []*ctdf.MergedDeparture {
	positions := map[string]int{}
	merged := []*ctdf.MergedDeparture{}

	for _, list := range departures {
		for _, departure := range list {
			key := departure.DedupeKey()
			position, exists := positions[key]
			if !exists {
				positions[key] = len(merged)
				merged = append(merged, departure)
				continue
			}
			if Prefer(departure, merged[position]) {
				merged[position] = departure
			}
		}
	}

	return merged
}
