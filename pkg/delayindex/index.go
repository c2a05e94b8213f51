package delayindex

import (
	"time"

	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/ctdf"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/gtfsrt"
	"golang.org/x/exp/slices"
)

// Key addresses an entry. StopSequence is gtfsrt.NoSequence and StartDate is
// empty on the less specific aliases.
type Key struct {
	TripID       string
	StopID       string
	StopSequence int
	StartDate    string
}

// Entry is the realtime prediction for one stop of one trip.
type Entry struct {
	TripID       string
	StopID       string
	StopSequence int
	StartDate    string

	DelaySeconds     *int
	UpdatedDeparture time.Time
	Relationship     gtfsrt.StopRelationship
	ObservedAt       time.Time
}

func (e *Entry) key() Key {
	return Key{TripID: e.TripID, StopID: e.StopID, StopSequence: e.StopSequence, StartDate: e.StartDate}
}

func (e *Entry) HasSequence() bool {
	return e.StopSequence != gtfsrt.NoSequence
}

// aliases lists every key the entry can be found under: raw and root stop id,
// with and without sequence, with and without start date.
func (e *Entry) aliases() []Key {
	stops := ctdf.StopIDVariants(e.StopID)
	sequences := []int{e.StopSequence}
	if e.HasSequence() {
		sequences = append(sequences, gtfsrt.NoSequence)
	}
	dates := []string{e.StartDate}
	if e.StartDate != "" {
		dates = append(dates, "")
	}

	keys := make([]Key, 0, len(stops)*len(sequences)*len(dates))
	for _, stop := range stops {
		for _, sequence := range sequences {
			for _, date := range dates {
				keys = append(keys, Key{TripID: e.TripID, StopID: stop, StopSequence: sequence, StartDate: date})
			}
		}
	}
	return keys
}

// specificity scores how exactly an entry answers the given alias.
func (e *Entry) specificity(alias Key) int {
	score := 0
	if e.HasSequence() {
		score += 4
	}
	if e.StartDate != "" {
		score += 2
	}
	if e.StopID == alias.StopID {
		score++
	}
	return score
}

// better reports whether candidate should replace current under alias: the
// greater updated departure wins, then the more specific entry, then the more
// recent observation.
func better(candidate, current *Entry, alias Key) bool {
	if current == nil {
		return true
	}
	if !candidate.UpdatedDeparture.Equal(current.UpdatedDeparture) {
		return candidate.UpdatedDeparture.After(current.UpdatedDeparture)
	}
	if a, b := candidate.specificity(alias), current.specificity(alias); a != b {
		return a > b
	}
	return candidate.ObservedAt.After(current.ObservedAt)
}

type TripKey struct {
	TripID    string
	StartDate string
}

// TripFlags aggregates trip level facts: cancellation and suppressed stops.
type TripFlags struct {
	TripID    string
	StartDate string

	Cancelled         bool
	HasSuppressedStop bool
	MinSuppressedSeq  int
	MaxSuppressedSeq  int
	SuppressedSeqs    map[int]struct{}
	// SuppressedStops holds root stop ids of skipped updates, for updates
	// that carry no sequence.
	SuppressedStops map[string]struct{}

	ObservedAt time.Time
}

func newTripFlags(tripID, startDate string, observedAt time.Time) *TripFlags {
	return &TripFlags{
		TripID:          tripID,
		StartDate:       startDate,
		SuppressedSeqs:  map[int]struct{}{},
		SuppressedStops: map[string]struct{}{},
		ObservedAt:      observedAt,
	}
}

func (f *TripFlags) suppress(stopID string, sequence int) {
	if stopID != "" {
		f.SuppressedStops[ctdf.RootStopID(stopID)] = struct{}{}
	}
	if sequence == gtfsrt.NoSequence {
		if !f.HasSuppressedStop {
			f.MinSuppressedSeq, f.MaxSuppressedSeq = gtfsrt.NoSequence, gtfsrt.NoSequence
		}
		f.HasSuppressedStop = true
		return
	}

	f.SuppressedSeqs[sequence] = struct{}{}
	if !f.HasSuppressedStop || f.MinSuppressedSeq == gtfsrt.NoSequence || sequence < f.MinSuppressedSeq {
		f.MinSuppressedSeq = sequence
	}
	if !f.HasSuppressedStop || sequence > f.MaxSuppressedSeq {
		f.MaxSuppressedSeq = sequence
	}
	f.HasSuppressedStop = true
}

// IsSuppressed reports whether the stop at sequence (or, without sequence,
// the stop id) was skipped.
func (f *TripFlags) IsSuppressed(stopID string, sequence int) bool {
	if f == nil {
		return false
	}
	if sequence != gtfsrt.NoSequence && len(f.SuppressedSeqs) > 0 {
		_, ok := f.SuppressedSeqs[sequence]
		return ok
	}
	_, ok := f.SuppressedStops[ctdf.RootStopID(stopID)]
	return ok
}

// AddedStop is a stop time update of an ADDED trip, not tied to any
// scheduled row.
type AddedStop struct {
	TripID       string
	RouteID      string
	StartDate    string
	StartTime    string
	ShortName    string
	StopID       string
	StopSequence int
	Relationship gtfsrt.StopRelationship

	Departure    time.Time
	DelaySeconds *int
	ObservedAt   time.Time

	LastStopID string
}

func (a *AddedStop) key() Key {
	return Key{TripID: a.TripID, StopID: a.StopID, StopSequence: a.StopSequence, StartDate: a.StartDate}
}

// Index is an immutable, queryable view over one or more feed snapshots.
type Index struct {
	entries map[Key]*Entry
	lookup  map[Key]*Entry
	byTrip  map[TripKey][]*Entry
	trips   map[TripKey]*TripFlags
	added   map[Key]*AddedStop

	ObservedAt time.Time
}

// Empty returns an index without any facts.
func Empty() *Index {
	return newIndex(map[Key]*Entry{}, map[TripKey]*TripFlags{}, map[Key]*AddedStop{}, time.Time{})
}

func newIndex(entries map[Key]*Entry, trips map[TripKey]*TripFlags, added map[Key]*AddedStop, observedAt time.Time) *Index {
	index := &Index{
		entries:    entries,
		lookup:     make(map[Key]*Entry, len(entries)*4),
		byTrip:     map[TripKey][]*Entry{},
		trips:      trips,
		added:      added,
		ObservedAt: observedAt,
	}

	for _, entry := range entries {
		for _, alias := range entry.aliases() {
			if better(entry, index.lookup[alias], alias) {
				index.lookup[alias] = entry
			}
		}

		tripKey := TripKey{TripID: entry.TripID, StartDate: entry.StartDate}
		index.byTrip[tripKey] = append(index.byTrip[tripKey], entry)
	}

	for _, observations := range index.byTrip {
		slices.SortFunc(observations, func(a, b *Entry) int {
			if a.StopSequence != b.StopSequence {
				return a.StopSequence - b.StopSequence
			}
			if a.StopID < b.StopID {
				return -1
			}
			if a.StopID > b.StopID {
				return 1
			}
			return 0
		})
	}

	return index
}

func (i *Index) Len() int {
	if i == nil {
		return 0
	}
	return len(i.entries)
}

func (i *Index) TripCount() int {
	if i == nil {
		return 0
	}
	return len(i.trips)
}

// Lookup finds the entry for a scheduled row. Sequence-exact matches are
// preferred over sequence-less ones, and an entry whose start date or
// sequence contradicts the row is never returned.
func (i *Index) Lookup(tripID string, stopID string, sequence int, startDate string) *Entry {
	if i == nil || tripID == "" {
		return nil
	}

	stops := ctdf.StopIDVariants(stopID)
	sequences := []int{gtfsrt.NoSequence}
	if sequence != gtfsrt.NoSequence {
		sequences = []int{sequence, gtfsrt.NoSequence}
	}
	dates := []string{""}
	if startDate != "" {
		dates = []string{startDate, ""}
	}

	for _, seq := range sequences {
		for _, stop := range stops {
			for _, date := range dates {
				entry, ok := i.lookup[Key{TripID: tripID, StopID: stop, StopSequence: seq, StartDate: date}]
				if !ok {
					continue
				}
				if entry.StartDate != "" && startDate != "" && entry.StartDate != startDate {
					continue
				}
				if entry.HasSequence() && sequence != gtfsrt.NoSequence && entry.StopSequence != sequence {
					continue
				}
				return entry
			}
		}
	}

	return nil
}

// Trip returns the flags of a trip on a service date, falling back to flags
// observed without a start date.
func (i *Index) Trip(tripID string, startDate string) *TripFlags {
	if i == nil {
		return nil
	}
	if flags, ok := i.trips[TripKey{TripID: tripID, StartDate: startDate}]; ok {
		return flags
	}
	if startDate != "" {
		return i.trips[TripKey{TripID: tripID}]
	}
	return nil
}

// Observations lists every entry of a trip on a service date (including
// entries without start date), ordered by stop sequence.
func (i *Index) Observations(tripID string, startDate string) []*Entry {
	if i == nil {
		return nil
	}

	observations := slices.Clone(i.byTrip[TripKey{TripID: tripID, StartDate: startDate}])
	if startDate != "" {
		observations = append(observations, i.byTrip[TripKey{TripID: tripID}]...)
	}
	return observations
}

// Added returns the stop updates of ADDED trips.
func (i *Index) Added() []*AddedStop {
	if i == nil {
		return nil
	}

	added := make([]*AddedStop, 0, len(i.added))
	for _, stop := range i.added {
		added = append(added, stop)
	}
	slices.SortFunc(added, func(a, b *AddedStop) int {
		if c := a.Departure.Compare(b.Departure); c != 0 {
			return c
		}
		if a.TripID != b.TripID {
			if a.TripID < b.TripID {
				return -1
			}
			return 1
		}
		return a.StopSequence - b.StopSequence
	})
	return added
}
