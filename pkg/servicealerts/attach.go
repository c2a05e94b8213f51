package servicealerts

import (
	"time"

	"github.com/jinzhu/copier"
	"github.com/rs/zerolog/log"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/ctdf"
	"golang.org/x/exp/slices"
)

type MatchKind int

const (
	MatchNone MatchKind = iota
	MatchStop
	MatchRoute
	MatchSequence
	MatchTrip
)

func (m MatchKind) String() string {
	switch m {
	case MatchTrip:
		return "trip"
	case MatchSequence:
		return "stop_sequence"
	case MatchRoute:
		return "route"
	case MatchStop:
		return "stop"
	}
	return "none"
}

// Specific matches name the departure's own trip or line, as opposed to an
// alert covering the whole station.
func (m MatchKind) Specific() bool {
	return m == MatchTrip || m == MatchSequence || m == MatchRoute
}

type AttachResult struct {
	Departures []*ctdf.MergedDeparture
	Banners    []*ctdf.Banner
}

// deepCopy copies departures field by field. Times are copied as values
// since time.Time keeps its state in unexported fields.
var deepCopy = copier.Option{
	DeepCopy: true,
	Converters: []copier.TypeConverter{
		{
			SrcType: time.Time{},
			DstType: time.Time{},
			Fn: func(src interface{}) (interface{}, error) {
				return src.(time.Time), nil
			},
		},
		{
			SrcType: &time.Time{},
			DstType: &time.Time{},
			Fn: func(src interface{}) (interface{}, error) {
				value := src.(*time.Time)
				if value == nil {
					return (*time.Time)(nil), nil
				}
				copied := *value
				return &copied, nil
			},
		},
		{
			SrcType: (*int)(nil),
			DstType: (*int)(nil),
			Fn: func(src interface{}) (interface{}, error) {
				value := src.(*int)
				if value == nil {
					return (*int)(nil), nil
				}
				copied := *value
				return &copied, nil
			},
		},
	},
}

// Attach links active alerts to the departures they concern and builds the
// station banners. The input departures are left untouched; the result holds
// copies.
func Attach(departures []*ctdf.MergedDeparture, alerts []*ctdf.ServiceAlert, identity *ctdf.StationIdentity, now time.Time, lang string) AttachResult {
	result := AttachResult{
		Departures: make([]*ctdf.MergedDeparture, 0, len(departures)),
		Banners:    []*ctdf.Banner{},
	}

	for _, departure := range departures {
		copied := &ctdf.MergedDeparture{}
		if err := copier.CopyWithOption(copied, departure, deepCopy); err != nil {
			log.Error().Err(err).Str("trip", departure.TripID).Msg("Failed to copy departure")
			*copied = *departure
		}

		result.Departures = append(result.Departures, copied)
	}

	scope := ctdf.StopTokens{}
	if identity != nil {
		scope = identity.ScopeTokens()
	}

	bannerSeen := map[string]struct{}{}

	for _, alert := range alerts {
		if !alert.IsActive(now) {
			continue
		}

		class := Classify(alert)
		header, description := alert.Text(lang)
		affected := []string{}

		for _, departure := range result.Departures {
			kind := bestMatch(alert, departure, scope)
			if kind == MatchNone {
				continue
			}

			if !hasAlert(departure, alert.ID) {
				departure.Alerts = append(departure.Alerts, &ctdf.AttachedAlert{
					ID:          alert.ID,
					Severity:    alert.Severity,
					Header:      header,
					Description: description,
					Match:       kind.String(),
				})
			}

			// A station-wide alert does not say which rows are replacement
			// services, so it only tags rows that already look like one.
			if tag := class.Tag(); tag != "" && (kind.Specific() || departure.LooksReplacement()) {
				departure.AddTag(tag)
			}

			if departure.Line != "" && !slices.Contains(affected, departure.Line) {
				affected = append(affected, departure.Line)
			}
		}

		if _, exists := bannerSeen[alert.ID]; exists || !touchesStation(alert, scope) {
			continue
		}
		bannerSeen[alert.ID] = struct{}{}

		result.Banners = append(result.Banners, &ctdf.Banner{
			ID:          alert.ID,
			Severity:    alert.Severity,
			Header:      header,
			Description: description,
			Affected:    affected,
		})
	}

	return result
}

func bestMatch(alert *ctdf.ServiceAlert, departure *ctdf.MergedDeparture, scope ctdf.StopTokens) MatchKind {
	best := MatchNone
	for _, entity := range alert.InformedEntities {
		if kind := matchEntity(entity, departure, scope); kind > best {
			best = kind
		}
	}
	return best
}

func matchEntity(entity ctdf.InformedEntity, departure *ctdf.MergedDeparture, scope ctdf.StopTokens) MatchKind {
	sameTrip := entity.TripID != "" && entity.TripID == departure.TripID
	sameRoute := entity.RouteID != "" && entity.RouteID == departure.RouteID
	sameStop := entity.StopID != "" && stopMatches(entity.StopID, departure.StopID)

	switch {
	case sameTrip && (entity.StopSequence == 0 || entity.StopSequence == departure.StopSequence):
		return MatchTrip
	case entity.StopSequence > 0 && entity.StopSequence == departure.StopSequence && (sameRoute || sameStop):
		return MatchSequence
	case sameRoute && (entity.StopID == "" || scope.Matches(entity.StopID)):
		return MatchRoute
	case sameStop && entity.TripID == "" && entity.RouteID == "":
		return MatchStop
	}
	return MatchNone
}

func stopMatches(entityStopID string, departureStopID string) bool {
	tokens := ctdf.StopTokens{}
	tokens.Add(entityStopID)
	return tokens.Matches(departureStopID)
}

func touchesStation(alert *ctdf.ServiceAlert, scope ctdf.StopTokens) bool {
	for _, entity := range alert.InformedEntities {
		if scope.Matches(entity.StopID) {
			return true
		}
	}
	return false
}

func hasAlert(departure *ctdf.MergedDeparture, id string) bool {
	for _, attached := range departure.Alerts {
		if attached.ID == id {
			return true
		}
	}
	return false
}
