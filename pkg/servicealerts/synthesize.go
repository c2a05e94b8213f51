package servicealerts

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/ctdf"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/servicetime"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/util"
	"golang.org/x/exp/slices"
)

// Matches 20:15, 7:05 and 20h15.
var clockPattern = regexp.MustCompile(`(?:^|[^0-9])([01]?[0-9]|2[0-3])[:h]([0-5][0-9])(?:$|[^0-9])`)

const destinationLength = 60

type SynthesisInput struct {
	Alerts   []*ctdf.ServiceAlert
	Identity *ctdf.StationIdentity
	// BoardRoutes are the route ids already on the board.
	BoardRoutes map[string]struct{}

	Now   time.Time
	To    time.Time
	Grace time.Duration
	Lang  string
}

type matchedEntity struct {
	entity ctdf.InformedEntity
	stopID string
}

// Synthesize creates departures for replacement and extra services that are
// only announced through alerts. Only alerts giving an explicit time yield a
// departure.
func Synthesize(input SynthesisInput) []*ctdf.MergedDeparture {
	departures := []*ctdf.MergedDeparture{}
	if input.Identity == nil {
		return departures
	}
	scope := input.Identity.ScopeTokens()

	for _, alert := range input.Alerts {
		class := Classify(alert)
		if !class.Synthesizes() || !alert.IsActive(input.Now) {
			continue
		}

		entities := matchEntities(alert, input, scope)
		if len(entities) == 0 {
			continue
		}

		textTimes := extractClockTimes(alert.AllText())
		seen := map[string]struct{}{}

		for _, matched := range entities {
			times := slices.Clone(textTimes)
			if seconds, err := servicetime.ParseGTFSTime(matched.entity.StartTime); err == nil {
				times = append(times, seconds)
			}

			for _, seconds := range times {
				departureTime := servicetime.NearestLocalClock(input.Now, seconds/3600%24, seconds%3600/60)
				if departureTime.Before(input.Now.Add(-input.Grace)) || departureTime.After(input.To) {
					continue
				}

				key := fmt.Sprintf("%s|%d", matched.stopID, departureTime.Unix())
				if _, exists := seen[key]; exists {
					continue
				}
				seen[key] = struct{}{}

				departures = append(departures, syntheticDeparture(alert, class, matched, departureTime, input.Lang))
			}
		}
	}

	if len(departures) > 0 {
		log.Debug().Int("departures", len(departures)).Str("station", input.Identity.Name()).Msg("Synthesized departures from alerts")
	}

	return departures
}

// matchEntities returns the informed entities of the alert touching the
// station: its stops, then routes on the board. A stopless alert naming the
// station in its text matches the station itself.
func matchEntities(alert *ctdf.ServiceAlert, input SynthesisInput, scope ctdf.StopTokens) []matchedEntity {
	matched := []matchedEntity{}
	for _, entity := range alert.InformedEntities {
		if entity.StopID != "" && scope.Matches(entity.StopID) {
			matched = append(matched, matchedEntity{entity: entity, stopID: entity.StopID})
		}
	}
	if len(matched) > 0 {
		return matched
	}

	canonicalID := ""
	if input.Identity.Canonical != nil {
		canonicalID = input.Identity.Canonical.ID
	}

	for _, entity := range alert.InformedEntities {
		if entity.RouteID == "" {
			continue
		}
		if _, onBoard := input.BoardRoutes[entity.RouteID]; onBoard {
			matched = append(matched, matchedEntity{entity: entity, stopID: canonicalID})
		}
	}
	if len(matched) > 0 || alert.HasStopEntity() {
		return matched
	}

	name := util.FoldText(input.Identity.Name())
	if name != "" && strings.Contains(" "+util.FoldText(alert.AllText())+" ", " "+name+" ") {
		matched = append(matched, matchedEntity{stopID: canonicalID})
	}
	return matched
}

// extractClockTimes returns the distinct times of day written in text, in
// seconds since midnight.
func extractClockTimes(text string) []int {
	times := []int{}
	// Resume right after the minutes so adjacent times can share a delimiter.
	for offset := 0; offset < len(text); {
		location := clockPattern.FindStringSubmatchIndex(text[offset:])
		if location == nil {
			break
		}

		hours, _ := strconv.Atoi(text[offset+location[2] : offset+location[3]])
		minutes, _ := strconv.Atoi(text[offset+location[4] : offset+location[5]])
		seconds := hours*3600 + minutes*60
		if !slices.Contains(times, seconds) {
			times = append(times, seconds)
		}

		offset += location[5]
	}

	slices.Sort(times)
	return times
}

func syntheticDeparture(alert *ctdf.ServiceAlert, class Class, matched matchedEntity, departureTime time.Time, lang string) *ctdf.MergedDeparture {
	label := extraLabel
	if class == ClassReplacement {
		label = replacementLabel
	}

	header, _ := alert.Text(lang)
	serviceDate := servicetime.ServiceDate(departureTime)

	row := &ctdf.ScheduledDeparture{
		TripID:             fmt.Sprintf("alert:%s:%s", alert.ID, departureTime.In(servicetime.Zurich).Format("1504")),
		RouteID:            matched.entity.RouteID,
		StopID:             matched.stopID,
		StopSequence:       matched.entity.StopSequence,
		Line:               label,
		Category:           label,
		Destination:        util.TrimString(header, destinationLength),
		Platform:           ctdf.PlatformOf(matched.stopID),
		ScheduledDeparture: departureTime,
		ServiceDate:        serviceDate,
		DepartureSeconds:   servicetime.ServiceDaySeconds(serviceDate, departureTime),
	}

	departure := ctdf.NewMergedDeparture(row)
	departure.Source = ctdf.DepartureSourceSyntheticAlert
	departure.AddTag(class.Tag())

	return departure
}

const (
	replacementLabel = "EV"
	extraLabel       = "EXTRA"
)
