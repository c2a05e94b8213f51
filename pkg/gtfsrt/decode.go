package gtfsrt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/rs/zerolog/log"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/ctdf"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// DecodeError marks a payload that could not be turned into a FeedMessage.
type DecodeError struct {
	Format string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s feed: %s", e.Format, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// alertExtras holds the non-standard fields some JSON producers add to
// informed entities.
type alertExtras map[string][]int

func decodeMessage(payload []byte) (*gtfs.FeedMessage, alertExtras, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, nil, &DecodeError{Format: "empty", Err: fmt.Errorf("no content")}
	}

	message := &gtfs.FeedMessage{}

	if trimmed[0] != '{' {
		options := proto.UnmarshalOptions{AllowPartial: true, DiscardUnknown: true}
		if err := options.Unmarshal(trimmed, message); err != nil {
			return nil, nil, &DecodeError{Format: "protobuf", Err: err}
		}
		return message, nil, nil
	}

	normalized, err := normalizeJSON(trimmed)
	if err != nil {
		return nil, nil, &DecodeError{Format: "json", Err: err}
	}

	options := protojson.UnmarshalOptions{AllowPartial: true, DiscardUnknown: true}
	if err := options.Unmarshal(normalized, message); err != nil {
		return nil, nil, &DecodeError{Format: "json", Err: err}
	}

	return message, extractAlertExtras(normalized), nil
}

// normalizeJSON rewrites every object key to its snake_case proto name and
// drops extension keys, so the rest of the pipeline only deals with one
// spelling.
func normalizeJSON(payload []byte) ([]byte, error) {
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()

	var tree any
	if err := decoder.Decode(&tree); err != nil {
		return nil, err
	}

	return json.Marshal(normalizeKeys(tree))
}

func normalizeKeys(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		normalized := make(map[string]any, len(typed))
		for key, child := range typed {
			if strings.HasPrefix(key, "[") {
				continue
			}
			normalized[snakeCase(key)] = normalizeKeys(child)
		}
		return normalized
	case []any:
		for i, child := range typed {
			typed[i] = normalizeKeys(child)
		}
		return typed
	default:
		return value
	}
}

func snakeCase(key string) string {
	var builder strings.Builder
	builder.Grow(len(key) + 4)

	var previous rune
	for i, r := range key {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(previous) || unicode.IsDigit(previous)) {
				builder.WriteByte('_')
			}
			builder.WriteRune(unicode.ToLower(r))
		} else {
			builder.WriteRune(r)
		}
		previous = r
	}

	return builder.String()
}

func extractAlertExtras(normalized []byte) alertExtras {
	var document struct {
		Entity []struct {
			ID    string `json:"id"`
			Alert *struct {
				InformedEntity []struct {
					StopSequence *int `json:"stop_sequence"`
				} `json:"informed_entity"`
			} `json:"alert"`
		} `json:"entity"`
	}

	if err := json.Unmarshal(normalized, &document); err != nil {
		return nil
	}

	extras := alertExtras{}
	for _, entity := range document.Entity {
		if entity.Alert == nil {
			continue
		}
		sequences := make([]int, len(entity.Alert.InformedEntity))
		found := false
		for i, informed := range entity.Alert.InformedEntity {
			if informed.StopSequence != nil {
				sequences[i] = *informed.StopSequence
				found = true
			}
		}
		if found {
			extras[entity.ID] = sequences
		}
	}

	return extras
}

func unixTime(seconds uint64) time.Time {
	if seconds == 0 {
		return time.Time{}
	}
	return time.Unix(int64(seconds), 0)
}

// DecodeTripUpdates turns a protobuf or JSON payload into a TripUpdateFeed.
func DecodeTripUpdates(payload []byte) (*TripUpdateFeed, error) {
	message, _, err := decodeMessage(payload)
	if err != nil {
		return nil, err
	}

	feed := &TripUpdateFeed{
		Timestamp: unixTime(message.GetHeader().GetTimestamp()),
	}

	stopUpdates := 0
	for _, entity := range message.GetEntity() {
		tripUpdate := entity.GetTripUpdate()
		if entity.GetIsDeleted() || tripUpdate == nil {
			continue
		}

		trip := tripUpdate.GetTrip()
		update := &TripUpdate{
			EntityID:     entity.GetId(),
			TripID:       trip.GetTripId(),
			RouteID:      trip.GetRouteId(),
			StartDate:    trip.GetStartDate(),
			StartTime:    trip.GetStartTime(),
			Relationship: TripRelationship(trip.GetScheduleRelationship().String()),
			ShortName:    strings.TrimSpace(tripUpdate.GetVehicle().GetLabel()),
			ObservedAt:   unixTime(tripUpdate.GetTimestamp()),
		}
		if update.ObservedAt.IsZero() {
			update.ObservedAt = feed.Timestamp
		}
		if update.TripID == "" {
			continue
		}

		for _, stopTimeUpdate := range tripUpdate.GetStopTimeUpdate() {
			converted := &StopTimeUpdate{
				StopID:       stopTimeUpdate.GetStopId(),
				StopSequence: NoSequence,
				Relationship: StopRelationship(stopTimeUpdate.GetScheduleRelationship().String()),
				Arrival:      convertEvent(stopTimeUpdate.GetArrival()),
				Departure:    convertEvent(stopTimeUpdate.GetDeparture()),
			}
			if stopTimeUpdate.StopSequence != nil {
				converted.StopSequence = int(stopTimeUpdate.GetStopSequence())
			}

			update.StopTimeUpdates = append(update.StopTimeUpdates, converted)
		}

		stopUpdates += len(update.StopTimeUpdates)
		feed.Trips = append(feed.Trips, update)
	}

	log.Debug().
		Int("trips", len(feed.Trips)).
		Int("stopupdates", stopUpdates).
		Time("timestamp", feed.Timestamp).
		Msg("Decoded trip updates feed")

	return feed, nil
}

func convertEvent(event *gtfs.TripUpdate_StopTimeEvent) *StopTimeEvent {
	if event == nil {
		return nil
	}

	converted := &StopTimeEvent{}
	if event.Time != nil && event.GetTime() > 0 {
		converted.Time = time.Unix(event.GetTime(), 0)
	}
	if event.Delay != nil {
		delay := int(event.GetDelay())
		converted.Delay = &delay
	}

	if converted.Time.IsZero() && converted.Delay == nil {
		return nil
	}
	return converted
}

// DecodeAlerts turns a protobuf or JSON payload into service alerts.
func DecodeAlerts(payload []byte) ([]*ctdf.ServiceAlert, error) {
	message, extras, err := decodeMessage(payload)
	if err != nil {
		return nil, err
	}

	alerts := []*ctdf.ServiceAlert{}
	for _, entity := range message.GetEntity() {
		alert := entity.GetAlert()
		if entity.GetIsDeleted() || alert == nil {
			continue
		}

		serviceAlert := &ctdf.ServiceAlert{
			ID:          entity.GetId(),
			Severity:    alert.GetSeverityLevel().String(),
			Effect:      ctdf.AlertEffect(alert.GetEffect().String()),
			Cause:       alert.GetCause().String(),
			Header:      translations(alert.GetHeaderText()),
			Description: translations(alert.GetDescriptionText()),
		}

		for _, period := range alert.GetActivePeriod() {
			serviceAlert.ActivePeriods = append(serviceAlert.ActivePeriods, ctdf.ActivePeriod{
				Start: unixTime(period.GetStart()),
				End:   unixTime(period.GetEnd()),
			})
		}

		sequences := extras[entity.GetId()]
		for i, informed := range alert.GetInformedEntity() {
			trip := informed.GetTrip()
			informedEntity := ctdf.InformedEntity{
				AgencyID:  informed.GetAgencyId(),
				RouteID:   informed.GetRouteId(),
				StopID:    informed.GetStopId(),
				TripID:    trip.GetTripId(),
				StartDate: trip.GetStartDate(),
				StartTime: trip.GetStartTime(),
			}
			if informedEntity.RouteID == "" {
				informedEntity.RouteID = trip.GetRouteId()
			}
			if i < len(sequences) {
				informedEntity.StopSequence = sequences[i]
			}

			serviceAlert.InformedEntities = append(serviceAlert.InformedEntities, informedEntity)
		}

		alerts = append(alerts, serviceAlert)
	}

	log.Debug().Int("alerts", len(alerts)).Msg("Decoded service alerts feed")

	return alerts, nil
}

func translations(text *gtfs.TranslatedString) map[string]string {
	texts := map[string]string{}
	for _, translation := range text.GetTranslation() {
		language := strings.ToLower(translation.GetLanguage())
		if _, exists := texts[language]; exists || translation.GetText() == "" {
			continue
		}
		texts[language] = translation.GetText()
	}
	return texts
}
