package ctdf

import (
	"fmt"
	"time"

	"golang.org/x/exp/slices"
)

// ScheduledDeparture is one stop_times row expanded with its trip and route.
type ScheduledDeparture struct {
	TripID       string
	RouteID      string
	StopID       string
	StopSequence int

	Line        string
	Category    string
	Number      string
	Destination string
	Operator    string
	Platform    string

	ScheduledDeparture time.Time

	ServiceDate      int
	DepartureSeconds int
	// NextStopSequence is the sequence of the following stop of the trip, 0
	// when it is unknown.
	NextStopSequence int
	ParentStationID  string
}

type DepartureSource string

const (
	DepartureSourceScheduled      DepartureSource = "scheduled"
	DepartureSourceTripUpdate     DepartureSource = "tripupdate"
	DepartureSourceRealtimeAdded  DepartureSource = "rt_added"
	DepartureSourceSyntheticAlert DepartureSource = "synthetic_alert"
	DepartureSourceFallbackBoard  DepartureSource = "fallback_board"
)

type DepartureStatus string

const (
	DepartureStatusScheduled   DepartureStatus = "SCHEDULED"
	DepartureStatusOnTime      DepartureStatus = "ON_TIME"
	DepartureStatusDelayed     DepartureStatus = "DELAYED"
	DepartureStatusEarly       DepartureStatus = "EARLY"
	DepartureStatusCancelled   DepartureStatus = "CANCELLED"
	DepartureStatusSkippedStop DepartureStatus = "SKIPPED_STOP"
)

const (
	CancelReasonCanceledTrip      = "CANCELED_TRIP"
	CancelReasonSkippedStop       = "SKIPPED_STOP"
	CancelReasonShortTurnTerminus = "SHORT_TURN_TERMINUS"
)

const (
	StopEventScheduled = "SCHEDULED"
	StopEventSkipped   = "SKIPPED"
)

const (
	TagReplacement       = "replacement"
	TagExtra             = "extra"
	TagSkippedStop       = "skipped_stop"
	TagShortTurn         = "short_turn"
	TagShortTurnTerminus = "short_turn_terminus"
)

const (
	FlagPlatformChanged   = "platform_changed"
	FlagTripFallbackDelay = "trip_fallback_delay"
	FlagEarly             = "early"
	FlagWindowExpanded    = "window_expanded"
)

// MergedDeparture is a departure as shown on the board, after realtime data
// has been applied.
type MergedDeparture struct {
	TripID       string `groups:"basic,debug" json:"trip_id"`
	RouteID      string `groups:"basic,debug" json:"route_id"`
	StopID       string `groups:"basic,debug" json:"stop_id"`
	StopSequence int    `groups:"basic,debug" json:"stop_sequence"`

	Line        string `groups:"basic,debug" json:"line"`
	Category    string `groups:"basic,debug" json:"category"`
	Number      string `groups:"basic,debug" json:"number"`
	Destination string `groups:"basic,debug" json:"destination"`
	Operator    string `groups:"debug" json:"operator,omitempty"`

	ScheduledDeparture time.Time  `groups:"basic,debug" json:"scheduledDeparture"`
	RealtimeDeparture  *time.Time `groups:"basic,debug" json:"realtimeDeparture"`
	DelayMin           *int       `groups:"basic,debug" json:"delayMin"`

	Platform        string `groups:"basic,debug" json:"platform"`
	PlatformChanged bool   `groups:"basic,debug" json:"platformChanged"`

	Cancelled        bool            `groups:"basic,debug" json:"cancelled"`
	CancelReasonCode string          `groups:"basic,debug" json:"cancelReasonCode"`
	Status           DepartureStatus `groups:"basic,debug" json:"status"`

	Flags  []string         `groups:"basic,debug" json:"flags"`
	Tags   []string         `groups:"basic,debug" json:"tags"`
	Alerts []*AttachedAlert `groups:"basic,debug" json:"alerts"`
	Source DepartureSource  `groups:"basic,debug" json:"source"`

	SuppressedStop bool   `groups:"debug" json:"suppressedStop"`
	StopEvent      string `groups:"debug" json:"stopEvent"`
	DelaySeconds   *int   `groups:"debug" json:"delaySeconds"`
	RealtimeStopID string `groups:"debug" json:"realtimeStopId,omitempty"`

	ServiceDate      int    `json:"-"`
	DepartureSeconds int    `json:"-"`
	NextStopSequence int    `json:"-"`
	ParentStationID  string `json:"-"`
}

// AttachedAlert is the per-departure view of a service alert.
type AttachedAlert struct {
	ID          string `groups:"basic,debug" json:"id"`
	Severity    string `groups:"basic,debug" json:"severity"`
	Header      string `groups:"basic,debug" json:"header"`
	Description string `groups:"basic,debug" json:"description"`
	Match       string `groups:"debug" json:"match"`
}

func NewMergedDeparture(scheduled *ScheduledDeparture) *MergedDeparture {
	return &MergedDeparture{
		TripID:             scheduled.TripID,
		RouteID:            scheduled.RouteID,
		StopID:             scheduled.StopID,
		StopSequence:       scheduled.StopSequence,
		Line:               scheduled.Line,
		Category:           scheduled.Category,
		Number:             scheduled.Number,
		Destination:        scheduled.Destination,
		Operator:           scheduled.Operator,
		Platform:           scheduled.Platform,
		ScheduledDeparture: scheduled.ScheduledDeparture,
		Status:             DepartureStatusScheduled,
		StopEvent:          StopEventScheduled,
		Source:             DepartureSourceScheduled,
		Flags:              []string{},
		Tags:               []string{},
		Alerts:             []*AttachedAlert{},
		ServiceDate:        scheduled.ServiceDate,
		DepartureSeconds:   scheduled.DepartureSeconds,
		NextStopSequence:   scheduled.NextStopSequence,
		ParentStationID:    scheduled.ParentStationID,
	}
}

// EffectiveDeparture is the realtime instant when known, else the scheduled one.
func (d *MergedDeparture) EffectiveDeparture() time.Time {
	if d.RealtimeDeparture != nil {
		return *d.RealtimeDeparture
	}
	return d.ScheduledDeparture
}

// DedupeKey identifies the same departure across sources.
func (d *MergedDeparture) DedupeKey() string {
	return fmt.Sprintf("%s|%s|%d|%d", d.TripID, d.StopID, d.StopSequence, d.ScheduledDeparture.Unix())
}

func (d *MergedDeparture) HasTag(tag string) bool {
	return slices.Contains(d.Tags, tag)
}

func (d *MergedDeparture) AddTag(tags ...string) {
	for _, tag := range tags {
		if !slices.Contains(d.Tags, tag) {
			d.Tags = append(d.Tags, tag)
		}
	}
}

func (d *MergedDeparture) HasFlag(flag string) bool {
	return slices.Contains(d.Flags, flag)
}

func (d *MergedDeparture) AddFlag(flags ...string) {
	for _, flag := range flags {
		if !slices.Contains(d.Flags, flag) {
			d.Flags = append(d.Flags, flag)
		}
	}
}

// HasRealtimeSignal reports whether any realtime source touched the row.
func (d *MergedDeparture) HasRealtimeSignal() bool {
	if d.DelaySeconds != nil {
		return true
	}
	if d.Source == DepartureSourceTripUpdate || d.Source == DepartureSourceRealtimeAdded {
		return true
	}
	return d.RealtimeDeparture != nil && !d.RealtimeDeparture.Equal(d.ScheduledDeparture)
}

// LooksReplacement is true for rows that are already replacement or extra
// services, either by origin or by their EV line label.
func (d *MergedDeparture) LooksReplacement() bool {
	if d.Source == DepartureSourceSyntheticAlert || d.Source == DepartureSourceFallbackBoard {
		return true
	}
	return IsReplacementLabel(d.Category) || IsReplacementLabel(d.Line)
}

// IsReplacementLabel matches the EV (Ersatzverkehr) line labels.
func IsReplacementLabel(label string) bool {
	return len(label) >= 2 && (label[:2] == "EV" || label[:2] == "ev") &&
		(len(label) == 2 || label[2] == ' ' || (label[2] >= '0' && label[2] <= '9'))
}
