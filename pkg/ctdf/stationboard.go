package ctdf

import "time"

type StationBoard struct {
	Station    BoardStation       `groups:"basic,debug" json:"station"`
	Departures []*MergedDeparture `groups:"basic,debug" json:"departures"`
	Banners    []*Banner          `groups:"basic,debug" json:"banners"`
	Debug      *Diagnostics       `groups:"debug" json:"debug,omitempty"`
}

type BoardStation struct {
	ID   string `groups:"basic,debug" json:"id"`
	Name string `groups:"basic,debug" json:"name"`
}

type Banner struct {
	ID          string   `groups:"debug" json:"id"`
	Severity    string   `groups:"basic,debug" json:"severity"`
	Header      string   `groups:"basic,debug" json:"header"`
	Description string   `groups:"basic,debug" json:"description"`
	Affected    []string `groups:"basic,debug" json:"affected"`
}

// Diagnostics is the request-scoped record of what each stage produced and
// which sources were degraded.
type Diagnostics struct {
	RequestID   string    `groups:"debug" json:"requestId"`
	GeneratedAt time.Time `groups:"debug" json:"generatedAt"`

	Identity *StationIdentity `groups:"debug" json:"identity,omitempty"`

	TripUpdates FeedDiagnostics `groups:"debug" json:"tripUpdates"`
	Alerts      FeedDiagnostics `groups:"debug" json:"alerts"`

	Stages         map[string]int `groups:"debug" json:"stages"`
	Degradations   []string       `groups:"debug" json:"degradations"`
	WindowExpanded bool           `groups:"debug" json:"windowExpanded"`
}

type FeedDiagnostics struct {
	Status     string `groups:"debug" json:"status"`
	Version    uint64 `groups:"debug" json:"version"`
	AgeSeconds int    `groups:"debug" json:"ageSeconds"`
	Error      string `groups:"debug" json:"error,omitempty"`
}

func NewDiagnostics(requestID string, generatedAt time.Time) *Diagnostics {
	return &Diagnostics{
		RequestID:    requestID,
		GeneratedAt:  generatedAt,
		Stages:       map[string]int{},
		Degradations: []string{},
	}
}

func (d *Diagnostics) Stage(name string, count int) {
	d.Stages[name] = count
}

func (d *Diagnostics) Degrade(reason string) {
	d.Degradations = append(d.Degradations, reason)
}
