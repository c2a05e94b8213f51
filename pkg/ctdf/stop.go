package ctdf

// Stop is a row of the GTFS stops table.
type Stop struct {
	ID            string `groups:"basic,debug" json:"id"`
	Name          string `groups:"basic,debug" json:"name"`
	ParentStation string `groups:"debug" json:"parent_station,omitempty"`
	PlatformCode  string `groups:"debug" json:"platform_code,omitempty"`
	LocationType  int    `groups:"debug" json:"location_type"`
}

// StationIdentity is a resolved station: the canonical parent, its ordered
// platform-level children and how the input was matched.
type StationIdentity struct {
	Canonical *Stop    `groups:"basic,debug" json:"canonical"`
	Children  []*Stop  `groups:"debug" json:"children"`
	Aliases   []string `groups:"debug" json:"aliases,omitempty"`
	Source    string   `groups:"debug" json:"source"`
	Tried     []string `groups:"debug" json:"tried"`
}

const (
	ResolutionSourceDirect = "direct"
	ResolutionSourceAlias  = "alias"
	ResolutionSourceDB     = "db"
)

func (s *StationIdentity) ChildIDs() []string {
	ids := make([]string, 0, len(s.Children))
	for _, child := range s.Children {
		ids = append(ids, child.ID)
	}
	return ids
}

// ScopeTokens is the token set of every stop belonging to the station.
func (s *StationIdentity) ScopeTokens() StopTokens {
	tokens := StopTokens{}
	if s.Canonical != nil {
		tokens.Add(s.Canonical.ID)
	}
	for _, child := range s.Children {
		tokens.Add(child.ID)
	}
	return tokens
}

func (s *StationIdentity) Contains(stopID string) bool {
	return s.ScopeTokens().Matches(stopID)
}

func (s *StationIdentity) Name() string {
	if s.Canonical == nil {
		return ""
	}
	return s.Canonical.Name
}
