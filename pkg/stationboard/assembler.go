package stationboard

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/ctdf"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/delayindex"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/metrics"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/schedule"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/servicealerts"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/util"
	"golang.org/x/exp/slices"
)

type IdentityResolver interface {
	Resolve(ctx context.Context, candidates ...string) (*ctdf.StationIdentity, error)
}

type ScheduleSource interface {
	Departures(ctx context.Context, request schedule.Request) *schedule.Result
}

type DelaySource interface {
	Index(ctx context.Context) (*delayindex.Index, ctdf.FeedDiagnostics, error)
}

type AlertSource interface {
	Alerts(ctx context.Context) ([]*ctdf.ServiceAlert, ctdf.FeedDiagnostics, error)
}

type FallbackBoard interface {
	ReplacementDepartures(ctx context.Context, station string, limit int) ([]*ctdf.MergedDeparture, error)
}

type StopDirectory interface {
	StopsByIDs(ctx context.Context, ids []string) ([]*ctdf.Stop, error)
}

type Options struct {
	// Lookback is how far before now scheduled rows are fetched, so that
	// late running departures are still found.
	Lookback          time.Duration
	Lookahead         time.Duration
	MaxLookahead      time.Duration
	Grace             time.Duration
	SparseThreshold   int
	ExpandedLookahead time.Duration
	Limit             int
	MaxLimit          int
	FallbackTimeout   time.Duration

	Apply ApplyPolicy
}

func DefaultOptions() Options {
	return Options{
		Lookback:          2 * time.Hour,
		Lookahead:         90 * time.Minute,
		MaxLookahead:      6 * time.Hour,
		Grace:             2 * time.Minute,
		SparseThreshold:   5,
		ExpandedLookahead: 4 * time.Hour,
		Limit:             40,
		MaxLimit:          200,
		FallbackTimeout:   4 * time.Second,
		Apply:             DefaultApplyPolicy(),
	}
}

type Request struct {
	Station   string
	Lang      string
	Limit     int
	Lookahead time.Duration
	Debug     bool
}

// Dependencies of the assembler. Delays, Alerts, Fallback and Stops are
// optional.
type Dependencies struct {
	Resolver IdentityResolver
	Schedule ScheduleSource
	Delays   DelaySource
	Alerts   AlertSource
	Fallback FallbackBoard
	Stops    StopDirectory
	Metrics  *metrics.Collector
}

type Assembler struct {
	deps Dependencies
	opts Options
	now  func() time.Time
}

func NewAssembler(deps Dependencies, opts Options) *Assembler {
	return &Assembler{deps: deps, opts: opts, now: time.Now}
}

// Build assembles the board of one station. Only a failure to resolve the
// station is returned as an error; every other source degrades to no data
// and is recorded in the diagnostics.
func (a *Assembler) Build(ctx context.Context, request Request) (*ctdf.StationBoard, error) {
	started := a.now()
	now := started
	diagnostics := ctdf.NewDiagnostics(uuid.NewString(), now)

	identity, err := a.deps.Resolver.Resolve(ctx, request.Station)
	if err != nil {
		return nil, err
	}
	diagnostics.Identity = identity
	diagnostics.Stage("children", len(identity.Children))

	limit := a.limit(request.Limit)
	lookahead := a.lookahead(request.Lookahead)

	var index *delayindex.Index
	var alerts []*ctdf.ServiceAlert
	var indexErr, alertsErr error

	var wg conc.WaitGroup
	wg.Go(func() {
		index, diagnostics.TripUpdates, indexErr = a.readDelays(ctx)
	})
	wg.Go(func() {
		alerts, diagnostics.Alerts, alertsErr = a.readAlerts(ctx)
	})
	rows := a.scheduled(ctx, identity, now, lookahead, diagnostics)
	wg.Wait()

	if indexErr != nil {
		diagnostics.Degrade("tripupdates:" + diagnostics.TripUpdates.Status)
	}
	if alertsErr != nil {
		diagnostics.Degrade("alerts:" + diagnostics.Alerts.Status)
	}
	diagnostics.Stage("index_entries", index.Len())
	diagnostics.Stage("alerts", len(alerts))

	departures := visible(Apply(rows, index, a.opts.Apply), now, now.Add(lookahead), a.opts.Grace)
	diagnostics.Stage("visible", len(departures))

	if len(departures) < a.opts.SparseThreshold && lookahead < a.opts.ExpandedLookahead {
		initialEnd := now.Add(lookahead)
		lookahead = a.opts.ExpandedLookahead

		rows = a.scheduled(ctx, identity, now, lookahead, diagnostics)
		departures = visible(Apply(rows, index, a.opts.Apply), now, now.Add(lookahead), a.opts.Grace)
		for _, departure := range departures {
			if departure.EffectiveDeparture().After(initialEnd) {
				departure.AddFlag(ctdf.FlagWindowExpanded)
			}
		}

		diagnostics.WindowExpanded = true
		diagnostics.Stage("visible_expanded", len(departures))
	}
	sortDepartures(departures)

	to := now.Add(lookahead)
	scope := identity.ScopeTokens()

	added := ExtractAdded(index.Added(), scope, AddedWindow{Now: now, To: to, Grace: a.opts.Grace}, a.destinations(ctx, index.Added(), scope), a.opts.Apply)
	diagnostics.Stage("added", len(added))

	synthesized := servicealerts.Synthesize(servicealerts.SynthesisInput{
		Alerts:      alerts,
		Identity:    identity,
		BoardRoutes: routesOf(departures),
		Now:         now,
		To:          to,
		Grace:       a.opts.Grace,
		Lang:        request.Lang,
	})
	diagnostics.Stage("synthesized", len(synthesized))

	merged := Dedupe(departures, added, synthesized)
	attached := servicealerts.Attach(merged, alerts, identity, now, request.Lang)
	departures = attached.Departures
	diagnostics.Stage("banners", len(attached.Banners))

	if a.deps.Fallback != nil && replacementAnnounced(alerts, attached, now) && !hasReplacement(departures) {
		departures = Dedupe(departures, a.fallbackDepartures(ctx, identity, now, to, limit, diagnostics))
	}

	sortDepartures(departures)
	if len(departures) > limit {
		departures = departures[:limit]
	}
	diagnostics.Stage("departures", len(departures))

	board := &ctdf.StationBoard{
		Station: ctdf.BoardStation{
			ID:   identity.Canonical.ID,
			Name: identity.Name(),
		},
		Departures: departures,
		Banners:    attached.Banners,
	}
	if request.Debug {
		board.Debug = diagnostics
	}

	took := a.now().Sub(started)
	a.deps.Metrics.ObserveBoard(took, diagnostics.Degradations)

	log.Debug().
		Str("request", diagnostics.RequestID).
		Str("station", board.Station.ID).
		Int("departures", len(departures)).
		Strs("degradations", diagnostics.Degradations).
		Dur("took", took).
		Msg("Assembled stationboard")

	return board, nil
}

func (a *Assembler) limit(requested int) int {
	switch {
	case requested <= 0:
		return a.opts.Limit
	case requested > a.opts.MaxLimit:
		return a.opts.MaxLimit
	}
	return requested
}

func (a *Assembler) lookahead(requested time.Duration) time.Duration {
	switch {
	case requested <= 0:
		return a.opts.Lookahead
	case requested > a.opts.MaxLookahead:
		return a.opts.MaxLookahead
	}
	return requested
}

func (a *Assembler) readDelays(ctx context.Context) (*delayindex.Index, ctdf.FeedDiagnostics, error) {
	if a.deps.Delays == nil {
		return delayindex.Empty(), ctdf.FeedDiagnostics{Status: "DISABLED"}, nil
	}

	index, feed, err := a.deps.Delays.Index(ctx)
	if index == nil {
		index = delayindex.Empty()
	}
	return index, feed, err
}

func (a *Assembler) readAlerts(ctx context.Context) ([]*ctdf.ServiceAlert, ctdf.FeedDiagnostics, error) {
	if a.deps.Alerts == nil {
		return nil, ctdf.FeedDiagnostics{Status: "DISABLED"}, nil
	}
	return a.deps.Alerts.Alerts(ctx)
}

func (a *Assembler) scheduled(ctx context.Context, identity *ctdf.StationIdentity, now time.Time, lookahead time.Duration, diagnostics *ctdf.Diagnostics) []*ctdf.ScheduledDeparture {
	stopIDs := identity.ChildIDs()
	if len(stopIDs) == 0 {
		stopIDs = []string{identity.Canonical.ID}
	}

	result := a.deps.Schedule.Departures(ctx, schedule.Request{
		StopIDs:  stopIDs,
		ParentID: identity.Canonical.ID,
		Now:      now,
		From:     now.Add(-a.opts.Lookback),
		To:       now.Add(lookahead),
	})

	for _, degradation := range result.Degradations {
		diagnostics.Degrade(degradation)
	}
	if result.UsedParent {
		diagnostics.Stage("scheduled_parent", 1)
	}
	diagnostics.Stage("scheduled", len(result.Departures))

	return result.Departures
}

// destinations names the last stops of added trips serving the station.
func (a *Assembler) destinations(ctx context.Context, added []*delayindex.AddedStop, scope ctdf.StopTokens) map[string]string {
	names := map[string]string{}
	if a.deps.Stops == nil {
		return names
	}

	ids := []string{}
	for _, stop := range added {
		if stop.LastStopID != "" && scope.Matches(stop.StopID) {
			ids = append(ids, stop.LastStopID, ctdf.RootStopID(stop.LastStopID))
		}
	}
	if len(ids) == 0 {
		return names
	}

	stops, err := a.deps.Stops.StopsByIDs(ctx, util.Unique(ids))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load added trip destinations")
		return names
	}
	for _, stop := range stops {
		names[stop.ID] = stop.Name
	}
	return names
}

func (a *Assembler) fallbackDepartures(ctx context.Context, identity *ctdf.StationIdentity, now time.Time, to time.Time, limit int, diagnostics *ctdf.Diagnostics) []*ctdf.MergedDeparture {
	ctx, cancel := context.WithTimeout(ctx, a.opts.FallbackTimeout)
	defer cancel()

	rows, err := a.deps.Fallback.ReplacementDepartures(ctx, ctdf.RootStopID(identity.Canonical.ID), limit)
	if err != nil {
		log.Warn().Err(err).Str("station", identity.Canonical.ID).Msg("Fallback stationboard failed")
		diagnostics.Degrade("fallback_board:failed")
		return nil
	}

	rows = visible(rows, now, to, a.opts.Grace)
	diagnostics.Stage("fallback_board", len(rows))
	return rows
}

// visible keeps departures whose effective instant lies in
// [now - grace, to].
func visible(departures []*ctdf.MergedDeparture, now time.Time, to time.Time, grace time.Duration) []*ctdf.MergedDeparture {
	from := now.Add(-grace)
	util.InPlaceFilter(&departures, func(departure *ctdf.MergedDeparture) bool {
		at := departure.EffectiveDeparture()
		return !at.Before(from) && !at.After(to)
	})
	return departures
}

func sortDepartures(departures []*ctdf.MergedDeparture) {
	slices.SortStableFunc(departures, func(a, b *ctdf.MergedDeparture) int {
		if c := a.EffectiveDeparture().Compare(b.EffectiveDeparture()); c != 0 {
			return c
		}
		if c := a.ScheduledDeparture.Compare(b.ScheduledDeparture); c != 0 {
			return c
		}
		switch {
		case util.NaturalLess(a.Line, b.Line):
			return -1
		case util.NaturalLess(b.Line, a.Line):
			return 1
		}
		return 0
	})
}

func routesOf(departures []*ctdf.MergedDeparture) map[string]struct{} {
	routes := map[string]struct{}{}
	for _, departure := range departures {
		if departure.RouteID != "" {
			routes[departure.RouteID] = struct{}{}
		}
	}
	return routes
}

// replacementAnnounced reports an active replacement alert that reached the
// board, as a banner or on a departure.
func replacementAnnounced(alerts []*ctdf.ServiceAlert, attached servicealerts.AttachResult, now time.Time) bool {
	announced := map[string]struct{}{}
	for _, alert := range alerts {
		if alert.IsActive(now) && servicealerts.Classify(alert) == servicealerts.ClassReplacement {
			announced[alert.ID] = struct{}{}
		}
	}
	if len(announced) == 0 {
		return false
	}

	for _, banner := range attached.Banners {
		if _, ok := announced[banner.ID]; ok {
			return true
		}
	}
	for _, departure := range attached.Departures {
		for _, alert := range departure.Alerts {
			if _, ok := announced[alert.ID]; ok {
				return true
			}
		}
	}
	return false
}

func hasReplacement(departures []*ctdf.MergedDeparture) bool {
	for _, departure := range departures {
		if departure.Cancelled {
			continue
		}
		if departure.LooksReplacement() || departure.HasTag(ctdf.TagReplacement) {
			return true
		}
	}
	return false
}
