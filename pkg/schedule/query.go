package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/ctdf"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/metrics"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/servicetime"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/util"
	"golang.org/x/exp/slices"
)

type Options struct {
	// YesterdayCutoff is how long after local midnight the previous service
	// day is still queried for its post-midnight departures.
	YesterdayCutoff time.Duration
	// Limit caps the rows fetched per service day.
	Limit int
}

func DefaultOptions() Options {
	return Options{
		YesterdayCutoff: 6 * time.Hour,
		Limit:           400,
	}
}

// Request is a board query for one station group over [From, To].
type Request struct {
	StopIDs  []string
	ParentID string
	Now      time.Time
	From     time.Time
	To       time.Time
}

type Result struct {
	Departures   []*ctdf.ScheduledDeparture
	ServiceDates []int
	UsedParent   bool
	Degradations []string
}

type Querier struct {
	store   Store
	opts    Options
	metrics *metrics.Collector
}

func NewQuerier(store Store, opts Options, collector *metrics.Collector) *Querier {
	defaults := DefaultOptions()
	if opts.YesterdayCutoff <= 0 {
		opts.YesterdayCutoff = defaults.YesterdayCutoff
	}
	if opts.Limit <= 0 {
		opts.Limit = defaults.Limit
	}

	return &Querier{store: store, opts: opts, metrics: collector}
}

// Departures returns the scheduled departures of the stops within the
// window. Failing service days degrade to no rows and are reported in the
// result, the call itself never fails.
func (q *Querier) Departures(ctx context.Context, request Request) *Result {
	result := &Result{
		ServiceDates: q.serviceDates(request),
		Departures:   []*ctdf.ScheduledDeparture{},
		Degradations: []string{},
	}

	result.Departures = q.queryDays(ctx, request.StopIDs, request, result)

	if len(result.Departures) == 0 && request.ParentID != "" && !slices.Contains(request.StopIDs, request.ParentID) {
		log.Debug().Str("parent", request.ParentID).Msg("No platform level departures, retrying with the parent stop")
		result.UsedParent = true
		result.Departures = q.queryDays(ctx, []string{request.ParentID}, request, result)
	}

	return result
}

type dayResult struct {
	serviceDate int
	departures  []*ctdf.ScheduledDeparture
	degradation string
}

func (q *Querier) queryDays(ctx context.Context, stopIDs []string, request Request, result *Result) []*ctdf.ScheduledDeparture {
	p := pool.NewWithResults[dayResult]()
	p.WithMaxGoroutines(len(result.ServiceDates) + 1)

	for _, serviceDate := range result.ServiceDates {
		query := DayQuery{
			StopIDs:     stopIDs,
			ServiceDate: serviceDate,
			FromSeconds: max(0, servicetime.ServiceDaySeconds(serviceDate, request.From)),
			ToSeconds:   servicetime.ServiceDaySeconds(serviceDate, request.To),
			Limit:       q.opts.Limit,
		}
		if query.ToSeconds < query.FromSeconds {
			continue
		}

		p.Go(func() dayResult {
			return q.queryDay(ctx, query)
		})
	}

	days := p.Wait()
	slices.SortFunc(days, func(a, b dayResult) int { return a.serviceDate - b.serviceDate })

	seen := map[string]struct{}{}
	departures := []*ctdf.ScheduledDeparture{}
	for _, day := range days {
		if day.degradation != "" {
			result.Degradations = append(result.Degradations, day.degradation)
		}
		for _, departure := range day.departures {
			key := fmt.Sprintf("%s|%s|%d|%d", departure.TripID, departure.StopID, departure.StopSequence, departure.DepartureSeconds)
			if _, exists := seen[key]; exists {
				continue
			}
			seen[key] = struct{}{}
			departures = append(departures, departure)
		}
	}

	slices.SortStableFunc(departures, func(a, b *ctdf.ScheduledDeparture) int {
		return a.ScheduledDeparture.Compare(b.ScheduledDeparture)
	})

	return departures
}

func (q *Querier) queryDay(ctx context.Context, query DayQuery) dayResult {
	result := dayResult{serviceDate: query.ServiceDate}

	rows, err := q.store.StopTimes(ctx, query)
	if errors.Is(err, ErrQueryTimeout) {
		q.metrics.ObserveScheduleQuery("primary", "timeout")
		log.Warn().Int("servicedate", query.ServiceDate).Msg("Schedule query timed out, using the simplified query")

		query.Simplified = true
		rows, err = q.store.StopTimes(ctx, query)
		result.degradation = fmt.Sprintf("schedule:%d:simplified", query.ServiceDate)
	}

	mode := "primary"
	if query.Simplified {
		mode = "simplified"
	}

	if err != nil {
		q.metrics.ObserveScheduleQuery(mode, "error")
		log.Error().Err(err).Int("servicedate", query.ServiceDate).Str("mode", mode).Msg("Schedule query failed")

		result.degradation = fmt.Sprintf("schedule:%d:failed", query.ServiceDate)
		return result
	}
	q.metrics.ObserveScheduleQuery(mode, "ok")

	util.InPlaceFilter(&rows, func(row Row) bool {
		return !row.IsTerminal()
	})

	result.departures = make([]*ctdf.ScheduledDeparture, 0, len(rows))
	for i := range rows {
		result.departures = append(result.departures, rows[i].Departure(query.ServiceDate))
	}

	return result
}

// serviceDates lists the service days whose departures can fall in the
// window: yesterday shortly after midnight, today, and tomorrow when the
// window crosses midnight.
func (q *Querier) serviceDates(request Request) []int {
	today := servicetime.ServiceDate(request.Now)
	dates := []int{}

	if time.Duration(servicetime.SecondsSinceMidnight(request.Now))*time.Second < q.opts.YesterdayCutoff ||
		servicetime.ServiceDate(request.From) < today {
		dates = append(dates, servicetime.AddDays(today, -1))
	}
	dates = append(dates, today)
	if servicetime.ServiceDate(request.To) > today {
		dates = append(dates, servicetime.AddDays(today, 1))
	}

	return dates
}
