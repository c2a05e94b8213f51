package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/database"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/servicetime"
)

var weekdayColumns = map[time.Weekday]string{
	time.Monday:    "monday",
	time.Tuesday:   "tuesday",
	time.Wednesday: "wednesday",
	time.Thursday:  "thursday",
	time.Friday:    "friday",
	time.Saturday:  "saturday",
	time.Sunday:    "sunday",
}

const activeServicesCTE = `
	WITH active_services AS (
		SELECT service_id FROM calendar
		WHERE start_date <= $2 AND end_date >= $2 AND %s = 1
		UNION
		SELECT service_id FROM calendar_dates
		WHERE date = $2 AND exception_type = 1
		EXCEPT
		SELECT service_id FROM calendar_dates
		WHERE date = $2 AND exception_type = 2
	),
	candidates AS (
		SELECT
			st.trip_id,
			st.stop_id,
			st.stop_sequence,
			split_part(st.departure_time, ':', 1)::int * 3600
				+ split_part(st.departure_time, ':', 2)::int * 60
				+ COALESCE(NULLIF(split_part(st.departure_time, ':', 3), ''), '0')::int AS dep_sec
		FROM stop_times st
		WHERE st.stop_id = ANY($1) AND st.departure_time IS NOT NULL AND st.departure_time <> ''
	)`

const primaryQuery = activeServicesCTE + `
	SELECT
		c.trip_id, t.route_id, c.stop_id, c.stop_sequence, c.dep_sec,
		COALESCE(r.route_short_name, ''), COALESCE(r.route_desc, ''), COALESCE(r.route_type, 3),
		COALESCE(t.trip_short_name, ''), COALESCE(t.trip_headsign, ''), COALESCE(a.agency_name, ''),
		COALESCE(s.platform_code, ''), COALESCE(s.parent_station, ''),
		COALESCE(nx.stop_sequence, 0), COALESCE(last.stop_sequence, 0), COALESCE(last.stop_name, '')
	FROM candidates c
	JOIN trips t ON t.trip_id = c.trip_id
	JOIN active_services act ON act.service_id = t.service_id
	JOIN routes r ON r.route_id = t.route_id
	LEFT JOIN agency a ON a.agency_id = r.agency_id
	LEFT JOIN stops s ON s.stop_id = c.stop_id
	LEFT JOIN LATERAL (
		SELECT st2.stop_sequence FROM stop_times st2
		WHERE st2.trip_id = c.trip_id AND st2.stop_sequence > c.stop_sequence
		ORDER BY st2.stop_sequence LIMIT 1
	) nx ON true
	LEFT JOIN LATERAL (
		SELECT st3.stop_sequence, s3.stop_name FROM stop_times st3
		LEFT JOIN stops s3 ON s3.stop_id = st3.stop_id
		WHERE st3.trip_id = c.trip_id
		ORDER BY st3.stop_sequence DESC LIMIT 1
	) last ON true
	WHERE c.dep_sec BETWEEN $3 AND $4
	ORDER BY c.dep_sec, c.trip_id
	LIMIT $5`

const simplifiedQuery = activeServicesCTE + `
	SELECT
		c.trip_id, t.route_id, c.stop_id, c.stop_sequence, c.dep_sec,
		COALESCE(r.route_short_name, ''), COALESCE(r.route_desc, ''), COALESCE(r.route_type, 3),
		COALESCE(t.trip_short_name, ''), COALESCE(t.trip_headsign, ''), '',
		'', '',
		0, 0, ''
	FROM candidates c
	JOIN trips t ON t.trip_id = c.trip_id
	JOIN active_services act ON act.service_id = t.service_id
	JOIN routes r ON r.route_id = t.route_id
	WHERE c.dep_sec BETWEEN $3 AND $4
	ORDER BY c.dep_sec, c.trip_id
	LIMIT $5`

// PostgresStore reads the GTFS tables loaded by the import job.
type PostgresStore struct {
	db      database.TxBeginner
	timeout time.Duration
}

func NewPostgresStore(db database.TxBeginner, timeout time.Duration) *PostgresStore {
	return &PostgresStore{db: db, timeout: timeout}
}

func (s *PostgresStore) StopTimes(ctx context.Context, query DayQuery) ([]Row, error) {
	statement := primaryQuery
	timeout := s.timeout
	if query.Simplified {
		statement = simplifiedQuery
		timeout = s.timeout / 2
	}
	statement = fmt.Sprintf(statement, weekdayColumns[servicetime.WeekdayOf(query.ServiceDate)])

	var rows []Row
	err := database.ReadWithTimeout(ctx, s.db, timeout, func(ctx context.Context, tx pgx.Tx) error {
		result, err := tx.Query(ctx, statement,
			query.StopIDs,
			servicetime.FormatServiceDate(query.ServiceDate),
			query.FromSeconds,
			query.ToSeconds,
			query.Limit,
		)
		if err != nil {
			return err
		}

		rows, err = pgx.CollectRows(result, scanRow)
		return err
	})

	if database.IsTimeout(err) {
		return nil, fmt.Errorf("%w: service date %d: %w", ErrQueryTimeout, query.ServiceDate, err)
	}
	if err != nil {
		return nil, fmt.Errorf("query stop times of %s for %d: %w", strings.Join(query.StopIDs, ","), query.ServiceDate, err)
	}

	return rows, nil
}

func scanRow(row pgx.CollectableRow) (Row, error) {
	var r Row
	err := row.Scan(
		&r.TripID,
		&r.RouteID,
		&r.StopID,
		&r.StopSequence,
		&r.DepartureSeconds,
		&r.RouteShortName,
		&r.RouteDesc,
		&r.RouteType,
		&r.TripShortName,
		&r.Headsign,
		&r.AgencyName,
		&r.PlatformCode,
		&r.ParentStation,
		&r.NextStopSequence,
		&r.LastStopSequence,
		&r.LastStopName,
	)
	return r, err
}
