package stopidentity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/ctdf"
)

const stopColumns = `stop_id, COALESCE(stop_name, ''), COALESCE(parent_station, ''), COALESCE(platform_code, ''), COALESCE(location_type, 0)`

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) StopsByIDs(ctx context.Context, ids []string) ([]*ctdf.Stop, error) {
	return s.queryStops(ctx, `SELECT `+stopColumns+` FROM stops WHERE stop_id = ANY($1)`, ids)
}

func (s *PostgresStore) ChildrenOf(ctx context.Context, parentID string) ([]*ctdf.Stop, error) {
	return s.queryStops(ctx, `SELECT `+stopColumns+` FROM stops WHERE parent_station = $1`, parentID)
}

func (s *PostgresStore) StopByIDInsensitive(ctx context.Context, id string) (*ctdf.Stop, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+stopColumns+` FROM stops WHERE lower(stop_id) = lower($1) ORDER BY location_type DESC LIMIT 1`, id)

	stop, err := scanStop(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return stop, err
}

// Aliases reads the optional stop_aliases table. A missing table yields no
// aliases.
func (s *PostgresStore) Aliases(ctx context.Context) (map[string]string, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT to_regclass('stop_aliases') IS NOT NULL`).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check stop_aliases: %w", err)
	}
	if !exists {
		return map[string]string{}, nil
	}

	rows, err := s.pool.Query(ctx, `SELECT alias, stop_id FROM stop_aliases`)
	if err != nil {
		return nil, fmt.Errorf("query stop_aliases: %w", err)
	}
	defer rows.Close()

	aliases := map[string]string{}
	for rows.Next() {
		var alias, stopID string
		if err := rows.Scan(&alias, &stopID); err != nil {
			return nil, fmt.Errorf("scan stop alias: %w", err)
		}
		aliases[alias] = stopID
	}
	return aliases, rows.Err()
}

func (s *PostgresStore) queryStops(ctx context.Context, query string, args ...any) ([]*ctdf.Stop, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stops: %w", err)
	}
	defer rows.Close()

	stops := []*ctdf.Stop{}
	for rows.Next() {
		stop, err := scanStop(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stop: %w", err)
		}
		stops = append(stops, stop)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stops: %w", err)
	}

	return stops, nil
}

func scanStop(row pgx.Row) (*ctdf.Stop, error) {
	var stop ctdf.Stop
	err := row.Scan(&stop.ID, &stop.Name, &stop.ParentStation, &stop.PlatformCode, &stop.LocationType)
	if err != nil {
		return nil, err
	}
	return &stop, nil
}
