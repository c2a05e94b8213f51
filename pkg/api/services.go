package api

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/config"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/database"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/fallbackboard"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/feedcache"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/gtfsrt"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/metrics"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/realtime"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/redis_client"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/schedule"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/stationboard"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/stopidentity"
)

// Services is the wired application: one cache per polled feed and the
// assembler built on top of them.
type Services struct {
	Config    *config.Config
	Metrics   *metrics.Collector
	Assembler *stationboard.Assembler

	TripUpdates *realtime.TripUpdatesService
	Alerts      *realtime.AlertsService
}

// Setup connects the stores and wires every component from the
// configuration. The feed caches are created but not fetched.
func Setup(ctx context.Context, cfg *config.Config) (*Services, error) {
	if err := database.Connect(); err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	collector := metrics.NewCollector()

	cacheOptions := cfg.Cache
	cacheOptions.Metrics = collector
	if redis_client.Configured() {
		if err := redis_client.Connect(); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		cacheOptions.Persister = feedcache.NewRedisPersister(redis_client.Client, cacheOptions.PersistMaxAge)
	}

	tripUpdatesCache := realtime.NewTripUpdatesCache(gtfsrt.NewClient(cfg.TripUpdatesURL, cfg.APIToken, cacheOptions.RequestTimeout), cacheOptions)
	alertsCache := realtime.NewAlertsCache(gtfsrt.NewClient(cfg.AlertsURL, cfg.APIToken, cacheOptions.RequestTimeout), cacheOptions)

	tripUpdates := realtime.NewTripUpdatesService(tripUpdatesCache, cfg.Merge, collector)
	alerts := realtime.NewAlertsService(alertsCache)

	stops := stopidentity.NewPostgresStore(database.GlobalPool)
	aliases, err := loadAliases(ctx, cfg, stops)
	if err != nil {
		return nil, err
	}

	querier := schedule.NewQuerier(schedule.NewPostgresStore(database.GlobalPool, cfg.StatementTimeout), cfg.Schedule, collector)

	dependencies := stationboard.Dependencies{
		Resolver: stopidentity.NewResolver(stops, aliases),
		Schedule: querier,
		Delays:   tripUpdates,
		Alerts:   alerts,
		Stops:    stops,
		Metrics:  collector,
	}
	if cfg.FallbackEnabled {
		dependencies.Fallback = fallbackboard.NewClient(cfg.FallbackURL, cfg.Board.FallbackTimeout)
	}

	return &Services{
		Config:      cfg,
		Metrics:     collector,
		Assembler:   stationboard.NewAssembler(dependencies, cfg.Board),
		TripUpdates: tripUpdates,
		Alerts:      alerts,
	}, nil
}

// loadAliases merges the aliases table of the database with the optional
// CSV file.
func loadAliases(ctx context.Context, cfg *config.Config, stops *stopidentity.PostgresStore) (*stopidentity.AliasTable, error) {
	aliases := stopidentity.NewAliasTable(nil)

	if cfg.AliasesCSV != "" {
		file, err := os.Open(cfg.AliasesCSV)
		if err != nil {
			return nil, fmt.Errorf("open aliases csv: %w", err)
		}
		defer file.Close()

		aliases, err = stopidentity.LoadAliasesCSV(file)
		if err != nil {
			return nil, fmt.Errorf("load aliases csv: %w", err)
		}
	}

	stored, err := stops.Aliases(ctx)
	if err != nil {
		return nil, fmt.Errorf("load stop aliases: %w", err)
	}
	aliases.Add(stored)

	log.Info().Int("aliases", aliases.Len()).Msg("Loaded stop aliases")
	return aliases, nil
}

// Warm keeps both feed caches populated by reading them on the poll floor.
// It goes through the caches, so it cannot exceed the upstream budget.
func (s *Services) Warm(ctx context.Context) {
	interval := s.Config.Cache.MinInterval
	if interval <= 0 {
		interval = feedcache.DefaultOptions().MinInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, _, err := s.TripUpdates.Index(ctx); err != nil {
			log.Debug().Err(err).Msg("Trip updates not available yet")
		}
		if _, _, err := s.Alerts.Alerts(ctx); err != nil {
			log.Debug().Err(err).Msg("Alerts not available yet")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
