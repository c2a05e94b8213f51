package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/ctdf"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/delayindex"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/feedcache"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/gtfsrt"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/metrics"
)

type TripUpdatesCache = feedcache.Cache[*gtfsrt.TripUpdateFeed]

func NewTripUpdatesCache(client *gtfsrt.Client, opts feedcache.Options) *TripUpdatesCache {
	return feedcache.New[*gtfsrt.TripUpdateFeed]("tripupdates", client.Fetch, gtfsrt.DecodeTripUpdates, opts)
}

// TripUpdatesService folds every new trip-updates snapshot into one merged
// delay index. The merged index is immutable, readers never lock it.
type TripUpdatesService struct {
	cache   *TripUpdatesCache
	policy  delayindex.MergePolicy
	metrics *metrics.Collector
	now     func() time.Time

	mu      sync.Mutex
	index   *delayindex.Index
	version uint64
	stats   delayindex.BuildStats
}

func NewTripUpdatesService(cache *TripUpdatesCache, policy delayindex.MergePolicy, collector *metrics.Collector) *TripUpdatesService {
	return &TripUpdatesService{
		cache:   cache,
		policy:  policy,
		metrics: collector,
		now:     time.Now,
		index:   delayindex.Empty(),
	}
}

// Index returns the merged delay index and the state of the feed it came
// from. Without any payload the empty index is returned with the error.
func (s *TripUpdatesService) Index(ctx context.Context) (*delayindex.Index, ctdf.FeedDiagnostics, error) {
	snapshot, err := s.cache.Fetch(ctx)
	diagnostics := feedDiagnostics(snapshot.Status, snapshot.Version, snapshot.Age, snapshot.LastError, err)
	if err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.index, diagnostics, err
	}

	return s.fold(snapshot.Payload, snapshot.Version), diagnostics, nil
}

func (s *TripUpdatesService) fold(feed *gtfsrt.TripUpdateFeed, version uint64) *delayindex.Index {
	s.mu.Lock()
	defer s.mu.Unlock()

	if version <= s.version {
		return s.index
	}

	next, stats := delayindex.Build(feed)
	merged := delayindex.Merge(s.index, next, s.now(), s.policy)

	s.index = merged
	s.version = version
	s.stats = stats
	s.metrics.SetIndexSize(merged.Len(), merged.TripCount())

	log.Info().
		Uint64("version", version).
		Int("trips", stats.Trips).
		Int("entries", stats.Entries).
		Int("cancelled", stats.CancelledTrips).
		Int("skipped", stats.SkippedStops).
		Int("added", stats.AddedStops).
		Int("merged", merged.Len()).
		Msg("Merged trip updates snapshot")

	return merged
}

// Stats returns the statistics of the last folded snapshot.
func (s *TripUpdatesService) Stats() delayindex.BuildStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *TripUpdatesService) Cache() *TripUpdatesCache {
	return s.cache
}

func feedDiagnostics(status feedcache.Status, version uint64, age time.Duration, lastErr error, err error) ctdf.FeedDiagnostics {
	diagnostics := ctdf.FeedDiagnostics{
		Status:     string(status),
		Version:    version,
		AgeSeconds: int(age.Seconds()),
	}
	switch {
	case err != nil:
		diagnostics.Error = err.Error()
	case lastErr != nil:
		diagnostics.Error = lastErr.Error()
	}
	return diagnostics
}
