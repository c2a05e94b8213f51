package realtime

import (
	"context"

	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/ctdf"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/feedcache"
	"github.com/tabbycat18/mesdeparts.ch-sub001/pkg/gtfsrt"
)

type AlertsCache = feedcache.Cache[[]*ctdf.ServiceAlert]

func NewAlertsCache(client *gtfsrt.Client, opts feedcache.Options) *AlertsCache {
	return feedcache.New[[]*ctdf.ServiceAlert]("alerts", client.Fetch, gtfsrt.DecodeAlerts, opts)
}

type AlertsService struct {
	cache *AlertsCache
}

func NewAlertsService(cache *AlertsCache) *AlertsService {
	return &AlertsService{cache: cache}
}

// Alerts returns the cached service alerts. The slice is shared between
// requests and must not be modified.
func (s *AlertsService) Alerts(ctx context.Context) ([]*ctdf.ServiceAlert, ctdf.FeedDiagnostics, error) {
	snapshot, err := s.cache.Fetch(ctx)
	return snapshot.Payload, feedDiagnostics(snapshot.Status, snapshot.Version, snapshot.Age, snapshot.LastError, err), err
}

func (s *AlertsService) Cache() *AlertsCache {
	return s.cache
}
