package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns its own registry. Every method is safe on a nil receiver so
// components can run without metrics in tests.
type Collector struct {
	reg *prometheus.Registry

	FeedFetches     *prometheus.CounterVec // feed, outcome
	FeedCacheStatus *prometheus.CounterVec // feed, status
	FeedBackoff     *prometheus.GaugeVec   // feed, seconds until next attempt
	FeedPayloadAge  *prometheus.GaugeVec   // feed

	IndexEntries prometheus.Gauge
	IndexTrips   prometheus.Gauge

	ScheduleQueries *prometheus.CounterVec // mode, outcome

	BoardDuration     prometheus.Histogram
	BoardDegradations *prometheus.CounterVec // stage
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		FeedFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mesdeparts_feed_fetches_total",
			Help: "Upstream feed fetch attempts by outcome.",
		}, []string{"feed", "outcome"}),
		FeedCacheStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mesdeparts_feed_cache_reads_total",
			Help: "Feed cache reads by resulting cache status.",
		}, []string{"feed", "status"}),
		FeedBackoff: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mesdeparts_feed_backoff_seconds",
			Help: "Current backoff applied to the upstream feed.",
		}, []string{"feed"}),
		FeedPayloadAge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mesdeparts_feed_payload_age_seconds",
			Help: "Age of the cached feed payload when last read.",
		}, []string{"feed"}),
		IndexEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mesdeparts_delay_index_entries",
			Help: "Canonical entries in the merged delay index.",
		}),
		IndexTrips: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mesdeparts_delay_index_trips",
			Help: "Trips with flags in the merged delay index.",
		}),
		ScheduleQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mesdeparts_schedule_queries_total",
			Help: "Scheduled board queries by mode and outcome.",
		}, []string{"mode", "outcome"}),
		BoardDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mesdeparts_stationboard_duration_seconds",
			Help:    "Time to assemble one stationboard.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		BoardDegradations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mesdeparts_stationboard_degradations_total",
			Help: "Stationboard stages that fell back to partial data.",
		}, []string{"stage"}),
	}

	reg.MustRegister(
		c.FeedFetches, c.FeedCacheStatus, c.FeedBackoff, c.FeedPayloadAge,
		c.IndexEntries, c.IndexTrips,
		c.ScheduleQueries,
		c.BoardDuration, c.BoardDegradations,
	)

	return c
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.reg
}

func (c *Collector) ObserveFetch(feed string, outcome string) {
	if c == nil {
		return
	}
	c.FeedFetches.WithLabelValues(feed, outcome).Inc()
}

func (c *Collector) ObserveCacheRead(feed string, status string, age time.Duration) {
	if c == nil {
		return
	}
	c.FeedCacheStatus.WithLabelValues(feed, status).Inc()
	c.FeedPayloadAge.WithLabelValues(feed).Set(age.Seconds())
}

func (c *Collector) SetBackoff(feed string, wait time.Duration) {
	if c == nil {
		return
	}
	c.FeedBackoff.WithLabelValues(feed).Set(wait.Seconds())
}

func (c *Collector) SetIndexSize(entries int, trips int) {
	if c == nil {
		return
	}
	c.IndexEntries.Set(float64(entries))
	c.IndexTrips.Set(float64(trips))
}

func (c *Collector) ObserveScheduleQuery(mode string, outcome string) {
	if c == nil {
		return
	}
	c.ScheduleQueries.WithLabelValues(mode, outcome).Inc()
}

func (c *Collector) ObserveBoard(duration time.Duration, degradedStages []string) {
	if c == nil {
		return
	}
	c.BoardDuration.Observe(duration.Seconds())
	for _, stage := range degradedStages {
		c.BoardDegradations.WithLabelValues(stage).Inc()
	}
}
