package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector

	assert.NotPanics(t, func() {
		c.ObserveFetch("tripupdates", "ok")
		c.ObserveCacheRead("tripupdates", "HIT", time.Second)
		c.SetBackoff("tripupdates", time.Minute)
		c.SetIndexSize(1, 1)
		c.ObserveScheduleQuery("primary", "ok")
		c.ObserveBoard(time.Millisecond, []string{"alerts"})
	})
}

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()

	c.ObserveFetch("tripupdates", "rate_limited")
	c.ObserveFetch("tripupdates", "rate_limited")
	c.SetBackoff("tripupdates", 90*time.Second)

	families, err := c.Registry().Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				values[family.GetName()] += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				values[family.GetName()] += metric.GetGauge().GetValue()
			}
		}
	}

	assert.Equal(t, 2.0, values["mesdeparts_feed_fetches_total"])
	assert.Equal(t, 90.0, values["mesdeparts_feed_backoff_seconds"])
}
