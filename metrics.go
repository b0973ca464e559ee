// Copyright (c) 2024 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinview

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports the statistics of a cache and a background committer as
// prometheus metrics.  Either one may be nil.
type Collector struct {
	cache     *ReadWriteCache
	committer *BackgroundCommitter

	hits          *prometheus.Desc
	misses        *prometheus.Desc
	entries       *prometheus.Desc
	absent        *prometheus.Desc
	pending       *prometheus.Desc
	drains        *prometheus.Desc
	drainFailures *prometheus.Desc
	drainSeconds  *prometheus.Desc
	storeHeight   *prometheus.Desc
}

// Ensure Collector implements the prometheus.Collector interface.
var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector for the provided components with all
// metric names prefixed by namespace.
func NewCollector(namespace string, cache *ReadWriteCache, committer *BackgroundCommitter) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		fqName := prometheus.BuildFQName(namespace, "coinview", name)
		return prometheus.NewDesc(fqName, help, nil, nil)
	}
	return &Collector{
		cache:         cache,
		committer:     committer,
		hits:          desc("cache_hits_total", "Lookups answered by the cache."),
		misses:        desc("cache_misses_total", "Lookups that required the inner view."),
		entries:       desc("cache_entries", "Entries held by the cache."),
		absent:        desc("cache_absent_entries", "Ids cached as known to be absent."),
		pending:       desc("pending_entries", "Saved entries not yet handed to a flush."),
		drains:        desc("flushes_total", "Flushes drained to the store."),
		drainFailures: desc("flush_failures_total", "Flushes that failed to reach the store."),
		drainSeconds:  desc("last_flush_seconds", "Duration of the most recent flush."),
		storeHeight:   desc("store_height", "Height of the tip held by the store."),
	}
}

// Describe sends the descriptors of every metric the collector exports.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	if c.cache != nil {
		ch <- c.hits
		ch <- c.misses
		ch <- c.entries
		ch <- c.absent
	}
	if c.committer != nil {
		ch <- c.pending
		ch <- c.drains
		ch <- c.drainFailures
		ch <- c.drainSeconds
		ch <- c.storeHeight
	}
}

// Collect sends the current value of every metric the collector exports.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.cache != nil {
		ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue,
			float64(c.cache.Hits()))
		ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue,
			float64(c.cache.Misses()))
		ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue,
			float64(c.cache.Len()))
		ch <- prometheus.MustNewConstMetric(c.absent, prometheus.GaugeValue,
			float64(c.cache.AbsentLen()))
	}
	if c.committer != nil {
		stats := c.committer.FlushStats()
		ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue,
			float64(c.committer.PendingEntries()))
		ch <- prometheus.MustNewConstMetric(c.drains, prometheus.CounterValue,
			float64(stats.Drains))
		ch <- prometheus.MustNewConstMetric(c.drainFailures,
			prometheus.CounterValue, float64(stats.Failures))
		ch <- prometheus.MustNewConstMetric(c.drainSeconds,
			prometheus.GaugeValue, stats.LastDuration.Seconds())
		var height float64
		if tip := c.committer.StoreTip(); tip != nil {
			height = float64(tip.Height)
		}
		ch <- prometheus.MustNewConstMetric(c.storeHeight,
			prometheus.GaugeValue, height)
	}
}
