package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"linkcheck/internal/logger"
	"linkcheck/internal/models"
)

var (
	checksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linkcheck_checks_total",
		Help: "Link checks by link type and resulting status",
	}, []string{"link_type", "status"})

	probesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linkcheck_probes_total",
		Help: "HTTP probes by method and outcome",
	}, []string{"method", "outcome"})

	cacheLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linkcheck_cache_lookups_total",
		Help: "Result cache lookups by outcome",
	}, []string{"result"})

	crawlDelayWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "linkcheck_crawl_delay_wait_seconds",
		Help:    "Time spent waiting for the per-domain crawl delay",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	suspensionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linkcheck_domain_suspensions_total",
		Help: "Domains suspended after rate-limit responses, by reason",
	}, []string{"reason"})

	passDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "linkcheck_pass_duration_seconds",
		Help:    "Duration of complete checking passes",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})

	brokenLinksDesc = prometheus.NewDesc(
		"linkcheck_broken_links",
		"Stored link results by status",
		[]string{"status"},
		nil,
	)
)

// StatusCounter reads stored result counts, grouped by status.
type StatusCounter interface {
	CountBrokenLinksByStatus(ctx context.Context) (map[models.Status]int64, error)
}

// BrokenLinkCollector is a custom Prometheus collector that reads stored
// result counts from the database on each scrape.
type BrokenLinkCollector struct {
	store StatusCounter
	log   logger.Logger
}

// NewBrokenLinkCollector returns a collector over store.
func NewBrokenLinkCollector(store StatusCounter, log logger.Logger) *BrokenLinkCollector {
	return &BrokenLinkCollector{store: store, log: log}
}

// Describe sends the metric descriptor to the channel.
func (c *BrokenLinkCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- brokenLinksDesc
}

// Collect queries the store and emits one gauge per status.
func (c *BrokenLinkCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	counts, err := c.store.CountBrokenLinksByStatus(ctx)
	if err != nil {
		c.log.Error("Failed to collect broken link metrics", logger.Error(err))
		return
	}
	for _, s := range models.AllStatuses {
		ch <- prometheus.MustNewConstMetric(brokenLinksDesc, prometheus.GaugeValue, float64(counts[s]), s.String())
	}
}

var registerOnce sync.Once

// Init registers all collectors with the default registry.
// Must be called once at startup; later calls are ignored.
func Init(store StatusCounter, log logger.Logger) {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			checksTotal,
			probesTotal,
			cacheLookupsTotal,
			crawlDelayWait,
			suspensionsTotal,
			passDuration,
		)
		if store != nil {
			prometheus.MustRegister(NewBrokenLinkCollector(store, log))
		}
	})
}

// RecordCheck counts a finished link check.
func RecordCheck(linkType string, status models.Status) {
	checksTotal.WithLabelValues(linkType, status.String()).Inc()
}

// RecordProbe counts one HTTP probe. Outcome is a status class ("2xx") or an error kind.
func RecordProbe(method, outcome string) {
	probesTotal.WithLabelValues(method, outcome).Inc()
}

// RecordCacheLookup counts a cache hit or miss.
func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveCrawlDelayWait records time spent in the crawl-delay gate.
func ObserveCrawlDelayWait(d time.Duration) {
	crawlDelayWait.Observe(d.Seconds())
}

// RecordSuspension counts a domain suspension.
func RecordSuspension(reason string) {
	if reason == "" {
		reason = "manual"
	}
	suspensionsTotal.WithLabelValues(reason).Inc()
}

// ObservePass records the duration of a checking pass.
func ObservePass(d time.Duration) {
	passDuration.Observe(d.Seconds())
}
