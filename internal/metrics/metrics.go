// Package metrics exposes Prometheus collectors for the crawl service.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sourcesDiscoveredTotal *prometheus.CounterVec
	sourcesCrawledTotal    *prometheus.CounterVec
	eventsExtractedTotal   *prometheus.CounterVec
	crawlDurationSeconds   *prometheus.HistogramVec
	crawlErrorsTotal       *prometheus.CounterVec
	rateLimitDelaysSeconds *prometheus.HistogramVec
	activeSessions         prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		sourcesDiscoveredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "musiclive_sources_discovered_total",
				Help: "Total number of sources discovered, labeled by strategy.",
			},
			[]string{"strategy"},
		)

		sourcesCrawledTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "musiclive_sources_crawled_total",
				Help: "Total number of sources crawled, labeled by domain and status.",
			},
			[]string{"domain", "status"},
		)

		eventsExtractedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "musiclive_events_extracted_total",
				Help: "Total number of events extracted, labeled by extractor strategy.",
			},
			[]string{"extractor"},
		)

		crawlDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "musiclive_crawl_duration_seconds",
				Help:    "Histogram of per-source crawl durations, labeled by domain.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"domain"},
		)

		crawlErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "musiclive_crawl_errors_total",
				Help: "Total number of crawl errors, labeled by error kind.",
			},
			[]string{"kind"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "musiclive_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		activeSessions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "musiclive_active_sessions",
				Help: "Number of crawl sessions currently running.",
			},
		)
	})
}

// SanitizeDomain extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeDomain(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDiscovery increments the discovery counter for a strategy.
func ObserveDiscovery(strategy string, count int) {
	if sourcesDiscoveredTotal == nil || count <= 0 {
		return
	}
	sourcesDiscoveredTotal.WithLabelValues(strategy).Add(float64(count))
}

// ObserveCrawl records the outcome of crawling one source.
func ObserveCrawl(sourceURL, status string, duration time.Duration) {
	if sourcesCrawledTotal == nil {
		return
	}
	domain := SanitizeDomain(sourceURL)
	sourcesCrawledTotal.WithLabelValues(domain, status).Inc()
	crawlDurationSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveExtraction records how many events an extractor produced.
func ObserveExtraction(extractor string, count int) {
	if eventsExtractedTotal == nil || count <= 0 {
		return
	}
	eventsExtractedTotal.WithLabelValues(extractor).Add(float64(count))
}

// ObserveError increments the error counter for the given kind.
func ObserveError(kind string) {
	if crawlErrorsTotal == nil {
		return
	}
	crawlErrorsTotal.WithLabelValues(kind).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	if rateLimitDelaysSeconds == nil {
		return
	}
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// IncActiveSessions increments the running-session gauge.
func IncActiveSessions() {
	if activeSessions != nil {
		activeSessions.Inc()
	}
}

// DecActiveSessions decrements the running-session gauge.
func DecActiveSessions() {
	if activeSessions != nil {
		activeSessions.Dec()
	}
}
