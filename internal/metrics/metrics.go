// Package metrics exposes Prometheus collectors for unfurl crawls.
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

// OEmbed enrichment outcomes.
const (
	OEmbedMerged  = "merged"
	OEmbedSkipped = "skipped"
	OEmbedFailed  = "failed"
)

var (
	unfurlPagesTotal             *prometheus.CounterVec
	unfurlBytesTotal             *prometheus.CounterVec
	unfurlOEmbedTotal            *prometheus.CounterVec
	unfurlStageDurationSeconds   *prometheus.HistogramVec
	unfurlCrawlsTotal            *prometheus.CounterVec
	unfurlDiscoveredLinks        prometheus.Histogram
	unfurlActiveWorkers          prometheus.Gauge
	unfurlRateLimitDelaysSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		unfurlPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unfurl_pages_total",
				Help: "Total number of pages run through the pipeline, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		unfurlBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unfurl_bytes_total",
				Help: "Total number of document bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		unfurlOEmbedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unfurl_oembed_total",
				Help: "oEmbed enrichment attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		unfurlStageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "unfurl_stage_duration_seconds",
				Help:    "Histogram of pipeline stage latencies, labeled by stage.",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"stage"},
		)

		unfurlCrawlsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unfurl_crawls_total",
				Help: "Total number of crawls, labeled by status.",
			},
			[]string{"status"},
		)

		unfurlDiscoveredLinks = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "unfurl_discovered_links",
				Help:    "Same-origin links accepted per discovery pass.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 1000},
			},
		)

		unfurlActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "unfurl_active_workers",
				Help: "Number of workers currently running a page pipeline.",
			},
		)

		unfurlRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "unfurl_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
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
	Init()
	return promhttp.Handler()
}

// ObservePage counts a page pipeline result.
func ObservePage(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	unfurlPagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		unfurlBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveOEmbed counts an enrichment outcome.
func ObserveOEmbed(outcome string) {
	Init()
	unfurlOEmbedTotal.WithLabelValues(outcome).Inc()
}

// ObserveStage records how long a pipeline stage took.
func ObserveStage(stage string, duration time.Duration) {
	Init()
	unfurlStageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveCrawl increments the crawl counter for the given status.
func ObserveCrawl(status string) {
	Init()
	unfurlCrawlsTotal.WithLabelValues(status).Inc()
}

// ObserveDiscovered records the size of one discovery pass.
func ObserveDiscovered(n int) {
	Init()
	unfurlDiscoveredLinks.Observe(float64(n))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	unfurlActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	unfurlActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	unfurlRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
