// Package metrics exposes Prometheus collectors for the permit pipeline.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scrapePagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "permitwatch_pages_total",
			Help: "Total number of result pages visited during pagination.",
		},
	)

	scrapeLinksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "permitwatch_links_total",
			Help: "Total number of unique permit links collected.",
		},
	)

	scrapeItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permitwatch_items_total",
			Help: "Total number of permit detail items processed, labeled by status.",
		},
		[]string{"status"},
	)

	geocodeRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permitwatch_geocode_requests_total",
			Help: "Total number of coordinate resolutions, labeled by result.",
		},
		[]string{"result"},
	)

	imageryFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permitwatch_imagery_fetches_total",
			Help: "Total number of thumbnail fetches, labeled by strategy and result.",
		},
		[]string{"strategy", "result"},
	)

	tileFetchFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "permitwatch_tile_fetch_failures_total",
			Help: "Total number of map tiles replaced by the gray placeholder.",
		},
	)

	mailSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permitwatch_mail_sends_total",
			Help: "Total number of digest deliveries, labeled by provider and result.",
		},
		[]string{"provider", "result"},
	)

	stageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "permitwatch_stage_duration_seconds",
			Help:    "Histogram of pipeline stage durations.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"stage"},
	)

	backfillJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permitwatch_backfill_jobs_total",
			Help: "Total number of thumbnail backfill jobs, labeled by status.",
		},
		[]string{"status"},
	)

	activeBackfillWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "permitwatch_active_backfill_workers",
			Help: "Number of workers currently generating a thumbnail.",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSecs = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

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
	return promhttp.Handler()
}

// ObservePage counts one visited results page.
func ObservePage() {
	scrapePagesTotal.Inc()
}

// ObserveLinks adds newly collected unique permit links.
func ObserveLinks(n int) {
	if n > 0 {
		scrapeLinksTotal.Add(float64(n))
	}
}

// ObserveItem counts one processed detail item with the given status.
func ObserveItem(status string) {
	scrapeItemsTotal.WithLabelValues(status).Inc()
}

// ObserveGeocode counts one coordinate resolution with the given result.
func ObserveGeocode(result string) {
	geocodeRequestsTotal.WithLabelValues(result).Inc()
}

// ObserveImagery counts one thumbnail fetch by strategy and result.
func ObserveImagery(strategy, result string) {
	imageryFetchesTotal.WithLabelValues(strategy, result).Inc()
}

// ObserveTileFailure counts one placeholder-substituted tile.
func ObserveTileFailure() {
	tileFetchFailuresTotal.Inc()
}

// ObserveMailSend counts one delivery attempt outcome.
func ObserveMailSend(provider string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	mailSendsTotal.WithLabelValues(provider, result).Inc()
}

// ObserveStage records how long a pipeline stage took.
func ObserveStage(stage string, duration time.Duration) {
	stageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveBackfillJob counts one backfill job outcome.
func ObserveBackfillJob(status string) {
	backfillJobsTotal.WithLabelValues(status).Inc()
}

// IncActiveBackfillWorkers increments the active workers gauge.
func IncActiveBackfillWorkers() {
	activeBackfillWorkers.Inc()
}

// DecActiveBackfillWorkers decrements the active workers gauge.
func DecActiveBackfillWorkers() {
	activeBackfillWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSecs.WithLabelValues(method, route).Observe(duration.Seconds())
}
