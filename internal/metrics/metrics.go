// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Item outcomes recorded by the crawl engine.
const (
	OutcomeMatched   = "matched"
	OutcomeNew       = "new"
	OutcomeRehit     = "rehit"
	OutcomeFiltered  = "filtered"
	OutcomeUnmatched = "unmatched"
	OutcomeSkipped   = "skipped"
	OutcomeCritical  = "critical"
)

var (
	crawlerItemsTotal             *prometheus.CounterVec
	crawlerDetailRetriesTotal     prometheus.Counter
	crawlerCircuitBreaksTotal     *prometheus.CounterVec
	crawlerPivotMissingTotal      *prometheus.CounterVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	crawlerJobsTotal              *prometheus.CounterVec
	crawlerActiveWorkers          prometheus.Gauge
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	retrievalVerificationsTotal   *prometheus.CounterVec
	retrievalDownloadBytesTotal   prometheus.Counter
	extractorDocumentsTotal       *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_items_total",
				Help: "Catalog items handled by the engine, labeled by region and outcome.",
			},
			[]string{"region", "outcome"},
		)

		crawlerDetailRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_detail_retries_total",
				Help: "Retried catalog calls after a network failure.",
			},
		)

		crawlerCircuitBreaksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_circuit_breaks_total",
				Help: "Region scans aborted by the empty-detail circuit breaker.",
			},
			[]string{"region"},
		)

		crawlerPivotMissingTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pivot_missing_total",
				Help: "Incremental scans whose checkpoint pivot was not found.",
			},
			[]string{"region"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		crawlerJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_jobs_total",
				Help: "Total number of jobs processed, labeled by status.",
			},
			[]string{"status"},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		retrievalVerificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retrieval_verifications_total",
				Help: "Captcha verification attempts, labeled by result.",
			},
			[]string{"result"},
		)

		retrievalDownloadBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "retrieval_download_bytes_total",
				Help: "Bytes of protected documents downloaded.",
			},
		)

		extractorDocumentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extractor_documents_total",
				Help: "Documents run through the field extractor, labeled by result.",
			},
			[]string{"result"},
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
	return promhttp.Handler()
}

// ObserveItem counts one engine item outcome for a region.
func ObserveItem(region, outcome string) {
	if crawlerItemsTotal == nil {
		return
	}
	crawlerItemsTotal.WithLabelValues(region, outcome).Inc()
}

// ObserveDetailRetry counts one retried catalog call.
func ObserveDetailRetry() {
	if crawlerDetailRetriesTotal == nil {
		return
	}
	crawlerDetailRetriesTotal.Inc()
}

// ObserveCircuitBreak counts a region aborted by the breaker.
func ObserveCircuitBreak(region string) {
	if crawlerCircuitBreaksTotal == nil {
		return
	}
	crawlerCircuitBreaksTotal.WithLabelValues(region).Inc()
}

// ObservePivotMissing counts an incremental scan that never met its pivot.
func ObservePivotMissing(region string) {
	if crawlerPivotMissingTotal == nil {
		return
	}
	crawlerPivotMissingTotal.WithLabelValues(region).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	if crawlerJobsTotal == nil {
		return
	}
	crawlerJobsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if crawlerActiveWorkers == nil {
		return
	}
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if crawlerActiveWorkers == nil {
		return
	}
	crawlerActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	if crawlerRateLimitDelaysSeconds == nil {
		return
	}
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveVerification counts a captcha verification with its result.
func ObserveVerification(ok bool) {
	if retrievalVerificationsTotal == nil {
		return
	}
	result := "rejected"
	if ok {
		result = "accepted"
	}
	retrievalVerificationsTotal.WithLabelValues(result).Inc()
}

// ObserveDownload adds downloaded document bytes.
func ObserveDownload(n int) {
	if retrievalDownloadBytesTotal == nil || n <= 0 {
		return
	}
	retrievalDownloadBytesTotal.Add(float64(n))
}

// ObserveExtraction counts an extractor run.
func ObserveExtraction(ok bool) {
	if extractorDocumentsTotal == nil {
		return
	}
	result := "failed"
	if ok {
		result = "parsed"
	}
	extractorDocumentsTotal.WithLabelValues(result).Inc()
}
