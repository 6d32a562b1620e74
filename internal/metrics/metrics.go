// Package metrics exposes process-wide Prometheus collectors for outbound
// fetch traffic, batch pacing and the status server.
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

var (
	roundTripsTotal            *prometheus.CounterVec
	roundTripDurationSeconds   *prometheus.HistogramVec
	batchPauseSeconds          prometheus.Histogram
	batchesTotal               *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		roundTripsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_http_roundtrips_total",
				Help: "Outbound HTTP round trips, labeled by site and status class. Redirect hops count separately.",
			},
			[]string{"site", "status_class"},
		)

		roundTripDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_http_roundtrip_duration_seconds",
				Help:    "Histogram of outbound round trip latencies, labeled by site.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)

		batchPauseSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_batch_pause_seconds",
				Help:    "Histogram of pauses taken between dispatch batches.",
				Buckets: []float64{0.1, 0.25, 0.5, 0.75, 1, 2},
			},
		)

		batchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_batches_total",
				Help: "Dispatch batches settled, labeled by whether the batch was full or a trailing partial batch.",
			},
			[]string{"kind"},
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

// StatusClass groups an HTTP status code; zero means the request never
// produced a response.
func StatusClass(code int) string {
	switch {
	case code == 0:
		return "error"
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "other"
	}
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRoundTrip records one outbound HTTP exchange.
func ObserveRoundTrip(site string, code int, duration time.Duration) {
	Init()
	roundTripsTotal.WithLabelValues(site, StatusClass(code)).Inc()
	roundTripDurationSeconds.WithLabelValues(site).Observe(duration.Seconds())
}

// RoundTrips returns the counter for site and class.
func RoundTrips(site, class string) prometheus.Counter {
	Init()
	return roundTripsTotal.WithLabelValues(site, class)
}

// ObserveBatch records a settled dispatch batch and the pause that followed
// it. A zero pause is recorded for trailing partial batches.
func ObserveBatch(full bool, pause time.Duration) {
	Init()
	kind := "partial"
	if full {
		kind = "full"
		batchPauseSeconds.Observe(pause.Seconds())
	}
	batchesTotal.WithLabelValues(kind).Inc()
}

// Batches returns the settled-batch counter for kind ("full" or "partial").
func Batches(kind string) prometheus.Counter {
	Init()
	return batchesTotal.WithLabelValues(kind)
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
