package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/DavidLozzi/starwars-graph/internal/progress"
)

// PrometheusSink exports crawl progress via Prometheus. It owns the session,
// fetch, page and link collectors.
type PrometheusSink struct {
	sessionsStarted   prometheus.Counter
	sessionsCompleted prometheus.Counter
	sessionsRunning   prometheus.Gauge
	sessionRuntime    prometheus.Histogram

	fetchRequests *prometheus.CounterVec
	fetchFailures *prometheus.CounterVec
	fetchBytes    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec

	pages        *prometheus.CounterVec
	linksSkipped *prometheus.CounterVec

	mu      sync.Mutex
	running map[[16]byte]struct{}
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_sessions_started_total",
			Help: "Total crawl sessions that have started.",
		}),
		sessionsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_sessions_completed_total",
			Help: "Total crawl sessions that have finished.",
		}),
		sessionsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_sessions_running",
			Help: "Current number of running crawl sessions.",
		}),
		sessionRuntime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crawler_session_runtime_seconds",
			Help:    "Wall time per completed crawl session.",
			Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400, 28800, 86400},
		}),
		fetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_fetch_requests_total",
			Help: "Fetch completions partitioned by site and status class.",
		}, []string{"site", "status_class"}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_fetch_failures_total",
			Help: "URLs abandoned after exhausting fetch retries, per site.",
		}, []string{"site"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_fetch_bytes_total",
			Help: "Bytes downloaded per site.",
		}, []string{"site"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_fetch_duration_seconds",
			Help:    "Fetch duration partitioned by site and status class.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"site", "status_class"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_pages_total",
			Help: "Documents persisted, partitioned by result (added, updated, failed).",
		}, []string{"result"}),
		linksSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_links_skipped_total",
			Help: "URLs not traversed, partitioned by reason.",
		}, []string{"reason"}),
		running: make(map[[16]byte]struct{}),
	}
	for _, collector := range []prometheus.Collector{
		s.sessionsStarted,
		s.sessionsCompleted,
		s.sessionsRunning,
		s.sessionRuntime,
		s.fetchRequests,
		s.fetchFailures,
		s.fetchBytes,
		s.fetchDuration,
		s.pages,
		s.linksSkipped,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageCrawlStart, progress.StageCrawlDone:
		s.handleSessionEvent(evt)
	case progress.StageFetchDone:
		s.handleFetchEvent(evt)
	case progress.StageFetchFailed:
		s.fetchFailures.WithLabelValues(siteLabel(evt.Site)).Inc()
	case progress.StagePageAdded:
		s.pages.WithLabelValues("added").Inc()
	case progress.StagePageUpdated:
		s.pages.WithLabelValues("updated").Inc()
	case progress.StagePageFailed:
		s.pages.WithLabelValues("failed").Inc()
	case progress.StageLinkSkipped:
		s.linksSkipped.WithLabelValues(evt.Note).Inc()
	case progress.StageDeduped:
		s.linksSkipped.WithLabelValues("deduped").Inc()
	}
}

// handleSessionEvent keeps the running gauge consistent when a session's
// start or done event is delivered more than once.
func (s *PrometheusSink) handleSessionEvent(evt progress.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, known := s.running[evt.SessionID]
	if evt.Stage == progress.StageCrawlStart {
		s.sessionsStarted.Inc()
		if !known {
			s.running[evt.SessionID] = struct{}{}
			s.sessionsRunning.Inc()
		}
		return
	}
	s.sessionsCompleted.Inc()
	if evt.Dur > 0 {
		s.sessionRuntime.Observe(evt.Dur.Seconds())
	}
	if known {
		delete(s.running, evt.SessionID)
		s.sessionsRunning.Dec()
	}
}

func (s *PrometheusSink) handleFetchEvent(evt progress.Event) {
	site := siteLabel(evt.Site)
	statusClass := string(evt.StatusClass)
	if statusClass == "" {
		statusClass = string(progress.StatusOther)
	}
	s.fetchRequests.WithLabelValues(site, statusClass).Inc()
	if evt.Bytes > 0 {
		s.fetchBytes.WithLabelValues(site).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(site, statusClass).Observe(evt.Dur.Seconds())
	}
}

func siteLabel(site string) string {
	if site == "" {
		return "unknown"
	}
	return site
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
