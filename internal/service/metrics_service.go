package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the portal.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	stageResolved   *prometheus.CounterVec
	transitionTotal *prometheus.CounterVec
	matchingRuns    prometheus.Counter
	matchingPasses  prometheus.Histogram
	placementsTotal prometheus.Gauge
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	stageResolved := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stage_resolutions_total",
		Help: "Stage resolutions by resulting stage",
	}, []string{"stage"})

	transitionTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "application_transitions_total",
		Help: "Application status transitions by source, target and outcome",
	}, []string{"from", "to", "outcome"})

	matchingRuns := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "matching_runs_total",
		Help: "Completed matching engine runs",
	})

	matchingPasses := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "matching_reconciliation_passes",
		Help:    "Reconciliation passes needed per matching run",
		Buckets: []float64{1, 2, 3, 4, 6, 8},
	})

	placementsTotal := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "placements_total",
		Help: "Accepted placements written by the last matching run",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, stageResolved, transitionTotal,
		matchingRuns, matchingPasses, placementsTotal, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		stageResolved:   stageResolved,
		transitionTotal: transitionTotal,
		matchingRuns:    matchingRuns,
		matchingPasses:  matchingPasses,
		placementsTotal: placementsTotal,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordStageResolution counts a stage resolution outcome.
func (m *MetricsService) RecordStageResolution(stage string) {
	if m == nil {
		return
	}
	m.stageResolved.WithLabelValues(stage).Inc()
}

// RecordTransition counts one attempted status transition.
func (m *MetricsService) RecordTransition(from, to, outcome string) {
	if m == nil {
		return
	}
	m.transitionTotal.WithLabelValues(from, to, outcome).Inc()
}

// RecordMatchingRun captures pass count and placements of a finished run.
func (m *MetricsService) RecordMatchingRun(passes, placements int) {
	if m == nil {
		return
	}
	m.matchingRuns.Inc()
	m.matchingPasses.Observe(float64(passes))
	m.placementsTotal.Set(float64(placements))
}
