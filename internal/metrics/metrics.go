// Package metrics exposes daemon activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"extwatch/internal/platform"
	"extwatch/internal/update"
)

type Metrics struct {
	registry prometheus.Gatherer

	checksTotal      *prometheus.CounterVec
	checkDuration    prometheus.Histogram
	checkedTotal     prometheus.Counter
	failedTotal      prometheus.Counter
	skippedTotal     prometheus.Counter
	updatesAvailable prometheus.Gauge
	lastCheck        prometheus.Gauge

	transfersTotal   *prometheus.CounterVec
	transferDuration prometheus.Histogram

	badgeCount prometheus.Gauge
	apiLatency *prometheus.HistogramVec
}

// New registers the metrics on reg. reg is also used to serve them when it is a Gatherer.
func New(reg prometheus.Registerer) *Metrics {
	promFactory := promauto.With(reg)
	m := &Metrics{
		checksTotal: promFactory.NewCounterVec(prometheus.CounterOpts{
			Name: "extwatch_checks_total",
			Help: "Update check passes, by trigger",
		}, []string{"trigger"}),
		checkDuration: promFactory.NewHistogram(prometheus.HistogramOpts{
			Name:    "extwatch_check_duration_seconds",
			Help:    "Duration of update check passes",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		checkedTotal: promFactory.NewCounter(prometheus.CounterOpts{
			Name: "extwatch_manifests_checked_total",
			Help: "Update manifests fetched",
		}),
		failedTotal: promFactory.NewCounter(prometheus.CounterOpts{
			Name: "extwatch_manifests_failed_total",
			Help: "Update manifests that could not be fetched or parsed",
		}),
		skippedTotal: promFactory.NewCounter(prometheus.CounterOpts{
			Name: "extwatch_manifests_skipped_total",
			Help: "Extensions skipped because an update was in flight",
		}),
		updatesAvailable: promFactory.NewGauge(prometheus.GaugeOpts{
			Name: "extwatch_updates_available",
			Help: "Extensions with a discovered update after the last pass",
		}),
		lastCheck: promFactory.NewGauge(prometheus.GaugeOpts{
			Name: "extwatch_last_check_timestamp_seconds",
			Help: "Unix time of the last finished update check pass",
		}),
		transfersTotal: promFactory.NewCounterVec(prometheus.CounterOpts{
			Name: "extwatch_transfers_total",
			Help: "Package downloads, by outcome",
		}, []string{"outcome"}),
		transferDuration: promFactory.NewHistogram(prometheus.HistogramOpts{
			Name:    "extwatch_transfer_duration_seconds",
			Help:    "Duration of package downloads",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		badgeCount: promFactory.NewGauge(prometheus.GaugeOpts{
			Name: "extwatch_badge_count",
			Help: "Number shown on the pending-update badge",
		}),
		apiLatency: promFactory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "extwatch_api_request_duration_seconds",
			Help:    "Duration of local API requests",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"route", "status"}),
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.registry = g
	}
	return m
}

// RecordCheck implements update.CheckRecorder.
func (m *Metrics) RecordCheck(manual bool, summary update.CheckSummary, elapsed time.Duration) {
	trigger := "alarm"
	if manual {
		trigger = "manual"
	}
	m.checksTotal.WithLabelValues(trigger).Inc()
	m.checkDuration.Observe(elapsed.Seconds())
	m.checkedTotal.Add(float64(summary.Checked))
	m.failedTotal.Add(float64(summary.Failed))
	m.skippedTotal.Add(float64(summary.Skipped))
	m.updatesAvailable.Set(float64(summary.Updates))
	m.lastCheck.SetToCurrentTime()
}

// RecordTransfer implements update.TransferRecorder.
func (m *Metrics) RecordTransfer(outcome string, elapsed time.Duration) {
	m.transfersTotal.WithLabelValues(outcome).Inc()
	m.transferDuration.Observe(elapsed.Seconds())
}

// ObserveBadge tracks the number shown on the badge.
func (m *Metrics) ObserveBadge(badge platform.Badge) {
	n, err := strconv.Atoi(badge.Text)
	if err != nil {
		n = 0
	}
	m.badgeCount.Set(float64(n))
}

// ObserveRequest records the latency of one API request.
func (m *Metrics) ObserveRequest(route string, status int, elapsed time.Duration) {
	m.apiLatency.WithLabelValues(route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// Handler serves the registered metrics. It is 404 when the registry cannot be gathered.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
