// Package metrics exposes Prometheus instrumentation for scan runs.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tenderscan"

// Metrics holds the scanner's collectors.
type Metrics struct {
	RunsTotal       *prometheus.CounterVec
	RunDuration     prometheus.Histogram
	PagesFetched    *prometheus.CounterVec
	FetchFailures   *prometheus.CounterVec
	PortalRecords   *prometheus.CounterVec
	PortalOutcomes  *prometheus.CounterVec
	RecordsEmitted  *prometheus.CounterVec
	PortalsInFlight prometheus.Gauge
}

// New creates and registers all collectors against reg.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_runs_total",
			Help:      "Scan runs by final status",
		}, []string{"status"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Wall-clock duration of scan runs",
			Buckets:   []float64{30, 60, 300, 600, 1800, 3600, 7200},
		}),
		PagesFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Listing pages fetched successfully",
		}, []string{"portal"}),
		FetchFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "portal_failures_total",
			Help:      "Page fetch failures by kind (transient, permanent, panic)",
		}, []string{"portal", "kind"}),
		PortalRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "portal_records_total",
			Help:      "Normalized records collected per portal",
		}, []string{"portal"}),
		PortalOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "portal_outcomes_total",
			Help:      "Portal task outcomes by status",
		}, []string{"portal", "status"}),
		RecordsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_emitted_total",
			Help:      "Deduplicated records handed to the sink, by tier",
		}, []string{"tier"}),
		PortalsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "portals_in_flight",
			Help:      "Portal tasks currently running",
		}),
	}
}

func (m *Metrics) PageFetched(portal string) {
	if m == nil {
		return
	}
	m.PagesFetched.WithLabelValues(portal).Inc()
}

func (m *Metrics) FetchFailed(portal, kind string) {
	if m == nil {
		return
	}
	m.FetchFailures.WithLabelValues(portal, kind).Inc()
}

func (m *Metrics) PortalStarted() {
	if m == nil {
		return
	}
	m.PortalsInFlight.Inc()
}

func (m *Metrics) PortalFinished(portal, status string, records int) {
	if m == nil {
		return
	}
	m.PortalsInFlight.Dec()
	m.PortalOutcomes.WithLabelValues(portal, status).Inc()
	m.PortalRecords.WithLabelValues(portal).Add(float64(records))
}

func (m *Metrics) RunFinished(status string, d time.Duration, byTier map[string]int) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.Observe(d.Seconds())
	for tier, n := range byTier {
		m.RecordsEmitted.WithLabelValues(tier).Add(float64(n))
	}
}
