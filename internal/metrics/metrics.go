package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the crawler's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	UnitsTotal         *prometheus.CounterVec
	ErrorsTotal        *prometheus.CounterVec
	ProxyBurnsTotal    *prometheus.CounterVec
	RecordsTotal       *prometheus.CounterVec
	NavigationDuration *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		UnitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_work_units_total",
			Help: "Work units that reached a terminal state",
		}, []string{"kind", "state"}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_classified_errors_total",
			Help: "Faults by classified error kind",
		}, []string{"retailer", "kind"}),
		ProxyBurnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_proxy_burns_total",
			Help: "Proxies marked burned after anti-bot detection",
		}, []string{"retailer"}),
		RecordsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_records_written_total",
			Help: "Records appended to the output sink",
		}, []string{"dataset_kind"}),
		NavigationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_navigation_duration_seconds",
			Help:    "Time spent navigating to a work unit",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 150},
		}, []string{"backend"}),
	}
}

func (m *Metrics) IncUnit(kind, state string) {
	if m == nil {
		return
	}
	m.UnitsTotal.WithLabelValues(kind, state).Inc()
}

func (m *Metrics) IncError(retailer, kind string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(retailer, kind).Inc()
}

func (m *Metrics) IncProxyBurn(retailer string) {
	if m == nil {
		return
	}
	m.ProxyBurnsTotal.WithLabelValues(retailer).Inc()
}

func (m *Metrics) IncRecord(datasetKind string) {
	if m == nil {
		return
	}
	m.RecordsTotal.WithLabelValues(datasetKind).Inc()
}

func (m *Metrics) ObserveNavigation(backend string, d time.Duration) {
	if m == nil {
		return
	}
	m.NavigationDuration.WithLabelValues(backend).Observe(d.Seconds())
}
