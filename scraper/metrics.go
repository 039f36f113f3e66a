package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for one scraper instance.
type Metrics struct {
	Registry        *prometheus.Registry
	RequestsTotal   *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	PagesTotal      prometheus.Counter
	ItemsTotal      *prometheus.CounterVec
	RetriesTotal    prometheus.Counter
	ErrorsTotal     *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
// Every series carries a constant site label.
func NewMetrics(site string) *Metrics {
	registry := prometheus.NewRegistry()
	labels := prometheus.Labels{"site": site}

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "scraper_requests_total",
			Help:        "Total HTTP fetch attempts by outcome.",
			ConstLabels: labels,
		},
		[]string{"outcome"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:        "scraper_request_duration_seconds",
			Help:        "HTTP fetch latency.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		},
	)
	pages := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name:        "scraper_pages_total",
			Help:        "Total listing pages fetched and parsed.",
			ConstLabels: labels,
		},
	)
	items := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "scraper_items_total",
			Help:        "Listing items processed by outcome.",
			ConstLabels: labels,
		},
		[]string{"outcome"},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name:        "scraper_retries_total",
			Help:        "Total number of fetch retries.",
			ConstLabels: labels,
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "scraper_errors_total",
			Help:        "Total number of scraper errors by type.",
			ConstLabels: labels,
		},
		[]string{"error_type"},
	)

	registry.MustRegister(requests, requestDuration, pages, items, retries, errorsTotal)

	return &Metrics{
		Registry:        registry,
		RequestsTotal:   requests,
		RequestDuration: requestDuration,
		PagesTotal:      pages,
		ItemsTotal:      items,
		RetriesTotal:    retries,
		ErrorsTotal:     errorsTotal,
	}
}

// IncRequest increments the requests counter.
func (m *Metrics) IncRequest(outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncPages increments the pages counter.
func (m *Metrics) IncPages() {
	if m == nil {
		return
	}
	m.PagesTotal.Inc()
}

// IncItems increments the items counter for an outcome.
func (m *Metrics) IncItems(outcome string) {
	if m == nil {
		return
	}
	m.ItemsTotal.WithLabelValues(outcome).Inc()
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
