package sentrykit

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

const metricsNamespace = "sentrykit"

// Metrics counts envelope delivery outcomes and implements
// prometheus.Collector so the counters can be scraped.
type Metrics struct {
	sentEnvelopes        atomic.Uint64
	failedEnvelopes      atomic.Uint64
	droppedEnvelopes     atomic.Uint64
	rateLimitedEnvelopes atomic.Uint64

	sentEnvelopesDesc        *prometheus.Desc
	failedEnvelopesDesc      *prometheus.Desc
	droppedEnvelopesDesc     *prometheus.Desc
	rateLimitedEnvelopesDesc *prometheus.Desc

	itemsByCategory *prometheus.CounterVec
}

// NewMetrics creates a metrics collector for a transport.
func NewMetrics() *Metrics {
	return &Metrics{
		sentEnvelopesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "sent_envelopes_total"),
			"Total number of envelopes delivered to the endpoint",
			nil, nil),

		failedEnvelopesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "failed_envelopes_total"),
			"Total number of envelopes that failed to deliver",
			nil, nil),

		droppedEnvelopesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "dropped_envelopes_total"),
			"Total number of envelopes dropped because the queue was full",
			nil, nil),

		rateLimitedEnvelopesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "rate_limited_envelopes_total"),
			"Total number of envelopes discarded due to rate limiting",
			nil, nil),

		itemsByCategory: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prometheus.BuildFQName(metricsNamespace, "", "items_by_category_total"),
				Help: "Total number of delivered envelope items by data category",
			},
			[]string{"category"}),
	}
}

// IncSentEnvelopes increments the delivered envelope counter.
func (m *Metrics) IncSentEnvelopes() {
	m.sentEnvelopes.Inc()
}

// IncFailedEnvelopes increments the failed envelope counter.
func (m *Metrics) IncFailedEnvelopes() {
	m.failedEnvelopes.Inc()
}

// IncDroppedEnvelopes increments the queue overflow counter.
func (m *Metrics) IncDroppedEnvelopes() {
	m.droppedEnvelopes.Inc()
}

// IncRateLimitedEnvelopes increments the rate limited envelope counter.
func (m *Metrics) IncRateLimitedEnvelopes() {
	m.rateLimitedEnvelopes.Inc()
}

// IncItemsByCategory increments the delivered item counter for a category.
func (m *Metrics) IncItemsByCategory(category string) {
	m.itemsByCategory.WithLabelValues(category).Inc()
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.sentEnvelopesDesc
	ch <- m.failedEnvelopesDesc
	ch <- m.droppedEnvelopesDesc
	ch <- m.rateLimitedEnvelopesDesc

	m.itemsByCategory.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(
		m.sentEnvelopesDesc, prometheus.CounterValue, float64(m.sentEnvelopes.Load()))
	ch <- prometheus.MustNewConstMetric(
		m.failedEnvelopesDesc, prometheus.CounterValue, float64(m.failedEnvelopes.Load()))
	ch <- prometheus.MustNewConstMetric(
		m.droppedEnvelopesDesc, prometheus.CounterValue, float64(m.droppedEnvelopes.Load()))
	ch <- prometheus.MustNewConstMetric(
		m.rateLimitedEnvelopesDesc, prometheus.CounterValue, float64(m.rateLimitedEnvelopes.Load()))

	m.itemsByCategory.Collect(ch)
}
