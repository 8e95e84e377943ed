// Package metrics holds the Prometheus instruments for upstream access,
// caching, persistence and alert evaluation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	UpstreamRequests *prometheus.CounterVec
	CacheLookups     *prometheus.CounterVec
	RateLimitWait    *prometheus.HistogramVec
	RecordsUpserted  *prometheus.CounterVec
	AlertsEvaluated  prometheus.Counter
}

// New creates and registers all metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		UpstreamRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lexsync_upstream_requests_total",
			Help: "Outbound requests to legislation sources by outcome",
		}, []string{"source", "outcome"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lexsync_cache_lookups_total",
			Help: "Response cache lookups by result (hit, miss)",
		}, []string{"source", "result"}),
		RateLimitWait: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lexsync_ratelimit_wait_seconds",
			Help:    "Time spent waiting for the per-source rate limiter",
			Buckets: []float64{0, 0.1, 0.5, 1, 2, 3, 5, 10, 30},
		}, []string{"source"}),
		RecordsUpserted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lexsync_records_upserted_total",
			Help: "Legislation records written to the local store",
		}, []string{"origin"}),
		AlertsEvaluated: f.NewCounter(prometheus.CounterOpts{
			Name: "lexsync_alerts_evaluated_total",
			Help: "Active alerts re-run against the external sources",
		}),
	}
}

// ObserveUpstream counts one outbound request. outcome is "ok" or an error code.
func (m *Metrics) ObserveUpstream(source, outcome string) {
	if m == nil {
		return
	}
	m.UpstreamRequests.WithLabelValues(source, outcome).Inc()
}

// ObserveCache counts a cache lookup.
func (m *Metrics) ObserveCache(source string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(source, result).Inc()
}

// ObserveWait records rate limiter delay.
func (m *Metrics) ObserveWait(source string, d time.Duration) {
	if m == nil {
		return
	}
	m.RateLimitWait.WithLabelValues(source).Observe(d.Seconds())
}

// AddUpserted counts persisted records.
func (m *Metrics) AddUpserted(origin string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.RecordsUpserted.WithLabelValues(origin).Add(float64(n))
}

// IncrementAlertsEvaluated counts one evaluated alert.
func (m *Metrics) IncrementAlertsEvaluated() {
	if m == nil {
		return
	}
	m.AlertsEvaluated.Inc()
}
