package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service counters. A nil *Metrics, or one built with a nil
// registerer, records nothing.
type Metrics struct {
	commits       *prometheus.CounterVec
	refunds       *prometheus.CounterVec
	forecasts     *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDurations *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return &Metrics{}
	}
	commits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "posadmin",
		Name:      "transaction_commits_total",
		Help:      "Transaction commits by outcome.",
	}, []string{"outcome"})
	refunds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "posadmin",
		Name:      "transaction_refunds_total",
		Help:      "Refunds by outcome.",
	}, []string{"outcome"})
	forecasts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "posadmin",
		Name:      "forecast_calls_total",
		Help:      "Forecast flow calls by flow and outcome.",
	}, []string{"flow", "outcome"})
	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "posadmin",
		Name:      "http_requests_total",
		Help:      "HTTP requests by route pattern, method and status.",
	}, []string{"route", "method", "status"})
	httpDurations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "posadmin",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route pattern.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})
	reg.MustRegister(commits, refunds, forecasts, httpRequests, httpDurations)

	return &Metrics{
		commits:       commits,
		refunds:       refunds,
		forecasts:     forecasts,
		httpRequests:  httpRequests,
		httpDurations: httpDurations,
	}
}

func (m *Metrics) ObserveCommit(outcome string) {
	if m == nil || m.commits == nil {
		return
	}
	m.commits.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) ObserveRefund(outcome string) {
	if m == nil || m.refunds == nil {
		return
	}
	m.refunds.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) ObserveForecast(flow string, outcome string) {
	if m == nil || m.forecasts == nil {
		return
	}
	m.forecasts.WithLabelValues(normalizeLabel(flow), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) ObserveHTTP(route string, method string, status int, elapsed time.Duration) {
	if m == nil || m.httpRequests == nil {
		return
	}
	route = normalizeLabel(route)
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDurations.WithLabelValues(route).Observe(elapsed.Seconds())
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
