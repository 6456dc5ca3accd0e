// Package metrics exposes Prometheus collectors for extraction requests,
// backend calls, cache lookups and validation.
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Aquilesorei/strutex/pkg/llm"
)

const namespace = "strutex"

// Metrics holds the collectors. Create it with New.
type Metrics struct {
	requests        *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
	backendCalls    *prometheus.CounterVec
	backendLatency  *prometheus.HistogramVec
	tokens          *prometheus.CounterVec
	cost            *prometheus.CounterVec
	fallbacks       *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	validationIssue prometheus.Counter
	inFlight        prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg uses a
// fresh registry, which Gatherer does not expose; pass one to scrape.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Extraction requests by outcome (success, error, cache_hit, recovered)",
		}, []string{"outcome"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Duration of extraction requests by outcome",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"outcome"}),
		backendCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_calls_total",
			Help:      "Backend calls by backend, model and result",
		}, []string{"backend", "model", "result"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_call_duration_seconds",
			Help:      "Duration of backend calls by backend and model",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend", "model"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens used by backend and direction (input, output)",
		}, []string{"backend", "direction"}),
		cost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_usd_total",
			Help:      "Estimated backend cost in USD",
		}, []string{"backend"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Fallbacks away from a failing backend",
		}, []string{"backend"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by result (hit, miss, error)",
		}, []string{"result"}),
		validationIssue: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_issues_total",
			Help:      "Validation issues reported on extracted data",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests_in_flight",
			Help:      "Extraction requests currently running",
		}),
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	reg.MustRegister(m.requests, m.requestLatency, m.backendCalls, m.backendLatency,
		m.tokens, m.cost, m.fallbacks, m.cacheLookups, m.validationIssue, m.inFlight)
	return m
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
	m.requestLatency.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) ObserveCache(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveFallback(backend string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(backend).Inc()
}

func (m *Metrics) ObserveValidationIssues(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.validationIssue.Add(float64(n))
}

func (m *Metrics) InFlight(delta int) {
	if m == nil {
		return
	}
	m.inFlight.Add(float64(delta))
}

// OnLLMCall records provider calls; pass the Metrics to backend.WithObserver.
func (m *Metrics) OnLLMCall(_ context.Context, e llm.LLMCallEvent) {
	if m == nil {
		return
	}
	result := "ok"
	if e.Error != nil {
		result = "error"
	}
	m.backendCalls.WithLabelValues(e.Provider, e.Model, result).Inc()
	m.backendLatency.WithLabelValues(e.Provider, e.Model).Observe(e.Duration.Seconds())
	if r := e.Response; r != nil {
		m.tokens.WithLabelValues(e.Provider, "input").Add(float64(r.InputTokens))
		m.tokens.WithLabelValues(e.Provider, "output").Add(float64(r.OutputTokens))
		if r.Cost > 0 {
			m.cost.WithLabelValues(e.Provider).Add(r.Cost)
		}
	}
}

var _ llm.LLMObserver = (*Metrics)(nil)
