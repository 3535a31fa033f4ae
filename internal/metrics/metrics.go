// Package metrics exposes Prometheus counters for the cache and HTTP layer on
// a private registry. All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tubecache"

// Metrics holds the collectors. A nil *Metrics records nothing.
type Metrics struct {
	reg *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	lookups         *prometheus.CounterVec
	fetches         *prometheus.CounterVec
	fetchDuration   prometheus.Histogram
	fetchBytes      prometheus.Counter
	inFlight        prometheus.Gauge
	joined          prometheus.Counter
}

// New registers every collector (plus Go and process collectors) on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: []float64{.005, .025, .1, .5, 1, 5, 15, 60, 300},
		}, []string{"route"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_lookups_total",
			Help: "Cache lookups by result (hit or miss).",
		}, []string{"result"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "fetches_total",
			Help: "Upstream acquisitions by source and outcome kind.",
		}, []string{"source", "result"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "fetch_duration_seconds",
			Help:    "Wall time of upstream acquisitions, download included.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		fetchBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "fetch_bytes_total",
			Help: "Bytes written to the cache by acquisitions.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "fetches_in_flight",
			Help: "Acquisitions currently running.",
		}),
		joined: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "fetch_joins_total",
			Help: "Requests that waited on an acquisition started by another request.",
		}),
	}
	m.reg.MustRegister(
		m.requests, m.requestDuration, m.lookups, m.fetches,
		m.fetchDuration, m.fetchBytes, m.inFlight, m.joined,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// ObserveRequest counts a finished HTTP request and its latency.
func (m *Metrics) ObserveRequest(route string, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, code).Inc()
	m.requestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// CacheHit counts a lookup served from disk.
func (m *Metrics) CacheHit() {
	if m != nil {
		m.lookups.WithLabelValues("hit").Inc()
	}
}

// CacheMiss counts a lookup that had to acquire.
func (m *Metrics) CacheMiss() {
	if m != nil {
		m.lookups.WithLabelValues("miss").Inc()
	}
}

// FetchStarted marks an acquisition as running and returns the func that ends it.
func (m *Metrics) FetchStarted() func() {
	if m == nil {
		return func() {}
	}
	m.inFlight.Inc()
	start := time.Now()
	return func() {
		m.inFlight.Dec()
		m.fetchDuration.Observe(time.Since(start).Seconds())
	}
}

// FetchDone counts a finished acquisition. result is "ok" or a failure kind.
func (m *Metrics) FetchDone(source, result string, bytes int64) {
	if m == nil {
		return
	}
	if source == "" {
		source = "none"
	}
	m.fetches.WithLabelValues(source, result).Inc()
	if bytes > 0 {
		m.fetchBytes.Add(float64(bytes))
	}
}

// FetchJoined counts a request that waited on someone else's acquisition.
func (m *Metrics) FetchJoined() {
	if m != nil {
		m.joined.Inc()
	}
}
