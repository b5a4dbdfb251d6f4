// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// UpstreamBuckets spans catalog lookups (tens of ms) to long streamed
// completions.
var UpstreamBuckets = []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60}

var (
	// RequestsTotal counts inbound requests by route pattern and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vertexgate_requests_total",
			Help: "Inbound requests",
		},
		[]string{"route", "status"},
	)

	// UpstreamRequestsTotal counts backend calls by kind (chat, catalog) and status.
	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vertexgate_upstream_requests_total",
			Help: "Backend requests",
		},
		[]string{"kind", "region", "status"},
	)

	// UpstreamLatency records time to upstream response headers.
	UpstreamLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vertexgate_upstream_latency_seconds",
			Help:    "Backend time to first byte",
			Buckets: UpstreamBuckets,
		},
		[]string{"kind"},
	)

	// ModelCacheLookups counts catalog cache hits and misses.
	ModelCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vertexgate_model_cache_lookups_total",
			Help: "Model catalog cache lookups",
		},
		[]string{"result"},
	)

	// CredentialRefreshes counts credential source outcomes (new, not_modified, error).
	CredentialRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vertexgate_credential_lookups_total",
			Help: "Credential source lookups",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		UpstreamRequestsTotal,
		UpstreamLatency,
		ModelCacheLookups,
		CredentialRefreshes,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// StatusClass renders 404 as "4xx"; 0 means no response was received.
func StatusClass(status int) string {
	if status <= 0 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}

func ObserveUpstream(kind, region string, status int, latency time.Duration) {
	UpstreamRequestsTotal.WithLabelValues(kind, region, StatusClass(status)).Inc()
	if status > 0 {
		UpstreamLatency.WithLabelValues(kind).Observe(latency.Seconds())
	}
}
