// Package metrics exposes Prometheus metrics for the relay.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "relaypipe"

// Collector holds the relay's metrics. A nil *Collector records nothing.
type Collector struct {
	inboundTotal      *prometheus.CounterVec
	outboundTotal     *prometheus.CounterVec
	responderTotal    *prometheus.CounterVec
	responderDuration prometheus.Histogram
	storeErrors       *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// NewCollector registers the relay metrics with reg. A nil reg uses a fresh registry.
func NewCollector(namespace string, reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	}
	factory := promauto.With(reg)
	c := &Collector{gatherer: reg}

	c.inboundTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_messages_total",
			Help:      "Inbound messages by routing outcome",
		},
		[]string{"outcome"},
	)

	c.outboundTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_messages_total",
			Help:      "Outbound sends by message kind and result",
		},
		[]string{"kind", "status"},
	)

	c.responderTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responder_requests_total",
			Help:      "Generative responder calls by result",
		},
		[]string{"status"},
	)

	c.responderDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "responder_duration_seconds",
			Help:      "Generative responder latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
		},
	)

	c.storeErrors = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Persistence failures by operation",
		},
		[]string{"op"},
	)

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	return c
}

// RecordInbound counts one routed inbound message.
func (c *Collector) RecordInbound(outcome string) {
	if c == nil {
		return
	}
	c.inboundTotal.WithLabelValues(outcome).Inc()
}

// RecordOutbound counts one outbound send.
func (c *Collector) RecordOutbound(kind string, err error) {
	if c == nil {
		return
	}
	c.outboundTotal.WithLabelValues(kind, statusLabel(err)).Inc()
}

// RecordResponder counts one responder call and observes its latency.
func (c *Collector) RecordResponder(d time.Duration, err error) {
	if c == nil {
		return
	}
	c.responderTotal.WithLabelValues(statusLabel(err)).Inc()
	c.responderDuration.Observe(d.Seconds())
}

// RecordStoreError counts one persistence failure.
func (c *Collector) RecordStoreError(op string) {
	if c == nil {
		return
	}
	c.storeErrors.WithLabelValues(op).Inc()
}

// RecordHTTPRequest records one served HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
