package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector owns every gateway metric. Construct one per process with
// NewCollector and thread it through the pipeline.
type Collector struct {
	requestsTotal   *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	queueDepth      *prometheus.GaugeVec
	queueWait       *prometheus.HistogramVec
	tokensTotal     *prometheus.CounterVec
	keys            *prometheus.GaugeVec
	retriesTotal    *prometheus.CounterVec
}

// NewCollector registers the gateway metrics on the given registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "charon_requests_total",
			Help: "Completed requests by service, model family and outcome.",
		}, []string{"service", "family", "outcome"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "charon_upstream_latency_seconds",
			Help:    "Latency of upstream attempts.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"service", "family"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "charon_queue_depth",
			Help: "Requests waiting in each admission-queue partition.",
		}, []string{"service", "family"}),
		queueWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "charon_queue_wait_seconds",
			Help:    "Time requests spent queued before dispatch.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"service", "family"}),
		tokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "charon_tokens_total",
			Help: "Tokens processed by family and direction.",
		}, []string{"family", "direction"}),
		keys: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "charon_keys",
			Help: "Pooled keys by service and lifecycle state.",
		}, []string{"service", "state"}),
		retriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "charon_retries_total",
			Help: "Request re-enqueues by service and error classification.",
		}, []string{"service", "classification"}),
	}
	reg.MustRegister(
		c.requestsTotal, c.upstreamLatency, c.queueDepth,
		c.queueWait, c.tokensTotal, c.keys, c.retriesTotal,
	)
	return c
}

// RecordRequest counts one finished request.
func (c *Collector) RecordRequest(service, family, outcome string, upstreamLatency time.Duration) {
	c.requestsTotal.WithLabelValues(service, family, outcome).Inc()
	c.upstreamLatency.WithLabelValues(service, family).Observe(upstreamLatency.Seconds())
}

// RecordQueueWait observes a dispatch wait.
func (c *Collector) RecordQueueWait(service, family string, waited time.Duration) {
	c.queueWait.WithLabelValues(service, family).Observe(waited.Seconds())
}

// SetQueueDepth gauges a partition's depth.
func (c *Collector) SetQueueDepth(service, family string, depth int) {
	c.queueDepth.WithLabelValues(service, family).Set(float64(depth))
}

// AddTokens counts processed tokens.
func (c *Collector) AddTokens(family string, input, output int64) {
	c.tokensTotal.WithLabelValues(family, "input").Add(float64(input))
	c.tokensTotal.WithLabelValues(family, "output").Add(float64(output))
}

// SetKeyState gauges the pool composition.
func (c *Collector) SetKeyState(service, state string, n int) {
	c.keys.WithLabelValues(service, state).Set(float64(n))
}

// RecordRetry counts a re-enqueue.
func (c *Collector) RecordRetry(service, classification string) {
	c.retriesTotal.WithLabelValues(service, classification).Inc()
}
