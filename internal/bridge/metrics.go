package bridge

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "mqtt2influx"

// Metrics counts what the loop does with each message. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	received         prometheus.Counter
	ignored          prometheus.Counter
	empty            prometheus.Counter
	decodeFailures   prometheus.Counter
	fallbacks        prometheus.Counter
	delivered        *prometheus.CounterVec
	deliveryFailures prometheus.Counter
	deadLetters      prometheus.Counter
	deliveryLatency  prometheus.Histogram
}

// NewMetrics creates the bridge metrics and registers them on reg.
// It panics if a metric is already registered, like prometheus.MustRegister.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_received_total",
			Help:      "MQTT messages handed to the bridge.",
		}),
		ignored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_ignored_total",
			Help:      "Messages skipped because their topic is ignored.",
		}),
		empty: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_empty_total",
			Help:      "Messages skipped because their payload is empty.",
		}),
		decodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "decode_failures_total",
			Help:      "Payloads that were not valid UTF-8 or had no value key.",
		}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "decode_fallbacks_total",
			Help:      "Payloads that decoded to the default {\"value\": 0} mapping.",
		}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "points_delivered_total",
			Help:      "Points that completed an InfluxDB round trip, by HTTP status.",
		}, []string{"code"}),
		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "delivery_failures_total",
			Help:      "Points whose InfluxDB write did not complete.",
		}),
		deadLetters: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dead_letters_total",
			Help:      "Messages written to the dead-letter store.",
		}),
		deliveryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "delivery_latency_seconds",
			Help:      "Duration of one InfluxDB write.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
	}

	reg.MustRegister(
		m.received, m.ignored, m.empty, m.decodeFailures, m.fallbacks,
		m.delivered, m.deliveryFailures, m.deadLetters, m.deliveryLatency,
	)

	return m
}

func (m *Metrics) incReceived() {
	if m != nil {
		m.received.Inc()
	}
}

func (m *Metrics) incIgnored() {
	if m != nil {
		m.ignored.Inc()
	}
}

func (m *Metrics) incEmpty() {
	if m != nil {
		m.empty.Inc()
	}
}

func (m *Metrics) incDecodeFailure() {
	if m != nil {
		m.decodeFailures.Inc()
	}
}

func (m *Metrics) incFallback() {
	if m != nil {
		m.fallbacks.Inc()
	}
}

func (m *Metrics) incDeadLetter() {
	if m != nil {
		m.deadLetters.Inc()
	}
}

// observeDelivery records one write attempt. status is 0 when the round
// trip did not complete.
func (m *Metrics) observeDelivery(status int, elapsed time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.deliveryLatency.Observe(elapsed.Seconds())
	if failed {
		m.deliveryFailures.Inc()
		return
	}
	m.delivered.WithLabelValues(strconv.Itoa(status)).Inc()
}
