package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the chat server collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	messages      prometheus.Counter
	conversations prometheus.Counter
	subscribers   prometheus.Gauge
	dropped       prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rentchat",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rentchat",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		messages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rentchat",
			Name:      "messages_sent_total",
			Help:      "Messages accepted by the store.",
		}),
		conversations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rentchat",
			Name:      "conversations_started_total",
			Help:      "Conversation create calls that succeeded.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rentchat",
			Name:      "realtime_subscribers",
			Help:      "Open realtime subscriptions.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rentchat",
			Name:      "realtime_events_dropped_total",
			Help:      "Events dropped because a subscriber was too slow.",
		}),
	}
	m.registry.MustRegister(
		prometheus.NewGoCollector(),
		m.requests, m.latency, m.messages, m.conversations, m.subscribers, m.dropped,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) MessageSent() {
	if m != nil {
		m.messages.Inc()
	}
}

func (m *Metrics) ConversationStarted() {
	if m != nil {
		m.conversations.Inc()
	}
}

func (m *Metrics) SubscriberAdded() {
	if m != nil {
		m.subscribers.Inc()
	}
}

func (m *Metrics) SubscriberRemoved() {
	if m != nil {
		m.subscribers.Dec()
	}
}

func (m *Metrics) EventDropped() {
	if m != nil {
		m.dropped.Inc()
	}
}
