package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the server
type Metrics struct {
	// Session metrics
	activeSessions       prometheus.Gauge
	sessionsCreated      prometheus.Counter
	sessionsDisconnected prometheus.Counter
	sessionsReplaced     prometheus.Counter
	authFailures         prometheus.Counter

	// Message metrics
	messagesReceived  *prometheus.CounterVec // by event
	messagesSent      *prometheus.CounterVec // by event
	messagesPersisted *prometheus.CounterVec // by class
	storeFailures     *prometheus.CounterVec // by operation

	// Delivery metrics
	broadcastFanout  *prometheus.HistogramVec
	deliveryDuration *prometheus.HistogramVec
}

// NewMetrics registers the server metrics with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "allchat_active_sessions",
				Help: "Current number of authenticated sessions",
			},
		),
		sessionsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "allchat_sessions_created_total",
				Help: "Total number of sessions created",
			},
		),
		sessionsDisconnected: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "allchat_sessions_disconnected_total",
				Help: "Total number of sessions disconnected",
			},
		),
		sessionsReplaced: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "allchat_sessions_replaced_total",
				Help: "Total number of sessions closed by a newer login of the same user",
			},
		),
		authFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "allchat_auth_failures_total",
				Help: "Total number of connections rejected for a missing or invalid token",
			},
		),
		messagesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "allchat_events_received_total",
				Help: "Total number of events received from clients by event name",
			},
			[]string{"event"},
		),
		messagesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "allchat_events_sent_total",
				Help: "Total number of events queued to clients by event name",
			},
			[]string{"event"},
		),
		messagesPersisted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "allchat_messages_persisted_total",
				Help: "Total number of messages written to the store",
			},
			[]string{"class"}, // "broadcast" or "private"
		),
		storeFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "allchat_store_failures_total",
				Help: "Total number of failed message store operations",
			},
			[]string{"operation"},
		),
		broadcastFanout: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "allchat_broadcast_fanout",
				Help:    "Number of sessions that received each broadcast event",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2000, 5000},
			},
			[]string{"type"},
		),
		deliveryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "allchat_delivery_duration_seconds",
				Help:    "Time taken to queue an event on every target session",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		),
	}
}

// RecordActiveSessions updates the active session count
func (m *Metrics) RecordActiveSessions(count int) {
	m.activeSessions.Set(float64(count))
}

// RecordSessionCreated increments the session creation counter
func (m *Metrics) RecordSessionCreated() {
	m.sessionsCreated.Inc()
}

// RecordSessionDisconnected increments the session disconnection counter
func (m *Metrics) RecordSessionDisconnected() {
	m.sessionsDisconnected.Inc()
}

// RecordSessionReplaced increments the replaced session counter
func (m *Metrics) RecordSessionReplaced() {
	m.sessionsReplaced.Inc()
}

// RecordAuthFailure increments the rejected connection counter
func (m *Metrics) RecordAuthFailure() {
	m.authFailures.Inc()
}

// RecordMessageReceived increments the received counter for an event
func (m *Metrics) RecordMessageReceived(event string) {
	m.messagesReceived.WithLabelValues(event).Inc()
}

// RecordMessagesSent adds n to the sent counter for an event
func (m *Metrics) RecordMessagesSent(event string, n int) {
	m.messagesSent.WithLabelValues(event).Add(float64(n))
}

// RecordMessagePersisted increments the persisted counter for a message class
func (m *Metrics) RecordMessagePersisted(class string) {
	m.messagesPersisted.WithLabelValues(class).Inc()
}

// RecordStoreFailure increments the failure counter for a store operation
func (m *Metrics) RecordStoreFailure(operation string) {
	m.storeFailures.WithLabelValues(operation).Inc()
}

// RecordBroadcastFanout records how many sessions received a broadcast
func (m *Metrics) RecordBroadcastFanout(broadcastType string, recipientCount int) {
	m.broadcastFanout.WithLabelValues(broadcastType).Observe(float64(recipientCount))
}

// RecordDeliveryDuration records how long queueing took
func (m *Metrics) RecordDeliveryDuration(deliveryType string, durationSeconds float64) {
	m.deliveryDuration.WithLabelValues(deliveryType).Observe(durationSeconds)
}
