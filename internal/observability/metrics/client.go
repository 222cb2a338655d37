// Package metrics provides Prometheus metrics for the portal client
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ClientMetrics contains Prometheus metrics for backend requests, session
// refreshes and the query cache. A nil *ClientMetrics records nothing, so
// components accept it as optional.
type ClientMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	networkErrors   *prometheus.CounterVec

	authRefreshes *prometheus.CounterVec
	authLogouts   prometheus.Counter

	cacheEvents *prometheus.CounterVec

	uploadFiles *prometheus.CounterVec

	mqttConnected prometheus.Gauge
	mqttPublishes *prometheus.CounterVec
}

// NewClientMetrics creates and registers the client metrics
func NewClientMetrics(registry prometheus.Registerer) (*ClientMetrics, error) {
	m := &ClientMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *ClientMetrics) initMetrics() {
	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pam_backend_requests_total",
			Help: "Total number of requests sent to the portal backend",
		},
		[]string{"method", "endpoint", "status_code"}, // endpoint: route template such as /api/datafile/{id}/
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pam_backend_request_duration_seconds",
			Help:    "Time taken for backend requests",
			Buckets: prometheus.ExponentialBuckets(BucketStart5ms, BucketFactor2, BucketCount12),
		},
		[]string{"method", "endpoint"},
	)

	m.networkErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pam_backend_network_errors_total",
			Help: "Requests that never reached the backend",
		},
		[]string{"method", "endpoint"},
	)

	m.authRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pam_auth_refreshes_total",
			Help: "Session refresh calls sent to the backend",
		},
		[]string{"result"},
	)

	m.authLogouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pam_auth_logouts_total",
		Help: "Sessions ended by logout or failed refresh",
	})

	m.cacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pam_query_cache_events_total",
			Help: "Query cache events by kind",
		},
		[]string{"event"}, // hit, miss, deduplicated, stale_dropped, invalidated
	)

	m.uploadFiles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pam_upload_files_total",
			Help: "Files submitted through the upload wizard",
		},
		[]string{"result"},
	)

	m.mqttConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pam_mqtt_connected",
		Help: "1 while connected to the MQTT broker",
	})

	m.mqttPublishes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pam_mqtt_publishes_total",
			Help: "Quality status events published to MQTT",
		},
		[]string{"result"},
	)
}

func (m *ClientMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.requestsTotal,
		m.requestDuration,
		m.networkErrors,
		m.authRefreshes,
		m.authLogouts,
		m.cacheEvents,
		m.uploadFiles,
		m.mqttConnected,
		m.mqttPublishes,
	}
}

// Describe implements the prometheus.Collector interface
func (m *ClientMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface
func (m *ClientMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// RecordRequest records a completed backend exchange
func (m *ClientMetrics) RecordRequest(method, endpoint string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordNetworkError records a request that failed before a response arrived
func (m *ClientMetrics) RecordNetworkError(method, endpoint string) {
	if m == nil {
		return
	}
	m.networkErrors.WithLabelValues(method, endpoint).Inc()
}

// RecordRefresh records one refresh call and its result
func (m *ClientMetrics) RecordRefresh(result string) {
	if m == nil {
		return
	}
	m.authRefreshes.WithLabelValues(result).Inc()
}

// RecordLogout records the end of a session
func (m *ClientMetrics) RecordLogout() {
	if m == nil {
		return
	}
	m.authLogouts.Inc()
}

// RecordCacheEvent records a query cache event
func (m *ClientMetrics) RecordCacheEvent(event string) {
	if m == nil {
		return
	}
	m.cacheEvents.WithLabelValues(event).Inc()
}

// RecordUpload records the outcome for n uploaded files
func (m *ClientMetrics) RecordUpload(result string, n int) {
	if m == nil {
		return
	}
	m.uploadFiles.WithLabelValues(result).Add(float64(n))
}

// SetMQTTConnected updates the broker connection gauge
func (m *ClientMetrics) SetMQTTConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.mqttConnected.Set(1)
		return
	}
	m.mqttConnected.Set(0)
}

// RecordPublish records one MQTT publish and its result
func (m *ClientMetrics) RecordPublish(result string) {
	if m == nil {
		return
	}
	m.mqttPublishes.WithLabelValues(result).Inc()
}
