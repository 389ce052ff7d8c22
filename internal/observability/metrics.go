package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type relayMetrics struct {
	connectionsActive prometheus.Gauge
	sessionsActive    prometheus.Gauge

	recordsAppended *prometheus.CounterVec
	appendDuration  *prometheus.HistogramVec
	fanoutTotal     *prometheus.CounterVec
	hubSubscribers  *prometheus.GaugeVec
	hubFailures     *prometheus.CounterVec

	joinRejections *prometheus.CounterVec
	protocolErrors prometheus.Counter
	slowEvictions  *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *relayMetrics
)

func getMetrics() *relayMetrics {
	metricsOnce.Do(func() {
		m := &relayMetrics{
			connectionsActive: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "connections_active",
					Help: "Current number of open websocket connections.",
				},
			),
			sessionsActive: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "sessions_active",
					Help: "Current number of joined (handle, channel) sessions.",
				},
			),
			recordsAppended: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "records_appended_total",
					Help: "Total log records appended by channel and kind.",
				},
				[]string{"channel", "kind"},
			),
			appendDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "append_duration_seconds",
					Help:    "Log append duration in seconds by channel.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"channel"},
			),
			fanoutTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "fanout_deliveries_total",
					Help: "Total records queued to live subscribers by channel.",
				},
				[]string{"channel"},
			),
			hubSubscribers: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "hub_subscribers",
					Help: "Current live subscribers by channel.",
				},
				[]string{"channel"},
			),
			hubFailures: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "hub_failures_total",
					Help: "Channel hubs stopped by a storage failure.",
				},
				[]string{"channel"},
			),
			joinRejections: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "join_rejections_total",
					Help: "Rejected join attempts by reason.",
				},
				[]string{"reason"},
			),
			protocolErrors: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "protocol_errors_total",
					Help: "Connections closed because of a malformed or unknown frame.",
				},
			),
			slowEvictions: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "slow_subscriber_evictions_total",
					Help: "Subscribers dropped for falling too far behind, by channel.",
				},
				[]string{"channel"},
			),
		}

		prometheus.MustRegister(
			m.connectionsActive,
			m.sessionsActive,
			m.recordsAppended,
			m.appendDuration,
			m.fanoutTotal,
			m.hubSubscribers,
			m.hubFailures,
			m.joinRejections,
			m.protocolErrors,
			m.slowEvictions,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func ConnectionOpened() {
	getMetrics().connectionsActive.Inc()
}

func ConnectionClosed() {
	getMetrics().connectionsActive.Dec()
}

func SetActiveSessions(count int) {
	getMetrics().sessionsActive.Set(float64(count))
}

func RecordAppend(channel, kind string, duration time.Duration) {
	m := getMetrics()
	m.recordsAppended.WithLabelValues(channel, kind).Inc()
	m.appendDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

func RecordFanout(channel string, subscribers int) {
	getMetrics().fanoutTotal.WithLabelValues(channel).Add(float64(subscribers))
}

func SetHubSubscribers(channel string, count int) {
	getMetrics().hubSubscribers.WithLabelValues(channel).Set(float64(count))
}

func RecordHubFailure(channel string) {
	getMetrics().hubFailures.WithLabelValues(channel).Inc()
}

func RecordJoinRejection(reason string) {
	getMetrics().joinRejections.WithLabelValues(reason).Inc()
}

func RecordProtocolError() {
	getMetrics().protocolErrors.Inc()
}

func RecordSlowEviction(channel string) {
	getMetrics().slowEvictions.WithLabelValues(channel).Inc()
}
