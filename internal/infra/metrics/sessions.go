package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		botSessionsActive,
		botSessionEventsTotal,
		transportSendTotal,
	)
}

var (
	botSessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_sessions_active",
			Help: "Number of bot sessions currently running.",
		},
	)

	botSessionEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_session_events_total",
			Help: "Session registry events by kind.",
		},
		[]string{"event"}, // 'started', 'stopped', 'message', 'error'
	)

	transportSendTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transport_send_total",
			Help: "Outbound chat transport sends by result.",
		},
		[]string{"result"}, // 'ok', 'failed', 'no_session'
	)
)

func SetSessionsActive(n int) {
	botSessionsActive.Set(float64(n))
}

func IncSessionEvent(event string) {
	botSessionEventsTotal.WithLabelValues(norm(event)).Inc()
}

func IncTransportSend(result string) {
	transportSendTotal.WithLabelValues(norm(result)).Inc()
}
