package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		controlReconnectsTotal,
		controlFramesTotal,
		controlConnected,
	)
}

var (
	controlReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "control_channel_reconnects_total",
			Help: "Total number of control channel reconnect attempts.",
		},
	)

	controlFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "control_channel_frames_total",
			Help: "Control channel frames by direction and type.",
		},
		[]string{"direction", "type"}, // direction: 'in', 'out', 'dropped'
	)

	controlConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "control_channel_connected",
			Help: "1 when the control channel is open.",
		},
	)
)

func IncControlReconnect() {
	controlReconnectsTotal.Inc()
}

func IncControlFrame(direction, msgType string) {
	controlFramesTotal.WithLabelValues(norm(direction), norm(msgType)).Inc()
}

func SetControlConnected(up bool) {
	if up {
		controlConnected.Set(1)
		return
	}
	controlConnected.Set(0)
}
