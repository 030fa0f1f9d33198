package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(routerMessagesTotal) }

var routerMessagesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "router_messages_total",
		Help: "Inbound messages handled by the router, labeled by outcome.",
	},
	[]string{"outcome"}, // 'accepted', 'rejected', 'duplicate', 'failed'
)

func IncRouterMessage(outcome string) {
	routerMessagesTotal.WithLabelValues(norm(outcome)).Inc()
}
