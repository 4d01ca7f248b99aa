package bus

import "github.com/prometheus/client_golang/prometheus"

// healthStateValue maps a HealthState onto the gauge value Prometheus
// expects: higher is healthier, so alerting rules can threshold on "< 1".
var healthStateValue = map[HealthState]float64{
	HealthHealthy:   3,
	HealthDegraded:  2,
	HealthUnhealthy: 1,
	HealthStopped:   0,
}

var (
	adapterHealthGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "plugin_bus",
		Name:      "adapter_health",
		Help:      "Current health state of a loaded adapter (3=healthy 2=degraded 1=unhealthy 0=stopped).",
	}, []string{"plugin"})

	routedMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plugin_bus",
		Name:      "routed_messages_total",
		Help:      "Messages routed to an adapter, labeled by plugin and outcome.",
	}, []string{"plugin", "outcome"})
)

func init() {
	prometheus.MustRegister(adapterHealthGauge, routedMessagesTotal)
}

func observeHealth(name string, state HealthState) {
	if v, ok := healthStateValue[state]; ok {
		adapterHealthGauge.WithLabelValues(name).Set(v)
	}
}

func observeRouted(name, outcome string) {
	routedMessagesTotal.WithLabelValues(name, outcome).Inc()
}
