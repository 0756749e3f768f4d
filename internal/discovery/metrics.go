package discovery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes discovery traffic counters. Observability only; nothing in
// the core makes correctness decisions from them.
type Metrics struct {
	sent     *prometheus.CounterVec
	received *prometheus.CounterVec
	networks prometheus.Gauge
	nodes    prometheus.Gauge
}

// NewMetrics registers discovery metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		sent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "modelnet_discovery_datagrams_sent_total",
			Help: "Discovery datagrams sent, by type.",
		}, []string{"type"}),
		received: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "modelnet_discovery_datagrams_received_total",
			Help: "Discovery datagrams received, by type.",
		}, []string{"type"}),
		networks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "modelnet_discovery_networks",
			Help: "Distinct remote networks currently in the discovery cache.",
		}),
		nodes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "modelnet_discovery_nodes",
			Help: "Distinct remote nodes currently in the discovery cache.",
		}),
	}
}

func (m *Metrics) markSent(t DatagramType) {
	if m != nil {
		m.sent.WithLabelValues(string(t)).Inc()
	}
}

func (m *Metrics) markReceived(t DatagramType) {
	if m != nil {
		m.received.WithLabelValues(string(t)).Inc()
	}
}

func (m *Metrics) setCacheSizes(networks, nodes int) {
	if m != nil {
		m.networks.Set(float64(networks))
		m.nodes.Set(float64(nodes))
	}
}
