package peers

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsInitOnce sync.Once
	sharedMetrics   *registryMetrics
)

type registryMetrics struct {
	handshakes  *prometheus.CounterVec
	evictions   prometheus.Counter
	healthDrops prometheus.Counter
	admitted    prometheus.Gauge
}

func newRegistryMetrics() *registryMetrics {
	metricsInitOnce.Do(func() {
		m := &registryMetrics{
			handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "aenode_peers_handshakes_total",
				Help: "Handshake outcomes by result.",
			}, []string{"result"}),
			evictions: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "aenode_peers_evictions_total",
				Help: "Peers evicted to make room for a new admission.",
			}),
			healthDrops: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "aenode_peers_health_drops_total",
				Help: "Peers dropped by the periodic health check.",
			}),
			admitted: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "aenode_peers_admitted",
				Help: "Currently admitted peer count.",
			}),
		}
		prometheus.MustRegister(m.handshakes, m.evictions, m.healthDrops, m.admitted)
		sharedMetrics = m
	})
	return sharedMetrics
}
