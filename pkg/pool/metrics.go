package pool

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for all pools in the process, labeled by pool name.
var (
	openConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "driverpool",
		Name:      "open_connections",
		Help:      "Connections currently owned by the pool (free + used)",
	}, []string{"pool"})

	freeConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "driverpool",
		Name:      "free_connections",
		Help:      "Idle open connections available for acquisition",
	}, []string{"pool"})

	waitingAcquires = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "driverpool",
		Name:      "waiting_acquires",
		Help:      "Acquire calls suspended waiting for capacity",
	}, []string{"pool"})

	connectionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "driverpool",
		Name:      "connections_created_total",
		Help:      "Connections established by the pool",
	}, []string{"pool"})

	connectionsReused = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "driverpool",
		Name:      "connections_reused_total",
		Help:      "Acquisitions served from the free list",
	}, []string{"pool"})

	connectionsDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "driverpool",
		Name:      "connections_discarded_total",
		Help:      "Connections dropped after being found closed",
	}, []string{"pool"})

	connectionsReplenished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "driverpool",
		Name:      "connections_replenished_total",
		Help:      "Connections established by the replenish-to-minimum task",
	}, []string{"pool"})

	acquireWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "driverpool",
		Name:      "acquire_wait_seconds",
		Help:      "Time spent waiting for capacity in Acquire",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"pool"})
)

// collector holds the label-curried metrics for one pool instance.
type collector struct {
	open        prometheus.Gauge
	free        prometheus.Gauge
	waiting     prometheus.Gauge
	created     prometheus.Counter
	reused      prometheus.Counter
	discarded   prometheus.Counter
	replenished prometheus.Counter
	wait        prometheus.Observer
}

func newCollector(poolName string) *collector {
	return &collector{
		open:        openConnections.WithLabelValues(poolName),
		free:        freeConnections.WithLabelValues(poolName),
		waiting:     waitingAcquires.WithLabelValues(poolName),
		created:     connectionsCreated.WithLabelValues(poolName),
		reused:      connectionsReused.WithLabelValues(poolName),
		discarded:   connectionsDiscarded.WithLabelValues(poolName),
		replenished: connectionsReplenished.WithLabelValues(poolName),
		wait:        acquireWaitSeconds.WithLabelValues(poolName),
	}
}

func (m *collector) setGauges(open, free, waiting int) {
	m.open.Set(float64(open))
	m.free.Set(float64(free))
	m.waiting.Set(float64(waiting))
}

func (m *collector) observeWait(d time.Duration) {
	m.wait.Observe(d.Seconds())
}
