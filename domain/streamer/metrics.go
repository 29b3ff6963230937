package streamer

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	headBlockGauge       prometheus.Gauge
	processedBlockGauge  prometheus.Gauge
	errorCountGauge      prometheus.Gauge
	failoverCounter      prometheus.Counter
	dispatchedOperations prometheus.Counter
}

func NewMetrics(namespace string) *Metrics {
	m := Metrics{
		// metrics for comparison to the ledger head
		headBlockGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_head_block", namespace),
			Help: "The latest known head block of the ledger",
		}),
		processedBlockGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_processed_block", namespace),
			Help: "The latest fully processed block",
		}),
		errorCountGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_error_count", namespace),
			Help: "Consecutive failed processing cycles",
		}),
		failoverCounter: promauto.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_failover_count", namespace),
			Help: "Number of api node switches",
		}),
		dispatchedOperations: promauto.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_dispatched_operations", namespace),
			Help: "Number of operations handed to the dispatcher",
		}),
	}
	return &m
}

func (metrics *Metrics) SetHeadBlock(block uint64) {
	metrics.headBlockGauge.Set(float64(block))
}

func (metrics *Metrics) SetProcessedBlock(block uint64) {
	metrics.processedBlockGauge.Set(float64(block))
}

func (metrics *Metrics) SetErrorCount(count uint) {
	metrics.errorCountGauge.Set(float64(count))
}

func (metrics *Metrics) IncFailover() {
	metrics.failoverCounter.Inc()
}

func (metrics *Metrics) AddDispatchedOperations(count int) {
	metrics.dispatchedOperations.Add(float64(count))
}
