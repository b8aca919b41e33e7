// Package metrics exposes prometheus collectors for the node.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type nodeMetrics struct {
	instructions *prometheus.CounterVec
	events       *prometheus.CounterVec
	blocks       prometheus.Counter
	blockTxs     prometheus.Histogram
	blockLatency prometheus.Histogram
	height       prometheus.Gauge
	mempool      prometheus.Gauge
	wsClients    prometheus.Gauge
}

var (
	nodeMetricsOnce sync.Once
	nodeRegistry    *nodeMetrics
)

// Node returns the lazily-initialised node metrics registry.
func Node() *nodeMetrics {
	nodeMetricsOnce.Do(func() {
		nodeRegistry = &nodeMetrics{
			instructions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "hyperlend",
				Subsystem: "app",
				Name:      "instructions_total",
				Help:      "Instructions applied, segmented by type and receipt status.",
			}, []string{"type", "status"}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "hyperlend",
				Subsystem: "app",
				Name:      "events_total",
				Help:      "Events emitted by committed instructions.",
			}, []string{"event"}),
			blocks: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "hyperlend",
				Subsystem: "sequencer",
				Name:      "blocks_total",
				Help:      "Blocks committed.",
			}),
			blockTxs: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "hyperlend",
				Subsystem: "sequencer",
				Name:      "block_txs",
				Help:      "Instructions per committed block.",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			}),
			blockLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "hyperlend",
				Subsystem: "sequencer",
				Name:      "block_duration_seconds",
				Help:      "Time to apply and persist a block.",
				Buckets:   prometheus.DefBuckets,
			}),
			height: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "hyperlend",
				Subsystem: "sequencer",
				Name:      "height",
				Help:      "Last committed height.",
			}),
			mempool: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "hyperlend",
				Subsystem: "app",
				Name:      "mempool_size",
				Help:      "Pending instructions.",
			}),
			wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "hyperlend",
				Subsystem: "api",
				Name:      "ws_clients",
				Help:      "Connected websocket clients.",
			}),
		}
		prometheus.MustRegister(
			nodeRegistry.instructions,
			nodeRegistry.events,
			nodeRegistry.blocks,
			nodeRegistry.blockTxs,
			nodeRegistry.blockLatency,
			nodeRegistry.height,
			nodeRegistry.mempool,
			nodeRegistry.wsClients,
		)
	})
	return nodeRegistry
}

func (m *nodeMetrics) ObserveInstruction(txType, status string) {
	if m == nil {
		return
	}
	if txType == "" {
		txType = "unknown"
	}
	m.instructions.WithLabelValues(txType, status).Inc()
}

func (m *nodeMetrics) ObserveEvent(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType).Inc()
}

func (m *nodeMetrics) ObserveBlock(height int64, txs int, took time.Duration) {
	if m == nil {
		return
	}
	m.blocks.Inc()
	m.blockTxs.Observe(float64(txs))
	m.blockLatency.Observe(took.Seconds())
	m.height.Set(float64(height))
}

func (m *nodeMetrics) SetMempoolSize(n int) {
	if m == nil {
		return
	}
	m.mempool.Set(float64(n))
}

func (m *nodeMetrics) SetWSClients(n int) {
	if m == nil {
		return
	}
	m.wsClients.Set(float64(n))
}
