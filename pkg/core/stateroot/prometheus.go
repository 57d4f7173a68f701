package stateroot

import "github.com/prometheus/client_golang/prometheus"

var (
	// stateHeight prometheus metric.
	stateHeight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Help:      "Current local state height",
			Name:      "current_state_height",
			Namespace: "neogo",
		},
	)
	// committedNodes prometheus metric.
	committedNodes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of MPT nodes flushed to the storage",
			Name:      "mpt_committed_nodes_total",
			Namespace: "neogo",
		},
	)
)

func init() {
	prometheus.MustRegister(
		stateHeight,
		committedNodes,
	)
}

func updateStateHeightMetric(sHeight uint32) {
	stateHeight.Set(float64(sHeight))
}

func addCommittedNodesMetric(n int) {
	committedNodes.Add(float64(n))
}
