// Package metrics provides Prometheus-backed implementations of the metrics
// interfaces, plus a no-op collector for tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dagbft/dagbft/module"
)

const (
	namespaceConsensus = "consensus"
	subsystemDAG       = "dag"
)

// ConsensusCollector is the Prometheus implementation of
// module.ConsensusMetrics.
type ConsensusCollector struct {
	currentRound       prometheus.Gauge
	certifiedNodes     prometheus.Counter
	orderedNodes       prometheus.Counter
	committedAnchor    prometheus.Gauge
	processedVotes     prometheus.Counter
	broadcastRetries   prometheus.Counter
	prunedEntries      prometheus.Counter
	missingParentFetch prometheus.Counter
}

var _ module.ConsensusMetrics = (*ConsensusCollector)(nil)

func NewConsensusCollector(registerer prometheus.Registerer) *ConsensusCollector {
	factory := promauto.With(registerer)
	return &ConsensusCollector{
		currentRound: factory.NewGauge(prometheus.GaugeOpts{
			Name:      "current_round",
			Namespace: namespaceConsensus,
			Subsystem: subsystemDAG,
			Help:      "the round the driver is currently proposing in",
		}),
		certifiedNodes: factory.NewCounter(prometheus.CounterOpts{
			Name:      "certified_nodes_total",
			Namespace: namespaceConsensus,
			Subsystem: subsystemDAG,
			Help:      "number of own proposals that collected a certificate",
		}),
		orderedNodes: factory.NewCounter(prometheus.CounterOpts{
			Name:      "ordered_nodes_total",
			Namespace: namespaceConsensus,
			Subsystem: subsystemDAG,
			Help:      "number of nodes linearized into ordered blocks",
		}),
		committedAnchor: factory.NewGauge(prometheus.GaugeOpts{
			Name:      "committed_anchor_round",
			Namespace: namespaceConsensus,
			Subsystem: subsystemDAG,
			Help:      "round of the most recently committed anchor",
		}),
		processedVotes: factory.NewCounter(prometheus.CounterOpts{
			Name:      "processed_votes_total",
			Namespace: namespaceConsensus,
			Subsystem: subsystemDAG,
			Help:      "number of votes accepted by the vote aggregator",
		}),
		broadcastRetries: factory.NewCounter(prometheus.CounterOpts{
			Name:      "broadcast_retries_total",
			Namespace: namespaceConsensus,
			Subsystem: subsystemDAG,
			Help:      "number of broadcast re-attempts to individual peers",
		}),
		prunedEntries: factory.NewCounter(prometheus.CounterOpts{
			Name:      "pruned_entries_total",
			Namespace: namespaceConsensus,
			Subsystem: subsystemDAG,
			Help:      "number of DAG store entries removed by pruning",
		}),
		missingParentFetch: factory.NewCounter(prometheus.CounterOpts{
			Name:      "missing_parent_fetches_total",
			Namespace: namespaceConsensus,
			Subsystem: subsystemDAG,
			Help:      "number of scheduled fetches of missing causal history",
		}),
	}
}

func (cc *ConsensusCollector) CurrentRound(round uint64) {
	cc.currentRound.Set(float64(round))
}

func (cc *ConsensusCollector) NodeCertified() {
	cc.certifiedNodes.Inc()
}

func (cc *ConsensusCollector) NodesOrdered(count int) {
	cc.orderedNodes.Add(float64(count))
}

func (cc *ConsensusCollector) AnchorCommitted(round uint64) {
	cc.committedAnchor.Set(float64(round))
}

func (cc *ConsensusCollector) VoteProcessed() {
	cc.processedVotes.Inc()
}

func (cc *ConsensusCollector) BroadcastRetry() {
	cc.broadcastRetries.Inc()
}

func (cc *ConsensusCollector) EntriesPruned(count int) {
	cc.prunedEntries.Add(float64(count))
}

func (cc *ConsensusCollector) MissingParentsRequested() {
	cc.missingParentFetch.Inc()
}
