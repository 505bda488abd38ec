package module

// ConsensusMetrics exposes the observability sink of the DAG consensus core.
// Implementations must be non-blocking; the protocol hot path calls these
// directly.
type ConsensusMetrics interface {
	// CurrentRound records the round the driver is currently proposing in.
	CurrentRound(round uint64)

	// NodeCertified is called once a proposed node collected a certificate.
	NodeCertified()

	// NodesOrdered records the number of nodes linearized for one anchor.
	NodesOrdered(count int)

	// AnchorCommitted records the round of a committed anchor.
	AnchorCommitted(round uint64)

	// VoteProcessed is called for every vote accepted by the aggregator.
	VoteProcessed()

	// BroadcastRetry is called for every broadcast re-attempt to a peer.
	BroadcastRetry()

	// EntriesPruned records the number of DAG store entries removed by a prune.
	EntriesPruned(count int)

	// MissingParentsRequested is called when a fetch of missing causal
	// history is scheduled.
	MissingParentsRequested()
}
