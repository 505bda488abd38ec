package metrics

// NoopCollector implements all metrics interfaces as no-ops, for tests and
// for nodes running without an exposition endpoint.
type NoopCollector struct{}

func NewNoopCollector() *NoopCollector { return &NoopCollector{} }

func (nc *NoopCollector) CurrentRound(round uint64)    {}
func (nc *NoopCollector) NodeCertified()               {}
func (nc *NoopCollector) NodesOrdered(count int)       {}
func (nc *NoopCollector) AnchorCommitted(round uint64) {}
func (nc *NoopCollector) VoteProcessed()               {}
func (nc *NoopCollector) BroadcastRetry()              {}
func (nc *NoopCollector) EntriesPruned(count int)      {}
func (nc *NoopCollector) MissingParentsRequested()     {}
