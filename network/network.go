// Package network defines the transport capabilities the DAG consensus core
// consumes: point-to-point request/response unicast and reliable broadcast
// with caller-supplied acknowledgement aggregation. Wire encoding and peer
// management are the concern of the concrete transport behind Conduit.
package network

import (
	"context"

	"github.com/dagbft/dagbft/model/dag"
)

// Conduit is the unicast capability a broadcaster is built on. Unicast
// delivers the message to the target and returns the target's response.
type Conduit interface {
	Unicast(ctx context.Context, target dag.Identifier, message interface{}) (interface{}, error)
}

// AckAggregator consumes per-recipient responses during a broadcast. Add
// reports done once enough responses have been collected for the broadcast to
// stop; responses arriving after that are still delivered and must be handled
// idempotently. Implementations must be concurrency safe.
type AckAggregator interface {
	Add(peer dag.Identifier, response interface{}) (done bool, err error)
}

// Broadcaster delivers a message to all (or a subset of) validators with
// automatic per-recipient retry and backoff. A broadcast cannot fail other
// than through cancellation of the given context: unresponsive peers are
// retried until the aggregator reports done or the context ends.
type Broadcaster interface {
	// Broadcast sends the message to every member of the validator set and
	// feeds responses to the aggregator. Returns nil once the aggregator
	// reports done, or the context error on cancellation.
	Broadcast(ctx context.Context, message interface{}, agg AckAggregator) error

	// Multicast behaves like Broadcast restricted to the given targets.
	Multicast(ctx context.Context, message interface{}, agg AckAggregator, targets dag.IdentifierList) error
}

// CertifiedNodeHandler is the RPC contract for certified-node gossip. Process
// must be idempotent: a node already present in the DAG store is acknowledged
// immediately.
type CertifiedNodeHandler interface {
	ProcessCertifiedNode(ctx context.Context, node *dag.CertifiedNode) (*CertifiedNodeAck, error)
}

// CertifiedNodeAck acknowledges receipt of a certified node.
type CertifiedNodeAck struct {
	Digest dag.Identifier
	Peer   dag.Identifier
}
