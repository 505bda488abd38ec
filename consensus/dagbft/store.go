// Package dagbft defines the interfaces of the DAG-based BFT ordering core:
// the certified-node store, vote aggregation, ordering notification, and the
// external capabilities (payload source, ledger-info provider) the round
// driver consumes. Implementations live in the subpackages.
package dagbft

import (
	"github.com/dagbft/dagbft/model/dag"
)

// NodeStatus tags a DAG store entry. Transitions only move forward
// (Unordered -> Ordered -> Committed), never backward.
type NodeStatus int

const (
	NodeUnordered NodeStatus = iota
	NodeOrdered
	NodeCommitted
)

func (s NodeStatus) String() string {
	switch s {
	case NodeUnordered:
		return "unordered"
	case NodeOrdered:
		return "ordered"
	case NodeCommitted:
		return "committed"
	default:
		return "unknown"
	}
}

// StatusFilter selects DAG store entries by status during traversal.
type StatusFilter func(status NodeStatus) bool

// AnyStatus accepts all entries.
func AnyStatus() StatusFilter {
	return func(NodeStatus) bool { return true }
}

// UnorderedOnly accepts entries not yet ordered.
func UnorderedOnly() StatusFilter {
	return func(status NodeStatus) bool { return status == NodeUnordered }
}

// Traversal is a lazy, finite walk over causally reachable nodes. It is not
// restartable: once Next returns false, the traversal is exhausted.
type Traversal interface {
	// Next returns the next reachable node, or false once exhausted.
	Next() (*dag.CertifiedNode, bool)
}

// Store is the arena of certified nodes keyed by (round, author), bounded to
// a sliding window of rounds below the highest committed anchor. It is the
// single piece of shared mutable state of the protocol: read often (round
// checks, reachability), written rarely (insertion, pruning).
type Store interface {
	// AddNode inserts a certified node.
	// Expected errors during normal operations:
	//  - model.StaleNodeError if the node's round is below the retained window
	//  - model.MissingParentsError if cited parents are absent; the node is
	//    not inserted and the caller schedules a fetch
	//  - model.ByzantineThresholdExceededError if a conflicting certified
	//    node for the same (round, author) already exists
	// A node citing a parent at its own or a higher round indicates local
	// corruption and panics.
	AddNode(node *dag.CertifiedNode) error

	// Exists returns whether a node with the given metadata is present.
	Exists(metadata dag.NodeMetadata) bool

	// GetNode returns the certified node with the given digest, if present.
	GetNode(digest dag.Identifier) (*dag.CertifiedNode, bool)

	// AllExist checks the presence of all given parents, returning the
	// digests of those missing.
	AllExist(parents []dag.NodeMetadata) (missing dag.IdentifierList, ok bool)

	// HighestStrongLinksRound returns the highest round r at which a subset
	// of authors with combined voting power >= quorum have certified nodes,
	// all of whose proposals cite strong links into round r-1. Returns 0 if
	// no round has reached quorum yet.
	HighestStrongLinksRound() uint64

	// GetStrongLinksForRound returns certificates of a quorum subset of the
	// given round, for citation by a round+1 proposal. Returns nil for round
	// 0 (genesis) and an error if the round has no quorum.
	GetStrongLinksForRound(round uint64) ([]dag.ParentCertificate, error)

	// Reachable starts a traversal of all status-filtered nodes causally
	// reachable from the given roots, down to (and excluding) rounds below
	// lowestRound.
	Reachable(roots []dag.NodeMetadata, lowestRound uint64, filter StatusFilter) Traversal

	// MarkOrdered advances the given entries from Unordered to Ordered.
	// Entries already ordered or committed are left untouched.
	MarkOrdered(digests dag.IdentifierList)

	// CommitCallback prunes all entries with round at or below the given
	// round and returns the number of removed entries. This is the only path
	// by which the store shrinks.
	CommitCallback(round uint64) int

	// LowestRound returns the lowest retained round.
	LowestRound() uint64

	// HighestRound returns the highest round holding any entry.
	HighestRound() uint64
}
