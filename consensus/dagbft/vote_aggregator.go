package dagbft

import (
	"github.com/dagbft/dagbft/model/dag"
)

// VoteResult is the outcome of processing one vote. Certificate is non-nil
// iff quorum voting power has been reached for the vote's digest; before
// that, AccumulatedWeight reports the collected power.
type VoteResult struct {
	Certificate       *dag.AggregatedSignature
	AccumulatedWeight uint64
}

// QuorumReached returns whether the digest collected a certificate.
func (r *VoteResult) QuorumReached() bool {
	return r.Certificate != nil
}

// VoteAggregator accumulates signed endorsements keyed by the digest of the
// voted object and produces a quorum certificate once enough voting power is
// collected. Once formed, the certificate for a digest is cached and
// immutable: later votes for the same digest return the cached certificate
// without re-aggregation. Concurrent votes for different digests must not
// block each other.
type VoteAggregator interface {
	// ProcessVote adds a vote for its digest.
	// Expected errors during normal operations:
	//  - model.InvalidSignerError if the vote's author is not a member of
	//    the validator set
	//  - model.InvalidSignatureIncludedError if aggregation failed for a
	//    reason other than insufficient power; the vote is dropped
	ProcessVote(vote *dag.Vote) (*VoteResult, error)

	// GetCertificate returns the cached certificate for the digest, if any.
	GetCertificate(digest dag.Identifier) (*dag.AggregatedSignature, bool)

	// HasEnoughOrderVotes returns whether the given candidate ledger info has
	// collected a quorum of order votes.
	HasEnoughOrderVotes(ledgerInfo *dag.LedgerInfo) bool

	// PruneUpToRound removes all vote state for digests whose round is at or
	// below the given round.
	PruneUpToRound(round uint64)
}
