// Package storage defines the persistence interfaces consumed by the DAG
// consensus core, together with the error sentinels all implementations must
// use. The core depends only on these interfaces; the production
// implementation lives in storage/badger, tests use storage/inmem.
package storage

import (
	"github.com/dagbft/dagbft/model/dag"
)

// ConsensusStore persists the consensus state needed for crash-consistent
// recovery: the pending (not yet certified) own proposal, collected votes,
// certified nodes, the epoch's validator sets, the commit history, and the
// latest commit-proof ledger info.
//
// All methods return generic errors for unexpected storage failures. The
// documented sentinels are the only expected error conditions.
type ConsensusStore interface {
	// SavePendingNode persists the node this validator is proposing for the
	// current round, before it is broadcast. Overwrites a previous pending
	// node, so a restart resumes the same round with the same payload.
	SavePendingNode(node *dag.Node) error

	// GetPendingNode returns the persisted pending node.
	// Returns ErrNotFound if no pending node is stored.
	GetPendingNode() (*dag.Node, error)

	// DeletePendingNode removes the pending node. No-op if none is stored.
	DeletePendingNode() error

	// SaveVote persists a signed vote this validator has cast or collected.
	SaveVote(vote *dag.Vote) error

	// GetVotes returns all persisted votes, in ascending round order.
	GetVotes() ([]*dag.Vote, error)

	// DeleteVotes removes all persisted votes with round at or below the
	// given round.
	DeleteVotes(round uint64) error

	// SaveCertifiedNode persists a certified node.
	// Returns ErrAlreadyExists if the node is already stored.
	SaveCertifiedNode(node *dag.CertifiedNode) error

	// GetCertifiedNodes returns all persisted certified nodes, in ascending
	// round order.
	GetCertifiedNodes() ([]*dag.CertifiedNode, error)

	// DeleteCertifiedNodes removes all persisted certified nodes with round
	// at or below the given round.
	DeleteCertifiedNodes(round uint64) error

	// SaveValidatorSet persists the validator set of the given epoch.
	SaveValidatorSet(epoch uint64, validators []*dag.Validator) error

	// GetValidatorSet returns the validator set of the given epoch.
	// Returns ErrNotFound if the epoch is unknown.
	GetValidatorSet(epoch uint64) ([]*dag.Validator, error)

	// SaveCommitEvent appends one committed anchor to the commit history.
	SaveCommitEvent(event *dag.CommitEvent) error

	// GetLatestCommittedEvents returns up to k most recent commit events, in
	// ascending round order.
	GetLatestCommittedEvents(k uint64) ([]*dag.CommitEvent, error)

	// SaveLedgerInfo replaces the latest commit-proof ledger info.
	SaveLedgerInfo(ledgerInfo *dag.LedgerInfoWithSignatures) error

	// GetLatestLedgerInfo returns the latest commit-proof ledger info.
	// Returns ErrNotFound if no commit has been recorded yet.
	GetLatestLedgerInfo() (*dag.LedgerInfoWithSignatures, error)
}
