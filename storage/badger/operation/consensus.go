package operation

import (
	"github.com/dgraph-io/badger/v2"

	"github.com/dagbft/dagbft/model/dag"
)

// UpsertPendingNode stores this validator's in-flight proposal, replacing any
// previous one.
func UpsertPendingNode(node *dag.Node) func(*badger.Txn) error {
	return upsert(makePrefix(codePendingNode), node)
}

// RetrievePendingNode retrieves the in-flight proposal.
// Returns storage.ErrNotFound if none is stored.
func RetrievePendingNode(node *dag.Node) func(*badger.Txn) error {
	return retrieve(makePrefix(codePendingNode), node)
}

// RemovePendingNode removes the in-flight proposal, if any.
func RemovePendingNode() func(*badger.Txn) error {
	return remove(makePrefix(codePendingNode))
}

// UpsertVote stores a vote keyed by round and vote identity.
func UpsertVote(vote *dag.Vote) func(*badger.Txn) error {
	return upsert(makePrefix(codeVote, vote.Round, vote.ID()), vote)
}

// TraverseVotes iterates all stored votes in ascending round order.
func TraverseVotes(handle func(vote *dag.Vote) error) func(*badger.Txn) error {
	return traverse(makePrefix(codeVote),
		func() interface{} { return new(dag.Vote) },
		func(key []byte, entity interface{}) error {
			return handle(entity.(*dag.Vote))
		},
	)
}

// RemoveVotesUpToRound removes all votes with round at or below the bound.
func RemoveVotesUpToRound(round uint64) func(*badger.Txn) error {
	return removeByPrefix(makePrefix(codeVote), func(key []byte) bool {
		return roundFromKey(key) <= round
	})
}

// InsertCertifiedNode stores a certified node keyed by round and digest.
// Returns storage.ErrAlreadyExists if it is already stored.
func InsertCertifiedNode(node *dag.CertifiedNode) func(*badger.Txn) error {
	return insert(makePrefix(codeCertifiedNode, node.Round, node.Digest()), node)
}

// TraverseCertifiedNodes iterates all stored certified nodes in ascending
// round order.
func TraverseCertifiedNodes(handle func(node *dag.CertifiedNode) error) func(*badger.Txn) error {
	return traverse(makePrefix(codeCertifiedNode),
		func() interface{} { return new(dag.CertifiedNode) },
		func(key []byte, entity interface{}) error {
			return handle(entity.(*dag.CertifiedNode))
		},
	)
}

// RemoveCertifiedNodesUpToRound removes all certified nodes with round at or
// below the bound.
func RemoveCertifiedNodesUpToRound(round uint64) func(*badger.Txn) error {
	return removeByPrefix(makePrefix(codeCertifiedNode), func(key []byte) bool {
		return roundFromKey(key) <= round
	})
}

// UpsertValidatorSet stores the validator set of an epoch.
func UpsertValidatorSet(epoch uint64, validators []*dag.Validator) func(*badger.Txn) error {
	return upsert(makePrefix(codeValidatorSet, epoch), validators)
}

// RetrieveValidatorSet retrieves the validator set of an epoch.
// Returns storage.ErrNotFound if the epoch is unknown.
func RetrieveValidatorSet(epoch uint64, validators *[]*dag.Validator) func(*badger.Txn) error {
	return retrieve(makePrefix(codeValidatorSet, epoch), validators)
}

// UpsertCommitEvent appends one committed anchor to the commit history.
func UpsertCommitEvent(event *dag.CommitEvent) func(*badger.Txn) error {
	return upsert(makePrefix(codeCommitEvent, event.Round), event)
}

// TraverseCommitEventsDesc iterates the commit history from the most recent
// event backwards, stopping once handle returns false.
func TraverseCommitEventsDesc(handle func(event *dag.CommitEvent) (bool, error)) func(*badger.Txn) error {
	return traverseReverse(makePrefix(codeCommitEvent),
		func() interface{} { return new(dag.CommitEvent) },
		func(key []byte, entity interface{}) (bool, error) {
			return handle(entity.(*dag.CommitEvent))
		},
	)
}

// UpsertLedgerInfo replaces the latest commit-proof ledger info.
func UpsertLedgerInfo(ledgerInfo *dag.LedgerInfoWithSignatures) func(*badger.Txn) error {
	return upsert(makePrefix(codeLedgerInfo), ledgerInfo)
}

// RetrieveLedgerInfo retrieves the latest commit-proof ledger info.
// Returns storage.ErrNotFound if no commit has been recorded yet.
func RetrieveLedgerInfo(ledgerInfo *dag.LedgerInfoWithSignatures) func(*badger.Txn) error {
	return retrieve(makePrefix(codeLedgerInfo), ledgerInfo)
}
