// Package badger implements the consensus persistence interfaces on top of a
// badger key-value database. Values are msgpack-encoded and snappy-compressed.
package badger

import (
	"fmt"

	"github.com/dgraph-io/badger/v2"
	"github.com/hashicorp/go-multierror"

	"github.com/dagbft/dagbft/model/dag"
	"github.com/dagbft/dagbft/storage"
	"github.com/dagbft/dagbft/storage/badger/operation"
)

// ConsensusStore is the badger-backed implementation of
// storage.ConsensusStore.
type ConsensusStore struct {
	db *badger.DB
}

var _ storage.ConsensusStore = (*ConsensusStore)(nil)

func NewConsensusStore(db *badger.DB) *ConsensusStore {
	return &ConsensusStore{db: db}
}

func (s *ConsensusStore) SavePendingNode(node *dag.Node) error {
	return s.db.Update(operation.UpsertPendingNode(node))
}

func (s *ConsensusStore) GetPendingNode() (*dag.Node, error) {
	var node dag.Node
	err := s.db.View(operation.RetrievePendingNode(&node))
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *ConsensusStore) DeletePendingNode() error {
	return s.db.Update(operation.RemovePendingNode())
}

func (s *ConsensusStore) SaveVote(vote *dag.Vote) error {
	return s.db.Update(operation.UpsertVote(vote))
}

func (s *ConsensusStore) GetVotes() ([]*dag.Vote, error) {
	var votes []*dag.Vote
	err := s.db.View(operation.TraverseVotes(func(vote *dag.Vote) error {
		votes = append(votes, vote)
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("could not load votes: %w", err)
	}
	return votes, nil
}

func (s *ConsensusStore) DeleteVotes(round uint64) error {
	return s.db.Update(operation.RemoveVotesUpToRound(round))
}

func (s *ConsensusStore) SaveCertifiedNode(node *dag.CertifiedNode) error {
	return s.db.Update(operation.InsertCertifiedNode(node))
}

func (s *ConsensusStore) GetCertifiedNodes() ([]*dag.CertifiedNode, error) {
	var nodes []*dag.CertifiedNode
	err := s.db.View(operation.TraverseCertifiedNodes(func(node *dag.CertifiedNode) error {
		nodes = append(nodes, node)
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("could not load certified nodes: %w", err)
	}
	return nodes, nil
}

func (s *ConsensusStore) DeleteCertifiedNodes(round uint64) error {
	return s.db.Update(operation.RemoveCertifiedNodesUpToRound(round))
}

func (s *ConsensusStore) SaveValidatorSet(epoch uint64, validators []*dag.Validator) error {
	return s.db.Update(operation.UpsertValidatorSet(epoch, validators))
}

func (s *ConsensusStore) GetValidatorSet(epoch uint64) ([]*dag.Validator, error) {
	var validators []*dag.Validator
	err := s.db.View(operation.RetrieveValidatorSet(epoch, &validators))
	if err != nil {
		return nil, err
	}
	return validators, nil
}

func (s *ConsensusStore) SaveCommitEvent(event *dag.CommitEvent) error {
	return s.db.Update(operation.UpsertCommitEvent(event))
}

func (s *ConsensusStore) GetLatestCommittedEvents(k uint64) ([]*dag.CommitEvent, error) {
	var events []*dag.CommitEvent
	err := s.db.View(operation.TraverseCommitEventsDesc(func(event *dag.CommitEvent) (bool, error) {
		events = append(events, event)
		return uint64(len(events)) < k, nil
	}))
	if err != nil {
		return nil, fmt.Errorf("could not load commit events: %w", err)
	}
	// reverse into ascending round order
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

func (s *ConsensusStore) SaveLedgerInfo(ledgerInfo *dag.LedgerInfoWithSignatures) error {
	return s.db.Update(operation.UpsertLedgerInfo(ledgerInfo))
}

func (s *ConsensusStore) GetLatestLedgerInfo() (*dag.LedgerInfoWithSignatures, error) {
	var ledgerInfo dag.LedgerInfoWithSignatures
	err := s.db.View(operation.RetrieveLedgerInfo(&ledgerInfo))
	if err != nil {
		return nil, err
	}
	return &ledgerInfo, nil
}

// PruneUpToRound removes all round-keyed consensus state (votes and certified
// nodes) at or below the given round, joining partial failures.
func (s *ConsensusStore) PruneUpToRound(round uint64) error {
	var result *multierror.Error
	if err := s.DeleteVotes(round); err != nil {
		result = multierror.Append(result, fmt.Errorf("could not prune votes: %w", err))
	}
	if err := s.DeleteCertifiedNodes(round); err != nil {
		result = multierror.Append(result, fmt.Errorf("could not prune certified nodes: %w", err))
	}
	return result.ErrorOrNil()
}
