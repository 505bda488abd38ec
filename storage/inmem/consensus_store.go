// Package inmem provides a trivial in-memory implementation of the consensus
// persistence interfaces, for tests and ephemeral deployments.
package inmem

import (
	"sort"
	"sync"

	"github.com/dagbft/dagbft/model/dag"
	"github.com/dagbft/dagbft/storage"
)

// ConsensusStore is a map-backed storage.ConsensusStore. Safe for concurrent
// use.
type ConsensusStore struct {
	mu             sync.Mutex
	pendingNode    *dag.Node
	votes          map[dag.Identifier]*dag.Vote
	certifiedNodes map[dag.Identifier]*dag.CertifiedNode
	validatorSets  map[uint64][]*dag.Validator
	commitEvents   []*dag.CommitEvent
	ledgerInfo     *dag.LedgerInfoWithSignatures
}

var _ storage.ConsensusStore = (*ConsensusStore)(nil)

func NewConsensusStore() *ConsensusStore {
	return &ConsensusStore{
		votes:          make(map[dag.Identifier]*dag.Vote),
		certifiedNodes: make(map[dag.Identifier]*dag.CertifiedNode),
		validatorSets:  make(map[uint64][]*dag.Validator),
	}
}

func (s *ConsensusStore) SavePendingNode(node *dag.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingNode = node
	return nil
}

func (s *ConsensusStore) GetPendingNode() (*dag.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingNode == nil {
		return nil, storage.ErrNotFound
	}
	return s.pendingNode, nil
}

func (s *ConsensusStore) DeletePendingNode() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingNode = nil
	return nil
}

func (s *ConsensusStore) SaveVote(vote *dag.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.votes[vote.ID()] = vote
	return nil
}

func (s *ConsensusStore) GetVotes() ([]*dag.Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	votes := make([]*dag.Vote, 0, len(s.votes))
	for _, vote := range s.votes {
		votes = append(votes, vote)
	}
	sort.Slice(votes, func(i, j int) bool { return votes[i].Round < votes[j].Round })
	return votes, nil
}

func (s *ConsensusStore) DeleteVotes(round uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, vote := range s.votes {
		if vote.Round <= round {
			delete(s.votes, id)
		}
	}
	return nil
}

func (s *ConsensusStore) SaveCertifiedNode(node *dag.CertifiedNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	digest := node.Digest()
	if _, ok := s.certifiedNodes[digest]; ok {
		return storage.ErrAlreadyExists
	}
	s.certifiedNodes[digest] = node
	return nil
}

func (s *ConsensusStore) GetCertifiedNodes() ([]*dag.CertifiedNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nodes := make([]*dag.CertifiedNode, 0, len(s.certifiedNodes))
	for _, node := range s.certifiedNodes {
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Round < nodes[j].Round })
	return nodes, nil
}

func (s *ConsensusStore) DeleteCertifiedNodes(round uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for digest, node := range s.certifiedNodes {
		if node.Round <= round {
			delete(s.certifiedNodes, digest)
		}
	}
	return nil
}

func (s *ConsensusStore) SaveValidatorSet(epoch uint64, validators []*dag.Validator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validatorSets[epoch] = validators
	return nil
}

func (s *ConsensusStore) GetValidatorSet(epoch uint64) ([]*dag.Validator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	validators, ok := s.validatorSets[epoch]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return validators, nil
}

func (s *ConsensusStore) SaveCommitEvent(event *dag.CommitEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitEvents = append(s.commitEvents, event)
	return nil
}

func (s *ConsensusStore) GetLatestCommittedEvents(k uint64) ([]*dag.CommitEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := make([]*dag.CommitEvent, len(s.commitEvents))
	copy(events, s.commitEvents)
	sort.Slice(events, func(i, j int) bool { return events[i].Round < events[j].Round })
	if uint64(len(events)) > k {
		events = events[uint64(len(events))-k:]
	}
	return events, nil
}

func (s *ConsensusStore) SaveLedgerInfo(ledgerInfo *dag.LedgerInfoWithSignatures) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledgerInfo = ledgerInfo
	return nil
}

func (s *ConsensusStore) GetLatestLedgerInfo() (*dag.LedgerInfoWithSignatures, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ledgerInfo == nil {
		return nil, storage.ErrNotFound
	}
	return s.ledgerInfo, nil
}
