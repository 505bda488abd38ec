// Package dagstore implements the in-memory arena of certified nodes keyed
// by (round, author). Nodes reference their parents by digest only, so the
// structure is acyclic by construction: parents are always strictly
// lower-round.
package dagstore

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dagbft/dagbft/consensus/dagbft"
	"github.com/dagbft/dagbft/consensus/dagbft/model"
	"github.com/dagbft/dagbft/model/dag"
	"github.com/dagbft/dagbft/module"
)

type entry struct {
	node   *dag.CertifiedNode
	status dagbft.NodeStatus
}

// Store implements dagbft.Store. A single RWMutex guards all state: reads
// (round checks, reachability steps) vastly outnumber writes (insertion,
// pruning), and writers never hold the lock across a suspending operation.
type Store struct {
	mu      sync.RWMutex
	log     zerolog.Logger
	metrics module.ConsensusMetrics

	validators *dag.ValidatorSet
	quorum     uint64

	rounds   map[uint64]map[dag.Identifier]*entry // round -> author -> entry
	byDigest map[dag.Identifier]*entry

	// lowestRound is the lowest retained round; entries below are pruned
	lowestRound  uint64
	highestRound uint64
	// highestStrong caches the highest round whose authors reach quorum
	highestStrong uint64
	// roundWeight accumulates the voting power present per round
	roundWeight map[uint64]uint64
}

var _ dagbft.Store = (*Store)(nil)

// NewStore creates a DAG store retaining rounds starting at lowestRound and
// replays the given certified nodes (e.g. recovered from persistent storage).
// Replayed nodes that are stale or still missing parents are skipped.
func NewStore(
	log zerolog.Logger,
	metrics module.ConsensusMetrics,
	validators *dag.ValidatorSet,
	initialNodes []*dag.CertifiedNode,
	lowestRound uint64,
) *Store {
	if lowestRound == 0 {
		lowestRound = 1
	}
	s := &Store{
		log:         log.With().Str("component", "dag_store").Logger(),
		metrics:     metrics,
		validators:  validators,
		quorum:      validators.QuorumThreshold(),
		rounds:      make(map[uint64]map[dag.Identifier]*entry),
		byDigest:    make(map[dag.Identifier]*entry),
		lowestRound: lowestRound,
		roundWeight: make(map[uint64]uint64),
	}
	for _, node := range initialNodes {
		err := s.AddNode(node)
		if err != nil {
			s.log.Warn().Err(err).
				Uint64("round", node.Round).
				Str("author", node.Author.String()).
				Msg("skipping recovered node")
		}
	}
	return s
}

func (s *Store) AddNode(node *dag.CertifiedNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	round := node.Round
	if round < s.lowestRound {
		return model.NewStaleNodeErrorf(round, s.lowestRound)
	}

	// acyclicity invariant: a parent at the node's own or a higher round can
	// only reach this point through a local bug, never through validation
	for _, parent := range node.Parents {
		if parent.Metadata.Round >= round {
			panic(fmt.Sprintf("acyclicity violated: node %v at round %d cites parent %v at round %d",
				node.Digest(), round, parent.Metadata.Digest, parent.Metadata.Round))
		}
	}

	authors, ok := s.rounds[round]
	if !ok {
		authors = make(map[dag.Identifier]*entry)
		s.rounds[round] = authors
	}
	if existing, ok := authors[node.Author]; ok {
		if existing.node.Digest() == node.Digest() {
			return nil // idempotent re-insertion
		}
		return model.ByzantineThresholdExceededError{Evidence: fmt.Sprintf(
			"conflicting certified nodes by author %v at round %d: %v and %v",
			node.Author, round, existing.node.Digest(), node.Digest(),
		)}
	}

	// a node above the genesis round must cite a quorum of present parents
	if round > s.lowestRound {
		missing := s.missingParents(node.Parents)
		if len(missing) > 0 {
			return model.NewMissingParentsError(node.Metadata(), missing)
		}
	}
	if round > 1 {
		parentWeight := s.validators.WeightOf(node.ParentAuthors())
		if parentWeight < s.quorum {
			return fmt.Errorf("node %v at round %d cites parents with weight %d below quorum %d",
				node.Digest(), round, parentWeight, s.quorum)
		}
	}

	e := &entry{node: node, status: dagbft.NodeUnordered}
	authors[node.Author] = e
	s.byDigest[node.Digest()] = e

	if v, ok := s.validators.ByNodeID(node.Author); ok {
		s.roundWeight[round] += v.Weight
		if s.roundWeight[round] >= s.quorum && round > s.highestStrong {
			s.highestStrong = round
		}
	}
	if round > s.highestRound {
		s.highestRound = round
	}
	return nil
}

// missingParents must be called with the lock held. Parents below the
// retained window are treated as present: their history is already committed.
func (s *Store) missingParents(parents []dag.ParentCertificate) dag.IdentifierList {
	var missing dag.IdentifierList
	for _, parent := range parents {
		if parent.Metadata.Round < s.lowestRound {
			continue
		}
		if _, ok := s.byDigest[parent.Metadata.Digest]; !ok {
			missing = append(missing, parent.Metadata.Digest)
		}
	}
	return missing
}

func (s *Store) Exists(metadata dag.NodeMetadata) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byDigest[metadata.Digest]
	return ok
}

func (s *Store) GetNode(digest dag.Identifier) (*dag.CertifiedNode, bool) {
	node, _, ok := s.lookup(digest)
	return node, ok
}

func (s *Store) AllExist(parents []dag.NodeMetadata) (dag.IdentifierList, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var missing dag.IdentifierList
	for _, parent := range parents {
		if parent.Round < s.lowestRound {
			continue
		}
		if _, ok := s.byDigest[parent.Digest]; !ok {
			missing = append(missing, parent.Digest)
		}
	}
	return missing, len(missing) == 0
}

func (s *Store) HighestStrongLinksRound() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.highestStrong
}

func (s *Store) GetStrongLinksForRound(round uint64) ([]dag.ParentCertificate, error) {
	if round == 0 {
		return nil, nil // genesis has no parents
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	authors := s.rounds[round]
	links := make([]dag.ParentCertificate, 0, len(authors))
	weight := uint64(0)
	// iterate in canonical validator order for a deterministic parent set
	for _, v := range s.validators.All() {
		e, ok := authors[v.NodeID]
		if !ok {
			continue
		}
		links = append(links, e.node.Certificate())
		weight += v.Weight
		if weight >= s.quorum {
			return links, nil
		}
	}
	return nil, fmt.Errorf("round %d has weight %d below quorum %d", round, weight, s.quorum)
}

func (s *Store) MarkOrdered(digests dag.IdentifierList) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, digest := range digests {
		e, ok := s.byDigest[digest]
		if !ok {
			continue // pruned concurrently, tolerated
		}
		if e.status == dagbft.NodeUnordered {
			e.status = dagbft.NodeOrdered
		}
	}
}

func (s *Store) CommitCallback(round uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if round < s.lowestRound {
		return 0
	}
	removed := 0
	for r := s.lowestRound; r <= round; r++ {
		for _, e := range s.rounds[r] {
			delete(s.byDigest, e.node.Digest())
			removed++
		}
		delete(s.rounds, r)
		delete(s.roundWeight, r)
	}
	s.lowestRound = round + 1
	if s.metrics != nil {
		s.metrics.EntriesPruned(removed)
	}
	s.log.Debug().
		Uint64("pruned_up_to_round", round).
		Int("removed", removed).
		Msg("DAG store pruned")
	return removed
}

func (s *Store) LowestRound() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lowestRound
}

func (s *Store) HighestRound() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.highestRound
}
