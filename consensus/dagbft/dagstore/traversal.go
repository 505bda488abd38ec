package dagstore

import (
	"github.com/dagbft/dagbft/consensus/dagbft"
	"github.com/dagbft/dagbft/model/dag"
)

// traversal walks the causal history of a set of roots lazily, one node per
// Next call, down to the store's given lower round bound. Visits are breadth
// first by discovery order; each step takes the store's read lock, so a prune
// racing with the walk simply makes the pruned region unreachable rather than
// yielding stale data.
type traversal struct {
	store       *Store
	queue       []dag.Identifier
	visited     map[dag.Identifier]struct{}
	lowestRound uint64
	filter      dagbft.StatusFilter
}

var _ dagbft.Traversal = (*traversal)(nil)

func (s *Store) Reachable(roots []dag.NodeMetadata, lowestRound uint64, filter dagbft.StatusFilter) dagbft.Traversal {
	t := &traversal{
		store:       s,
		visited:     make(map[dag.Identifier]struct{}),
		lowestRound: lowestRound,
		filter:      filter,
	}
	for _, root := range roots {
		if root.Round < lowestRound {
			continue
		}
		t.enqueue(root.Digest)
	}
	return t
}

func (t *traversal) enqueue(digest dag.Identifier) {
	if _, ok := t.visited[digest]; ok {
		return
	}
	t.visited[digest] = struct{}{}
	t.queue = append(t.queue, digest)
}

func (t *traversal) Next() (*dag.CertifiedNode, bool) {
	for len(t.queue) > 0 {
		digest := t.queue[0]
		t.queue = t.queue[1:]

		node, status, ok := t.store.lookup(digest)
		if !ok {
			continue // pruned since discovery
		}
		for _, parent := range node.Parents {
			if parent.Metadata.Round < t.lowestRound {
				continue
			}
			t.enqueue(parent.Metadata.Digest)
		}
		if t.filter(status) {
			return node, true
		}
	}
	return nil, false
}

// lookup returns the node and status under the read lock.
func (s *Store) lookup(digest dag.Identifier) (*dag.CertifiedNode, dagbft.NodeStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byDigest[digest]
	if !ok {
		return nil, 0, false
	}
	if e.node.Round < s.lowestRound {
		return nil, 0, false
	}
	return e.node, e.status, true
}
