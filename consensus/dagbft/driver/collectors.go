package driver

import (
	"fmt"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dagbft/dagbft/model/dag"
	"github.com/dagbft/dagbft/network"
)

// voteCollector feeds certification votes returned by a node broadcast into
// the vote aggregator. Done once the aggregator reports quorum for the
// broadcast node's digest.
type voteCollector struct {
	driver *Driver
	digest dag.Identifier
}

func (c *voteCollector) Add(peer dag.Identifier, response interface{}) (bool, error) {
	vote, ok := response.(*dag.Vote)
	if !ok {
		return false, fmt.Errorf("expected *dag.Vote response, got %T", response)
	}
	if vote.Author != peer {
		return false, fmt.Errorf("vote authored by %v delivered by peer %v", vote.Author, peer)
	}
	if vote.Digest != c.digest {
		return false, fmt.Errorf("vote for digest %v, expected %v", vote.Digest, c.digest)
	}
	err := c.driver.persistent.SaveVote(vote)
	if err != nil {
		return false, fmt.Errorf("could not persist vote: %w", err)
	}
	result, err := c.driver.aggregator.ProcessVote(vote)
	if err != nil {
		return false, fmt.Errorf("could not aggregate vote from %v: %w", peer, err)
	}
	c.driver.metrics.VoteProcessed()
	return result.QuorumReached(), nil
}

// ackCollector counts certified-node acknowledgements by distinct peer weight.
// Done once a quorum of voting power has acknowledged.
type ackCollector struct {
	mu         sync.Mutex
	validators *dag.ValidatorSet
	quorum     uint64
	acked      map[dag.Identifier]struct{}
	weight     uint64
}

func newAckCollector(validators *dag.ValidatorSet) *ackCollector {
	return &ackCollector{
		validators: validators,
		quorum:     validators.QuorumThreshold(),
		acked:      make(map[dag.Identifier]struct{}),
	}
}

func (c *ackCollector) Add(peer dag.Identifier, response interface{}) (bool, error) {
	if _, ok := response.(*network.CertifiedNodeAck); !ok {
		return false, fmt.Errorf("expected *network.CertifiedNodeAck response, got %T", response)
	}
	v, ok := c.validators.ByNodeID(peer)
	if !ok {
		return false, fmt.Errorf("acknowledgement from unknown peer %v", peer)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.acked[peer]; ok {
		return c.weight >= c.quorum, nil
	}
	c.acked[peer] = struct{}{}
	c.weight += v.Weight
	return c.weight >= c.quorum, nil
}

func sortNodesByRound(nodes []*dag.CertifiedNode) {
	slices.SortFunc(nodes, func(a, b *dag.CertifiedNode) int {
		switch {
		case a.Round < b.Round:
			return -1
		case a.Round > b.Round:
			return 1
		default:
			return 0
		}
	})
}
