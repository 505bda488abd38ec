// Package orderrule linearizes the DAG: it selects anchors on even rounds
// and, once an anchor is endorsed by enough next-round nodes, converts the
// anchor's not-yet-ordered causal history into a total order handed to the
// ordered notifier.
package orderrule

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dagbft/dagbft/consensus/dagbft"
	"github.com/dagbft/dagbft/model/dag"
	"github.com/dagbft/dagbft/module"
)

// anchorInterval is the spacing of anchor rounds: one anchor per wave of two
// rounds.
const anchorInterval = 2

// OrderRule implements anchor selection and causal linearization. All state
// transitions go through a single mutex: the rule is re-evaluated from the
// driver loop and from fetch-completion callbacks, which may race.
type OrderRule struct {
	log        zerolog.Logger
	metrics    module.ConsensusMetrics
	store      dagbft.Store
	notifier   dagbft.OrderedNotifier
	validators *dag.ValidatorSet

	mu sync.Mutex
	// lastOrderedAnchorRound is the round of the most recently ordered (or
	// skipped) anchor; the next candidate anchor is two rounds above
	lastOrderedAnchorRound uint64
}

func New(
	log zerolog.Logger,
	metrics module.ConsensusMetrics,
	store dagbft.Store,
	notifier dagbft.OrderedNotifier,
	validators *dag.ValidatorSet,
	highestCommittedAnchorRound uint64,
) *OrderRule {
	lastOrdered := highestCommittedAnchorRound
	if lastOrdered%anchorInterval != 0 {
		lastOrdered-- // anchors live on even rounds only
	}
	return &OrderRule{
		log:                    log.With().Str("component", "order_rule").Logger(),
		metrics:                metrics,
		store:                  store,
		notifier:               notifier,
		validators:             validators,
		lastOrderedAnchorRound: lastOrdered,
	}
}

// AnchorAuthor returns the validator designated as the anchor proposer of the
// given (even) round, rotating through the canonical validator order.
func (r *OrderRule) AnchorAuthor(round uint64) dag.Identifier {
	idx := (round / anchorInterval) % uint64(r.validators.Count())
	v, _ := r.validators.ByIndex(uint32(idx))
	return v.NodeID
}

// Process re-evaluates the ordering frontier. Called after every accepted
// certified node and after every completed fetch of missing history.
//
// The verdict for every anchor depends on DAG content only, never on local
// delivery timing: the first endorsed anchor above the frontier settles the
// fate of all anchors below it. Walking backwards from the endorsed anchor,
// an earlier anchor is ordered iff it lies in the causal history of the
// nearest later ordered anchor, and skipped otherwise. An endorsed anchor is
// reachable from every node two or more rounds above it (its endorsers
// intersect any later parent quorum), so replicas agree on each verdict
// regardless of the order in which nodes arrived.
func (r *OrderRule) Process() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		endorsed, endorsedRound := r.nextEndorsedAnchor()
		if endorsed == nil {
			return
		}
		chain := []*dag.CertifiedNode{endorsed}
		ref := endorsed
		for round := endorsedRound - anchorInterval; round > r.lastOrderedAnchorRound; round -= anchorInterval {
			earlier := r.anchorInHistory(ref, round)
			if earlier == nil {
				r.log.Debug().
					Uint64("anchor_round", round).
					Str("anchor_author", r.AnchorAuthor(round).String()).
					Msg("skipping failed anchor")
				continue
			}
			chain = append(chain, earlier)
			ref = earlier
		}
		// oldest first
		for i := len(chain) - 1; i >= 0; i-- {
			r.orderAnchor(chain[i])
		}
		r.lastOrderedAnchorRound = endorsedRound
	}
}

// nextEndorsedAnchor scans the anchor rounds above the ordering frontier and
// returns the lowest one holding an endorsement quorum.
func (r *OrderRule) nextEndorsedAnchor() (*dag.CertifiedNode, uint64) {
	highest := r.store.HighestRound()
	for round := r.lastOrderedAnchorRound + anchorInterval; round < highest; round += anchorInterval {
		anchor, endorsed := r.findEndorsedAnchor(round)
		if anchor != nil && endorsed {
			return anchor, round
		}
	}
	return nil, 0
}

// anchorInHistory returns the anchor node of the given round if it is in the
// causal history of from, nil otherwise.
func (r *OrderRule) anchorInHistory(from *dag.CertifiedNode, anchorRound uint64) *dag.CertifiedNode {
	if anchorRound < r.store.LowestRound() {
		return nil
	}
	author := r.AnchorAuthor(anchorRound)
	walk := r.store.Reachable([]dag.NodeMetadata{from.Metadata()}, anchorRound, dagbft.AnyStatus())
	for node, ok := walk.Next(); ok; node, ok = walk.Next() {
		if node.Round == anchorRound && node.Author == author {
			return node
		}
	}
	return nil
}

// findEndorsedAnchor locates the anchor node of the given round and checks
// whether next-round nodes citing it reach the endorsement threshold (at
// least one honest validator, f+1 voting power).
func (r *OrderRule) findEndorsedAnchor(anchorRound uint64) (*dag.CertifiedNode, bool) {
	if anchorRound < r.store.LowestRound() || anchorRound+1 > r.store.HighestRound() {
		return nil, false
	}
	author := r.AnchorAuthor(anchorRound)

	// the anchor itself and its endorsers are found by walking one round of
	// reachability backwards: collect round anchorRound+1 nodes and check
	// their parent citations
	var anchor *dag.CertifiedNode
	endorsementWeight := uint64(0)
	links, err := r.store.GetStrongLinksForRound(anchorRound + 1)
	if err != nil {
		return nil, false // round anchorRound+1 has no quorum yet
	}
	roots := make([]dag.NodeMetadata, 0, len(links))
	for _, link := range links {
		roots = append(roots, link.Metadata)
	}
	walk := r.store.Reachable(roots, anchorRound, dagbft.AnyStatus())
	for node, ok := walk.Next(); ok; node, ok = walk.Next() {
		if node.Round != anchorRound+1 {
			if node.Round == anchorRound && node.Author == author {
				anchor = node
			}
			continue
		}
		for _, parent := range node.Parents {
			if parent.Metadata.Round == anchorRound && parent.Metadata.Author == author {
				if v, ok := r.validators.ByNodeID(node.Author); ok {
					endorsementWeight += v.Weight
				}
				break
			}
		}
	}
	if anchor == nil {
		return nil, false
	}
	return anchor, endorsementWeight >= r.validators.HonestMajorityThreshold()
}

// orderAnchor linearizes the anchor's not-yet-ordered causal history:
// ascending round, canonical author order within a round, anchor last.
func (r *OrderRule) orderAnchor(anchor *dag.CertifiedNode) {
	anchorMeta := anchor.Metadata()
	walk := r.store.Reachable([]dag.NodeMetadata{anchorMeta}, r.store.LowestRound(), dagbft.UnorderedOnly())

	var history []*dag.CertifiedNode
	for node, ok := walk.Next(); ok; node, ok = walk.Next() {
		history = append(history, node)
	}
	if len(history) == 0 {
		return
	}
	sort.SliceStable(history, func(i, j int) bool {
		if history[i].Round != history[j].Round {
			return history[i].Round < history[j].Round
		}
		vi, _ := r.validators.ByNodeID(history[i].Author)
		vj, _ := r.validators.ByNodeID(history[j].Author)
		return vi.Index < vj.Index
	})
	// the anchor closes its own batch
	for i, node := range history {
		if node.Digest() == anchorMeta.Digest && i != len(history)-1 {
			history = append(history[:i], history[i+1:]...)
			history = append(history, anchor)
			break
		}
	}

	digests := make(dag.IdentifierList, 0, len(history))
	for _, node := range history {
		digests = append(digests, node.Digest())
	}
	r.store.MarkOrdered(digests)
	r.metrics.NodesOrdered(len(history))

	err := r.notifier.SendOrderedNodes(history)
	if err != nil {
		// the downstream execution sink is gone; this anchor's commit
		// notification is lost and requires epoch-level recovery
		r.log.Error().Err(err).
			Uint64("anchor_round", anchor.Round).
			Msg("could not deliver ordered nodes")
	}
}
