package driver

import (
	"context"

	"github.com/gammazero/workerpool"
	"github.com/rs/zerolog"

	"github.com/dagbft/dagbft/consensus/dagbft"
	"github.com/dagbft/dagbft/model/dag"
	"github.com/dagbft/dagbft/network"
)

// Fetcher retrieves missing causal history asynchronously. FetchMissing must
// not block: the fetch proceeds in the background and done is invoked once
// the pending node has become insertable.
type Fetcher interface {
	FetchMissing(ctx context.Context, node *dag.CertifiedNode, missing dag.IdentifierList, done func())
}

// ActivitySource reports the parent author sets of recently committed
// anchors, oldest first. Peers named there have recent history and are the
// best fetch targets.
type ActivitySource interface {
	RecentCommittedAuthors() []dag.IdentifierList
}

// networkFetcher fetches missing parents from peers over the unicast conduit,
// one fetch task at a time per submission, on a bounded worker pool so that
// fetch storms cannot exhaust the process.
type networkFetcher struct {
	log        zerolog.Logger
	conduit    network.Conduit
	validators *dag.ValidatorSet
	quorum     uint64
	store      dagbft.Store
	self       dag.Identifier
	activity   ActivitySource // may be nil
	pool       *workerpool.WorkerPool
}

const fetchWorkers = 4

func NewNetworkFetcher(
	log zerolog.Logger,
	conduit network.Conduit,
	validators *dag.ValidatorSet,
	store dagbft.Store,
	self dag.Identifier,
	activity ActivitySource,
) *networkFetcher {
	return &networkFetcher{
		log:        log.With().Str("component", "node_fetcher").Logger(),
		conduit:    conduit,
		validators: validators,
		quorum:     validators.QuorumThreshold(),
		store:      store,
		self:       self,
		activity:   activity,
		pool:       workerpool.New(fetchWorkers),
	}
}

var _ Fetcher = (*networkFetcher)(nil)

func (f *networkFetcher) FetchMissing(ctx context.Context, node *dag.CertifiedNode, missing dag.IdentifierList, done func()) {
	f.pool.Submit(func() {
		if f.fetch(ctx, node, missing) {
			done()
		}
	})
}

// fetch asks peers for the missing digests and replays the returned history
// into the store, then retries the pending node. Returns whether the node was
// inserted.
func (f *networkFetcher) fetch(ctx context.Context, node *dag.CertifiedNode, missing dag.IdentifierList) bool {
	for _, peer := range f.peerOrder() {
		if ctx.Err() != nil {
			return false
		}
		response, err := f.conduit.Unicast(ctx, peer, &network.NodeRequestMessage{Digests: missing})
		if err != nil {
			continue
		}
		nodes, ok := response.(*network.NodeResponseMessage)
		if !ok {
			continue
		}
		// ascending round order keeps parents ahead of children; a fetched
		// node carries the same trust as a gossiped one and gets the same
		// certificate check
		for _, fetched := range nodes.CertifiedNodes {
			err := verifyNodeCertificate(f.validators, f.quorum, fetched, fetched.Digest())
			if err != nil {
				f.log.Warn().Err(err).
					Uint64("round", fetched.Round).
					Str("peer", peer.String()).
					Msg("discarding fetched node with invalid certificate")
				continue
			}
			err = f.store.AddNode(fetched)
			if err != nil {
				f.log.Debug().Err(err).
					Uint64("round", fetched.Round).
					Msg("could not insert fetched node")
			}
		}
		err = f.store.AddNode(node)
		if err == nil {
			return true
		}
	}
	f.log.Warn().
		Uint64("round", node.Round).
		Str("digest", node.Digest().String()).
		Int("missing", len(missing)).
		Msg("could not recover missing parents from any peer")
	return false
}

// peerOrder returns the fetch targets: authors of recently committed parents
// first, newest commits first, then the remaining validators in canonical
// order. Self is never a target.
func (f *networkFetcher) peerOrder() dag.IdentifierList {
	ordered := make(dag.IdentifierList, 0, f.validators.Count())
	seen := map[dag.Identifier]struct{}{f.self: {}}
	if f.activity != nil {
		sets := f.activity.RecentCommittedAuthors()
		for i := len(sets) - 1; i >= 0; i-- {
			for _, id := range sets[i] {
				if _, ok := seen[id]; ok {
					continue
				}
				if _, ok := f.validators.ByNodeID(id); !ok {
					continue
				}
				seen[id] = struct{}{}
				ordered = append(ordered, id)
			}
		}
	}
	for _, v := range f.validators.All() {
		if _, ok := seen[v.NodeID]; ok {
			continue
		}
		ordered = append(ordered, v.NodeID)
	}
	return ordered
}

// Stop drains the worker pool; pending fetches are allowed to finish.
func (f *networkFetcher) Stop() {
	f.pool.StopWait()
}
