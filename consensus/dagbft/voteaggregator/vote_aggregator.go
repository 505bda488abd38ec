// Package voteaggregator accumulates signed endorsements per digest and
// forms quorum certificates. One collector exists per digest; concurrent
// votes for different digests proceed in parallel, while the collectors map
// itself is only briefly locked for lookup and creation.
package voteaggregator

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dagbft/dagbft/consensus/dagbft"
	"github.com/dagbft/dagbft/consensus/dagbft/model"
	"github.com/dagbft/dagbft/model/dag"
	"github.com/dagbft/dagbft/module"
	"github.com/dagbft/dagbft/module/signature"
)

// collector is the per-digest vote state. Its own mutex serializes the vote
// processing flow for one digest.
type collector struct {
	mu          sync.Mutex
	round       uint64
	agg         signature.WeightedSignatureAggregator
	certificate *dag.AggregatedSignature
}

// VoteAggregator implements dagbft.VoteAggregator.
type VoteAggregator struct {
	log        zerolog.Logger
	metrics    module.ConsensusMetrics
	validators *dag.ValidatorSet
	quorum     uint64

	mu         sync.RWMutex
	collectors map[dag.Identifier]*collector
}

var _ dagbft.VoteAggregator = (*VoteAggregator)(nil)

func New(log zerolog.Logger, metrics module.ConsensusMetrics, validators *dag.ValidatorSet) *VoteAggregator {
	return &VoteAggregator{
		log:        log.With().Str("component", "vote_aggregator").Logger(),
		metrics:    metrics,
		validators: validators,
		quorum:     validators.QuorumThreshold(),
		collectors: make(map[dag.Identifier]*collector),
	}
}

// getOrCreateCollector returns the collector for the digest, creating it on
// first use. Vote signatures are over the digest itself, so the collector
// needs no knowledge of the voted object.
func (va *VoteAggregator) getOrCreateCollector(digest dag.Identifier, round uint64) (*collector, error) {
	va.mu.RLock()
	c, ok := va.collectors[digest]
	va.mu.RUnlock()
	if ok {
		return c, nil
	}

	va.mu.Lock()
	defer va.mu.Unlock()
	if c, ok = va.collectors[digest]; ok {
		return c, nil
	}
	agg, err := signature.NewWeightedAggregator(va.validators, digest[:])
	if err != nil {
		return nil, fmt.Errorf("could not create signature aggregator for digest %v: %w", digest, err)
	}
	c = &collector{round: round, agg: agg}
	va.collectors[digest] = c
	return c, nil
}

func (va *VoteAggregator) ProcessVote(vote *dag.Vote) (*dagbft.VoteResult, error) {
	c, err := va.getOrCreateCollector(vote.Digest, vote.Round)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// late and duplicate votes for an already-certified digest return the
	// cached certificate without re-verification
	if c.certificate != nil {
		return &dagbft.VoteResult{Certificate: c.certificate, AccumulatedWeight: c.agg.TotalWeight()}, nil
	}

	err = c.agg.Verify(vote.Author, vote.Signature)
	if err != nil {
		if model.IsInvalidSignerError(err) {
			return nil, fmt.Errorf("vote for %v from unknown author: %w", vote.Digest, err)
		}
		return nil, model.NewInvalidSignatureIncludedErrorf("invalid vote signature from %v for %v: %s", vote.Author, vote.Digest, err)
	}

	weight, err := c.agg.TrustedAdd(vote.Author, vote.Signature)
	if err != nil {
		if model.IsDuplicatedSignerError(err) {
			// idempotent re-voting: power is not double-counted
			return &dagbft.VoteResult{AccumulatedWeight: weight}, nil
		}
		return nil, fmt.Errorf("could not add vote from %v for %v: %w", vote.Author, vote.Digest, err)
	}
	va.metrics.VoteProcessed()

	if weight < va.quorum {
		// a normal intermediate state, not an error condition
		return &dagbft.VoteResult{AccumulatedWeight: weight}, nil
	}

	signers, aggSig, err := c.agg.Aggregate()
	if err != nil {
		if model.IsInsufficientSignaturesError(err) {
			return &dagbft.VoteResult{AccumulatedWeight: weight}, nil
		}
		// any other aggregation failure drops the vote on this path
		return nil, fmt.Errorf("could not aggregate votes for %v: %w", vote.Digest, err)
	}
	indices, err := dag.EncodeSignersToIndices(va.validators, signers)
	if err != nil {
		return nil, fmt.Errorf("could not encode signer indices for %v: %w", vote.Digest, err)
	}
	c.certificate = &dag.AggregatedSignature{
		SignerIndices: indices,
		Signature:     aggSig,
	}
	va.log.Debug().
		Str("digest", vote.Digest.String()).
		Uint64("round", vote.Round).
		Uint64("weight", weight).
		Msg("quorum certificate formed")
	return &dagbft.VoteResult{Certificate: c.certificate, AccumulatedWeight: weight}, nil
}

func (va *VoteAggregator) GetCertificate(digest dag.Identifier) (*dag.AggregatedSignature, bool) {
	va.mu.RLock()
	c, ok := va.collectors[digest]
	va.mu.RUnlock()
	if !ok {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.certificate == nil {
		return nil, false
	}
	return c.certificate, true
}

func (va *VoteAggregator) HasEnoughOrderVotes(ledgerInfo *dag.LedgerInfo) bool {
	_, ok := va.GetCertificate(ledgerInfo.Digest())
	return ok
}

func (va *VoteAggregator) PruneUpToRound(round uint64) {
	va.mu.Lock()
	defer va.mu.Unlock()
	for digest, c := range va.collectors {
		if c.round <= round {
			delete(va.collectors, digest)
		}
	}
}
